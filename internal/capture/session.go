package capture

import (
	"time"

	"github.com/nvimal/courierbill/internal/recognition"
)

// MaxChunkPages is the hard cap on images in one manifest-sized chunk.
// Reaching it auto-closes the chunk; a sixth page is never accepted into
// the same chunk.
const MaxChunkPages = 5

// Strategy selects the ordered recognition tiers tried for each chunk.
type Strategy string

const (
	// StrategyDefault tries the fast tier, then the stable fallback.
	StrategyDefault Strategy = "default"
	// StrategyHybrid tries accurate, then fast, then the stable fallback.
	StrategyHybrid Strategy = "hybrid"
	// StrategyAuto tries the fast tier alone, then retries the whole chunk
	// once through the hybrid chain.
	StrategyAuto Strategy = "auto"
)

// Tiers flattens a strategy into the exact tier sequence tried for one
// chunk, in order.
func (s Strategy) Tiers() []recognition.Tier {
	switch s {
	case StrategyHybrid:
		return []recognition.Tier{recognition.TierAccurate, recognition.TierFast, recognition.TierStable}
	case StrategyAuto:
		return []recognition.Tier{recognition.TierFast, recognition.TierAccurate, recognition.TierFast, recognition.TierStable}
	default:
		return []recognition.Tier{recognition.TierFast, recognition.TierStable}
	}
}

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategyDefault || s == StrategyHybrid || s == StrategyAuto
}

// Chunk is one queued group of captured pages representing a single
// not-yet-recognized manifest.
type Chunk struct {
	ID    string             `json:"id"`
	Pages []recognition.Page `json:"pages"`
}

// Session is the single active batch-capture run. It is persisted in full
// after every state transition so an interrupted run can be resumed.
// Values handed out by the Manager are snapshots; the live session never
// leaves the Manager's lock.
type Session struct {
	ID             string             `json:"id"`
	FolderID       string             `json:"folderId"`
	Strategy       Strategy           `json:"strategy"`
	PendingChunks  []Chunk            `json:"pendingChunks"`
	CurrentChunk   []recognition.Page `json:"currentChunk"`
	CapturedCount  int                `json:"capturedCount"`
	ProcessedCount int                `json:"processedCount"`
	Processing     bool               `json:"isProcessing"`
	Paused         bool               `json:"isPaused"`
	Status         string             `json:"status"`
	CreatedAt      time.Time          `json:"createdAt"`
}

// snapshot returns a copy safe to read outside the Manager's lock. The
// slice headers are copied; page bytes are immutable once captured.
func (s *Session) snapshot() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.PendingChunks = append([]Chunk(nil), s.PendingChunks...)
	out.CurrentChunk = append([]recognition.Page(nil), s.CurrentChunk...)
	return &out
}
