package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/nvimal/courierbill/internal/billing"
	"github.com/nvimal/courierbill/internal/manifest"
	"github.com/nvimal/courierbill/internal/recognition"
)

var (
	// ErrNoSession is returned by operations that need an active session.
	ErrNoSession = errors.New("no active capture session")
	// ErrSessionActive is returned by Start when a session already exists,
	// in memory or persisted.
	ErrSessionActive = errors.New("a capture session is already active")
	// ErrPendingChunks is returned by Close when unprocessed chunks remain
	// and the caller has not confirmed leaving them queued.
	ErrPendingChunks = errors.New("unprocessed chunks remain; confirm to close anyway")
	// ErrProcessing is returned by Close while a chunk is in flight.
	ErrProcessing = errors.New("queue is processing; pause before closing")
)

// SnapshotStore persists the session snapshot. Absence of the snapshot
// means there is no resumable session.
type SnapshotStore interface {
	LoadSessionSnapshot() ([]byte, error)
	SaveSessionSnapshot(data []byte) error
	RemoveSessionSnapshot() error
}

// Committer is the slice of the manifest repository the state machine
// needs to commit recognized chunks.
type Committer interface {
	CreateFolder(name string) (*manifest.Folder, error)
	Save(m *manifest.Manifest) (*manifest.Manifest, error)
	DefaultConfig() (billing.Config, error)
}

// Manager owns the single active capture session and serializes every
// state transition. All transitions write a full session snapshot before
// yielding, so a crash mid-queue leaves the in-flight chunk still pending
// (at-least-once reprocessing, never at-most-once).
type Manager struct {
	mu             sync.Mutex
	store          SnapshotStore
	committer      Committer
	recognizer     recognition.Recognizer
	timeSource     manifest.TimeSource
	session        *Session
	pauseRequested bool
}

// NewManager creates a Manager and resumes any persisted session. A
// snapshot that was mid-processing when the process died comes back with
// its processing flag cleared and the interrupted chunk still queued.
func NewManager(store SnapshotStore, committer Committer, recognizer recognition.Recognizer, timeSource manifest.TimeSource) (*Manager, error) {
	m := &Manager{
		store:      store,
		committer:  committer,
		recognizer: recognizer,
		timeSource: timeSource,
	}

	snapshot, err := store.LoadSessionSnapshot()
	if err != nil {
		return nil, fmt.Errorf("loading session snapshot: %w", err)
	}
	if snapshot != nil {
		var session Session
		if err := json.Unmarshal(snapshot, &session); err != nil {
			return nil, fmt.Errorf("unmarshaling session snapshot: %w", err)
		}
		session.Processing = false
		m.session = &session
		slog.Info("Resumed capture session", "session", session.ID, "pending", len(session.PendingChunks))
	}

	return m, nil
}

// persistLocked writes the full session snapshot. A failed write is
// logged but the in-memory transition stands; callers must not assume
// durability until a later read confirms it.
func (m *Manager) persistLocked() {
	data, err := json.Marshal(m.session)
	if err != nil {
		slog.Error("Failed to marshal session snapshot", "error", err)
		return
	}
	if err := m.store.SaveSessionSnapshot(data); err != nil {
		slog.Error("Failed to persist session snapshot", "session", m.session.ID, "error", err)
	}
}

// Active returns a snapshot of the active session, or nil. Callers poll
// this while the drain goroutine mutates the live session, so the raw
// pointer never escapes the lock.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.snapshot()
}

// Start creates a fresh session with its own owning folder. At most one
// session exists process-wide, counting a persisted-but-hidden one.
func (m *Manager) Start(strategy Strategy) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		return nil, ErrSessionActive
	}
	if snapshot, err := m.store.LoadSessionSnapshot(); err != nil {
		return nil, fmt.Errorf("loading session snapshot: %w", err)
	} else if snapshot != nil {
		return nil, ErrSessionActive
	}

	if strategy == "" {
		strategy = StrategyDefault
	}
	if !strategy.Valid() {
		return nil, fmt.Errorf("unknown strategy: %q", strategy)
	}

	now := m.timeSource.Now()
	folder, err := m.committer.CreateFolder("Capture " + now.Format("02 Jan 2006 15:04"))
	if err != nil {
		return nil, fmt.Errorf("creating session folder: %w", err)
	}

	m.session = &Session{
		ID:            uuid.NewString(),
		FolderID:      folder.ID,
		Strategy:      strategy,
		PendingChunks: []Chunk{},
		CurrentChunk:  []recognition.Page{},
		Status:        "Session started",
		CreatedAt:     now,
	}
	m.pauseRequested = false
	m.persistLocked()
	return m.session.snapshot(), nil
}

// Resume reloads a persisted session that was hidden by Close.
func (m *Manager) Resume() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		return m.session.snapshot(), nil
	}
	snapshot, err := m.store.LoadSessionSnapshot()
	if err != nil {
		return nil, fmt.Errorf("loading session snapshot: %w", err)
	}
	if snapshot == nil {
		return nil, ErrNoSession
	}
	var session Session
	if err := json.Unmarshal(snapshot, &session); err != nil {
		return nil, fmt.Errorf("unmarshaling session snapshot: %w", err)
	}
	session.Processing = false
	m.session = &session
	return m.session.snapshot(), nil
}

// CapturePage appends one page image to the current chunk. The fifth page
// auto-closes the chunk into the pending queue.
func (m *Manager) CapturePage(data []byte, mimeType string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil, ErrNoSession
	}

	m.session.CurrentChunk = append(m.session.CurrentChunk, recognition.Page{Data: data, MimeType: mimeType})
	m.session.CapturedCount++
	m.session.Status = fmt.Sprintf("Captured page %d of current manifest", len(m.session.CurrentChunk))

	if len(m.session.CurrentChunk) >= MaxChunkPages {
		m.closeChunkLocked()
	}

	m.persistLocked()
	return m.session.snapshot(), nil
}

// CloseChunk queues the current chunk. A no-op when the chunk is empty.
func (m *Manager) CloseChunk() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil, ErrNoSession
	}
	if len(m.session.CurrentChunk) > 0 {
		m.closeChunkLocked()
		m.persistLocked()
	}
	return m.session.snapshot(), nil
}

func (m *Manager) closeChunkLocked() {
	chunk := Chunk{ID: uuid.NewString(), Pages: m.session.CurrentChunk}
	m.session.PendingChunks = append(m.session.PendingChunks, chunk)
	m.session.CurrentChunk = []recognition.Page{}
	m.session.Status = fmt.Sprintf("Manifest queued (%d pending)", len(m.session.PendingChunks))
}

// ProcessQueue drains pending chunks strictly in FIFO order, one chunk in
// flight at a time. The loop re-reads the authoritative queue after every
// committed pop, and yields between chunks so a pause request takes effect
// at chunk boundaries, never mid-recognition. A chunk is only popped after
// its manifest is durably committed to the repository; on tier-exhausted
// failure the session pauses with the failed chunk left at the head.
func (m *Manager) ProcessQueue(ctx context.Context) error {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	if m.session.Processing {
		m.mu.Unlock()
		return nil
	}
	if len(m.session.PendingChunks) == 0 {
		m.mu.Unlock()
		return nil
	}
	m.session.Processing = true
	m.session.Paused = false
	m.pauseRequested = false
	m.session.Status = fmt.Sprintf("Processing %d queued manifests", len(m.session.PendingChunks))
	m.persistLocked()
	m.mu.Unlock()

	for {
		m.mu.Lock()
		if m.pauseRequested || ctx.Err() != nil {
			m.session.Processing = false
			m.session.Paused = true
			m.session.Status = fmt.Sprintf("Paused with %d manifests queued", len(m.session.PendingChunks))
			m.persistLocked()
			m.mu.Unlock()
			return nil
		}
		if len(m.session.PendingChunks) == 0 {
			m.session.Processing = false
			m.session.Status = fmt.Sprintf("Processed %d manifests", m.session.ProcessedCount)
			m.persistLocked()
			m.mu.Unlock()
			return nil
		}
		head := m.session.PendingChunks[0]
		strategy := m.session.Strategy
		folderID := m.session.FolderID
		m.mu.Unlock()

		data, err := m.resolveChunk(ctx, head, strategy)
		if err != nil {
			m.failProcessing(head.ID, err)
			return err
		}

		saved, err := m.commitChunk(data, folderID)
		if err != nil {
			m.failProcessing(head.ID, err)
			return err
		}

		m.mu.Lock()
		// Pop only now that the manifest is durably committed; the head is
		// still ours because a session has exactly one processor.
		m.session.PendingChunks = m.session.PendingChunks[1:]
		m.session.ProcessedCount++
		m.session.Status = fmt.Sprintf("Processed manifest %s (%d remaining)", saved.ManifestNo, len(m.session.PendingChunks))
		m.persistLocked()
		m.mu.Unlock()
	}
}

// resolveChunk tries each tier of the strategy in order and returns the
// first success. Errors are opaque: any failure just moves to the next
// tier.
func (m *Manager) resolveChunk(ctx context.Context, chunk Chunk, strategy Strategy) (*recognition.ManifestData, error) {
	var lastErr error
	for _, tier := range strategy.Tiers() {
		data, err := m.recognizer.Recognize(ctx, chunk.Pages, tier)
		if err == nil {
			return data, nil
		}
		slog.Warn("Recognition tier failed", "chunk", chunk.ID, "tier", tier, "error", err)
		lastErr = err
	}
	return nil, fmt.Errorf("all recognition tiers exhausted: %w", lastErr)
}

// commitChunk turns recognized items into a manifest in the session folder,
// priced with the global default configuration.
func (m *Manager) commitChunk(data *recognition.ManifestData, folderID string) (*manifest.Manifest, error) {
	cfg, err := m.committer.DefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading default config: %w", err)
	}

	rows := make([]billing.Row, len(data.Items))
	for i, item := range data.Items {
		serial := item.SerialNo
		if serial == "" {
			serial = fmt.Sprintf("ITEM-%d", i+1)
		}
		description := item.Description
		if description == "" {
			description = "Unknown item"
		}
		rowType := billing.RowType(item.Type)
		if rowType != billing.TypeDocument {
			rowType = billing.TypeParcel
		}
		rows[i] = billing.Row{
			SlNo:        i + 1,
			SerialNo:    serial,
			Description: description,
			Type:        rowType,
			Weight:      item.Weight,
		}
	}

	saved, err := m.committer.Save(&manifest.Manifest{
		ManifestNo:   data.ManifestNo,
		ManifestDate: data.ManifestDate,
		Rows:         rows,
		Config:       cfg,
		FolderID:     folderID,
	})
	if err != nil {
		return nil, fmt.Errorf("committing manifest: %w", err)
	}
	return saved, nil
}

// failProcessing records a per-chunk failure: the session pauses, the queue is
// left untouched with the failed chunk at the head for a future retry.
func (m *Manager) failProcessing(chunkID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.Processing = false
	m.session.Paused = true
	m.session.Status = fmt.Sprintf("Processing failed: %v (%d manifests still queued)", err, len(m.session.PendingChunks))
	m.persistLocked()
	slog.Error("Chunk processing failed", "chunk", chunkID, "error", err)
}

// Pause requests a cooperative stop. It takes effect at the next chunk
// boundary; an in-flight recognition call is never aborted.
func (m *Manager) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return ErrNoSession
	}
	m.pauseRequested = true
	if !m.session.Processing {
		m.session.Paused = true
		m.session.Status = fmt.Sprintf("Paused with %d manifests queued", len(m.session.PendingChunks))
		m.persistLocked()
	}
	return nil
}

// Close ends the active view of the session. With an empty queue and
// nothing in flight the session record is erased; with work still queued
// it requires confirmation and stays durably persisted so it can be
// resumed later.
func (m *Manager) Close(confirmed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return ErrNoSession
	}
	if m.session.Processing {
		return ErrProcessing
	}

	if len(m.session.PendingChunks) == 0 {
		if err := m.store.RemoveSessionSnapshot(); err != nil {
			return fmt.Errorf("removing session snapshot: %w", err)
		}
		m.session = nil
		return nil
	}

	if !confirmed {
		return ErrPendingChunks
	}
	// Queued work remains; hide the session but keep the snapshot.
	m.persistLocked()
	m.session = nil
	return nil
}

// Terminate erases the session record regardless of queued work. The drain
// loop holds a reference to the session across its recognition call, so a
// processing session must be paused first.
func (m *Manager) Terminate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil && m.session.Processing {
		return ErrProcessing
	}
	if err := m.store.RemoveSessionSnapshot(); err != nil {
		return fmt.Errorf("removing session snapshot: %w", err)
	}
	m.session = nil
	return nil
}
