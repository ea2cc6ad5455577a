package recognition

import (
	"context"
	"errors"
	"fmt"
)

// Tiered routes each tier to the backend that serves it: Gemini for the
// fast and accurate tiers, Ollama for the stable fallback. Either backend
// may be nil when not configured; asking for its tier then fails like any
// other recognition error and the caller moves on to the next tier.
type Tiered struct {
	gemini *Gemini
	ollama *Ollama
}

// NewTiered creates a Tiered recognizer over the configured backends.
func NewTiered(gemini *Gemini, ollama *Ollama) (*Tiered, error) {
	if gemini == nil && ollama == nil {
		return nil, errors.New("at least one recognition backend is required")
	}
	return &Tiered{gemini: gemini, ollama: ollama}, nil
}

// Recognize dispatches to the backend serving the tier.
func (t *Tiered) Recognize(ctx context.Context, pages []Page, tier Tier) (*ManifestData, error) {
	switch tier {
	case TierFast, TierAccurate:
		if t.gemini == nil {
			return nil, fmt.Errorf("tier %s is not configured", tier)
		}
		return t.gemini.Recognize(ctx, pages, tier)
	case TierStable:
		if t.ollama == nil {
			return nil, fmt.Errorf("tier %s is not configured", tier)
		}
		return t.ollama.Recognize(ctx, pages, tier)
	default:
		return nil, fmt.Errorf("unknown tier: %q", tier)
	}
}

// Close closes all configured backends.
func (t *Tiered) Close() error {
	var firstErr error
	if t.gemini != nil {
		if err := t.gemini.Close(); err != nil {
			firstErr = err
		}
	}
	if t.ollama != nil {
		if err := t.ollama.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
