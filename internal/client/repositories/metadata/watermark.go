package metadata

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/maintkeeper/internal/dbx"
)

// WatermarkKey holds the server timestamp of the last fully applied pull.
const WatermarkKey = "last_sync_timestamp"

// Watermark persists the pull watermark in the metadata table. It never
// moves backwards.
type Watermark struct {
	repo Repository
}

func NewWatermark(repo Repository) *Watermark {
	return &Watermark{repo: repo}
}

// Load returns the stored watermark, or nil if no pull has completed yet.
func (w *Watermark) Load(ctx context.Context) (*time.Time, error) {
	raw, err := w.repo.Get(ctx, WatermarkKey)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return nil, fmt.Errorf("corrupt %s %q: %w: %w", WatermarkKey, raw, dbx.ErrLocalStorage, err)
	}
	return &t, nil
}

// Advance stores t if it is later than the current watermark and reports
// whether a write happened.
func (w *Watermark) Advance(ctx context.Context, t time.Time) (bool, error) {
	current, err := w.Load(ctx)
	if err != nil {
		return false, err
	}
	if current != nil && !t.After(*current) {
		return false, nil
	}

	if err := w.repo.Set(ctx, WatermarkKey, []byte(t.UTC().Format(time.RFC3339Nano))); err != nil {
		return false, err
	}
	return true, nil
}
