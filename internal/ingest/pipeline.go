// Package ingest normalizes clipboard-change events into blobs plus
// history entries and commits them into the store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"csync/internal/storage"
	"csync/pkg/types"
)

// ErrInvalidEvent marks a malformed ingest event. Such events are
// rejected and reported to the caller, never retried.
var ErrInvalidEvent = errors.New("invalid ingest event")

// Config holds pipeline configuration.
type Config struct {
	SummaryWidth int // display cells for text summaries, DefaultSummaryWidth if 0
}

// Pipeline commits events into the blob store and history index.
// The blob is stored first; if the index insert fails the blob
// reference is released again so nothing leaks.
type Pipeline struct {
	blobs storage.BlobStore
	index storage.HistoryIndex
	cfg   Config
}

// New returns a pipeline over the given stores.
func New(blobs storage.BlobStore, index storage.HistoryIndex, cfg Config) *Pipeline {
	if cfg.SummaryWidth <= 0 {
		cfg.SummaryWidth = DefaultSummaryWidth
	}
	return &Pipeline{blobs: blobs, index: index, cfg: cfg}
}

// Ingest validates and commits one event, returning the new entry.
func (p *Pipeline) Ingest(ctx context.Context, ev types.Event) (*types.HistoryEntry, error) {
	if err := validate(ev); err != nil {
		return nil, err
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	summary := Summarize(ev, p.cfg.SummaryWidth)

	ref, err := p.blobs.Put(ctx, ev.Payload, ev.Type, ev.FileName, ev.FileMode)
	if err != nil {
		return nil, fmt.Errorf("failed to store payload: %w", err)
	}

	entry, err := p.index.Insert(ctx, summary, ev.Type, ref, int64(len(ev.Payload)), ts)
	if err != nil {
		// Undo the put so the blob's count returns to its pre-ingest
		// value. A failed release only delays the sweep.
		if relErr := p.blobs.Release(ctx, ref); relErr != nil {
			slog.Warn("failed to release blob after aborted insert",
				"hash", ref.Hash,
				"error", relErr,
			)
		}
		return nil, fmt.Errorf("failed to index entry: %w", err)
	}

	return entry, nil
}

func validate(ev types.Event) error {
	if len(ev.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidEvent)
	}
	if _, err := types.ParseBlobType(string(ev.Type)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if ev.Type == types.BlobFile && ev.FileName == "" {
		return fmt.Errorf("%w: file event without a file name", ErrInvalidEvent)
	}
	return nil
}
