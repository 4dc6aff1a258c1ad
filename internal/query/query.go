// Package query serves read requests against the sync store.
package query

import (
	"context"
	"fmt"
	"log/slog"

	"csync/internal/storage"
	"csync/pkg/types"
)

// RevisionSource reports the store-wide revision counter.
type RevisionSource interface {
	Revision() uint64
}

// Service is the read-only facade over the history index and blob
// store. It performs no mutation beyond last-used bookkeeping when
// LRU eviction is enabled.
type Service struct {
	blobs storage.BlobStore
	index storage.HistoryIndex
	rev   RevisionSource
	lru   bool
}

// New returns a query service. trackUse enables last-used updates on
// blob fetches, feeding the LRU eviction policy.
func New(blobs storage.BlobStore, index storage.HistoryIndex, rev RevisionSource, trackUse bool) *Service {
	return &Service{blobs: blobs, index: index, rev: rev, lru: trackUse}
}

// ListMetadata returns the listing document consumed by external
// readers, newest-first.
func (s *Service) ListMetadata(ctx context.Context) (*types.MetadataList, error) {
	entries, err := s.index.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	items := make([]types.Metadata, len(entries))
	for i, e := range entries {
		items[i] = storage.ToMetadata(e)
	}
	return &types.MetadataList{Items: items}, nil
}

// FetchBlob resolves an entry ID to its payload. A missing entry and
// a missing blob both surface as storage.ErrNotFound.
func (s *Service) FetchBlob(ctx context.Context, id string) (*types.Blob, error) {
	entry, err := s.index.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	blob, err := s.blobs.Get(ctx, entry.Ref)
	if err != nil {
		return nil, err
	}

	if s.lru {
		if err := s.index.Touch(ctx, id); err != nil {
			slog.Debug("failed to update last-used time", "id", id, "error", err)
		}
	}

	return blob, nil
}

// State returns the revision counter and live object counts.
func (s *Service) State(ctx context.Context) (*types.State, error) {
	entries, err := s.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}
	blobs, err := s.blobs.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count blobs: %w", err)
	}
	return &types.State{
		Revision: s.rev.Revision(),
		Entries:  entries,
		Blobs:    blobs,
	}, nil
}
