package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"csync/internal/storage"
	"csync/pkg/types"
)

// HistoryIndex is the sqlite-backed ordered index of history entries.
// A single mutex serializes the insert-and-possibly-evict sequence;
// reads go straight to the database, each query being its own snapshot.
type HistoryIndex struct {
	d     *DB
	blobs storage.BlobStore

	mu      sync.Mutex
	nextSeq uint64
}

// NewHistoryIndex returns a history index over the shared database,
// coupled to the blob store that eviction releases references into.
func NewHistoryIndex(d *DB, blobs storage.BlobStore) (*HistoryIndex, error) {
	var maxSeq struct{ Seq uint64 }
	err := d.db.Model(&storage.EntryModel{}).
		Select("COALESCE(MAX(seq), 0) AS seq").
		Scan(&maxSeq).Error
	if err != nil {
		return nil, &storage.StorageError{Op: "open index", Err: err}
	}
	return &HistoryIndex{d: d, blobs: blobs, nextSeq: maxSeq.Seq}, nil
}

// Insert implements storage.HistoryIndex. Insertion and the eviction it
// may trigger commit in one transaction, so a reader never observes
// more than MaxEntries entries.
func (h *HistoryIndex) Insert(ctx context.Context, summary string, typ types.BlobType, ref types.BlobRef, size int64, ts time.Time) (*types.HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	model := &storage.EntryModel{
		ID:        uuid.NewString(),
		Seq:       h.nextSeq + 1,
		Summary:   summary,
		Type:      string(typ),
		BlobHash:  ref.Hash,
		Size:      size,
		CreatedAt: ts,
		LastUsed:  ts,
	}

	var evicted *storage.EntryModel
	err := h.d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&storage.EntryModel{}).Count(&count).Error; err != nil {
			return err
		}
		if count <= int64(h.d.cfg.MaxEntries) {
			return nil
		}

		victim, err := h.victimLocked(tx, model.ID)
		if err != nil {
			return err
		}
		if err := tx.Delete(&storage.EntryModel{}, "id = ?", victim.ID).Error; err != nil {
			return err
		}
		evicted = victim
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrRetentionFull) {
			return nil, err
		}
		return nil, &storage.StorageError{Op: "insert", Err: err}
	}

	h.nextSeq = model.Seq
	h.d.growRev()

	if evicted != nil {
		h.releaseEvicted(ctx, evicted)
	}

	return model.ToEntry(), nil
}

// victimLocked picks the entry to evict: lowest sequence number under
// FIFO, least recently used under LRU, never a pinned entry and never
// the entry just inserted.
func (h *HistoryIndex) victimLocked(tx *gorm.DB, excludeID string) (*storage.EntryModel, error) {
	order := "seq ASC"
	if h.d.cfg.Eviction == storage.PolicyLRU {
		order = "last_used ASC, seq ASC"
	}

	var victim storage.EntryModel
	err := tx.Where("pinned = ? AND id <> ?", false, excludeID).
		Order(order).
		First(&victim).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrRetentionFull
	}
	if err != nil {
		return nil, err
	}
	return &victim, nil
}

// releaseEvicted drops the evicted entry's blob reference. The entry
// row is already gone; a release failure only delays physical cleanup,
// so it is logged rather than surfaced to the inserter.
func (h *HistoryIndex) releaseEvicted(ctx context.Context, evicted *storage.EntryModel) {
	ref := types.BlobRef{Hash: evicted.BlobHash, Type: types.BlobType(evicted.Type)}
	if err := h.blobs.Release(ctx, ref); err != nil {
		slog.Warn("failed to release evicted blob",
			"entry", evicted.ID,
			"hash", evicted.BlobHash,
			"error", err,
		)
	}
}

// List implements storage.HistoryIndex.
func (h *HistoryIndex) List(ctx context.Context) ([]*types.HistoryEntry, error) {
	var models []storage.EntryModel
	err := h.d.db.WithContext(ctx).
		Order("seq DESC").
		Find(&models).Error
	if err != nil {
		return nil, &storage.StorageError{Op: "list", Err: err}
	}

	entries := make([]*types.HistoryEntry, len(models))
	for i := range models {
		entries[i] = models[i].ToEntry()
	}
	return entries, nil
}

// Get implements storage.HistoryIndex.
func (h *HistoryIndex) Get(ctx context.Context, id string) (*types.HistoryEntry, error) {
	var model storage.EntryModel
	err := h.d.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("entry %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, &storage.StorageError{Op: "get", Err: err}
	}
	return model.ToEntry(), nil
}

// Remove implements storage.HistoryIndex.
func (h *HistoryIndex) Remove(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var model storage.EntryModel
	err := h.d.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("entry %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return &storage.StorageError{Op: "remove", Err: err}
	}

	if err := h.d.db.WithContext(ctx).Delete(&storage.EntryModel{}, "id = ?", id).Error; err != nil {
		return &storage.StorageError{Op: "remove", Err: err}
	}

	h.d.growRev()
	h.releaseEvicted(ctx, &model)
	return nil
}

// Pin implements storage.HistoryIndex.
func (h *HistoryIndex) Pin(ctx context.Context, id string, pinned bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	result := h.d.db.WithContext(ctx).Model(&storage.EntryModel{}).
		Where("id = ?", id).
		Update("pinned", pinned)
	if result.Error != nil {
		return &storage.StorageError{Op: "pin", Err: result.Error}
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("entry %s: %w", id, storage.ErrNotFound)
	}

	h.d.growRev()
	return nil
}

// Touch implements storage.HistoryIndex. Only an eviction heuristic,
// so it does not grow the revision.
func (h *HistoryIndex) Touch(ctx context.Context, id string) error {
	result := h.d.db.WithContext(ctx).Model(&storage.EntryModel{}).
		Where("id = ?", id).
		Update("last_used", time.Now())
	if result.Error != nil {
		return &storage.StorageError{Op: "touch", Err: result.Error}
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("entry %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// Count implements storage.HistoryIndex.
func (h *HistoryIndex) Count(ctx context.Context) (int, error) {
	var n int64
	err := h.d.db.WithContext(ctx).Model(&storage.EntryModel{}).Count(&n).Error
	if err != nil {
		return 0, &storage.StorageError{Op: "count", Err: err}
	}
	return int(n), nil
}
