package sqlite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gorm.io/gorm"

	"csync/internal/storage"
	"csync/pkg/types"
)

// shardCount is the number of hash-keyed locks. Puts and releases on
// different hashes land on different shards and never contend.
const shardCount = 64

// BlobStore is the sqlite-backed content-addressed payload store.
type BlobStore struct {
	d      *DB
	shards [shardCount]sync.Mutex
}

// NewBlobStore returns a blob store over the shared database.
func NewBlobStore(d *DB) *BlobStore {
	return &BlobStore{d: d}
}

// calculateHash generates the SHA-256 content hash used for dedup.
func calculateHash(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

func (s *BlobStore) shard(hash string) *sync.Mutex {
	if len(hash) == 0 {
		return &s.shards[0]
	}
	return &s.shards[hash[0]%shardCount]
}

// Put implements storage.BlobStore.
func (s *BlobStore) Put(ctx context.Context, data []byte, typ types.BlobType, fileName string, fileMode uint32) (types.BlobRef, error) {
	size := int64(len(data))
	if size > storage.MaxStorageSize {
		return types.BlobRef{}, storage.ErrTooLarge
	}

	hash := calculateHash(data)
	ref := types.BlobRef{Hash: hash, Type: typ}

	mu := s.shard(hash)
	mu.Lock()
	defer mu.Unlock()

	var existing storage.BlobModel
	err := s.d.db.WithContext(ctx).
		Where("hash = ? AND type = ?", hash, string(typ)).
		First(&existing).Error
	if err == nil {
		// Dedup hit: revive the row if it was pending recycle.
		err = s.d.db.WithContext(ctx).Model(&existing).
			Updates(map[string]any{
				"ref_count":  existing.RefCount + 1,
				"recycle_at": 0,
			}).Error
		if err != nil {
			return types.BlobRef{}, &storage.StorageError{Op: "put", Err: err}
		}
		s.d.growRev()
		return ref, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return types.BlobRef{}, &storage.StorageError{Op: "put", Err: err}
	}

	model := &storage.BlobModel{
		Hash:     hash,
		Type:     string(typ),
		Size:     size,
		RefCount: 1,
		FileName: fileName,
		FileMode: fileMode,
	}

	if size > storage.MaxInlineStorageSize {
		path := filepath.Join(s.d.fsPath, hash)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return types.BlobRef{}, &storage.StorageError{Op: "put", Err: err}
		}
		model.StoragePath = hash
		model.IsExternal = true
	} else {
		model.Data = data
	}

	if err := s.d.db.WithContext(ctx).Create(model).Error; err != nil {
		if model.IsExternal {
			os.Remove(filepath.Join(s.d.fsPath, hash))
		}
		return types.BlobRef{}, &storage.StorageError{Op: "put", Err: err}
	}

	s.d.growRev()
	return ref, nil
}

// Get implements storage.BlobStore.
func (s *BlobStore) Get(ctx context.Context, ref types.BlobRef) (*types.Blob, error) {
	var model storage.BlobModel
	err := s.d.db.WithContext(ctx).
		Where("hash = ? AND type = ?", ref.Hash, string(ref.Type)).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("blob %s: %w", ref.Hash, storage.ErrNotFound)
	}
	if err != nil {
		return nil, &storage.StorageError{Op: "get", Err: err}
	}

	if model.IsExternal {
		content, err := os.ReadFile(filepath.Join(s.d.fsPath, model.StoragePath))
		if err != nil {
			return nil, &storage.StorageError{Op: "get", Err: err}
		}
		model.Data = content
	}

	return model.ToBlob(), nil
}

// Release implements storage.BlobStore.
func (s *BlobStore) Release(ctx context.Context, ref types.BlobRef) error {
	mu := s.shard(ref.Hash)
	mu.Lock()
	defer mu.Unlock()

	var model storage.BlobModel
	err := s.d.db.WithContext(ctx).
		Where("hash = ? AND type = ?", ref.Hash, string(ref.Type)).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("blob %s: %w", ref.Hash, storage.ErrNotFound)
	}
	if err != nil {
		return &storage.StorageError{Op: "release", Err: err}
	}

	count := model.RefCount - 1
	updates := map[string]any{"ref_count": count}
	if count <= 0 {
		updates["ref_count"] = int64(0)
		updates["recycle_at"] = time.Now().Add(s.d.cfg.RecycleWindow).Unix()
	}

	if err := s.d.db.WithContext(ctx).Model(&model).Updates(updates).Error; err != nil {
		return &storage.StorageError{Op: "release", Err: err}
	}

	s.d.growRev()
	return nil
}

// RefCount implements storage.BlobStore.
func (s *BlobStore) RefCount(ctx context.Context, ref types.BlobRef) (int64, error) {
	var model storage.BlobModel
	err := s.d.db.WithContext(ctx).
		Select("ref_count").
		Where("hash = ? AND type = ?", ref.Hash, string(ref.Type)).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("blob %s: %w", ref.Hash, storage.ErrNotFound)
	}
	if err != nil {
		return 0, &storage.StorageError{Op: "refcount", Err: err}
	}
	return model.RefCount, nil
}

// Sweep implements storage.BlobStore. Deletion is deferred here, off
// the put/release path, so readers are never stalled by file removal.
func (s *BlobStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	var expired []storage.BlobModel
	err := s.d.db.WithContext(ctx).
		Where("ref_count = 0 AND recycle_at > 0 AND recycle_at <= ?", now.Unix()).
		Find(&expired).Error
	if err != nil {
		return 0, &storage.StorageError{Op: "sweep", Err: err}
	}

	removed := 0
	for i := range expired {
		model := &expired[i]
		mu := s.shard(model.Hash)
		mu.Lock()

		// Re-check under the shard lock: a concurrent Put may have
		// revived the row since the query.
		var current storage.BlobModel
		err := s.d.db.WithContext(ctx).First(&current, model.ID).Error
		if err != nil || current.RefCount != 0 {
			mu.Unlock()
			continue
		}

		if current.IsExternal {
			path := filepath.Join(s.d.fsPath, current.StoragePath)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				mu.Unlock()
				return removed, &storage.StorageError{Op: "sweep", Err: err}
			}
		}

		if err := s.d.db.WithContext(ctx).Delete(&storage.BlobModel{}, current.ID).Error; err != nil {
			mu.Unlock()
			return removed, &storage.StorageError{Op: "sweep", Err: err}
		}
		removed++
		mu.Unlock()
	}

	if removed > 0 {
		s.d.growRev()
	}
	return removed, nil
}

// Count implements storage.BlobStore.
func (s *BlobStore) Count(ctx context.Context) (int, error) {
	var n int64
	err := s.d.db.WithContext(ctx).Model(&storage.BlobModel{}).
		Where("ref_count > 0").
		Count(&n).Error
	if err != nil {
		return 0, &storage.StorageError{Op: "count", Err: err}
	}
	return int(n), nil
}
