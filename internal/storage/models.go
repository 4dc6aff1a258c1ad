package storage

import (
	"time"

	"csync/pkg/types"
)

// BlobModel is the persisted form of a content-addressed payload.
// One row per distinct (hash, type); RefCount tracks how many history
// entries reference it. RecycleAt is zero while the blob is referenced
// and set to the end of the grace window once the count reaches zero.
type BlobModel struct {
	ID          uint   `gorm:"primarykey"`
	Hash        string `gorm:"size:64;uniqueIndex:idx_blob_hash_type;not null"`
	Type        string `gorm:"uniqueIndex:idx_blob_hash_type;not null"`
	Data        []byte `gorm:"type:blob"`
	Size        int64  `gorm:"not null"`
	RefCount    int64  `gorm:"not null"`
	FileName    string
	FileMode    uint32
	IsExternal  bool
	StoragePath string
	RecycleAt   int64 `gorm:"index"` // unix seconds, 0 = referenced
	CreatedAt   time.Time
}

func (bm *BlobModel) Ref() types.BlobRef {
	return types.BlobRef{Hash: bm.Hash, Type: types.BlobType(bm.Type)}
}

func (bm *BlobModel) ToBlob() *types.Blob {
	return &types.Blob{
		Data:     bm.Data,
		Hash:     bm.Hash,
		Type:     types.BlobType(bm.Type),
		FileName: bm.FileName,
		FileMode: bm.FileMode,
	}
}

// EntryModel is the persisted form of a history entry. Seq is the
// store-wide insertion order and the primary sort key for listing.
type EntryModel struct {
	ID        string `gorm:"primarykey;size:36"`
	Seq       uint64 `gorm:"uniqueIndex;not null"`
	Summary   string `gorm:"not null"`
	Type      string `gorm:"index;not null"`
	BlobHash  string `gorm:"size:64;index;not null"`
	Size      int64
	Pinned    bool
	CreatedAt time.Time
	LastUsed  time.Time `gorm:"index"`
}

func (em *EntryModel) ToEntry() *types.HistoryEntry {
	return &types.HistoryEntry{
		ID:      em.ID,
		Seq:     em.Seq,
		Summary: em.Summary,
		Type:    types.BlobType(em.Type),
		Ref: types.BlobRef{
			Hash: em.BlobHash,
			Type: types.BlobType(em.Type),
		},
		Size:      em.Size,
		Pinned:    em.Pinned,
		CreatedAt: em.CreatedAt,
		LastUsed:  em.LastUsed,
	}
}

// ToMetadata projects an entry into the wire shape served to readers.
func ToMetadata(e *types.HistoryEntry) types.Metadata {
	return types.Metadata{
		ID:       e.ID,
		Summary:  e.Summary,
		BlobType: e.Type,
		Size:     e.Size,
		Pinned:   e.Pinned,
		Created:  e.CreatedAt.Unix(),
	}
}
