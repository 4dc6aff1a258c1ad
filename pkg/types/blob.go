package types

import (
	"fmt"
	"time"
)

// BlobType is the closed set of payload kinds the store accepts.
type BlobType string

const (
	BlobText  BlobType = "text"
	BlobImage BlobType = "image"
	BlobFile  BlobType = "file"
)

// ParseBlobType validates a wire-level type tag.
func ParseBlobType(s string) (BlobType, error) {
	switch BlobType(s) {
	case BlobText, BlobImage, BlobFile:
		return BlobType(s), nil
	}
	return "", fmt.Errorf("invalid blob type %q", s)
}

func (t BlobType) String() string { return string(t) }

// BlobRef identifies a stored payload by content hash and type.
// It is a non-owning reference: holders must pair every acquisition
// with a Release on the owning BlobStore.
type BlobRef struct {
	Hash string
	Type BlobType
}

// Blob is an immutable payload as handed back by the BlobStore.
// FileName and FileMode are only set for file blobs.
type Blob struct {
	Data     []byte
	Hash     string
	Type     BlobType
	FileName string
	FileMode uint32
}

// HistoryEntry is the metadata record for one clipboard event.
type HistoryEntry struct {
	ID        string
	Seq       uint64
	Summary   string
	Type      BlobType
	Ref       BlobRef
	Size      int64
	Pinned    bool
	CreatedAt time.Time
	LastUsed  time.Time
}
