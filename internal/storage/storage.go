package storage

import (
	"context"
	"time"

	"csync/pkg/types"
)

// BlobStore owns the content-addressed payload bytes. Payloads are
// deduplicated by (hash, type) and reference counted; a payload is
// physically deleted only once its count is zero and the recycle
// grace window has passed.
type BlobStore interface {
	// Put stores payload bytes and returns a reference. If an identical
	// payload of the same type already exists its reference count is
	// incremented and the existing reference returned.
	Put(ctx context.Context, data []byte, typ types.BlobType, fileName string, fileMode uint32) (types.BlobRef, error)

	// Get retrieves the payload for a reference.
	Get(ctx context.Context, ref types.BlobRef) (*types.Blob, error)

	// Release decrements the reference count. At zero the payload
	// becomes eligible for deletion by a later Sweep.
	Release(ctx context.Context, ref types.BlobRef) error

	// RefCount reports the current reference count for a reference.
	RefCount(ctx context.Context, ref types.BlobRef) (int64, error)

	// Sweep physically deletes payloads whose count reached zero
	// before now minus the recycle window. Returns how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)

	// Count reports the number of live blobs.
	Count(ctx context.Context) (int, error)
}

// HistoryIndex owns the ordered, bounded set of metadata records.
// Inserting past the retention bound evicts the oldest unpinned entry
// and releases its blob reference as part of the same operation.
type HistoryIndex interface {
	Insert(ctx context.Context, summary string, typ types.BlobType, ref types.BlobRef, size int64, ts time.Time) (*types.HistoryEntry, error)

	// List returns all entries newest-first by sequence number,
	// from a single consistent snapshot.
	List(ctx context.Context) ([]*types.HistoryEntry, error)

	Get(ctx context.Context, id string) (*types.HistoryEntry, error)

	// Remove evicts an entry explicitly, releasing its blob reference.
	Remove(ctx context.Context, id string) error

	// Pin marks or unmarks an entry as exempt from eviction.
	Pin(ctx context.Context, id string, pinned bool) error

	// Touch updates the last-used timestamp, feeding LRU eviction.
	Touch(ctx context.Context, id string) error

	Count(ctx context.Context) (int, error)
}

// Policy selects which entry is evicted when the retention bound is hit.
type Policy string

const (
	PolicyFIFO Policy = "fifo" // oldest by sequence number
	PolicyLRU  Policy = "lru"  // least recently read
)

// ParsePolicy validates an eviction policy name.
func ParsePolicy(s string) (Policy, bool) {
	switch Policy(s) {
	case PolicyFIFO, PolicyLRU:
		return Policy(s), true
	case "":
		return PolicyFIFO, true
	}
	return "", false
}

// Config holds storage configuration.
type Config struct {
	DBPath string // path to the sqlite database
	FSPath string // directory for payloads too large to inline

	MaxEntries    int           // retention bound N
	Eviction      Policy        // eviction policy, PolicyFIFO if empty
	RecycleWindow time.Duration // grace before zero-ref payloads are deleted
}

// DefaultMaxEntries is the retention bound used when none is configured.
const DefaultMaxEntries = 200
