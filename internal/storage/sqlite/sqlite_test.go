package sqlite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"csync/internal/storage"
	"csync/pkg/types"
)

func setupTestDB(t *testing.T, cfg storage.Config) (*DB, *BlobStore, *HistoryIndex, func()) {
	tempDir, err := os.MkdirTemp("", "csync-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	cfg.DBPath = filepath.Join(tempDir, "test.db")
	cfg.FSPath = filepath.Join(tempDir, "files")

	db, err := Open(cfg)
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to open storage: %v", err)
	}

	blobs := NewBlobStore(db)
	index, err := NewHistoryIndex(db, blobs)
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to open history index: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(tempDir)
	}

	return db, blobs, index, cleanup
}

func TestBlobStore_RoundTrip(t *testing.T) {
	_, blobs, _, cleanup := setupTestDB(t, storage.Config{})
	defer cleanup()

	ctx := context.Background()

	cases := []struct {
		typ      types.BlobType
		data     []byte
		fileName string
	}{
		{types.BlobText, []byte("hello clipboard"), ""},
		{types.BlobImage, []byte{0x89, 0x50, 0x4e, 0x47, 0x01, 0x02}, ""},
		{types.BlobFile, []byte("#!/bin/sh\necho hi\n"), "run.sh"},
	}

	for _, tc := range cases {
		ref, err := blobs.Put(ctx, tc.data, tc.typ, tc.fileName, 0755)
		if err != nil {
			t.Fatalf("failed to put %s blob: %v", tc.typ, err)
		}

		blob, err := blobs.Get(ctx, ref)
		if err != nil {
			t.Fatalf("failed to get %s blob: %v", tc.typ, err)
		}
		if !bytes.Equal(blob.Data, tc.data) {
			t.Errorf("%s payload mismatch: got %d bytes, want %d", tc.typ, len(blob.Data), len(tc.data))
		}
		if blob.Type != tc.typ {
			t.Errorf("type mismatch: got %s, want %s", blob.Type, tc.typ)
		}
		if tc.fileName != "" && blob.FileName != tc.fileName {
			t.Errorf("file name mismatch: got %s, want %s", blob.FileName, tc.fileName)
		}
	}
}

func TestBlobStore_Deduplication(t *testing.T) {
	_, blobs, _, cleanup := setupTestDB(t, storage.Config{})
	defer cleanup()

	ctx := context.Background()
	content := []byte("duplicate content")

	ref1, err := blobs.Put(ctx, content, types.BlobText, "", 0)
	if err != nil {
		t.Fatalf("failed to put first copy: %v", err)
	}
	ref2, err := blobs.Put(ctx, content, types.BlobText, "", 0)
	if err != nil {
		t.Fatalf("failed to put second copy: %v", err)
	}

	if ref1 != ref2 {
		t.Errorf("dedup failed: got refs %v and %v", ref1, ref2)
	}

	count, err := blobs.RefCount(ctx, ref1)
	if err != nil {
		t.Fatalf("failed to get ref count: %v", err)
	}
	if count != 2 {
		t.Errorf("expected ref count 2, got %d", count)
	}

	// Same bytes, different type must not dedup.
	ref3, err := blobs.Put(ctx, content, types.BlobFile, "dup.txt", 0)
	if err != nil {
		t.Fatalf("failed to put file copy: %v", err)
	}
	if ref3 == ref1 {
		t.Error("payloads of different types must map to different blobs")
	}
}

func TestBlobStore_ReleaseAndSweep(t *testing.T) {
	_, blobs, _, cleanup := setupTestDB(t, storage.Config{})
	defer cleanup()

	ctx := context.Background()

	ref, err := blobs.Put(ctx, []byte("short lived"), types.BlobText, "", 0)
	if err != nil {
		t.Fatalf("failed to put blob: %v", err)
	}

	if err := blobs.Release(ctx, ref); err != nil {
		t.Fatalf("failed to release blob: %v", err)
	}

	// Still retrievable until the sweep runs.
	if _, err := blobs.Get(ctx, ref); err != nil {
		t.Fatalf("blob should survive until sweep: %v", err)
	}

	removed, err := blobs.Sweep(ctx, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 blob swept, got %d", removed)
	}

	if _, err := blobs.Get(ctx, ref); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after sweep, got %v", err)
	}
}

func TestBlobStore_RecycleWindowRevival(t *testing.T) {
	_, blobs, _, cleanup := setupTestDB(t, storage.Config{RecycleWindow: time.Hour})
	defer cleanup()

	ctx := context.Background()
	content := []byte("revived")

	ref, err := blobs.Put(ctx, content, types.BlobText, "", 0)
	if err != nil {
		t.Fatalf("failed to put blob: %v", err)
	}
	if err := blobs.Release(ctx, ref); err != nil {
		t.Fatalf("failed to release blob: %v", err)
	}

	// Inside the grace window nothing is swept.
	removed, err := blobs.Sweep(ctx, time.Now())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("expected nothing swept inside grace window, got %d", removed)
	}

	// A dedup hit on a zero-ref blob revives it.
	if _, err := blobs.Put(ctx, content, types.BlobText, "", 0); err != nil {
		t.Fatalf("failed to revive blob: %v", err)
	}
	count, err := blobs.RefCount(ctx, ref)
	if err != nil {
		t.Fatalf("failed to get ref count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected ref count 1 after revival, got %d", count)
	}

	removed, err = blobs.Sweep(ctx, time.Now().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("revived blob must not be swept, got %d removed", removed)
	}
}

func TestBlobStore_SizeLimits(t *testing.T) {
	_, blobs, _, cleanup := setupTestDB(t, storage.Config{})
	defer cleanup()

	ctx := context.Background()

	largeContent := make([]byte, storage.MaxStorageSize+1)
	if _, err := blobs.Put(ctx, largeContent, types.BlobFile, "big.bin", 0); !errors.Is(err, storage.ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}

	mediumContent := make([]byte, storage.MaxInlineStorageSize+1)
	ref, err := blobs.Put(ctx, mediumContent, types.BlobFile, "medium.bin", 0)
	if err != nil {
		t.Fatalf("failed to put medium file: %v", err)
	}

	blob, err := blobs.Get(ctx, ref)
	if err != nil {
		t.Fatalf("failed to get spilled blob: %v", err)
	}
	if len(blob.Data) != len(mediumContent) {
		t.Errorf("content length mismatch: got %d, want %d", len(blob.Data), len(mediumContent))
	}
}

func insertText(t *testing.T, blobs *BlobStore, index *HistoryIndex, text string) *types.HistoryEntry {
	t.Helper()
	ctx := context.Background()

	ref, err := blobs.Put(ctx, []byte(text), types.BlobText, "", 0)
	if err != nil {
		t.Fatalf("failed to put blob: %v", err)
	}
	entry, err := index.Insert(ctx, text, types.BlobText, ref, int64(len(text)), time.Now())
	if err != nil {
		t.Fatalf("failed to insert entry: %v", err)
	}
	return entry
}

func TestHistoryIndex_RetentionBound(t *testing.T) {
	_, blobs, index, cleanup := setupTestDB(t, storage.Config{MaxEntries: 2})
	defer cleanup()

	ctx := context.Background()

	a := insertText(t, blobs, index, "A")
	b := insertText(t, blobs, index, "B")
	c := insertText(t, blobs, index, "C")

	entries, err := index.List(ctx)
	if err != nil {
		t.Fatalf("failed to list entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != c.ID || entries[1].ID != b.ID {
		t.Errorf("expected [C, B], got [%s, %s]", entries[0].Summary, entries[1].Summary)
	}

	if _, err := index.Get(ctx, a.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for evicted entry, got %v", err)
	}

	// A's blob reference was released by eviction; after a sweep the
	// payload is gone too.
	if _, err := blobs.Sweep(ctx, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if _, err := blobs.Get(ctx, a.Ref); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected evicted blob to be swept, got %v", err)
	}
}

func TestHistoryIndex_BoundHoldsAcrossInserts(t *testing.T) {
	const bound = 5
	_, blobs, index, cleanup := setupTestDB(t, storage.Config{MaxEntries: bound})
	defer cleanup()

	ctx := context.Background()

	for i := 0; i < 12; i++ {
		insertText(t, blobs, index, fmt.Sprintf("entry-%d", i))

		want := i + 1
		if want > bound {
			want = bound
		}
		count, err := index.Count(ctx)
		if err != nil {
			t.Fatalf("failed to count entries: %v", err)
		}
		if count != want {
			t.Fatalf("after %d inserts: expected %d entries, got %d", i+1, want, count)
		}
	}
}

func TestHistoryIndex_SharedBlob(t *testing.T) {
	_, blobs, index, cleanup := setupTestDB(t, storage.Config{MaxEntries: 10})
	defer cleanup()

	ctx := context.Background()

	e1 := insertText(t, blobs, index, "same bytes")
	e2 := insertText(t, blobs, index, "same bytes")

	if e1.ID == e2.ID {
		t.Error("two ingests of identical content must produce distinct entries")
	}
	if e1.Ref != e2.Ref {
		t.Error("identical content must share one blob")
	}

	count, err := blobs.RefCount(ctx, e1.Ref)
	if err != nil {
		t.Fatalf("failed to get ref count: %v", err)
	}
	if count != 2 {
		t.Errorf("expected shared blob ref count 2, got %d", count)
	}

	// Removing one entry must leave the blob alive for the other.
	if err := index.Remove(ctx, e1.ID); err != nil {
		t.Fatalf("failed to remove entry: %v", err)
	}
	if _, err := blobs.Sweep(ctx, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if _, err := blobs.Get(ctx, e2.Ref); err != nil {
		t.Errorf("blob still referenced by remaining entry: %v", err)
	}
}

func TestHistoryIndex_PinnedEntriesSurviveEviction(t *testing.T) {
	_, blobs, index, cleanup := setupTestDB(t, storage.Config{MaxEntries: 2})
	defer cleanup()

	ctx := context.Background()

	a := insertText(t, blobs, index, "pinned")
	if err := index.Pin(ctx, a.ID, true); err != nil {
		t.Fatalf("failed to pin entry: %v", err)
	}

	insertText(t, blobs, index, "B")
	c := insertText(t, blobs, index, "C")

	entries, err := index.List(ctx)
	if err != nil {
		t.Fatalf("failed to list entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != c.ID || entries[1].ID != a.ID {
		t.Errorf("expected pinned A to survive, got [%s, %s]", entries[0].Summary, entries[1].Summary)
	}
}

func TestHistoryIndex_AllPinnedRejectsInsert(t *testing.T) {
	_, blobs, index, cleanup := setupTestDB(t, storage.Config{MaxEntries: 2})
	defer cleanup()

	ctx := context.Background()

	for _, s := range []string{"one", "two"} {
		e := insertText(t, blobs, index, s)
		if err := index.Pin(ctx, e.ID, true); err != nil {
			t.Fatalf("failed to pin entry: %v", err)
		}
	}

	ref, err := blobs.Put(ctx, []byte("three"), types.BlobText, "", 0)
	if err != nil {
		t.Fatalf("failed to put blob: %v", err)
	}
	if _, err := index.Insert(ctx, "three", types.BlobText, ref, 5, time.Now()); !errors.Is(err, storage.ErrRetentionFull) {
		t.Errorf("expected ErrRetentionFull, got %v", err)
	}

	count, err := index.Count(ctx)
	if err != nil {
		t.Fatalf("failed to count entries: %v", err)
	}
	if count != 2 {
		t.Errorf("rejected insert must not change entry count, got %d", count)
	}
}

func TestHistoryIndex_LRUEviction(t *testing.T) {
	_, blobs, index, cleanup := setupTestDB(t, storage.Config{
		MaxEntries: 2,
		Eviction:   storage.PolicyLRU,
	})
	defer cleanup()

	ctx := context.Background()

	a := insertText(t, blobs, index, "A")
	b := insertText(t, blobs, index, "B")

	// Reading A makes B the least recently used.
	time.Sleep(10 * time.Millisecond)
	if err := index.Touch(ctx, a.ID); err != nil {
		t.Fatalf("failed to touch entry: %v", err)
	}

	insertText(t, blobs, index, "C")

	if _, err := index.Get(ctx, b.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected B evicted under LRU, got %v", err)
	}
	if _, err := index.Get(ctx, a.ID); err != nil {
		t.Errorf("recently used A must survive: %v", err)
	}
}

func TestHistoryIndex_ConcurrentInserts(t *testing.T) {
	const workers = 16
	_, blobs, index, cleanup := setupTestDB(t, storage.Config{MaxEntries: 100})
	defer cleanup()

	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text := fmt.Sprintf("concurrent-%d", i)
			ref, err := blobs.Put(ctx, []byte(text), types.BlobText, "", 0)
			if err != nil {
				t.Errorf("failed to put blob: %v", err)
				return
			}
			if _, err := index.Insert(ctx, text, types.BlobText, ref, int64(len(text)), time.Now()); err != nil {
				t.Errorf("failed to insert entry: %v", err)
			}
		}(i)
	}
	wg.Wait()

	entries, err := index.List(ctx)
	if err != nil {
		t.Fatalf("failed to list entries: %v", err)
	}
	if len(entries) != workers {
		t.Fatalf("expected %d entries, got %d", workers, len(entries))
	}

	seen := make(map[string]bool, workers)
	for i, e := range entries {
		if seen[e.ID] {
			t.Errorf("duplicate entry ID %s", e.ID)
		}
		seen[e.ID] = true
		if i > 0 && entries[i-1].Seq <= e.Seq {
			t.Errorf("listing not ordered by sequence: %d then %d", entries[i-1].Seq, e.Seq)
		}
	}
}
