package ingest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"csync/internal/storage"
	"csync/internal/storage/sqlite"
	"csync/pkg/types"
)

func setupPipeline(t *testing.T, cfg storage.Config) (*Pipeline, *sqlite.BlobStore, *sqlite.HistoryIndex) {
	t.Helper()

	dir := t.TempDir()
	cfg.DBPath = filepath.Join(dir, "test.db")
	cfg.FSPath = filepath.Join(dir, "files")

	db, err := sqlite.Open(cfg)
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	blobs := sqlite.NewBlobStore(db)
	index, err := sqlite.NewHistoryIndex(db, blobs)
	if err != nil {
		t.Fatalf("failed to open history index: %v", err)
	}

	return New(blobs, index, Config{}), blobs, index
}

func TestIngest_RoundTrip(t *testing.T) {
	p, blobs, index := setupPipeline(t, storage.Config{MaxEntries: 10})
	ctx := context.Background()

	events := []types.Event{
		{Payload: []byte("copied text"), Type: types.BlobText},
		{Payload: []byte{0x89, 0x50, 0x4e, 0x47}, Type: types.BlobImage},
		{Payload: []byte("file body"), Type: types.BlobFile, FileName: "doc.txt"},
	}

	for _, ev := range events {
		entry, err := p.Ingest(ctx, ev)
		if err != nil {
			t.Fatalf("failed to ingest %s event: %v", ev.Type, err)
		}
		if entry.ID == "" {
			t.Error("entry ID should not be empty")
		}
		if entry.Type != ev.Type {
			t.Errorf("type mismatch: got %s, want %s", entry.Type, ev.Type)
		}

		blob, err := blobs.Get(ctx, entry.Ref)
		if err != nil {
			t.Fatalf("failed to fetch blob back: %v", err)
		}
		if !bytes.Equal(blob.Data, ev.Payload) {
			t.Errorf("%s payload did not round-trip", ev.Type)
		}
	}

	count, err := index.Count(ctx)
	if err != nil {
		t.Fatalf("failed to count entries: %v", err)
	}
	if count != len(events) {
		t.Errorf("expected %d entries, got %d", len(events), count)
	}
}

func TestIngest_InvalidEvents(t *testing.T) {
	p, _, index := setupPipeline(t, storage.Config{MaxEntries: 10})
	ctx := context.Background()

	bad := []types.Event{
		{Payload: nil, Type: types.BlobText},
		{Payload: []byte("x"), Type: "video"},
		{Payload: []byte("x"), Type: types.BlobFile}, // no file name
	}

	for _, ev := range bad {
		if _, err := p.Ingest(ctx, ev); !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("expected ErrInvalidEvent for %+v, got %v", ev, err)
		}
	}

	count, err := index.Count(ctx)
	if err != nil {
		t.Fatalf("failed to count entries: %v", err)
	}
	if count != 0 {
		t.Errorf("rejected events must not commit anything, got %d entries", count)
	}
}

func TestIngest_DuplicateContentSharesBlob(t *testing.T) {
	p, blobs, _ := setupPipeline(t, storage.Config{MaxEntries: 10})
	ctx := context.Background()

	ev := types.Event{Payload: []byte("copied twice"), Type: types.BlobText}

	e1, err := p.Ingest(ctx, ev)
	if err != nil {
		t.Fatalf("failed to ingest first copy: %v", err)
	}
	e2, err := p.Ingest(ctx, ev)
	if err != nil {
		t.Fatalf("failed to ingest second copy: %v", err)
	}

	if e1.ID == e2.ID {
		t.Error("each copy event must produce a distinct entry")
	}
	if e1.Ref != e2.Ref {
		t.Error("identical payloads must share one blob")
	}

	count, err := blobs.RefCount(ctx, e1.Ref)
	if err != nil {
		t.Fatalf("failed to get ref count: %v", err)
	}
	if count != 2 {
		t.Errorf("expected ref count 2, got %d", count)
	}
}

// failingIndex forces Insert to fail so the put-rollback path runs.
type failingIndex struct {
	storage.HistoryIndex
}

func (f *failingIndex) Insert(ctx context.Context, summary string, typ types.BlobType, ref types.BlobRef, size int64, ts time.Time) (*types.HistoryEntry, error) {
	return nil, &storage.StorageError{Op: "insert", Err: os.ErrClosed}
}

func TestIngest_ReleasesBlobOnInsertFailure(t *testing.T) {
	p, blobs, index := setupPipeline(t, storage.Config{MaxEntries: 10})
	ctx := context.Background()

	ev := types.Event{Payload: []byte("survivor"), Type: types.BlobText}

	// Establish a pre-ingest reference count of 1.
	e1, err := p.Ingest(ctx, ev)
	if err != nil {
		t.Fatalf("failed to ingest: %v", err)
	}

	broken := New(blobs, &failingIndex{index}, Config{})
	if _, err := broken.Ingest(ctx, ev); err == nil {
		t.Fatal("expected ingest to fail")
	}

	count, err := blobs.RefCount(ctx, e1.Ref)
	if err != nil {
		t.Fatalf("failed to get ref count: %v", err)
	}
	if count != 1 {
		t.Errorf("ref count must return to pre-ingest value 1, got %d", count)
	}
}
