// Package service coordinates the sync store: the local clipboard
// monitor, the ingest queue, the recycle sweep, and event fan-out to
// registered handlers.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"csync/internal/clipboard"
	"csync/internal/ingest"
	"csync/internal/storage"
	"csync/pkg/types"
)

// OpError reports which store operation failed.
type OpError struct {
	Op      string
	Message string
	Err     error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Message)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Config holds service configuration.
type Config struct {
	QueueSize     int           // ingest queue depth, default 64
	SweepInterval time.Duration // recycle sweep period, default 1m
}

// SyncService owns the store's runtime: producers enqueue events,
// a single worker drains the queue into the pipeline, and a sweeper
// reclaims zero-reference payloads.
type SyncService struct {
	monitor  clipboard.Monitor // nil when running headless
	pipeline *ingest.Pipeline
	index    storage.HistoryIndex
	blobs    storage.BlobStore
	cfg      Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	queue  chan types.Event

	mu       sync.RWMutex
	handlers []StoreEventHandler
}

// New creates a SyncService. monitor may be nil to run without local
// clipboard capture.
func New(monitor clipboard.Monitor, pipeline *ingest.Pipeline, blobs storage.BlobStore, index storage.HistoryIndex, cfg Config) *SyncService {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SyncService{
		monitor:  monitor,
		pipeline: pipeline,
		index:    index,
		blobs:    blobs,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		queue:    make(chan types.Event, cfg.QueueSize),
	}
}

// RegisterHandler adds a store event handler.
func (s *SyncService) RegisterHandler(handler StoreEventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// Start launches the ingest worker and the recycle sweeper, then
// begins local clipboard capture if a monitor is configured.
func (s *SyncService) Start() error {
	s.wg.Add(2)
	go s.runIngest()
	go s.runSweep()

	if s.monitor != nil {
		s.monitor.OnChange(func(ev types.Event) {
			if err := s.Submit(ev); err != nil {
				slog.Warn("dropped clipboard event", "error", err)
			}
		})
		if err := s.monitor.Start(); err != nil {
			return &OpError{
				Op:      "Start",
				Message: "failed to start clipboard monitor",
				Err:     err,
			}
		}
	}

	return nil
}

// Stop shuts the service down and waits for in-flight work.
func (s *SyncService) Stop() error {
	s.cancel()

	if s.monitor != nil {
		if err := s.monitor.Stop(); err != nil {
			return &OpError{
				Op:      "Stop",
				Message: "failed to stop clipboard monitor",
				Err:     err,
			}
		}
	}

	s.wg.Wait()
	return nil
}

// Submit queues an event for ingestion without blocking the producer.
func (s *SyncService) Submit(ev types.Event) error {
	select {
	case s.queue <- ev:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return &OpError{Op: "Submit", Message: "ingest queue full"}
	}
}

// Ingest commits an event synchronously and notifies handlers. Remote
// producers that need the created entry back use this path.
func (s *SyncService) Ingest(ctx context.Context, ev types.Event) (*types.HistoryEntry, error) {
	entry, err := s.pipeline.Ingest(ctx, ev)
	if err != nil {
		return nil, err
	}
	s.notify(StoreEvent{Kind: EventPut, Item: storage.ToMetadata(entry)})
	return entry, nil
}

// Remove evicts an entry explicitly and notifies handlers.
func (s *SyncService) Remove(ctx context.Context, id string) error {
	entry, err := s.index.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.index.Remove(ctx, id); err != nil {
		return err
	}
	s.notify(StoreEvent{Kind: EventDelete, Item: storage.ToMetadata(entry)})
	return nil
}

// Pin marks or unmarks an entry as exempt from eviction.
func (s *SyncService) Pin(ctx context.Context, id string, pinned bool) error {
	return s.index.Pin(ctx, id, pinned)
}

// Clear removes every unpinned entry.
func (s *SyncService) Clear(ctx context.Context) error {
	entries, err := s.index.List(ctx)
	if err != nil {
		return &OpError{Op: "Clear", Message: "failed to list entries", Err: err}
	}

	for _, entry := range entries {
		if entry.Pinned {
			continue
		}
		if err := s.index.Remove(ctx, entry.ID); err != nil {
			return &OpError{
				Op:      "Clear",
				Message: fmt.Sprintf("failed to remove entry %s", entry.ID),
				Err:     err,
			}
		}
		s.notify(StoreEvent{Kind: EventDelete, Item: storage.ToMetadata(entry)})
	}
	return nil
}

func (s *SyncService) runIngest() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.queue:
			if _, err := s.Ingest(s.ctx, ev); err != nil {
				slog.Error("failed to ingest clipboard event",
					"type", ev.Type,
					"source", ev.Source,
					"error", err,
				)
			}
		}
	}
}

func (s *SyncService) runSweep() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := s.blobs.Sweep(s.ctx, now)
			if err != nil {
				slog.Error("recycle sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				slog.Info("recycled blobs", "count", removed)
			}
		}
	}
}

func (s *SyncService) notify(ev StoreEvent) {
	s.mu.RLock()
	handlers := s.handlers
	s.mu.RUnlock()

	for _, handler := range handlers {
		handler.HandleStoreEvent(ev)
	}
}
