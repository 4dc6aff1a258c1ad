package clipboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	xclipboard "golang.design/x/clipboard"

	"csync/pkg/types"
)

// Watcher is the cross-platform clipboard monitor. It polls the system
// clipboard for text and image changes and hands them to the handler.
type Watcher struct {
	source string

	mu      sync.Mutex
	handler func(types.Event)
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWatcher returns a monitor that tags events with the given source name.
func NewWatcher(source string) *Watcher {
	return &Watcher{source: source}
}

// OnChange implements Monitor.
func (w *Watcher) OnChange(handler func(types.Event)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handler = handler
}

// Start implements Monitor.
func (w *Watcher) Start() error {
	if err := xclipboard.Init(); err != nil {
		return fmt.Errorf("failed to initialize clipboard access: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(2)
	go w.watch(ctx, xclipboard.FmtText, types.BlobText)
	go w.watch(ctx, xclipboard.FmtImage, types.BlobImage)
	return nil
}

// Stop implements Monitor.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
	return nil
}

func (w *Watcher) watch(ctx context.Context, format xclipboard.Format, typ types.BlobType) {
	defer w.wg.Done()

	for data := range xclipboard.Watch(ctx, format) {
		if len(data) == 0 {
			continue
		}

		// Watch reuses its buffer between deliveries.
		payload := make([]byte, len(data))
		copy(payload, data)

		w.mu.Lock()
		handler := w.handler
		w.mu.Unlock()
		if handler == nil {
			continue
		}

		handler(types.Event{
			Payload:   payload,
			Type:      typ,
			Source:    w.source,
			Timestamp: time.Now(),
		})
	}
}

// Write places a payload on the system clipboard. File payloads have no
// clipboard representation and must be written to disk by the caller.
func Write(blob *types.Blob) error {
	switch blob.Type {
	case types.BlobText:
		xclipboard.Write(xclipboard.FmtText, blob.Data)
	case types.BlobImage:
		xclipboard.Write(xclipboard.FmtImage, blob.Data)
	default:
		return fmt.Errorf("cannot place %s payload on the clipboard", blob.Type)
	}
	return nil
}

// Init prepares clipboard access for one-shot callers that do not
// run a Watcher, such as the control CLI.
func Init() error {
	if err := xclipboard.Init(); err != nil {
		return fmt.Errorf("failed to initialize clipboard access: %w", err)
	}
	return nil
}
