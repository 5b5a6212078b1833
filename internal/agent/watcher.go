package agent

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	stdsync "sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"hydragent/internal/vocab"
)

// WatcherConfig holds configuration for the vocabulary watcher.
type WatcherConfig struct {
	// DebounceInterval is how long to wait before processing file changes.
	// This batches rapid rewrites together.
	DebounceInterval time.Duration

	// Logger for watcher activity.
	Logger *log.Logger
}

// DefaultWatcherConfig returns sensible defaults.
func DefaultWatcherConfig() *WatcherConfig {
	return &WatcherConfig{
		DebounceInterval: 200 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[watcher] ", log.LstdFlags),
	}
}

// Watcher reloads the vocabulary document when it changes on disk, swapping
// the engine's schema index and re-seeding the static graph layer.
type Watcher struct {
	docPath string
	reload  func(*vocab.Index) error
	config  *WatcherConfig

	watcher *fsnotify.Watcher

	pendingMu stdsync.Mutex
	pendingAt time.Time
	pending   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// NewWatcher creates a watcher over the vocabulary file at docPath.
//
// reload is invoked with the freshly built index after each change; it is
// where the caller swaps the engine's index and re-runs Bootstrap.
func NewWatcher(docPath string, reload func(*vocab.Index) error, config *WatcherConfig) (*Watcher, error) {
	if docPath == "" {
		return nil, fmt.Errorf("docPath cannot be empty")
	}
	if reload == nil {
		return nil, fmt.Errorf("reload cannot be nil")
	}
	if config == nil {
		config = DefaultWatcherConfig()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		docPath: docPath,
		reload:  reload,
		config:  config,
		watcher: fsWatcher,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins watching. Blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	// Watch the containing directory; editors replace files rather than
	// writing them in place.
	if err := w.watcher.Add(filepath.Dir(w.docPath)); err != nil {
		return fmt.Errorf("failed to watch vocabulary directory: %w", err)
	}

	w.config.Logger.Printf("Watching vocabulary: %s", w.docPath)

	w.wg.Add(2)
	go w.watchFileEvents()
	go w.processPending()

	select {
	case <-ctx.Done():
		return w.Stop()
	case <-w.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts the watcher down.
func (w *Watcher) Stop() error {
	w.cancel()

	if err := w.watcher.Close(); err != nil {
		w.config.Logger.Printf("Error closing watcher: %v", err)
	}

	w.wg.Wait()
	return nil
}

// watchFileEvents monitors filesystem events and marks the vocabulary dirty.
func (w *Watcher) watchFileEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.docPath) {
				continue
			}

			w.config.Logger.Printf("Vocabulary event: %s %s", event.Op, event.Name)
			w.markPending()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// markPending records a change with debouncing.
func (w *Watcher) markPending() {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	w.pending = true
	w.pendingAt = time.Now()
}

// processPending reloads the vocabulary once changes settle.
func (w *Watcher) processPending() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			w.pendingMu.Lock()
			due := w.pending && time.Since(w.pendingAt) >= w.config.DebounceInterval
			if due {
				w.pending = false
			}
			w.pendingMu.Unlock()

			if !due {
				continue
			}

			if err := w.reloadVocabulary(); err != nil {
				w.config.Logger.Printf("Error reloading vocabulary: %v", err)
			}
		}
	}
}

// reloadVocabulary rebuilds the index from disk and hands it to the caller.
func (w *Watcher) reloadVocabulary() error {
	api, err := vocab.LoadFile(w.docPath)
	if err != nil {
		return err
	}

	w.config.Logger.Printf("Vocabulary reloaded: %d classes", len(api.Classes))
	return w.reload(vocab.NewIndex(api))
}
