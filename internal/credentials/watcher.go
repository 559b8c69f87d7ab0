package credentials

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"pierrebridge/pkg/logging"
)

// DefaultDebounceInterval is the time to wait after the last file event
// before reloading, so atomic write-then-rename sequences collapse into
// a single reload.
const DefaultDebounceInterval = 250 * time.Millisecond

// Watcher reloads the store when another process rewrites the credential
// file (e.g. a concurrent `pierre-bridge auth login`). The directory is
// watched rather than the file itself because renames replace the inode.
type Watcher struct {
	mu sync.Mutex

	store     *Store
	fsWatcher *fsnotify.Watcher
	stopCh    chan struct{}
	running   bool

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	// OnReload, if set, is called after a successful reload.
	OnReload func()
}

// NewWatcher creates a watcher for the given store.
func NewWatcher(store *Store) *Watcher {
	return &Watcher{store: store}
}

// Start begins watching the credential directory.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := fsWatcher.Add(filepath.Dir(w.store.Path())); err != nil {
		fsWatcher.Close()
		return err
	}

	w.fsWatcher = fsWatcher
	w.stopCh = make(chan struct{})
	w.running = true

	go w.watchLoop()
	return nil
}

// Stop halts the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	close(w.stopCh)
	w.fsWatcher.Close()
	w.running = false
}

func (w *Watcher) watchLoop() {
	target := filepath.Base(w.store.Path())

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.scheduleReload()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logging.Warn("Credentials", "Watcher error: %v", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(DefaultDebounceInterval, func() {
		if err := w.store.reload(); err != nil {
			logging.Warn("Credentials", "Failed to reload credential file: %v", err)
			return
		}
		logging.Debug("Credentials", "Reloaded credential file after external change")
		if w.OnReload != nil {
			w.OnReload()
		}
	})
}
