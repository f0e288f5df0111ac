package connector

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the replica database file for local writes and
// signals that a drain should run. It uses fsnotify for cross-platform
// file system event monitoring, with a polling ticker as a fallback for
// file systems that do not deliver events (network mounts, some
// containers).
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	interval time.Duration
	signals  chan struct{}
	errors   chan error
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewWatcher creates a Watcher for the replica database at path. The
// poll interval bounds how stale a drain can be when no events arrive;
// zero disables polling.
func NewWatcher(path string, interval time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher:  fw,
		path:     path,
		interval: interval,
		signals:  make(chan struct{}, 1),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. The replica's parent directory is watched
// rather than the file itself because SQLite replaces the file during
// checkpoints and the inode-level watch would be lost.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch replica directory %s: %w", dir, err)
	}

	w.running = true
	w.wg.Add(1)
	go w.loop()

	return nil
}

// Stop stops the watcher and blocks until its goroutine has exited.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()

	close(w.signals)
	close(w.errors)

	return nil
}

// Signals returns the channel that fires when a drain should run. The
// channel has capacity one and coalesces bursts of writes into a single
// pending signal.
func (w *Watcher) Signals() <-chan struct{} {
	return w.signals
}

// Errors returns the channel that emits watch errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var tick <-chan time.Time
	if w.interval > 0 {
		t := time.NewTicker(w.interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.relevant(event) {
				w.signal()
			}

		case <-tick:
			w.signal()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

// relevant reports whether the event touches the replica file or its
// WAL sidecar.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	name := filepath.Base(event.Name)
	base := filepath.Base(w.path)
	return name == base || name == base+"-wal"
}

func (w *Watcher) signal() {
	select {
	case w.signals <- struct{}{}:
	default:
	}
}

// Run drains on every signal until ctx is cancelled or a fatal error
// occurs. Transient upload failures are reported through the error
// channel and retried on the next signal.
func (w *Watcher) Run(ctx context.Context, c *Connector, pending PendingSource) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return nil
		case _, ok := <-w.signals:
			if !ok {
				return nil
			}
			if _, err := c.UploadPending(ctx, pending); err != nil {
				if errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrNotConfigured) {
					return err
				}
				select {
				case w.errors <- err:
				default:
				}
			}
		}
	}
}

// IsRunning returns true if the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
