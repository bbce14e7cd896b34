package monitor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/trilat/internal/debounce"
)

// DefaultQuietPeriod is how long the store directory must be quiet before a
// change is reported.
const DefaultQuietPeriod = 150 * time.Millisecond

// ErrWatcherFailed is returned when the filesystem watcher cannot be created.
var ErrWatcherFailed = errors.New("failed to create filesystem watcher")

// WatchOptions configures a StoreWatcher.
type WatchOptions struct {
	// Keys are the storage keys to watch, e.g. "projects" for projects.json.
	Keys []string

	// QuietPeriod coalesces bursts of events (default: DefaultQuietPeriod).
	QuietPeriod time.Duration

	Logger *zap.Logger
}

// StoreWatcher reports changes to the documents of a file-backed store.
// A save replaces the document by rename, so the directory is watched
// rather than the files.
type StoreWatcher struct {
	dir     string
	files   map[string]bool
	quiet   time.Duration
	watcher *fsnotify.Watcher
	timer   *debounce.Timer
	changes chan struct{}
	stop    chan struct{}
	logger  *zap.Logger
}

// NewStoreWatcher creates a watcher for the store directory dir.
func NewStoreWatcher(dir string, opts WatchOptions) (*StoreWatcher, error) {
	if len(opts.Keys) == 0 {
		return nil, errors.New("at least one key is required")
	}
	if opts.QuietPeriod <= 0 {
		opts.QuietPeriod = DefaultQuietPeriod
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	files := make(map[string]bool, len(opts.Keys))
	for _, k := range opts.Keys {
		files[k+".json"] = true
	}
	return &StoreWatcher{
		dir:     dir,
		files:   files,
		quiet:   opts.QuietPeriod,
		watcher: watcher,
		timer:   debounce.New(nil),
		changes: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		logger:  opts.Logger,
	}, nil
}

// Start begins watching in a background goroutine. Call Stop to release
// the watcher.
func (w *StoreWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher. It is safe to call more than once.
func (w *StoreWatcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		w.timer.Cancel()
		_ = w.watcher.Close()
	}
}

// Changes delivers one value per quiet period in which a watched document
// changed. Changes that arrive while a value is pending are merged into it.
func (w *StoreWatcher) Changes() <-chan struct{} {
	return w.changes
}

func (w *StoreWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.files[filepath.Base(event.Name)] && event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				w.timer.Arm(w.quiet, w.notify)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("store watcher error", zap.Error(err))
		}
	}
}

func (w *StoreWatcher) notify() {
	select {
	case w.changes <- struct{}{}:
	default:
	}
}
