// Package watcher reports debounced file changes under a directory tree.
// The bridge uses it to drop cached production templates when the output
// directory is rebuilt.
package watcher

import (
	"cmp"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/devbridge/internal/logging"
)

// DefaultDebounce is the quiet period after which pending changes are
// reported.
const DefaultDebounce = 100 * time.Millisecond

// Change is a path that changed during one quiet period. Op holds every
// operation seen for the path, so a file written right after being created
// reports Create|Write.
type Change struct {
	Path string
	Op   fsnotify.Op
}

// Filter reports whether changes to path are of interest.
type Filter func(path string) bool

// Handler receives each batch of changes, sorted by path.
type Handler func(changes []Change)

// Watcher watches directory trees and reports changes in batches.
type Watcher struct {
	fs      *fsnotify.Watcher
	handler Handler
	filter  Filter
	delay   time.Duration
	logger  logging.Logger

	mu    sync.Mutex
	roots []string

	started  atomic.Bool
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period. Non-positive values keep the default.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithFilter restricts reported paths. Repeated filters must all accept a
// path.
func WithFilter(f Filter) Option {
	return func(w *Watcher) {
		if prev := w.filter; prev != nil {
			w.filter = func(path string) bool { return prev(path) && f(path) }
			return
		}
		w.filter = f
	}
}

// WithLogger sets the logger watch errors are reported to.
func WithLogger(logger logging.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a watcher calling handler for every batch of changes.
func New(handler Handler, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fs:      fsw,
		handler: handler,
		delay:   DefaultDebounce,
		logger:  logging.Discard(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.WithComponent("watcher")

	return w, nil
}

// Add watches root and every directory below it. The parent of root is
// watched too, so a root that is deleted and recreated is picked up again.
func (w *Watcher) Add(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("invalid root path: %w", err)
	}

	if err := w.addTree(abs); err != nil {
		return err
	}
	if parent := filepath.Dir(abs); parent != abs {
		if err := w.fs.Add(parent); err != nil {
			w.logger.Warn(context.Background(), err, "Unable to watch parent directory", "path", parent)
		}
	}

	w.mu.Lock()
	w.roots = append(w.roots, abs)
	w.mu.Unlock()
	return nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.fs.Add(path)
	})
}

// within reports whether path is a root or below one. Events for siblings
// seen through a parent watch are not.
func (w *Watcher) within(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, root := range w.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Start reports changes until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	if w.started.Swap(true) {
		return
	}
	go w.run(ctx)
}

// Stop stops watching. Pending changes are dropped. It is safe to call more
// than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stop)
		err = w.fs.Close()
		if w.started.Load() {
			<-w.done
		}
	})
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	pending := make(map[string]fsnotify.Op)
	timer := time.NewTimer(w.delay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.accept(ctx, event) {
				continue
			}
			pending[event.Name] |= event.Op
			timer.Reset(w.delay)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, err, "File watcher error")
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			w.handler(batch(pending))
			clear(pending)
		}
	}
}

// accept follows directories created under a watched tree, since rebuilt
// output recreates its subdirectories, and applies the filter.
func (w *Watcher) accept(ctx context.Context, event fsnotify.Event) bool {
	if !w.within(event.Name) {
		return false
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn(ctx, err, "Unable to watch new directory", "path", event.Name)
			}
		}
	}
	return w.filter == nil || w.filter(event.Name)
}

func batch(pending map[string]fsnotify.Op) []Change {
	changes := make([]Change, 0, len(pending))
	for path, op := range pending {
		changes = append(changes, Change{Path: path, Op: op})
	}
	slices.SortFunc(changes, func(a, b Change) int { return cmp.Compare(a.Path, b.Path) })
	return changes
}

// HTMLFilter accepts HTML documents only.
func HTMLFilter(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".html")
}

// NoHiddenFilter skips dotfiles such as editor swap files.
func NoHiddenFilter(path string) bool {
	return !strings.HasPrefix(filepath.Base(path), ".")
}
