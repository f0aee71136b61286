// Package watcher keeps the knowledge base in sync with a directory: created
// and modified files are re-ingested and deleted files are removed.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bull/docchat/internal/docstore"
)

// DefaultDebounce is how long a path must be quiet before it is processed.
const DefaultDebounce = 300 * time.Millisecond

// ChangeType is the kind of change seen for a path.
type ChangeType int

const (
	ChangeCreated ChangeType = iota
	ChangeUpdated
	ChangeDeleted
)

func (t ChangeType) String() string {
	switch t {
	case ChangeCreated:
		return "created"
	case ChangeUpdated:
		return "updated"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Change is a file change under the watched root.
type Change struct {
	Type ChangeType
	Path string
}

// Handler applies changes. *indexer.Pipeline implements it.
type Handler interface {
	ReplaceFile(ctx context.Context, path string) (*docstore.Document, error)
	RemovePath(ctx context.Context, path string) (int, error)
}

// Watcher watches a directory tree for document changes.
type Watcher struct {
	root     string
	supports func(name string) bool
	handler  Handler
	debounce time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
	fsw    *fsnotify.Watcher
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before changes are applied.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a watcher for root. Only files accepted by supports (such as
// a parser registry's Supports) produce changes.
func New(root string, supports func(name string) bool, handler Handler, opts ...Option) *Watcher {
	w := &Watcher{
		root:     root,
		supports: supports,
		handler:  handler,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch starts watching and returns a channel of changes that is closed when
// ctx is cancelled or the watcher is closed.
func (w *Watcher) Watch(ctx context.Context) (<-chan Change, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, errors.New("watcher is closed")
	}
	info, err := os.Stat(w.root)
	if err != nil {
		return nil, fmt.Errorf("root path error: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path error: %s is not a directory", w.root)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.addTree(fsw, w.root); err != nil {
		fsw.Close()
		return nil, err
	}
	w.fsw = fsw

	changes := make(chan Change, 64)
	go w.loop(ctx, fsw, changes)
	return changes, nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, changes chan<- Change) {
	defer close(changes)
	defer fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) && isDir(event.Name) && !hidden(event.Name) {
				if err := w.addTree(fsw, event.Name); err != nil {
					w.logger.Warn("Failed to watch new directory", "path", event.Name, "error", err)
				}
				continue
			}
			change := w.handleEvent(event)
			if change == nil {
				continue
			}
			select {
			case changes <- *change:
			case <-ctx.Done():
				return
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", "error", err)
		}
	}
}

// addTree watches dir and every non-hidden directory below it.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && hidden(path) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

// handleEvent maps a filesystem event to a change, or nil if it is
// irrelevant.
func (w *Watcher) handleEvent(event fsnotify.Event) *Change {
	if hidden(event.Name) {
		return nil
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if !w.supports(event.Name) {
			return nil
		}
		return &Change{Type: ChangeDeleted, Path: event.Name}
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		if isDir(event.Name) || !w.supports(event.Name) {
			return nil
		}
		t := ChangeUpdated
		if event.Has(fsnotify.Create) {
			t = ChangeCreated
		}
		return &Change{Type: t, Path: event.Name}
	default:
		return nil
	}
}

// Run watches until ctx is cancelled, applying changes to the handler once
// they have settled for the debounce period. Failures are logged and do not
// stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	changes, err := w.Watch(ctx)
	if err != nil {
		return err
	}
	w.logger.Info("Watching directory", "root", w.root)

	pending := make(map[string]Change)
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case c, ok := <-changes:
			if !ok {
				return ctx.Err()
			}
			// Keep the original kind for a create followed by writes.
			if prev, seen := pending[c.Path]; seen && prev.Type == ChangeCreated && c.Type == ChangeUpdated {
				c.Type = ChangeCreated
			}
			pending[c.Path] = c
			timer.Reset(w.debounce)
		case <-timer.C:
			w.apply(ctx, pending)
			pending = make(map[string]Change)
		}
	}
}

func (w *Watcher) apply(ctx context.Context, pending map[string]Change) {
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		c := pending[p]
		if c.Type == ChangeDeleted {
			n, err := w.handler.RemovePath(ctx, p)
			if err != nil {
				w.logger.Warn("Failed to remove document", "path", p, "error", err)
				continue
			}
			w.logger.Info("Removed document", "path", p, "documents", n)
			continue
		}

		doc, err := w.handler.ReplaceFile(ctx, p)
		if err != nil {
			w.logger.Warn("Failed to ingest document", "path", p, "change", c.Type.String(), "error", err)
			continue
		}
		w.logger.Info("Ingested document", "path", p, "change", c.Type.String(),
			"document_id", doc.ID, "chunks", doc.ChunkCount)
	}
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
