// Package watcher turns filesystem changes under configured folders into document
// events for the knowledge base each folder is bound to.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/kbsearch/internal/config"
	"github.com/hyperjump/kbsearch/internal/models"
)

const defaultDebounce = 400 * time.Millisecond

// ErrNotStarted is returned when roots are added before Start.
var ErrNotStarted = errors.New("watcher not started")

// Sink receives document events. It is called from watcher goroutines.
type Sink func(models.DocumentEvent)

// root is a watched folder and the knowledge base its files belong to.
type root struct {
	path   string
	botID  string
	kbName string
	dirs   []string
}

// Watcher watches folders and emits changed/removed events for matching files.
type Watcher struct {
	roots      []*root
	extensions []string
	recursive  bool
	sink       Sink
	debounce   time.Duration
	fsw        *fsnotify.Watcher
	mu         sync.Mutex
	pending    map[string]*time.Timer
	done       chan struct{}
	started    bool
	stopOnce   sync.Once
	logger     *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger for watcher events.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a file must be quiet before a changed event is emitted.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher creates a watcher over roots. extensions filter which files produce
// events (empty means all).
func NewWatcher(roots []config.WatchRoot, extensions []string, recursive bool, sink Sink, opts ...Option) *Watcher {
	w := &Watcher{
		extensions: extensions,
		recursive:  recursive,
		sink:       sink,
		debounce:   defaultDebounce,
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
		logger:     zap.NewNop(),
	}
	for _, r := range roots {
		w.roots = append(w.roots, &root{path: filepath.Clean(r.Path), botID: r.Bot, kbName: r.KB})
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w
}

// Start begins watching. Missing root folders are created. It runs until ctx is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.fsw = fsw
	w.started = true
	for _, r := range w.roots {
		if err := w.watchRootLocked(r); err != nil {
			_ = w.fsw.Close()
			w.fsw = nil
			w.started = false
			w.mu.Unlock()
			return fmt.Errorf("watch %s: %w", r.path, err)
		}
	}
	w.logger.Info("Watcher started",
		zap.Int("roots", len(w.roots)),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))
	events, errs := fsw.Events, fsw.Errors
	w.mu.Unlock()
	go w.run(ctx, events, errs)
	return nil
}

func (w *Watcher) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-errs:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	r, ok := w.rootFor(ev.Name)
	if !ok {
		return
	}
	w.logger.Debug("Watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if ev.Has(fsnotify.Create) {
				w.handleNewDirectory(r, ev.Name)
			}
			return
		}
		if matchExtension(ev.Name, w.extensions) {
			w.schedule(r, ev.Name)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancel(ev.Name)
		if matchExtension(ev.Name, w.extensions) {
			w.emit(models.DocumentEvent{
				Kind:      models.EventRemoved,
				BotID:     r.botID,
				KBName:    r.kbName,
				SourceURI: ev.Name,
			})
		}
	}
}

// handleNewDirectory watches a folder that appeared under a root and emits events
// for the files already in it.
func (w *Watcher) handleNewDirectory(r root, dir string) {
	w.mu.Lock()
	fsw := w.fsw
	recursive := w.recursive
	w.mu.Unlock()
	if fsw == nil || !recursive {
		return
	}
	var added []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil {
				w.logger.Warn("Watcher failed to add directory", zap.String("path", path), zap.Error(err))
				return nil
			}
			added = append(added, path)
		}
		return nil
	})
	w.mu.Lock()
	for _, cur := range w.roots {
		if cur.path == r.path {
			cur.dirs = append(cur.dirs, added...)
		}
	}
	w.mu.Unlock()
	w.syncRoot(r, dir)
}

// rootFor returns the most specific root containing path.
func (w *Watcher) rootFor(path string) (root, bool) {
	clean := filepath.Clean(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	var best *root
	for _, r := range w.roots {
		if !inDir(r.path, clean) {
			continue
		}
		if best == nil || len(r.path) > len(best.path) {
			best = r
		}
	}
	if best == nil {
		return root{}, false
	}
	return *best, true
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// schedule emits a changed event for path once it has been quiet for the debounce window.
func (w *Watcher) schedule(r root, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.emit(changed(r, path))
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func changed(r root, path string) models.DocumentEvent {
	return models.DocumentEvent{
		Kind:      models.EventChanged,
		BotID:     r.botID,
		KBName:    r.kbName,
		SourceURI: path,
	}
}

func (w *Watcher) emit(ev models.DocumentEvent) {
	w.logger.Debug("Document event",
		zap.Stringer("kind", ev.Kind),
		zap.String("collection", models.CollectionName(ev.BotID, ev.KBName)),
		zap.String("source_uri", ev.SourceURI))
	if w.sink != nil {
		w.sink(ev)
	}
}

// AddRoot starts watching another folder. When syncExisting is set, changed events
// are emitted for the files already present. Adding a watched path is a no-op.
func (w *Watcher) AddRoot(wr config.WatchRoot, syncExisting bool) error {
	abs, err := filepath.Abs(wr.Path)
	if err != nil {
		return err
	}
	r := &root{path: filepath.Clean(abs), botID: wr.Bot, kbName: wr.KB}
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return ErrNotStarted
	}
	for _, cur := range w.roots {
		if cur.path == r.path {
			w.mu.Unlock()
			return nil
		}
	}
	if err := w.watchRootLocked(r); err != nil {
		w.mu.Unlock()
		return err
	}
	w.roots = append(w.roots, r)
	w.mu.Unlock()
	w.logger.Info("Watch root added",
		zap.String("path", r.path),
		zap.String("collection", models.CollectionName(r.botID, r.kbName)))
	if syncExisting {
		go w.syncRoot(*r, r.path)
	}
	return nil
}

func (w *Watcher) watchRootLocked(r *root) error {
	if _, err := os.Stat(r.path); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(r.path, 0o755); err != nil {
			return err
		}
	}
	if !w.recursive {
		if err := w.fsw.Add(r.path); err != nil {
			return err
		}
		r.dirs = []string{r.path}
		return nil
	}
	var dirs []string
	err := filepath.WalkDir(r.path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		dirs = append(dirs, path)
		return nil
	})
	if err != nil {
		return err
	}
	r.dirs = dirs
	return nil
}

// syncRoot emits a changed event for every matching file under dir.
func (w *Watcher) syncRoot(r root, dir string) {
	recursive := w.recursive
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if matchExtension(path, w.extensions) {
			w.emit(changed(r, path))
		}
		return nil
	})
}

// RemoveRoot stops watching path. Documents already indexed from it are kept.
func (w *Watcher) RemoveRoot(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, r := range w.roots {
		if r.path != abs {
			continue
		}
		if w.fsw != nil {
			for _, d := range r.dirs {
				_ = w.fsw.Remove(d)
			}
		}
		w.roots = append(w.roots[:i], w.roots[i+1:]...)
		w.logger.Info("Watch root removed", zap.String("path", abs))
		return nil
	}
	return nil
}

// Roots returns the watched folders and their bindings.
func (w *Watcher) Roots() []config.WatchRoot {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]config.WatchRoot, 0, len(w.roots))
	for _, r := range w.roots {
		out = append(out, config.WatchRoot{Path: r.path, Bot: r.botID, KB: r.kbName})
	}
	return out
}

// SyncExistingFiles emits changed events for every matching file under each root.
// Unchanged files are skipped downstream by content hash.
func (w *Watcher) SyncExistingFiles() {
	w.mu.Lock()
	roots := make([]root, 0, len(w.roots))
	for _, r := range w.roots {
		roots = append(roots, *r)
	}
	w.mu.Unlock()
	for _, r := range roots {
		w.syncRoot(r, r.path)
	}
}

// Stop stops the watcher and drops pending events.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.fsw == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.fsw.Close()
	w.fsw = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
