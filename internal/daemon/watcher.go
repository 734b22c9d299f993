package daemon

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/cirunner/internal/logfields"
)

// watcher triggers a run when files in the checkout change. Events are
// debounced: a run fires only after the configured quiet period.
type watcher struct {
	dir      string
	debounce time.Duration
	daemon   *Daemon
	ignore   []string // directory names excluded from watching, e.g. build output
	fsw      *fsnotify.Watcher
	changes  chan string
	stop     chan struct{}
}

func newWatcher(dir string, debounce time.Duration, ignore []string, d *Daemon) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to resolve watch directory: %w", err)
	}

	return &watcher{
		dir:      abs,
		debounce: debounce,
		daemon:   d,
		ignore:   ignore,
		fsw:      fsw,
		changes:  make(chan string, 1),
		stop:     make(chan struct{}),
	}, nil
}

// Start registers the checkout tree and launches the watch loops.
func (w *watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.dir); err != nil {
		return err
	}

	slog.Info("Watching checkout for changes", logfields.Path(w.dir))

	go w.watchLoop(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop closes the underlying fsnotify watcher.
func (w *watcher) Stop() {
	close(w.stop)
	if err := w.fsw.Close(); err != nil {
		slog.Error("Error closing file watcher", logfields.Error(err))
	}
}

// addTree watches dir and every subdirectory, skipping VCS and hidden
// directories. fsnotify does not watch recursively by itself.
func (w *watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (strings.HasPrefix(d.Name(), ".") || w.ignoredName(d.Name())) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.ignored(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// New directories must be registered to keep the tree covered.
			if event.Op&fsnotify.Create != 0 {
				if err := w.addTree(event.Name); err != nil {
					slog.Debug("Could not watch new path", logfields.Path(event.Name))
				}
			}
			select {
			case w.changes <- event.Name:
			default:
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Error("File watcher error", logfields.Error(err))
		}
	}
}

// debounceLoop collapses bursts of change events into one trigger after
// the quiet period.
func (w *watcher) debounceLoop(ctx context.Context) {
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case name := <-w.changes:
			if timer != nil {
				timer.Stop()
			}
			// The callback runs on the timer goroutine; capture the
			// path per timer instead of sharing a loop variable.
			changed := name
			timer = time.AfterFunc(w.debounce, func() {
				rel, err := filepath.Rel(w.dir, changed)
				if err != nil {
					rel = changed
				}
				w.daemon.Trigger("file change: " + rel)
			})
		}
	}
}

// ignored filters paths that must never trigger a run: VCS internals,
// hidden files, and generated build output.
func (w *watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") || w.ignoredName(part) {
			return true
		}
	}
	return false
}

func (w *watcher) ignoredName(name string) bool {
	for _, ig := range w.ignore {
		if name == ig {
			return true
		}
	}
	return false
}
