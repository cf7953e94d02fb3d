// Package watch recompiles source files as they change on disk.
package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/minipy-lang/minipy/internal/build"
	"github.com/minipy-lang/minipy/internal/cli"
	"github.com/minipy-lang/minipy/internal/diagnostics"
	"github.com/minipy-lang/minipy/internal/transpiler"
)

// DefaultDebounce coalesces the burst of events editors produce for a single save.
const DefaultDebounce = 100 * time.Millisecond

// Outcome reports one recompilation.
type Outcome struct {
	Path   string
	Output string
	Err    error
}

// Watcher rebuilds source files below a set of roots on Create and Write events.
type Watcher struct {
	b   *build.Builder
	log *cli.Logger
	fw  *fsnotify.Watcher

	// Debounce is the quiet period after the last event before a file is rebuilt.
	Debounce time.Duration
	// OnCompile, when set, is called from Run after every rebuild.
	OnCompile func(Outcome)

	roots []string
	files map[string]bool // explicitly watched files; empty means every source file
}

// New creates a watcher that compiles through b.
func New(b *build.Builder, log *cli.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = cli.Discard()
	}
	return &Watcher{b: b, log: log, fw: fw, Debounce: DefaultDebounce, files: make(map[string]bool)}, nil
}

// Add watches a directory tree or a single file.
func (w *Watcher) Add(path string) error {
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		w.files[path] = true
		w.roots = append(w.roots, filepath.Dir(path))
		return w.fw.Add(filepath.Dir(path))
	}
	w.roots = append(w.roots, path)
	return w.addTree(path)
}

// addTree watches dir and every non-hidden directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		w.log.Debug("watching %s", path)
		return w.fw.Add(path)
	})
}

// Close releases the OS watches. Run closes the watcher itself when it returns.
func (w *Watcher) Close() error { return w.fw.Close() }

// Run builds everything once, then rebuilds changed files until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fw.Close()

	if err := w.initial(ctx); err != nil {
		return err
	}

	due := make(chan string, 64)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && len(w.files) == 0 {
					if err := w.addTree(ev.Name); err != nil {
						w.log.Warn("watch %s: %v", ev.Name, err)
					}
					continue
				}
			}
			if !w.relevant(ev) {
				continue
			}
			if t, ok := timers[ev.Name]; ok {
				t.Reset(w.Debounce)
				continue
			}
			name := ev.Name
			timers[name] = time.AfterFunc(w.Debounce, func() {
				select {
				case due <- name:
				case <-ctx.Done():
				}
			})

		case name := <-due:
			delete(timers, name)
			w.rebuild(ctx, name)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error: %v", err)
		}
	}
}

func (w *Watcher) initial(ctx context.Context) error {
	var paths []string
	if len(w.files) > 0 {
		for f := range w.files {
			paths = append(paths, f)
		}
	} else {
		paths = w.roots
	}
	if len(paths) == 0 {
		return errors.New("watch: nothing to watch")
	}
	rep, err := w.b.Build(ctx, paths...)
	if err != nil {
		return err
	}
	for _, f := range rep.Failed {
		w.log.Error("%s\n%s", f.Path, diagnostics.Format(f.Err, f.Source))
	}
	return nil
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}
	name := filepath.Clean(ev.Name)
	if len(w.files) > 0 {
		return w.files[name]
	}
	return filepath.Ext(name) == build.SourceExt && !strings.HasPrefix(filepath.Base(name), ".")
}

// rootOf returns the longest watched root containing path.
func (w *Watcher) rootOf(path string) string {
	best := ""
	for _, r := range w.roots {
		if rel, err := filepath.Rel(r, path); err == nil && !strings.HasPrefix(rel, "..") && len(r) > len(best) {
			best = r
		}
	}
	return best
}

func (w *Watcher) rebuild(ctx context.Context, path string) {
	out, err := w.b.BuildFile(ctx, w.rootOf(path), path)
	var fe *transpiler.FileError
	switch {
	case err == nil:
		w.log.Info("rebuilt %s -> %s", path, out)
	case errors.As(err, &fe):
		w.log.Error("%s\n%s", path, diagnostics.Format(fe.Err, fe.Source))
	case errors.Is(err, os.ErrNotExist):
		// removed between the event and the rebuild
		return
	default:
		w.log.Warn("rebuild %s: %v", path, err)
	}
	if w.OnCompile != nil {
		w.OnCompile(Outcome{Path: path, Output: out, Err: err})
	}
}
