// Package build compiles minipy source files to JavaScript files on disk, in parallel,
// reusing earlier output from a content-addressed cache.
package build

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/minipy-lang/minipy/internal/cli"
	"github.com/minipy-lang/minipy/internal/transpiler"
)

// SourceExt and OutputExt are the file extensions of inputs and outputs.
const (
	SourceExt = ".py"
	OutputExt = ".js"
)

// Builder turns source files into JavaScript files.
type Builder struct {
	Compiler transpiler.Compiler
	// Cache may be nil, which disables caching.
	Cache Cache
	// Jobs bounds concurrent compilations; <=0 means runtime.NumCPU().
	Jobs int
	// OutDir receives outputs, mirroring each file's path below its input root.
	// Empty means next to the source.
	OutDir string
	Log    *cli.Logger
}

// ErrOutputCollision is returned by Build when two inputs map to the same output file.
var ErrOutputCollision = errors.New("output collision")

// Failure is a source file that did not compile.
type Failure struct {
	Path   string
	Source string
	Err    error
}

// Report summarizes a Build.
type Report struct {
	Compiled []string
	Cached   []string
	Failed   []Failure
	Took     time.Duration
}

// OK reports whether every file compiled.
func (r *Report) OK() bool { return len(r.Failed) == 0 }

// Build compiles every source file named by paths. Directories are walked recursively.
// Compile errors are collected in the report; I/O errors abort the build.
func (b *Builder) Build(ctx context.Context, paths ...string) (*Report, error) {
	start := time.Now()
	jobs, err := discover(paths...)
	if err != nil {
		return nil, err
	}
	if err := b.checkOutputs(jobs); err != nil {
		return nil, err
	}

	limit := b.Jobs
	if limit <= 0 {
		limit = runtime.NumCPU()
	}

	var (
		mu  sync.Mutex
		rep Report
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, j := range jobs {
		g.Go(func() error {
			out, cached, err := b.compileJob(gctx, j)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && cached:
				rep.Cached = append(rep.Cached, out)
			case err == nil:
				rep.Compiled = append(rep.Compiled, out)
			default:
				f, ok := err.(*compileFailure)
				if !ok {
					return err
				}
				rep.Failed = append(rep.Failed, Failure{Path: j.path, Source: f.source, Err: f.err})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Strings(rep.Compiled)
	sort.Strings(rep.Cached)
	sort.Slice(rep.Failed, func(i, k int) bool { return rep.Failed[i].Path < rep.Failed[k].Path })
	rep.Took = time.Since(start)
	b.Log.Info("built %d files (%d cached, %d failed) in %s",
		len(rep.Compiled)+len(rep.Cached), len(rep.Cached), len(rep.Failed), rep.Took)
	return &rep, nil
}

// BuildFile compiles a single file found below root and returns the output path.
// An empty root means the file's own directory. A compile error is returned as
// *transpiler.FileError.
func (b *Builder) BuildFile(ctx context.Context, root, path string) (string, error) {
	if root == "" {
		root = filepath.Dir(path)
	}
	out, _, err := b.compileJob(ctx, job{path: path, root: root})
	if f, ok := err.(*compileFailure); ok {
		return "", &transpiler.FileError{Path: path, Source: f.source, Err: f.err}
	}
	return out, err
}

// compileFailure separates bad input from I/O trouble inside the worker pool.
type compileFailure struct {
	source string
	err    error
}

func (e *compileFailure) Error() string { return e.err.Error() }

type job struct {
	path string
	root string
}

func (b *Builder) compileJob(ctx context.Context, j job) (out string, cached bool, err error) {
	src, err := os.ReadFile(j.path)
	if err != nil {
		return "", false, err
	}
	source := string(src)
	out = b.OutputPath(j.root, j.path)

	key := KeyFor(cli.Version, source)
	if b.Cache != nil {
		a, ok, err := b.Cache.Get(key)
		if err != nil {
			b.Log.Warn("cache read %s: %v", j.path, err)
		} else if ok {
			b.Log.Debug("cache hit %s", j.path)
			return out, true, writeOutput(out, a.JS)
		}
	}

	res, err := b.Compiler.Compile(ctx, source)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", false, &compileFailure{source: source, err: err}
	}
	if b.Cache != nil {
		if err := b.Cache.Put(key, Artifact{JS: res.JS, Metadata: map[string]string{"source": j.path}}); err != nil {
			b.Log.Warn("cache write %s: %v", j.path, err)
		}
	}
	b.Log.Debug("compiled %s -> %s", j.path, out)
	return out, false, writeOutput(out, res.JS)
}

// OutputPath maps a source file found below root to its JavaScript file.
func (b *Builder) OutputPath(root, path string) string {
	base := strings.TrimSuffix(path, filepath.Ext(path)) + OutputExt
	if b.OutDir == "" {
		return base
	}
	rel, err := filepath.Rel(root, base)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(base)
	}
	return filepath.Join(b.OutDir, rel)
}

// checkOutputs rejects inputs that would overwrite each other's output, such as two
// same-named files from different directories given with OutDir set.
func (b *Builder) checkOutputs(jobs []job) error {
	owner := make(map[string]string, len(jobs))
	for _, j := range jobs {
		out := b.OutputPath(j.root, j.path)
		if prev, ok := owner[out]; ok {
			return fmt.Errorf("%w: %s and %s both compile to %s", ErrOutputCollision, prev, j.path, out)
		}
		owner[out] = j.path
	}
	return nil
}

func writeOutput(path, js string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(path, []byte(js+"\n"))
}

// discover expands paths into source files. Files are taken as given whatever their
// extension; directories contribute every *.py below them, skipping hidden directories.
func discover(paths ...string) ([]job, error) {
	var jobs []job
	seen := make(map[string]bool)
	add := func(root, path string) {
		if !seen[path] {
			seen[path] = true
			jobs = append(jobs, job{path: path, root: root})
		}
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(filepath.Dir(p), filepath.Clean(p))
			continue
		}
		root := filepath.Clean(p)
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(path) == SourceExt {
				add(root, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return jobs, nil
}
