package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/minipy-lang/minipy/internal/build"
	"github.com/minipy-lang/minipy/internal/cli"
	"github.com/minipy-lang/minipy/internal/diagnostics"
	"github.com/minipy-lang/minipy/internal/transpiler"
	"github.com/minipy-lang/minipy/internal/watch"
)

var buildInfo = cli.CommandInfo{
	Name:        "build",
	Usage:       "minipy build [OPTIONS] [path...]",
	Description: "Compile files and directory trees to JavaScript files",
	Flags: []cli.FlagInfo{
		{Name: "out-dir", Usage: "directory receiving outputs; default is next to each source"},
		{Name: "jobs", Short: "j", Usage: "parallel compilations", Default: "number of CPUs"},
		{Name: "cache-dir", Usage: "reuse earlier outputs stored here"},
		{Name: "no-cache", Usage: "ignore the configured cache directory"},
	},
	Examples: []string{"minipy build src", "minipy build -j 4 --out-dir dist src lib/util.py"},
}

var watchInfo = cli.CommandInfo{
	Name:        "watch",
	Usage:       "minipy watch [OPTIONS] [path...]",
	Description: "Build, then rebuild files as they change",
	Flags: []cli.FlagInfo{
		{Name: "out-dir", Usage: "directory receiving outputs; default is next to each source"},
		{Name: "debounce", Usage: "quiet period before a changed file is rebuilt", Default: watch.DefaultDebounce.String()},
		{Name: "cache-dir", Usage: "reuse earlier outputs stored here"},
	},
	Examples: []string{"minipy watch src"},
}

type builderFlags struct {
	outDir   string
	jobs     int
	cacheDir string
	noCache  bool
}

func (b *builderFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&b.outDir, "out-dir", "", "directory receiving outputs")
	fs.IntVar(&b.jobs, "jobs", runtime.NumCPU(), "parallel compilations")
	fs.IntVar(&b.jobs, "j", runtime.NumCPU(), "shorthand for --jobs")
	fs.StringVar(&b.cacheDir, "cache-dir", "", "reuse earlier outputs stored here")
	fs.BoolVar(&b.noCache, "no-cache", false, "ignore the configured cache directory")
}

func (b *builderFlags) builder(cfg *cli.Config, log *cli.Logger) (*build.Builder, error) {
	bl := &build.Builder{
		Compiler: transpiler.New(log),
		Jobs:     b.jobs,
		OutDir:   b.outDir,
		Log:      log,
	}
	dir := cfg.CacheDir
	if b.cacheDir != "" {
		dir = b.cacheDir
	}
	if dir != "" && !b.noCache {
		dc, err := build.NewDirCache(dir)
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		bl.Cache = build.Tiered{Fast: build.NewMemoryCache(0), Slow: dc}
	}
	return bl, nil
}

func paths(fs *flag.FlagSet) []string {
	if fs.NArg() == 0 {
		return []string{"."}
	}
	return fs.Args()
}

func runBuild(e *env, args []string) int {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	var (
		common commonFlags
		bf     builderFlags
	)
	common.register(fs)
	bf.register(fs)
	if code := parseFlags(fs, e, args); code >= 0 {
		return code
	}

	cfg, err := common.load()
	if err != nil {
		return cli.HandleError(e.stderr, err)
	}
	log := cfg.Logger()
	b, err := bf.builder(cfg, log)
	if err != nil {
		return cli.HandleError(e.stderr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := b.Build(ctx, paths(fs)...)
	if err != nil {
		return cli.HandleError(e.stderr, err)
	}
	for _, f := range rep.Failed {
		fmt.Fprintf(e.stderr, "%s\n%s\n\n", f.Path, diagnostics.Format(f.Err, f.Source))
	}
	fmt.Fprintf(e.stdout, "%d compiled, %d cached, %d failed in %s\n",
		len(rep.Compiled), len(rep.Cached), len(rep.Failed), rep.Took.Round(time.Millisecond))
	if !rep.OK() {
		return exitFailure
	}
	return exitOK
}

func runWatch(e *env, args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	var (
		common commonFlags
		bf     builderFlags
	)
	common.register(fs)
	bf.register(fs)
	debounce := fs.Duration("debounce", watch.DefaultDebounce, "quiet period before a changed file is rebuilt")
	if code := parseFlags(fs, e, args); code >= 0 {
		return code
	}

	cfg, err := common.load()
	if err != nil {
		return cli.HandleError(e.stderr, err)
	}
	cfg.Verbose = true
	log := cfg.Logger()
	b, err := bf.builder(cfg, log)
	if err != nil {
		return cli.HandleError(e.stderr, err)
	}

	w, err := watch.New(b, log)
	if err != nil {
		return cli.HandleError(e.stderr, err)
	}
	w.Debounce = *debounce
	for _, p := range paths(fs) {
		if err := w.Add(p); err != nil {
			w.Close()
			return cli.HandleError(e.stderr, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log.Info("watching %v (Ctrl-C to stop)", paths(fs))
	if err := w.Run(ctx); err != nil {
		return cli.HandleError(e.stderr, err)
	}
	return exitOK
}
