package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	semver "github.com/Masterminds/semver/v3"

	"github.com/minipy-lang/minipy/internal/cli"
	"github.com/minipy-lang/minipy/internal/diagnostics"
	"github.com/minipy-lang/minipy/internal/transpiler"
)

var compileInfo = cli.CommandInfo{
	Name:        "compile",
	Usage:       "minipy compile [OPTIONS] [file.py | -]",
	Description: "Compile one source file to JavaScript",
	Flags: []cli.FlagInfo{
		{Name: "out", Short: "o", Usage: "write JavaScript to this file instead of stdout"},
		{Name: "tokens", Usage: "print the token stream"},
		{Name: "ast", Usage: "print the syntax tree"},
		{Name: "echo", Usage: "print the parsed program rendered back as source"},
		{Name: "json", Usage: "print the whole compilation result as JSON"},
		{Name: "requires", Usage: "semver constraint the language version must satisfy"},
		{Name: "color", Usage: "colour diagnostics: auto, always or never", Default: "auto"},
	},
	Examples: []string{
		"minipy compile hello.py",
		"echo 'print(1)' | minipy compile --tokens -",
		"minipy compile --requires '^1.2' -o app.js app.py",
	},
}

// commonFlags are accepted by every command that logs.
type commonFlags struct {
	verbose bool
	debug   bool
	config  string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.BoolVar(&c.verbose, "v", false, "verbose logging")
	fs.BoolVar(&c.debug, "debug", false, "debug logging")
	fs.StringVar(&c.config, "config", "", "configuration file (JSON)")
}

// load reads the configuration file and environment, then applies the logging flags.
func (c *commonFlags) load() (*cli.Config, error) {
	cfg, err := cli.Load(c.config)
	if err != nil {
		return nil, err
	}
	cfg.Verbose = cfg.Verbose || c.verbose
	cfg.Debug = cfg.Debug || c.debug
	return cfg, nil
}

// parseFlags parses args into fs. It returns a non-negative exit code when the caller
// should stop.
func parseFlags(fs *flag.FlagSet, e *env, args []string) int {
	fs.SetOutput(e.stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	return -1
}

func runCompile(e *env, args []string) int {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	var (
		out        string
		showTokens = fs.Bool("tokens", false, "print the token stream")
		showAST    = fs.Bool("ast", false, "print the syntax tree")
		echo       = fs.Bool("echo", false, "print the parsed program rendered back as source")
		asJSON     = fs.Bool("json", false, "print the whole compilation result as JSON")
		requires   = fs.String("requires", "", "semver constraint the language version must satisfy")
		color      = fs.String("color", "auto", "colour diagnostics: auto, always or never")
	)
	fs.StringVar(&out, "out", "", "write JavaScript to this file instead of stdout")
	fs.StringVar(&out, "o", "", "shorthand for --out")
	if code := parseFlags(fs, e, args); code >= 0 {
		return code
	}
	if err := cli.ValidateArgs(fs.Args(), 0, 1, compileInfo.Usage); err != nil {
		return cli.HandleError(e.stderr, err)
	}

	cfg, err := common.load()
	if err != nil {
		return cli.HandleError(e.stderr, err)
	}
	log := cfg.Logger()

	if err := checkLanguage(*requires); err != nil {
		return cli.HandleError(e.stderr, err)
	}

	name := fs.Arg(0)
	source, err := readSource(e.stdin, name)
	if err != nil {
		return cli.HandleError(e.stderr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := transpiler.New(log).Compile(ctx, source)
	if err != nil {
		if diagnostics.IsInternal(err) {
			log.Error("internal compiler error: %v", err)
		}
		if useColor(*color, e.stderr) {
			fmt.Fprintln(e.stderr, diagnostics.FormatColor(err, source))
		} else {
			fmt.Fprintln(e.stderr, diagnostics.Format(err, source))
		}
		return exitFailure
	}

	if *asJSON {
		enc := json.NewEncoder(e.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return cli.HandleError(e.stderr, err)
		}
		return exitOK
	}

	if *showTokens {
		fmt.Fprintln(e.stdout, "Tokens:")
		for _, t := range res.Tokens {
			fmt.Fprintf(e.stdout, "  %s\n", t)
		}
		fmt.Fprintln(e.stdout)
	}
	if *showAST {
		fmt.Fprintf(e.stdout, "AST:\n%s\n", res.AST)
	}
	if *echo {
		fmt.Fprintf(e.stdout, "Output:\n%s\n\n", res.Output)
	}

	if out != "" {
		if err := os.WriteFile(out, []byte(res.JS+"\n"), 0o644); err != nil {
			return cli.HandleError(e.stderr, err)
		}
		log.Info("wrote %s", out)
		return exitOK
	}
	fmt.Fprintln(e.stdout, res.JS)
	return exitOK
}

// readSource reads the named file, or stdin when name is empty or "-".
func readSource(stdin io.Reader, name string) (string, error) {
	if name == "" || name == "-" {
		b, err := io.ReadAll(stdin)
		return string(b), err
	}
	b, err := os.ReadFile(name)
	return string(b), err
}

// checkLanguage fails unless the compiled language version satisfies constraint.
func checkLanguage(constraint string) error {
	if constraint == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid --requires %q: %w", constraint, err)
	}
	v := semver.MustParse(cli.LanguageVersion)
	if ok, errs := c.Validate(v); !ok {
		return fmt.Errorf("language version %s does not satisfy %q: %v", v, constraint, errors.Join(errs...))
	}
	return nil
}

func useColor(mode string, w io.Writer) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	f, ok := w.(*os.File)
	return ok && cli.IsTerminal(f.Fd())
}
