package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/minipy-lang/minipy/internal/cli"
	"github.com/minipy-lang/minipy/internal/diagnostics"
	"github.com/minipy-lang/minipy/internal/transpiler"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		showHelp    = flag.Bool("help", false, "show help information")
		jsonOutput  = flag.Bool("json", false, "output version in JSON format")
		debugMode   = flag.Bool("debug", false, "enable debug mode")
		noPrompt    = flag.Bool("no-prompt", false, "disable interactive prompt")
		evalStr     = flag.String("eval", "", "compile source and exit")
		loadFile    = flag.String("load", "", "compile file before starting REPL")
		historyFile = flag.String("history", ".minipy_history", "history file path")
		maxHistory  = flag.Int("max-history", 1000, "maximum history entries")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Interactive minipy to JavaScript compiler.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\n")
		printCommands(os.Stderr)
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s                          # Start interactive REPL\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --eval \"print(1 + 2)\"    # Compile and exit\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --load lib.py            # Compile file and start REPL\n", os.Args[0])
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if *showVersion {
		cli.PrintVersion("minipy REPL", *jsonOutput)
		os.Exit(0)
	}

	repl := NewREPL(os.Stdin, os.Stdout, *debugMode)
	repl.historyFile = *historyFile
	repl.maxHistory = *maxHistory

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nGoodbye!")
		repl.SaveHistory()
		os.Exit(0)
	}()

	repl.LoadHistory()

	if *loadFile != "" {
		if err := repl.LoadFile(*loadFile); err != nil {
			cli.ExitWithError("failed to load file %s: %v", *loadFile, err)
		}
	}

	if *evalStr != "" {
		js, err := repl.Evaluate(*evalStr)
		if err != nil {
			fmt.Fprintln(os.Stderr, diagnostics.Format(err, *evalStr))
			os.Exit(1)
		}
		fmt.Println(js)
		os.Exit(0)
	}

	if !*noPrompt {
		repl.PrintWelcome()
	}

	repl.Run(*noPrompt)
}

// REPL reads minipy snippets and prints their JavaScript. A line ending in ':' opens a
// block that is collected until a blank line.
type REPL struct {
	in       *bufio.Scanner
	out      io.Writer
	compiler transpiler.Compiler

	debug      bool
	showTokens bool
	showAST    bool

	historyFile string
	maxHistory  int
	history     []string
}

// NewREPL creates a REPL reading from in and writing to out.
func NewREPL(in io.Reader, out io.Writer, debug bool) *REPL {
	var log *cli.Logger
	if debug {
		log = cli.NewLoggerWithOptions(cli.LogOptions{Level: "debug", Output: out})
	}
	return &REPL{
		in:         bufio.NewScanner(in),
		out:        out,
		compiler:   transpiler.New(log),
		debug:      debug,
		maxHistory: 1000,
	}
}

func (r *REPL) PrintWelcome() {
	info := cli.GetVersionInfo()
	fmt.Fprintf(r.out, "minipy REPL v%s (language %s)\n", info.Version, info.LanguageVersion)
	fmt.Fprintf(r.out, "Type :help for help, :quit to exit\n")
	fmt.Fprintln(r.out)
}

// Run reads until end of input or :quit.
func (r *REPL) Run(noPrompt bool) {
	var block []string
	prompt := func() {
		if noPrompt {
			return
		}
		if len(block) > 0 {
			fmt.Fprint(r.out, "... ")
		} else {
			fmt.Fprint(r.out, ">>> ")
		}
	}

	for prompt(); r.in.Scan(); prompt() {
		line := strings.TrimRight(r.in.Text(), " \t\r")

		if len(block) > 0 {
			if strings.TrimSpace(line) != "" {
				block = append(block, line)
				continue
			}
			r.submit(strings.Join(block, "\n"))
			block = nil
			continue
		}

		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			continue
		case strings.HasPrefix(trimmed, ":"):
			if r.HandleCommand(trimmed) {
				r.SaveHistory()
				return
			}
		case strings.HasSuffix(trimmed, ":"):
			block = append(block, line)
		default:
			r.submit(line)
		}
	}

	if len(block) > 0 {
		r.submit(strings.Join(block, "\n"))
	}
	r.SaveHistory()
}

func (r *REPL) submit(source string) {
	r.AddToHistory(source)
	js, err := r.Evaluate(source)
	if err != nil {
		fmt.Fprintln(r.out, diagnostics.Format(err, source))
		return
	}
	fmt.Fprintln(r.out, js)
}

// Evaluate compiles source and returns the JavaScript, preceded by the token stream and
// syntax tree when those are switched on.
func (r *REPL) Evaluate(source string) (string, error) {
	res, err := r.compiler.Compile(context.Background(), source)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if r.showTokens {
		fmt.Fprintf(&b, "Tokens: %s\n", strings.Join(res.Tokens, " "))
	}
	if r.showAST {
		fmt.Fprintf(&b, "AST:\n%s\n", res.AST)
	}
	b.WriteString(res.JS)
	return b.String(), nil
}

func (r *REPL) HandleCommand(cmd string) bool {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false
	}

	switch parts[0] {
	case ":help", ":h":
		printCommands(r.out)
	case ":quit", ":q", ":exit":
		fmt.Fprintln(r.out, "Goodbye!")
		return true
	case ":tokens":
		r.showTokens = toggle(r.out, "Token display", r.showTokens, parts[1:])
	case ":ast":
		r.showAST = toggle(r.out, "AST display", r.showAST, parts[1:])
	case ":load":
		if len(parts) < 2 {
			fmt.Fprintln(r.out, "Usage: :load <file>")
		} else if err := r.LoadFile(parts[1]); err != nil {
			fmt.Fprintf(r.out, "Error loading file: %v\n", err)
		}
	case ":save":
		if len(parts) < 2 {
			fmt.Fprintln(r.out, "Usage: :save <file>")
		} else if err := r.SaveSession(parts[1]); err != nil {
			fmt.Fprintf(r.out, "Error saving session: %v\n", err)
		}
	case ":history":
		r.ShowHistory()
	case ":clear", ":c":
		fmt.Fprint(r.out, "\033[2J\033[H")
	default:
		fmt.Fprintf(r.out, "Unknown command: %s\n", parts[0])
		fmt.Fprintln(r.out, "Type :help for available commands")
	}

	return false
}

func toggle(w io.Writer, what string, cur bool, args []string) bool {
	next := !cur
	if len(args) > 0 {
		switch args[0] {
		case "on", "true", "1":
			next = true
		case "off", "false", "0":
			next = false
		default:
			fmt.Fprintln(w, "Usage: :tokens|:ast [on|off]")
			return cur
		}
	}
	state := "disabled"
	if next {
		state = "enabled"
	}
	fmt.Fprintf(w, "%s %s\n", what, state)
	return next
}

func printCommands(w io.Writer) {
	fmt.Fprintln(w, "REPL COMMANDS:")
	fmt.Fprintln(w, "  :help, :h          Show this help")
	fmt.Fprintln(w, "  :quit, :q, :exit   Exit REPL")
	fmt.Fprintln(w, "  :tokens [on|off]   Toggle token display")
	fmt.Fprintln(w, "  :ast [on|off]      Toggle syntax tree display")
	fmt.Fprintln(w, "  :load <file>       Compile a file")
	fmt.Fprintln(w, "  :save <file>       Save session input")
	fmt.Fprintln(w, "  :history           Show input history")
	fmt.Fprintln(w, "  :clear, :c         Clear screen")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "A line ending in ':' starts a block; finish it with an empty line.")
}

func (r *REPL) LoadFile(filename string) error {
	content, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	js, err := r.Evaluate(string(content))
	if err != nil {
		return fmt.Errorf("\n%s", diagnostics.Format(err, string(content)))
	}
	fmt.Fprintln(r.out, js)
	return nil
}

func (r *REPL) SaveSession(filename string) error {
	content := strings.Join(r.history, "\n\n")
	if err := os.WriteFile(filename, []byte(content+"\n"), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Session saved to: %s\n", filename)
	return nil
}

func (r *REPL) AddToHistory(entry string) {
	r.history = append(r.history, entry)
	if r.maxHistory > 0 && len(r.history) > r.maxHistory {
		r.history = r.history[len(r.history)-r.maxHistory:]
	}
}

func (r *REPL) ShowHistory() {
	if len(r.history) == 0 {
		fmt.Fprintln(r.out, "No history")
		return
	}
	fmt.Fprintln(r.out, "Input history:")
	for i, entry := range r.history {
		fmt.Fprintf(r.out, "%3d: %s\n", i+1, strings.ReplaceAll(entry, "\n", "\n     "))
	}
}

// History entries are separated by NUL so multi-line blocks survive a round trip.
const historySep = "\x00"

func (r *REPL) LoadHistory() {
	if r.historyFile == "" {
		return
	}
	content, err := os.ReadFile(r.historyFile)
	if err != nil {
		return
	}
	for _, entry := range strings.Split(string(content), historySep) {
		if strings.TrimSpace(entry) != "" {
			r.history = append(r.history, entry)
		}
	}
	if r.maxHistory > 0 && len(r.history) > r.maxHistory {
		r.history = r.history[len(r.history)-r.maxHistory:]
	}
}

func (r *REPL) SaveHistory() {
	if r.historyFile == "" || len(r.history) == 0 {
		return
	}
	_ = os.WriteFile(r.historyFile, []byte(strings.Join(r.history, historySep)), 0o644)
}
