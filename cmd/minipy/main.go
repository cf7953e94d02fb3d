// Package main provides the minipy command-line tool. It routes subcommands to their
// handlers; each handler parses its own flags.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/minipy-lang/minipy/internal/cli"
)

const toolName = "minipy"

const (
	exitOK      = cli.ExitOK
	exitFailure = cli.ExitFailure
	exitUsage   = cli.ExitUsage
)

// env carries the process streams so commands can be driven from tests.
type env struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

type command struct {
	info cli.CommandInfo
	run  func(e *env, args []string) int
}

func commands() []command {
	return []command{
		{info: compileInfo, run: runCompile},
		{info: buildInfo, run: runBuild},
		{info: watchInfo, run: runWatch},
		{info: serveInfo, run: runServe},
		{info: cli.CommandInfo{Name: "version", Usage: "minipy version [--json]", Description: "Print version information"}, run: runVersion},
		{info: cli.CommandInfo{Name: "help", Usage: "minipy help [command]", Description: "Show help for a command"}, run: runHelp},
	}
}

func main() {
	os.Exit(run(&env{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}, os.Args[1:]))
}

func run(e *env, args []string) int {
	if len(args) == 0 {
		usage(e.stderr)
		return exitUsage
	}

	sub, rest := args[0], args[1:]
	switch sub {
	case "-h", "--help":
		sub = "help"
	case "-v", "--version":
		sub = "version"
	}
	for _, c := range commands() {
		if c.info.Name == sub {
			return c.run(e, rest)
		}
	}
	fmt.Fprintf(e.stderr, "unknown subcommand: %s\n", sub)
	usage(e.stderr)
	return exitUsage
}

func commandInfos() []cli.CommandInfo {
	cmds := commands()
	infos := make([]cli.CommandInfo, len(cmds))
	for i, c := range cmds {
		infos[i] = c.info
	}
	return infos
}

func usage(w io.Writer) {
	cli.PrintUsage(w, toolName, commandInfos())
}

func runHelp(e *env, args []string) int {
	if len(args) == 0 {
		usage(e.stdout)
		return exitOK
	}
	info, ok := cli.FindCommand(commandInfos(), args[0])
	if !ok {
		fmt.Fprintf(e.stderr, "unknown command: %s\n", args[0])
		return exitUsage
	}
	cli.PrintCommandUsage(e.stdout, toolName, info)
	return exitOK
}

func runVersion(e *env, args []string) int {
	jsonOutput := false
	for _, arg := range args {
		if arg == "--json" || arg == "-j" {
			jsonOutput = true
		}
	}
	cli.FprintVersion(e.stdout, "minipy", jsonOutput)
	return exitOK
}
