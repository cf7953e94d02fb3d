// Package cli holds the pieces shared by the minipy command-line tools: version
// reporting, usage output, logging and configuration.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// Version information for all CLI tools
const (
	Version   = "0.3.0"
	BuildDate = "2026-10-19"
	CommitSHA = "unknown" // Will be set during build

	// LanguageVersion is the minipy dialect accepted by the compiler. Clients pin it with
	// a semver constraint.
	LanguageVersion = "1.2.0"
)

// VersionInfo contains version and build information
type VersionInfo struct {
	Version         string `json:"version"`
	LanguageVersion string `json:"language_version"`
	BuildDate       string `json:"build_date"`
	CommitSHA       string `json:"commit_sha"`
	GoVersion       string `json:"go_version"`
	Platform        string `json:"platform"`
	Arch            string `json:"arch"`
}

// GetVersionInfo returns structured version information
func GetVersionInfo() *VersionInfo {
	return &VersionInfo{
		Version:         Version,
		LanguageVersion: LanguageVersion,
		BuildDate:       BuildDate,
		CommitSHA:       CommitSHA,
		GoVersion:       runtime.Version(),
		Platform:        runtime.GOOS,
		Arch:            runtime.GOARCH,
	}
}

// PrintVersion prints version information to stdout.
func PrintVersion(toolName string, jsonOutput bool) {
	FprintVersion(os.Stdout, toolName, jsonOutput)
}

// FprintVersion writes version information to w, as JSON or plain text.
func FprintVersion(w io.Writer, toolName string, jsonOutput bool) {
	info := GetVersionInfo()

	if jsonOutput {
		data, err := json.MarshalIndent(map[string]interface{}{
			"tool":         toolName,
			"version_info": info,
		}, "", "  ")
		if err == nil {
			fmt.Fprintln(w, string(data))
			return
		}
		fmt.Fprintf(os.Stderr, "Error: Failed to marshal version info to JSON: %v\n", err)
	}

	fmt.Fprintf(w, "%s v%s\n", toolName, info.Version)
	fmt.Fprintf(w, "Language: minipy %s\n", info.LanguageVersion)
	fmt.Fprintf(w, "Build Date: %s\n", info.BuildDate)
	if info.CommitSHA != "unknown" && info.CommitSHA != "" {
		fmt.Fprintf(w, "Commit: %s\n", info.CommitSHA)
	}
	fmt.Fprintf(w, "Go Version: %s\n", info.GoVersion)
	fmt.Fprintf(w, "Platform: %s/%s\n", info.Platform, info.Arch)
}

// Exit codes shared by the command-line tools.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// ExitWithError prints an error message and exits with ExitFailure.
func ExitWithError(format string, args ...interface{}) {
	os.Exit(HandleError(os.Stderr, fmt.Errorf(format, args...)))
}

// CommandInfo represents information about a CLI command
type CommandInfo struct {
	Name        string
	Usage       string
	Description string
	Examples    []string
	Flags       []FlagInfo
}

// FlagInfo represents information about a command flag
type FlagInfo struct {
	Name     string
	Short    string
	Usage    string
	Default  string
	Required bool
}

// PrintUsage prints a standardized usage message
func PrintUsage(w io.Writer, tool string, commands []CommandInfo) {
	fmt.Fprintf(w, "%s - minipy to JavaScript compiler\n\n", tool)
	fmt.Fprintf(w, "USAGE:\n")
	fmt.Fprintf(w, "    %s <command> [OPTIONS]\n\n", tool)

	if len(commands) > 0 {
		fmt.Fprintf(w, "COMMANDS:\n")
		for _, cmd := range commands {
			fmt.Fprintf(w, "    %-12s %s\n", cmd.Name, cmd.Description)
		}
		fmt.Fprintf(w, "\n")
	}

	fmt.Fprintf(w, "GLOBAL OPTIONS:\n")
	fmt.Fprintf(w, "    --help, -h     Show help information\n")
	fmt.Fprintf(w, "    --version, -v  Show version information\n")
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Use '%s help <command>' for more information about a command.\n", tool)
}

// PrintCommandUsage prints usage for a specific command
func PrintCommandUsage(w io.Writer, tool string, cmd CommandInfo) {
	fmt.Fprintf(w, "%s %s - %s\n\n", tool, cmd.Name, cmd.Description)
	fmt.Fprintf(w, "USAGE:\n")
	fmt.Fprintf(w, "    %s\n\n", cmd.Usage)

	if len(cmd.Flags) > 0 {
		fmt.Fprintf(w, "OPTIONS:\n")
		for _, flag := range cmd.Flags {
			flagStr := fmt.Sprintf("    --%s", flag.Name)
			if flag.Short != "" {
				flagStr += fmt.Sprintf(", -%s", flag.Short)
			}

			required := ""
			if flag.Required {
				required = " (required)"
			}

			fmt.Fprintf(w, "%-20s %s%s\n", flagStr, flag.Usage, required)
			if flag.Default != "" {
				fmt.Fprintf(w, "%-20s Default: %s\n", "", flag.Default)
			}
		}
		fmt.Fprintf(w, "\n")
	}

	if len(cmd.Examples) > 0 {
		fmt.Fprintf(w, "EXAMPLES:\n")
		for _, example := range cmd.Examples {
			fmt.Fprintf(w, "    %s\n", example)
		}
		fmt.Fprintf(w, "\n")
	}
}

// FindCommand returns the command named name.
func FindCommand(commands []CommandInfo, name string) (CommandInfo, bool) {
	for _, c := range commands {
		if c.Name == name {
			return c, true
		}
	}
	return CommandInfo{}, false
}

// UsageError is a malformed command line. HandleError maps it to ExitUsage.
type UsageError struct {
	Message string
	Usage   string
}

func (e *UsageError) Error() string {
	if e.Usage == "" {
		return e.Message
	}
	return e.Message + "\nUsage: " + e.Usage
}

// ValidateArgs checks the number of positional arguments. A negative maxArgs means no
// upper bound.
func ValidateArgs(args []string, minArgs, maxArgs int, usage string) error {
	switch {
	case len(args) < minArgs:
		return &UsageError{Message: "insufficient arguments", Usage: usage}
	case maxArgs >= 0 && len(args) > maxArgs:
		return &UsageError{Message: "unexpected arguments: " + strings.Join(args[maxArgs:], " "), Usage: usage}
	}
	return nil
}

// HandleError reports err on w and returns the exit code for it.
func HandleError(w io.Writer, err error) int {
	if err == nil {
		return ExitOK
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	var ue *UsageError
	if errors.As(err, &ue) {
		return ExitUsage
	}
	return ExitFailure
}
