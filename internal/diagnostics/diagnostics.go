// Package diagnostics renders compilation errors for people: the offending source line,
// a caret for syntax errors and the raw error text.
package diagnostics

import (
	"errors"
	"fmt"
	"strings"

	"github.com/minipy-lang/minipy/internal/lexer"
	"github.com/minipy-lang/minipy/internal/parser"
)

// Category classifies a compilation error.
type Category string

const (
	CategorySyntax      Category = "syntax"
	CategoryUnsupported Category = "unsupported"
	CategoryLexical     Category = "lexical"
	CategoryInternal    Category = "internal"
)

const (
	colorRed   = "\033[31m"
	colorBold  = "\033[1m"
	colorReset = "\033[0m"
)

// Diagnostic is the structured form of a compilation error.
type Diagnostic struct {
	Kind    Category `json:"kind"`
	Line    int      `json:"line,omitempty"`
	Message string   `json:"message"`
	Detail  string   `json:"detail"`
}

// Kind classifies err. Anything that is not a user input error is internal.
func Kind(err error) Category {
	var (
		syn *parser.SyntaxError
		uns *parser.UnsupportedError
		lex *lexer.Error
	)
	switch {
	case errors.As(err, &syn):
		return CategorySyntax
	case errors.As(err, &uns):
		return CategoryUnsupported
	case errors.As(err, &lex):
		return CategoryLexical
	}
	return CategoryInternal
}

// Line returns the 1-based source line err refers to, if any.
func Line(err error) (int, bool) {
	var (
		syn *parser.SyntaxError
		uns *parser.UnsupportedError
		lex *lexer.Error
	)
	line := -1
	switch {
	case errors.As(err, &syn):
		line = syn.Line
	case errors.As(err, &uns):
		line = uns.Line
	case errors.As(err, &lex):
		line = lex.Line
	}
	return line, line > 0
}

// Format renders err against source:
//
//	Error in line N:
//
//	<source line>
//	<caret, syntax errors only>
//
//	<raw error>
func Format(err error, source string) string {
	return format(err, source, false)
}

// FormatColor is Format with ANSI colouring of the header and caret.
func FormatColor(err error, source string) string {
	return format(err, source, true)
}

// Describe returns the structured diagnostic with the plain-text rendering as Detail.
func Describe(err error, source string) Diagnostic {
	d := Diagnostic{Kind: Kind(err), Message: err.Error(), Detail: Format(err, source)}
	if line, ok := Line(err); ok {
		d.Line = line
	}
	return d
}

func format(err error, source string, colorize bool) string {
	var b strings.Builder

	line, ok := Line(err)
	header := "Error:"
	if ok {
		header = fmt.Sprintf("Error in line %d:", line)
	}
	if colorize {
		header = colorRed + colorBold + header + colorReset
	}
	b.WriteString(header + "\n")

	if text := sourceLine(source, line); text != "" {
		b.WriteString("\n" + text + "\n")
		if Kind(err) == CategorySyntax {
			caret := "^"
			if colorize {
				caret = colorRed + caret + colorReset
			}
			b.WriteString(strings.Repeat(" ", leadingWhitespace(text)) + caret + "\n")
		}
	}

	b.WriteString("\n" + err.Error())
	return b.String()
}

// sourceLine returns line n of source, or "" when n is out of range.
func sourceLine(source string, n int) string {
	if n < 1 {
		return ""
	}
	lines := strings.Split(source, "\n")
	if n > len(lines) {
		return ""
	}
	return strings.TrimSuffix(lines[n-1], "\r")
}

func leadingWhitespace(s string) int {
	return len(s) - len(strings.TrimLeft(s, " \t"))
}

// IsInternal reports whether err is a compiler defect rather than a problem with the input.
func IsInternal(err error) bool {
	return Kind(err) == CategoryInternal
}
