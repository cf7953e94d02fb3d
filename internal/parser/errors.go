package parser

import (
	"fmt"
	"strings"

	"github.com/minipy-lang/minipy/internal/lexer"
)

// SyntaxError reports a token that does not fit the grammar at the current position.
// An empty Expected means no statement can start with Found.
type SyntaxError struct {
	Expected []lexer.TokenType
	Found    lexer.TokenType
	Line     int
}

func (e *SyntaxError) Error() string {
	names := make([]string, len(e.Expected))
	for i, tt := range e.Expected {
		names[i] = tt.String()
	}
	msg := fmt.Sprintf("unexpected token %s", e.Found)
	if len(names) > 0 {
		msg = fmt.Sprintf("expected %s, got %s", strings.Join(names, " or "), e.Found)
	}
	if e.Line < 0 {
		return msg + " at end of input"
	}
	return fmt.Sprintf("%s at line %d", msg, e.Line)
}

// UnsupportedError reports a well-formed construct outside the supported language subset.
type UnsupportedError struct {
	Feature string
	Line    int
}

func (e *UnsupportedError) Error() string {
	if e.Line < 0 {
		return fmt.Sprintf("unsupported feature: %s", e.Feature)
	}
	return fmt.Sprintf("unsupported feature: %s at line %d", e.Feature, e.Line)
}
