package parser

import (
	"errors"
	"strings"
	"testing"

	"github.com/minipy-lang/minipy/internal/ast"
	"github.com/minipy-lang/minipy/internal/lexer"
)

func parseSource(t *testing.T, input string) (*ast.Block, error) {
	t.Helper()
	tokens, err := lexer.Tokenize(input)
	if err != nil {
		t.Fatalf("tokenize %q: %v", input, err)
	}
	return Parse(tokens)
}

func mustParse(t *testing.T, input string) *ast.Block {
	t.Helper()
	block, err := parseSource(t, input)
	if err != nil {
		t.Fatalf("parse %q: %v", input, err)
	}
	return block
}

func tok(tt lexer.TokenType, lit string, line int) lexer.Token {
	return lexer.Token{Type: tt, Literal: lit, Line: line}
}

// TestParserBasic checks the statement kind produced for each leading token.
func TestParserBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"assignment", "x = 42", "*ast.Assignment"},
		{"print", "print(x)", "*ast.PrintStatement"},
		{"call statement", "greet(1, 2)", "*ast.FunctionCall"},
		{"if", "if x:\n    print(x)", "*ast.Conditional"},
		{"while", "while x < 3:\n    x = x + 1", "*ast.WhileLoop"},
		{"for", "for i in range(3):\n    print(i)", "*ast.ForLoop"},
		{"def", "def f(a, b):\n    return a", "*ast.FunctionDef"},
		{"return", "return", "*ast.ReturnStatement"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block := mustParse(t, tt.input)
			if len(block.Statements) != 1 {
				t.Fatalf("expected 1 statement, got %d", len(block.Statements))
			}
			if got := typeName(block.Statements[0]); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func typeName(n ast.Node) string {
	switch n.(type) {
	case *ast.Assignment:
		return "*ast.Assignment"
	case *ast.PrintStatement:
		return "*ast.PrintStatement"
	case *ast.FunctionCall:
		return "*ast.FunctionCall"
	case *ast.Conditional:
		return "*ast.Conditional"
	case *ast.WhileLoop:
		return "*ast.WhileLoop"
	case *ast.ForLoop:
		return "*ast.ForLoop"
	case *ast.FunctionDef:
		return "*ast.FunctionDef"
	case *ast.ReturnStatement:
		return "*ast.ReturnStatement"
	}
	return "unknown"
}

func TestOperatorPrecedence(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"x = 1 + 2 * 3", "x = (1 + (2 * 3))"},
		{"x = 1 * 2 + 3", "x = ((1 * 2) + 3)"},
		{"x = 1 - 2 - 3", "x = ((1 - 2) - 3)"},
		{"x = 8 / 4 / 2", "x = ((8 / 4) / 2)"},
		{"x = (1 + 2) * 3", "x = ((1 + 2) * 3)"},
		{"x = a + 1 > b * 2", "x = ((a + 1) > (b * 2))"},
		{"x = a == b != c", "x = ((a == b) != c)"},
		{"x = f(1 + 2, g()) <= 3", "x = (f((1 + 2), g()) <= 3)"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := mustParse(t, tt.input).String(); got != tt.expected {
				t.Errorf("expected=%q, got=%q", tt.expected, got)
			}
		})
	}
}

func TestCallDisambiguation(t *testing.T) {
	block := mustParse(t, "run()\nx = run\ny = run(x)")
	if len(block.Statements) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(block.Statements))
	}

	call, ok := block.Statements[0].(*ast.FunctionCall)
	if !ok || !call.Standalone || call.Name != "run" || len(call.Args) != 0 {
		t.Errorf("statement 0: expected standalone call to run, got %#v", block.Statements[0])
	}

	bare := block.Statements[1].(*ast.Assignment)
	if _, ok := bare.Value.(*ast.Identifier); !ok {
		t.Errorf("statement 1: expected identifier value, got %T", bare.Value)
	}

	inner := block.Statements[2].(*ast.Assignment)
	expr, ok := inner.Value.(*ast.FunctionCall)
	if !ok || expr.Standalone {
		t.Errorf("statement 2: expected expression call, got %#v", inner.Value)
	}
}

func TestRangeArguments(t *testing.T) {
	tests := []struct {
		input string
		start string
		stop  string
		step  string
	}{
		{"for i in range(5):\n    print(i)", "0", "5", "1"},
		{"for i in range(2, 10):\n    print(i)", "2", "10", "1"},
		{"for i in range(2, 10, 3):\n    print(i)", "2", "10", "3"},
		{"for i in range(n - 1, 0, 0 - 1):\n    print(i)", "(n - 1)", "0", "(0 - 1)"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			loop, ok := mustParse(t, tt.input).Statements[0].(*ast.ForLoop)
			if !ok {
				t.Fatal("expected a for loop")
			}
			rng := loop.Iterable
			if rng.Start.String() != tt.start || rng.Stop.String() != tt.stop || rng.Step.String() != tt.step {
				t.Errorf("expected range(%s, %s, %s), got %s", tt.start, tt.stop, tt.step, rng)
			}
		})
	}
}

func TestIfElseBodies(t *testing.T) {
	input := "if x > 0:\n    print(1)\n    print(2)\nelse:\n    print(3)\nprint(4)"
	block := mustParse(t, input)
	if len(block.Statements) != 2 {
		t.Fatalf("expected 2 top-level statements, got %d", len(block.Statements))
	}
	cond := block.Statements[0].(*ast.Conditional)
	if len(cond.Body) != 2 || len(cond.Else) != 1 {
		t.Errorf("expected 2 body and 1 else statements, got %d and %d", len(cond.Body), len(cond.Else))
	}

	noElse := mustParse(t, "if x:\n    print(1)").Statements[0].(*ast.Conditional)
	if noElse.Else != nil {
		t.Errorf("expected absent else, got %v", noElse.Else)
	}
}

func TestNestedBlocks(t *testing.T) {
	input := `def count(n):
    i = 0
    while i < n:
        if i == 2:
            print("two")
        i = i + 1
    return i
count(5)`
	block := mustParse(t, input)
	if len(block.Statements) != 2 {
		t.Fatalf("expected 2 top-level statements, got %d", len(block.Statements))
	}
	fn := block.Statements[0].(*ast.FunctionDef)
	if fn.Name != "count" || len(fn.Params) != 1 || len(fn.Body) != 3 {
		t.Fatalf("unexpected function shape: %s", fn)
	}
	loop := fn.Body[1].(*ast.WhileLoop)
	if len(loop.Body) != 2 {
		t.Errorf("expected 2 statements in while body, got %d", len(loop.Body))
	}
}

func TestReturnValueDetection(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		hasValue bool
	}{
		{"bare return before dedent", "def f():\n    return\nx = 1", false},
		{"bare return at end of input", "def f():\n    return", false},
		{"return with value", "def f():\n    return 1 + 2", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := mustParse(t, tt.input).Statements[0].(*ast.FunctionDef)
			ret := fn.Body[0].(*ast.ReturnStatement)
			if (ret.Value != nil) != tt.hasValue {
				t.Errorf("expected hasValue=%v, got value %v", tt.hasValue, ret.Value)
			}
		})
	}
}

func TestSyntaxErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		message string
		line    int
	}{
		{"missing colon after if", "x = 1\nif x > 1\n    print(x)", "expected COLON, got INDENT at line 3", 3},
		{"missing assign", "x 1", "expected ASSIGN, got NUMBER at line 1", 1},
		{"unclosed print", "print(1", "expected RPAREN, got EOF", 1},
		{"bad factor", "x = )", "expected NUMBER or STRING or TRUE or FALSE or ID or LPAREN, got RPAREN at line 1", 1},
		{"stray keyword", "x = 1\nelse:\n    x = 2", "unexpected token ELSE at line 2", 2},
		{"missing loop variable", "for 1 in range(3):\n    print(1)", "expected ID, got NUMBER at line 1", 1},
		{"too many range args", "for i in range(1, 2, 3, 4):\n    print(i)", "expected RPAREN, got COMMA at line 1", 1},
		{"bad parameter", "def f(1):\n    return", "expected ID, got NUMBER at line 1", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block, err := parseSource(t, tt.input)
			if err == nil {
				t.Fatalf("expected error, got tree %s", block)
			}
			if block != nil {
				t.Errorf("expected no partial tree on failure")
			}
			var syn *SyntaxError
			if !errors.As(err, &syn) {
				t.Fatalf("expected *SyntaxError, got %T: %v", err, err)
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("expected message containing %q, got %q", tt.message, err.Error())
			}
			if syn.Line != tt.line && syn.Line != -1 {
				t.Errorf("expected line %d, got %d", tt.line, syn.Line)
			}
		})
	}
}

func TestUnsupportedForIterable(t *testing.T) {
	_, err := parseSource(t, "items = 3\nfor x in items:\n    print(x)")
	var unsupported *UnsupportedError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected *UnsupportedError, got %T: %v", err, err)
	}
	if unsupported.Line != 2 {
		t.Errorf("expected line 2, got %d", unsupported.Line)
	}
	expected := "unsupported feature: for-loop over non-range iterable at line 2"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
	var syn *SyntaxError
	if errors.As(err, &syn) {
		t.Error("unsupported feature must not be reported as a syntax error")
	}
}

func TestIntegerLiteralRange(t *testing.T) {
	if _, err := parseSource(t, "x = 9007199254740991"); err != nil {
		t.Errorf("largest exact integer should parse: %v", err)
	}
	_, err := parseSource(t, "x = 9007199254740992")
	var unsupported *UnsupportedError
	if !errors.As(err, &unsupported) {
		t.Errorf("expected *UnsupportedError for oversized literal, got %v", err)
	}
}

// TestTokenStreamContract drives the parser with a hand-built stream, including a stray
// top-level DEDENT and no explicit EOF token.
func TestTokenStreamContract(t *testing.T) {
	tokens := []lexer.Token{
		tok(lexer.ID, "x", 1),
		tok(lexer.ASSIGN, "=", 1),
		tok(lexer.TRUE, "True", 1),
		tok(lexer.DEDENT, "", 2),
		tok(lexer.PRINT, "print", 2),
		tok(lexer.LPAREN, "(", 2),
		tok(lexer.ID, "x", 2),
		tok(lexer.RPAREN, ")", 2),
	}

	block, err := Parse(tokens)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := block.String(); got != "x = True\nprint(x)" {
		t.Errorf("unexpected program: %q", got)
	}
}

func TestMissingColonAtEndOfStream(t *testing.T) {
	tokens := []lexer.Token{
		tok(lexer.WHILE, "while", 1),
		tok(lexer.ID, "x", 1),
	}
	_, err := Parse(tokens)
	var syn *SyntaxError
	if !errors.As(err, &syn) {
		t.Fatalf("expected *SyntaxError, got %v", err)
	}
	if syn.Found != lexer.EOF || syn.Line != -1 {
		t.Errorf("expected sentinel EOF at line -1, got %s at %d", syn.Found, syn.Line)
	}
	if err.Error() != "expected COLON, got EOF at end of input" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestEmptyProgram(t *testing.T) {
	block := mustParse(t, "\n# only a comment\n")
	if len(block.Statements) != 0 {
		t.Errorf("expected no statements, got %d", len(block.Statements))
	}
}
