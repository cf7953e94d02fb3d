package transpiler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/minipy-lang/minipy/internal/ast"
	"github.com/minipy-lang/minipy/internal/cli"
	"github.com/minipy-lang/minipy/internal/lexer"
	"github.com/minipy-lang/minipy/internal/parser"
)

func compileJS(t *testing.T, source string) string {
	t.Helper()
	res, err := Compile(context.Background(), source)
	if err != nil {
		t.Fatalf("compile %q: %v", source, err)
	}
	return res.JS
}

func TestProgramLowering(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "declare once",
			input:    "x = 1\nx = 2\nprint(x)",
			expected: "let x = 1;\nx = 2;\nconsole.log(x);",
		},
		{
			name:     "parameter never redeclared",
			input:    "def f(a):\n    a = a + 1\n    return a",
			expected: "function f(a) {\n    a = (a + 1);\n    return a;\n}",
		},
		{
			name:     "range with stop only",
			input:    "for i in range(5):\n    print(i)",
			expected: "for (let i = 0; i < 5; i++) {\n    console.log(i);\n}",
		},
		{
			name:     "range with step",
			input:    "for i in range(2, 10, 3):\n    print(i)",
			expected: "for (let i = 2; i < 10; i += 3) {\n    console.log(i);\n}",
		},
		{
			name:     "multiplicative precedence",
			input:    "print(1 + 2 * 3)",
			expected: "console.log((1 + (2 * 3)));",
		},
		{
			name:     "if else",
			input:    "x = 3\nif x > 2:\n    print(\"big\")\nelse:\n    print(\"small\")",
			expected: "let x = 3;\nif ((x > 2)) {\n    console.log(\"big\");\n} else {\n    console.log(\"small\");\n}",
		},
		{
			name:     "if without else",
			input:    "if True:\n    print(False)",
			expected: "if (true) {\n    console.log(false);\n}",
		},
		{
			name:     "while with nested assignment",
			input:    "n = 0\nwhile n < 3:\n    n = n + 1\n    m = n",
			expected: "let n = 0;\nwhile ((n < 3)) {\n    n = (n + 1);\n    let m = n;\n}",
		},
		{
			name:     "call statement and call expression",
			input:    "def add(a, b):\n    return a + b\nshow(add(1, 2))",
			expected: "function add(a, b) {\n    return (a + b);\n}\nshow(add(1, 2));",
		},
		{
			name:     "bare return",
			input:    "def stop():\n    return\nstop()",
			expected: "function stop() {\n    return;\n}\nstop();",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := compileJS(t, tt.input); got != tt.expected {
				t.Errorf("expected:\n%s\ngot:\n%s", tt.expected, got)
			}
		})
	}
}

func TestDeclarationCountPerScope(t *testing.T) {
	source := `total = 0
for i in range(3):
    total = total + i
    total = total * 2
def f(total):
    count = 1
    count = count + total
    return count
def g():
    count = 2
    return count
total = f(total)`

	js := compileJS(t, source)

	if n := strings.Count(js, "let total"); n != 1 {
		t.Errorf("expected one declaration of total, got %d in:\n%s", n, js)
	}
	if n := strings.Count(js, "let count"); n != 2 {
		t.Errorf("expected count declared once per function, got %d in:\n%s", n, js)
	}
	if strings.Contains(js, "let total = (total") {
		t.Errorf("parameter redeclared inside function:\n%s", js)
	}
}

func TestFunctionNameDeclaredInEnclosingScope(t *testing.T) {
	js := compileJS(t, "def f():\n    return 1\nf = 2")
	if !strings.HasSuffix(js, "\nf = 2;") {
		t.Errorf("function name should count as declared:\n%s", js)
	}
}

func TestResultFields(t *testing.T) {
	res, err := Compile(context.Background(), "x = 1 + 2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Output != "x = (1 + 2)" {
		t.Errorf("output: got %q", res.Output)
	}
	if len(res.Tokens) != 6 || res.Tokens[0] != `Token(ID, 'x', line 1)` || !strings.HasPrefix(res.Tokens[5], "Token(EOF") {
		t.Errorf("tokens: got %v", res.Tokens)
	}
	if !strings.HasPrefix(res.AST, "Block\n  Assignment\n") {
		t.Errorf("ast: got %q", res.AST)
	}
	if res.JS != "let x = (1 + 2);" {
		t.Errorf("js: got %q", res.JS)
	}
}

func TestFailFast(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(error) bool
	}{
		{"missing colon", "x = 1\nif x > 1\n    print(x)", func(err error) bool {
			var syn *parser.SyntaxError
			return errors.As(err, &syn) && syn.Line == 3 && len(syn.Expected) == 1 && syn.Expected[0] == lexer.COLON
		}},
		{"unsupported iterable", "for x in y:\n    print(x)", func(err error) bool {
			var u *parser.UnsupportedError
			return errors.As(err, &u)
		}},
		{"lexical", "x = 1 $ 2", func(err error) bool {
			var lx *lexer.Error
			return errors.As(err, &lx) && lx.Line == 1
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Compile(context.Background(), tt.input)
			if err == nil {
				t.Fatalf("expected error, got %+v", res)
			}
			if res != nil {
				t.Error("no partial result may be returned on failure")
			}
			if !tt.check(err) {
				t.Errorf("unexpected error %T: %v", err, err)
			}
			if IsInternal(err) {
				t.Errorf("user error classified as internal: %v", err)
			}
		})
	}
}

func TestCompileHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Compile(ctx, "x = 1"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestTranspileRecoversDefect(t *testing.T) {
	root := &ast.Block{Statements: []ast.Statement{
		&ast.PrintStatement{Value: &ast.NumberLiteral{Value: 1}},
		nil,
	}}
	js, err := Transpile(root)
	if js != "" {
		t.Errorf("expected no partial output, got %q", js)
	}
	var defect *ast.GenerateDefectError
	if !errors.As(err, &defect) {
		t.Fatalf("expected *ast.GenerateDefectError, got %v", err)
	}
	if !IsInternal(err) {
		t.Error("defect should be classified as internal")
	}

	if _, err := Transpile(nil); err == nil {
		t.Error("expected error for nil program")
	}
}

func TestPipelineLogsPhases(t *testing.T) {
	var buf bytes.Buffer
	p := New(cli.NewLoggerWithOptions(cli.LogOptions{Level: "debug", Output: &buf}))
	if _, err := p.Compile(context.Background(), "print(1)"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, phase := range []string{"lexing complete", "parsing complete", "generation complete"} {
		if !strings.Contains(buf.String(), phase) {
			t.Errorf("missing %q in log output:\n%s", phase, buf.String())
		}
	}
}

func TestCompileFileWrapsErrors(t *testing.T) {
	_, err := CompileFile(context.Background(), New(nil), "bad.py", "x =")
	var fe *FileError
	if !errors.As(err, &fe) || fe.Path != "bad.py" || fe.Source != "x =" {
		t.Fatalf("expected *FileError for bad.py, got %v", err)
	}
	var syn *parser.SyntaxError
	if !errors.As(err, &syn) {
		t.Errorf("FileError should unwrap to the syntax error, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "bad.py: ") {
		t.Errorf("unexpected message %q", err.Error())
	}
}
