// Package transpiler drives a full compilation: tokenize, parse and generate JavaScript.
package transpiler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/minipy-lang/minipy/internal/ast"
	"github.com/minipy-lang/minipy/internal/cli"
	"github.com/minipy-lang/minipy/internal/lexer"
	"github.com/minipy-lang/minipy/internal/parser"
)

// Result is everything produced by a successful compilation.
type Result struct {
	Output string   `json:"output"` // source-like rendering of the parsed program
	Tokens []string `json:"tokens"`
	AST    string   `json:"ast"`
	JS     string   `json:"js"`
}

// Compiler compiles minipy source into a Result.
//
//go:generate mockgen -destination=mocks/mock_compiler.go -package=mocks github.com/minipy-lang/minipy/internal/transpiler Compiler
type Compiler interface {
	Compile(ctx context.Context, source string) (*Result, error)
}

// Pipeline is the default Compiler. The zero value is ready to use.
type Pipeline struct {
	Logger *cli.Logger
}

// New returns a pipeline that logs phase timings to log. log may be nil.
func New(log *cli.Logger) *Pipeline {
	return &Pipeline{Logger: log}
}

// Compile runs the three phases in order. Cancellation is checked between phases only.
func (p *Pipeline) Compile(ctx context.Context, source string) (*Result, error) {
	log := p.Logger
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	tokens, err := lexer.Tokenize(source)
	if err != nil {
		return nil, err
	}
	log.Debug("lexing complete: %d tokens in %s", len(tokens), time.Since(start))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start = time.Now()
	root, err := parser.Parse(tokens)
	if err != nil {
		return nil, err
	}
	log.Debug("parsing complete: %d nodes in %s", ast.Count(root), time.Since(start))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start = time.Now()
	js, err := Transpile(root)
	if err != nil {
		return nil, err
	}
	log.Debug("generation complete: %d bytes in %s", len(js), time.Since(start))

	rendered := make([]string, len(tokens))
	for i, t := range tokens {
		rendered[i] = t.String()
	}
	return &Result{
		Output: root.String(),
		Tokens: rendered,
		AST:    root.Tree(0),
		JS:     js,
	}, nil
}

// Compile compiles source with a pipeline that does not log.
func Compile(ctx context.Context, source string) (*Result, error) {
	return (&Pipeline{}).Compile(ctx, source)
}

// Transpile generates JavaScript for root against a fresh top-level scope. A generation
// defect is returned as an error; no partial output is produced.
func Transpile(root *ast.Block) (js string, err error) {
	if root == nil {
		return "", &ast.GenerateDefectError{Node: "<nil>", Reason: "no program"}
	}
	defer func() {
		if r := recover(); r != nil {
			defect, ok := r.(*ast.GenerateDefectError)
			if !ok {
				panic(r)
			}
			js, err = "", defect
		}
	}()
	return root.Generate(0, ast.NewContext()), nil
}

// IsInternal reports whether err signals a compiler defect rather than bad input.
func IsInternal(err error) bool {
	var defect *ast.GenerateDefectError
	var factory *ast.FactoryError
	return errors.As(err, &defect) || errors.As(err, &factory)
}

// CompileFile is a convenience for tools that hold the source in memory under a name; the
// name is attached to errors.
func CompileFile(ctx context.Context, c Compiler, name, source string) (*Result, error) {
	res, err := c.Compile(ctx, source)
	if err != nil {
		return nil, &FileError{Path: name, Source: source, Err: err}
	}
	return res, nil
}

// FileError ties a compilation error to the file it came from. Source is the text that
// failed, for diagnostics.
type FileError struct {
	Path   string
	Source string
	Err    error
}

func (e *FileError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }

func (e *FileError) Unwrap() error { return e.Err }
