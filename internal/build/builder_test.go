package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/minipy-lang/minipy/internal/parser"
	"github.com/minipy-lang/minipy/internal/transpiler"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

// countingCompiler counts calls into the wrapped compiler.
type countingCompiler struct {
	inner transpiler.Compiler
	calls atomic.Int32
}

func (c *countingCompiler) Compile(ctx context.Context, source string) (*transpiler.Result, error) {
	c.calls.Add(1)
	return c.inner.Compile(ctx, source)
}

func TestBuildDirectory(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.py":          "x = 1\nprint(x)",
		"lib/util.py":      "def twice(n):\n    return n * 2",
		"lib/bad.py":       "if x\n    print(x)",
		"notes.txt":        "ignored",
		".hidden/skip.py":  "print(0)",
		"lib/deep/leaf.py": "for i in range(3):\n    print(i)",
	})

	b := &Builder{Compiler: transpiler.New(nil), Jobs: 2}
	rep, err := b.Build(context.Background(), root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(rep.Compiled) != 3 {
		t.Errorf("expected 3 compiled files, got %v", rep.Compiled)
	}
	if rep.OK() || len(rep.Failed) != 1 {
		t.Fatalf("expected one failure, got %+v", rep.Failed)
	}
	f := rep.Failed[0]
	var syn *parser.SyntaxError
	if !strings.HasSuffix(f.Path, "bad.py") || !errors.As(f.Err, &syn) || f.Source != "if x\n    print(x)" {
		t.Errorf("unexpected failure %+v", f)
	}

	if got := readFile(t, filepath.Join(root, "main.js")); got != "let x = 1;\nconsole.log(x);\n" {
		t.Errorf("main.js = %q", got)
	}
	if got := readFile(t, filepath.Join(root, "lib", "deep", "leaf.js")); !strings.HasPrefix(got, "for (let i = 0; i < 3; i++) {") {
		t.Errorf("leaf.js = %q", got)
	}
	if _, err := os.Stat(filepath.Join(root, ".hidden", "skip.js")); !os.IsNotExist(err) {
		t.Error("hidden directories must be skipped")
	}
	if _, err := os.Stat(filepath.Join(root, "lib", "bad.js")); !os.IsNotExist(err) {
		t.Error("no output for a file that failed to compile")
	}
}

func TestBuildOutDirMirrorsLayout(t *testing.T) {
	root := writeTree(t, map[string]string{"a/b.py": "print(1)"})
	out := filepath.Join(t.TempDir(), "dist")

	b := &Builder{Compiler: transpiler.New(nil), OutDir: out}
	rep, err := b.Build(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(out, "a", "b.js")
	if len(rep.Compiled) != 1 || rep.Compiled[0] != want {
		t.Fatalf("expected %s, got %v", want, rep.Compiled)
	}
	if got := readFile(t, want); got != "console.log(1);\n" {
		t.Errorf("b.js = %q", got)
	}
}

func TestBuildRejectsOutputCollisions(t *testing.T) {
	root := writeTree(t, map[string]string{
		"one/main.py": "print(1)",
		"two/main.py": "print(2)",
	})
	first, second := filepath.Join(root, "one", "main.py"), filepath.Join(root, "two", "main.py")
	out := filepath.Join(t.TempDir(), "dist")

	b := &Builder{Compiler: transpiler.New(nil), OutDir: out}
	_, err := b.Build(context.Background(), first, second)
	if !errors.Is(err, ErrOutputCollision) {
		t.Fatalf("expected ErrOutputCollision, got %v", err)
	}
	if !strings.Contains(err.Error(), first) || !strings.Contains(err.Error(), second) {
		t.Errorf("error should name both inputs: %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(out, "main.js")); !os.IsNotExist(statErr) {
		t.Errorf("nothing should be written on a collision, stat: %v", statErr)
	}

	// next to the sources the same files do not collide
	b.OutDir = ""
	rep, err := b.Build(context.Background(), first, second)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Compiled) != 2 {
		t.Errorf("expected 2 outputs, got %v", rep.Compiled)
	}
}

func TestBuildUsesCache(t *testing.T) {
	root := writeTree(t, map[string]string{"a.py": "print(1)", "b.py": "print(2)"})
	cc := &countingCompiler{inner: transpiler.New(nil)}
	b := &Builder{Compiler: cc, Cache: NewMemoryCache(16)}

	if _, err := b.Build(context.Background(), root); err != nil {
		t.Fatal(err)
	}
	rep, err := b.Build(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if cc.calls.Load() != 2 {
		t.Errorf("second build should be served from cache, compiler called %d times", cc.calls.Load())
	}
	if len(rep.Cached) != 2 || len(rep.Compiled) != 0 {
		t.Errorf("unexpected report %+v", rep)
	}
	if got := readFile(t, filepath.Join(root, "b.js")); got != "console.log(2);\n" {
		t.Errorf("b.js = %q", got)
	}
}

func TestBuildFile(t *testing.T) {
	root := writeTree(t, map[string]string{"ok.py": "x = True", "bad.py": "x = 1 +"})
	b := &Builder{Compiler: transpiler.New(nil)}

	out, err := b.BuildFile(context.Background(), "", filepath.Join(root, "ok.py"))
	if err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, out); got != "let x = true;\n" {
		t.Errorf("ok.js = %q", got)
	}

	_, err = b.BuildFile(context.Background(), "", filepath.Join(root, "bad.py"))
	var fe *transpiler.FileError
	if !errors.As(err, &fe) || fe.Source != "x = 1 +" {
		t.Fatalf("expected *transpiler.FileError, got %v", err)
	}
	var syn *parser.SyntaxError
	if !errors.As(err, &syn) {
		t.Errorf("FileError should unwrap to the syntax error, got %v", fe.Err)
	}
}

func TestBuildMissingPath(t *testing.T) {
	b := &Builder{Compiler: transpiler.New(nil)}
	if _, err := b.Build(context.Background(), filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for a missing input")
	}
}

func TestBuildCanceled(t *testing.T) {
	root := writeTree(t, map[string]string{"a.py": "print(1)"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := &Builder{Compiler: transpiler.New(nil)}
	if _, err := b.Build(ctx, root); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
