package golden

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.golden")

	if err := check(path, "a\n", false); err == nil || !strings.Contains(err.Error(), "-update") {
		t.Errorf("missing file should point at -update, got %v", err)
	}
	if err := check(path, "a\n", true); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := check(path, "a\n", false); err != nil {
		t.Errorf("identical content: %v", err)
	}

	err := check(path, "b\n", false)
	if err == nil || !strings.Contains(err.Error(), "line 1:\n- a\n+ b\n") {
		t.Errorf("expected diff in error, got %v", err)
	}
	if b, _ := os.ReadFile(path); string(b) != "a\n" {
		t.Error("a mismatch without -update must not rewrite the file")
	}
}

func TestDiff(t *testing.T) {
	tests := []struct {
		expected, actual, want string
	}{
		{"x\ny", "x\ny", ""},
		{"x\ny", "x\nz", "line 2:\n- y\n+ z\n"},
		{"x", "x\nextra", "line 2:\n- \n+ extra\n"},
	}
	for _, tt := range tests {
		if got := Diff(tt.expected, tt.actual); got != tt.want {
			t.Errorf("Diff(%q, %q) = %q, want %q", tt.expected, tt.actual, got, tt.want)
		}
	}
}

func TestPairs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.py", "b.py", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	pairs, err := Pairs(filepath.Join(dir, "*.py"), ".js")
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 2 || pairs[filepath.Join(dir, "a.py")] != filepath.Join(dir, "a.js") {
		t.Errorf("unexpected pairs %v", pairs)
	}
}
