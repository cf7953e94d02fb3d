// Package golden compares test output with files checked in under testdata.
//
// Run tests with -update to rewrite the files from the current output.
package golden

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var update = flag.Bool("update", false, "rewrite golden files with the current output")

// Check fails t when actual differs from the contents of path. With -update the file is
// written instead; a missing file is an error otherwise.
func Check(t testing.TB, path, actual string) {
	t.Helper()
	if err := check(path, actual, *update); err != nil {
		t.Error(err)
	}
}

func check(path, actual string, rewrite bool) error {
	expected, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err) && !rewrite:
		return fmt.Errorf("golden file %s does not exist; run with -update to create it", path)
	case err != nil && !os.IsNotExist(err):
		return fmt.Errorf("read golden file %s: %w", path, err)
	}

	if string(expected) == actual {
		return nil
	}
	if rewrite {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		return os.WriteFile(path, []byte(actual), 0o644)
	}
	return fmt.Errorf("golden file mismatch for %s:\n%s", path, Diff(string(expected), actual))
}

// Diff lists the lines that differ between expected and actual, by position.
func Diff(expected, actual string) string {
	exp := strings.Split(expected, "\n")
	act := strings.Split(actual, "\n")

	var b strings.Builder
	for i := 0; i < max(len(exp), len(act)); i++ {
		var e, a string
		if i < len(exp) {
			e = exp[i]
		}
		if i < len(act) {
			a = act[i]
		}
		if e != a {
			fmt.Fprintf(&b, "line %d:\n- %s\n+ %s\n", i+1, e, a)
		}
	}
	return b.String()
}

// Pairs returns, for every input file matching pattern, the path of its golden file:
// the input path with its extension replaced by ext.
func Pairs(pattern, ext string) (map[string]string, error) {
	inputs, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(inputs))
	for _, in := range inputs {
		out[in] = strings.TrimSuffix(in, filepath.Ext(in)) + ext
	}
	return out, nil
}
