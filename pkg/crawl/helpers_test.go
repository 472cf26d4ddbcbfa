package crawl

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// stubClassifier describes files by base name and counts how often it was asked
type stubClassifier struct {
	kinds map[string]string
	calls map[string]int
}

func newStub(kinds map[string]string) *stubClassifier {
	return &stubClassifier{kinds: kinds, calls: map[string]int{}}
}

func (s *stubClassifier) Classify(path string) (string, error) {
	name := filepath.Base(path)
	s.calls[name]++
	kind, ok := s.kinds[name]
	if !ok {
		return "", fmt.Errorf("cannot classify %s", name)
	}
	return kind, nil
}

func (s *stubClassifier) total() int {
	var n int
	for _, c := range s.calls {
		n += c
	}
	return n
}

var fakeKinds = map[string]string{
	"hi.py":  "Python script, ASCII text executable",
	"hi.c":   "C source, ASCII text",
	"hi.txt": "ASCII text",
}

// fakeFS creates the hi.py/hi.c/hi.txt fixture tree and returns its root
func fakeFS(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "fake_fs")
	writeTree(t, root, map[string]string{
		"hi.py":  "#!/usr/bin/env python3\nprint('hi')\n",
		"hi.c":   "int main(void) { return 0; }\n",
		"hi.txt": "hi\n",
	})
	return root
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, data := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	}
}

// listOutput returns the emitted files of an output dir (the ledger excluded)
func listOutput(t *testing.T, output string) []string {
	t.Helper()
	entries, err := os.ReadDir(output)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if e.Name() == LedgerName {
			continue
		}
		names = append(names, e.Name())
	}
	return names
}
