package crawl

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/blacktop/flatipsw/internal/magic"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLedgerJSON(t *testing.T, output string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(output, LedgerName))
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	return got
}

func TestCrawlNameSignature(t *testing.T) {
	root := fakeFS(t)
	output := filepath.Join(t.TempDir(), "bin")

	rule, err := ByName("hi.py")
	require.NoError(t, err)

	res, err := Crawl(&Config{
		Root:       root,
		Output:     output,
		Rule:       rule,
		Classifier: newStub(fakeKinds),
	})
	require.NoError(t, err)
	require.NoError(t, res.Err())

	assert.DirExists(t, output)
	assert.Equal(t, []string{"hi.py"}, listOutput(t, output))
	assert.NoFileExists(t, filepath.Join(output, "hi.c"))
	assert.NoFileExists(t, filepath.Join(output, "hi.txt"))

	if diff := cmp.Diff(map[string]any{"hi.py": "hi.py"}, readLedgerJSON(t, output)); diff != "" {
		t.Errorf("ledger mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, res.Scanned)
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, 1, res.Emitted)
	assert.NotZero(t, res.BytesCopied)
}

func TestCrawlTypeSignature(t *testing.T) {
	root := fakeFS(t)
	output := filepath.Join(t.TempDir(), "bin")

	rule, err := ByType("Python script")
	require.NoError(t, err)

	res, err := Crawl(&Config{
		Root:       root,
		Output:     output,
		Rule:       rule,
		Classifier: newStub(fakeKinds),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"hi.py"}, listOutput(t, output))
	assert.Equal(t, Ledger{"hi.py": {"hi.py"}}, res.Ledger)
	if diff := cmp.Diff(map[string]any{"hi.py": "hi.py"}, readLedgerJSON(t, output)); diff != "" {
		t.Errorf("ledger mismatch (-want +got):\n%s", diff)
	}
}

func TestCrawlConjunction(t *testing.T) {
	root := fakeFS(t)
	output := filepath.Join(t.TempDir(), "bin")

	rule, err := ByNameAndType("hi.c", "Python script")
	require.NoError(t, err)

	res, err := Crawl(&Config{
		Root:       root,
		Output:     output,
		Rule:       rule,
		Classifier: newStub(fakeKinds),
	})
	require.NoError(t, err)

	assert.Empty(t, listOutput(t, output))
	assert.Zero(t, res.Matched)
	assert.Empty(t, res.Ledger)
	assert.Empty(t, readLedgerJSON(t, output))
}

func TestCrawlNestedPaths(t *testing.T) {
	root := filepath.Join(t.TempDir(), "vol")
	writeTree(t, root, map[string]string{
		"usr/bin/hi.py":              "print('hi')\n",
		"System/Library/hi.txt":      "hi\n",
		"private/var/tmp/deep/hi.py": "print('hi again')\n",
	})
	output := filepath.Join(t.TempDir(), "bin")

	res, err := Crawl(&Config{
		Root:       root,
		Output:     output,
		Rule:       MustRule("", "Python", false, false),
		Classifier: newStub(fakeKinds),
	})
	require.NoError(t, err)

	// same base name: last write wins in the flat output, both sources are tracked
	assert.Equal(t, []string{"hi.py"}, listOutput(t, output))
	assert.Equal(t, []string{"private/var/tmp/deep/hi.py", "usr/bin/hi.py"}, res.Ledger.Paths())
	assert.Equal(t, []string{"hi.py"}, res.Ledger.Names())
}

func TestCrawlLedgerMerge(t *testing.T) {
	output := filepath.Join(t.TempDir(), "bin")

	volA := filepath.Join(t.TempDir(), "a")
	writeTree(t, volA, map[string]string{"x/hi.py": "a\n"})
	volB := filepath.Join(t.TempDir(), "b")
	writeTree(t, volB, map[string]string{"z/hi.c": "b\n"})

	crawl := func(root, pattern string) *Result {
		t.Helper()
		res, err := Crawl(&Config{
			Root:       root,
			Output:     output,
			Rule:       MustRule(pattern, "", false, false),
			Classifier: newStub(fakeKinds),
		})
		require.NoError(t, err)
		return res
	}

	resA := crawl(volA, "hi.py")
	assert.Equal(t, Ledger{"x/hi.py": {"hi.py"}}, resA.Ledger)

	resB := crawl(volB, "hi.c")
	assert.Equal(t, Ledger{"z/hi.c": {"hi.c"}}, resB.Pass)
	want := map[string]any{"x/hi.py": "hi.py", "z/hi.c": "hi.c"}
	if diff := cmp.Diff(want, readLedgerJSON(t, output)); diff != "" {
		t.Errorf("union mismatch (-want +got):\n%s", diff)
	}

	// re-running a pass overwrites its own keys and duplicates nothing
	crawl(volA, "hi.py")
	if diff := cmp.Diff(want, readLedgerJSON(t, output)); diff != "" {
		t.Errorf("idempotence mismatch (-want +got):\n%s", diff)
	}
}

func TestCrawlResilience(t *testing.T) {
	root := filepath.Join(t.TempDir(), "vol")
	writeTree(t, root, map[string]string{
		"a.py":     "a\n",
		"bad.py":   "b\n",
		"sub/c.py": "c\n",
	})
	output := filepath.Join(t.TempDir(), "bin")

	boom := errors.New("simulated extraction failure")
	copier := &CopyHandler{}
	handler := HandlerFunc(func(e *Entry, output string) ([]string, error) {
		if e.Name() == "bad.py" {
			return nil, boom
		}
		return copier.Handle(e, output)
	})

	res, err := Crawl(&Config{
		Root:       root,
		Output:     output,
		Rule:       MustRule(`.*\.py$`, "", false, false),
		Handler:    handler,
		Classifier: newStub(nil),
	})
	require.NoError(t, err, "per-file failures must not abort the crawl")

	assert.Equal(t, 3, res.Matched)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "bad.py", res.Failures[0].Rel)
	assert.ErrorIs(t, res.Err(), boom)

	assert.ElementsMatch(t, []string{"a.py", "c.py"}, listOutput(t, output))
	assert.Equal(t, []string{"a.py", "sub/c.py"}, res.Ledger.Paths(), "failed files must not be recorded")
}

func TestCrawlClassificationFailure(t *testing.T) {
	root := fakeFS(t)
	writeTree(t, root, map[string]string{"mystery": "???"})
	output := filepath.Join(t.TempDir(), "bin")

	res, err := Crawl(&Config{
		Root:       root,
		Output:     output,
		Rule:       MustRule("", "Python script", false, false),
		Classifier: newStub(fakeKinds),
	})
	require.NoError(t, err)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, "mystery", res.Failures[0].Rel)
	assert.Equal(t, []string{"hi.py"}, res.Ledger.Paths())
}

func TestCrawlFatal(t *testing.T) {
	root := fakeFS(t)

	t.Run("output is a file", func(t *testing.T) {
		output := filepath.Join(t.TempDir(), "bin")
		require.NoError(t, os.WriteFile(output, []byte("not a dir"), 0o644))

		called := false
		_, err := Crawl(&Config{
			Root:   root,
			Output: output,
			Rule:   MustRule("hi", "", false, false),
			Handler: HandlerFunc(func(*Entry, string) ([]string, error) {
				called = true
				return nil, nil
			}),
			Classifier: newStub(fakeKinds),
		})
		assert.ErrorIs(t, err, ErrOutputDir)
		assert.False(t, called, "nothing may be handled when the output is unusable")
	})

	t.Run("output cannot be created", func(t *testing.T) {
		parent := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(parent, nil, 0o644))
		_, err := Crawl(&Config{
			Root:       root,
			Output:     filepath.Join(parent, "bin"),
			Rule:       MustRule("hi", "", false, false),
			Classifier: newStub(fakeKinds),
		})
		assert.ErrorIs(t, err, ErrOutputDir)
	})

	t.Run("output is the root", func(t *testing.T) {
		alias := filepath.Join(t.TempDir(), "alias")
		require.NoError(t, os.Symlink(root, alias))

		for _, output := range []string{root, alias} {
			called := false
			_, err := Crawl(&Config{
				Root:   root,
				Output: output,
				Rule:   MustRule("hi.py", "", false, false),
				Handler: HandlerFunc(func(*Entry, string) ([]string, error) {
					called = true
					return nil, nil
				}),
				Classifier: newStub(fakeKinds),
			})
			assert.ErrorIs(t, err, ErrOutputDir)
			assert.False(t, called)
			assert.NoFileExists(t, filepath.Join(root, LedgerName))
		}

		data, err := os.ReadFile(filepath.Join(root, "hi.py"))
		require.NoError(t, err)
		assert.Equal(t, "#!/usr/bin/env python3\nprint('hi')\n", string(data))
	})

	t.Run("missing root", func(t *testing.T) {
		output := filepath.Join(t.TempDir(), "bin")
		_, err := Crawl(&Config{
			Root:       filepath.Join(t.TempDir(), "nope"),
			Output:     output,
			Rule:       MustRule("hi", "", false, false),
			Classifier: newStub(fakeKinds),
		})
		assert.ErrorIs(t, err, ErrCrawlRoot)
		assert.NoFileExists(t, filepath.Join(output, LedgerName))
	})

	t.Run("root is a file", func(t *testing.T) {
		_, err := Crawl(&Config{
			Root:       filepath.Join(root, "hi.py"),
			Output:     filepath.Join(t.TempDir(), "bin"),
			Rule:       MustRule("hi", "", false, false),
			Classifier: newStub(fakeKinds),
		})
		assert.ErrorIs(t, err, ErrCrawlRoot)
	})

	t.Run("no rule", func(t *testing.T) {
		_, err := Crawl(&Config{Root: root, Output: t.TempDir()})
		assert.Error(t, err)
	})
}

func TestCrawlCorruptLedger(t *testing.T) {
	root := fakeFS(t)
	output := t.TempDir()
	ledger := filepath.Join(output, LedgerName)
	require.NoError(t, os.WriteFile(ledger, []byte("{not json"), 0o644))

	res, err := Crawl(&Config{
		Root:       root,
		Output:     output,
		Rule:       MustRule("hi.py", "", false, false),
		Classifier: newStub(fakeKinds),
	})
	assert.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, Ledger{"hi.py": {"hi.py"}}, res.Pass)

	data, err := os.ReadFile(ledger)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data), "an unreadable ledger must not be clobbered")
}

func TestCrawlSkipsOutputInsideRoot(t *testing.T) {
	root := fakeFS(t)
	output := filepath.Join(root, "out")
	writeTree(t, output, map[string]string{"old.py": "stale\n"})

	res, err := Crawl(&Config{
		Root:       root,
		Output:     output,
		Rule:       MustRule(`.*\.py$`, "", false, false),
		Classifier: newStub(fakeKinds),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hi.py"}, res.Ledger.Paths())
}

func TestCrawlSymlinkIntoOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	output := filepath.Join(t.TempDir(), "bin")
	writeTree(t, output, map[string]string{"hi.py": "print('hi')\n"})
	root := filepath.Join(t.TempDir(), "vol")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.Symlink(filepath.Join(output, "hi.py"), filepath.Join(root, "hi.py")))

	res, err := Crawl(&Config{
		Root:           root,
		Output:         output,
		Rule:           MustRule("hi.py", "", false, false),
		Classifier:     newStub(fakeKinds),
		FollowSymlinks: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Failures, 1, "copying a file onto itself is a failure")
	assert.Equal(t, "hi.py", res.Failures[0].Rel)
	assert.Empty(t, res.Pass)

	data, err := os.ReadFile(filepath.Join(output, "hi.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", string(data))
}

func TestCrawlSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root := filepath.Join(t.TempDir(), "vol")
	writeTree(t, root, map[string]string{
		"usr/sbin/hi.py": "print('hi')\n",
	})
	require.NoError(t, os.Symlink("usr/sbin", filepath.Join(root, "sbin")))
	require.NoError(t, os.Symlink("usr/sbin/hi.py", filepath.Join(root, "hi.py")))
	require.NoError(t, os.Symlink("nowhere", filepath.Join(root, "dangling.py")))
	require.NoError(t, os.Symlink("..", filepath.Join(root, "usr", "sbin", "loop")))

	crawl := func(follow bool) *Result {
		res, err := Crawl(&Config{
			Root:           root,
			Output:         filepath.Join(t.TempDir(), "bin"),
			Rule:           MustRule(`.*\.py$`, "", false, false),
			Classifier:     newStub(fakeKinds),
			FollowSymlinks: follow,
		})
		require.NoError(t, err)
		return res
	}

	assert.Equal(t, []string{"usr/sbin/hi.py"}, crawl(false).Ledger.Paths())

	got := crawl(true).Ledger.Paths()
	assert.Contains(t, got, "usr/sbin/hi.py")
	assert.Contains(t, got, "sbin/hi.py")
	assert.Contains(t, got, "hi.py")
	assert.NotContains(t, got, "dangling.py")
}

func TestCrawlNativeClassifierJavaClass(t *testing.T) {
	root := filepath.Join(t.TempDir(), "vol")
	writeTree(t, root, map[string]string{
		"Library/Java/Foo.class": "\xca\xfe\xba\xbe\x00\x00\x00\x34\x00\x1d",
	})

	res, err := Crawl(&Config{
		Root:       root,
		Output:     filepath.Join(t.TempDir(), "bin"),
		Rule:       BinaryRule(),
		Classifier: magic.Native{},
	})
	require.NoError(t, err)
	assert.NoError(t, res.Err(), "a class file is not a Mach-O and not a failure")
	assert.Equal(t, 0, res.Matched)
}
