package utils

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		attempts int
		wantErr  bool
		wantRuns int
	}{
		{name: "succeeds first time", failures: 0, attempts: 3, wantRuns: 1},
		{name: "succeeds after retries", failures: 2, attempts: 3, wantRuns: 3},
		{name: "gives up", failures: 5, attempts: 3, wantErr: true, wantRuns: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs := 0
			err := Retry(tt.attempts, 0, func() error {
				runs++
				if runs <= tt.failures {
					return errors.New("busy")
				}
				return nil
			})
			if (err != nil) != tt.wantErr {
				t.Errorf("Retry() error = %v, wantErr %v", err, tt.wantErr)
			}
			assert.Equal(t, tt.wantRuns, runs)
		})
	}
}

func TestRetryErrorCountsAttempts(t *testing.T) {
	err := Retry(3, 0, func() error { return errors.New("resource busy") })
	require.Error(t, err)
	assert.Equal(t, "after 3 attempts, resource busy", err.Error())
}

func TestRetryStop(t *testing.T) {
	sentinel := errors.New("fatal")
	runs := 0
	err := Retry(5, 0, func() error {
		runs++
		return Stop(sentinel)
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, runs)
}

func TestCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o755))

	dst := filepath.Join(dir, "nested", "out", "dst")
	n, err := Copy(src, dst)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	fi, err := os.Stat(dst)
	require.NoError(t, err)
	assert.NotZero(t, fi.Mode().Perm()&0o100, "executable bit should be kept")

	// overwrite is last-write-wins
	require.NoError(t, os.WriteFile(src, []byte("bye"), 0o644))
	_, err = Copy(src, dst)
	require.NoError(t, err)
	data, err = os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(data))
}

func TestCopySameFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "hi.py")
	require.NoError(t, os.WriteFile(src, []byte("print('hi')\n"), 0o644))
	link := filepath.Join(t.TempDir(), "hi.py")
	require.NoError(t, os.Symlink(src, link))

	for _, dst := range []string{src, link} {
		_, err := Copy(src, dst)
		assert.Error(t, err)

		data, err := os.ReadFile(src)
		require.NoError(t, err)
		assert.Equal(t, "print('hi')\n", string(data), "source must not be truncated")
	}
}

func TestCopyDirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := Copy(dir, filepath.Join(t.TempDir(), "out"))
	assert.Error(t, err)
}

func TestWithin(t *testing.T) {
	tests := []struct {
		root string
		path string
		want bool
	}{
		{"/a/b", "/a/b", true},
		{"/a/b", "/a/b/c", true},
		{"/a/b", "/a/bc", false},
		{"/a/b", "/a", false},
		{"/a/b", "/x/y", false},
		{"/a/b", "/a/b/..c", true},
	}
	for _, tt := range tests {
		t.Run(tt.root+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Within(tt.root, tt.path))
		})
	}
}
