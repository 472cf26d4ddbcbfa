package utils

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/apex/log/handlers/cli"
)

var normalPadding = cli.Default.Padding

type stop struct {
	error
}

// Stop wraps err so that Retry returns it immediately instead of trying again
func Stop(err error) error {
	return stop{err}
}

// Retry calls f until it succeeds or attempts run out, doubling the (jittered) sleep between tries
func Retry(attempts int, sleep time.Duration, f func() error) error {
	return retry(attempts, attempts, sleep, f)
}

func retry(total, attempts int, sleep time.Duration, f func() error) error {
	if err := f(); err != nil {
		if s, ok := err.(stop); ok {
			// Return the original error for later checking
			return s.error
		}

		if attempts--; attempts > 0 {
			if sleep > 0 {
				jitter := time.Duration(rand.Int63n(int64(sleep)))
				sleep = sleep + jitter/2
			}

			time.Sleep(sleep)
			return retry(total, attempts, 2*sleep, f)
		}
		return fmt.Errorf("after %d attempts, %v", total, err)
	}

	return nil
}

// Indent indents apex log line to supplied level
func Indent(f func(s string), level int) func(string) {
	return func(s string) {
		cli.Default.Padding = normalPadding * level
		f(s)
		cli.Default.Padding = normalPadding
	}
}

// Copy copies the file at src to dst (following symlinks) and keeps the source permission bits.
// It returns the number of bytes written.
func Copy(src, dst string) (int64, error) {
	from, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer from.Close()

	fi, err := from.Stat()
	if err != nil {
		return 0, err
	}
	if !fi.Mode().IsRegular() {
		return 0, fmt.Errorf("%s is not a regular file (mode %s)", src, fi.Mode())
	}

	if di, err := os.Stat(dst); err == nil && os.SameFile(fi, di) {
		return 0, fmt.Errorf("%s and %s are the same file", src, dst)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory %s: %v", filepath.Dir(dst), err)
	}

	to, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm()|0o200)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(to, from)
	if err != nil {
		to.Close()
		return n, err
	}

	return n, to.Close()
}

// IsDir reports whether path exists and is a directory
func IsDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// Within reports whether path is root or lies below it
func Within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !filepath.IsAbs(rel) && !startsWithParent(rel))
}

func startsWithParent(rel string) bool {
	return len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)
}
