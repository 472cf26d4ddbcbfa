package crawl

import (
	"io/fs"
	"path/filepath"

	"github.com/blacktop/flatipsw/internal/magic"
)

// Entry is a single file met during a crawl
type Entry struct {
	// Path is the file's path on disk (the symlink target when following symlinks)
	Path string
	// Rel is the slash separated path relative to the crawl root; it keys the ledger
	Rel string
	// Info describes the file at Path
	Info fs.FileInfo

	classifier magic.Classifier
	classified bool
	kind       string
	kindErr    error
}

// NewEntry returns an entry for path (found at rel below the crawl root) classified with c
func NewEntry(path, rel string, info fs.FileInfo, c magic.Classifier) *Entry {
	return &Entry{
		Path:       path,
		Rel:        filepath.ToSlash(rel),
		Info:       info,
		classifier: c,
	}
}

// Name is the base name of the entry as seen in the crawled tree
func (e *Entry) Name() string {
	if len(e.Rel) > 0 && e.Rel != "." {
		return baseName(e.Rel)
	}
	return baseName(e.Path)
}

// Kind returns the classifier's description of the entry.
// The classifier runs at most once per entry; the result (or error) is memoized.
func (e *Entry) Kind() (string, error) {
	if !e.classified {
		e.classified = true
		if e.classifier == nil {
			e.classifier = magic.Native{}
		}
		e.kind, e.kindErr = e.classifier.Classify(e.Path)
	}
	return e.kind, e.kindErr
}
