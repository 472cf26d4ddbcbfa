package crawl

import (
	"fmt"
	"path/filepath"

	"github.com/apex/log"
	"github.com/blacktop/flatipsw/internal/utils"
)

// Handler acts on a file matched by a Rule.
// It emits zero or more files into output and returns their names (relative to output).
type Handler interface {
	Handle(e *Entry, output string) ([]string, error)
}

// HandlerFunc adapts a plain function to the Handler interface
type HandlerFunc func(e *Entry, output string) ([]string, error)

// Handle calls f(e, output)
func (f HandlerFunc) Handle(e *Entry, output string) ([]string, error) {
	return f(e, output)
}

// CopyHandler copies matched files into the output directory under their base name.
// Files with the same base name overwrite each other (last write wins).
type CopyHandler struct {
	// copied is the running byte count, read by Crawl for its summary
	copied int64
}

// Handle copies e into output
func (h *CopyHandler) Handle(e *Entry, output string) ([]string, error) {
	name := e.Name()
	n, err := utils.Copy(e.Path, filepath.Join(output, name))
	if err != nil {
		return nil, fmt.Errorf("failed to copy %s: %w", e.Path, err)
	}
	h.copied += n
	utils.Indent(log.Debug, 3)(fmt.Sprintf("Copied %s", e.Rel))
	return []string{name}, nil
}

// BytesCopied returns the total bytes copied by the handler
func (h *CopyHandler) BytesCopied() int64 {
	return h.copied
}

type byteCounter interface {
	BytesCopied() int64
}
