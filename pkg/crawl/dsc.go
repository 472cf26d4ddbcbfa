package crawl

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/apex/log"
	"github.com/blacktop/flatipsw/internal/magic"
	"github.com/blacktop/flatipsw/internal/utils"
)

const (
	// DefaultExtractor is the dyld shared cache splitter run by ExecExtractor
	DefaultExtractor = "dyldex_all"
	// DefaultStagingName is the folder the extractor deposits its images in
	DefaultStagingName = "binaries"
)

// Extractor expands a dyld shared cache into individual images.
// It returns the directory the images were staged in.
type Extractor interface {
	Extract(dscPath string) (string, error)
}

// ExecExtractor runs an external shared cache splitter as `Command Args... <dsc>`
type ExecExtractor struct {
	// Command to run (default: dyldex_all)
	Command string
	// Args are passed before the cache path
	Args []string
	// WorkDir the command runs in (default: the cache's own directory)
	WorkDir string
	// StagingName is the folder below WorkDir the command writes to (default: binaries)
	StagingName string
}

// Extract runs the splitter on dscPath and returns its staging directory
func (x ExecExtractor) Extract(dscPath string) (string, error) {
	command := x.Command
	if len(command) == 0 {
		command = DefaultExtractor
	}
	stagingName := x.StagingName
	if len(stagingName) == 0 {
		stagingName = DefaultStagingName
	}
	workDir := x.WorkDir
	if len(workDir) == 0 {
		workDir = filepath.Dir(dscPath)
	} else if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create extractor work dir %s: %v", workDir, err)
	}

	cmd := exec.Command(command, append(slices.Clone(x.Args), dscPath)...)
	cmd.Dir = workDir

	utils.Indent(log.Debug, 3)(fmt.Sprintf("Running %s", strings.Join(cmd.Args, " ")))
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("%s failed on %s: %v: %s", command, dscPath, err, strings.TrimSpace(string(out)))
	}

	staging := filepath.Join(workDir, stagingName)
	if !utils.IsDir(staging) {
		return "", fmt.Errorf("%s did not create %s", command, staging)
	}
	return staging, nil
}

// SharedCacheHandler expands a matched dyld shared cache with an Extractor and
// copies the staged images whose description matches Signature into the output.
type SharedCacheHandler struct {
	Extractor  Extractor
	Classifier magic.Classifier
	// Signature the staged files must match (default: prefix "Mach-O")
	Signature *regexp.Regexp
	// KeepStaging leaves the extractor's staging directory behind
	KeepStaging bool

	copied int64
}

// Handle extracts e and emits the staged Mach-Os.
// A copy failure does not stop the other images from being emitted: the names
// that did make it are returned together with the joined errors.
func (h *SharedCacheHandler) Handle(e *Entry, output string) ([]string, error) {
	if h.Extractor == nil {
		return nil, fmt.Errorf("no shared cache extractor configured")
	}
	classifier := h.Classifier
	if classifier == nil {
		classifier = magic.Default("")
	}
	sig := h.Signature
	if sig == nil {
		sig = regexp.MustCompile(`^(?:` + MachOSignature + `)`)
	}

	utils.Indent(log.Info, 3)(fmt.Sprintf("Extracting %s", e.Rel))
	staging, err := h.Extractor.Extract(e.Path)
	if err != nil {
		return nil, err
	}
	if !h.KeepStaging {
		defer func() {
			if err := os.RemoveAll(staging); err != nil {
				log.WithError(err).Debugf("failed to remove staging dir %s", staging)
			}
		}()
	}

	var names []string
	var errs []error
	if err := filepath.WalkDir(staging, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.WithError(err).Debugf("failed to walk %s", path)
			return nil // keep going
		}
		if !d.Type().IsRegular() {
			return nil
		}
		kind, err := classifier.Classify(path)
		if err != nil {
			log.WithError(err).Debugf("failed to classify %s", path)
			return nil
		}
		if !sig.MatchString(kind) {
			return nil
		}
		n, err := utils.Copy(path, filepath.Join(output, d.Name()))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to copy %s: %w", path, err))
			return nil
		}
		h.copied += n
		names = append(names, d.Name())
		return nil
	}); err != nil {
		return names, fmt.Errorf("failed to walk staging dir %s: %w", staging, err)
	}

	utils.Indent(log.Debug, 3)(fmt.Sprintf("Emitted %d images from %s", len(names), e.Rel))
	return names, errors.Join(errs...)
}

// BytesCopied returns the total bytes copied by the handler
func (h *SharedCacheHandler) BytesCopied() int64 {
	return h.copied
}
