package magic

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"

	"github.com/apex/log"
)

// FileCmd classifies files by running file(1) in brief mode
type FileCmd struct {
	// Path to the file binary (default: "file")
	Path string
}

// Classify runs `file -b path` and returns its trimmed output
func (c FileCmd) Classify(path string) (string, error) {
	bin := c.Path
	if len(bin) == 0 {
		bin = "file"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(bin, "-b", path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s -b %s: %v: %s", bin, path, err, strings.TrimSpace(stderr.String()))
	}

	return strings.TrimSpace(stdout.String()), nil
}

// Default returns a FileCmd when file(1) can be found, otherwise the Native classifier
func Default(fileBin string) Classifier {
	if len(fileBin) == 0 {
		fileBin = "file"
	}
	if p, err := exec.LookPath(fileBin); err == nil {
		return FileCmd{Path: p}
	}
	log.Debugf("%s not found in $PATH; falling back to native classifier", fileBin)
	return Native{}
}
