package crawl

import (
	"errors"
	"fmt"
)

var (
	// ErrOutputDir is returned when the output directory cannot be created or is not a directory
	ErrOutputDir = errors.New("cannot establish output directory")
	// ErrCrawlRoot is returned when the crawl root is missing, unreadable or not a directory
	ErrCrawlRoot = errors.New("cannot crawl root")
)

// Failure records a matched file that could not be handled
type Failure struct {
	// Rel is the file's path relative to the crawl root
	Rel string
	Err error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Rel, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}
