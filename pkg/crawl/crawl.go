// Package crawl walks a directory tree and extracts the files matching a Rule.
//
// Every matched file is handed to a Handler (a plain copy by default) which emits
// files into a flat output directory. Where each emitted file came from is kept in
// a Ledger persisted as locations.json in the output directory; successive crawls
// into the same output directory merge into one ledger.
//
// A crawl is single threaded and does not stop on per-file trouble: a file that
// fails to classify, copy or extract is recorded in Result.Failures and the walk
// moves on. Only a missing/unreadable root or an unusable output directory abort it.
package crawl

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/apex/log"
	"github.com/blacktop/flatipsw/internal/magic"
	"github.com/blacktop/flatipsw/internal/utils"
)

// Config is the crawl configuration
type Config struct {
	// Root of the tree to crawl (e.g. a mounted volume)
	Root string
	// Output directory to emit files into (created if missing; must not be Root)
	Output string
	// Rule selecting the files to handle
	Rule *Rule
	// Handler run on every matched file (default: CopyHandler)
	Handler Handler
	// Classifier describing files for Rule type tests (default: magic.Default)
	Classifier magic.Classifier
	// LedgerName of the ledger file inside Output (default: locations.json)
	LedgerName string
	// FollowSymlinks evaluates symlinked files as their targets and descends into symlinked directories
	FollowSymlinks bool
}

// Result is the outcome of a crawl pass
type Result struct {
	// Output is the absolute output directory
	Output string
	// Ledger is the merged ledger as persisted after the pass
	Ledger Ledger
	// Pass holds only the entries recorded by this pass
	Pass Ledger
	// Scanned is the number of files the rule was evaluated against
	Scanned int
	// Matched is the number of files the rule matched
	Matched int
	// Emitted is the number of files written into Output
	Emitted int
	// BytesCopied is the number of bytes the handler wrote (when it keeps count)
	BytesCopied int64
	// Failures are the per-file errors met during the pass
	Failures []*Failure
}

// Err joins the per-file failures of the pass; nil means every matched file was handled
func (r *Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

func (r *Result) fail(rel string, err error) {
	log.WithError(err).WithField("path", rel).Warn("failed to handle file")
	r.Failures = append(r.Failures, &Failure{Rel: rel, Err: err})
}

func checkRoot(root string) (string, error) {
	root, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCrawlRoot, err)
	}
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("%w %s: %v", ErrCrawlRoot, root, err)
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("%w %s: %v", ErrCrawlRoot, root, err)
	}
	if !fi.IsDir() {
		return "", fmt.Errorf("%w %s: not a directory", ErrCrawlRoot, root)
	}
	d, err := os.Open(resolved)
	if err != nil {
		return "", fmt.Errorf("%w %s: %v", ErrCrawlRoot, root, err)
	}
	defer d.Close()
	if _, err := d.ReadDir(1); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("%w %s: %v", ErrCrawlRoot, root, err)
	}
	return resolved, nil
}

func ensureOutput(output string) (string, error) {
	output, err := filepath.Abs(filepath.Clean(output))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOutputDir, err)
	}
	if fi, err := os.Stat(output); err == nil && !fi.IsDir() {
		return "", fmt.Errorf("%w %s: exists and is not a directory", ErrOutputDir, output)
	}
	if err := os.MkdirAll(output, 0o755); err != nil {
		return "", fmt.Errorf("%w %s: %v", ErrOutputDir, output, err)
	}
	resolved, err := filepath.EvalSymlinks(output)
	if err != nil {
		return "", fmt.Errorf("%w %s: %v", ErrOutputDir, output, err)
	}
	return resolved, nil
}

// Crawl walks c.Root, hands every file matching c.Rule to c.Handler and merges
// the resulting ledger into the one persisted in c.Output.
//
// The returned error is only non-nil for fatal conditions (ErrCrawlRoot, ErrOutputDir,
// an unreadable existing ledger); per-file problems are in Result.Failures.
func Crawl(c *Config) (*Result, error) {
	if c.Rule == nil {
		return nil, fmt.Errorf("crawl: no rule given")
	}

	root, err := checkRoot(c.Root)
	if err != nil {
		return nil, err
	}
	output, err := ensureOutput(c.Output)
	if err != nil {
		return nil, err
	}
	if output == root {
		return nil, fmt.Errorf("%w %s: is the crawl root", ErrOutputDir, output)
	}

	handler := c.Handler
	if handler == nil {
		handler = &CopyHandler{}
	}
	classifier := c.Classifier
	if classifier == nil {
		classifier = magic.Default("")
	}
	ledgerName := c.LedgerName
	if len(ledgerName) == 0 {
		ledgerName = LedgerName
	}

	var startBytes int64
	counter, counts := handler.(byteCounter)
	if counts {
		startBytes = counter.BytesCopied()
	}

	res := &Result{
		Output: output,
		Pass:   Ledger{},
	}

	log.WithField("rule", c.Rule.String()).Infof("Crawling %s", root)

	visit := func(path, rel string, info fs.FileInfo) {
		res.Scanned++
		e := NewEntry(path, rel, info, classifier)
		ok, err := c.Rule.Match(e)
		if err != nil {
			res.fail(e.Rel, fmt.Errorf("failed to classify: %w", err))
			return
		}
		if !ok {
			return
		}
		res.Matched++
		names, err := handler.Handle(e, output)
		if len(names) > 0 {
			res.Pass.Record(e.Rel, names...)
			res.Emitted += len(names)
		}
		if err != nil {
			res.fail(e.Rel, err)
		}
	}

	visited := map[string]bool{root: true}

	var walk func(dir, relPrefix string) error
	walk = func(dir, relPrefix string) error {
		return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if _, serr := os.Stat(root); serr != nil {
					return fmt.Errorf("%w %s: disappeared during crawl: %v", ErrCrawlRoot, root, serr)
				}
				if p == dir && d == nil {
					log.WithError(err).Debugf("failed to walk %s", dir)
					return nil
				}
				if os.IsPermission(err) {
					log.Debugf("skipping path due to permission denied: %s", p)
				} else {
					log.WithError(err).Debugf("failed to walk %s", p)
				}
				return nil // keep going
			}

			r, err := filepath.Rel(dir, p)
			if err != nil {
				return nil
			}
			rel := path.Join(relPrefix, filepath.ToSlash(r))

			switch {
			case d.IsDir():
				if p == output {
					return fs.SkipDir
				}
				return nil
			case d.Type()&fs.ModeSymlink != 0:
				if !c.FollowSymlinks {
					return nil
				}
				target, err := filepath.EvalSymlinks(p)
				if err != nil {
					log.WithError(err).Debugf("skipping dangling symlink %s", rel)
					return nil
				}
				ti, err := os.Stat(target)
				if err != nil {
					return nil
				}
				if ti.IsDir() {
					if visited[target] || utils.Within(output, target) {
						return nil
					}
					visited[target] = true
					return walk(target, rel)
				}
				if ti.Mode().IsRegular() {
					visit(target, rel, ti)
				}
				return nil
			case !d.Type().IsRegular():
				return nil // fifos, sockets, devices
			}

			info, err := d.Info()
			if err != nil {
				log.WithError(err).Debugf("failed to stat %s", rel)
				return nil
			}
			visit(p, rel, info)
			return nil
		})
	}

	if err := walk(root, ""); err != nil {
		return res, err
	}

	if counts {
		res.BytesCopied = counter.BytesCopied() - startBytes
	}

	merged, err := res.Pass.MergeInto(filepath.Join(output, ledgerName))
	if err != nil {
		return res, err
	}
	res.Ledger = merged

	utils.Indent(log.Info, 2)(fmt.Sprintf("Scanned %d files, matched %d, emitted %d (%d failed)", res.Scanned, res.Matched, res.Emitted, len(res.Failures)))

	return res, nil
}
