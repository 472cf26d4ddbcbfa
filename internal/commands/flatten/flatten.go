// Package flatten contains the flatten command.
package flatten

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/blacktop/flatipsw/internal/magic"
	"github.com/blacktop/flatipsw/internal/utils"
	"github.com/blacktop/flatipsw/pkg/crawl"
	"github.com/blacktop/flatipsw/pkg/ipsw"
)

const (
	// BinariesDir receives the Mach-Os found on the filesystem image
	BinariesDir = "binaries"
	// SharedCacheDir receives the images split out of the dyld shared caches
	SharedCacheDir = "dyld_shared_cache"
	// DefaultOutputName is the output folder created next to the IPSW
	DefaultOutputName = "output"
)

// Config is the flatten command configuration.
type Config struct {
	// path to the IPSW
	IPSW string `json:"ipsw,omitempty"`
	// output directory (default: "output" next to the IPSW)
	Output string `json:"output,omitempty"`
	// where to unpack the IPSW (default: next to the IPSW, named after it)
	ExtractDir string `json:"extract_dir,omitempty"`
	// leave the unpacked IPSW behind
	KeepExtracted bool `json:"keep_extracted,omitempty"`
	// leave the shared cache extractor's staging dirs behind
	KeepStaging bool `json:"keep_staging,omitempty"`
	// follow symlinks on the mounted volumes
	FollowSymlinks bool `json:"follow_symlinks,omitempty"`
	// show the progress bar (when using the CLI)
	Progress bool `json:"progress,omitempty"`
	// scratch dir for the shared cache extractor (default: os.TempDir)
	Scratch string `json:"scratch,omitempty"`

	// Unzip unpacks the IPSW (default: ipsw.Unzip)
	Unzip func(ipswPath, dest string, progress bool) (string, error) `json:"-"`
	// Mounter attaches the disk images (default: ipsw.DefaultMounter)
	Mounter ipsw.Mounter `json:"-"`
	// Extractor splits dyld shared caches (default: dyldex_all)
	Extractor crawl.Extractor `json:"-"`
	// Classifier describes files (default: magic.Default)
	Classifier magic.Classifier `json:"-"`
}

// Report is the outcome of a flatten run
type Report struct {
	IPSW    string
	Output  string
	Volumes *ipsw.Volumes
	// Binaries is the filesystem pass
	Binaries *crawl.Result
	// SharedCache is the dyld shared cache pass
	SharedCache *crawl.Result
}

// Err joins the per-file failures of both passes
func (r *Report) Err() error {
	var errs []error
	for _, res := range []*crawl.Result{r.Binaries, r.SharedCache} {
		if res != nil {
			errs = append(errs, res.Err())
		}
	}
	return errors.Join(errs...)
}

func (c *Config) defaults() error {
	if len(c.IPSW) == 0 {
		return fmt.Errorf("no IPSW given")
	}
	ipswPath, err := filepath.Abs(c.IPSW)
	if err != nil {
		return fmt.Errorf("failed to get absolute path of %s: %v", c.IPSW, err)
	}
	if _, err := os.Stat(ipswPath); err != nil {
		return fmt.Errorf("IPSW %s: %v", c.IPSW, err)
	}
	c.IPSW = ipswPath
	if len(c.Output) == 0 {
		c.Output = filepath.Join(filepath.Dir(ipswPath), DefaultOutputName)
	}
	if c.Unzip == nil {
		c.Unzip = ipsw.Unzip
	}
	if c.Mounter == nil {
		m, err := ipsw.DefaultMounter(ipsw.MountTools{Dir: c.Scratch})
		if err != nil {
			return err
		}
		c.Mounter = m
	}
	if c.Classifier == nil {
		c.Classifier = magic.Default("")
	}
	return nil
}

// Run unpacks the IPSW, mounts its filesystem image and copies every Mach-O to
// <output>/binaries, then splits the dyld shared caches into <output>/dyld_shared_cache.
// The caches are read from the SystemOS cryptex when the release has one and from
// the filesystem image otherwise.
func Run(c *Config) (*Report, error) {
	if err := c.defaults(); err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp(c.Scratch, "flatipsw-dsc-")
	if err != nil {
		return nil, fmt.Errorf("failed to create extractor work dir: %v", err)
	}
	defer os.RemoveAll(workDir)

	extractor := c.Extractor
	switch x := extractor.(type) {
	case nil:
		extractor = crawl.ExecExtractor{WorkDir: workDir}
	case crawl.ExecExtractor:
		if len(x.WorkDir) == 0 {
			x.WorkDir = workDir
			extractor = x
		}
	}

	extracted, err := c.Unzip(c.IPSW, c.ExtractDir, c.Progress)
	if err != nil {
		return nil, err
	}
	if !c.KeepExtracted {
		defer func() {
			log.Infof("Cleaning up extracted IPSW at %s", extracted)
			if err := os.RemoveAll(extracted); err != nil {
				log.WithError(err).Errorf("failed to remove %s", extracted)
			}
		}()
	}

	vols, err := ipsw.ResolveVolumes(extracted)
	if err != nil {
		return nil, err
	}

	r := &Report{
		IPSW:    c.IPSW,
		Output:  c.Output,
		Volumes: vols,
	}

	binaries := &crawl.Config{
		Output:         filepath.Join(c.Output, BinariesDir),
		Rule:           crawl.BinaryRule(),
		Handler:        &crawl.CopyHandler{},
		Classifier:     c.Classifier,
		FollowSymlinks: c.FollowSymlinks,
	}
	sharedCache := &crawl.Config{
		Output: filepath.Join(c.Output, SharedCacheDir),
		Rule:   crawl.SharedCacheRule(),
		Handler: &crawl.SharedCacheHandler{
			Extractor:   extractor,
			Classifier:  c.Classifier,
			KeepStaging: c.KeepStaging,
		},
		Classifier:     c.Classifier,
		FollowSymlinks: c.FollowSymlinks,
	}

	log.Info("Flattening filesystem")
	if err := ipsw.WithMount(c.Mounter, vols.Filesystem, func(root string) error {
		binaries.Root = root
		if r.Binaries, err = crawl.Crawl(binaries); err != nil {
			return err
		}
		if vols.HasSharedCacheVolume() {
			return nil
		}
		utils.Indent(log.Info, 2)("Searching filesystem for dyld shared caches")
		sharedCache.Root = root
		r.SharedCache, err = crawl.Crawl(sharedCache)
		return err
	}); err != nil {
		return r, err
	}

	if vols.HasSharedCacheVolume() {
		log.Info("Flattening dyld shared cache")
		if err := ipsw.WithMount(c.Mounter, vols.SharedCache, func(root string) error {
			sharedCache.Root = root
			r.SharedCache, err = crawl.Crawl(sharedCache)
			return err
		}); err != nil {
			return r, err
		}
	}

	return r, nil
}
