// Package ipsw unpacks IPSW firmware archives, locates the disk images named in
// their BuildManifest.plist and mounts them.
package ipsw

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/blacktop/flatipsw/internal/utils"
	"github.com/dustin/go-humanize"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// BuildManifestName is the file every IPSW carries at its top level
const BuildManifestName = "BuildManifest.plist"

// ErrNotAnIPSW is returned for archives that are not zips or lack a BuildManifest.plist
var ErrNotAnIPSW = errors.New("not an IPSW")

// DefaultExtractDir returns the folder an IPSW is unpacked to when no destination is given:
// a sibling of the archive named after it without its extension.
func DefaultExtractDir(ipswPath string) string {
	base := filepath.Base(ipswPath)
	return filepath.Join(filepath.Dir(ipswPath), strings.TrimSuffix(base, filepath.Ext(base)))
}

func open(ipswPath string) (*zip.ReadCloser, error) {
	zr, err := zip.OpenReader(ipswPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotAnIPSW, ipswPath, err)
	}
	for _, f := range zr.File {
		if f.Name == BuildManifestName {
			return zr, nil
		}
	}
	zr.Close()
	return nil, fmt.Errorf("%w: %s: no %s", ErrNotAnIPSW, ipswPath, BuildManifestName)
}

// Unzip extracts the whole IPSW into dest (DefaultExtractDir when empty), keeping
// the archive's folder structure, and returns the extraction root.
func Unzip(ipswPath, dest string, progress bool) (string, error) {
	zr, err := open(ipswPath)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	if len(dest) == 0 {
		dest = DefaultExtractDir(ipswPath)
	}
	dest, err = filepath.Abs(dest)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path of %s: %v", dest, err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("failed to create extraction dir %s: %v", dest, err)
	}

	var total int64
	for _, f := range zr.File {
		total += int64(f.UncompressedSize64)
	}

	log.WithField("size", humanize.Bytes(uint64(total))).Infof("Extracting %s to %s", filepath.Base(ipswPath), dest)

	var p *mpb.Progress
	var bar *mpb.Bar
	if progress {
		p = mpb.New(
			mpb.WithWidth(60),
			mpb.WithRefreshRate(180*time.Millisecond),
		)
		bar = p.New(total,
			mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding("-").Rbound("|"),
			mpb.PrependDecorators(
				decor.CountersKibiByte("\t% .2f / % .2f"),
			),
			mpb.AppendDecorators(
				decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "✅ "),
				decor.Name(" ] "),
				decor.AverageSpeed(decor.SizeB1024(0), "% .2f", decor.WCSyncWidth),
			),
		)
	}

	for _, f := range zr.File {
		if err := extractFile(f, dest, bar); err != nil {
			if bar != nil {
				bar.Abort(false)
				p.Wait()
			}
			return "", err
		}
	}

	if p != nil {
		p.Wait()
	}

	return dest, nil
}

func extractFile(f *zip.File, dest string, bar *mpb.Bar) error {
	path := filepath.Join(dest, filepath.FromSlash(f.Name))
	if !utils.Within(dest, path) {
		return fmt.Errorf("illegal file path in archive: %s", f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(path, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %v", filepath.Dir(path), err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s in archive: %v", f.Name, err)
	}
	defer rc.Close()

	var reader io.Reader = rc
	if bar != nil {
		reader = bar.ProxyReader(rc)
	}

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, reader); err != nil {
		return fmt.Errorf("failed to extract %s: %v", f.Name, err)
	}

	utils.Indent(log.Debug, 2)(fmt.Sprintf("Created %s", path))
	return nil
}

// ReadBuildManifest parses the BuildManifest.plist straight out of the IPSW without unpacking it
func ReadBuildManifest(ipswPath string) (*BuildManifest, error) {
	zr, err := open(ipswPath)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	f, err := zr.Open(BuildManifestName)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %v", BuildManifestName, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %v", BuildManifestName, err)
	}
	return ParseBuildManifest(data)
}
