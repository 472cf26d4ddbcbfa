package ipsw

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/apex/log"
	"github.com/blacktop/go-plist"
)

const (
	// FilesystemComponent is the manifest entry of the root filesystem image
	FilesystemComponent = "OS"
	// SharedCacheComponent is the manifest entry of the SystemOS cryptex that
	// carries the dyld shared caches on newer releases
	SharedCacheComponent = "Cryptex1,SystemOS"
)

var (
	// ErrBuildManifestNotFound is returned when an extracted IPSW has no BuildManifest.plist
	ErrBuildManifestNotFound = errors.New("BuildManifest.plist not found")
	// ErrInvalidBuildManifest is returned when a required key is missing from the manifest
	ErrInvalidBuildManifest = errors.New("invalid BuildManifest.plist")
)

// BuildManifest is the BuildManifest.plist object found in IPSWs
type BuildManifest struct {
	BuildIdentities       []BuildIdentity `plist:"BuildIdentities,omitempty" json:"build_identities,omitempty"`
	ManifestVersion       int             `plist:"ManifestVersion,omitempty" json:"manifest_version,omitempty"`
	ProductBuildVersion   string          `plist:"ProductBuildVersion,omitempty" json:"product_build_version,omitempty"`
	ProductVersion        string          `plist:"ProductVersion,omitempty" json:"product_version,omitempty"`
	SupportedProductTypes []string        `plist:"SupportedProductTypes,omitempty" json:"supported_product_types,omitempty"`
}

func (b *BuildManifest) String() string {
	var out string
	out += "[BuildManifest]\n"
	out += "===============\n"
	out += fmt.Sprintf("  ProductVersion:        %s\n", b.ProductVersion)
	out += fmt.Sprintf("  ProductBuildVersion:   %s\n", b.ProductBuildVersion)
	out += fmt.Sprintf("  SupportedProductTypes: %v\n", b.SupportedProductTypes)
	if len(b.BuildIdentities) > 0 {
		out += "  Images:\n"
		out += b.BuildIdentities[0].String()
	}
	return out
}

// BuildIdentity is one device/variant entry of the manifest
type BuildIdentity struct {
	ApBoardID     string                      `plist:"ApBoardID,omitempty" json:"ap_board_id,omitempty"`
	ApChipID      string                      `plist:"ApChipID,omitempty" json:"ap_chip_id,omitempty"`
	ApProductType string                      `plist:"Ap,ProductType,omitempty" json:"ap_product_type,omitempty"`
	Info          IdentityInfo                `plist:"Info,omitempty" json:"info"`
	Manifest      map[string]IdentityManifest `plist:"Manifest,omitempty" json:"manifest,omitempty"`
}

func (i BuildIdentity) String() string {
	var out string
	keys := make([]string, 0, len(i.Manifest))
	for k := range i.Manifest {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if path := i.Manifest[k].Path(); len(path) > 0 {
			out += fmt.Sprintf("    %-34s%s\n", k+":", path)
		}
	}
	return out
}

type IdentityInfo struct {
	BuildNumber string `json:"build_number,omitempty"`
	CodeName    string `plist:"BuildTrain,omitempty" json:"code_name,omitempty"`
	DeviceClass string `json:"device_class,omitempty"`
	Variant     string `json:"variant,omitempty"`
}

type IdentityManifest struct {
	Digest []byte         `plist:"Digest,omitempty" json:"digest,omitempty"`
	Info   map[string]any `plist:"Info,omitempty" json:"info,omitempty"`
}

// Path returns the archive path of the component, or "" when it has none
func (m IdentityManifest) Path() string {
	if m.Info == nil {
		return ""
	}
	path, _ := m.Info["Path"].(string)
	return path
}

// ParseBuildManifest parses the BuildManifest.plist
func ParseBuildManifest(data []byte) (*BuildManifest, error) {
	bm := &BuildManifest{}
	if err := plist.NewDecoder(bytes.NewReader(data)).Decode(bm); err != nil {
		return nil, fmt.Errorf("%w: failed to decode: %v", ErrInvalidBuildManifest, err)
	}
	return bm, nil
}

// ComponentPath returns the archive path of a component of the first build identity
func (b *BuildManifest) ComponentPath(component string) (string, bool) {
	if len(b.BuildIdentities) == 0 {
		return "", false
	}
	m, ok := b.BuildIdentities[0].Manifest[component]
	if !ok {
		return "", false
	}
	path := m.Path()
	return path, len(path) > 0
}

// Volumes are the disk images of an extracted IPSW
type Volumes struct {
	// Filesystem is the root filesystem image
	Filesystem string
	// SharedCache is the SystemOS cryptex image ("" when the release has none)
	SharedCache string
}

// HasSharedCacheVolume reports whether the dyld shared caches live on their own image
func (v *Volumes) HasSharedCacheVolume() bool {
	return len(v.SharedCache) > 0
}

// Volumes resolves the component paths of the manifest below extractedRoot
func (b *BuildManifest) Volumes(extractedRoot string) (*Volumes, error) {
	fsPath, ok := b.ComponentPath(FilesystemComponent)
	if !ok {
		return nil, fmt.Errorf("%w: missing key BuildIdentities[0].Manifest.%s.Info.Path", ErrInvalidBuildManifest, FilesystemComponent)
	}
	vols := &Volumes{Filesystem: filepath.Join(extractedRoot, filepath.FromSlash(fsPath))}
	if dscPath, ok := b.ComponentPath(SharedCacheComponent); ok {
		vols.SharedCache = filepath.Join(extractedRoot, filepath.FromSlash(dscPath))
	}
	return vols, nil
}

// ResolveVolumes reads the BuildManifest.plist of an extracted IPSW and returns its disk images
func ResolveVolumes(extractedRoot string) (*Volumes, error) {
	manifestPath := filepath.Join(extractedRoot, BuildManifestName)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBuildManifestNotFound, manifestPath)
		}
		return nil, fmt.Errorf("failed to read %s: %v", manifestPath, err)
	}

	bm, err := ParseBuildManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", manifestPath, err)
	}

	vols, err := bm.Volumes(extractedRoot)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", manifestPath, err)
	}

	log.Infof("Found filesystem image at %s", vols.Filesystem)
	if vols.HasSharedCacheVolume() {
		log.Infof("Found dyld shared cache image at %s", vols.SharedCache)
	}
	return vols, nil
}
