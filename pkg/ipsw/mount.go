package ipsw

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/blacktop/flatipsw/internal/utils"
)

var unmountDelay = 2 * time.Second

// Mounter attaches a disk image read-only and returns where its filesystem can be read
type Mounter interface {
	Mount(image string) (string, error)
	Unmount(mountPoint string) error
}

// mountPoints hands out temporary mount points and removes the ones it created
type mountPoints struct {
	// Dir the mount points are created in (default: os.TempDir)
	Dir string

	mu      sync.Mutex
	created map[string]bool
}

func (m *mountPoints) create() (string, error) {
	mp, err := os.MkdirTemp(m.Dir, "flatipsw-mnt-")
	if err != nil {
		return "", fmt.Errorf("failed to create mount point: %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.created == nil {
		m.created = make(map[string]bool)
	}
	m.created[mp] = true
	return mp, nil
}

func (m *mountPoints) release(mp string) {
	m.mu.Lock()
	owned := m.created[mp]
	delete(m.created, mp)
	m.mu.Unlock()
	if !owned {
		return
	}
	if err := os.Remove(mp); err != nil {
		log.WithError(err).Debugf("failed to remove mount point %s", mp)
	}
}

func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	utils.Indent(log.Debug, 2)(fmt.Sprintf("Running %s", strings.Join(cmd.Args, " ")))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %v: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// FuseMounter mounts APFS images with apfs-fuse (linux)
type FuseMounter struct {
	mountPoints

	// ApfsFuse is the apfs-fuse binary (default: apfs-fuse)
	ApfsFuse string
	// Fusermount is the fusermount binary (default: fusermount)
	Fusermount string
}

// NewFuseMounter creates an apfs-fuse mounter whose mount points live in dir
func NewFuseMounter(apfsFuse, fusermount, dir string) *FuseMounter {
	return &FuseMounter{mountPoints: mountPoints{Dir: dir}, ApfsFuse: apfsFuse, Fusermount: fusermount}
}

func (f *FuseMounter) Mount(image string) (string, error) {
	bin := f.ApfsFuse
	if len(bin) == 0 {
		bin = "apfs-fuse"
	}
	mp, err := f.create()
	if err != nil {
		return "", err
	}
	opts := fmt.Sprintf("uid=%d,gid=%d", os.Getuid(), os.Getgid())
	if err := run(bin, "-o", opts, image, mp); err != nil {
		f.release(mp)
		return "", fmt.Errorf("failed to mount %s: %w", image, err)
	}
	return mp, nil
}

func (f *FuseMounter) Unmount(mountPoint string) error {
	bin := f.Fusermount
	if len(bin) == 0 {
		bin = "fusermount"
	}
	if err := run(bin, "-u", mountPoint); err != nil {
		return fmt.Errorf("failed to unmount %s: %w", mountPoint, err)
	}
	f.release(mountPoint)
	return nil
}

// HdiutilMounter mounts disk images with hdiutil (darwin)
type HdiutilMounter struct {
	mountPoints

	// Hdiutil is the hdiutil binary (default: hdiutil)
	Hdiutil string
}

// NewHdiutilMounter creates an hdiutil mounter whose mount points live in dir
func NewHdiutilMounter(hdiutil, dir string) *HdiutilMounter {
	return &HdiutilMounter{mountPoints: mountPoints{Dir: dir}, Hdiutil: hdiutil}
}

func (h *HdiutilMounter) bin() string {
	if len(h.Hdiutil) == 0 {
		return "hdiutil"
	}
	return h.Hdiutil
}

func (h *HdiutilMounter) Mount(image string) (string, error) {
	mp, err := h.create()
	if err != nil {
		return "", err
	}
	if err := run(h.bin(), "attach", "-noverify", "-mountpoint", mp, image); err != nil {
		h.release(mp)
		return "", fmt.Errorf("failed to mount %s: %w", image, err)
	}
	return mp, nil
}

func (h *HdiutilMounter) Unmount(mountPoint string) error {
	if err := run(h.bin(), "detach", mountPoint); err != nil {
		return fmt.Errorf("failed to unmount %s: %w", mountPoint, err)
	}
	h.release(mountPoint)
	return nil
}

// MountTools names the external mount binaries and the scratch dir for mount points
type MountTools struct {
	ApfsFuse   string
	Fusermount string
	Hdiutil    string
	Dir        string
}

// DefaultMounter returns the mounter for the running OS
func DefaultMounter(t MountTools) (Mounter, error) {
	switch runtime.GOOS {
	case "linux":
		return NewFuseMounter(t.ApfsFuse, t.Fusermount, t.Dir), nil
	case "darwin":
		return NewHdiutilMounter(t.Hdiutil, t.Dir), nil
	default:
		return nil, fmt.Errorf("mounting disk images is not supported on %s", runtime.GOOS)
	}
}

// WithMount mounts image, calls fn with the mount point and always unmounts,
// even when fn fails or panics. An unmount failure is joined with fn's error.
func WithMount(m Mounter, image string, fn func(root string) error) (err error) {
	utils.Indent(log.Info, 2)(fmt.Sprintf("Mounting %s", image))
	mountPoint, err := m.Mount(image)
	if err != nil {
		return err
	}
	defer func() {
		utils.Indent(log.Info, 2)(fmt.Sprintf("Unmounting %s", image))
		if uerr := utils.Retry(3, unmountDelay, func() error {
			return m.Unmount(mountPoint)
		}); uerr != nil {
			log.Errorf("failed to unmount %s at %s: %v", image, mountPoint, uerr)
			err = errors.Join(err, uerr)
		}
	}()

	return fn(mountPoint)
}
