package ipsw

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMounter struct {
	t          *testing.T
	mountErr   error
	unmountErr error
	mounted    []string
	unmounted  []string
}

func (f *fakeMounter) Mount(image string) (string, error) {
	if f.mountErr != nil {
		return "", f.mountErr
	}
	mp := f.t.TempDir()
	f.mounted = append(f.mounted, image)
	return mp, nil
}

func (f *fakeMounter) Unmount(mountPoint string) error {
	f.unmounted = append(f.unmounted, mountPoint)
	return f.unmountErr
}

func TestWithMount(t *testing.T) {
	unmountDelay = 0

	t.Run("unmounts after success", func(t *testing.T) {
		m := &fakeMounter{t: t}
		var seen string
		err := WithMount(m, "fs.dmg", func(root string) error {
			seen = root
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"fs.dmg"}, m.mounted)
		assert.Equal(t, []string{seen}, m.unmounted)
	})

	t.Run("unmounts after failure", func(t *testing.T) {
		m := &fakeMounter{t: t}
		boom := errors.New("crawl failed")
		err := WithMount(m, "fs.dmg", func(root string) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.Len(t, m.unmounted, 1)
	})

	t.Run("unmounts after panic", func(t *testing.T) {
		m := &fakeMounter{t: t}
		assert.Panics(t, func() {
			_ = WithMount(m, "fs.dmg", func(root string) error { panic("boom") })
		})
		assert.Len(t, m.unmounted, 1)
	})

	t.Run("unmount failure is joined", func(t *testing.T) {
		busy := errors.New("resource busy")
		boom := errors.New("crawl failed")
		m := &fakeMounter{t: t, unmountErr: busy}
		err := WithMount(m, "fs.dmg", func(root string) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.ErrorContains(t, err, "resource busy")
		assert.Len(t, m.unmounted, 3, "unmount is retried")
	})

	t.Run("mount failure skips callback", func(t *testing.T) {
		m := &fakeMounter{t: t, mountErr: errors.New("not an APFS image")}
		called := false
		err := WithMount(m, "fs.dmg", func(root string) error {
			called = true
			return nil
		})
		assert.Error(t, err)
		assert.False(t, called)
		assert.Empty(t, m.unmounted)
	})
}

// fakeTool writes a shell script that logs its arguments to log
func fakeTool(t *testing.T, dir, name, log string, exit int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\necho \"$@\" >> " + log + "\nexit " + string(rune('0'+exit)) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestFuseMounter(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	tools := t.TempDir()
	log := filepath.Join(tools, "calls.log")
	scratch := t.TempDir()

	m := NewFuseMounter(
		fakeTool(t, tools, "apfs-fuse", log, 0),
		fakeTool(t, tools, "fusermount", log, 0),
		scratch,
	)

	mp, err := m.Mount("/tmp/fs.dmg")
	require.NoError(t, err)
	assert.DirExists(t, mp)
	assert.Equal(t, scratch, filepath.Dir(mp))

	require.NoError(t, m.Unmount(mp))
	assert.NoDirExists(t, mp, "temporary mount point is removed")

	data, err := os.ReadFile(log)
	require.NoError(t, err)
	calls := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, calls, 2)
	assert.True(t, strings.HasPrefix(calls[0], "-o uid="))
	assert.True(t, strings.HasSuffix(calls[0], "/tmp/fs.dmg "+mp))
	assert.Equal(t, "-u "+mp, calls[1])
}

func TestFuseMounterFailure(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	tools := t.TempDir()
	scratch := t.TempDir()
	m := NewFuseMounter(fakeTool(t, tools, "apfs-fuse", filepath.Join(tools, "calls.log"), 1), "", scratch)

	_, err := m.Mount("/tmp/fs.dmg")
	require.Error(t, err)

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "mount point is cleaned up when mounting fails")
}

func TestDefaultMounter(t *testing.T) {
	m, err := DefaultMounter(MountTools{})
	switch runtime.GOOS {
	case "linux":
		require.NoError(t, err)
		assert.IsType(t, &FuseMounter{}, m)
	case "darwin":
		require.NoError(t, err)
		assert.IsType(t, &HdiutilMounter{}, m)
	default:
		assert.Error(t, err)
	}
}
