package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/blacktop/flatipsw/pkg/crawl"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadYAML(t *testing.T, doc string) (*Config, error) {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(doc)))
	return Load(v)
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, crawl.DefaultExtractor, c.Tools.DscExtractor)
	assert.Equal(t, os.TempDir(), c.Tools.Scratch)
	assert.Empty(t, c.Tools.File)

	x := c.Extractor()
	assert.Equal(t, crawl.DefaultExtractor, x.Command)
	assert.Empty(t, x.Args)
}

func TestLoadTools(t *testing.T) {
	scratch := t.TempDir()
	c, err := loadYAML(t, `
tools:
  dsc_extractor: ipsw
  dsc_extractor_args: [dyld, split, --output, binaries]
  apfs_fuse: /usr/local/bin/apfs-fuse
  fusermount: /bin/fusermount3
  scratch: `+scratch+`
`)
	require.NoError(t, err)
	assert.Equal(t, "ipsw", c.Tools.DscExtractor)
	assert.Equal(t, []string{"dyld", "split", "--output", "binaries"}, c.Tools.DscExtractorArgs)

	mt := c.MountTools()
	assert.Equal(t, "/usr/local/bin/apfs-fuse", mt.ApfsFuse)
	assert.Equal(t, "/bin/fusermount3", mt.Fusermount)
	assert.Empty(t, mt.Hdiutil)
	assert.Equal(t, scratch, mt.Dir)
}

func TestLoadVerify(t *testing.T) {
	notDir := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(notDir, nil, 0o644))

	tests := []struct {
		name string
		doc  string
	}{
		{name: "missing scratch", doc: "tools:\n  scratch: " + filepath.Join(t.TempDir(), "nope") + "\n"},
		{name: "scratch is a file", doc: "tools:\n  scratch: " + notDir + "\n"},
		{name: "missing file binary", doc: "tools:\n  file: " + filepath.Join(t.TempDir(), "file") + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadYAML(t, tt.doc)
			assert.ErrorContains(t, err, "config: failed to verify")
		})
	}
}
