// Package config is used to load the configuration file
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/blacktop/flatipsw/pkg/crawl"
	"github.com/blacktop/flatipsw/pkg/ipsw"
	"github.com/spf13/viper"
)

type tools struct {
	// File is the file(1) binary used to classify files ("" = look it up on $PATH)
	File string `mapstructure:"file"`
	// DscExtractor splits dyld shared caches into images
	DscExtractor string `mapstructure:"dsc_extractor"`
	// DscExtractorArgs are passed to DscExtractor before the cache path
	DscExtractorArgs []string `mapstructure:"dsc_extractor_args"`
	ApfsFuse         string   `mapstructure:"apfs_fuse"`
	Fusermount       string   `mapstructure:"fusermount"`
	Hdiutil          string   `mapstructure:"hdiutil"`
	// Scratch holds temporary mount points
	Scratch string `mapstructure:"scratch"`
}

// Config is the configuration struct
type Config struct {
	Tools tools `mapstructure:"tools"`
}

func (c *Config) verify() error {
	if len(c.Tools.DscExtractor) == 0 {
		c.Tools.DscExtractor = crawl.DefaultExtractor
	}
	if len(c.Tools.Scratch) == 0 {
		c.Tools.Scratch = os.TempDir()
	} else {
		scratch, err := filepath.Abs(c.Tools.Scratch)
		if err != nil {
			return fmt.Errorf("config: failed to get absolute path of scratch dir %s: %v", c.Tools.Scratch, err)
		}
		fi, err := os.Stat(scratch)
		if err != nil {
			return fmt.Errorf("config: scratch dir %s: %v", scratch, err)
		}
		if !fi.IsDir() {
			return fmt.Errorf("config: scratch dir %s is not a directory", scratch)
		}
		c.Tools.Scratch = scratch
	}
	if len(c.Tools.File) > 0 {
		if _, err := os.Stat(c.Tools.File); err != nil {
			return fmt.Errorf("config: file binary %s: %v", c.Tools.File, err)
		}
	}
	return nil
}

// MountTools returns the mount binaries and scratch dir for ipsw.DefaultMounter
func (c *Config) MountTools() ipsw.MountTools {
	return ipsw.MountTools{
		ApfsFuse:   c.Tools.ApfsFuse,
		Fusermount: c.Tools.Fusermount,
		Hdiutil:    c.Tools.Hdiutil,
		Dir:        c.Tools.Scratch,
	}
}

// Extractor returns the configured dyld shared cache splitter
func (c *Config) Extractor() crawl.ExecExtractor {
	return crawl.ExecExtractor{
		Command: c.Tools.DscExtractor,
		Args:    c.Tools.DscExtractorArgs,
	}
}

// LoadConfig loads the configuration file
func LoadConfig() (*Config, error) {
	return Load(viper.GetViper())
}

// Load unmarshals and verifies the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var c *Config

	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %v", err)
	}
	if c == nil {
		c = &Config{}
	}

	if err := c.verify(); err != nil {
		return nil, fmt.Errorf("config: failed to verify: %v", err)
	}

	return c, nil
}
