package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/docsync/internal/platform"
)

// fileConfig is the optional docsync.yaml at the snapshot root.
type fileConfig struct {
	Dir     string            `yaml:"dir"`
	URL     string            `yaml:"url"`
	BaseURL string            `yaml:"baseUrl"`
	Format  string            `yaml:"format"`
	AppID   string            `yaml:"appId"`
	IDField string            `yaml:"idField"`
	Headers map[string]string `yaml:"headers"`
}

// loadConfig reads path. A missing file yields an empty config.
func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid %s: %w", path, err)
	}
	if cfg.Dir != "" && !filepath.IsAbs(cfg.Dir) {
		cfg.Dir = filepath.Join(filepath.Dir(path), cfg.Dir)
	}
	return cfg, nil
}

// locateConfig returns the docsync.yaml governing the working directory,
// or "" when there is none.
func locateConfig() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	root, err := platform.FindRoot(wd)
	if err != nil {
		return ""
	}
	return filepath.Join(root, platform.ConfigFile)
}

// merge fills unset fields of c from defaults.
func (c *fileConfig) merge(defaults fileConfig) {
	if c.Dir == "" {
		c.Dir = defaults.Dir
	}
	if c.URL == "" {
		c.URL = defaults.URL
	}
	if c.BaseURL == "" {
		c.BaseURL = defaults.BaseURL
	}
	if c.Format == "" {
		c.Format = defaults.Format
	}
	if c.AppID == "" {
		c.AppID = defaults.AppID
	}
	if c.IDField == "" {
		c.IDField = defaults.IDField
	}
	if len(c.Headers) == 0 {
		c.Headers = defaults.Headers
	}
}
