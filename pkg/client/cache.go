package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Cache is what the client remembers between runs.
type Cache struct {
	ServerAPIURL string            `yaml:"server_api_url"`
	APIKey       string            `yaml:"api_key"`
	Preferences  map[string]string `yaml:"preferences,omitempty"`
}

// LoadCache reads the cache at path. A missing file yields an empty cache.
func LoadCache(path string) (Cache, error) {
	var c Cache
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	} else if err != nil {
		return c, fmt.Errorf("failed to read cache: %w", err)
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("failed to parse cache %s: %w", path, err)
	}
	return c, nil
}

// Save writes the cache to path, readable only by the owner since it holds
// the api key.
func (c Cache) Save(path string) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}
