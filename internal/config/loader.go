package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// BaseDir returns the uproot state directory (~/.uproot), creating nothing.
func BaseDir() string {
	if dir := os.Getenv("UPROOT_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".uproot"
	}
	return filepath.Join(home, ".uproot")
}

// DefaultPath returns the inventory file location: UPROOT_CONFIG if set,
// else ~/.uproot/config.yaml.
func DefaultPath() string {
	if p := os.Getenv("UPROOT_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(BaseDir(), "config.yaml")
}

// Load reads, defaults, and validates the inventory at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no inventory at %s; create it or point --config at one", path)
		}
		return nil, fmt.Errorf("reading inventory: %w", err)
	}
	defer f.Close()

	cfg := &Config{}
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
