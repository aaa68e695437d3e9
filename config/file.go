package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	cerrors "github.com/joyautomation/mantle/errors"
)

const (
	maxConfigSize = 10 << 20 // config files larger than 10MB are rejected
	maxPathLen    = 4096
)

// LoadFile reads a YAML config file over the defaults. Fields absent from
// the file keep their default values. JSON files also parse, since JSON is
// a YAML subset.
func LoadFile(path string) (*Config, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, cerrors.WrapInvalid(err, "config", "LoadFile", "read config file")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, cerrors.WrapInvalid(err, "config", "LoadFile", fmt.Sprintf("parse %s", path))
	}
	return cfg, nil
}

// validateConfigPath does basic path validation before any file IO.
func validateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("empty config path: %w", cerrors.ErrMissingConfig)
	}
	if len(path) > maxPathLen {
		return fmt.Errorf("path too long: %d > %d", len(path), maxPathLen)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		return fmt.Errorf("config file must be .yaml, .yml, or .json: %s", path)
	}
	return nil
}

// safeReadFile reads a config file with size and type checks.
func safeReadFile(path string) ([]byte, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot stat config file: %w", err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes > %d", info.Size(), maxConfigSize)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}

	return os.ReadFile(path)
}
