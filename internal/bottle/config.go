// Package bottle models a managed Wine prefix: its YAML configuration and
// the registry of bottles living under one root directory.
package bottle

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bamsammich/cellar/internal/platform"
)

// ConfigFile is the configuration file name inside every bottle.
const ConfigFile = "bottle.yml"

// DefaultInternalSubvolumes are the sub-containers created alongside a
// copy-on-write bottle root.
var DefaultInternalSubvolumes = []string{"cache"}

// Parameters tunes versioning for one bottle.
type Parameters struct {
	VersioningExclusionPatterns []string `yaml:"versioning_exclusion_patterns,omitempty"`
	InternalSubvolumes          []string `yaml:"internal_subvolumes,omitempty"`
	VersioningAutomatic         bool     `yaml:"versioning_automatic"`
	VersioningCompression       bool     `yaml:"versioning_compression"`
}

// Config is the persisted configuration of one bottle.
type Config struct {
	Created     time.Time         `yaml:"created"`
	Environment map[string]string `yaml:"environment,omitempty"`
	Name        string            `yaml:"name"`
	Path        string            `yaml:"path"`
	Runner      string            `yaml:"runner,omitempty"`
	Arch        string            `yaml:"arch,omitempty"`
	Parameters  Parameters        `yaml:"parameters"`
	State       int               `yaml:"state"`
	Versioning  bool              `yaml:"versioning"`
}

// NewConfig returns a config for a fresh bottle called name.
func NewConfig(name string) Config {
	return Config{
		Name:    name,
		Path:    SanitizeName(name),
		Arch:    "win64",
		Created: time.Now().UTC().Truncate(time.Second),
	}
}

// InternalSubvolumes returns the configured sub-containers, or the defaults.
func (c Config) InternalSubvolumes() []string {
	if len(c.Parameters.InternalSubvolumes) > 0 {
		return c.Parameters.InternalSubvolumes
	}
	return DefaultInternalSubvolumes
}

// Marshal renders the config as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Dump writes the config to path atomically.
func (c Config) Dump(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("marshal bottle config: %w", err)
	}
	return writeFileAtomic(path, data, 0o644)
}

// Parse decodes a YAML bottle config. Name is required.
func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse bottle config: %w", err)
	}
	if c.Name == "" {
		return Config{}, fmt.Errorf("parse bottle config: missing name")
	}
	return c, nil
}

// Load reads the config at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	c, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := platform.TmpPath(path)
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
