// Package config loads the optional cellar configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/bamsammich/cellar/internal/filter"
)

// Config represents the optional cellar configuration file.
type Config struct {
	Paths      PathsConfig      `toml:"paths"`
	Versioning VersioningConfig `toml:"versioning"`
	Backup     BackupConfig     `toml:"backup"`
}

// PathsConfig locates managed directories.
type PathsConfig struct {
	Bottles *string `toml:"bottles"`
}

// VersioningConfig holds state-store defaults.
type VersioningConfig struct {
	Ignore      []string `toml:"ignore"`
	MaxFileSize *string  `toml:"max_file_size"`
	HashWorkers *int     `toml:"hash_workers"`
}

// BackupConfig holds archive defaults.
type BackupConfig struct {
	CompressionLevel *int    `toml:"compression_level"`
	BWLimit          *string `toml:"bwlimit"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "cellar", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	return LoadFile(path)
}

// LoadFile reads the config at path. A missing file yields a zero Config.
func LoadFile(path string) (Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Versioning.MaxFileSize != nil {
		if _, err := filter.ParseSize(*c.Versioning.MaxFileSize); err != nil {
			return fmt.Errorf("versioning.max_file_size: %w", err)
		}
	}
	if c.Versioning.HashWorkers != nil && *c.Versioning.HashWorkers < 0 {
		return fmt.Errorf("versioning.hash_workers: must not be negative, got %d", *c.Versioning.HashWorkers)
	}
	if c.Backup.CompressionLevel != nil {
		if l := *c.Backup.CompressionLevel; l < -2 || l > 9 {
			return fmt.Errorf("backup.compression_level: must be between -2 and 9, got %d", l)
		}
	}
	if c.Backup.BWLimit != nil {
		if _, err := filter.ParseSize(*c.Backup.BWLimit); err != nil {
			return fmt.Errorf("backup.bwlimit: %w", err)
		}
	}
	return nil
}

// BottlesRoot returns the configured bottles root, or the XDG data default.
func (c Config) BottlesRoot() string {
	if c.Paths.Bottles != nil && *c.Paths.Bottles != "" {
		return expandHome(*c.Paths.Bottles)
	}
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "bottles"
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "cellar", "bottles")
}

// MaxFileSize returns the configured hashing cap in bytes, 0 for none.
func (c Config) MaxFileSize() int64 {
	if c.Versioning.MaxFileSize == nil {
		return 0
	}
	n, _ := filter.ParseSize(*c.Versioning.MaxFileSize) // validated on load
	return n
}

// BWLimit returns the configured archive bandwidth cap in bytes/sec, 0 for none.
func (c Config) BWLimit() int64 {
	if c.Backup.BWLimit == nil {
		return 0
	}
	n, _ := filter.ParseSize(*c.Backup.BWLimit)
	return n
}

func expandHome(p string) string {
	if p == "~" || len(p) > 1 && p[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}
