package bottle

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Registry tracks the bottles living under a root directory.
type Registry struct {
	logger  *slog.Logger
	bottles map[string]Config // keyed by Config.Name
	root    string
	mu      sync.RWMutex
}

// NewRegistry returns a registry rooted at root and performs an initial scan.
// A missing root is created lazily on the first bottle.
func NewRegistry(root string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{root: root, logger: logger}
	if err := r.UpdateBottles(); err != nil {
		return nil, err
	}
	return r, nil
}

// Root returns the bottles root directory.
func (r *Registry) Root() string { return r.root }

// GetBottlePath returns the absolute directory for cfg.
func (r *Registry) GetBottlePath(cfg Config) string {
	if filepath.IsAbs(cfg.Path) {
		return cfg.Path
	}
	return filepath.Join(r.root, cfg.Path)
}

// UpdateBottles rescans the root for bottle configs.
func (r *Registry) UpdateBottles() error {
	entries, err := os.ReadDir(r.root)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("scan bottles root %s: %w", r.root, err)
	}

	found := make(map[string]Config, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		cfg, err := Load(filepath.Join(r.root, e.Name(), ConfigFile))
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				r.logger.Warn("skipping bottle with unreadable config", "dir", e.Name(), "error", err)
			}
			continue
		}
		// The directory is authoritative; configs moved by hand still load.
		cfg.Path = e.Name()
		found[cfg.Name] = cfg
	}

	r.mu.Lock()
	r.bottles = found
	r.mu.Unlock()
	r.logger.Debug("bottles scanned", "root", r.root, "count", len(found))
	return nil
}

// Bottles returns every known bottle ordered by name.
func (r *Registry) Bottles() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Config, 0, len(r.bottles))
	for _, c := range r.bottles {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup finds a bottle by name, falling back to its directory name.
func (r *Registry) Lookup(name string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.bottles[name]; ok {
		return c, true
	}
	for _, c := range r.bottles {
		if c.Path == name {
			return c, true
		}
	}
	return Config{}, false
}

// CreateBottleFromConfig materializes a new bottle directory for cfg and
// registers it. The directory name is derived from cfg.Name and must not
// already exist.
func (r *Registry) CreateBottleFromConfig(cfg Config) (Config, error) {
	return r.CreateBottleWith(cfg, func(dir string) error { return os.Mkdir(dir, 0o755) })
}

// CreateBottleWith is CreateBottleFromConfig with a custom constructor for
// the bottle directory itself, such as one that makes a subvolume.
func (r *Registry) CreateBottleWith(cfg Config, mkdir func(dir string) error) (Config, error) {
	if cfg.Name == "" {
		return Config{}, errors.New("bottle name is required")
	}
	if _, exists := r.Lookup(cfg.Name); exists {
		return Config{}, fmt.Errorf("bottle %q: %w", cfg.Name, fs.ErrExist)
	}

	cfg.Path = SanitizeName(cfg.Name)
	dir := filepath.Join(r.root, cfg.Path)
	if err := os.MkdirAll(r.root, 0o755); err != nil {
		return Config{}, fmt.Errorf("create bottles root: %w", err)
	}
	if _, err := os.Lstat(dir); err == nil {
		return Config{}, fmt.Errorf("bottle dir %s: %w", dir, fs.ErrExist)
	}
	if err := mkdir(dir); err != nil {
		return Config{}, fmt.Errorf("create bottle dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "drive_c"), 0o755); err != nil {
		_ = os.RemoveAll(dir)
		return Config{}, fmt.Errorf("create drive_c: %w", err)
	}
	if err := cfg.Dump(filepath.Join(dir, ConfigFile)); err != nil {
		_ = os.RemoveAll(dir)
		return Config{}, fmt.Errorf("write bottle config: %w", err)
	}

	r.mu.Lock()
	r.bottles[cfg.Name] = cfg
	r.mu.Unlock()
	r.logger.Info("bottle created", "name", cfg.Name, "path", dir)
	return cfg, nil
}

// Save persists cfg into its bottle directory and refreshes the cache.
func (r *Registry) Save(cfg Config) error {
	if err := cfg.Dump(filepath.Join(r.GetBottlePath(cfg), ConfigFile)); err != nil {
		return err
	}
	r.mu.Lock()
	r.bottles[cfg.Name] = cfg
	r.mu.Unlock()
	return nil
}

// SanitizeName turns a display name into a safe directory name: path
// separators and anything outside letters, digits, space, dot, dash and
// underscore are dropped, and leading dots are stripped.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		}
	}
	out := strings.TrimLeft(strings.TrimSpace(b.String()), ".")
	out = strings.ReplaceAll(out, " ", "-")
	if out == "" {
		return "bottle"
	}
	return out
}
