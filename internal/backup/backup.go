// Package backup exports, imports and duplicates whole bottles. Every
// operation reports through a task registry entry while it runs and fails
// closed with a classified result.Result.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bamsammich/cellar/internal/archive"
	"github.com/bamsammich/cellar/internal/bottle"
	"github.com/bamsammich/cellar/internal/event"
	"github.com/bamsammich/cellar/internal/filter"
	"github.com/bamsammich/cellar/internal/platform"
	"github.com/bamsammich/cellar/internal/result"
	"github.com/bamsammich/cellar/internal/stats"
	"github.com/bamsammich/cellar/internal/task"
	"github.com/bamsammich/cellar/internal/versioning"
)

// Scope selects how much of a bottle an export or import covers.
type Scope string

const (
	// ScopeConfig covers only the bottle configuration file.
	ScopeConfig Scope = "config"
	// ScopeFull covers the whole bottle tree.
	ScopeFull Scope = "full"
)

// ParseScope validates a user-supplied scope name.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(s)) {
	case ScopeConfig:
		return ScopeConfig, nil
	case ScopeFull:
		return ScopeFull, nil
	}
	return "", fmt.Errorf("unknown scope %q (want %q or %q)", s, ScopeConfig, ScopeFull)
}

// VolatilePatterns are left out of full exports.
var VolatilePatterns = []string{"/dosdevices/", "/cache/", "*.tmp-*", "*" + platform.TmpSuffix}

// DuplicateItems are the bottle entries a plain duplicate copies.
var DuplicateItems = []string{"system.reg", "user.reg", "userdef.reg", "drive_c", bottle.ConfigFile}

// Options configures a Coordinator.
type Options struct {
	Logger *slog.Logger
	Stats  *stats.Collector
	Events event.Sink
	Tasks  *task.Registry
	// Versioning opens the versioning facade of the bottle at root. It is
	// consulted by Duplicate to carry history when the backend can.
	Versioning func(root string) *versioning.Manager
	Level      int   // gzip level for full exports
	BWLimit    int64 // bytes per second for archive streams; 0 disables
}

// Coordinator runs backup operations against one bottles root.
type Coordinator struct {
	bottles  *bottle.Registry
	logger   *slog.Logger
	volatile *filter.Chain
	opts     Options
}

// New returns a Coordinator for the bottles managed by reg.
func New(reg *bottle.Registry, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tasks == nil {
		opts.Tasks = task.NewRegistry()
	}
	if opts.Versioning == nil {
		logger := opts.Logger
		opts.Versioning = func(root string) *versioning.Manager {
			return versioning.New(root, versioning.Options{Logger: logger})
		}
	}
	return &Coordinator{
		bottles:  reg,
		logger:   opts.Logger,
		volatile: filter.MustChain(VolatilePatterns...),
		opts:     opts,
	}
}

// DefaultArchiveName is the file name suggested for a full export of cfg.
func DefaultArchiveName(cfg bottle.Config, now time.Time) string {
	return fmt.Sprintf("backup_%s_%s.tar.gz", cfg.Path, now.Format("2006-01-02_15-04-05"))
}

func (c *Coordinator) archiveOptions() archive.Options {
	return archive.Options{
		Logger:  c.logger,
		Stats:   c.opts.Stats,
		Events:  c.opts.Events,
		Level:   c.opts.Level,
		BWLimit: c.opts.BWLimit,
	}
}

// startTask registers a task titled title and returns it with the func
// that removes it again.
func (c *Coordinator) startTask(title string) (*task.Task, func()) {
	t := task.New(title)
	id := c.opts.Tasks.Add(t)
	return t, func() { c.opts.Tasks.Remove(id) }
}

// Export writes cfg's bottle to dest. ScopeConfig writes the configuration
// file only; ScopeFull writes a gzip tar of the tree under the bottle's
// directory name, leaving out VolatilePatterns.
func (c *Coordinator) Export(ctx context.Context, cfg bottle.Config, scope Scope, dest string) result.Result {
	switch scope {
	case ScopeConfig:
		if err := cfg.Dump(dest); err != nil {
			return result.Fail(result.Wrap(result.IOFailure, "export config", dest, err))
		}
		c.logger.Info("bottle configuration exported", "bottle", cfg.Name, "dest", dest)
		return result.Ok("configuration exported", dest)
	case ScopeFull:
		return result.From(c.exportFull(ctx, cfg, dest), "bottle exported", dest)
	}
	return result.Fail(result.Errorf(result.Unsupported, "export", "", "unknown scope %q", scope))
}

func (c *Coordinator) exportFull(ctx context.Context, cfg bottle.Config, dest string) error {
	root := c.bottles.GetBottlePath(cfg)
	if _, err := os.Stat(root); err != nil {
		return result.Wrap(result.KindOf(err), "export", root, err)
	}

	t, done := c.startTask("Exporting " + cfg.Name)
	defer done()

	opts := c.archiveOptions()
	opts.Prefix = filepath.Base(root)
	opts.Exclude = c.volatile.Excluded
	if err := archive.Write(ctx, root, dest, opts, func(pct int) {
		t.SetSubtitle(fmt.Sprintf("%d%%", pct))
	}); err != nil {
		c.logger.Error("export failed", "bottle", cfg.Name, "dest", dest, "error", err)
		return err
	}
	c.logger.Info("bottle exported", "bottle", cfg.Name, "dest", dest)
	return nil
}

// Import brings a bottle in from src. ScopeConfig creates a new bottle from
// a configuration file; ScopeFull extracts an archive into the bottles
// root and rescans it. An archive whose top-level directory already exists
// is refused.
func (c *Coordinator) Import(ctx context.Context, scope Scope, src string) result.Result {
	switch scope {
	case ScopeConfig:
		cfg, err := c.importConfig(src)
		return result.From(err, "bottle created from configuration", cfg)
	case ScopeFull:
		names, err := c.importFull(ctx, src)
		return result.From(err, "bottle imported", names)
	}
	return result.Fail(result.Errorf(result.Unsupported, "import", "", "unknown scope %q", scope))
}

func (c *Coordinator) importConfig(src string) (bottle.Config, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return bottle.Config{}, result.Wrap(result.KindOf(err), "import config", src, err)
	}
	cfg, err := bottle.Parse(data)
	if err != nil {
		return bottle.Config{}, result.Wrap(result.Corrupted, "import config", src, err)
	}
	created, err := c.bottles.CreateBottleFromConfig(cfg)
	if err != nil {
		return bottle.Config{}, result.Wrap(result.IOFailure, "import config", cfg.Name, err)
	}
	c.logger.Info("bottle imported from configuration", "bottle", created.Name, "src", src)
	return created, nil
}

func (c *Coordinator) importFull(ctx context.Context, src string) ([]string, error) {
	root := c.bottles.Root()
	opts := c.archiveOptions()

	contents, err := archive.Inspect(ctx, src, root, opts)
	if err != nil {
		return nil, err
	}
	if len(contents.Roots) == 0 {
		return nil, result.Errorf(result.Corrupted, "import", src, "archive is empty")
	}
	for _, name := range contents.Roots {
		if _, err := os.Lstat(filepath.Join(root, name)); err == nil {
			return nil, result.Errorf(result.IOFailure, "import", name, "a bottle directory with this name already exists")
		}
	}

	t, done := c.startTask("Importing " + filepath.Base(src))
	defer done()

	last := -1
	if _, err := archive.Read(ctx, src, root, opts, func(n, total int64) {
		pct := 100
		if total > 0 {
			pct = int(n * 100 / total)
		}
		if pct != last {
			last = pct
			t.SetSubtitle(fmt.Sprintf("%d%%", pct))
		}
	}); err != nil {
		c.logger.Error("import failed, removing partial bottles", "src", src, "error", err)
		for _, name := range contents.Roots {
			_ = os.RemoveAll(filepath.Join(root, name))
		}
		return nil, err
	}

	if err := c.bottles.UpdateBottles(); err != nil {
		return nil, result.Wrap(result.IOFailure, "import: rescan", root, err)
	}
	for _, name := range contents.Roots {
		if _, ok := c.bottles.Lookup(name); !ok {
			c.logger.Warn("imported directory has no bottle configuration", "dir", name)
		}
	}
	c.logger.Info("bottle archive imported", "src", src, "dirs", contents.Roots)
	return contents.Roots, nil
}

// Duplicate copies src into a new bottle called newName. When the bottle's
// versioning backend can duplicate with history it is used; otherwise the
// DuplicateItems are copied without dotfiles or history. The new bottle's
// configuration is rewritten with its own name and path. A partially
// created destination is removed on failure.
func (c *Coordinator) Duplicate(ctx context.Context, src bottle.Config, newName string) result.Result {
	cfg, err := c.duplicate(ctx, src, newName)
	return result.From(err, "bottle duplicated", cfg)
}

func (c *Coordinator) duplicate(ctx context.Context, src bottle.Config, newName string) (cfg bottle.Config, err error) {
	name := strings.TrimSpace(newName)
	if name == "" {
		return bottle.Config{}, result.Errorf(result.IOFailure, "duplicate", "", "new bottle name is empty")
	}
	srcRoot := c.bottles.GetBottlePath(src)
	if _, err := os.Stat(srcRoot); err != nil {
		return bottle.Config{}, result.Wrap(result.KindOf(err), "duplicate", srcRoot, err)
	}
	if _, exists := c.bottles.Lookup(name); exists {
		return bottle.Config{}, result.Wrap(result.IOFailure, "duplicate", name, fs.ErrExist)
	}
	dirName := bottle.SanitizeName(name)
	dst := filepath.Join(c.bottles.Root(), dirName)
	if _, err := os.Lstat(dst); err == nil {
		return bottle.Config{}, result.Wrap(result.IOFailure, "duplicate", dst, fs.ErrExist)
	}

	t, done := c.startTask("Duplicating " + src.Name)
	defer done()
	defer func() {
		if err != nil {
			c.logger.Warn("removing partial duplicate", "dst", dst, "error", err)
			_ = os.RemoveAll(dst)
		}
	}()

	withHistory, err := c.copyBottle(ctx, t, srcRoot, dst)
	if err != nil {
		return bottle.Config{}, err
	}

	cfg = src
	cfg.Name = name
	cfg.Path = dirName
	if !withHistory {
		cfg.State = 0
	}
	if err := c.bottles.Save(cfg); err != nil {
		return bottle.Config{}, result.Wrap(result.IOFailure, "duplicate", dst, err)
	}
	c.logger.Info("bottle duplicated", "src", src.Name, "dst", name, "history", withHistory)
	return cfg, nil
}

// copyBottle fills dst from srcRoot and reports whether history came along.
func (c *Coordinator) copyBottle(ctx context.Context, t *task.Task, srcRoot, dst string) (bool, error) {
	res := c.opts.Versioning(srcRoot).Duplicate(ctx, dst)
	if res.OK {
		return true, nil
	}
	if res.Kind != result.Unsupported {
		return false, result.Errorf(res.Kind, "duplicate", dst, "%s", res.Message)
	}
	c.logger.Debug("duplicating without history", "src", srcRoot, "reason", res.Message)

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return false, result.Wrap(result.IOFailure, "duplicate", dst, err)
	}
	for i, item := range DuplicateItems {
		if err := ctx.Err(); err != nil {
			return false, result.Wrap(result.IOFailure, "duplicate", dst, err)
		}
		t.SetSubtitle(fmt.Sprintf("%d/%d %s", i+1, len(DuplicateItems), item))
		from := filepath.Join(srcRoot, item)
		if _, err := os.Lstat(from); errors.Is(err, fs.ErrNotExist) {
			c.logger.Debug("duplicate: item not present", "item", item)
			continue
		}
		st, err := platform.CopyTree(from, filepath.Join(dst, item), platform.TreeOptions{SkipHidden: true})
		if err != nil {
			return false, result.Wrap(result.IOFailure, "duplicate", from, err)
		}
		c.logger.Debug("duplicate: item copied", "item", item,
			"files", st.Files, "dirs", st.Dirs, "symlinks", st.Symlinks, "bytes", st.Bytes)
	}
	return false, nil
}
