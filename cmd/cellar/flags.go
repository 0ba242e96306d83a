package main

import (
	"github.com/spf13/pflag"

	"github.com/bamsammich/cellar/internal/filter"
	"github.com/bamsammich/cellar/internal/ui"
)

// sizeValue is a byte count flag accepting suffixes like "10M".
type sizeValue int64

var _ pflag.Value = (*sizeValue)(nil)

func (s *sizeValue) String() string {
	if *s == 0 {
		return "0"
	}
	return ui.FormatBytes(int64(*s))
}

func (s *sizeValue) Set(v string) error {
	n, err := filter.ParseSize(v)
	if err != nil {
		return err
	}
	*s = sizeValue(n)
	return nil
}

func (s *sizeValue) Type() string { return "size" }

// archiveFlags tune archive streams for export and import.
type archiveFlags struct {
	bwlimit sizeValue
	level   int
}

func (f *archiveFlags) register(fs *pflag.FlagSet) {
	fs.Var(&f.bwlimit, "bwlimit", "bandwidth limit for the archive stream, e.g. 10M (default from config)")
	fs.IntVar(&f.level, "level", 0, "gzip compression level 1-9 (default from config)")
}

// resolve returns the level and limit, falling back to the config file
// for flags the user did not set.
func (f *archiveFlags) resolve(a *app, fs *pflag.FlagSet) (int, int64) {
	level, bwlimit := f.level, int64(f.bwlimit)
	if !fs.Changed("level") && a.cfg.Backup.CompressionLevel != nil {
		level = *a.cfg.Backup.CompressionLevel
	}
	if !fs.Changed("bwlimit") {
		bwlimit = a.cfg.BWLimit()
	}
	return level, bwlimit
}
