// Package archive reads and writes gzip-compressed tar archives of bottle
// trees. Writes land in a temporary sibling that is renamed into place only
// on success; reads validate every entry before extracting any of them.
package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/bamsammich/cellar/internal/event"
	"github.com/bamsammich/cellar/internal/platform"
	"github.com/bamsammich/cellar/internal/result"
	"github.com/bamsammich/cellar/internal/stats"
)

// Options configures Write and Read.
type Options struct {
	Logger *slog.Logger
	Stats  *stats.Collector
	Events event.Sink
	// Exclude reports whether the entry at rel (slash-separated, relative
	// to the source root) is left out of the archive. Excluded directories
	// are pruned. Write only.
	Exclude func(rel string, isDir bool) bool
	// Prefix is the top-level directory every entry is stored under.
	// Write only.
	Prefix string
	// Level is the gzip level. Zero selects gzip.DefaultCompression.
	Level int
	// BWLimit caps the compressed stream in bytes per second; 0 disables.
	BWLimit int64
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

type entry struct {
	info fs.FileInfo
	path string // absolute source path
	rel  string // slash-separated, relative to the source root
	link string
}

// collect walks src in lexical order, honoring exclude, and returns the
// entries to archive together with their total regular file size.
func collect(src string, opts Options) ([]entry, int64, error) {
	var (
		entries []entry
		total   int64
	)
	logger := opts.logger()
	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel != "." && opts.Exclude != nil && opts.Exclude(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		e := entry{path: p, rel: rel, info: info}
		switch {
		case d.IsDir():
		case d.Type()&fs.ModeSymlink != 0:
			if e.link, err = os.Readlink(p); err != nil {
				return err
			}
		case d.Type().IsRegular():
			total += info.Size()
		default:
			logger.Debug("archive: skipping special file", "path", rel, "mode", d.Type().String())
			return nil
		}
		entries = append(entries, e)
		return nil
	})
	return entries, total, err
}

// percentTracker turns byte counts into a percentage that never decreases,
// stays at or below 99 until finish, and is reported only when it changes.
type percentTracker struct {
	fn     func(int)
	events event.Sink
	total  int64
	done   int64
	last   int
}

func newPercentTracker(total int64, fn func(int), events event.Sink) *percentTracker {
	p := &percentTracker{fn: fn, events: events, total: total, last: -1}
	p.report(0)
	return p
}

func (p *percentTracker) add(n int64) {
	p.done += n
	if p.total <= 0 {
		return
	}
	p.report(min(int(p.done*100/p.total), 99))
}

func (p *percentTracker) finish() { p.report(100) }

func (p *percentTracker) report(pct int) {
	if pct <= p.last {
		return
	}
	p.last = pct
	if p.fn != nil {
		p.fn(pct)
	}
	p.events.Emit(event.Event{Type: event.Progress, Percent: pct, Size: p.done, TotalSize: p.total})
}

type countingWriter struct {
	w   io.Writer
	add func(int64)
}

func (cw *countingWriter) Write(b []byte) (int, error) {
	n, err := cw.w.Write(b)
	if n > 0 {
		cw.add(int64(n))
	}
	return n, err
}

// Write archives the tree at src into dest. progress, when non-nil,
// receives the completed percentage each time it changes.
func Write(ctx context.Context, src, dest string, opts Options, progress func(percent int)) (err error) {
	logger := opts.logger()

	info, err := os.Stat(src)
	if err != nil {
		return result.Wrap(result.KindOf(err), "archive write", src, err)
	}
	if !info.IsDir() {
		return result.Errorf(result.IOFailure, "archive write", src, "not a directory")
	}

	entries, total, err := collect(src, opts)
	if err != nil {
		return result.Wrap(result.IOFailure, "archive write", src, err)
	}
	opts.Stats.SetTotals(int64(len(entries)), total)
	logger.Debug("archive: tree collected", "src", src, "entries", len(entries), "bytes", total)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return result.Wrap(result.IOFailure, "archive write", dest, err)
	}
	tmp := fmt.Sprintf("%s.tmp-%s", dest, uuid.New().String()[:8])
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return result.Wrap(result.IOFailure, "archive write", dest, err)
	}
	platform.RegisterTmp(tmp)
	defer platform.DeregisterTmp(tmp)
	closed := false
	defer func() {
		if err == nil {
			return
		}
		if !closed {
			f.Close()
		}
		os.Remove(tmp)
	}()

	level := opts.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	zw, err := gzip.NewWriterLevel(limitWriter(ctx, f, opts.BWLimit), level)
	if err != nil {
		return result.Wrap(result.IOFailure, "archive write", dest, err)
	}
	tw := tar.NewWriter(zw)
	tracker := newPercentTracker(total, progress, opts.Events)

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return result.Wrap(result.IOFailure, "archive write", dest, err)
		}
		if err := writeEntry(tw, e, opts, tracker); err != nil {
			return result.Wrap(result.IOFailure, "archive write", e.path, err)
		}
	}

	if err := tw.Close(); err != nil {
		return result.Wrap(result.IOFailure, "archive write", dest, err)
	}
	if err := zw.Close(); err != nil {
		return result.Wrap(result.IOFailure, "archive write", dest, err)
	}
	if err := f.Sync(); err != nil {
		return result.Wrap(result.IOFailure, "archive write", dest, err)
	}
	closed = true
	if err := f.Close(); err != nil {
		return result.Wrap(result.IOFailure, "archive write", dest, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return result.Wrap(result.IOFailure, "archive write", dest, err)
	}
	tracker.finish()
	logger.Info("archive written", "dest", dest, "entries", len(entries), "bytes", total)
	return nil
}

func writeEntry(tw *tar.Writer, e entry, opts Options, tracker *percentTracker) error {
	hdr, err := tar.FileInfoHeader(e.info, e.link)
	if err != nil {
		return err
	}
	name := e.rel
	if opts.Prefix != "" {
		name = path.Join(opts.Prefix, e.rel)
	}
	if name == "." {
		return nil
	}
	if e.info.IsDir() {
		name += "/"
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	if hdr.Typeflag == tar.TypeReg {
		f, err := os.Open(e.path)
		if err != nil {
			return err
		}
		defer f.Close()
		cw := &countingWriter{w: tw, add: tracker.add}
		if _, err := io.Copy(cw, io.LimitReader(f, hdr.Size)); err != nil {
			return err
		}
	}

	opts.Stats.AddEntryArchived(hdr.Size)
	opts.Events.Emit(event.Event{Type: event.EntryArchived, Path: name, Size: hdr.Size})
	return nil
}
