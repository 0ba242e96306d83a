package diffstore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/bamsammich/cellar/internal/event"
	"github.com/bamsammich/cellar/internal/filter"
	"github.com/bamsammich/cellar/internal/platform"
	"github.com/bamsammich/cellar/internal/result"
)

// Plan is the full set of changes a restore applies, computed before any
// write.
type Plan struct {
	Deletes  []string  // relative paths, sorted
	Installs []Install // sorted by path
	Target   int
}

// Install places one file. Payload is empty for symlinks.
type Install struct {
	Payload string
	Entry   Entry
	From    int // state holding the payload
}

// Empty reports whether the plan changes nothing.
func (p Plan) Empty() bool { return len(p.Deletes) == 0 && len(p.Installs) == 0 }

// PlanRestore computes the changes needed to move the live tree from the
// active state to target. A payload missing from every candidate state is
// reported as Corrupted.
func (s *Store) PlanRestore(target int, ignorePatterns []string) (Plan, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return Plan{}, err
	}
	if _, ok := idx.Lookup(target); !ok {
		return Plan{}, stateNotFound(target)
	}
	if target == idx.Active {
		return Plan{}, ErrAlreadyActive
	}
	ignore, err := s.ignoreChain(ignorePatterns)
	if err != nil {
		return Plan{}, err
	}
	return s.plan(idx, target, ignore)
}

func (s *Store) plan(idx Index, target int, ignore *filter.Chain) (Plan, error) {
	want, err := s.loadManifest(target)
	if err != nil {
		return Plan{}, err
	}
	have, err := s.loadManifest(idx.Active)
	if err != nil {
		return Plan{}, err
	}

	wantByPath := want.ByPath()
	haveByPath := have.ByPath()
	tracked := func(p string) bool { return !ignored(ignore, p) }

	p := Plan{Target: target}
	p.Deletes = lo.Filter(lo.Without(lo.Keys(haveByPath), lo.Keys(wantByPath)...),
		func(rel string, _ int) bool { return tracked(rel) })
	sort.Strings(p.Deletes)

	for _, e := range want.Files {
		if !tracked(e.Path) {
			continue
		}
		if cur, ok := haveByPath[e.Path]; ok && cur.same(e) {
			continue
		}
		in := Install{Entry: e, From: target}
		if !e.IsSymlink() {
			from, payload, err := s.findPayload(target, e)
			if err != nil {
				return Plan{}, err
			}
			in.From, in.Payload = from, payload
		}
		p.Installs = append(p.Installs, in)
	}
	return p, nil
}

// findPayload walks backward from target to the newest state that stored
// a copy of e with a matching checksum.
func (s *Store) findPayload(target int, e Entry) (int, string, error) {
	for id := target; id >= 0; id-- {
		m, err := s.loadManifest(id)
		if err != nil {
			return 0, "", err
		}
		stored, ok := m.Find(e.Path)
		if !ok || !stored.same(e) {
			continue
		}
		payload := s.payloadPath(id, e.Path)
		info, err := os.Lstat(payload)
		if err != nil || !info.Mode().IsRegular() || info.Size() != e.Size {
			continue
		}
		return id, payload, nil
	}
	return 0, "", result.Errorf(result.Corrupted, "restore", e.Path,
		"no stored payload matches checksum %s at or before state %d", e.Checksum, target)
}

// Restore moves the live tree to state target: files absent from target are
// deleted, new and changed files are installed from their payloads, and
// directories left empty are pruned. Restoring the active state returns
// ErrAlreadyActive without touching the tree.
func (s *Store) Restore(ctx context.Context, target int, ignorePatterns []string) error {
	idx, err := s.loadIndex()
	if err != nil {
		return err
	}
	if _, ok := idx.Lookup(target); !ok {
		return stateNotFound(target)
	}
	if target == idx.Active {
		return ErrAlreadyActive
	}
	ignore, err := s.ignoreChain(ignorePatterns)
	if err != nil {
		return err
	}
	p, err := s.plan(idx, target, ignore)
	if err != nil {
		return err
	}

	s.logger.Info("restoring state", "from", idx.Active, "to", target,
		"deletes", len(p.Deletes), "installs", len(p.Installs))

	if err := s.apply(ctx, p); err != nil {
		return err
	}

	idx.Active = target
	if err := s.saveIndex(idx); err != nil {
		return err
	}
	s.opts.Events.Emit(event.Event{Type: event.StateRestored, StateID: strconv.Itoa(target)})
	return nil
}

func (s *Store) apply(ctx context.Context, p Plan) error {
	var touched []string
	for _, rel := range p.Deletes {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := s.livePath(rel)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return result.Wrap(result.IOFailure, "restore delete", rel, err)
		}
		touched = append(touched, filepath.Dir(path))
		s.opts.Stats.AddFilesDeleted(1)
		s.opts.Events.Emit(event.Event{Type: event.FileDeleted, Path: rel})
	}

	for _, in := range p.Installs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.install(in); err != nil {
			return result.Wrap(result.IOFailure, "restore install", in.Entry.Path, err)
		}
		s.opts.Stats.AddFileRestored(in.Entry.Size)
		s.opts.Events.Emit(event.Event{Type: event.FileRestored, Path: in.Entry.Path, Size: in.Entry.Size})
	}

	s.pruneEmptyDirs(touched)
	return nil
}

func (s *Store) livePath(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

func (s *Store) install(in Install) error {
	dst := s.livePath(in.Entry.Path)

	// A directory in the way of a file is replaced.
	if info, err := os.Lstat(dst); err == nil && info.IsDir() {
		if err := os.RemoveAll(dst); err != nil {
			return err
		}
	}

	if in.Entry.IsSymlink() {
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		tmp := platform.TmpPath(dst)
		if err := os.Symlink(in.Entry.Link, tmp); err != nil {
			return err
		}
		if err := os.Rename(tmp, dst); err != nil {
			_ = os.Remove(tmp)
			return err
		}
		return nil
	}

	_, err := platform.InstallFile(in.Payload, dst, os.FileMode(in.Entry.Mode).Perm())
	return err
}

// pruneEmptyDirs removes now-empty directories, deepest first, walking up
// toward the bottle root.
func (s *Store) pruneEmptyDirs(dirs []string) {
	seen := make(map[string]struct{})
	for _, d := range dirs {
		for ; d != s.root && strings.HasPrefix(d, s.root+string(filepath.Separator)); d = filepath.Dir(d) {
			seen[d] = struct{}{}
		}
	}
	ordered := lo.Keys(seen)
	sort.Slice(ordered, func(i, j int) bool {
		di, dj := strings.Count(ordered[i], string(filepath.Separator)), strings.Count(ordered[j], string(filepath.Separator))
		if di != dj {
			return di > dj
		}
		return ordered[i] > ordered[j]
	})
	for _, d := range ordered {
		if info, err := os.Lstat(d); err != nil || !info.IsDir() {
			continue
		}
		// Fails harmlessly on non-empty directories.
		if err := os.Remove(d); err == nil {
			s.logger.Debug("pruned empty directory", "path", d)
		}
	}
}
