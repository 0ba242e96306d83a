package diffstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bamsammich/cellar/internal/checksum"
	"github.com/bamsammich/cellar/internal/event"
	"github.com/bamsammich/cellar/internal/platform"
	"github.com/bamsammich/cellar/internal/result"
)

// Init commits state 0 holding every file of the tree. It fails with
// ErrAlreadyInitialized when an index exists.
func (s *Store) Init(ctx context.Context, message string) (StateInfo, error) {
	if s.IsInitialized() {
		return StateInfo{}, ErrAlreadyInitialized
	}
	ignore, err := s.ignoreChain(nil)
	if err != nil {
		return StateInfo{}, err
	}
	m, err := s.scan(ctx, ignore)
	if err != nil {
		return StateInfo{}, result.Wrap(result.IOFailure, "init", s.root, err)
	}
	return s.commitState(Index{}, Manifest{}, m, message)
}

// Commit records the live tree as a new state if it differs from the
// active one. Only files whose checksum changed are copied into the state.
func (s *Store) Commit(ctx context.Context, message string, ignorePatterns []string) (StateInfo, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return StateInfo{}, err
	}
	active, _ := idx.Lookup(idx.Active)
	prev, err := s.loadManifest(idx.Active)
	if err != nil {
		return StateInfo{}, err
	}

	ignore, err := s.ignoreChain(ignorePatterns)
	if err != nil {
		return StateInfo{}, err
	}
	m, err := s.scan(ctx, ignore)
	if err != nil {
		return StateInfo{}, result.Wrap(result.IOFailure, "commit", s.root, err)
	}

	if m.Digest() == active.Digest && sameFiles(m, prev) {
		s.logger.Debug("commit: tree matches active state", "active", idx.Active)
		return StateInfo{}, ErrNothingToCommit
	}
	return s.commitState(idx, prev, m, message)
}

func sameFiles(a, b Manifest) bool {
	if len(a.Files) != len(b.Files) {
		return false
	}
	for i := range a.Files {
		if a.Files[i].Path != b.Files[i].Path || !a.Files[i].same(b.Files[i]) {
			return false
		}
	}
	return true
}

// commitState persists m as the next state. Payloads for entries that
// differ from prev are staged with the manifest in a temporary directory,
// which is renamed into place before the index is rewritten.
func (s *Store) commitState(idx Index, prev, m Manifest, message string) (StateInfo, error) {
	id := idx.NextID()
	final := s.statePath(id)

	if _, err := os.Lstat(final); err == nil {
		s.logger.Warn("removing leftover state directory from an interrupted commit", "state", id)
		if err := os.RemoveAll(final); err != nil {
			return StateInfo{}, result.Wrap(result.IOFailure, "commit", final, err)
		}
	}

	staging := filepath.Join(s.statesPath(), ".staging-"+strconv.Itoa(id)+platform.TmpSuffix)
	_ = os.RemoveAll(staging)
	platform.RegisterTmp(staging)
	defer func() {
		platform.DeregisterTmp(staging)
		_ = os.RemoveAll(staging) // no-op once renamed
	}()

	stored, err := s.storePayloads(staging, prev, &m)
	if err != nil {
		return StateInfo{}, err
	}
	if err := writeManifest(staging, m); err != nil {
		return StateInfo{}, result.Wrap(result.IOFailure, "commit", staging, err)
	}
	if err := os.Rename(staging, final); err != nil {
		return StateInfo{}, result.Wrap(result.IOFailure, "commit", final, err)
	}

	info := StateInfo{ID: id, Message: message, Timestamp: time.Now().UTC(), Digest: m.Digest()}
	idx.States = append(idx.States, info)
	idx.Active = id
	if err := s.saveIndex(idx); err != nil {
		return StateInfo{}, err
	}
	s.manifests[id] = m

	s.logger.Info("state committed", "state", id, "files", len(m.Files), "payloads", stored, "message", message)
	s.opts.Events.Emit(event.Event{Type: event.StateCommitted, StateID: strconv.Itoa(id), Total: int64(stored)})
	return info, nil
}

// storePayloads copies every new or changed regular file into dir. A file
// rewritten after it was hashed gets the checksum of the copy actually
// stored, and drops out of the manifest if it vanished.
func (s *Store) storePayloads(dir string, prev Manifest, m *Manifest) (int, error) {
	before := prev.ByPath()
	stored := 0
	kept := m.Files[:0]
	for _, e := range m.Files {
		if old, ok := before[e.Path]; e.IsSymlink() || (ok && old.same(e)) {
			kept = append(kept, e)
			continue
		}

		src := filepath.Join(s.root, filepath.FromSlash(e.Path))
		dst := filepath.Join(dir, PayloadDir, filepath.FromSlash(e.Path))
		res, err := platform.InstallFile(src, dst, os.FileMode(e.Mode)|0o200)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				s.logger.Debug("commit: file vanished during commit", "path", e.Path)
				continue
			}
			return stored, result.Wrap(result.IOFailure, "store payload", e.Path, err)
		}
		digest, err := checksum.File(dst)
		if err != nil {
			return stored, result.Wrap(result.IOFailure, "store payload", e.Path, err)
		}
		e.Checksum = digest
		e.Size = res.BytesWritten
		kept = append(kept, e)
		stored++

		s.opts.Stats.AddPayloadStored(res.BytesWritten)
		s.opts.Events.Emit(event.Event{Type: event.PayloadStored, Path: e.Path, Size: res.BytesWritten})
	}
	m.Files = kept
	return stored, nil
}

// Reinitialize discards every state and commits the live tree as a new
// state 0. It is the only recovery from a corrupted index and is never
// run implicitly.
func (s *Store) Reinitialize(ctx context.Context, message string) (StateInfo, error) {
	s.logger.Warn("reinitializing versioning, all state history is discarded",
		"data_loss", true, "states_dir", s.statesPath())

	if err := s.dropHistory(); err != nil {
		return StateInfo{}, err
	}
	info, err := s.Init(ctx, message)
	if err != nil {
		return StateInfo{}, fmt.Errorf("reinitialize: %w", err)
	}
	return info, nil
}

func (s *Store) dropHistory() error {
	dir := s.statesPath()
	if _, err := os.Lstat(dir); os.IsNotExist(err) {
		return nil
	}
	// Move aside first so a half-deleted history never looks like an index.
	doomed := platform.TmpPath(dir)
	platform.RegisterTmp(doomed)
	defer platform.DeregisterTmp(doomed)
	if err := os.Rename(dir, doomed); err != nil {
		return result.Wrap(result.IOFailure, "reinitialize", dir, err)
	}
	s.manifests = make(map[int]Manifest)
	return result.Wrap(result.IOFailure, "reinitialize", doomed, os.RemoveAll(doomed))
}
