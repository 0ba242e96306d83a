package diffstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"

	"github.com/bamsammich/cellar/internal/platform"
	"github.com/bamsammich/cellar/internal/result"
)

// On-disk layout inside the bottle.
const (
	StatesDir    = "states"
	IndexFile    = "index.yml"
	ManifestFile = "manifest.yml"
	PayloadDir   = "files"
)

// StateInfo describes one committed state.
type StateInfo struct {
	Timestamp time.Time `yaml:"timestamp"`
	Message   string    `yaml:"message"`
	Digest    string    `yaml:"digest"`
	ID        int       `yaml:"id"`
}

// Index is the list of states plus the active pointer.
type Index struct {
	States []StateInfo `yaml:"states"`
	Active int         `yaml:"active"`
}

// Lookup returns the state with the given id.
func (idx Index) Lookup(id int) (StateInfo, bool) {
	i := sort.Search(len(idx.States), func(i int) bool { return idx.States[i].ID >= id })
	if i < len(idx.States) && idx.States[i].ID == id {
		return idx.States[i], true
	}
	return StateInfo{}, false
}

// NextID returns the id the next commit receives.
func (idx Index) NextID() int {
	if len(idx.States) == 0 {
		return 0
	}
	return idx.States[len(idx.States)-1].ID + 1
}

func (idx Index) validate() error {
	if len(idx.States) == 0 {
		return errors.New("no states")
	}
	for i, st := range idx.States {
		if st.ID != i {
			return fmt.Errorf("state ids not dense at position %d (id %d)", i, st.ID)
		}
	}
	if _, ok := idx.Lookup(idx.Active); !ok {
		return fmt.Errorf("active state %d not in index", idx.Active)
	}
	return nil
}

// Entry is one tracked file. Symlinks carry Link and a checksum of the
// link target.
type Entry struct {
	Path     string `yaml:"path"`
	Checksum string `yaml:"checksum"`
	Link     string `yaml:"link,omitempty"`
	Size     int64  `yaml:"size"`
	Mode     uint32 `yaml:"mode"`
}

// IsSymlink reports whether e records a symbolic link.
func (e Entry) IsSymlink() bool { return e.Link != "" }

func (e Entry) same(o Entry) bool {
	return e.Checksum == o.Checksum && e.Link == o.Link
}

// Manifest is the set of files captured by one state, sorted by path.
type Manifest struct {
	Files []Entry `yaml:"files"`
}

func newManifest(entries map[string]Entry) Manifest {
	m := Manifest{Files: make([]Entry, 0, len(entries))}
	for _, e := range entries {
		m.Files = append(m.Files, e)
	}
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Path < m.Files[j].Path })
	return m
}

// ByPath indexes the manifest by relative path.
func (m Manifest) ByPath() map[string]Entry {
	out := make(map[string]Entry, len(m.Files))
	for _, e := range m.Files {
		out[e.Path] = e
	}
	return out
}

// Find returns the entry for rel.
func (m Manifest) Find(rel string) (Entry, bool) {
	i := sort.Search(len(m.Files), func(i int) bool { return m.Files[i].Path >= rel })
	if i < len(m.Files) && m.Files[i].Path == rel {
		return m.Files[i], true
	}
	return Entry{}, false
}

// Digest fingerprints the {path, checksum} set. Two manifests with equal
// digests describe the same tree.
func (m Manifest) Digest() string {
	h := xxhash.New()
	for _, e := range m.Files {
		_, _ = h.WriteString(e.Path)
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(e.Checksum)
		_, _ = h.Write([]byte{'\n'})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

func (s *Store) statesPath() string { return filepath.Join(s.root, StatesDir) }

func (s *Store) indexPath() string { return filepath.Join(s.statesPath(), IndexFile) }

func (s *Store) statePath(id int) string {
	return filepath.Join(s.statesPath(), strconv.Itoa(id))
}

func (s *Store) payloadPath(id int, rel string) string {
	return filepath.Join(s.statePath(id), PayloadDir, filepath.FromSlash(rel))
}

// loadIndex reads and validates the index. A missing index is NotFound, a
// malformed one Corrupted.
func (s *Store) loadIndex() (Index, error) {
	path := s.indexPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Index{}, result.Wrap(result.NotFound, "load index", path, ErrNotInitialized)
		}
		return Index{}, result.Wrap(result.IOFailure, "load index", path, err)
	}
	var idx Index
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return Index{}, result.Wrap(result.Corrupted, "load index", path, err)
	}
	if err := idx.validate(); err != nil {
		return Index{}, result.Wrap(result.Corrupted, "load index", path, err)
	}
	return idx, nil
}

func (s *Store) saveIndex(idx Index) error {
	path := s.indexPath()
	data, err := yaml.Marshal(idx)
	if err != nil {
		return result.Wrap(result.IOFailure, "save index", path, err)
	}
	return result.Wrap(result.IOFailure, "save index", path, writeFileAtomic(path, data))
}

func (s *Store) loadManifest(id int) (Manifest, error) {
	if m, ok := s.manifests[id]; ok {
		return m, nil
	}
	path := filepath.Join(s.statePath(id), ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		// The index names this state, so a missing manifest is damage.
		return Manifest{}, result.Wrap(result.Corrupted, "load manifest", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, result.Wrap(result.Corrupted, "load manifest", path, err)
	}
	s.manifests[id] = m
	return m, nil
}

func writeManifest(dir string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, ManifestFile), data)
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := platform.TmpPath(path)
	platform.RegisterTmp(tmp)
	defer platform.DeregisterTmp(tmp)

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
