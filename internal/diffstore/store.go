// Package diffstore versions a bottle by storing, for every state, a
// manifest of file checksums plus copies of only the files that changed
// since the previous state. Any state can be rebuilt by walking backward
// through the chain for each file's last stored payload.
package diffstore

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bamsammich/cellar/internal/checksum"
	"github.com/bamsammich/cellar/internal/event"
	"github.com/bamsammich/cellar/internal/filter"
	"github.com/bamsammich/cellar/internal/platform"
	"github.com/bamsammich/cellar/internal/result"
	"github.com/bamsammich/cellar/internal/stats"
)

// DefaultIgnore is always excluded from versioning.
var DefaultIgnore = []string{
	"/" + StatesDir + "/",
	"/dosdevices/",
	"/cache/",
	"/.active_state_id",
	"/bottle.yml",
	"/" + filter.IgnoreFileName,
	"*" + platform.TmpSuffix,
}

var (
	// ErrNotInitialized means the bottle has no state index yet.
	ErrNotInitialized = errors.New("versioning not initialized")
	// ErrAlreadyInitialized is returned by Init on a bottle with states.
	ErrAlreadyInitialized = &result.Error{Kind: result.NothingToChange, Op: "init",
		Err: errors.New("versioning already initialized")}
	// ErrNothingToCommit means the tree matches the active state.
	ErrNothingToCommit = &result.Error{Kind: result.NothingToChange, Op: "commit",
		Err: errors.New("nothing to commit")}
	// ErrAlreadyActive means the requested state is already live.
	ErrAlreadyActive = &result.Error{Kind: result.NothingToChange, Op: "restore",
		Err: errors.New("state already active")}
)

// Options configures a Store.
type Options struct {
	Logger      *slog.Logger
	Stats       *stats.Collector
	Events      event.Sink
	Ignore      []string // patterns added to DefaultIgnore
	MaxFileSize int64    // files larger than this are not versioned; 0 for no cap
	Workers     int      // hashing workers; 0 picks from NumCPU
}

// Store is the diff backend for one bottle. It is not safe for concurrent
// use; callers serialize operations per bottle.
type Store struct {
	logger    *slog.Logger
	manifests map[int]Manifest
	root      string
	indexer   checksum.Indexer
	opts      Options
}

// New returns a store for the bottle rooted at root.
func New(root string, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = min(runtime.NumCPU(), 8)
	}
	logger := opts.Logger.With("bottle", filepath.Base(root), "backend", "diff")
	return &Store{
		root:      root,
		opts:      opts,
		logger:    logger,
		manifests: make(map[int]Manifest),
		indexer:   checksum.Indexer{Logger: logger, MaxFileSize: opts.MaxFileSize},
	}
}

// Root returns the bottle directory.
func (s *Store) Root() string { return s.root }

// IsInitialized reports whether the bottle has a state index.
func (s *Store) IsInitialized() bool {
	_, err := os.Stat(s.indexPath())
	return err == nil
}

// HasHistory reports whether a states directory exists at all, initialized
// or not. Its presence makes a bottle ineligible for the snapshot backend.
func HasHistory(root string) bool {
	info, err := os.Stat(filepath.Join(root, StatesDir))
	return err == nil && info.IsDir()
}

// List returns the index: the active id and every state in id order.
func (s *Store) List() (Index, error) {
	return s.loadIndex()
}

// Manifest returns the manifest of state id.
func (s *Store) Manifest(id int) (Manifest, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return Manifest{}, err
	}
	if _, ok := idx.Lookup(id); !ok {
		return Manifest{}, stateNotFound(id)
	}
	return s.loadManifest(id)
}

// ignoreChain builds the effective ignore rules: defaults, store options,
// the bottle's ignore file, then per-call patterns.
func (s *Store) ignoreChain(extra []string) (*filter.Chain, error) {
	patterns := make([]string, 0, len(DefaultIgnore)+len(s.opts.Ignore)+len(extra))
	patterns = append(patterns, DefaultIgnore...)
	patterns = append(patterns, s.opts.Ignore...)
	chain, err := filter.NewChain(patterns...)
	if err != nil {
		return nil, result.Wrap(result.IOFailure, "ignore patterns", "", err)
	}
	if err := chain.LoadFile(filepath.Join(s.root, filter.IgnoreFileName)); err != nil {
		return nil, result.Wrap(result.IOFailure, "ignore patterns", filter.IgnoreFileName, err)
	}
	for _, p := range extra {
		if err := chain.AddExclude(p); err != nil {
			return nil, result.Wrap(result.IOFailure, "ignore patterns", "", err)
		}
	}
	return chain, nil
}

// ignored reports whether rel or any of its parent directories is excluded.
func ignored(chain *filter.Chain, rel string) bool {
	if chain.Excluded(rel, false) {
		return true
	}
	for i := strings.IndexByte(rel, '/'); i >= 0; {
		if chain.Excluded(rel[:i], true) {
			return true
		}
		next := strings.IndexByte(rel[i+1:], '/')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return false
}

func stateNotFound(id int) error {
	return result.Errorf(result.NotFound, "state", "", "state %d not found", id)
}
