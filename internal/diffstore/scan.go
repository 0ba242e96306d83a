package diffstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bamsammich/cellar/internal/checksum"
	"github.com/bamsammich/cellar/internal/event"
	"github.com/bamsammich/cellar/internal/filter"
)

// scanner walks a bottle in parallel: directory walkers feed regular files
// to hashing workers, which fill the manifest.
type scanner struct {
	ctx     context.Context
	store   *Store
	ignore  *filter.Chain
	files   chan Entry
	entries map[string]Entry
	rootErr error
	mu      sync.Mutex
}

// scan builds a manifest of the live tree honoring ignore.
func (s *Store) scan(ctx context.Context, ignore *filter.Chain) (Manifest, error) {
	sc := &scanner{
		ctx:     ctx,
		store:   s,
		ignore:  ignore,
		files:   make(chan Entry, s.opts.Workers*4),
		entries: make(map[string]Entry),
	}

	s.opts.Events.Emit(event.Event{Type: event.ScanStarted})

	var hashWg sync.WaitGroup
	for range s.opts.Workers {
		hashWg.Add(1)
		go func() {
			defer hashWg.Done()
			for e := range sc.files {
				sc.hash(e)
			}
		}()
	}

	sc.walk()
	close(sc.files)
	hashWg.Wait()

	if sc.rootErr != nil {
		return Manifest{}, sc.rootErr
	}
	if err := ctx.Err(); err != nil {
		return Manifest{}, err
	}

	m := newManifest(sc.entries)
	var total int64
	for _, e := range m.Files {
		total += e.Size
	}
	s.opts.Stats.SetTotals(int64(len(m.Files)), total)
	s.opts.Events.Emit(event.Event{Type: event.ScanComplete, Total: int64(len(m.Files)), TotalSize: total})
	return m, nil
}

func (sc *scanner) walk() {
	workers := sc.store.opts.Workers
	workQueue := make(chan string, workers*2)
	var outstanding sync.WaitGroup // directories queued but not yet processed

	var workerWg sync.WaitGroup
	for range workers {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			for dir := range workQueue {
				sc.scanDir(dir, workQueue, &outstanding)
				outstanding.Done()
			}
		}()
	}

	outstanding.Add(1)
	workQueue <- ""

	outstanding.Wait()
	close(workQueue)
	workerWg.Wait()
}

func (sc *scanner) scanDir(rel string, workQueue chan<- string, outstanding *sync.WaitGroup) {
	dir := filepath.Join(sc.store.root, filepath.FromSlash(rel))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if rel == "" {
			sc.rootErr = fmt.Errorf("readdir %s: %w", dir, err)
			return
		}
		// An unreadable subtree is absent from the manifest.
		sc.store.logger.Warn("scan: unreadable directory", "path", rel, "error", err)
		return
	}

	for _, entry := range entries {
		if sc.ctx.Err() != nil {
			return
		}
		childRel := entry.Name()
		if rel != "" {
			childRel = rel + "/" + entry.Name()
		}
		sc.processEntry(childRel, entry, workQueue, outstanding)
	}
}

func (sc *scanner) processEntry(rel string, entry os.DirEntry, workQueue chan<- string, outstanding *sync.WaitGroup) {
	path := filepath.Join(sc.store.root, filepath.FromSlash(rel))
	mode := entry.Type()

	switch {
	case mode.IsDir():
		if sc.ignore.Excluded(rel, true) {
			return
		}
		outstanding.Add(1)
		select {
		case workQueue <- rel:
		default:
			// Queue full: every walker may be blocked here, so descend inline.
			sc.scanDir(rel, workQueue, outstanding)
			outstanding.Done()
		}

	case mode&os.ModeSymlink != 0:
		if sc.ignore.Excluded(rel, false) {
			return
		}
		target, err := os.Readlink(path)
		if err != nil {
			sc.skip(rel, err)
			return
		}
		sc.add(Entry{Path: rel, Link: target, Checksum: checksum.String(target), Mode: uint32(os.ModeSymlink | 0o777)})

	case mode.IsRegular():
		if sc.ignore.Excluded(rel, false) {
			return
		}
		info, err := entry.Info()
		if err != nil {
			sc.skip(rel, err)
			return
		}
		select {
		case sc.files <- Entry{Path: rel, Size: info.Size(), Mode: uint32(info.Mode().Perm())}:
		case <-sc.ctx.Done():
		}
	}
}

func (sc *scanner) hash(e Entry) {
	digest, ok := sc.store.indexer.Sum(filepath.Join(sc.store.root, filepath.FromSlash(e.Path)))
	if !ok {
		sc.skip(e.Path, nil)
		return
	}
	e.Checksum = digest
	sc.add(e)
}

func (sc *scanner) add(e Entry) {
	sc.store.opts.Stats.AddFilesScanned(1)
	sc.mu.Lock()
	sc.entries[e.Path] = e
	sc.mu.Unlock()
}

func (sc *scanner) skip(rel string, err error) {
	sc.store.opts.Stats.AddFilesSkipped(1)
	sc.store.opts.Events.Emit(event.Event{Type: event.FileSkipped, Path: rel, Error: err})
}
