package platform

import (
	"os"
	"sync"
)

// globalTmpRegistry tracks in-flight temporary files so an interrupted run
// can remove them.
var globalTmpRegistry = &tmpRegistry{}

type tmpRegistry struct {
	paths map[string]struct{}
	mu    sync.Mutex
}

// RegisterTmp adds a temporary path to the registry.
func RegisterTmp(path string) {
	globalTmpRegistry.mu.Lock()
	defer globalTmpRegistry.mu.Unlock()
	if globalTmpRegistry.paths == nil {
		globalTmpRegistry.paths = make(map[string]struct{})
	}
	globalTmpRegistry.paths[path] = struct{}{}
}

// DeregisterTmp removes a temporary path from the registry.
func DeregisterTmp(path string) {
	globalTmpRegistry.mu.Lock()
	defer globalTmpRegistry.mu.Unlock()
	delete(globalTmpRegistry.paths, path)
}

// CleanupTmpFiles removes every registered temporary path. Directories are
// removed recursively.
func CleanupTmpFiles() {
	globalTmpRegistry.mu.Lock()
	paths := make([]string, 0, len(globalTmpRegistry.paths))
	for p := range globalTmpRegistry.paths {
		paths = append(paths, p)
	}
	globalTmpRegistry.paths = nil
	globalTmpRegistry.mu.Unlock()

	for _, p := range paths {
		_ = os.RemoveAll(p)
	}
}
