// Package checksum fingerprints file content with BLAKE3.
package checksum

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/zeebo/blake3"
)

// File computes the BLAKE3 hash of the file at path, returning the
// hex-encoded digest.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	buf := make([]byte, 32*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// String hashes s. Symlink targets are fingerprinted this way so they
// compare like file content.
func String(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Indexer fingerprints files for diffing. Files it cannot read, and files
// larger than MaxFileSize when that is set, are reported absent rather
// than failing the caller.
type Indexer struct {
	Logger      *slog.Logger
	MaxFileSize int64
}

// Sum returns the digest of path and whether the file takes part in diffs.
func (ix Indexer) Sum(path string) (string, bool) {
	log := ix.Logger
	if log == nil {
		log = slog.Default()
	}

	if ix.MaxFileSize > 0 {
		info, err := os.Stat(path)
		if err != nil {
			log.Debug("checksum: unreadable, treating as absent", "path", path, "error", err)
			return "", false
		}
		if info.Size() > ix.MaxFileSize {
			log.Debug("checksum: oversized, treating as absent",
				"path", path, "size", info.Size(), "max", ix.MaxFileSize)
			return "", false
		}
	}

	digest, err := File(path)
	if err != nil {
		log.Debug("checksum: unreadable, treating as absent", "path", path, "error", err)
		return "", false
	}
	return digest, true
}
