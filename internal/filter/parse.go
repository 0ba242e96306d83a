package filter

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// IgnoreFileName is the per-bottle file holding extra ignore rules.
const IgnoreFileName = ".cellarignore"

// LoadFile appends rules read from path. One rule per line:
//
//	- pattern   exclude
//	+ pattern   include
//	pattern     exclude
//	# comment
//
// A missing file is not an error.
func (c *Chain) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open ignore file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var addErr error
		switch {
		case strings.HasPrefix(line, "+ "):
			addErr = c.AddInclude(line[2:])
		case strings.HasPrefix(line, "- "):
			addErr = c.AddExclude(line[2:])
		default:
			addErr = c.AddExclude(line)
		}
		if addErr != nil {
			return fmt.Errorf("ignore file %s line %d: %w", path, lineNum, addErr)
		}
	}
	return scanner.Err()
}
