package filter

import (
	"regexp"
	"strings"
)

// compiledPattern is a glob compiled to a regular expression.
type compiledPattern struct {
	re       *regexp.Regexp
	original string
	anchored bool // matched from the bottle root
	dirOnly  bool // trailing slash: directories only
}

// compilePattern converts an rsync-style glob into a matcher. A leading
// slash or any inner slash anchors the pattern to the root; otherwise it
// matches the basename or any path suffix.
func compilePattern(pattern string) (*compiledPattern, error) {
	cp := &compiledPattern{original: pattern}

	if trimmed, ok := strings.CutSuffix(pattern, "/"); ok {
		cp.dirOnly = true
		pattern = trimmed
	}

	if trimmed, ok := strings.CutPrefix(pattern, "/"); ok {
		cp.anchored = true
		pattern = trimmed
	} else if strings.Contains(pattern, "/") {
		cp.anchored = true
	}

	expr := globToRegex(pattern)
	if cp.anchored {
		expr = "^" + expr + "$"
	} else {
		expr = "(^|/)" + expr + "$"
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	cp.re = re
	return cp, nil
}

func (cp *compiledPattern) match(relPath string, isDir bool) bool {
	if cp.dirOnly && !isDir {
		return false
	}
	return cp.re.MatchString(relPath)
}

// globToRegex translates glob syntax: "*" stays within a path segment,
// "**" crosses segments, "?" is one non-slash rune, "[...]" is a class
// with "!" negation.
//
//nolint:gocyclo,revive // character-by-character glob parser
func globToRegex(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); {
		c := pattern[i]
		switch c {
		case '*':
			if strings.HasPrefix(pattern[i:], "**/") {
				b.WriteString("(.*/)?")
				i += 3
				continue
			}
			if strings.HasPrefix(pattern[i:], "**") {
				b.WriteString(".*")
				i += 2
				continue
			}
			b.WriteString("[^/]*")
			i++
		case '?':
			b.WriteString("[^/]")
			i++
		case '[':
			end := classEnd(pattern, i)
			if end < 0 {
				b.WriteString(`\[`)
				i++
				continue
			}
			cls := pattern[i+1 : end]
			if rest, ok := strings.CutPrefix(cls, "!"); ok {
				cls = "^" + rest
			}
			b.WriteString("[" + cls + "]")
			i = end + 1
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}
	return b.String()
}

// classEnd returns the index of the "]" closing the class opened at start,
// or -1 when the class is unterminated.
func classEnd(pattern string, start int) int {
	j := start + 1
	if j < len(pattern) && pattern[j] == '!' {
		j++
	}
	if j < len(pattern) && pattern[j] == ']' {
		j++
	}
	for j < len(pattern) && pattern[j] != ']' {
		j++
	}
	if j >= len(pattern) {
		return -1
	}
	return j
}
