// Package filter matches bottle-relative paths against ordered rsync-style
// include/exclude rules. It backs the versioning ignore list and the archive
// exclude predicate.
package filter

import "strings"

// Rule is a single compiled include or exclude rule.
type Rule struct {
	Pattern *compiledPattern
	Include bool
}

// Chain holds an ordered list of rules. The first matching rule decides;
// paths matching no rule are kept.
type Chain struct {
	rules []Rule
}

// NewChain creates a chain excluding every pattern in excludes, in order.
func NewChain(excludes ...string) (*Chain, error) {
	c := &Chain{}
	for _, p := range excludes {
		if err := c.AddExclude(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustChain is NewChain for patterns known at compile time.
func MustChain(excludes ...string) *Chain {
	c, err := NewChain(excludes...)
	if err != nil {
		panic(err)
	}
	return c
}

// AddExclude appends an exclude rule.
func (c *Chain) AddExclude(pattern string) error {
	return c.add(pattern, false)
}

// AddInclude appends an include rule.
func (c *Chain) AddInclude(pattern string) error {
	return c.add(pattern, true)
}

func (c *Chain) add(pattern string, include bool) error {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil
	}
	cp, err := compilePattern(pattern)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, Rule{Pattern: cp, Include: include})
	return nil
}

// Extend returns a new chain with other's rules appended after c's.
// Either side may be nil.
func (c *Chain) Extend(other *Chain) *Chain {
	out := &Chain{}
	if c != nil {
		out.rules = append(out.rules, c.rules...)
	}
	if other != nil {
		out.rules = append(out.rules, other.rules...)
	}
	return out
}

// Empty reports whether the chain has no rules.
func (c *Chain) Empty() bool {
	return c == nil || len(c.rules) == 0
}

// Patterns returns the source patterns, exclude rules prefixed with "- "
// and include rules with "+ ", in evaluation order.
func (c *Chain) Patterns() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.rules))
	for _, r := range c.rules {
		prefix := "- "
		if r.Include {
			prefix = "+ "
		}
		out = append(out, prefix+r.Pattern.original)
	}
	return out
}

// Match reports whether relPath should be kept. relPath uses forward
// slashes and is relative to the bottle root.
func (c *Chain) Match(relPath string, isDir bool) bool {
	if c == nil {
		return true
	}
	for _, rule := range c.rules {
		if rule.Pattern.match(relPath, isDir) {
			return rule.Include
		}
	}
	return true
}

// Excluded is the negation of Match, the shape used by exclude predicates.
func (c *Chain) Excluded(relPath string, isDir bool) bool {
	return !c.Match(relPath, isDir)
}
