package publisher

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// GlobFilter selects source files using glob patterns matched against the
// lower-cased base name
type GlobFilter struct {
	include []glob.Glob
	exclude []glob.Glob
}

// NewGlobFilter creates a filter. Empty include patterns match everything;
// exclude patterns win over include patterns.
func NewGlobFilter(include, exclude []string) (*GlobFilter, error) {
	filter := &GlobFilter{
		include: make([]glob.Glob, 0, len(include)),
		exclude: make([]glob.Glob, 0, len(exclude)),
	}

	for _, pattern := range include {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid source pattern %q: %w", pattern, err)
		}
		filter.include = append(filter.include, g)
	}

	for _, pattern := range exclude {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		filter.exclude = append(filter.exclude, g)
	}

	return filter, nil
}

// Match returns true if filename matches an include pattern and no exclude
// pattern
func (f *GlobFilter) Match(filename string) bool {
	name := strings.ToLower(filename)

	for _, g := range f.exclude {
		if g.Match(name) {
			return false
		}
	}

	if len(f.include) == 0 {
		return true
	}
	for _, g := range f.include {
		if g.Match(name) {
			return true
		}
	}
	return false
}
