package mirror

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
	packageurl "github.com/package-url/packageurl-go"
)

// Filter selects package ids by include/exclude glob patterns.
// Patterns are case-insensitive and anchored over the whole id; `*` and
// `?` carry their usual meaning. A pattern may also be a package URL
// (pkg:nuget/<id>), which matches that id exactly.
type Filter struct {
	includes []glob.Glob
	excludes []glob.Glob
}

// NewFilter compiles the include and exclude patterns. With no include
// patterns every id is a candidate; excludes always win.
func NewFilter(includes, excludes []string) (*Filter, error) {
	f := &Filter{}
	var err error
	if f.includes, err = compilePatterns(includes); err != nil {
		return nil, err
	}
	if f.excludes, err = compilePatterns(excludes); err != nil {
		return nil, err
	}
	return f, nil
}

// Match reports whether a package id passes the filter.
func (f *Filter) Match(id string) bool {
	id = strings.ToLower(id)
	for _, g := range f.excludes {
		if g.Match(id) {
			return false
		}
	}
	if len(f.includes) == 0 {
		return true
	}
	for _, g := range f.includes {
		if g.Match(id) {
			return true
		}
	}
	return false
}

func compilePatterns(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		if strings.HasPrefix(p, "pkg:") {
			parsed, err := packageurl.FromString(p)
			if err != nil {
				return nil, fmt.Errorf("invalid package URL filter %q: %w", p, err)
			}
			p = parsed.Name
		}
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}
