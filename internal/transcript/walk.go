package transcript

import (
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultIncludes matches every supported transcript format.
var DefaultIncludes = []string{"**/*.srt", "**/*.vtt", "**/*.yaml", "**/*.yml", "**/*.json"}

// Finder selects transcript files under a directory with doublestar
// include and exclude patterns, matched against slash-separated paths
// relative to the root.
type Finder struct {
	includes []string
	excludes []string
}

// NewFinder returns a Finder. No includes means DefaultIncludes.
func NewFinder(includes, excludes []string) *Finder {
	if len(includes) == 0 {
		includes = DefaultIncludes
	}
	return &Finder{includes: includes, excludes: excludes}
}

// Find returns matching files in lexical order.
func (f *Finder) Find(root string) ([]string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	var out []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && f.excluded(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if f.included(rel) && !f.excluded(rel) {
			out = append(out, path)
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}

func (f *Finder) included(rel string) bool { return matchAny(f.includes, rel) }
func (f *Finder) excluded(rel string) bool { return matchAny(f.excludes, rel) }

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}
