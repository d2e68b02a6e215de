package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// vcsDirs are never watched, whatever the globs say.
var vcsDirs = map[string]bool{
	".git": true,
	".hg":  true,
	".svn": true,
}

// Matcher decides which paths under the watch root are sources. Paths are
// slash-separated and relative to the root. '*' stops at '/', '**' crosses
// directories, and a leading "**/" also matches at the root.
type Matcher struct {
	include []glob.Glob
	exclude []glob.Glob
}

// NewMatcher compiles include and exclude globs.
func NewMatcher(include, exclude []string) (*Matcher, error) {
	m := &Matcher{}
	var err error
	if m.include, err = compileAll(include); err != nil {
		return nil, err
	}
	if m.exclude, err = compileAll(exclude); err != nil {
		return nil, err
	}
	return m, nil
}

func compileAll(patterns []string) ([]glob.Glob, error) {
	var globs []glob.Glob
	for _, p := range patterns {
		p = strings.TrimPrefix(filepath.ToSlash(strings.TrimSpace(p)), "./")
		if p == "" {
			continue
		}
		variants := []string{p}
		if rest, ok := strings.CutPrefix(p, "**/"); ok {
			variants = append(variants, rest)
		}
		for _, v := range variants {
			g, err := glob.Compile(v, '/')
			if err != nil {
				return nil, fmt.Errorf("invalid glob %q: %w", p, err)
			}
			globs = append(globs, g)
		}
	}
	return globs, nil
}

// Match reports whether the file at rel is a watched source.
func (m *Matcher) Match(rel string) bool {
	rel = filepath.ToSlash(rel)
	if rel == "" || rel == "." || isEditorTemp(path.Base(rel)) {
		return false
	}
	if matchAny(m.exclude, rel) {
		return false
	}
	return matchAny(m.include, rel)
}

// SkipDir reports whether the directory at rel is excluded entirely.
func (m *Matcher) SkipDir(rel string) bool {
	rel = filepath.ToSlash(rel)
	if rel == "" || rel == "." {
		return false
	}
	if vcsDirs[path.Base(rel)] {
		return true
	}
	return matchAny(m.exclude, rel) || matchAny(m.exclude, rel+"/")
}

// Scan walks root and returns the relative paths of all watched files,
// sorted.
func (m *Matcher) Scan(root string) ([]string, error) {
	var files []string
	err := m.walk(root, func(rel string, _ fs.DirEntry) {
		files = append(files, rel)
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// walk visits every watched file under root. Entries that vanish while
// walking are skipped.
func (m *Matcher) walk(root string, visit func(rel string, d fs.DirEntry)) error {
	return m.walkFrom(root, root, visit)
}

// walkFrom is walk restricted to the subtree at start, with paths still
// reported relative to root.
func (m *Matcher) walkFrom(root, start string, visit func(rel string, d fs.DirEntry)) error {
	return filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == start {
				return err
			}
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if m.SkipDir(rel) {
				return fs.SkipDir
			}
			return nil
		}
		if m.Match(rel) {
			visit(rel, d)
		}
		return nil
	})
}

func matchAny(globs []glob.Glob, s string) bool {
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

// isEditorTemp filters swap and backup files editors write next to sources.
func isEditorTemp(base string) bool {
	if base == "4913" || base == ".DS_Store" || strings.HasSuffix(base, "~") {
		return true
	}
	switch path.Ext(base) {
	case ".swp", ".swo", ".swx", ".tmp":
		return true
	}
	return false
}
