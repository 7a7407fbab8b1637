package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

const globMeta = "*?[{"

// expandPatterns turns file arguments into a sorted, de-duplicated list of
// test case files. Plain paths must exist; glob patterns must match at least
// one file.
func expandPatterns(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(path string) {
		path = filepath.Clean(path)
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}

	for _, pattern := range patterns {
		if !strings.ContainsAny(pattern, globMeta) {
			if _, err := os.Stat(pattern); err != nil {
				return nil, fmt.Errorf("test file %s: %w", pattern, err)
			}
			add(pattern)
			continue
		}

		matches, err := matchGlob(pattern)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no test files match %q", pattern)
		}
		for _, m := range matches {
			add(m)
		}
	}

	sort.Strings(files)
	return files, nil
}

// matchGlob walks the static prefix of pattern and returns the files that
// match it. "**" crosses directories, "*" does not.
func matchGlob(pattern string) ([]string, error) {
	slashed := filepath.ToSlash(pattern)
	g, err := glob.Compile(slashed, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	root := "."
	if i := strings.IndexAny(slashed, globMeta); i > 0 {
		if j := strings.LastIndex(slashed[:i], "/"); j >= 0 {
			root = slashed[:j]
			if root == "" {
				root = "/"
			}
		}
	}

	var matches []string
	err = filepath.WalkDir(filepath.FromSlash(root), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		candidate := filepath.ToSlash(path)
		if root == "." && !strings.HasPrefix(slashed, "./") {
			candidate = strings.TrimPrefix(candidate, "./")
		}
		if g.Match(candidate) {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to expand %q: %w", pattern, err)
	}
	return matches, nil
}
