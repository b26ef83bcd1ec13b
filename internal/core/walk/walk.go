package walk

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

const DefaultIgnoreFile = ".dirindexignore"

type Options struct {
	// IgnoreFile holds gitignore-syntax patterns, read from the root.
	IgnoreFile   string
	ExcludeGlobs []string
	// ScanAll disables hidden, default and ignore-file skipping.
	ScanAll bool
	// MaxDepth limits descent below root; 0 is unlimited.
	MaxDepth int
}

// ListDirs returns root and every directory below it, as absolute paths in
// lexical order. Symlinks to directories are listed but not descended.
func ListDirs(root string, opts Options) ([]string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	rootAbs = filepath.Clean(rootAbs)

	f, err := NewFilter(rootAbs, opts)
	if err != nil {
		return nil, err
	}

	dirs := []string{rootAbs}
	err = filepath.WalkDir(rootAbs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == rootAbs {
				return err
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p == rootAbs {
			return nil
		}

		rel, err := filepath.Rel(rootAbs, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		switch {
		case d.IsDir():
			if !f.ShouldInclude(rel, true) {
				return filepath.SkipDir
			}
			dirs = append(dirs, p)
			if opts.MaxDepth > 0 && strings.Count(rel, "/")+1 >= opts.MaxDepth {
				return filepath.SkipDir
			}
		case d.Type()&fs.ModeSymlink != 0:
			if st, err := os.Stat(p); err == nil && st.IsDir() && f.ShouldInclude(rel, true) {
				dirs = append(dirs, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(dirs)
	return dirs, nil
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func isDefaultSkippedDir(name string) bool {
	switch name {
	case "lost+found", ".snapshot", ".zfs":
		return true
	default:
		return false
	}
}

func anyGlobMatch(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if matchesGlob(pat, rel) {
			return true
		}
	}
	return false
}

func matchesGlob(pattern string, rel string) bool {
	pat := strings.TrimSpace(pattern)
	if pat == "" {
		return false
	}
	pat = strings.ReplaceAll(pat, "\\", "/")
	rel = filepath.ToSlash(rel)

	// Support csv passed via -x "tmp*,scratch" when not using StringSliceVar.
	if strings.Contains(pat, ",") {
		for _, piece := range strings.Split(pat, ",") {
			if matchesGlob(strings.TrimSpace(piece), rel) {
				return true
			}
		}
		return false
	}

	// Patterns without a separator match the final component.
	if !strings.Contains(pat, "/") {
		ok, _ := path.Match(pat, path.Base(rel))
		return ok
	}

	ok, _ := path.Match(strings.TrimPrefix(pat, "/"), rel)
	return ok
}
