package walk

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	gitignore "github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

type ignoreMatcher struct {
	matcher gitignore.Matcher
}

// loadIgnoreMatcher reads the root's ignore file; a missing file ignores nothing.
func loadIgnoreMatcher(root string, opts Options) (*ignoreMatcher, error) {
	if opts.ScanAll {
		return &ignoreMatcher{}, nil
	}
	name := opts.IgnoreFile
	if name == "" {
		name = DefaultIgnoreFile
	}

	fsys := osfs.New(root)
	f, err := fsys.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return &ignoreMatcher{}, nil
		}
		return nil, err
	}
	defer f.Close()

	var patterns []gitignore.Pattern
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return &ignoreMatcher{}, nil
	}
	return &ignoreMatcher{matcher: gitignore.NewMatcher(patterns)}, nil
}

func (m *ignoreMatcher) isIgnored(relPath string, isDir bool) bool {
	if m == nil || m.matcher == nil {
		return false
	}

	relPath = strings.Trim(relPath, "/")
	if relPath == "" || relPath == "." {
		return false
	}

	segments := strings.Split(relPath, "/")
	return m.matcher.Match(segments, isDir)
}
