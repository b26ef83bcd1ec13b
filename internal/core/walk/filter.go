package walk

import (
	"path"
	"path/filepath"

	"dirindex/internal/model"
)

// Filter decides which entries under a root are indexed or watched.
type Filter struct {
	opts Options
	ig   *ignoreMatcher
}

func NewFilter(root string, opts Options) (*Filter, error) {
	ig, err := loadIgnoreMatcher(root, opts)
	if err != nil {
		return nil, err
	}
	return &Filter{
		opts: opts,
		ig:   ig,
	}, nil
}

func (f *Filter) ShouldInclude(rel string, isDir bool) bool {
	if f == nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	name := path.Base(rel)

	if isDir {
		if !f.opts.ScanAll && (isHidden(name) || isDefaultSkippedDir(name)) {
			return false
		}
		if !f.opts.ScanAll && f.ig.isIgnored(rel, true) {
			return false
		}
		return !anyGlobMatch(f.opts.ExcludeGlobs, rel)
	}

	// Only marker files matter below a directory.
	if name != model.ReadmeName {
		return false
	}
	return f.ShouldInclude(path.Dir(rel), true) || path.Dir(rel) == "."
}
