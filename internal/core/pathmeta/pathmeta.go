// Package pathmeta derives index identity and directory documents from paths.
package pathmeta

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"dirindex/internal/model"
)

const DefaultMaxReadmeBytes = 1 << 20

// DeriveID returns the document id for a path. The id depends on the path
// bytes only, so every event for the same path addresses the same document.
func DeriveID(p string) string {
	sum := sha1.Sum([]byte(p))
	return hex.EncodeToString(sum[:])
}

// FromPath builds a document from the path string alone.
func FromPath(p string) model.DirectoryDocument {
	return model.DirectoryDocument{
		ID:    DeriveID(p),
		Path:  p,
		Dir:   path.Base(p),
		Depth: strings.Count(p, "/"),
		Type:  model.DocTypeDir,
	}
}

// Lookup resolves classification metadata for a path.
type Lookup interface {
	Lookup(p string) (model.MappingEntry, bool)
}

type Options struct {
	Mapping        Lookup
	MaxReadmeBytes int64
}

type Deriver struct {
	mapping  Lookup
	maxBytes int64
}

func NewDeriver(opts Options) *Deriver {
	if opts.MaxReadmeBytes <= 0 {
		opts.MaxReadmeBytes = DefaultMaxReadmeBytes
	}
	return &Deriver{mapping: opts.Mapping, maxBytes: opts.MaxReadmeBytes}
}

// FromFilesystem inspects p. It reports false when p is not visible or is not
// a directory (or a symlink to one); only unexpected I/O failures are errors.
func (d *Deriver) FromFilesystem(p string) (model.DirectoryDocument, bool, error) {
	info, err := os.Lstat(p)
	if err != nil {
		if isAbsent(err) {
			return model.DirectoryDocument{}, false, nil
		}
		return model.DirectoryDocument{}, false, fmt.Errorf("stat %s: %w", p, err)
	}

	doc := FromPath(p)
	switch {
	case info.IsDir():
	case info.Mode()&fs.ModeSymlink != 0:
		target, err := filepath.EvalSymlinks(p)
		if err != nil {
			if isAbsent(err) {
				return model.DirectoryDocument{}, false, nil
			}
			return model.DirectoryDocument{}, false, fmt.Errorf("resolve %s: %w", p, err)
		}
		st, err := os.Stat(target)
		if err != nil {
			if isAbsent(err) {
				return model.DirectoryDocument{}, false, nil
			}
			return model.DirectoryDocument{}, false, fmt.Errorf("stat %s: %w", target, err)
		}
		if !st.IsDir() {
			return model.DirectoryDocument{}, false, nil
		}
		doc.Link = true
		doc.ArchivePath = target
	default:
		return model.DirectoryDocument{}, false, nil
	}

	d.merge(&doc)
	return doc, true, nil
}

// Enrich merges mapping metadata into a path-derived document.
func (d *Deriver) Enrich(doc model.DirectoryDocument) model.DirectoryDocument {
	d.merge(&doc)
	return doc
}

func (d *Deriver) merge(doc *model.DirectoryDocument) {
	if d == nil || d.mapping == nil {
		return
	}
	lookupPath := doc.Path
	if doc.ArchivePath != "" {
		lookupPath = doc.ArchivePath
	}
	entry, ok := d.mapping.Lookup(lookupPath)
	if !ok && lookupPath != doc.Path {
		entry, ok = d.mapping.Lookup(doc.Path)
	}
	if !ok {
		return
	}
	doc.Title = entry.Title
	doc.URL = entry.URL
	doc.RecordType = entry.RecordType
}

// ReadReadme returns the text of the 00README directly under dir. A missing
// directory, a missing marker or an empty marker all report false.
func (d *Deriver) ReadReadme(dir string) (string, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if isAbsent(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("list %s: %w", dir, err)
	}

	found := false
	for _, e := range entries {
		if e.Name() == model.ReadmeName && !e.IsDir() {
			found = true
			break
		}
	}
	if !found {
		return "", false, nil
	}

	f, err := os.Open(filepath.Join(dir, model.ReadmeName))
	if err != nil {
		if isAbsent(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("open readme: %w", err)
	}
	defer f.Close()

	maxBytes := int64(DefaultMaxReadmeBytes)
	if d != nil && d.maxBytes > 0 {
		maxBytes = d.maxBytes
	}
	b, err := io.ReadAll(io.LimitReader(f, maxBytes))
	if err != nil {
		return "", false, fmt.Errorf("read readme: %w", err)
	}
	if len(b) == 0 {
		return "", false, nil
	}
	return strings.ToValidUTF8(string(b), "�"), true, nil
}

func isAbsent(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
