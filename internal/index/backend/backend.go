package backend

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"dirindex/internal/index/bleve"
	"dirindex/internal/index/elastic"
	"dirindex/internal/index/sqlite"
	"dirindex/internal/index/store"
)

type Options struct {
	Backend    string
	Path       string
	Name       string
	Addresses  []string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "bleve"
	}
	switch name {
	case "sqlite", "sqlite3", "fts5":
		return "sqlite"
	case "bleve":
		return "bleve"
	case "elasticsearch", "elastic", "es":
		return "elasticsearch"
	default:
		return name
	}
}

func DefaultPath(dataDir string, backend string) string {
	switch NormalizeName(backend) {
	case "sqlite":
		return filepath.Join(dataDir, "dirs.db")
	case "elasticsearch":
		return ""
	default:
		return filepath.Join(dataDir, "dirs.bleve")
	}
}

// NormalizePath keeps local index paths consistent with their backend's
// on-disk layout (bleve uses a directory, sqlite a single file).
func NormalizePath(backend string, path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	clean := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(clean))

	switch NormalizeName(backend) {
	case "bleve":
		if ext == "" {
			return clean + ".bleve"
		}
		if ext == ".db" {
			return strings.TrimSuffix(clean, ext) + ".bleve"
		}
	case "sqlite":
		if ext == ".bleve" {
			return strings.TrimSuffix(clean, ext) + ".db"
		}
	}
	return clean
}

func Open(opts Options) (store.Store, error) {
	name := NormalizeName(opts.Backend)
	switch name {
	case "sqlite":
		return sqlite.Open(NormalizePath(name, opts.Path))
	case "bleve":
		return bleve.Open(NormalizePath(name, opts.Path))
	case "elasticsearch":
		return elastic.Open(elastic.Options{
			Addresses:  opts.Addresses,
			Index:      opts.Name,
			APIKey:     opts.APIKey,
			Timeout:    opts.Timeout,
			MaxRetries: opts.MaxRetries,
		})
	default:
		return nil, fmt.Errorf("unknown index backend: %s", opts.Backend)
	}
}
