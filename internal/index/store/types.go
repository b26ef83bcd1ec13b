package store

import (
	"context"
	"errors"

	"dirindex/internal/model"
)

var ErrNotFound = errors.New("document not found")

type DirUpsert struct {
	ID       string
	Document model.DirectoryDocument
}

type ReadmeUpdate struct {
	ID     string
	Readme string
}

// Store is the directory index client. Ids are opaque; callers derive them
// from paths so every mutation is idempotent.
type Store interface {
	Close() error
	Backend() string

	// AddDirs inserts or replaces whole documents.
	AddDirs(ctx context.Context, dirs []DirUpsert) error
	// DeleteDirs removes documents; unknown ids are ignored.
	DeleteDirs(ctx context.Context, ids []string) error
	// UpdateReadmes sets only the readme field of existing documents and
	// reports how many were updated. Missing documents are skipped.
	UpdateReadmes(ctx context.Context, updates []ReadmeUpdate) (int, error)

	GetDir(ctx context.Context, id string) (model.DirectoryDocument, error)
	Search(ctx context.Context, q string, limit int) ([]model.SearchHit, error)
	Count(ctx context.Context) (int, error)
}

type PragmaReader interface {
	QueryPragma(name string) (string, error)
}
