// Package crawl bulk-loads the directory index from a tree on disk, for
// seeding an empty index or repairing one after missed events.
package crawl

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dirindex/internal/core/pathmeta"
	"dirindex/internal/core/walk"
	"dirindex/internal/index/store"
	"dirindex/internal/model"
)

const DefaultBatchSize = 500

type Options struct {
	Walk walk.Options
	// Workers derive documents concurrently; default CPU/2.
	Workers   int
	BatchSize int
	Deriver   *pathmeta.Deriver
	Logger    *zap.Logger
}

type Stats struct {
	Listed  int `json:"listed"`
	Indexed int `json:"indexed"`
	Readmes int `json:"readmes"`
	Skipped int `json:"skipped"`
}

// bulkPreparer is implemented by backends that can trade durability for
// load speed.
type bulkPreparer interface {
	PrepareBulk() error
}

// Run upserts a document for every directory under root, readme included.
// Directories that vanish mid-crawl are skipped.
func Run(ctx context.Context, st store.Store, root string, opts Options) (Stats, error) {
	var stats Stats
	if st == nil {
		return stats, fmt.Errorf("index store is required")
	}
	if strings.TrimSpace(root) == "" {
		return stats, fmt.Errorf("root is required")
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = max(1, runtime.NumCPU()/2)
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	d := opts.Deriver
	if d == nil {
		d = pathmeta.NewDeriver(pathmeta.Options{})
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	if bp, ok := st.(bulkPreparer); ok {
		if err := bp.PrepareBulk(); err != nil {
			log.Warn("bulk pragmas not applied", zap.Error(err))
		}
	}

	dirs, err := walk.ListDirs(root, opts.Walk)
	if err != nil {
		return stats, err
	}
	stats.Listed = len(dirs)

	for start := 0; start < len(dirs); start += batch {
		end := min(start+batch, len(dirs))
		docs, err := derive(ctx, d, dirs[start:end], workers)
		if err != nil {
			return stats, err
		}

		ups := make([]store.DirUpsert, 0, len(docs))
		for _, doc := range docs {
			if doc == nil {
				stats.Skipped++
				continue
			}
			if doc.Readme != "" {
				stats.Readmes++
			}
			ups = append(ups, store.DirUpsert{ID: pathmeta.DeriveID(doc.Path), Document: *doc})
		}
		if len(ups) > 0 {
			if err := st.AddDirs(ctx, ups); err != nil {
				return stats, fmt.Errorf("index batch at %s: %w", dirs[start], err)
			}
		}
		stats.Indexed += len(ups)
		log.Debug("crawl batch indexed", zap.Int("indexed", stats.Indexed), zap.Int("listed", stats.Listed))
	}
	return stats, nil
}

// derive builds documents in input order; nil marks a path that is gone.
func derive(ctx context.Context, d *pathmeta.Deriver, paths []string, workers int) ([]*model.DirectoryDocument, error) {
	out := make([]*model.DirectoryDocument, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, ok, err := d.FromFilesystem(p)
			if err != nil {
				return fmt.Errorf("derive %s: %w", p, err)
			}
			if !ok {
				return nil
			}
			content, found, err := d.ReadReadme(p)
			if err != nil {
				return fmt.Errorf("read readme in %s: %w", p, err)
			}
			if found {
				doc.Readme = content
			}
			out[i] = &doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
