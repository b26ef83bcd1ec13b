package bleve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"
	"go.etcd.io/bbolt"

	"dirindex/internal/index/store"
	"dirindex/internal/model"
)

const metaFileName = "dirindex-meta.db"

type Store struct {
	mu       sync.Mutex
	path     string
	metaPath string
	idx      bleve.Index
	meta     *bbolt.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("index path is required")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}

	var idx bleve.Index
	if _, err := os.Stat(filepath.Join(path, "index_meta.json")); err == nil {
		idx, err = bleve.Open(path)
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		idx, err = bleve.New(path, buildMapping())
		if err != nil {
			return nil, err
		}
	}

	metaPath := filepath.Join(path, metaFileName)
	meta, err := bbolt.Open(metaPath, 0o600, nil)
	if err != nil {
		_ = idx.Close()
		return nil, err
	}

	s := &Store{path: path, metaPath: metaPath, idx: idx, meta: meta}
	if err := s.ensureMeta(); err != nil {
		_ = meta.Close()
		_ = idx.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.idx != nil {
		errs = append(errs, s.idx.Close())
	}
	if s.meta != nil {
		errs = append(errs, s.meta.Close())
	}
	return errors.Join(errs...)
}

func (s *Store) Backend() string { return "bleve" }

func (s *Store) AddDirs(ctx context.Context, dirs []store.DirUpsert) error {
	if s == nil || s.idx == nil {
		return fmt.Errorf("store is not open")
	}
	if len(dirs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.idx.NewBatch()
	for _, d := range dirs {
		if strings.TrimSpace(d.ID) == "" {
			return fmt.Errorf("document id is required")
		}
		if err := batch.Index(d.ID, toFields(d.Document)); err != nil {
			return err
		}
	}
	if err := s.idx.Batch(batch); err != nil {
		return err
	}
	return s.bumpVersion()
}

func (s *Store) DeleteDirs(ctx context.Context, ids []string) error {
	if s == nil || s.idx == nil {
		return fmt.Errorf("store is not open")
	}
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.idx.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := s.idx.Batch(batch); err != nil {
		return err
	}
	return s.bumpVersion()
}

func (s *Store) UpdateReadmes(ctx context.Context, updates []store.ReadmeUpdate) (int, error) {
	if s == nil || s.idx == nil {
		return 0, fmt.Errorf("store is not open")
	}
	if len(updates) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.idx.NewBatch()
	updated := 0
	for _, u := range updates {
		doc, ok, err := s.lookup(u.ID)
		if err != nil {
			return updated, err
		}
		if !ok {
			continue
		}
		doc.Readme = u.Readme
		if err := batch.Index(u.ID, toFields(doc)); err != nil {
			return updated, err
		}
		updated++
	}
	if updated == 0 {
		return 0, nil
	}
	if err := s.idx.Batch(batch); err != nil {
		return 0, err
	}
	return updated, s.bumpVersion()
}

func (s *Store) GetDir(ctx context.Context, id string) (model.DirectoryDocument, error) {
	if s == nil || s.idx == nil {
		return model.DirectoryDocument{}, fmt.Errorf("store is not open")
	}
	if err := ctx.Err(); err != nil {
		return model.DirectoryDocument{}, err
	}
	doc, ok, err := s.lookup(id)
	if err != nil {
		return model.DirectoryDocument{}, err
	}
	if !ok {
		return model.DirectoryDocument{}, store.ErrNotFound
	}
	return doc, nil
}

func (s *Store) Search(ctx context.Context, q string, limit int) ([]model.SearchHit, error) {
	if s == nil || s.idx == nil {
		return nil, fmt.Errorf("store is not open")
	}
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, fmt.Errorf("query is required")
	}
	if limit <= 0 {
		limit = 20
	}

	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(q), limit, 0, false)
	req.Fields = []string{"*"}
	req.SortBy([]string{"-_score", "path"})

	res, err := s.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make([]model.SearchHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, model.SearchHit{ID: hit.ID, Score: hit.Score, Doc: fromHit(hit)})
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	if s == nil || s.idx == nil {
		return 0, fmt.Errorf("store is not open")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := s.idx.DocCount()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) lookup(id string) (model.DirectoryDocument, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.DirectoryDocument{}, false, fmt.Errorf("document id is required")
	}
	req := bleve.NewSearchRequestOptions(bleve.NewDocIDQuery([]string{id}), 1, 0, false)
	req.Fields = []string{"*"}
	res, err := s.idx.Search(req)
	if err != nil {
		return model.DirectoryDocument{}, false, err
	}
	if len(res.Hits) == 0 {
		return model.DirectoryDocument{}, false, nil
	}
	return fromHit(res.Hits[0]), true, nil
}

func buildMapping() mapping.IndexMapping {
	idxMapping := bleve.NewIndexMapping()
	idxMapping.DefaultAnalyzer = "standard"

	doc := bleve.NewDocumentMapping()
	doc.Dynamic = false

	keyword := bleve.NewTextFieldMapping()
	keyword.Analyzer = "keyword"
	keyword.Store = true
	keyword.Index = true
	keyword.DocValues = true

	text := bleve.NewTextFieldMapping()
	text.Analyzer = "standard"
	text.Store = true
	text.Index = true

	num := bleve.NewNumericFieldMapping()
	num.Store = true
	num.Index = true
	num.DocValues = true

	flag := bleve.NewBooleanFieldMapping()
	flag.Store = true
	flag.Index = true

	doc.AddFieldMappingsAt("path", keyword)
	doc.AddFieldMappingsAt("dir", keyword)
	doc.AddFieldMappingsAt("type", keyword)
	doc.AddFieldMappingsAt("record_type", keyword)
	doc.AddFieldMappingsAt("archive_path", keyword)
	doc.AddFieldMappingsAt("url", keyword)
	doc.AddFieldMappingsAt("readme", text)
	doc.AddFieldMappingsAt("title", text)
	doc.AddFieldMappingsAt("depth", num)
	doc.AddFieldMappingsAt("link", flag)

	idxMapping.DefaultMapping = doc
	return idxMapping
}

func toFields(d model.DirectoryDocument) map[string]any {
	doc := map[string]any{
		"path":  d.Path,
		"dir":   d.Dir,
		"depth": d.Depth,
		"type":  d.Type,
		"link":  d.Link,
	}
	if d.Readme != "" {
		doc["readme"] = d.Readme
	}
	if d.ArchivePath != "" {
		doc["archive_path"] = d.ArchivePath
	}
	if d.Title != "" {
		doc["title"] = d.Title
	}
	if d.URL != "" {
		doc["url"] = d.URL
	}
	if d.RecordType != "" {
		doc["record_type"] = d.RecordType
	}
	return doc
}

func fromHit(hit *search.DocumentMatch) model.DirectoryDocument {
	d := model.DirectoryDocument{ID: hit.ID}
	d.Path, _ = hit.Fields["path"].(string)
	d.Dir, _ = hit.Fields["dir"].(string)
	d.Type, _ = hit.Fields["type"].(string)
	d.Readme, _ = hit.Fields["readme"].(string)
	d.ArchivePath, _ = hit.Fields["archive_path"].(string)
	d.Title, _ = hit.Fields["title"].(string)
	d.URL, _ = hit.Fields["url"].(string)
	d.RecordType, _ = hit.Fields["record_type"].(string)
	d.Link, _ = hit.Fields["link"].(bool)
	if v, ok := toInt(hit.Fields["depth"]); ok {
		d.Depth = v
	}
	return d
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case float32:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	case int32:
		return int(t), true
	case uint64:
		return int(t), true
	case uint32:
		return int(t), true
	default:
		return 0, false
	}
}
