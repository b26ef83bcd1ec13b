// Package elastic is the Elasticsearch-backed directory index.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"dirindex/internal/index/store"
	"dirindex/internal/model"
)

type Options struct {
	Addresses  []string
	Index      string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	Transport  http.RoundTripper
}

type Store struct {
	es      *elasticsearch.Client
	index   string
	timeout time.Duration
}

func Open(opts Options) (*Store, error) {
	index := strings.TrimSpace(opts.Index)
	if index == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if len(opts.Addresses) == 0 {
		opts.Addresses = []string{"http://127.0.0.1:9200"}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}

	header := http.Header{}
	if key := strings.TrimSpace(opts.APIKey); key != "" {
		header.Set("x-api-key", key)
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     opts.Addresses,
		Header:        header,
		RetryOnStatus: []int{http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout},
		MaxRetries:    opts.MaxRetries,
		Transport:     opts.Transport,
	})
	if err != nil {
		return nil, err
	}
	return &Store{es: es, index: index, timeout: opts.Timeout}, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) Backend() string { return "elasticsearch" }

func (s *Store) AddDirs(ctx context.Context, dirs []store.DirUpsert) error {
	if len(dirs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, d := range dirs {
		if err := writeBulkLine(&buf, map[string]any{"index": map[string]any{"_id": d.ID}}); err != nil {
			return err
		}
		if err := writeBulkLine(&buf, d.Document); err != nil {
			return err
		}
	}
	_, err := s.bulk(ctx, &buf)
	return err
}

func (s *Store) DeleteDirs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, id := range ids {
		if err := writeBulkLine(&buf, map[string]any{"delete": map[string]any{"_id": id}}); err != nil {
			return err
		}
	}
	_, err := s.bulk(ctx, &buf)
	return err
}

func (s *Store) UpdateReadmes(ctx context.Context, updates []store.ReadmeUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	var buf bytes.Buffer
	for _, u := range updates {
		if err := writeBulkLine(&buf, map[string]any{"update": map[string]any{"_id": u.ID}}); err != nil {
			return 0, err
		}
		if err := writeBulkLine(&buf, map[string]any{"doc": map[string]any{"readme": u.Readme}}); err != nil {
			return 0, err
		}
	}
	return s.bulk(ctx, &buf)
}

func (s *Store) GetDir(ctx context.Context, id string) (model.DirectoryDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.es.Get(s.index, id, s.es.Get.WithContext(ctx))
	if err != nil {
		return model.DirectoryDocument{}, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return model.DirectoryDocument{}, store.ErrNotFound
	}
	if res.IsError() {
		return model.DirectoryDocument{}, responseError("get", res)
	}

	var out struct {
		ID     string                  `json:"_id"`
		Found  bool                    `json:"found"`
		Source model.DirectoryDocument `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return model.DirectoryDocument{}, err
	}
	if !out.Found {
		return model.DirectoryDocument{}, store.ErrNotFound
	}
	out.Source.ID = out.ID
	return out.Source, nil
}

func (s *Store) Search(ctx context.Context, q string, limit int) ([]model.SearchHit, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, fmt.Errorf("query is required")
	}
	if limit <= 0 {
		limit = 20
	}

	body, err := json.Marshal(map[string]any{
		"query": map[string]any{
			"query_string": map[string]any{"query": q},
		},
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(s.index),
		s.es.Search.WithBody(bytes.NewReader(body)),
		s.es.Search.WithSize(limit),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError("search", res)
	}

	var out struct {
		Hits struct {
			Hits []struct {
				ID     string                  `json:"_id"`
				Score  float64                 `json:"_score"`
				Source model.DirectoryDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, err
	}
	hits := make([]model.SearchHit, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		h.Source.ID = h.ID
		hits = append(hits, model.SearchHit{ID: h.ID, Score: h.Score, Doc: h.Source})
	}
	return hits, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.es.Count(s.es.Count.WithContext(ctx), s.es.Count.WithIndex(s.index))
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, responseError("count", res)
	}
	var out struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

type bulkResponse struct {
	Errors bool                         `json:"errors"`
	Items  []map[string]bulkItemOutcome `json:"items"`
}

type bulkItemOutcome struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Result string `json:"result"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

// bulk sends one request and returns the number of items that were applied.
// Deletes of absent documents and updates of missing documents are not errors.
func (s *Store) bulk(ctx context.Context, body io.Reader) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.es.Bulk(body,
		s.es.Bulk.WithContext(ctx),
		s.es.Bulk.WithIndex(s.index),
	)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, responseError("bulk", res)
	}

	var out bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, err
	}

	applied := 0
	for _, item := range out.Items {
		for op, outcome := range item {
			switch {
			case outcome.Status == http.StatusNotFound && (op == "delete" || op == "update"):
				continue
			case outcome.Error != nil:
				return applied, fmt.Errorf("bulk %s %s: %s: %s", op, outcome.ID, outcome.Error.Type, outcome.Error.Reason)
			case outcome.Status >= 300:
				return applied, fmt.Errorf("bulk %s %s: status %d", op, outcome.ID, outcome.Status)
			}
			applied++
		}
	}
	return applied, nil
}

func writeBulkLine(buf *bytes.Buffer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	buf.WriteByte('\n')
	return nil
}

func responseError(op string, res *esapi.Response) error {
	b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return fmt.Errorf("elasticsearch %s: %s: %s", op, res.Status(), strings.TrimSpace(string(b)))
}
