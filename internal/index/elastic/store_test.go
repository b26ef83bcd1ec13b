package elastic

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirindex/internal/index/store"
	"dirindex/internal/model"
)

type fakeCluster struct {
	mu       sync.Mutex
	apiKeys  []string
	bulkOps  []map[string]any
	response string
}

func (f *fakeCluster) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")

		f.mu.Lock()
		f.apiKeys = append(f.apiKeys, r.Header.Get("x-api-key"))
		f.mu.Unlock()

		switch {
		case strings.HasSuffix(r.URL.Path, "/_bulk"):
			sc := bufio.NewScanner(r.Body)
			for sc.Scan() {
				var line map[string]any
				require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
				f.mu.Lock()
				f.bulkOps = append(f.bulkOps, line)
				f.mu.Unlock()
			}
			_, _ = w.Write([]byte(f.response))
		case strings.HasSuffix(r.URL.Path, "/_doc/missing"):
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"_index":"dirs","_id":"missing","found":false}`))
		case strings.Contains(r.URL.Path, "/_doc/"):
			_, _ = w.Write([]byte(`{"_index":"dirs","_id":"ab","found":true,"_source":{"path":"/a/b","dir":"b","depth":2,"type":"dir","readme":"hello"}}`))
		case strings.HasSuffix(r.URL.Path, "/_count"):
			_, _ = w.Write([]byte(`{"count":7}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestStore(t *testing.T, f *fakeCluster) *Store {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	s, err := Open(Options{
		Addresses: []string{srv.URL},
		Index:     "dirs",
		APIKey:    "secret",
		Timeout:   5 * time.Second,
	})
	require.NoError(t, err)
	return s
}

func TestAddDirs_SendsIndexActionsWithAPIKey(t *testing.T) {
	f := &fakeCluster{response: `{"errors":false,"items":[{"index":{"_id":"ab","status":201,"result":"created"}}]}`}
	s := newTestStore(t, f)

	err := s.AddDirs(context.Background(), []store.DirUpsert{{
		ID:       "ab",
		Document: model.DirectoryDocument{Path: "/a/b", Dir: "b", Depth: 2, Type: model.DocTypeDir},
	}})
	require.NoError(t, err)

	require.Len(t, f.bulkOps, 2)
	assert.Equal(t, map[string]any{"index": map[string]any{"_id": "ab"}}, f.bulkOps[0])
	assert.Equal(t, "/a/b", f.bulkOps[1]["path"])
	assert.Equal(t, float64(2), f.bulkOps[1]["depth"])
	assert.Contains(t, f.apiKeys, "secret")
}

func TestUpdateReadmes_MissingDocumentIsSkipped(t *testing.T) {
	f := &fakeCluster{response: `{"errors":true,"items":[
		{"update":{"_id":"ab","status":200,"result":"updated"}},
		{"update":{"_id":"gone","status":404,"error":{"type":"document_missing_exception","reason":"missing"}}}
	]}`}
	s := newTestStore(t, f)

	n, err := s.UpdateReadmes(context.Background(), []store.ReadmeUpdate{
		{ID: "ab", Readme: "hello"},
		{ID: "gone", Readme: "bye"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, map[string]any{"doc": map[string]any{"readme": "hello"}}, f.bulkOps[1])
}

func TestBulk_ItemFailureIsAnError(t *testing.T) {
	f := &fakeCluster{response: `{"errors":true,"items":[{"index":{"_id":"ab","status":400,"error":{"type":"mapper_parsing_exception","reason":"bad"}}}]}`}
	s := newTestStore(t, f)

	err := s.AddDirs(context.Background(), []store.DirUpsert{{ID: "ab"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}

func TestDeleteDirs_NotFoundIsFine(t *testing.T) {
	f := &fakeCluster{response: `{"errors":false,"items":[{"delete":{"_id":"x","status":404,"result":"not_found"}}]}`}
	s := newTestStore(t, f)

	require.NoError(t, s.DeleteDirs(context.Background(), []string{"x"}))
}

func TestGetDirAndCount(t *testing.T) {
	s := newTestStore(t, &fakeCluster{})
	ctx := context.Background()

	doc, err := s.GetDir(ctx, "ab")
	require.NoError(t, err)
	assert.Equal(t, "ab", doc.ID)
	assert.Equal(t, "hello", doc.Readme)

	_, err = s.GetDir(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}
