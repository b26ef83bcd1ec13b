package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirindex/internal/index/store"
	"dirindex/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir() + "/index.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestAddDirs_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	doc := model.DirectoryDocument{Path: "/a/b", Dir: "b", Depth: 2, Type: model.DocTypeDir}
	require.NoError(t, s.AddDirs(ctx, []store.DirUpsert{{ID: "ab", Document: doc}}))
	doc.Title = "renamed"
	require.NoError(t, s.AddDirs(ctx, []store.DirUpsert{{ID: "ab", Document: doc}}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetDir(ctx, "ab")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.Equal(t, 2, got.Depth)
}

func TestUpdateReadmes_PartialUpdate(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	doc := model.DirectoryDocument{Path: "/a/b", Dir: "b", Depth: 2, Type: model.DocTypeDir, Title: "kept", Link: true}
	require.NoError(t, s.AddDirs(ctx, []store.DirUpsert{{ID: "ab", Document: doc}}))

	n, err := s.UpdateReadmes(ctx, []store.ReadmeUpdate{{ID: "ab", Readme: "hello"}, {ID: "missing", Readme: "x"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetDir(ctx, "ab")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Readme)
	assert.Equal(t, "kept", got.Title)
	assert.True(t, got.Link)
}

func TestDeleteDirs_MissingIsNotAnError(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.DeleteDirs(ctx, []string{"nope"}))

	_, err := s.GetDir(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSearch_MatchesReadme(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.AddDirs(ctx, []store.DirUpsert{
		{ID: "1", Document: model.DirectoryDocument{Path: "/badc/cmip6", Dir: "cmip6", Depth: 2, Type: model.DocTypeDir, Readme: "climate model output"}},
		{ID: "2", Document: model.DirectoryDocument{Path: "/badc/faam", Dir: "faam", Depth: 2, Type: model.DocTypeDir, Readme: "aircraft data"}},
	}))

	hits, err := s.Search(ctx, "aircraft", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "/badc/faam", hits[0].Doc.Path)

	v, err := s.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}
