package dirindexcli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirindex/internal/broker"
	"dirindex/internal/broker/memory"
	"dirindex/internal/config"
	"dirindex/internal/consumer"
	"dirindex/internal/model"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	out, _, err := ExecuteForTest(cmd)
	return out, err
}

func TestHelpListsSubcommands(t *testing.T) {
	out, err := run(t, "--help")
	require.NoError(t, err)
	for _, sub := range []string{"consume", "crawl", "watch", "publish", "search", "get", "status"} {
		assert.Contains(t, out, sub)
	}
}

func TestVersionFlag(t *testing.T) {
	out, err := run(t, "-v")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))
}

func TestFlagsOverrideConfig(t *testing.T) {
	cmd := NewRootCommand()
	dbPath := filepath.Join(t.TempDir(), "x.db")
	cmd.SetArgs([]string{"--backend", "fts5", "--index", dbPath, "--log-level", "warn"})
	_, opts, err := ExecuteForTest(cmd)
	require.NoError(t, err)
	require.NotNil(t, opts.Config)
	assert.Equal(t, "sqlite", opts.Config.Index.Backend)
	assert.Equal(t, dbPath, opts.Config.Index.Path)
	assert.Equal(t, "warn", opts.Config.Log.Level)
}

func TestCrawlSearchGet(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	era5 := filepath.Join(root, "badc", "era5")
	require.NoError(t, os.MkdirAll(era5, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "neodc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(era5, model.ReadmeName), []byte("ECMWF reanalysis\nmore text"), 0o644))

	index := []string{"--backend", "sqlite", "--index", filepath.Join(t.TempDir(), "dirs.db")}

	out, err := run(t, append(index, "crawl", root)...)
	require.NoError(t, err)
	assert.Contains(t, out, "indexed 4")

	out, err = run(t, append(index, "search", "reanalysis")...)
	require.NoError(t, err)
	assert.Equal(t, era5+"\tECMWF reanalysis\n", out)

	out, err = run(t, append(index, "--jsonl", "search", "reanalysis")...)
	require.NoError(t, err)
	var hit model.SearchHit
	require.NoError(t, json.Unmarshal([]byte(out), &hit))
	assert.Equal(t, era5, hit.Doc.Path)

	out, err = run(t, append(index, "get", era5)...)
	require.NoError(t, err)
	var doc model.DirectoryDocument
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "era5", doc.Dir)
	assert.Equal(t, "ECMWF reanalysis\nmore text", doc.Readme)

	_, err = run(t, append(index, "get", filepath.Join(root, "missing"))...)
	assert.Error(t, err)
}

type keepOpen struct{ *memory.Conn }

func (keepOpen) Close() error { return nil }

func TestPublish(t *testing.T) {
	conn := memory.New(4)
	old := openBroker
	openBroker = func(ctx context.Context, cfg config.Broker) (broker.Connection, error) {
		return keepOpen{conn}, nil
	}
	t.Cleanup(func() { openBroker = old })

	out, err := run(t, "publish", "deposit", "/badc/cmip6/00README", "--size", "12", "new", "readme")
	require.NoError(t, err)
	assert.Contains(t, out, ":/badc/cmip6/00README:DEPOSIT:12:new readme")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var got model.IngestMessage
	err = conn.Consume(ctx, func(d broker.Delivery) error {
		var err error
		got, err = consumer.Decode(d.Body)
		cancel()
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, model.ActionDeposit, got.Action)
	assert.Equal(t, "/badc/cmip6/00README", got.Filepath)
	assert.Equal(t, "12", got.Filesize)
	assert.Equal(t, "new readme", got.Message)
}

func TestPublish_Rejects(t *testing.T) {
	_, err := run(t, "publish", "CHMOD", "/a")
	assert.ErrorContains(t, err, "invalid action")

	_, err = run(t, "publish", "MKDIR", "/a:b")
	assert.ErrorContains(t, err, "':'")

	t.Setenv("DIRINDEX_BROKER_KIND", "memory")
	_, err = run(t, "publish", "MKDIR", "/a")
	assert.ErrorContains(t, err, "memory broker")
}

func TestRenderHits(t *testing.T) {
	hits := []model.SearchHit{
		{Doc: model.DirectoryDocument{Path: "/a", Title: "Archive A", Readme: "ignored"}},
		{Doc: model.DirectoryDocument{Path: "/b", Readme: "\n first line \nsecond"}},
		{Doc: model.DirectoryDocument{Path: "/latest", Link: true, ArchivePath: "/a"}},
	}
	assert.Equal(t, "/a\tArchive A\n/b\tfirst line\n/latest -> /a\n", RenderHits(hits))
}
