package dirindexd

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirindex/internal/consumer"
	"dirindex/internal/core/handler"
	"dirindex/internal/index/sqlite"
	"dirindex/internal/model"
)

func newTestHandlers(t *testing.T) (*Handlers, string) {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "dirs.db"))
	require.NoError(t, err)
	h, err := handler.New(st, handler.Options{Strategy: handler.Strict, ReadmeBudget: 50 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	return NewHandlers(h, consumer.ModeSync), root
}

func startServer(t *testing.T, hs *Handlers) *Server {
	t.Helper()
	s := NewServer(Options{Listen: "127.0.0.1:0"}, hs)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Error("server did not stop within 1s")
		}
	})

	waitAddr(t, s.Addr, time.Second)
	return s
}

func waitAddr(t *testing.T, addrFn func() string, timeout time.Duration) string {
	t.Helper()
	var addr string
	require.Eventually(t, func() bool {
		addr = addrFn()
		return addr != ""
	}, timeout, 10*time.Millisecond)
	return addr
}

func TestServerPingAndVersion(t *testing.T) {
	hs, _ := newTestHandlers(t)
	s := startServer(t, hs)

	c, err := Dial(s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Ping())
	v, err := c.Version()
	require.NoError(t, err)
	assert.NotEmpty(t, v)
}

func TestServerProtocolErrors(t *testing.T) {
	hs, _ := newTestHandlers(t)
	s := startServer(t, hs)

	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	r := bufio.NewReader(conn)

	roundTrip := func(line string) Response {
		_, err := conn.Write([]byte(line + "\n"))
		require.NoError(t, err)
		out, err := ReadOneLine(r)
		require.NoError(t, err)
		var resp Response
		require.NoError(t, json.Unmarshal(out, &resp))
		return resp
	}

	resp := roundTrip(`{"jsonrpc":"2.0","id":1,`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeParseError, resp.Error.Code)

	resp = roundTrip(`{"jsonrpc":"1.0","id":2,"method":"ping"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)

	resp = roundTrip(`{"jsonrpc":"2.0","id":3,"method":"nope"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)

	resp = roundTrip(`{"jsonrpc":"2.0","id":4,"method":"dir.search","params":{}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)

	resp = roundTrip(`{"jsonrpc":"2.0","id":5,"method":"dir.get","params":"bad"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)

	// Notifications get no response; the next reply must belong to id 6.
	_, err = conn.Write([]byte(`{"jsonrpc":"2.0","method":"ping"}` + "\n"))
	require.NoError(t, err)
	resp = roundTrip(`{"jsonrpc":"2.0","id":6,"method":"ping"}`)
	assert.Equal(t, "6", string(resp.ID))
	assert.Equal(t, "pong", resp.Result)
}

func TestServerDirMethods(t *testing.T) {
	hs, root := newTestHandlers(t)
	dir := filepath.Join(root, "badc", "cmip6")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, model.ReadmeName), []byte("coupled model output"), 0o644))

	ctx := context.Background()
	require.NoError(t, hs.Processor().ProcessEvent(ctx, model.IngestMessage{Action: model.ActionMkdir, Filepath: dir}))

	s := startServer(t, hs)
	c, err := Dial(s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	got, err := c.DirGet(DirGetParams{Path: dir})
	require.NoError(t, err)
	assert.Equal(t, dir, got.Doc.Path)
	assert.Equal(t, "cmip6", got.Doc.Dir)
	assert.Equal(t, "coupled model output", got.Doc.Readme)

	byID, err := c.DirGet(DirGetParams{ID: got.ID})
	require.NoError(t, err)
	assert.Equal(t, got.Doc.Path, byID.Doc.Path)

	_, err = c.DirGet(DirGetParams{Path: filepath.Join(root, "missing")})
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeNotFound, rpcErr.Code)

	hits, err := c.DirSearch(DirSearchParams{Q: "coupled"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, dir, hits[0].Doc.Path)

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, "sqlite", stats.Backend)
	assert.Equal(t, "strict", stats.Strategy)
	assert.Equal(t, "sync", stats.Mode)
	assert.EqualValues(t, 1, stats.Processed)
	assert.NotEmpty(t, stats.Pragmas["journal_mode"])

	refreshed, err := c.MappingRefresh()
	require.NoError(t, err)
	assert.Zero(t, refreshed.Entries)
}

func TestReadOneLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("\n  \n{\"a\":1}\n{\"b\":2}"))
	line, err := ReadOneLine(r)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(line))

	line, err = ReadOneLine(r)
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, string(line))

	_, err = ReadOneLine(r)
	assert.Error(t, err)
}
