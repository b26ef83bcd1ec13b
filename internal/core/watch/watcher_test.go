package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirindex/internal/broker"
	"dirindex/internal/broker/memory"
	"dirindex/internal/consumer"
	"dirindex/internal/model"
)

type changeLog struct {
	mu  sync.Mutex
	got map[string]model.Action
}

func (l *changeLog) record(changes []Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range changes {
		l.got[c.Path] = c.Action
	}
}

func (l *changeLog) action(p string) model.Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.got[p]
}

func startWatcher(t *testing.T, root string, opts Options) {
	t.Helper()
	w, err := New(root, nil, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = w.Run(ctx) }()
}

func TestNew_Validation(t *testing.T) {
	_, err := New(t.TempDir(), nil, Options{})
	assert.Error(t, err)

	w, err := New(t.TempDir(), memory.New(1), Options{Debounce: 50 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	assert.Equal(t, 50*time.Millisecond, w.Debounce())
}

func TestWatcher_DirectoryLifecycle(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	log := &changeLog{got: map[string]model.Action{}}
	startWatcher(t, root, Options{Debounce: 30 * time.Millisecond, OnChanges: log.record})

	dir := filepath.Join(root, "data")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.Eventually(t, func() bool { return log.action(dir) == model.ActionMkdir }, 3*time.Second, 20*time.Millisecond)

	readme := filepath.Join(dir, model.ReadmeName)
	require.NoError(t, os.WriteFile(readme, []byte("about data"), 0o644))
	require.Eventually(t, func() bool { return log.action(readme) == model.ActionDeposit }, 3*time.Second, 20*time.Millisecond)

	link := filepath.Join(root, "latest")
	require.NoError(t, os.Symlink(dir, link))
	require.Eventually(t, func() bool { return log.action(link) == model.ActionSymlink }, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(readme))
	require.Eventually(t, func() bool { return log.action(readme) == model.ActionRemove }, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(dir))
	require.Eventually(t, func() bool { return log.action(dir) == model.ActionRmdir }, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_IgnoresHiddenAndOtherFiles(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	log := &changeLog{got: map[string]model.Action{}}
	startWatcher(t, root, Options{Debounce: 30 * time.Millisecond, OnChanges: log.record})

	require.NoError(t, os.Mkdir(filepath.Join(root, ".cache"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	marker := filepath.Join(root, "visible")
	require.NoError(t, os.Mkdir(marker, 0o755))
	require.Eventually(t, func() bool { return log.action(marker) == model.ActionMkdir }, 3*time.Second, 20*time.Millisecond)

	assert.Empty(t, log.action(filepath.Join(root, ".cache")))
	assert.Empty(t, log.action(filepath.Join(root, "notes.txt")))
}

func TestWatcher_PublishesDecodableLines(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	readme := filepath.Join(root, model.ReadmeName)
	require.NoError(t, os.WriteFile(readme, []byte("12345"), 0o644))

	conn := memory.New(8)
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local)
	w, err := New(root, conn, Options{Now: func() time.Time { return fixed }})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	w.publish([]Change{
		{Path: root, Action: model.ActionMkdir},
		{Path: readme, Action: model.ActionDeposit},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var got []model.IngestMessage
	err = conn.Consume(ctx, func(d broker.Delivery) error {
		msg, err := consumer.Decode(d.Body)
		require.NoError(t, err)
		got = append(got, msg)
		if len(got) == 2 {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, root, got[0].Filepath)
	assert.Equal(t, model.ActionMkdir, got[0].Action)
	assert.True(t, fixed.Equal(got[0].Time))
	assert.Equal(t, "dirindex watch", got[0].Message)
	assert.Equal(t, model.ActionDeposit, got[1].Action)
	assert.Equal(t, "5", got[1].Filesize)
}

func TestWatcher_SkipsPathsWithColon(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	conn := memory.New(4)
	w, err := New(root, conn, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	w.publish([]Change{
		{Path: filepath.Join(root, "run:1"), Action: model.ActionMkdir},
		{Path: filepath.Join(root, "run-2"), Action: model.ActionMkdir},
	})
	assert.Equal(t, 1, conn.Unacked())
}
