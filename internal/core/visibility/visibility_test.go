package visibility

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWait_AlreadyVisible(t *testing.T) {
	dir := t.TempDir()
	w := &Waiter{Interval: 10 * time.Millisecond}
	assert.True(t, w.Wait(context.Background(), dir, 0))
}

func TestWait_ZeroBudgetChecksOnce(t *testing.T) {
	var calls atomic.Int32
	w := &Waiter{Stat: func(string) (os.FileInfo, error) {
		calls.Add(1)
		return nil, os.ErrNotExist
	}}

	start := time.Now()
	assert.False(t, w.Wait(context.Background(), "/nope", 0))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWait_BecomesVisible(t *testing.T) {
	p := filepath.Join(t.TempDir(), "late")
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.Mkdir(p, 0o755)
	}()

	w := &Waiter{Interval: 10 * time.Millisecond}
	assert.True(t, w.Wait(context.Background(), p, 2*time.Second))
}

func TestWait_BudgetExhausted(t *testing.T) {
	w := &Waiter{Interval: 10 * time.Millisecond}
	start := time.Now()
	assert.False(t, w.Wait(context.Background(), filepath.Join(t.TempDir(), "never"), 80*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestWait_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	w := &Waiter{Interval: time.Second}
	start := time.Now()
	assert.False(t, w.Wait(ctx, filepath.Join(t.TempDir(), "never"), 5*time.Second))
	assert.Less(t, time.Since(start), time.Second)
}

func TestWait_NotifyWakesEarly(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "00README")
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = os.WriteFile(p, []byte("hi"), 0o644)
	}()

	w := &Waiter{Interval: 10 * time.Second, Notify: true}
	start := time.Now()
	assert.True(t, w.Wait(context.Background(), p, 5*time.Second))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDo_RunsEvenWhenAbsent(t *testing.T) {
	w := &Waiter{Interval: 5 * time.Millisecond}
	ran := false
	boom := errors.New("boom")

	visible, err := w.Do(context.Background(), filepath.Join(t.TempDir(), "x"), 20*time.Millisecond, func() error {
		ran = true
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.True(t, ran)
	assert.False(t, visible)
}
