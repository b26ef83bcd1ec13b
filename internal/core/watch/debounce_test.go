package watch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirindex/internal/model"
)

func TestDebounce_CoalescesLastActionWins(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)

	var mu sync.Mutex
	var got []Change
	d.OnFire(func(changes []Change) {
		mu.Lock()
		got = append(got, changes...)
		mu.Unlock()
	})

	d.Push("/a/b", model.ActionMkdir)
	d.Push("/a", model.ActionMkdir)
	d.Push("/a/b", model.ActionRmdir)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Change{
		{Path: "/a", Action: model.ActionMkdir},
		{Path: "/a/b", Action: model.ActionRmdir},
	}, got)
}

func TestDebounce_Flush(t *testing.T) {
	d := NewDebouncer(time.Hour)
	var got []Change
	d.OnFire(func(changes []Change) { got = changes })

	d.Push("/x/00README", model.ActionDeposit)
	d.Push("  ", model.ActionDeposit)
	d.Flush()

	assert.Equal(t, []Change{{Path: "/x/00README", Action: model.ActionDeposit}}, got)
}

func TestDebounce_DelayFunc(t *testing.T) {
	d := NewDebouncer(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, d.DelayFor(3))

	d.SetDelayFunc(func(count int) time.Duration {
		if count > 2 {
			return time.Second
		}
		return 0
	})
	assert.Equal(t, 100*time.Millisecond, d.DelayFor(1))
	assert.Equal(t, time.Second, d.DelayFor(3))
}
