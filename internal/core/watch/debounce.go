package watch

import (
	"sort"
	"strings"
	"sync"
	"time"

	"dirindex/internal/model"
)

// Change is the last action seen for a path within one debounce window.
type Change struct {
	Path   string
	Action model.Action
}

type Debouncer struct {
	delay     time.Duration
	delayFunc func(count int) time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	queued map[string]model.Action
	onFire func(changes []Change)
}

func NewDebouncer(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	return &Debouncer{
		delay:  delay,
		queued: map[string]model.Action{},
	}
}

func (d *Debouncer) SetDelayFunc(fn func(count int) time.Duration) {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.delayFunc = fn
	d.mu.Unlock()
}

func (d *Debouncer) DelayFor(count int) time.Duration {
	if d == nil {
		return 0
	}
	if d.delayFunc == nil {
		return d.delay
	}
	delay := d.delayFunc(count)
	if delay <= 0 {
		return d.delay
	}
	return delay
}

func (d *Debouncer) OnFire(fn func(changes []Change)) {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.onFire = fn
	d.mu.Unlock()
}

// Push records action for path, replacing any earlier action for the same
// path, and restarts the timer.
func (d *Debouncer) Push(path string, action model.Action) {
	if d == nil {
		return
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return
	}

	d.mu.Lock()
	d.queued[path] = action
	delay := d.DelayFor(len(d.queued))
	if d.timer != nil {
		_ = d.timer.Stop()
	}
	d.timer = time.AfterFunc(delay, d.fire)
	d.mu.Unlock()
}

// Flush fires pending changes now.
func (d *Debouncer) Flush() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.timer != nil {
		_ = d.timer.Stop()
	}
	d.mu.Unlock()
	d.fire()
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	queued := d.queued
	d.queued = map[string]model.Action{}
	fn := d.onFire
	d.mu.Unlock()

	if fn == nil || len(queued) == 0 {
		return
	}

	// Parents sort before children so directory creations publish top-down.
	changes := make([]Change, 0, len(queued))
	for p, a := range queued {
		changes = append(changes, Change{Path: p, Action: a})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	fn(changes)
}
