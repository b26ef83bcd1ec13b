// Package visibility absorbs the delay between a change notification and the
// path becoming visible on the (possibly network) filesystem.
package visibility

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultInterval = 250 * time.Millisecond

type Waiter struct {
	// Interval between existence checks.
	Interval time.Duration
	// Stat reports existence; os.Lstat when nil.
	Stat func(string) (os.FileInfo, error)
	// Notify watches the parent directory so local changes end a wait early.
	// Polling stays authoritative since network filesystems deliver no events.
	Notify bool
}

// Wait polls until p exists, budget elapses or ctx ends, and reports whether p
// is visible. A zero budget is a single check. Timeouts are not errors.
func (w *Waiter) Wait(ctx context.Context, p string, budget time.Duration) bool {
	if w.exists(p) {
		return true
	}
	if budget <= 0 {
		return false
	}

	var wake <-chan fsnotify.Event
	if w != nil && w.Notify {
		if fw, err := fsnotify.NewWatcher(); err == nil {
			defer fw.Close()
			if err := fw.Add(filepath.Dir(p)); err == nil {
				wake = fw.Events
			}
		}
	}

	deadline := time.NewTimer(budget)
	defer deadline.Stop()
	ticker := time.NewTicker(w.interval(budget))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return w.exists(p)
		case <-deadline.C:
			return w.exists(p)
		case <-ticker.C:
		case _, ok := <-wake:
			if !ok {
				wake = nil
			}
		}
		if w.exists(p) {
			return true
		}
	}
}

// Do waits for p and then runs fn whether or not p became visible; fn must
// treat an absent path as a normal outcome.
func (w *Waiter) Do(ctx context.Context, p string, budget time.Duration, fn func() error) (bool, error) {
	visible := w.Wait(ctx, p, budget)
	return visible, fn()
}

func (w *Waiter) exists(p string) bool {
	stat := os.Lstat
	if w != nil && w.Stat != nil {
		stat = w.Stat
	}
	_, err := stat(p)
	return err == nil
}

func (w *Waiter) interval(budget time.Duration) time.Duration {
	iv := DefaultInterval
	if w != nil && w.Interval > 0 {
		iv = w.Interval
	}
	if iv > budget {
		iv = budget
	}
	return iv
}
