// Package watch turns local filesystem notifications into deposit-log lines
// on a broker, so a tree can feed the consumer without an upstream ingest
// system.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"dirindex/internal/broker"
	"dirindex/internal/consumer"
	"dirindex/internal/core/walk"
	"dirindex/internal/model"
)

const publishTimeout = 10 * time.Second

type Options struct {
	Filter           walk.Options
	Debounce         time.Duration
	AdaptiveDebounce bool
	DebounceMin      time.Duration
	DebounceMax      time.Duration
	// Source is written into the free-text field of every published line.
	Source string
	Logger *zap.Logger
	Now    func() time.Time
	// OnChanges replaces publishing; used by callers that consume changes
	// in-process.
	OnChanges func(changes []Change)
}

type Watcher struct {
	rootAbs string

	pub       broker.Publisher
	filter    *walk.Filter
	debouncer *Debouncer
	debounce  time.Duration
	source    string
	log       *zap.Logger
	now       func() time.Time

	// known maps watched paths to the action that created them, so removals
	// (which cannot be stat'ed) publish the right counterpart.
	mu    sync.Mutex
	known map[string]model.Action

	watcher   *fsnotify.Watcher
	closeOnce sync.Once
	closed    chan struct{}
}

func New(root string, pub broker.Publisher, opts Options) (*Watcher, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	rootAbs = filepath.Clean(rootAbs)
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root is required")
	}
	if pub == nil && opts.OnChanges == nil {
		return nil, fmt.Errorf("publisher is required")
	}

	filter, err := walk.NewFilter(rootAbs, opts.Filter)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	minDelay := opts.DebounceMin
	if minDelay <= 0 {
		minDelay = 50 * time.Millisecond
	}
	maxDelay := opts.DebounceMax
	if maxDelay <= 0 {
		maxDelay = 500 * time.Millisecond
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	source := opts.Source
	if source == "" {
		source = "dirindex watch"
	}

	w := &Watcher{
		rootAbs:   rootAbs,
		pub:       pub,
		filter:    filter,
		debouncer: NewDebouncer(debounce),
		debounce:  debounce,
		source:    source,
		log:       log.With(zap.String("root", rootAbs)),
		now:       now,
		known:     map[string]model.Action{},
		watcher:   fsw,
		closed:    make(chan struct{}),
	}
	if opts.AdaptiveDebounce {
		w.debouncer.SetDelayFunc(func(count int) time.Duration {
			switch {
			case count <= 10:
				return minDelay
			case count <= 100:
				return minDelay * 2
			case count <= 500:
				return minDelay * 4
			default:
				return maxDelay
			}
		})
	}
	if opts.OnChanges != nil {
		w.debouncer.OnFire(opts.OnChanges)
	} else {
		w.debouncer.OnFire(w.publish)
	}

	if err := w.addTree(rootAbs, false); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	return w, nil
}

func (w *Watcher) Debounce() time.Duration {
	if w == nil {
		return 0
	}
	return w.debounce
}

func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}

	w.closeOnce.Do(func() { close(w.closed) })

	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}

// Run forwards events until ctx ends or the watcher closes. Pending changes
// are flushed on the way out.
func (w *Watcher) Run(ctx context.Context) error {
	if w == nil || w.watcher == nil {
		return fmt.Errorf("watcher is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer w.debouncer.Flush()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.closed:
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

func (w *Watcher) publish(changes []Change) {
	for _, c := range changes {
		// ':' separates fields on the wire.
		if strings.Contains(c.Path, ":") {
			w.log.Warn("path not publishable", zap.String("path", c.Path))
			continue
		}
		msg := model.IngestMessage{
			Time:     w.now(),
			Filepath: c.Path,
			Action:   c.Action,
			Filesize: "0",
			Message:  w.source,
		}
		if c.Action == model.ActionDeposit {
			if st, err := os.Stat(c.Path); err == nil {
				msg.Filesize = strconv.FormatInt(st.Size(), 10)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := w.pub.Publish(ctx, consumer.Encode(msg))
		cancel()
		if err != nil {
			w.log.Error("publish failed", zap.String("path", c.Path), zap.String("action", string(c.Action)), zap.Error(err))
			continue
		}
		w.log.Debug("published", zap.String("path", c.Path), zap.String("action", string(c.Action)))
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	abs := filepath.Clean(ev.Name)
	rel, ok := w.toRel(abs)
	if !ok {
		return
	}

	switch {
	case ev.Op&fsnotify.Create != 0:
		st, err := os.Lstat(abs)
		if err != nil {
			return
		}
		switch {
		case st.Mode()&fs.ModeSymlink != 0:
			if w.filter.ShouldInclude(rel, true) {
				w.remember(abs, model.ActionSymlink)
				w.debouncer.Push(abs, model.ActionSymlink)
			}
		case st.IsDir():
			if w.filter.ShouldInclude(rel, true) {
				if err := w.addTree(abs, true); err != nil {
					w.log.Warn("watch subtree failed", zap.String("path", abs), zap.Error(err))
				}
			}
		default:
			if w.filter.ShouldInclude(rel, false) {
				w.debouncer.Push(abs, model.ActionDeposit)
			}
		}

	case ev.Op&fsnotify.Write != 0:
		if w.filter.ShouldInclude(rel, false) {
			w.debouncer.Push(abs, model.ActionDeposit)
		}

	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		if filepath.Base(abs) == model.ReadmeName {
			if w.filter.ShouldInclude(rel, false) {
				w.debouncer.Push(abs, model.ActionRemove)
			}
			return
		}
		for _, p := range w.forget(abs) {
			w.debouncer.Push(p, model.ActionRmdir)
		}
	}
}

func (w *Watcher) toRel(abs string) (string, bool) {
	if strings.TrimSpace(abs) == "" {
		return "", false
	}

	abs = filepath.Clean(abs)
	rel, err := filepath.Rel(w.rootAbs, abs)
	if err != nil {
		return "", false
	}
	if rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	return rel, true
}

func (w *Watcher) remember(p string, a model.Action) {
	w.mu.Lock()
	w.known[p] = a
	w.mu.Unlock()
}

// forget drops p and everything known below it, returning the dropped paths.
func (w *Watcher) forget(p string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []string
	prefix := p + string(filepath.Separator)
	for k := range w.known {
		if k == p || strings.HasPrefix(k, prefix) {
			out = append(out, k)
			delete(w.known, k)
		}
	}
	return out
}

// addTree watches absDir and the included directories below it. With emit
// set, every directory (and marker file) found is announced, covering
// subtrees created faster than their watches could be added.
func (w *Watcher) addTree(absDir string, emit bool) error {
	absDir = filepath.Clean(absDir)

	return filepath.WalkDir(absDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == absDir {
				return err
			}
			return nil
		}

		rel, ok := w.toRel(p)
		if p == w.rootAbs {
			rel, ok = ".", true
		}
		if !ok {
			return nil
		}

		switch {
		case d.IsDir():
			if p != w.rootAbs && !w.filter.ShouldInclude(rel, true) {
				return filepath.SkipDir
			}
			if err := w.watcher.Add(p); err != nil {
				return err
			}
			w.remember(p, model.ActionMkdir)
			if emit {
				w.debouncer.Push(p, model.ActionMkdir)
			}
		case d.Type()&fs.ModeSymlink != 0:
			if !w.filter.ShouldInclude(rel, true) {
				return nil
			}
			w.remember(p, model.ActionSymlink)
			if emit {
				w.debouncer.Push(p, model.ActionSymlink)
			}
		case emit && d.Name() == model.ReadmeName:
			w.debouncer.Push(p, model.ActionDeposit)
		}
		return nil
	})
}
