// Package handler reconciles the directory index with decoded change events.
package handler

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"dirindex/internal/core/mapping"
	"dirindex/internal/core/pathmeta"
	"dirindex/internal/core/visibility"
	"dirindex/internal/index/store"
	"dirindex/internal/logging"
	"dirindex/internal/metrics"
	"dirindex/internal/model"
)

const DefaultReadmeBudget = 5 * time.Second

type Strategy string

const (
	Strict Strategy = "strict"
	Fast   Strategy = "fast"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", Strict:
		return Strict, nil
	case Fast:
		return Fast, nil
	default:
		return "", fmt.Errorf("invalid handler %q (expected: strict|fast)", s)
	}
}

type outcome string

const (
	outcomeWritten       outcome = "written"
	outcomeDeleted       outcome = "deleted"
	outcomeReadmeUpdated outcome = "readme_updated"
	outcomeSkipped       outcome = "skipped"
	outcomeIgnored       outcome = "ignored"
	outcomeFailed        outcome = "failed"
)

type Options struct {
	Strategy Strategy
	// Mapping is owned by the handler from here on.
	Mapping *mapping.Cache
	Waiter  *visibility.Waiter
	// CreateBudget bounds the visibility wait before a strict creation.
	CreateBudget time.Duration
	// ReadmeBudget bounds the visibility wait for a deposited or removed marker.
	ReadmeBudget   time.Duration
	MaxReadmeBytes int64
	Logger         *zap.Logger
	Now            func() time.Time
}

// creator builds the document for MKDIR and SYMLINK events. It reports false
// when nothing should be written.
type creator interface {
	create(ctx context.Context, h *Handler, p string) (model.DirectoryDocument, bool, error)
}

// Handler routes events to index mutations. Strict and Fast share every route
// and differ only in how creation documents are derived.
type Handler struct {
	strategy Strategy
	creator  creator

	store   store.Store
	mapping *mapping.Cache
	deriver *pathmeta.Deriver
	waiter  *visibility.Waiter

	createBudget time.Duration
	readmeBudget time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// New takes ownership of st and opts.Mapping.
func New(st store.Store, opts Options) (*Handler, error) {
	if st == nil {
		return nil, fmt.Errorf("index store is required")
	}
	strategy, err := ParseStrategy(string(opts.Strategy))
	if err != nil {
		return nil, err
	}
	if opts.Mapping == nil {
		opts.Mapping = mapping.New(nil, mapping.Options{})
	}
	if opts.Waiter == nil {
		opts.Waiter = &visibility.Waiter{}
	}
	if opts.ReadmeBudget <= 0 {
		opts.ReadmeBudget = DefaultReadmeBudget
	}
	if opts.CreateBudget < 0 {
		opts.CreateBudget = 0
	}
	if opts.Logger == nil {
		opts.Logger = logging.L()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	h := &Handler{
		strategy:     strategy,
		store:        st,
		mapping:      opts.Mapping,
		deriver:      pathmeta.NewDeriver(pathmeta.Options{Mapping: opts.Mapping, MaxReadmeBytes: opts.MaxReadmeBytes}),
		waiter:       opts.Waiter,
		createBudget: opts.CreateBudget,
		readmeBudget: opts.ReadmeBudget,
		logger:       opts.Logger,
		now:          opts.Now,
	}
	switch strategy {
	case Fast:
		h.creator = fastCreator{}
	default:
		h.creator = strictCreator{}
	}
	return h, nil
}

func (h *Handler) Strategy() Strategy { return h.strategy }

func (h *Handler) Store() store.Store { return h.store }

func (h *Handler) Mapping() *mapping.Cache { return h.mapping }

func (h *Handler) Close() error {
	if h == nil || h.store == nil {
		return nil
	}
	return h.store.Close()
}

// ProcessEvent applies one event to the index. A path that never became
// visible is not an error; index failures are.
func (h *Handler) ProcessEvent(ctx context.Context, msg model.IngestMessage) error {
	start := time.Now()
	h.logger.Info("processing event", zap.String("path", msg.Filepath), zap.String("action", string(msg.Action)))

	// A failed refresh is logged by the cache and stale entries keep serving.
	_ = h.mapping.MaybeRefresh(ctx, h.now())

	var (
		out outcome
		err error
	)
	switch msg.Action {
	case model.ActionMkdir, model.ActionSymlink:
		out, err = h.processCreation(ctx, msg.Filepath)
	case model.ActionRmdir:
		out, err = h.processDeletion(ctx, msg.Filepath)
	case model.ActionDeposit, model.ActionRemove:
		out, err = h.processReadme(ctx, msg.Filepath)
	default:
		out = outcomeIgnored
	}
	if err != nil {
		out = outcomeFailed
	}
	metrics.RecordMessage(string(msg.Action), string(out), time.Since(start))
	return err
}

func (h *Handler) processCreation(ctx context.Context, p string) (outcome, error) {
	doc, ok, err := h.creator.create(ctx, h, p)
	if err != nil {
		return "", err
	}
	if !ok {
		h.logger.Info("path does not yet exist", logging.Path(p))
		return outcomeSkipped, nil
	}

	id := pathmeta.DeriveID(p)
	doc.ID = id
	err = h.store.AddDirs(ctx, []store.DirUpsert{{ID: id, Document: doc}})
	metrics.RecordIndexOp("add_dirs", err)
	if err != nil {
		return "", fmt.Errorf("index %s: %w", p, err)
	}
	return outcomeWritten, nil
}

func (h *Handler) processDeletion(ctx context.Context, p string) (outcome, error) {
	err := h.store.DeleteDirs(ctx, []string{pathmeta.DeriveID(p)})
	metrics.RecordIndexOp("delete_dirs", err)
	if err != nil {
		return "", fmt.Errorf("delete %s: %w", p, err)
	}
	return outcomeDeleted, nil
}

// processReadme mirrors the marker at p into its parent directory's document.
// A marker that is gone leaves the stored readme untouched.
func (h *Handler) processReadme(ctx context.Context, p string) (outcome, error) {
	var out outcome
	visible, err := h.waiter.Do(ctx, p, h.readmeBudget, func() error {
		var err error
		out, err = h.applyReadme(ctx, path.Dir(p))
		return err
	})
	metrics.RecordVisibility(visible)
	if err != nil {
		return "", err
	}
	return out, nil
}

func (h *Handler) applyReadme(ctx context.Context, dir string) (outcome, error) {
	content, ok, err := h.deriver.ReadReadme(dir)
	if err != nil {
		return "", err
	}
	if !ok {
		h.logger.Debug("no readme content", logging.Path(dir))
		return outcomeSkipped, nil
	}

	n, err := h.store.UpdateReadmes(ctx, []store.ReadmeUpdate{{ID: pathmeta.DeriveID(dir), Readme: content}})
	metrics.RecordIndexOp("update_readmes", err)
	if err != nil {
		return "", fmt.Errorf("update readme %s: %w", dir, err)
	}
	if n == 0 {
		h.logger.Info("no indexed directory for readme", logging.Path(dir))
		return outcomeSkipped, nil
	}
	return outcomeReadmeUpdated, nil
}

// strictCreator writes only what the filesystem confirms.
type strictCreator struct{}

func (strictCreator) create(ctx context.Context, h *Handler, p string) (model.DirectoryDocument, bool, error) {
	var (
		doc model.DirectoryDocument
		ok  bool
	)
	visible, err := h.waiter.Do(ctx, p, h.createBudget, func() error {
		var err error
		doc, ok, err = h.deriver.FromFilesystem(p)
		return err
	})
	metrics.RecordVisibility(visible)
	if err != nil || !ok {
		return model.DirectoryDocument{}, false, err
	}

	content, found, err := h.deriver.ReadReadme(p)
	if err != nil {
		return model.DirectoryDocument{}, false, err
	}
	if found {
		doc.Readme = content
	}
	return doc, true, nil
}

// fastCreator never waits and always writes, falling back to a document
// derived from the path string.
type fastCreator struct{}

func (fastCreator) create(ctx context.Context, h *Handler, p string) (model.DirectoryDocument, bool, error) {
	doc, ok, err := h.deriver.FromFilesystem(p)
	if err != nil {
		h.logger.Debug("filesystem metadata unavailable", logging.Path(p), logging.Err(err))
	}
	if err == nil && ok {
		return doc, true, nil
	}
	return h.deriver.Enrich(pathmeta.FromPath(p)), true, nil
}
