package dirindexd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"dirindex/internal/consumer"
	"dirindex/internal/core/handler"
	"dirindex/internal/core/pathmeta"
	"dirindex/internal/index/store"
	"dirindex/internal/model"
	"dirindex/internal/version"
)

const defaultSearchLimit = 20

var statsPragmas = []string{"journal_mode", "synchronous"}

// counting wraps the event processor so the admin surface can report totals.
type counting struct {
	next      consumer.Processor
	processed atomic.Int64
	failed    atomic.Int64
}

func (c *counting) ProcessEvent(ctx context.Context, msg model.IngestMessage) error {
	err := c.next.ProcessEvent(ctx, msg)
	if err != nil {
		c.failed.Add(1)
	} else {
		c.processed.Add(1)
	}
	return err
}

// Handlers serves admin requests against a running update handler.
type Handlers struct {
	h       *handler.Handler
	mode    consumer.Mode
	counts  *counting
	started time.Time
}

func NewHandlers(h *handler.Handler, mode consumer.Mode) *Handlers {
	return &Handlers{
		h:       h,
		mode:    mode,
		counts:  &counting{next: h},
		started: time.Now(),
	}
}

// Processor is what the consumer should drive; it counts outcomes.
func (hs *Handlers) Processor() consumer.Processor {
	return hs.counts
}

func (hs *Handlers) Stats(ctx context.Context) (StatsResult, error) {
	if hs == nil || hs.h == nil {
		return StatsResult{}, fmt.Errorf("handlers is nil")
	}
	n, err := hs.h.Store().Count(ctx)
	if err != nil {
		return StatsResult{}, err
	}
	res := StatsResult{
		Version:          version.String(),
		Backend:          hs.h.Store().Backend(),
		Strategy:         string(hs.h.Strategy()),
		Mode:             string(hs.mode),
		Documents:        n,
		MappingEntries:   hs.h.Mapping().Len(),
		MappingRefreshed: hs.h.Mapping().LastRefreshed(),
		Processed:        hs.counts.processed.Load(),
		Failed:           hs.counts.failed.Load(),
		StartedAt:        hs.started,
	}
	if pr, ok := hs.h.Store().(store.PragmaReader); ok {
		res.Pragmas = map[string]string{}
		for _, name := range statsPragmas {
			v, err := pr.QueryPragma(name)
			if err != nil {
				return StatsResult{}, err
			}
			res.Pragmas[name] = v
		}
	}
	return res, nil
}

func (hs *Handlers) DirGet(ctx context.Context, p DirGetParams) (DirGetResult, error) {
	if hs == nil || hs.h == nil {
		return DirGetResult{}, fmt.Errorf("handlers is nil")
	}
	id := strings.TrimSpace(p.ID)
	if path := strings.TrimSpace(p.Path); path != "" {
		id = pathmeta.DeriveID(path)
	}
	doc, err := hs.h.Store().GetDir(ctx, id)
	if err != nil {
		return DirGetResult{}, err
	}
	return DirGetResult{ID: id, Doc: doc}, nil
}

func (hs *Handlers) DirSearch(ctx context.Context, p DirSearchParams) ([]model.SearchHit, error) {
	if hs == nil || hs.h == nil {
		return nil, fmt.Errorf("handlers is nil")
	}
	limit := p.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	return hs.h.Store().Search(ctx, p.Q, limit)
}

// MappingRefresh forces a fetch regardless of the refresh interval.
func (hs *Handlers) MappingRefresh(ctx context.Context) (MappingRefreshResult, error) {
	if hs == nil || hs.h == nil {
		return MappingRefreshResult{}, fmt.Errorf("handlers is nil")
	}
	m := hs.h.Mapping()
	if err := m.Refresh(ctx, time.Now()); err != nil {
		return MappingRefreshResult{}, err
	}
	return MappingRefreshResult{Entries: m.Len(), Refreshed: m.LastRefreshed()}, nil
}

func errorCode(err error) int {
	if errors.Is(err, store.ErrNotFound) {
		return CodeNotFound
	}
	return CodeServerError
}
