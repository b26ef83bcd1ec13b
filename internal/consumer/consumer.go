// Package consumer decodes queue deliveries, filters them and acknowledges
// them once the handler has applied them.
package consumer

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dirindex/internal/broker"
	"dirindex/internal/logging"
	"dirindex/internal/metrics"
	"dirindex/internal/model"
)

type Processor interface {
	ProcessEvent(ctx context.Context, msg model.IngestMessage) error
}

type Mode string

const (
	ModeSync       Mode = "sync"
	ModeThreadsafe Mode = "threadsafe"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeThreadsafe:
		return ModeThreadsafe, nil
	case ModeSync:
		return ModeSync, nil
	default:
		return "", fmt.Errorf("invalid consumer mode %q (expected: sync|threadsafe)", s)
	}
}

// Relevant reports whether msg reaches the handler. Marker events count only
// for a file named exactly 00README; unknown actions never do.
func Relevant(msg model.IngestMessage) bool {
	switch {
	case msg.Action.IsDirectory():
		return true
	case msg.Action.IsReadme():
		return path.Base(msg.Filepath) == model.ReadmeName
	default:
		return false
	}
}

type Consumer interface {
	Run(ctx context.Context) error
}

// DefaultWorkers is the threadsafe pool size when Options.Workers is unset.
const DefaultWorkers = 4

type Options struct {
	Mode Mode
	// Workers bounds concurrent handler calls in threadsafe mode.
	Workers int
	Logger  *zap.Logger
}

func New(conn broker.Connection, proc Processor, opts Options) (Consumer, error) {
	if conn == nil || proc == nil {
		return nil, fmt.Errorf("connection and processor are required")
	}
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logging.L()
	}
	d := dispatcher{proc: proc, logger: opts.Logger}
	if mode == ModeSync {
		return &SyncConsumer{conn: conn, d: d}, nil
	}
	return &ThreadsafeConsumer{conn: conn, d: d, workers: opts.Workers}, nil
}

type dispatcher struct {
	proc   Processor
	logger *zap.Logger
}

// handle returns nil when the delivery should be acknowledged: it was
// processed, filtered out, or could not be decoded. Any other failure is
// fatal and leaves the delivery unacknowledged.
func (d dispatcher) handle(ctx context.Context, body []byte) error {
	msg, err := Decode(body)
	if err != nil {
		metrics.RecordDecodeFailure()
		d.logger.Warn("error reading message", zap.Error(err), zap.ByteString("body", body))
		return nil
	}

	if !Relevant(msg) {
		metrics.RecordMessage(string(msg.Action), "filtered", 0)
		d.logger.Debug("message filtered", logging.Message(msg))
		return nil
	}

	if err := d.proc.ProcessEvent(ctx, msg); err != nil {
		d.logger.Error("error occurred while processing message", logging.Message(msg), zap.Error(err))
		return err
	}
	return nil
}

// SyncConsumer handles every delivery on the connection's owner loop and
// acknowledges it directly.
type SyncConsumer struct {
	conn broker.Connection
	d    dispatcher
}

func (c *SyncConsumer) Run(ctx context.Context) error {
	return c.conn.Consume(ctx, func(dl broker.Delivery) error {
		if err := c.d.handle(ctx, dl.Body); err != nil {
			return err
		}
		return c.conn.Ack(dl.Tag)
	})
}

// ThreadsafeConsumer hands deliveries to a bounded worker pool. Workers post
// acknowledgements back to the owner loop instead of touching the connection.
type ThreadsafeConsumer struct {
	conn    broker.Connection
	d       dispatcher
	workers int
}

func (c *ThreadsafeConsumer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	workers := c.workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	g.SetLimit(workers)

	consumeErr := c.conn.Consume(gctx, func(dl broker.Delivery) error {
		tag, body := dl.Tag, dl.Body
		g.Go(func() error {
			if err := c.d.handle(gctx, body); err != nil {
				return err
			}
			return c.conn.AddCallbackThreadsafe(func() error {
				return c.conn.Ack(tag)
			})
		})
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return consumeErr
}
