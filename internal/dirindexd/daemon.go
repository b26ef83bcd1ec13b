package dirindexd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dirindex/internal/broker"
	"dirindex/internal/broker/memory"
	"dirindex/internal/broker/rabbitmq"
	"dirindex/internal/config"
	"dirindex/internal/consumer"
	"dirindex/internal/core/handler"
	"dirindex/internal/core/mapping"
	"dirindex/internal/core/visibility"
	"dirindex/internal/core/watch"
	"dirindex/internal/index/backend"
	"dirindex/internal/index/store"
	"dirindex/internal/metrics"
)

// DefaultDataDir holds local index files when index.path is unset.
const DefaultDataDir = ".dirindex"

type DaemonOptions struct {
	Config *config.Config
	Logger *zap.Logger
	// Conn replaces the configured broker connection. The daemon closes it.
	Conn broker.Connection
	// Store replaces the configured index backend. The daemon closes it.
	Store store.Store
	// WatchRoots are local trees whose changes are published to the broker
	// the daemon consumes from.
	WatchRoots []string
}

// Daemon runs the consumer, admin server, metrics endpoint and any local
// watchers until its context ends or one of them fails.
type Daemon struct {
	cfg      *config.Config
	log      *zap.Logger
	conn     broker.Connection
	handler  *handler.Handler
	handlers *Handlers
	consumer consumer.Consumer
	admin    *Server
	watchers []*watch.Watcher
}

func NewDaemon(ctx context.Context, opts DaemonOptions) (d *Daemon, err error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	d = &Daemon{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	st := opts.Store
	if st == nil {
		st, err = OpenStore(cfg.Index)
		if err != nil {
			return nil, fmt.Errorf("open index: %w", err)
		}
	}

	mode, err := consumer.ParseMode(cfg.Consumer.Mode)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	strategy, err := handler.ParseStrategy(cfg.Consumer.Handler)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var fetcher mapping.Fetcher
	if u := strings.TrimSpace(cfg.Mapping.URL); u != "" {
		fetcher = mapping.NewHTTPFetcher(u, cfg.Mapping.Timeout)
	}
	d.handler, err = handler.New(st, handler.Options{
		Strategy: strategy,
		Mapping: mapping.New(fetcher, mapping.Options{
			RefreshInterval: cfg.Mapping.RefreshInterval,
			FailureBackoff:  cfg.Mapping.FailureBackoff,
			Logger:          log.Named("mapping"),
		}),
		Waiter: &visibility.Waiter{
			Interval: cfg.Visibility.Interval,
			Notify:   cfg.Visibility.Notify,
		},
		CreateBudget:   cfg.Visibility.CreateBudget,
		ReadmeBudget:   cfg.Visibility.ReadmeBudget,
		MaxReadmeBytes: cfg.Visibility.MaxReadmeBytes,
		Logger:         log.Named("handler"),
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	d.conn = opts.Conn
	if d.conn == nil {
		d.conn, err = OpenBroker(ctx, cfg.Broker, log.Named("broker"))
		if err != nil {
			return nil, err
		}
	}

	d.handlers = NewHandlers(d.handler, mode)
	d.consumer, err = consumer.New(d.conn, d.handlers.Processor(), consumer.Options{
		Mode:    mode,
		Workers: cfg.Consumer.Workers,
		Logger:  log.Named("consumer"),
	})
	if err != nil {
		return nil, err
	}

	if len(opts.WatchRoots) > 0 {
		pub, ok := d.conn.(broker.Publisher)
		if !ok {
			return nil, fmt.Errorf("broker %T cannot publish watch events", d.conn)
		}
		for _, root := range opts.WatchRoots {
			w, err := watch.New(root, pub, watch.Options{
				AdaptiveDebounce: true,
				Logger:           log.Named("watch"),
			})
			if err != nil {
				return nil, fmt.Errorf("watch %s: %w", root, err)
			}
			d.watchers = append(d.watchers, w)
		}
	}

	if cfg.Admin.Listen != "" {
		d.admin = NewServer(Options{Listen: cfg.Admin.Listen, Logger: log.Named("admin")}, d.handlers)
	}
	return d, nil
}

// OpenStore opens the configured backend, defaulting local backends to a
// file under DefaultDataDir.
func OpenStore(cfg config.Index) (store.Store, error) {
	path := cfg.Path
	if strings.TrimSpace(path) == "" {
		path = backend.DefaultPath(DefaultDataDir, cfg.Backend)
	}
	return backend.Open(backend.Options{
		Backend:    cfg.Backend,
		Path:       path,
		Name:       cfg.Name,
		Addresses:  cfg.Addresses,
		APIKey:     cfg.APIKey,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
	})
}

// OpenBroker connects to the configured broker. The returned connection also
// implements broker.Publisher.
func OpenBroker(ctx context.Context, cfg config.Broker, log *zap.Logger) (broker.Connection, error) {
	switch cfg.Kind {
	case "memory":
		return memory.New(0), nil
	case "", "rabbitmq":
		return rabbitmq.Dial(ctx, rabbitmq.Options{
			URL:          cfg.URL,
			Queue:        cfg.Queue,
			Exchange:     cfg.Exchange,
			ExchangeType: cfg.ExchangeType,
			RoutingKey:   cfg.RoutingKey,
			Prefetch:     cfg.Prefetch,
			Heartbeat:    cfg.Heartbeat,
			Logger:       log,
		})
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Kind)
	}
}

// Handlers exposes the admin request handlers, mainly for in-process callers.
func (d *Daemon) Handlers() *Handlers { return d.handlers }

// AdminAddr is the bound admin address once Run has started listening.
func (d *Daemon) AdminAddr() string {
	if d == nil || d.admin == nil {
		return ""
	}
	return d.admin.Addr()
}

// Run blocks until ctx ends (nil) or a component fails (its error). A
// processing failure stops the consumer; unacknowledged deliveries are left
// for the broker to redeliver.
func (d *Daemon) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := d.consumer.Run(gctx)
		if err == nil && ctx.Err() == nil {
			err = errors.New("consumer stopped")
		}
		return err
	})
	if d.admin != nil {
		g.Go(func() error { return d.admin.Run(gctx) })
	}
	if addr := d.cfg.Metrics.Listen; addr != "" {
		g.Go(func() error { return metrics.Serve(gctx, addr) })
	}
	for _, w := range d.watchers {
		w := w
		g.Go(func() error { return w.Run(gctx) })
	}

	d.log.Info("dirindexd started",
		zap.String("backend", d.handler.Store().Backend()),
		zap.String("strategy", string(d.handler.Strategy())),
		zap.String("mode", string(d.handlers.mode)),
		zap.Int("watchers", len(d.watchers)),
	)
	err := g.Wait()
	if err != nil {
		d.log.Error("dirindexd stopped", zap.Error(err))
	}
	return err
}

func (d *Daemon) Close() error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, w := range d.watchers {
		errs = append(errs, w.Close())
	}
	if d.admin != nil {
		errs = append(errs, d.admin.Close())
	}
	if d.conn != nil {
		errs = append(errs, d.conn.Close())
	}
	if d.handler != nil {
		errs = append(errs, d.handler.Close())
	}
	return errors.Join(errs...)
}
