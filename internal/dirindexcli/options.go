package dirindexcli

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dirindex/internal/broker"
	"dirindex/internal/config"
	"dirindex/internal/dirindexd"
	"dirindex/internal/index/backend"
	"dirindex/internal/index/store"
	"dirindex/internal/logging"
)

type Options struct {
	ConfigPath string
	Backend    string
	IndexPath  string
	Remote     string
	LogLevel   string
	Jsonl      bool

	Config *config.Config
}

// Prepare loads configuration and applies flag overrides on top of it.
func (o *Options) Prepare() error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	if b := strings.TrimSpace(o.Backend); b != "" {
		cfg.Index.Backend = backend.NormalizeName(b)
	}
	if p := strings.TrimSpace(o.IndexPath); p != "" {
		cfg.Index.Path = p
	}
	if l := strings.TrimSpace(o.LogLevel); l != "" {
		cfg.Log.Level = l
	}
	o.Config = cfg

	return logging.Init(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
}

type optionsKey struct{}

func optionsFrom(cmd *cobra.Command) *Options {
	if cmd == nil {
		return nil
	}
	root := cmd.Root()
	if root == nil {
		root = cmd
	}
	ctx := root.Context()
	if ctx == nil {
		return nil
	}
	opts, _ := ctx.Value(optionsKey{}).(*Options)
	return opts
}

func mustOptions(cmd *cobra.Command) (*Options, error) {
	opts := optionsFrom(cmd)
	if opts == nil || opts.Config == nil {
		return nil, fmt.Errorf("options missing")
	}
	return opts, nil
}

func bindFlags(cmd *cobra.Command, opts *Options) {
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", opts.ConfigPath, "YAML config file (DIRINDEX_* env vars override it)")
	cmd.PersistentFlags().StringVarP(&opts.Backend, "backend", "b", opts.Backend, "index backend: bleve|sqlite|elasticsearch")
	cmd.PersistentFlags().StringVarP(&opts.IndexPath, "index", "d", opts.IndexPath, "local index path (bleve directory or sqlite file)")
	cmd.PersistentFlags().StringVar(&opts.Remote, "remote", opts.Remote, "query a running dirindexd at this admin address instead of opening the index")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "log level: debug|info|warn|error")
	cmd.PersistentFlags().BoolVar(&opts.Jsonl, "jsonl", opts.Jsonl, "output as JSONL")
}

func withOptionsContext(cmd *cobra.Command, opts *Options) {
	cmd.SetContext(context.WithValue(context.Background(), optionsKey{}, opts))
}

func newDefaultOptions() *Options {
	return &Options{}
}

// Overridable in tests.
var (
	openStore  = dirindexd.OpenStore
	openBroker = func(ctx context.Context, cfg config.Broker) (broker.Connection, error) {
		return dirindexd.OpenBroker(ctx, cfg, logging.L().Named("broker"))
	}
)

func openIndex(opts *Options) (store.Store, error) {
	st, err := openStore(opts.Config.Index)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return st, nil
}

func openPublisher(ctx context.Context, opts *Options) (broker.Publisher, func(), error) {
	if opts.Config.Broker.Kind == "memory" {
		return nil, nil, fmt.Errorf("the memory broker only exists inside one process; use consume --watch instead")
	}
	conn, err := openBroker(ctx, opts.Config.Broker)
	if err != nil {
		return nil, nil, err
	}
	pub, ok := conn.(broker.Publisher)
	if !ok {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("broker %T cannot publish", conn)
	}
	return pub, func() { _ = conn.Close() }, nil
}

func ExecuteForTest(cmd *cobra.Command) (string, Options, error) {
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	err := cmd.Execute()

	opts := optionsFrom(cmd)
	if opts == nil {
		return out.String(), Options{}, err
	}
	return out.String(), *opts, err
}

func logger() *zap.Logger {
	return logging.L()
}
