package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"dirindex/internal/config"
	"dirindex/internal/dirindexd"
	"dirindex/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (DIRINDEX_* env vars override it)")
	admin := flag.String("admin", "", "admin JSON-RPC listen address (overrides admin.listen)")
	watch := flag.String("watch", "", "comma separated local trees to watch and feed to the broker")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *admin != "" {
		cfg.Admin.Listen = *admin
	}

	if err := logging.Init(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logging.Sync() }()

	var roots []string
	for _, r := range strings.Split(*watch, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roots = append(roots, r)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := dirindexd.NewDaemon(ctx, dirindexd.DaemonOptions{
		Config:     cfg,
		Logger:     logging.L(),
		WatchRoots: roots,
	})
	if err != nil {
		logging.L().Error("startup failed", zap.Error(err))
		_ = logging.Sync()
		os.Exit(1)
	}

	err = d.Run(ctx)
	_ = d.Close()
	if err != nil && ctx.Err() == nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			_, _ = fmt.Fprintf(os.Stderr, "listen address in use: %s\nTry: -admin 127.0.0.1:7339\n", cfg.Admin.Listen)
		}
		_ = logging.Sync()
		os.Exit(1)
	}
}
