// Package logging provides the process-wide zap logger.
package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"dirindex/internal/model"
)

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stdout, stderr or a file path
	MaxSizeMB  int
	MaxBackups int
}

var (
	mu           sync.RWMutex
	globalLogger *zap.Logger
	globalLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Init replaces the global logger. File outputs are rotated with lumberjack.
func Init(cfg Config) error {
	logger, err := New(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	globalLogger = logger
	mu.Unlock()
	return nil
}

func New(cfg Config) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}
	globalLevel.SetLevel(level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if strings.EqualFold(cfg.Format, "console") {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	var ws zapcore.WriteSyncer
	switch out := strings.TrimSpace(cfg.OutputPath); out {
	case "", "stderr":
		ws = zapcore.Lock(os.Stderr)
	case "stdout":
		ws = zapcore.Lock(os.Stdout)
	default:
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   out,
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		})
	}

	core := zapcore.NewCore(enc, ws, globalLevel)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// SetLevel changes the global level at runtime.
func SetLevel(level string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return
	}
	globalLevel.SetLevel(l)
}

func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}

// L returns the global logger, creating a production logger on first use.
func L() *zap.Logger {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if globalLogger == nil {
		globalLogger, _ = New(Config{Level: "info"})
	}
	return globalLogger
}

func S() *zap.SugaredLogger {
	return L().Sugar()
}

// Message expands an ingest message into log fields.
func Message(m model.IngestMessage) zap.Field {
	return zap.Dict("message",
		zap.String("filepath", m.Filepath),
		zap.String("action", string(m.Action)),
		zap.Time("time", m.Time),
		zap.String("filesize", m.Filesize),
	)
}

func Path(p string) zap.Field {
	return zap.String("path", p)
}

func Err(err error) zap.Field {
	return zap.Error(err)
}
