// Package observability owns the process loggers.
package observability

import (
	"os"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// CLILogger is the logger used by command handlers. It is a no-op until
// InitCLILogger runs.
var CLILogger = zap.NewNop()

// InitCLILogger installs a console logger on stderr named after the binary.
func InitCLILogger(name string, verbose bool) *zap.Logger {
	CLILogger = NewConsoleLogger(name, verbose)
	return CLILogger
}

// NewConsoleLogger builds a human-readable logger writing to stderr.
func NewConsoleLogger(name string, verbose bool) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level(verbose))
	return zap.New(core).Named(name)
}

// FileLogConfig configures a rotating JSON log file.
type FileLogConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Verbose    bool
}

// NewFileLogger writes JSON lines to a lumberjack-rotated file. Background
// drivers use it since nobody watches their stderr.
func NewFileLogger(name string, cfg FileLogConfig) *zap.Logger {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 3
	}
	sink := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(sink), level(cfg.Verbose))
	return zap.New(core).Named(name)
}

func level(verbose bool) zapcore.Level {
	if verbose {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}
