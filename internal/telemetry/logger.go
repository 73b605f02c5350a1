// Package telemetry wires logging, metrics and tracing for Kestrel.
package telemetry

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// NewLogger builds a slog.Logger backed by zap. The returned func flushes
// buffered entries and should run before exit.
//
// Format "json" uses the zap production encoder; anything else the console
// encoder. KESTREL_DEBUG=true forces debug level.
func NewLogger(cfg domain.LoggingConfig) (*slog.Logger, func() error, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zapcore.InfoLevel
	}
	if os.Getenv("KESTREL_DEBUG") == "true" {
		level = zapcore.DebugLevel
	}

	var zcfg zap.Config
	if cfg.Format == "json" || cfg.Format == "" {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.TimeKey = "time"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stdout"}
	zcfg.DisableStacktrace = level != zapcore.DebugLevel

	zl, err := zcfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}

	logger := slog.New(zapslog.NewHandler(zl.Core(), zapslog.WithCaller(level == zapcore.DebugLevel)))
	return logger, zl.Sync, nil
}
