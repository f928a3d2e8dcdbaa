// Package diag wires up the optional structured logging sink controlled
// by --log-level: one zap logger built once per run, writing to stderr so
// it never collides with a task's own stdout/stderr streaming.
package diag

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level names accepted by --log-level, ordered from quietest to loudest.
const (
	LevelSilent = "silent"
	LevelError  = "error"
	LevelWarn   = "warn"
	LevelInfo   = "info"
	LevelDebug  = "debug"
)

// NewLogger builds a zap.SugaredLogger writing to stderr at the requested
// level. An unrecognised or empty level name falls back to LevelWarn.
func NewLogger(level string) *zap.SugaredLogger {
	if level == LevelSilent {
		return zap.NewNop().Sugar()
	}

	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(cfg)

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stderr)), parseLevel(level))
	return zap.New(core).Sugar()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case LevelError:
		return zapcore.ErrorLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn, "":
		return zapcore.WarnLevel
	default:
		return zapcore.WarnLevel
	}
}
