package logger

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a thin wrapper that holds both the raw zap.Logger and its
// "Sugared" counterpart for convenience.
type Logger struct {
	*zap.Logger
	*zap.SugaredLogger
}

// New creates a logger writing to stdout.
// Accepted levels (case-insensitive): "debug", "info", "warn", "error".
// Accepted formats: "json" and "console".
func New(level, format string) (*Logger, error) {
	return NewWithWriter(level, format, os.Stdout)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(level, format string, w io.Writer) (*Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	// ISO-8601 timestamps under "ts", capital levels
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var enc zapcore.Encoder
	switch format {
	case "", "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console":
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("log format %q: want json or console", format)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), zapLevel)
	zapLogger := zap.New(core, zap.AddCaller())

	return &Logger{
		Logger:        zapLogger,
		SugaredLogger: zapLogger.Sugar(),
	}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l := zap.NewNop()
	return &Logger{Logger: l, SugaredLogger: l.Sugar()}
}

// FromContext extracts a *zap.Logger that may have been stored in the context.
// If none is present, the fallback logger is returned.
func FromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// WithContext returns a new context that carries the supplied logger.
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

type loggerKey struct{}

// WithRequestID returns a copy of the logger with a request-id field attached.
func WithRequestID(l *zap.Logger, reqID string) *zap.Logger {
	return l.With(zap.String("req_id", reqID))
}

// WithPassID returns a copy of the logger tagged with one collection pass.
func WithPassID(l *zap.Logger, passID string) *zap.Logger {
	return l.With(zap.String("pass_id", passID))
}

// Flush forces any buffered log entries to be written.
// Call this from `main` just before the program exits.
func Flush(l *zap.Logger) {
	// Sync on a stdout core can fail with "invalid argument" or "inappropriate
	// ioctl"; there is nothing useful to do about it on the way out.
	_ = l.Sync()
}
