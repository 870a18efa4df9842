// Package logging provides the structured logging interface used across
// TrialScope and its zap-backed implementation.  Components depend on the
// Logger interface defined here; go.uber.org/zap is not imported outside this
// package.
//
// Initialisation order in the CLI:
//
//  1. Parse configuration.
//  2. Call NewLogger with the configured level.
//  3. Construct the feasibility service and cache, injecting the Logger.
package logging

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	errs "github.com/turtacn/TrialScope/pkg/errors"
)

// Level names accepted by LogConfig.Level.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// ─────────────────────────────────────────────────────────────────────────────
// Field
// ─────────────────────────────────────────────────────────────────────────────

// Field is a typed key-value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// String constructs a Field with a string value.
func String(key, val string) Field { return Field{Key: key, Value: val} }

// Strings constructs a Field with a string slice value.
func Strings(key string, val []string) Field { return Field{Key: key, Value: val} }

// Int constructs a Field with an int value.
func Int(key string, val int) Field { return Field{Key: key, Value: val} }

// Int64 constructs a Field with an int64 value.
func Int64(key string, val int64) Field { return Field{Key: key, Value: val} }

// Float64 constructs a Field with a float64 value.
func Float64(key string, val float64) Field { return Field{Key: key, Value: val} }

// Bool constructs a Field with a bool value.
func Bool(key string, val bool) Field { return Field{Key: key, Value: val} }

// Err constructs a Field that captures an error under the key "error".
// A nil err is logged as "<nil>".
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: "<nil>"}
	}
	return Field{Key: "error", Value: err.Error()}
}

// ErrFields returns the error field plus, for an *errs.AppError anywhere in
// the chain, its symbolic code under "error_code".  nil yields no fields.
func ErrFields(err error) []Field {
	if err == nil {
		return nil
	}
	fields := []Field{Err(err)}
	var ae *errs.AppError
	if stderrors.As(err, &ae) {
		fields = append(fields, String("error_code", ae.Code.String()))
	}
	return fields
}

// Any constructs a Field with an arbitrary value.
func Any(key string, val interface{}) Field { return Field{Key: key, Value: val} }

// Duration constructs a Field with a time.Duration value.
func Duration(key string, val time.Duration) Field { return Field{Key: key, Value: val} }

// ─────────────────────────────────────────────────────────────────────────────
// Logger
// ─────────────────────────────────────────────────────────────────────────────

// Logger is the structured logging contract.  Components receive a Logger via
// constructor injection so tests can pass NewNopLogger().
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// Fatal logs at FATAL level and then calls os.Exit(1).  Reserve for
	// startup failures.
	Fatal(msg string, fields ...Field)

	// With returns a child Logger that includes fields in every entry.
	With(fields ...Field) Logger

	// Named returns a child Logger whose name is appended to the parent's
	// with a period separator (e.g. "trialscope" → "trialscope.dispatch").
	Named(name string) Logger

	// Sync flushes buffered entries.
	Sync() error
}

// LogConfig carries the parameters required to construct a Logger.  It is
// populated from the log section of internal/config.
type LogConfig struct {
	// Level: "debug", "info", "warn" or "error".  Defaults to "info".
	Level string `mapstructure:"level" json:"level"`

	// Format: "json" or "console".  Defaults to "json".
	Format string `mapstructure:"format" json:"format"`

	// OutputPaths defaults to ["stdout"] when nil.  A non-nil empty slice is
	// rejected.
	OutputPaths []string `mapstructure:"output_paths" json:"output_paths"`

	// ErrorOutputPaths defaults to ["stderr"] when empty.
	ErrorOutputPaths []string `mapstructure:"error_output_paths" json:"error_output_paths"`
}

// ─────────────────────────────────────────────────────────────────────────────
// zapLogger
// ─────────────────────────────────────────────────────────────────────────────

type zapLogger struct {
	z *zap.Logger
}

// toZapFields converts Field values into zap.Field values without reflection
// for the common concrete types.
func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			out = append(out, zap.String(f.Key, v))
		case []string:
			out = append(out, zap.Strings(f.Key, v))
		case int:
			out = append(out, zap.Int(f.Key, v))
		case int64:
			out = append(out, zap.Int64(f.Key, v))
		case float64:
			out = append(out, zap.Float64(f.Key, v))
		case bool:
			out = append(out, zap.Bool(f.Key, v))
		case time.Duration:
			out = append(out, zap.Duration(f.Key, v))
		case error:
			out = append(out, zap.NamedError(f.Key, v))
		default:
			out = append(out, zap.Any(f.Key, v))
		}
	}
	return out
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, toZapFields(fields)...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, toZapFields(fields)...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, toZapFields(fields)...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, toZapFields(fields)...) }
func (l *zapLogger) Fatal(msg string, fields ...Field) { l.z.Fatal(msg, toZapFields(fields)...) }

func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{z: l.z.With(toZapFields(fields)...)}
}

func (l *zapLogger) Named(name string) Logger {
	return &zapLogger{z: l.z.Named(name)}
}

func (l *zapLogger) Sync() error {
	return l.z.Sync()
}

// ─────────────────────────────────────────────────────────────────────────────
// Factories
// ─────────────────────────────────────────────────────────────────────────────

// ParseLevel converts a level name to a zapcore.Level.  Unknown values map to
// InfoLevel.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger constructs a zap-backed Logger according to cfg.
func NewLogger(cfg LogConfig) (Logger, error) {
	if cfg.OutputPaths == nil {
		cfg.OutputPaths = []string{"stdout"}
	}
	if len(cfg.OutputPaths) == 0 {
		return nil, fmt.Errorf("logging: at least one output path is required")
	}
	if len(cfg.ErrorOutputPaths) == 0 {
		cfg.ErrorOutputPaths = []string{"stderr"}
	}

	var encCfg zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encoding = "console"
	} else {
		encCfg = zap.NewProductionEncoderConfig()
	}
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(ParseLevel(cfg.Level)),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encCfg,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: cfg.ErrorOutputPaths,
	}

	z, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("logging: failed to build zap logger: %w", err)
	}
	return &zapLogger{z: z}, nil
}

// NewDevelopmentLogger returns a debug-level console logger on stderr.  It
// falls back to a nop logger if zap cannot be built.
func NewDevelopmentLogger() Logger {
	l, err := NewLogger(LogConfig{
		Level:       LevelDebug,
		Format:      "console",
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return NewNopLogger()
	}
	return l
}

// NewLoggerFromCore constructs a Logger from an existing zapcore.Core.
// Tests use it with zaptest/observer.
func NewLoggerFromCore(core zapcore.Core) Logger {
	return &zapLogger{z: zap.New(core, zap.AddCallerSkip(1))}
}

// ─────────────────────────────────────────────────────────────────────────────
// nopLogger
// ─────────────────────────────────────────────────────────────────────────────

type nopLogger struct{}

func (nopLogger) Debug(_ string, _ ...Field) {}
func (nopLogger) Info(_ string, _ ...Field)  {}
func (nopLogger) Warn(_ string, _ ...Field)  {}
func (nopLogger) Error(_ string, _ ...Field) {}
func (nopLogger) Fatal(_ string, _ ...Field) {}
func (n nopLogger) With(_ ...Field) Logger   { return n }
func (n nopLogger) Named(_ string) Logger    { return n }
func (nopLogger) Sync() error                { return nil }

// NewNopLogger returns a Logger that discards all entries.
func NewNopLogger() Logger { return nopLogger{} }

// LogOperationDuration logs op at INFO with its elapsed time since start, or
// at WARN when it took longer than one second.
func LogOperationDuration(l Logger, op string, start time.Time) {
	elapsed := time.Since(start)
	fields := []Field{String("operation", op), Int64("duration_ms", elapsed.Milliseconds())}
	if elapsed > time.Second {
		l.Warn("slow operation", fields...)
		return
	}
	l.Info("operation completed", fields...)
}
