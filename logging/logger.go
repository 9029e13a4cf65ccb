// Package logging provides the structured logger shared by every component.
//
// Logger is an organism composed of:
//   - a rotating file sink (lumberjack) that always receives JSON
//   - a console sink that is colored in development and JSON otherwise
//   - a redaction pass over every field before it reaches either sink
//
// Components derive child loggers with Named and With:
//
//	log := logger.Named("queue").With(logging.TaskID(id))
//	log.Info("task admitted", logging.Priority("high"))
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New. Zero values fall back to production defaults.
type Options struct {
	// Development enables debug level and a colored console encoder.
	Development bool

	// Level overrides the default level ("debug", "info", "warn", "error").
	Level string

	// FilePath is the JSON log file. Empty disables the file sink.
	FilePath string

	// Rotation tunes the file sink; see DefaultFileWriterConfig.
	Rotation FileWriterConfig

	// Console receives human-facing output. Defaults to os.Stdout.
	Console io.Writer
}

// Logger wraps zap.Logger and redacts sensitive values on every call.
type Logger struct {
	zap   *zap.Logger
	sugar *zap.SugaredLogger
	dev   bool
}

// New builds a Logger that tees console and file output.
func New(opts Options) (*Logger, error) {
	level := zapcore.InfoLevel
	if opts.Development {
		level = zapcore.DebugLevel
	}
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("logging: invalid level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	var file zapcore.WriteSyncer
	if opts.FilePath != "" {
		file = NewFileWriterWithConfig(opts.FilePath, opts.Rotation)
	}

	core := newTeeCore(level, zapcore.AddSync(console), file, opts.Development)
	return fromZap(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)), opts.Development), nil
}

// NewNop returns a Logger that discards everything. Useful in tests.
func NewNop() *Logger {
	return fromZap(zap.NewNop(), false)
}

// NewWithCore wraps an arbitrary zapcore.Core, for example an observer in tests.
func NewWithCore(core zapcore.Core) *Logger {
	return fromZap(zap.New(core), false)
}

func fromZap(z *zap.Logger, dev bool) *Logger {
	return &Logger{zap: z, sugar: z.Sugar(), dev: dev}
}

// Sync flushes buffered entries. Call before exit.
func (l *Logger) Sync() error {
	if l == nil || l.zap == nil {
		return nil
	}
	return l.zap.Sync()
}

func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.zap.Debug(msg, redactFields(fields)...)
}

func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zap.Info(msg, redactFields(fields)...)
}

func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.zap.Warn(msg, redactFields(fields)...)
}

func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.zap.Error(msg, redactFields(fields)...)
}

// Infof logs a formatted message. Arguments are not redacted; do not pass secrets.
func (l *Logger) Infof(template string, args ...interface{}) {
	l.sugar.Infof(template, args...)
}

// Warnw logs loosely-typed key-value pairs at WarnLevel.
func (l *Logger) Warnw(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, redactKeysAndValues(keysAndValues)...)
}

// Errorw logs loosely-typed key-value pairs at ErrorLevel.
func (l *Logger) Errorw(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, redactKeysAndValues(keysAndValues)...)
}

// With returns a child logger that adds fields to every entry.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return fromZap(l.zap.With(redactFields(fields)...), l.dev)
}

// Named returns a child logger with name appended to the logger path.
func (l *Logger) Named(name string) *Logger {
	return fromZap(l.zap.Named(name), l.dev)
}

// Zap exposes the underlying logger for libraries that want a *zap.Logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// IsDevelopment reports whether the logger was built in development mode.
func (l *Logger) IsDevelopment() bool {
	return l.dev
}
