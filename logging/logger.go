package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures NewLogger.
type Options struct {
	// Development selects colored console output and debug level.
	Development bool

	// Level overrides the mode's default level when non-nil.
	Level *zapcore.Level

	// FilePath is the rotating JSON log file; empty disables file output.
	FilePath string

	// Rotation tunes file rotation; zero value means DefaultRotationConfig.
	Rotation RotationConfig

	// Console receives console output; nil means stderr.
	Console zapcore.WriteSyncer
}

// Logger wraps zap.Logger with redaction and keeps the settings it was
// built with.
//
//	log, err := logging.NewLogger(logging.Options{FilePath: "zimage.log"})
//	if err != nil {
//	    return err
//	}
//	defer log.Sync()
//	log.Info("pipeline loaded", zap.String("device", "cuda"))
type Logger struct {
	zap         *zap.Logger
	skip        *zap.Logger // zap with one frame skipped for the wrapper methods
	development bool
	filePath    string
}

// NewLogger builds a Logger from opts.
func NewLogger(opts Options) (*Logger, error) {
	level := zapcore.InfoLevel
	if opts.Development {
		level = zapcore.DebugLevel
	}
	if opts.Level != nil {
		level = *opts.Level
	}

	console := opts.Console
	if console == nil {
		console = zapcore.Lock(os.Stderr)
	}

	var file zapcore.WriteSyncer
	if opts.FilePath != "" {
		if dir := filepath.Dir(opts.FilePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		rot := opts.Rotation
		if rot == (RotationConfig{}) {
			rot = DefaultRotationConfig()
		}
		file = NewFileWriter(opts.FilePath, rot)
	}

	core := NewRedactCore(NewMultiCore(level, console, file, opts.Development))
	z := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return newLogger(z, opts.Development, opts.FilePath), nil
}

func newLogger(z *zap.Logger, dev bool, path string) *Logger {
	return &Logger{
		zap:         z,
		skip:        z.WithOptions(zap.AddCallerSkip(1)),
		development: dev,
		filePath:    path,
	}
}

// Wrap adapts an existing zap logger, typically one from zaptest/observer.
func Wrap(z *zap.Logger) *Logger {
	return newLogger(z, false, "")
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return Wrap(zap.NewNop())
}

// Zap returns the underlying zap.Logger for packages that take one.
func (l *Logger) Zap() *zap.Logger {
	if l == nil || l.zap == nil {
		return zap.NewNop()
	}
	return l.zap
}

// Sugar returns a sugared logger over the same core.
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.Zap().Sugar()
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	if l == nil || l.zap == nil {
		return nil
	}
	return l.zap.Sync()
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.skip.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.skip.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.skip.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.skip.Error(msg, fields...) }

// Named returns a child logger with name appended.
func (l *Logger) Named(name string) *Logger {
	return newLogger(l.Zap().Named(name), l.development, l.filePath)
}

// With returns a child logger carrying fields on every entry.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return newLogger(l.Zap().With(fields...), l.development, l.filePath)
}

// IsDevelopment reports whether the logger was built in development mode.
func (l *Logger) IsDevelopment() bool { return l.development }

// FilePath returns the log file path, empty when logging to console only.
func (l *Logger) FilePath() string { return l.filePath }
