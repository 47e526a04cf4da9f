package logging

import (
	"os"
	"strings"

	"go.uber.org/zap/zapcore"
)

// ParseLogLevel reads a level from the named environment variable, falling
// back to def when it is unset or unrecognized.
func ParseLogLevel(envVar string, def zapcore.Level) zapcore.Level {
	value := os.Getenv(envVar)
	if value == "" {
		return def
	}
	return ParseLogLevelString(value, def)
}

// ParseLogLevelString parses debug, info, warn (or warning), error and fatal,
// case-insensitively.
func ParseLogLevelString(s string, def zapcore.Level) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return def
	}
}
