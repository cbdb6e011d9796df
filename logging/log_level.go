package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// LevelFor picks the logger level: override when it names a level,
// otherwise debug in development and info in production.
func LevelFor(development bool, override string) zapcore.Level {
	fallback := zapcore.InfoLevel
	if development {
		fallback = zapcore.DebugLevel
	}
	return ParseLogLevelString(override, fallback)
}

// ParseLogLevelString converts "debug", "info", "warn"/"warning", "error" or
// "fatal" (any case) to a level. Anything else yields defaultLevel.
func ParseLogLevelString(levelStr string, defaultLevel zapcore.Level) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
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
		return defaultLevel
	}
}
