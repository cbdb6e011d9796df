package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap/zapcore"
)

// NewMultiCore creates a zapcore.Core that writes to the console and, when
// opts.FilePath is set, to a rotating log file.
//
// The file always gets JSON. The console gets colored human-readable output
// in development mode and JSON otherwise.
func NewMultiCore(level zapcore.Level, opts Options) (zapcore.Core, error) {
	console := opts.Console
	if console == nil {
		console = zapcore.Lock(os.Stdout)
	}

	if opts.FilePath == "" {
		return newConsoleCore(level, console, opts.Development), nil
	}

	dir := filepath.Dir(opts.FilePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	fileWriter := NewFileWriterWithConfig(opts.FilePath, opts.File)
	return NewMultiCoreWithWriters(level, console, fileWriter, opts.Development), nil
}

// NewMultiCoreWithWriters tees console and file writers with the encoders
// appropriate for the mode.
func NewMultiCoreWithWriters(level zapcore.Level, consoleWriter, fileWriter zapcore.WriteSyncer, isDev bool) zapcore.Core {
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(NewEncoderConfig()),
		fileWriter,
		level,
	)

	return zapcore.NewTee(newConsoleCore(level, consoleWriter, isDev), fileCore)
}

func newConsoleCore(level zapcore.Level, w zapcore.WriteSyncer, isDev bool) zapcore.Core {
	var encoder zapcore.Encoder
	if isDev {
		encoder = zapcore.NewConsoleEncoder(NewConsoleEncoderConfig())
	} else {
		encoder = zapcore.NewJSONEncoder(NewEncoderConfig())
	}
	return zapcore.NewCore(encoder, w, level)
}
