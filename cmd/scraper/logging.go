package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger picks a text handler for interactive terminals and JSON
// otherwise. When logFile is set, records are also appended to a rotated
// file and the handler is always JSON.
func newLogger(verbose bool, logFile string) (*slog.Logger, *slog.LevelVar, func() error) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
	opts := &slog.HandlerOptions{Level: level}

	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o750); err != nil {
			slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("create log directory",
				slog.String("path", filepath.Dir(logFile)),
				slog.Any("error", err),
			)
		}
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    5,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		}
		handler := slog.NewJSONHandler(io.MultiWriter(os.Stdout, rotator), opts)
		return slog.New(handler), level, rotator.Close
	}

	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler), level, func() error { return nil }
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
