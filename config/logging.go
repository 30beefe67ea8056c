package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
)

// InitLogger builds the process logger and installs it as the slog default.
//
// Warnings and errors always go to stderr. When debug is set, every level is
// also appended to <dataDir>/debug.log. The returned closer releases the log
// file and is safe to call when no file was opened.
func InitLogger(dataDir string, debug bool) (*slog.Logger, io.Closer) {
	var closer io.Closer = nopCloser{}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}
	level := slog.LevelWarn
	var out io.Writer = console

	if debug {
		logPath := filepath.Join(dataDir, "debug.log")
		// Create debug log with secure permissions (0600 - may contain prompts)
		f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		} else {
			closer = f
			out = zerolog.MultiLevelWriter(levelFilter{w: console, min: zerolog.WarnLevel}, f)
			level = slog.LevelDebug
		}
	}

	zl := zerolog.New(out).With().Timestamp().Logger()
	logger := slog.New(zeroslog.NewHandler(zl, &zeroslog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if debug {
		logger.Debug("debug logging started", slog.String("data_dir", dataDir))
	}
	return logger, closer
}

// ErrAttr returns the error as a slog attribute under the "error" key.
func ErrAttr(err error) slog.Attr {
	return slog.String("error", err.Error())
}

// levelFilter drops entries below min so the console stays quiet in debug mode.
type levelFilter struct {
	w   io.Writer
	min zerolog.Level
}

func (l levelFilter) Write(p []byte) (int, error) {
	return l.w.Write(p)
}

func (l levelFilter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < l.min {
		return len(p), nil
	}
	return l.w.Write(p)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
