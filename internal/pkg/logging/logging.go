// Package logging builds rotating-file loggers for the command-line tools.
// The server side logs through cartridge's slog stack; the CLIs want plain
// logrus output mirrored to a size-capped file.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes one rotating log destination.
type Config struct {
	Level      string
	Directory  string
	FileName   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Quiet      bool
}

// NewLogger creates a logrus logger writing to a rotating file and, unless
// Quiet is set, to stderr. With no Directory configured it logs to stderr
// only.
func NewLogger(cfg Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	writers := make([]io.Writer, 0, 2)
	if !cfg.Quiet {
		writers = append(writers, os.Stderr)
	}

	if cfg.Directory != "" {
		if err := os.MkdirAll(cfg.Directory, 0o755); err == nil {
			fileName := cfg.FileName
			if fileName == "" {
				fileName = "sitepulse.log"
			}
			maxSize := cfg.MaxSizeMB
			if maxSize <= 0 {
				maxSize = 20
			}
			writers = append(writers, &lumberjack.Logger{
				Filename:   filepath.Join(cfg.Directory, fileName),
				MaxSize:    maxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
				Compress:   true,
			})
		} else {
			logger.WithError(err).Warn("Could not create log directory, logging to stderr only")
		}
	}

	switch len(writers) {
	case 0:
		logger.SetOutput(io.Discard)
	case 1:
		logger.SetOutput(writers[0])
	default:
		logger.SetOutput(io.MultiWriter(writers...))
	}

	return logger
}
