// Package logging builds the process logger from the LOGGING block.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/yejue/liteboty/config"
	"github.com/yejue/liteboty/errors"
)

// FileName is the log file written inside log_dir.
const FileName = "liteboty.log"

const (
	defaultMaxMB   = 10
	defaultBackups = 5
	mib            = 1 << 20
)

// ParseLevel maps debug, info, warn/warning and error (any case) to a
// slog level. Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "critical":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a logger writing to w and, when cfg.LogDir is set, to a
// rotating file in that directory. The returned closer releases the file;
// it is a no-op without one.
func New(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, io.Closer, error) {
	if w == nil {
		w = os.Stderr
	}
	var closer io.Closer = nopCloser{}

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, nil, errors.Wrap(err, "Logging", "New", "create log directory")
		}
		file := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, FileName),
			MaxSize:    maxSizeMB(cfg.MaxBytes),
			MaxBackups: backups(cfg.BackupCount),
		}
		w = io.MultiWriter(w, file)
		closer = file
	}

	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler).With("app", "liteboty", "pid", os.Getpid()), closer, nil
}

// maxSizeMB rounds max_bytes up to whole megabytes, lumberjack's unit.
func maxSizeMB(maxBytes int64) int {
	if maxBytes <= 0 {
		return defaultMaxMB
	}
	return int((maxBytes + mib - 1) / mib)
}

func backups(n int) int {
	if n <= 0 {
		return defaultBackups
	}
	return n
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
