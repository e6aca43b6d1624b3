package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"polyatop/backend/internal/config"
)

// Cleanup releases the log file, if one was opened.
type Cleanup func() error

// New builds the process logger, tags every record with the service name and
// installs it as the slog default.
func New(cfg config.LoggingConfig, service string) (*slog.Logger, Cleanup, error) {
	out, file, err := openOutput(os.Stdout, cfg.File)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(newHandler(out, cfg))
	if service != "" {
		logger = logger.With("service", service)
	}
	slog.SetDefault(logger)

	cleanup := func() error {
		if file != nil {
			return file.Close()
		}
		return nil
	}
	return logger, cleanup, nil
}

func newHandler(out io.Writer, cfg config.LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: true,
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "json") {
		return slog.NewJSONHandler(out, opts)
	}
	return slog.NewTextHandler(out, opts)
}

// openOutput tees the console writer into path when path is set.
func openOutput(console io.Writer, path string) (io.Writer, *os.File, error) {
	if path == "" {
		return console, nil, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return io.MultiWriter(console, f), f, nil
}

func parseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
