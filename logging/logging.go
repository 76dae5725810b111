// Package logging builds the process logger: a text or JSON handler on
// stderr, plus a JSON file handler when LogDir is set, fanned out with
// slog-multi.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

type Config struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`
	// JSON switches stderr output to JSON. File logs are always JSON.
	JSON bool `yaml:"json" json:"json"`
	// LogDir enables the file {LogDir}/{Service}_{YYYY-MM-DD}.log.
	// A leading ~ is expanded to the home directory.
	LogDir  string `yaml:"log_dir" json:"log_dir"`
	Service string `yaml:"service" json:"service"`
	// Quiet disables stderr output.
	Quiet bool `yaml:"quiet" json:"quiet"`
}

func DefaultConfig() Config {
	return Config{Level: "info", Service: "banditformula"}
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("未知のログレベル: %q", s)
}

func (c Config) Validate() error {
	_, err := ParseLevel(c.Level)
	return err
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns the logger described by cfg. The returned Closer closes the
// log file, if any; it is never nil.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg Config, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handlers []slog.Handler
	if !cfg.Quiet {
		if cfg.JSON {
			handlers = append(handlers, slog.NewJSONHandler(stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(stderr, opts))
		}
	}

	var closer io.Closer = nopCloser{}
	if cfg.LogDir != "" {
		f, err := openLogFile(cfg)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewJSONHandler(f, opts))
		closer = f
	}
	if len(handlers) == 0 {
		return nil, nil, errors.New("ログの出力先がありません")
	}

	logger := slog.New(slogmulti.Fanout(handlers...))
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return logger, closer, nil
}

// FileName is the log file name of service on day t.
func FileName(service string, t time.Time) string {
	if service == "" {
		service = "banditformula"
	}
	return fmt.Sprintf("%s_%s.log", service, t.Format("2006-01-02"))
}

func openLogFile(cfg Config) (*os.File, error) {
	dir := expandPath(cfg.LogDir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName(cfg.Service, time.Now()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, nil
}

func expandPath(path string) string {
	if rest, ok := strings.CutPrefix(path, "~"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}
