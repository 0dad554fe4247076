// Package kvdoclog sets up kvdoc's structured loggers: a main logger for
// general operation, plus separate commit and index-maintenance loggers
// that can be routed to their own files and optionally tee'd to stdout.
package kvdoclog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

var levelNames = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Options configures Init.
type Options struct {
	// Dir is the directory log files are written under. It is created if
	// missing.
	Dir string

	// Level is one of "debug", "info", "warn", "error". Unrecognized or
	// empty defaults to "warn".
	Level string

	// TeeCommits and TeeIndexMaint additionally mirror the commit/index
	// loggers to stdout, at INFO level, the way a CLI's --verbose flag
	// would.
	TeeCommits    bool
	TeeIndexMaint bool
}

// Loggers holds the three independent loggers kvdoc components write to.
type Loggers struct {
	Main       *slog.Logger
	Commits    *slog.Logger
	IndexMaint *slog.Logger
}

// Init opens (creating if needed) one JSON log file per logger under
// opts.Dir and returns the ready-to-use set. Commits and IndexMaint always
// log at INFO regardless of opts.Level, since they record individual
// transactional outcomes a caller may want retained independent of the
// main logger's verbosity.
func Init(opts Options) (*Loggers, error) {
	level, ok := levelNames[strings.ToLower(opts.Level)]
	if !ok {
		level = slog.LevelWarn
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("kvdoclog: create log dir %s: %w", opts.Dir, err)
	}

	mainHandler, err := fileJSONHandler(filepath.Join(opts.Dir, "kvdoc.log"), level)
	if err != nil {
		return nil, err
	}
	mainLogger := slog.New(mainHandler)

	commitsHandler, err := fileJSONHandler(filepath.Join(opts.Dir, "kvdoc-commits.log"), slog.LevelInfo)
	if err != nil {
		return nil, err
	}
	if opts.TeeCommits {
		commitsHandler = tee(commitsHandler, stdoutHandler())
	}

	indexHandler, err := fileJSONHandler(filepath.Join(opts.Dir, "kvdoc-index.log"), slog.LevelInfo)
	if err != nil {
		return nil, err
	}
	if opts.TeeIndexMaint {
		indexHandler = tee(indexHandler, stdoutHandler())
	}

	return &Loggers{
		Main:       mainLogger,
		Commits:    slog.New(commitsHandler).With("logger", "commits"),
		IndexMaint: slog.New(indexHandler).With("logger", "index_maint"),
	}, nil
}

func fileJSONHandler(path string, level slog.Level) (slog.Handler, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("kvdoclog: open log file %s: %w", path, err)
	}
	return slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level, AddSource: true}), nil
}

func stdoutHandler() slog.Handler {
	return slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
}

func tee(handlers ...slog.Handler) slog.Handler {
	return &multiHandler{handlers: handlers}
}

// multiHandler fans a single log record out to every wrapped handler.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}
