package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

type Options struct {
	Level  string
	Pretty bool
	// DevFile additionally writes debug records to this path.
	DevFile string
}

// Setup installs the default slog logger and returns a function closing any
// file it opened.
func Setup(w io.Writer, opts Options) func() {
	level := ParseLevel(opts.Level)
	var console slog.Handler
	if opts.Pretty {
		console = NewPrettyHandler(w, level)
	} else {
		console = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	closeFn := func() {}
	handler := console
	if strings.TrimSpace(opts.DevFile) != "" {
		file, err := os.Create(opts.DevFile)
		if err != nil {
			slog.Error("open log file", "path", opts.DevFile, "err", err)
		} else {
			closeFn = func() { _ = file.Close() }
			fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
			handler = &teeHandler{handlers: []slog.Handler{console, fileHandler}}
		}
	}
	slog.SetDefault(slog.New(handler))
	return closeFn
}

func ParseLevel(raw string) slog.Leveler {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}
	return level
}

type teeHandler struct {
	handlers []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range t.handlers {
		if h.Enabled(ctx, record.Level) {
			if err := h.Handle(ctx, record); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, 0, len(t.handlers))
	for _, h := range t.handlers {
		out = append(out, h.WithAttrs(attrs))
	}
	return &teeHandler{handlers: out}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, 0, len(t.handlers))
	for _, h := range t.handlers {
		out = append(out, h.WithGroup(name))
	}
	return &teeHandler{handlers: out}
}

func isTerminalWriter(w io.Writer) bool {
	if file, ok := w.(*os.File); ok {
		return term.IsTerminal(int(file.Fd()))
	}
	return false
}
