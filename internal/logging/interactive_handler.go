package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// ErrFormatterRequired is returned when InteractiveHandlerOptions lacks a formatter.
var ErrFormatterRequired = errors.New("logging: formatter is required")

// ColorMode is satisfied by *terminal.Capabilities.
type ColorMode interface {
	ModeDetector
	SupportsColor() bool
}

// InteractiveHandler writes short, optionally styled lines for a person at
// a terminal. It is disabled when the session is not interactive.
type InteractiveHandler struct {
	mode      ColorMode
	formatter *MessageFormatter
	writer    io.Writer
	mu        *sync.Mutex
	level     slog.Leveler
	attrs     []slog.Attr
	groups    []string
}

// InteractiveHandlerOptions configures the InteractiveHandler.
type InteractiveHandlerOptions struct {
	Level     slog.Leveler
	Writer    io.Writer
	Mode      ColorMode
	Formatter *MessageFormatter
}

// NewInteractiveHandler validates opts and builds the handler.
func NewInteractiveHandler(opts InteractiveHandlerOptions) (*InteractiveHandler, error) {
	if opts.Writer == nil {
		return nil, ErrWriterRequired
	}
	if opts.Mode == nil {
		return nil, ErrModeRequired
	}
	if opts.Formatter == nil {
		return nil, ErrFormatterRequired
	}
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}
	return &InteractiveHandler{
		mode:      opts.Mode,
		formatter: opts.Formatter,
		writer:    opts.Writer,
		mu:        &sync.Mutex{},
		level:     level,
	}, nil
}

// Enabled implements slog.Handler.
func (h *InteractiveHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.mode.IsInteractive() && level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *InteractiveHandler) Handle(_ context.Context, r slog.Record) error {
	if !h.mode.IsInteractive() {
		return nil
	}
	extra := h.attrs
	if len(h.groups) > 0 {
		extra = make([]slog.Attr, len(h.attrs))
		for i, a := range h.attrs {
			extra[i] = prefixed(h.groups, a)
		}
	}
	line := h.formatter.Format(r, extra, h.mode.SupportsColor()) + "\n"

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, line)
	return err
}

// WithAttrs implements slog.Handler.
func (h *InteractiveHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

// WithGroup implements slog.Handler.
func (h *InteractiveHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

func prefixed(groups []string, a slog.Attr) slog.Attr {
	key := a.Key
	for i := len(groups) - 1; i >= 0; i-- {
		key = groups[i] + "." + key
	}
	return slog.Attr{Key: key, Value: a.Value}
}
