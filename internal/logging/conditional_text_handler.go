package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// Static errors for handler validation
var (
	ErrModeRequired   = errors.New("logging: interactive mode detector is required")
	ErrWriterRequired = errors.New("logging: writer is required")
)

// ModeDetector reports whether the session is interactive.
// *terminal.Capabilities satisfies it.
type ModeDetector interface {
	IsInteractive() bool
}

// ConditionalTextHandler wraps slog.TextHandler and stays silent while the
// session is interactive, leaving the console to InteractiveHandler.
type ConditionalTextHandler struct {
	mode        ModeDetector
	textHandler slog.Handler
}

// ConditionalTextHandlerOptions configures the ConditionalTextHandler.
type ConditionalTextHandlerOptions struct {
	Mode               ModeDetector
	TextHandlerOptions *slog.HandlerOptions
	Writer             io.Writer
}

// NewConditionalTextHandler validates opts and builds the handler.
func NewConditionalTextHandler(opts ConditionalTextHandlerOptions) (*ConditionalTextHandler, error) {
	if opts.Mode == nil {
		return nil, ErrModeRequired
	}
	if opts.Writer == nil {
		return nil, ErrWriterRequired
	}
	return &ConditionalTextHandler{
		mode:        opts.Mode,
		textHandler: slog.NewTextHandler(opts.Writer, opts.TextHandlerOptions),
	}, nil
}

// Enabled implements slog.Handler.
func (h *ConditionalTextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return !h.mode.IsInteractive() && h.textHandler.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *ConditionalTextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.mode.IsInteractive() {
		return nil
	}
	return h.textHandler.Handle(ctx, r)
}

// WithAttrs implements slog.Handler.
func (h *ConditionalTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ConditionalTextHandler{mode: h.mode, textHandler: h.textHandler.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h *ConditionalTextHandler) WithGroup(name string) slog.Handler {
	return &ConditionalTextHandler{mode: h.mode, textHandler: h.textHandler.WithGroup(name)}
}
