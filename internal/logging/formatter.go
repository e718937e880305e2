package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// priorityKeys are the attributes shown on the console, in display order.
var priorityKeys = []string{"error", "operation", "path", "category", "severity", "level", "findings", "blocking", "file"}

// MessageFormatter renders records for a person reading a terminal.
type MessageFormatter struct {
	levelStyles map[slog.Level]lipgloss.Style
	keyStyle    lipgloss.Style
}

// NewMessageFormatter creates a formatter whose styles render through w's
// color profile.
func NewMessageFormatter(w io.Writer) *MessageFormatter {
	r := lipgloss.NewRenderer(w)
	return &MessageFormatter{
		levelStyles: map[slog.Level]lipgloss.Style{
			slog.LevelDebug: r.NewStyle().Faint(true),
			slog.LevelInfo:  r.NewStyle().Foreground(lipgloss.Color("6")),
			slog.LevelWarn:  r.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
			slog.LevelError: r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		},
		keyStyle: r.NewStyle().Faint(true),
	}
}

// Format renders record as "<LEVEL> <message> key=value ...", keeping only
// the priority attributes. Groups are flattened with dots.
func (f *MessageFormatter) Format(record slog.Record, extra []slog.Attr, useColor bool) string {
	var sb strings.Builder
	sb.WriteString(f.level(record.Level, useColor))
	sb.WriteByte(' ')
	sb.WriteString(record.Message)

	found := map[string]string{}
	var collect func(prefix string, a slog.Attr)
	collect = func(prefix string, a slog.Attr) {
		a.Value = a.Value.Resolve()
		if a.Value.Kind() == slog.KindGroup {
			for _, g := range a.Value.Group() {
				collect(prefix+a.Key+".", g)
			}
			return
		}
		key := prefix + a.Key
		leaf := key[strings.LastIndex(key, ".")+1:]
		if _, ok := found[leaf]; !ok {
			found[leaf] = a.Value.String()
		}
	}
	for _, a := range extra {
		collect("", a)
	}
	record.Attrs(func(a slog.Attr) bool {
		collect("", a)
		return true
	})

	for _, key := range priorityKeys {
		v, ok := found[key]
		if !ok {
			continue
		}
		sb.WriteByte(' ')
		k := key + "="
		if useColor {
			k = f.keyStyle.Render(k)
		}
		sb.WriteString(k)
		sb.WriteString(quoteIfNeeded(v))
	}
	return sb.String()
}

func (f *MessageFormatter) level(level slog.Level, useColor bool) string {
	var label string
	var base slog.Level
	switch {
	case level >= slog.LevelError:
		label, base = "ERROR", slog.LevelError
	case level >= slog.LevelWarn:
		label, base = "WARN ", slog.LevelWarn
	case level >= slog.LevelInfo:
		label, base = "INFO ", slog.LevelInfo
	default:
		label, base = "DEBUG", slog.LevelDebug
	}
	if !useColor {
		return fmt.Sprintf("[%s]", strings.TrimSpace(label))
	}
	return f.levelStyles[base].Render(label)
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
