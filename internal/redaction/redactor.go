package redaction

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"strings"
)

// DefaultPlaceholder replaces redacted values.
const DefaultPlaceholder = "[REDACTED]"

// RedactionFailurePlaceholder is used when redaction itself fails
const RedactionFailurePlaceholder = "[REDACTION FAILED - OUTPUT SUPPRESSED]"

// maxRedactionDepth bounds recursion through LogValuer and slice values.
const maxRedactionDepth = 10

// maskedPrefixLen is the number of leading characters MaskSecret keeps.
const maskedPrefixLen = 4

// Config controls how sensitive information is redacted.
type Config struct {
	Placeholder string
	Patterns    *SensitivePatterns

	keyValue []*regexp.Regexp
}

// NewConfig compiles the key=value rules for the given keys.
func NewConfig(placeholder string, patterns *SensitivePatterns, keys []string) *Config {
	c := &Config{Placeholder: placeholder, Patterns: patterns}
	for _, key := range keys {
		c.keyValue = append(c.keyValue, compileKeyRule(key))
	}
	return c
}

// DefaultConfig returns default redaction configuration
func DefaultConfig() *Config {
	return NewConfig(DefaultPlaceholder, DefaultSensitivePatterns(), DefaultKeyValuePatterns())
}

// compileKeyRule turns a key into a regexp whose last group is the value.
func compileKeyRule(key string) *regexp.Regexp {
	quoted := regexp.QuoteMeta(key)
	switch {
	case strings.HasSuffix(key, ": "), strings.HasSuffix(key, ":"):
		// Header style: everything up to the end of line.
		return regexp.MustCompile(`(?i)(` + strings.TrimRight(quoted, " ") + `[ \t]*(?:bearer |basic )?)([^\r\n]+)`)
	case strings.HasSuffix(key, " "):
		return regexp.MustCompile(`(?i)(` + quoted + `)(\S+)`)
	case strings.HasPrefix(key, "_"):
		return regexp.MustCompile(`(?i)(\b\w*` + quoted + `["']?[ \t]*[=:][ \t]*["']?)([^\s"',;]+)`)
	default:
		return regexp.MustCompile(`(?i)(\b` + quoted + `["']?[ \t]*[=:][ \t]*["']?)([^\s"',;]+)`)
	}
}

// RedactText masks key=value assignments and known token shapes in text.
func (c *Config) RedactText(text string) string {
	if text == "" {
		return text
	}
	result := text
	for _, re := range c.keyValue {
		result = re.ReplaceAllString(result, "${1}"+c.Placeholder)
	}
	for _, re := range c.Patterns.ValuePatterns {
		result = re.ReplaceAllString(result, c.Placeholder)
	}
	return result
}

// RedactLogAttribute redacts a single attribute without LogValuer resolution.
func (c *Config) RedactLogAttribute(attr slog.Attr) slog.Attr {
	if c.Patterns.IsSensitiveKey(attr.Key) {
		return slog.String(attr.Key, c.Placeholder)
	}
	switch attr.Value.Kind() {
	case slog.KindString:
		if redacted := c.RedactText(attr.Value.String()); redacted != attr.Value.String() {
			return slog.String(attr.Key, redacted)
		}
	case slog.KindGroup:
		group := attr.Value.Group()
		out := make([]slog.Attr, 0, len(group))
		for _, a := range group {
			out = append(out, c.RedactLogAttribute(a))
		}
		return slog.Attr{Key: attr.Key, Value: slog.GroupValue(out...)}
	}
	return attr
}

// MaskSecret keeps the first four characters of a secret and masks the rest.
func MaskSecret(secret string) string {
	runes := []rune(secret)
	if len(runes) <= maskedPrefixLen {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:maskedPrefixLen]) + strings.Repeat("*", min(len(runes)-maskedPrefixLen, 8))
}

// MaskInLine returns line with every occurrence of secret masked, trimmed to
// at most maxLen runes. A non-positive maxLen disables trimming.
func MaskInLine(line, secret string, maxLen int) string {
	out := strings.TrimSpace(line)
	if secret != "" {
		out = strings.ReplaceAll(out, secret, MaskSecret(secret))
	}
	if maxLen > 0 {
		if runes := []rune(out); len(runes) > maxLen {
			out = string(runes[:maxLen]) + "..."
		}
	}
	return out
}

// ErrorCollector receives redaction failures.
type ErrorCollector interface {
	RecordFailure(key string, err error)
}

// RedactingHandler is a decorator that redacts sensitive information before forwarding to the underlying handler
type RedactingHandler struct {
	handler       slog.Handler
	config        *Config
	failureLogger *slog.Logger
	collector     ErrorCollector
}

// NewRedactingHandler creates a new redacting handler that wraps the given handler
func NewRedactingHandler(handler slog.Handler, config *Config, failureLogger *slog.Logger) *RedactingHandler {
	if config == nil {
		config = DefaultConfig()
	}
	if failureLogger == nil {
		failureLogger = slog.New(slog.DiscardHandler)
	}
	return &RedactingHandler{handler: handler, config: config, failureLogger: failureLogger}
}

// WithErrorCollector returns a copy of the handler that reports failures to c.
func (r *RedactingHandler) WithErrorCollector(c ErrorCollector) *RedactingHandler {
	clone := *r
	clone.collector = c
	return &clone
}

// Enabled reports whether the handler handles records at the given level
func (r *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return r.handler.Enabled(ctx, level)
}

// Handler returns the underlying handler
func (r *RedactingHandler) Handler() slog.Handler {
	return r.handler
}

// Handle redacts the message and attributes and forwards the record.
func (r *RedactingHandler) Handle(ctx context.Context, record slog.Record) error {
	newRecord := slog.NewRecord(record.Time, record.Level, r.config.RedactText(record.Message), record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		newRecord.AddAttrs(r.redactAttr(attr, 0))
		return true
	})
	return r.handler.Handle(ctx, newRecord)
}

// WithAttrs returns a new RedactingHandler with the given attributes
func (r *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		redacted = append(redacted, r.redactAttr(attr, 0))
	}
	clone := *r
	clone.handler = r.handler.WithAttrs(redacted)
	return &clone
}

// WithGroup returns a new RedactingHandler with the given group name
func (r *RedactingHandler) WithGroup(name string) slog.Handler {
	clone := *r
	clone.handler = r.handler.WithGroup(name)
	return &clone
}

func (r *RedactingHandler) redactAttr(attr slog.Attr, depth int) slog.Attr {
	key := attr.Key
	if r.config.Patterns.IsSensitiveKey(key) {
		return slog.String(key, r.config.Placeholder)
	}

	switch attr.Value.Kind() {
	case slog.KindString:
		return r.config.RedactLogAttribute(attr)
	case slog.KindGroup:
		group := attr.Value.Group()
		out := make([]slog.Attr, 0, len(group))
		for _, a := range group {
			out = append(out, r.redactAttr(a, depth))
		}
		return slog.Attr{Key: key, Value: slog.GroupValue(out...)}
	case slog.KindLogValuer, slog.KindAny:
		return r.redactAny(key, attr.Value, depth)
	default:
		return attr
	}
}

func (r *RedactingHandler) redactAny(key string, value slog.Value, depth int) slog.Attr {
	if depth >= maxRedactionDepth {
		return slog.Attr{Key: key, Value: value}
	}
	v := value.Any()
	if v == nil {
		return slog.Attr{Key: key, Value: value}
	}

	switch t := v.(type) {
	case slog.LogValuer:
		resolved, err := r.resolve(key, t)
		if err != nil {
			return slog.String(key, RedactionFailurePlaceholder)
		}
		return r.redactAttr(slog.Attr{Key: key, Value: resolved}, depth+1)
	case error:
		return r.redactString(key, t.Error(), value)
	case fmt.Stringer:
		return r.redactString(key, t.String(), value)
	}

	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice {
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elemKey := fmt.Sprintf("%s[%d]", key, i)
			elem := r.redactAttr(slog.Any(elemKey, rv.Index(i).Interface()), depth+1)
			out = append(out, elem.Value.Any())
		}
		return slog.Any(key, out)
	}
	return slog.Attr{Key: key, Value: value}
}

// redactString keeps the original value unless its text form needs masking.
func (r *RedactingHandler) redactString(key, text string, original slog.Value) slog.Attr {
	if redacted := r.config.RedactText(text); redacted != text {
		return slog.String(key, redacted)
	}
	return slog.Attr{Key: key, Value: original}
}

// resolve calls LogValue and converts a panic into an error.
func (r *RedactingHandler) resolve(key string, lv slog.LogValuer) (v slog.Value, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &ErrLogValuePanic{Key: key, PanicValue: rec}
			r.failureLogger.Warn("Redaction failed due to panic in LogValue()",
				"attribute_key", key,
				"panic", rec,
			)
			if r.collector != nil {
				r.collector.RecordFailure(key, err)
			}
		}
	}()
	return lv.LogValue(), nil
}
