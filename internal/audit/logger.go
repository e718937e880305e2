// Package audit mirrors compliance audit events to structured logs and
// aggregates per-scan statistics for reporting.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/isseis/go-gitup-guard/internal/guardtypes"
)

// Logger provides structured audit logging functionality
type Logger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger instance. A nil logger uses slog.Default().
func NewAuditLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger}
}

// LogEntry mirrors a persisted audit trail entry.
func (a *Logger) LogEntry(ctx context.Context, entry guardtypes.AuditEntry) {
	if a == nil {
		return
	}
	attrs := []slog.Attr{
		slog.String("audit_type", "compliance_trail"),
		slog.String("audit_id", entry.ID),
		slog.Int64("timestamp", entry.Timestamp.Unix()),
		slog.String("actor", string(entry.Actor)),
		slog.String("action", entry.Action),
		slog.String("outcome", entry.Outcome),
		slog.Int("findings_affected", len(entry.FindingsAffected)),
		slog.Int("process_id", os.Getpid()),
	}
	if entry.Detail != "" {
		attrs = append(attrs, slog.String("detail", entry.Detail))
	}

	level := slog.LevelInfo
	switch entry.Action {
	case guardtypes.ActionOperationBlocked, guardtypes.ActionBypassDetected:
		level = slog.LevelWarn
	case guardtypes.ActionStateReset, guardtypes.ActionAuditPurged:
		level = slog.LevelWarn
	}
	a.logger.LogAttrs(ctx, level, "Audit trail entry recorded", attrs...)
}

// LogGateDecision logs the outcome of an enforcement check.
func (a *Logger) LogGateDecision(
	ctx context.Context,
	operation string,
	level guardtypes.SecurityLevel,
	allowed bool,
	blocking []guardtypes.Finding,
	duration time.Duration,
) {
	if a == nil {
		return
	}
	ids := make([]string, 0, len(blocking))
	for _, f := range blocking {
		ids = append(ids, f.ID)
	}
	attrs := []slog.Attr{
		slog.String("audit_type", "gate_decision"),
		slog.Int64("timestamp", time.Now().Unix()),
		slog.String("operation", operation),
		slog.String("level", string(level)),
		slog.Bool("allowed", allowed),
		slog.Int("blocking", len(blocking)),
		slog.String("finding_ids", strings.Join(ids, ",")),
		slog.Int64("duration_ms", duration.Milliseconds()),
		slog.Int("user_id", os.Getuid()),
	}
	if allowed {
		a.logger.LogAttrs(ctx, slog.LevelInfo, "Operation allowed", attrs...)
	} else {
		a.logger.LogAttrs(ctx, slog.LevelWarn, "Operation blocked", attrs...)
	}
}

// LogSecurityEvent logs security-relevant events such as a detected bypass.
func (a *Logger) LogSecurityEvent(
	ctx context.Context,
	eventType string,
	severity guardtypes.Severity,
	message string,
	details map[string]any,
) {
	if a == nil {
		return
	}
	attrs := []slog.Attr{
		slog.String("audit_type", "security_event"),
		slog.Int64("timestamp", time.Now().Unix()),
		slog.String("event_type", eventType),
		slog.String("severity", string(severity)),
		slog.String("message", message),
		slog.Int("user_id", os.Getuid()),
		slog.Int("process_id", os.Getpid()),
	}
	for key, value := range details {
		attrs = append(attrs, slog.Any(key, value))
	}

	switch severity {
	case guardtypes.SeverityCritical, guardtypes.SeverityHigh:
		a.logger.LogAttrs(ctx, slog.LevelError, "Security event", attrs...)
	case guardtypes.SeverityMedium:
		a.logger.LogAttrs(ctx, slog.LevelWarn, "Security event", attrs...)
	default:
		a.logger.LogAttrs(ctx, slog.LevelInfo, "Security event", attrs...)
	}
}
