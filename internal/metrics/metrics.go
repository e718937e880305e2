// Package metrics collects scan and enforcement counters in a private
// Prometheus registry. A CLI run exports them once, through the node
// exporter textfile format, when a textfile path is configured.
package metrics

import (
	"fmt"
	"time"

	"github.com/isseis/go-gitup-guard/internal/guardtypes"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gitup_guard"

// Recorder holds the engine's metrics. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	filesScanned  prometheus.Counter
	scanErrors    prometheus.Counter
	scanDuration  prometheus.Histogram
	openFindings  *prometheus.GaugeVec
	suppressed    prometheus.Gauge
	decisions     *prometheus.CounterVec
	autoResolved  prometheus.Counter
	reviewOutcome *prometheus.CounterVec
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		filesScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scan", Name: "files_total",
			Help: "Files inspected by the risk scanner.",
		}),
		scanErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scan", Name: "errors_total",
			Help: "Files that could not be fully inspected.",
		}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "scan", Name: "duration_seconds",
			Help:    "Wall time of a full scan.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		openFindings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scan", Name: "open_findings",
			Help: "Open findings of the latest scan by severity.",
		}, []string{"severity"}),
		suppressed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scan", Name: "suppressed_findings",
			Help: "Findings suppressed by recorded decisions in the latest scan.",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "enforcer", Name: "decisions_total",
			Help: "Gate decisions by operation and outcome.",
		}, []string{"operation", "outcome"}),
		autoResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "enforcer", Name: "auto_resolved_total",
			Help: "Findings resolved automatically by the security level.",
		}),
		reviewOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "review", Name: "sessions_total",
			Help: "Review sessions by terminal state.",
		}, []string{"status"}),
	}
	r.registry.MustRegister(
		r.filesScanned, r.scanErrors, r.scanDuration, r.openFindings,
		r.suppressed, r.decisions, r.autoResolved, r.reviewOutcome,
	)
	for _, s := range guardtypes.AllSeverities() {
		r.openFindings.WithLabelValues(string(s)).Set(0)
	}
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// FileScanned counts one inspected file.
func (r *Recorder) FileScanned() {
	if r == nil {
		return
	}
	r.filesScanned.Inc()
}

// ObserveScan records the aggregate of a completed scan.
func (r *Recorder) ObserveScan(result *guardtypes.AssessmentResult, elapsed time.Duration) {
	if r == nil || result == nil {
		return
	}
	r.scanDuration.Observe(elapsed.Seconds())
	r.scanErrors.Add(float64(len(result.ScanErrors)))
	for _, s := range guardtypes.AllSeverities() {
		r.openFindings.WithLabelValues(string(s)).Set(float64(result.BySeverity.Get(s)))
	}
	r.suppressed.Set(float64(len(result.Suppressed)))
}

// ObserveDecision counts one gate outcome.
func (r *Recorder) ObserveDecision(operation string, allowed bool, autoResolved int) {
	if r == nil {
		return
	}
	outcome := "blocked"
	if allowed {
		outcome = "allowed"
	}
	r.decisions.WithLabelValues(operation, outcome).Inc()
	r.autoResolved.Add(float64(autoResolved))
}

// ObserveReview counts a finished review session.
func (r *Recorder) ObserveReview(status string) {
	if r == nil {
		return
	}
	r.reviewOutcome.WithLabelValues(status).Inc()
}

// WriteTextfile atomically writes every metric to path in text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
