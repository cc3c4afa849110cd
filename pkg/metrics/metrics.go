// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-webauthn-rp.
//
// go-webauthn-rp is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for the WebAuthn
// relying party: ceremony outcomes, verification failure kinds, clone
// warnings, HTTP request metrics, and process resource gauges.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all relying-party metrics
	Namespace = "webauthn"

	// Label names
	LabelCeremony   = "ceremony"
	LabelStatus     = "status"
	LabelKind       = "kind"
	LabelProtocol   = "protocol"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Ceremony names
	CeremonyRegistration = "registration"
	CeremonyAssertion    = "assertion"

	// Status values
	StatusSuccess = "success"
	StatusFailure = "failure"
)

var (
	// CeremoniesTotal tracks completed ceremonies by type and outcome.
	// Use RecordCeremony to increment this counter.
	CeremoniesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremonies_total",
			Help:      "Total number of completed WebAuthn ceremonies by type and outcome",
		},
		[]string{LabelCeremony, LabelStatus},
	)

	// VerificationFailuresTotal tracks rejected ceremonies by the internal
	// failure kind. Kinds are the stable labels from the verification
	// pipeline (challenge_invalid, signature_invalid, ...), never the
	// generic public error.
	VerificationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "verification_failures_total",
			Help:      "Total number of rejected ceremonies by internal failure kind",
		},
		[]string{LabelCeremony, LabelKind},
	)

	// CloneWarningsTotal tracks sign-counter anomalies suggesting a cloned
	// authenticator. Alert on any increase.
	CloneWarningsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "clone_warnings_total",
			Help:      "Total number of possible cloned-authenticator detections",
		},
	)

	// ChallengesIssuedTotal tracks issued challenge sessions by ceremony.
	ChallengesIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "challenges_issued_total",
			Help:      "Total number of challenge sessions issued by ceremony",
		},
		[]string{LabelCeremony},
	)

	// ActiveConnections tracks the number of active connections by protocol.
	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_connections",
			Help:      "Number of active connections by protocol",
		},
		[]string{LabelProtocol},
	)

	// HTTPRequestsTotal tracks the total number of HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of HTTP requests in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// Goroutines tracks the current number of goroutines.
	// Updated periodically by the resource collector.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	// Updated periodically by the resource collector.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// MemorySysBytes tracks the total bytes of memory obtained from the OS.
	// Updated periodically by the resource collector.
	MemorySysBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_sys_bytes",
			Help:      "Total bytes of memory obtained from the OS",
		},
	)

	// GCPauseTotalSeconds tracks the cumulative time spent in GC stop-the-world pauses.
	// Updated periodically by the resource collector.
	GCPauseTotalSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "gc_pause_total_seconds",
			Help:      "Cumulative time spent in GC stop-the-world pauses",
		},
	)

	// ServerUptime tracks the server uptime in seconds since startup.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	// Metrics are enabled by default
	enabled.Store(true)
}

// RecordCeremony records a completed ceremony outcome.
//
// Parameters:
//   - ceremony: The ceremony type (use Ceremony* constants)
//   - status: The outcome (use Status* constants)
func RecordCeremony(ceremony, status string) {
	if !enabled.Load() {
		return
	}
	CeremoniesTotal.WithLabelValues(ceremony, status).Inc()
}

// RecordVerificationFailure records a rejected ceremony with its
// internal failure kind.
//
// Example:
//
//	if err != nil {
//	    RecordVerificationFailure(CeremonyAssertion, webauthn.ErrorKind(err))
//	}
func RecordVerificationFailure(ceremony, kind string) {
	if !enabled.Load() {
		return
	}
	VerificationFailuresTotal.WithLabelValues(ceremony, kind).Inc()
}

// RecordCloneWarning records a possible cloned-authenticator detection.
func RecordCloneWarning() {
	if !enabled.Load() {
		return
	}
	CloneWarningsTotal.Inc()
}

// RecordChallengeIssued records an issued challenge session.
func RecordChallengeIssued(ceremony string) {
	if !enabled.Load() {
		return
	}
	ChallengesIssuedTotal.WithLabelValues(ceremony).Inc()
}

// RecordHTTPRequest records an HTTP request with its duration and status.
//
// Parameters:
//   - method: The HTTP method (GET, POST, etc.)
//   - statusCode: The HTTP status code as a string
//   - duration: The request duration in seconds
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// IncrementActiveConnections increments the active connection count for a protocol.
func IncrementActiveConnections(protocol string) {
	if !enabled.Load() {
		return
	}
	ActiveConnections.WithLabelValues(protocol).Inc()
}

// DecrementActiveConnections decrements the active connection count for a protocol.
func DecrementActiveConnections(protocol string) {
	if !enabled.Load() {
		return
	}
	ActiveConnections.WithLabelValues(protocol).Dec()
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
