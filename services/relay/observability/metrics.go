// Copyright (C) 2025 ia-chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package observability provides Prometheus metrics for the chat relay.
//
// # Description
//
// Metrics cover the relay's boundary and its upstream calls:
//   - Request counters by outcome (ok, error kind)
//   - Rate-limit rejections
//   - Upstream call duration and failures by backend
//   - Sanitizer activity (truncations, unsafe-content hits)
//
// Exposed on /metrics. All operations are thread-safe via Prometheus's
// internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "iachat"

const relaySubsystem = "relay"

// RelayMetrics holds all Prometheus metrics for the relay service.
// Initialize once at startup via InitMetrics().
type RelayMetrics struct {
	// RequestsTotal counts chat requests by outcome.
	// Labels: outcome (ok, or an error kind such as RateLimited)
	RequestsTotal *prometheus.CounterVec

	// RateLimitedTotal counts requests rejected by the per-session limiter.
	RateLimitedTotal prometheus.Counter

	// UpstreamDurationSeconds measures upstream call latency.
	// Labels: backend (openai, zabbix), status (success, error)
	UpstreamDurationSeconds *prometheus.HistogramVec

	// UpstreamErrorsTotal counts upstream failures.
	// Labels: backend (openai, zabbix), kind (transport, http, malformed, service)
	UpstreamErrorsTotal *prometheus.CounterVec

	// SanitizerTruncationsTotal counts responses cut at the length cap.
	SanitizerTruncationsTotal prometheus.Counter

	// SanitizerFlagsTotal counts responses matching an unsafe pattern.
	// Labels: rule
	SanitizerFlagsTotal *prometheus.CounterVec

	// HistoryEntries observes history length per request after append.
	HistoryEntries prometheus.Histogram
}

// DefaultMetrics is the singleton instance, set by InitMetrics().
var DefaultMetrics *RelayMetrics

// InitMetrics creates and registers all relay metrics on the default
// registry. Call once at startup; a second call panics on duplicate
// registration.
func InitMetrics() *RelayMetrics {
	DefaultMetrics = &RelayMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "requests_total",
				Help:      "Total chat requests by outcome",
			},
			[]string{"outcome"},
		),

		RateLimitedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the per-session rate limiter",
			},
		),

		UpstreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "upstream_duration_seconds",
				Help:      "Upstream call duration in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"backend", "status"},
		),

		UpstreamErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "upstream_errors_total",
				Help:      "Upstream failures by backend and kind",
			},
			[]string{"backend", "kind"},
		),

		SanitizerTruncationsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "sanitizer_truncations_total",
				Help:      "Model responses cut at the length cap",
			},
		),

		SanitizerFlagsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "sanitizer_flags_total",
				Help:      "Model responses matching an unsafe pattern",
			},
			[]string{"rule"},
		),

		HistoryEntries: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "history_entries",
				Help:      "History length after appending a turn",
				Buckets:   prometheus.LinearBuckets(2, 2, 10),
			},
		),
	}
	return DefaultMetrics
}
