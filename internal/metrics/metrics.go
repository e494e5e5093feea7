// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedirectFramesTotal counts frames by the stage they ended in
	RedirectFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "l2relay_redirect_frames_total",
			Help: "Total number of captured frames by final redirect stage",
		},
		[]string{"stage"},
	)

	// RedirectBytesTotal counts bytes written to the egress socket
	RedirectBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "l2relay_redirect_bytes_total",
			Help: "Total number of bytes re-emitted on the egress interface",
		},
	)

	// CaptureDropsTotal mirrors the kernel ring drop counter
	CaptureDropsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "l2relay_capture_ring_drops",
			Help: "Frames dropped by the kernel capture ring",
		},
	)

	// ResolverLookupsTotal counts address resolutions by result and answering backend
	ResolverLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "l2relay_resolver_lookups_total",
			Help: "Total number of hardware address resolutions",
		},
		[]string{"result", "source"},
	)

	// ResolverLatencySeconds measures time spent resolving one destination
	ResolverLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "l2relay_resolver_latency_seconds",
			Help:    "Latency of hardware address resolution in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 20), // 10µs to ~5s
		},
	)

	// ChannelRequestsTotal counts request/response exchanges by outcome
	ChannelRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "l2relay_channel_requests_total",
			Help: "Total number of secure channel requests by outcome",
		},
		[]string{"outcome"},
	)

	// ChannelRequestSeconds measures request/response round trips
	ChannelRequestSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "l2relay_channel_request_seconds",
			Help:    "Round trip of secure channel requests in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16), // 0.5ms to ~16s
		},
	)

	// ReporterErrorsTotal counts event reporter failures
	ReporterErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "l2relay_reporter_errors_total",
			Help: "Total number of event reporter errors",
		},
		[]string{"reporter"},
	)
)

// Resolver result label values
const (
	ResultHit  = "hit"
	ResultMiss = "miss"
)

// Channel outcome label values
const (
	OutcomeResponse = "response"
	OutcomeTimeout  = "timeout"
	OutcomeClosed   = "closed"
	OutcomeError    = "error"
)
