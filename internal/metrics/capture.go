// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecodeOutcomesTotal counts decode attempts by outcome ("succeeded", "failed", "panic").
	DecodeOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanlink_decode_outcomes_total",
		Help: "Total decode attempts by outcome",
	}, []string{"outcome"})

	// DecodeDuration tracks time spent inside the external decoder.
	DecodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scanlink_decode_duration_seconds",
		Help:    "Duration of decode invocations",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2.0, 14), // 0.5ms to ~4s
	}, []string{"outcome"})

	// FrameRequestsTotal counts frame requests issued to the frame source.
	FrameRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanlink_frame_requests_total",
		Help: "Total frame requests issued by the session controller",
	}, []string{"reason"})

	// SessionTransitionsTotal counts state machine transitions.
	SessionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanlink_session_transitions_total",
		Help: "Total session state transitions",
	}, []string{"from", "to", "event"})

	// SessionEventsIgnoredTotal counts events rejected by the state machine guard.
	SessionEventsIgnoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanlink_session_events_ignored_total",
		Help: "Total session events ignored by the state machine",
	}, []string{"state", "event"})

	// WorkerJoinTimeoutsTotal counts shutdowns that abandoned a still running worker.
	WorkerJoinTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanlink_worker_join_timeouts_total",
		Help: "Total shutdowns where the decode worker did not exit within the join ceiling",
	})

	// GateWaitsTotal counts readiness gate waits by result ("ready", "unavailable").
	GateWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanlink_gate_waits_total",
		Help: "Total readiness gate waits by result",
	}, []string{"result"})

	// ActiveSessions is the number of running capture sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scanlink_active_sessions",
		Help: "Number of capture sessions currently running",
	})
)

// ObserveDecode records one decode invocation.
func ObserveDecode(outcome string, elapsed time.Duration) {
	DecodeOutcomesTotal.WithLabelValues(outcome).Inc()
	DecodeDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// IncFrameRequest records a frame request issued for the given reason.
func IncFrameRequest(reason string) {
	FrameRequestsTotal.WithLabelValues(reason).Inc()
}

// IncSessionTransition records a state machine transition.
func IncSessionTransition(from, to, event string) {
	SessionTransitionsTotal.WithLabelValues(from, to, event).Inc()
}

// IncSessionEventIgnored records an event the state machine did not act on.
func IncSessionEventIgnored(state, event string) {
	SessionEventsIgnoredTotal.WithLabelValues(state, event).Inc()
}

// IncGateWait records the result of a readiness gate wait.
func IncGateWait(result string) {
	GateWaitsTotal.WithLabelValues(result).Inc()
}
