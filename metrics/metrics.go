// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (C) 2024 rtprecv contributors

// Package metrics exposes Prometheus instrumentation for the receiver.
// Observability was silent in the distilled spec, not excluded by a
// Non-goal, so it is carried as ambient stack grounded on
// madpsy-ka9q_ubersdr's direct use of github.com/prometheus/client_golang.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the counters/gauges the module updates.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	CapacityRejected  prometheus.Counter
	PacketsDropped    *prometheus.CounterVec
	QueueOverruns     prometheus.Counter
	RateRetunes       prometheus.Counter
	RateFixesRejected prometheus.Counter
	SessionsDestroyed *prometheus.CounterVec
}

// New registers and returns a Metrics bound to reg. Pass
// prometheus.DefaultRegisterer to use the global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rtprecv",
			Name:      "active_sessions",
			Help:      "Number of live RTP sessions currently registered.",
		}),
		CapacityRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtprecv",
			Name:      "capacity_rejected_total",
			Help:      "Announcements refused because MAX_SESSIONS was reached.",
		}),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtprecv",
			Name:      "packets_dropped_total",
			Help:      "RTP packets dropped by reason.",
		}, []string{"reason"}),
		QueueOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtprecv",
			Name:      "queue_overruns_total",
			Help:      "Jitter queue overrun events across all sessions.",
		}),
		RateRetunes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtprecv",
			Name:      "rate_retunes_total",
			Help:      "Applied resampler rate corrections.",
		}),
		RateFixesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtprecv",
			Name:      "rate_fixes_rejected_total",
			Help:      "Rate corrections skipped for exceeding the 20% safety cap.",
		}),
		SessionsDestroyed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtprecv",
			Name:      "sessions_destroyed_total",
			Help:      "Session destructions by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.ActiveSessions,
		m.CapacityRejected,
		m.PacketsDropped,
		m.QueueOverruns,
		m.RateRetunes,
		m.RateFixesRejected,
		m.SessionsDestroyed,
	)
	return m
}
