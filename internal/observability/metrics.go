// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "fittrack"

// Metrics holds the application counters. It satisfies the recorder
// interfaces of the auth and resource services.
type Metrics struct {
	AuthEvents      *prometheus.CounterVec
	LinkedTx        *prometheus.CounterVec
	LinkedConflicts *prometheus.CounterVec
	Cleanups        *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// NewMetrics creates the application metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_events_total",
			Help:      "Authentication operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		LinkedTx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "linked_transactions_total",
			Help:      "Linked resource operations by kind, operation and outcome.",
		}, []string{"kind", "operation", "outcome"}),
		LinkedConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "linked_conflicts_total",
			Help:      "Linked transaction attempts lost to a concurrent writer.",
		}, []string{"kind", "operation"}),
		Cleanups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_cleanups_total",
			Help:      "Orphaned artifact removals by reason and outcome.",
		}, []string{"reason", "outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(m.AuthEvents, m.LinkedTx, m.LinkedConflicts, m.Cleanups, m.HTTPRequests, m.HTTPDuration)
	return m
}

// RecordAuth implements auth.Recorder.
func (m *Metrics) RecordAuth(operation, outcome string) {
	m.AuthEvents.WithLabelValues(operation, outcome).Inc()
}

// RecordLinked implements resource.Recorder.
func (m *Metrics) RecordLinked(kind, operation, outcome string) {
	m.LinkedTx.WithLabelValues(kind, operation, outcome).Inc()
}

// RecordConflict implements resource.Recorder.
func (m *Metrics) RecordConflict(kind, operation string) {
	m.LinkedConflicts.WithLabelValues(kind, operation).Inc()
}

// RecordCleanup implements resource.CleanupRecorder.
func (m *Metrics) RecordCleanup(reason, outcome string) {
	m.Cleanups.WithLabelValues(reason, outcome).Inc()
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
