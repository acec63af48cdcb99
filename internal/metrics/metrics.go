/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package metrics provides Prometheus metrics for FlyStream.

METRIC CATEGORIES:
==================
- Messages: appended, polled, bytes in and out
- Persistence: flushes, flushed messages, flush latency, flush failures
- Cache: hits, misses, usage, evicted bytes, eviction passes
- Structure: streams, topics, partitions

PROMETHEUS ENDPOINT:
====================
Metrics are exposed at /metrics in Prometheus text format when
metrics.enabled is set.

EXAMPLE METRICS:
================

	flystream_messages_appended_total 12345
	flystream_cache_usage_bytes 1.048576e+06
	flystream_flush_duration_seconds_bucket{le="0.005"} 98
*/
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flystream/internal/config"
	"flystream/internal/logging"
)

const namespace = "flystream"

// Metrics holds the collectors of one System. Each System registers its own
// set so that several can live in one process (tests do this).
type Metrics struct {
	registry *prometheus.Registry

	MessagesAppended prometheus.Counter
	BytesAppended    prometheus.Counter
	MessagesPolled   prometheus.Counter
	BytesPolled      prometheus.Counter

	Flushes         prometheus.Counter
	FlushedMessages prometheus.Counter
	FlushFailures   prometheus.Counter
	FlushDuration   prometheus.Histogram

	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	CacheUsage      prometheus.Gauge
	CacheLimit      prometheus.Gauge
	EvictedBytes    prometheus.Counter
	EvictionPasses  prometheus.Counter
	EvictionSeconds prometheus.Histogram

	Streams    prometheus.Gauge
	Topics     prometheus.Gauge
	Partitions prometheus.Gauge

	RecoverySeconds prometheus.Gauge
}

// New creates the collectors in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		MessagesAppended: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Messages accepted by append",
		}),
		BytesAppended: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_appended_total",
			Help:      "Encoded bytes accepted by append",
		}),
		MessagesPolled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_polled_total",
			Help:      "Messages returned by poll",
		}),
		BytesPolled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_polled_total",
			Help:      "Encoded bytes returned by poll",
		}),

		Flushes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Batches written to segments",
		}),
		FlushedMessages: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushed_messages_total",
			Help:      "Messages written to segments",
		}),
		FlushFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_failures_total",
			Help:      "Segment writes that failed",
		}),
		FlushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time to write one batch to a segment, including fsync",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),

		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Reads served entirely from the cache",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Reads that touched segment files",
		}),
		CacheUsage: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "usage_bytes",
			Help:      "Bytes held by all partition caches",
		}),
		CacheLimit: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "limit_bytes",
			Help:      "Configured cache budget",
		}),
		EvictedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evicted_bytes_total",
			Help:      "Bytes released by eviction",
		}),
		EvictionPasses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "eviction_passes_total",
			Help:      "Completed eviction passes",
		}),
		EvictionSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "eviction_duration_seconds",
			Help:      "Duration of an eviction pass",
		}),

		Streams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams",
			Help:      "Number of streams",
		}),
		Topics: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "topics",
			Help:      "Number of topics",
		}),
		Partitions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "partitions",
			Help:      "Number of partitions",
		}),

		RecoverySeconds: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recovery_seconds",
			Help:      "Seconds taken by startup recovery",
		}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordAppend records an accepted append.
func (m *Metrics) RecordAppend(messages int, bytes uint64) {
	m.MessagesAppended.Add(float64(messages))
	m.BytesAppended.Add(float64(bytes))
}

// RecordPoll records a completed poll.
func (m *Metrics) RecordPoll(messages int, bytes uint64, fromCache bool) {
	m.MessagesPolled.Add(float64(messages))
	m.BytesPolled.Add(float64(bytes))
	if fromCache {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

// RecordFlush records a segment write attempt.
func (m *Metrics) RecordFlush(messages int, took time.Duration, err error) {
	if err != nil {
		m.FlushFailures.Inc()
		return
	}
	m.Flushes.Inc()
	m.FlushedMessages.Add(float64(messages))
	m.FlushDuration.Observe(took.Seconds())
}

// RecordEviction records a finished eviction pass.
func (m *Metrics) RecordEviction(freed uint64, took time.Duration) {
	m.EvictionPasses.Inc()
	m.EvictedBytes.Add(float64(freed))
	m.EvictionSeconds.Observe(took.Seconds())
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server provides an HTTP server for Prometheus metrics.
type Server struct {
	config  config.MetricsConfig
	metrics *Metrics
	server  *http.Server
	routes  map[string]http.Handler
	logger  *logging.Logger
}

// NewServer creates a new metrics server.
func NewServer(cfg config.MetricsConfig, m *Metrics) *Server {
	return &Server{
		config:  cfg,
		metrics: m,
		routes:  make(map[string]http.Handler),
		logger:  logging.NewLogger("metrics"),
	}
}

// Handle serves h at pattern next to /metrics. Call before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.routes[pattern] = h
}

// Start starts the metrics HTTP server.
func (s *Server) Start() error {
	if !s.config.Enabled {
		s.logger.Info("Metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	for pattern, h := range s.routes {
		mux.Handle(pattern, h)
	}

	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("Starting metrics server", "addr", s.config.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server error", "error", err)
		}
	}()

	return nil
}

// Stop stops the metrics HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("Stopping metrics server")
	return s.server.Shutdown(ctx)
}
