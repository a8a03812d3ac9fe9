// Scriptorium - Typewriting Monkey Live Stream
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scriptorium

// Package metrics provides Prometheus instrumentation for the streaming
// engine: generation throughput, word detection, document store latency,
// and WebSocket connections.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Generation metrics
	CharsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scriptorium_chars_generated_total",
			Help: "Total number of characters appended to the stream",
		},
	)

	WordsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scriptorium_words_detected_total",
			Help: "Total number of dictionary words detected in the stream",
		},
	)

	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scriptorium_users_online",
			Help: "Effective audience size driving the generation rate (subscribers plus simulated baseline)",
		},
	)

	CharsPerMinute = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scriptorium_chars_per_minute",
			Help: "Current nominal generation throughput in characters per minute",
		},
	)

	// Document store metrics
	BackendBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scriptorium_backend_batch_duration_seconds",
			Help:    "Duration of atomic document batch writes in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	BackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scriptorium_backend_errors_total",
			Help: "Total number of document store operation failures",
		},
		[]string{"operation"},
	)

	// Chunk cache metrics
	ChunkCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scriptorium_chunk_cache_hits_total",
			Help: "Total number of finished-chunk cache hits",
		},
	)

	ChunkCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scriptorium_chunk_cache_misses_total",
			Help: "Total number of finished-chunk cache misses (backend fetches)",
		},
	)

	// WebSocket metrics
	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scriptorium_websocket_clients",
			Help: "Current number of connected WebSocket subscribers",
		},
	)

	// Flush metrics
	WordFlushes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scriptorium_word_flushes_total",
			Help: "Total number of word hit batches flushed to the document store",
		},
	)

	CursorFlushErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scriptorium_cursor_flush_errors_total",
			Help: "Total number of failed timer-driven cursor flushes (retried on next tick)",
		},
	)
)
