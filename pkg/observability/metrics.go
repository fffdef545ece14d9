// Copyright 2025 The Quiver Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments exposed on /metrics. Each server
// owns one Metrics with its own registry so tests never collide on the
// default global registry.
type Metrics struct {
	registry *prometheus.Registry

	DocumentsIngested *prometheus.CounterVec
	ChunksProduced    *prometheus.CounterVec
	EmbeddingsCreated prometheus.Counter
	PointsUpserted    prometheus.Counter
	PipelineErrors    *prometheus.CounterVec
	PipelineDuration  *prometheus.HistogramVec

	SearchesTotal   *prometheus.CounterVec
	SearchDuration  prometheus.Histogram
	ToolCallsTotal  *prometheus.CounterVec
	ToolCallErrors  *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all instruments.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := func(c prometheus.Collector) {
		registry.MustRegister(c)
	}

	m := &Metrics{
		registry: registry,
		DocumentsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiver_documents_ingested_total",
			Help: "Documents processed by the ingestion pipeline, by outcome.",
		}, []string{"project_id", "outcome"}),
		ChunksProduced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiver_chunks_produced_total",
			Help: "Chunks produced, by chunking strategy.",
		}, []string{"strategy"}),
		EmbeddingsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiver_embeddings_created_total",
			Help: "Dense vectors generated.",
		}),
		PointsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiver_points_upserted_total",
			Help: "Vector points written to the store.",
		}),
		PipelineErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiver_pipeline_errors_total",
			Help: "Pipeline stage errors.",
		}, []string{"stage"}),
		PipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quiver_pipeline_duration_seconds",
			Help:    "Wall time of one project ingestion.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 16),
		}, []string{"project_id"}),
		SearchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiver_searches_total",
			Help: "Hybrid searches executed, by detected intent.",
		}, []string{"intent"}),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quiver_search_duration_seconds",
			Help:    "Hybrid search latency.",
			Buckets: prometheus.DefBuckets,
		}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiver_tool_calls_total",
			Help: "JSON-RPC tool invocations.",
		}, []string{"tool"}),
		ToolCallErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiver_tool_call_errors_total",
			Help: "JSON-RPC tool invocations that returned an error.",
		}, []string{"tool"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quiver_active_sessions",
			Help: "Live HTTP transport sessions.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quiver_http_request_duration_seconds",
			Help:    "HTTP request latency by method and path.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}

	factory(m.DocumentsIngested)
	factory(m.ChunksProduced)
	factory(m.EmbeddingsCreated)
	factory(m.PointsUpserted)
	factory(m.PipelineErrors)
	factory(m.PipelineDuration)
	factory(m.SearchesTotal)
	factory(m.SearchDuration)
	factory(m.ToolCallsTotal)
	factory(m.ToolCallErrors)
	factory(m.ActiveSessions)
	factory(m.RequestDuration)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSearch records one completed search.
func (m *Metrics) ObserveSearch(intent string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SearchesTotal.WithLabelValues(intent).Inc()
	m.SearchDuration.Observe(elapsed.Seconds())
}

// ObserveToolCall records one JSON-RPC tool invocation.
func (m *Metrics) ObserveToolCall(tool string, err error) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool).Inc()
	if err != nil {
		m.ToolCallErrors.WithLabelValues(tool).Inc()
	}
}
