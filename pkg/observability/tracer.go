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

// Package observability provides tracing and metrics for the ingestion
// pipeline and search engine.
package observability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Span names.
const (
	SpanIngestProject = "quiver.ingest.project"
	SpanIngestChunk   = "quiver.ingest.chunk"
	SpanIngestEmbed   = "quiver.ingest.embed"
	SpanIngestUpsert  = "quiver.ingest.upsert"
	SpanSearch        = "quiver.search"
	SpanToolCall      = "quiver.tool.call"
)

// Attribute keys.
const (
	AttrProjectID   = "quiver.project_id"
	AttrSourceType  = "quiver.source_type"
	AttrStrategy    = "quiver.chunking_strategy"
	AttrQuery       = "quiver.query"
	AttrLimit       = "quiver.limit"
	AttrResultCount = "quiver.result_count"
	AttrToolName    = "quiver.tool_name"
	AttrBatchSize   = "quiver.batch_size"
)

// TracingConfig configures the optional OpenTelemetry tracer.
type TracingConfig struct {
	Enabled        bool              `yaml:"enabled,omitempty"`
	Exporter       string            `yaml:"exporter,omitempty"`
	Endpoint       string            `yaml:"endpoint,omitempty"`
	Insecure       bool              `yaml:"insecure,omitempty"`
	ServiceName    string            `yaml:"service_name,omitempty"`
	ServiceVersion string            `yaml:"service_version,omitempty"`
	SamplingRate   float64           `yaml:"sampling_rate,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"`
	TimeoutSeconds int               `yaml:"timeout_seconds,omitempty"`
}

// SetDefaults applies default values.
func (c *TracingConfig) SetDefaults() {
	if c.Exporter == "" {
		c.Exporter = "otlp"
	}
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4317"
	}
	if c.ServiceName == "" {
		c.ServiceName = "quiver"
	}
	if c.SamplingRate <= 0 || c.SamplingRate > 1 {
		c.SamplingRate = 1.0
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10
	}
}

// IsInsecure reports whether the OTLP connection should skip TLS. Localhost
// endpoints default to insecure.
func (c *TracingConfig) IsInsecure() bool {
	if c.Insecure {
		return true
	}
	return strings.HasPrefix(c.Endpoint, "localhost:") || strings.HasPrefix(c.Endpoint, "127.0.0.1:")
}

// Tracer wraps the OpenTelemetry tracer with pipeline and search helpers.
// A nil *Tracer is valid and produces no-op spans, so callers never have to
// branch on whether tracing is enabled.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer creates a Tracer from configuration. Returns (nil, nil) when
// tracing is disabled.
func NewTracer(ctx context.Context, cfg *TracingConfig) (*Tracer, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	cfg.SetDefaults()

	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(cfg.ServiceName),
	}, nil
}

func createExporter(ctx context.Context, cfg *TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp":
		return createOTLPExporter(ctx, cfg)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}
}

func createOTLPExporter(ctx context.Context, cfg *TracingConfig) (*otlptrace.Exporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second),
	}
	if cfg.IsInsecure() {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(ctx, opts...)
}

// Start begins a new span with the given name.
func (t *Tracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, noopSpan()
	}
	return t.tracer.Start(ctx, spanName, opts...)
}

// StartIngestProject begins a span for one project's pipeline run.
func (t *Tracer) StartIngestProject(ctx context.Context, projectID string, sourceTypes []string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanIngestProject,
		trace.WithAttributes(
			attribute.String(AttrProjectID, projectID),
			attribute.StringSlice("quiver.source_types", sourceTypes),
		),
	)
}

// StartChunk begins a span for chunking one document.
func (t *Tracer) StartChunk(ctx context.Context, strategy string, documentSize int) (context.Context, trace.Span) {
	return t.Start(ctx, SpanIngestChunk,
		trace.WithAttributes(
			attribute.String(AttrStrategy, strategy),
			attribute.Int("quiver.document_size", documentSize),
		),
	)
}

// StartEmbed begins a span for one embedding batch.
func (t *Tracer) StartEmbed(ctx context.Context, batchSize int) (context.Context, trace.Span) {
	return t.Start(ctx, SpanIngestEmbed,
		trace.WithAttributes(attribute.Int(AttrBatchSize, batchSize)),
	)
}

// StartUpsert begins a span for one vector-store write batch.
func (t *Tracer) StartUpsert(ctx context.Context, batchSize int) (context.Context, trace.Span) {
	return t.Start(ctx, SpanIngestUpsert,
		trace.WithAttributes(attribute.Int(AttrBatchSize, batchSize)),
	)
}

// StartSearch begins a span for one hybrid search.
func (t *Tracer) StartSearch(ctx context.Context, query string, limit int) (context.Context, trace.Span) {
	return t.Start(ctx, SpanSearch,
		trace.WithAttributes(
			attribute.String(AttrQuery, query),
			attribute.Int(AttrLimit, limit),
		),
	)
}

// StartToolCall begins a span for one JSON-RPC tool invocation.
func (t *Tracer) StartToolCall(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanToolCall,
		trace.WithAttributes(attribute.String(AttrToolName, toolName)),
	)
}

// AddResultCount records the number of results on a span.
func (t *Tracer) AddResultCount(span trace.Span, count int) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.Int(AttrResultCount, count))
}

// RecordError records an error on a span.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(attribute.String("error.message", err.Error()))
}

// Shutdown flushes and stops the tracer.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

func noopSpan() trace.Span {
	_, span := noop.NewTracerProvider().Tracer("noop").Start(context.Background(), "noop")
	return span
}
