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

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quiverkb/quiver"
	"github.com/quiverkb/quiver/pkg/embedder"
	"github.com/quiverkb/quiver/pkg/nlp"
	"github.com/quiverkb/quiver/pkg/observability"
	"github.com/quiverkb/quiver/pkg/search"
	"github.com/quiverkb/quiver/pkg/transport"
	"github.com/quiverkb/quiver/pkg/vector"
)

// ServeCmd starts the JSON-RPC server on the selected transport.
type ServeCmd struct {
	Transport string `help:"Transport to serve on." enum:"stdio,http" default:"stdio"`
	Host      string `help:"HTTP listen host." default:"127.0.0.1"`
	Port      int    `help:"HTTP listen port." default:"8080"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	tracer, err := observability.NewTracer(ctx, &cfg.Global.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if tracer != nil {
		defer func() { _ = tracer.Shutdown(context.Background()) }()
	}

	store, err := vector.NewQdrantStore(cfg.Global.Qdrant)
	if err != nil {
		return fmt.Errorf("failed to connect to vector store: %w", err)
	}
	defer store.Close()

	provider, err := embedder.NewOpenAIEmbedder(cfg.Global.Embedding)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer provider.Close()

	metrics := observability.NewMetrics()
	analyzer := nlp.NewAnalyzer(cfg.Global.Search.CacheSize)
	engine := search.NewEngine(cfg.Global.Search, store, provider, analyzer, metrics, tracer)
	handler := transport.NewHandler(
		engine,
		search.NewFaceter(engine),
		search.NewChainer(engine, cfg.Global.Search.CacheSize),
		search.NewCrossDoc(engine.Analyzer()),
		metrics,
		tracer,
		"quiver", quiver.FullVersion(),
	)

	switch c.Transport {
	case "http":
		server := transport.NewHTTPServer(handler, metrics, c.Host, c.Port)
		slog.Info("serving", "transport", "http", "addr", server.Addr())
		return server.Run(ctx)
	default:
		slog.Info("serving", "transport", "stdio")
		return transport.NewStdioServer(handler).Run(ctx)
	}
}
