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
	"sort"

	"github.com/quiverkb/quiver/pkg/chunking"
	"github.com/quiverkb/quiver/pkg/embedder"
	"github.com/quiverkb/quiver/pkg/nlp"
	"github.com/quiverkb/quiver/pkg/observability"
	"github.com/quiverkb/quiver/pkg/pipeline"
	"github.com/quiverkb/quiver/pkg/state"
	"github.com/quiverkb/quiver/pkg/vector"
)

// IngestCmd runs the ingestion pipeline for one or more projects.
type IngestCmd struct {
	Project    []string `help:"Project to ingest (repeatable; default all configured projects)."`
	SourceType []string `name:"source-type" help:"Restrict to source types (git, confluence, jira, publicdocs, localfile)."`
	Force      bool     `help:"Re-ingest documents even when their content is unchanged."`
}

func (c *IngestCmd) Run(cli *CLI) error {
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

	stateDB, err := state.Open(cfg.Global.State)
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	defer stateDB.Close()

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
	chunker := chunking.NewService(cfg.Global.Chunking, nlp.NewAnalyzer(cfg.Global.Search.CacheSize))
	pipe := pipeline.New(cfg, chunker, provider, store, stateDB, metrics, tracer)

	results, err := pipe.Run(ctx, pipeline.Options{
		ProjectIDs:  c.Project,
		SourceTypes: c.SourceType,
		Force:       c.Force,
	})
	if err != nil {
		return err
	}

	projectIDs := make([]string, 0, len(results))
	for id := range results {
		projectIDs = append(projectIDs, id)
	}
	sort.Strings(projectIDs)

	failed := 0
	for _, id := range projectIDs {
		r := results[id]
		fmt.Printf("%s: %d chunks indexed, %d failed\n", id, r.SuccessCount, r.ErrorCount)
		for _, msg := range r.Errors {
			slog.Warn("ingestion error", "project", id, "error", msg)
		}
		failed += r.ErrorCount
	}
	if failed > 0 {
		return fmt.Errorf("ingestion finished with %d failed chunks", failed)
	}
	return nil
}
