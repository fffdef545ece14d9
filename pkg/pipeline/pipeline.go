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

// Package pipeline orchestrates ingestion: connectors fetch documents,
// change detection filters them, and three bounded worker stages chunk,
// embed, and upsert the survivors. Ingestion state advances per document
// only after the vector store acknowledges every chunk.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quiverkb/quiver/pkg/chunking"
	"github.com/quiverkb/quiver/pkg/config"
	"github.com/quiverkb/quiver/pkg/embedder"
	"github.com/quiverkb/quiver/pkg/models"
	"github.com/quiverkb/quiver/pkg/observability"
	"github.com/quiverkb/quiver/pkg/sources"
	"github.com/quiverkb/quiver/pkg/state"
	"github.com/quiverkb/quiver/pkg/vector"
)

// Options scope one ingestion run.
type Options struct {
	// ProjectIDs restricts the run; empty means all configured projects.
	ProjectIDs []string
	// SourceTypes restricts connectors; empty means all configured sources.
	SourceTypes []string
	// Force re-ingests documents whose fingerprints have not changed.
	Force bool
}

// Pipeline wires the ingestion components together.
type Pipeline struct {
	cfg       *config.Config
	chunker   *chunking.Service
	embedder  embedder.Provider
	store     vector.Store
	stateDB   *state.Store
	detector  *ChangeDetector
	converter *sources.Converter
	monitor   *ResourceMonitor
	metrics   *observability.Metrics
	tracer    *observability.Tracer
}

// New creates a pipeline. metrics must be non-nil; tracer may be nil.
func New(cfg *config.Config, chunker *chunking.Service, provider embedder.Provider, store vector.Store, stateDB *state.Store, metrics *observability.Metrics, tracer *observability.Tracer) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		chunker:   chunker,
		embedder:  provider,
		store:     store,
		stateDB:   stateDB,
		detector:  NewChangeDetector(stateDB),
		converter: sources.NewConverter(0, 0),
		monitor:   NewResourceMonitor(),
		metrics:   metrics,
		tracer:    tracer,
	}
}

// Run ingests the selected projects. Per-project failures are recorded in
// that project's Result; the run continues with remaining projects. A
// project that cannot even be set up (unknown ID, unknown source type)
// aborts the run with an error.
func (p *Pipeline) Run(ctx context.Context, opts Options) (map[string]*Result, error) {
	vectorSize, fellBack := p.cfg.Global.Embedding.ResolveVectorSize()
	if fellBack {
		slog.Warn("vector_size not configured, using default", "default", config.DefaultVectorSize)
	}
	if err := p.store.EnsureCollection(ctx, vectorSize); err != nil {
		return nil, fmt.Errorf("ensuring collection: %w", err)
	}

	projectIDs := opts.ProjectIDs
	if len(projectIDs) == 0 {
		projectIDs = p.cfg.ProjectIDs()
	}

	results := make(map[string]*Result, len(projectIDs))
	for _, projectID := range projectIDs {
		project, err := p.cfg.Project(projectID)
		if err != nil {
			return nil, err
		}
		result, err := p.runProject(ctx, project, opts)
		if err != nil {
			return nil, err
		}
		results[projectID] = result
	}
	return results, nil
}

func (p *Pipeline) runProject(ctx context.Context, project *config.ProjectConfig, opts Options) (*Result, error) {
	started := time.Now()
	ctx, span := p.tracer.StartIngestProject(ctx, project.ProjectID, opts.SourceTypes)
	defer span.End()

	connectors, err := sources.ForProject(project, opts.SourceTypes, p.converter)
	if err != nil {
		p.tracer.RecordError(span, err)
		return nil, err
	}

	total := newResult()
	for _, connector := range connectors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.runConnector(ctx, project, connector, opts, total); err != nil {
			// One broken source should not sink the whole project.
			slog.Error("source fetch failed",
				"project_id", project.ProjectID,
				"source_type", connector.Type(),
				"source", connector.Name(),
				"error", err)
			total.Errors = append(total.Errors, fmt.Sprintf("source %s/%s: %v", connector.Type(), connector.Name(), err))
		}
	}

	p.metrics.PipelineDuration.WithLabelValues(project.ProjectID).Observe(time.Since(started).Seconds())
	slog.Info("project ingestion finished",
		"project_id", project.ProjectID,
		"chunks_ok", total.SuccessCount,
		"chunks_failed", total.ErrorCount,
		"documents_ok", len(total.SuccessfullyProcessedDocuments),
		"elapsed", time.Since(started).Round(time.Millisecond))
	return total, nil
}

func (p *Pipeline) runConnector(ctx context.Context, project *config.ProjectConfig, connector sources.Connector, opts Options, total *Result) error {
	docs, err := connector.GetDocuments(ctx)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		doc.ProjectID = project.ProjectID
	}

	filter := state.SourceFilter{
		ProjectID:  project.ProjectID,
		SourceType: connector.Type(),
		Source:     connector.Name(),
	}
	changes, err := p.detector.Detect(ctx, docs, filter, opts.Force)
	if err != nil {
		return err
	}

	slog.Info("change detection",
		"project_id", project.ProjectID,
		"source", connector.Type()+"/"+connector.Name(),
		"new", len(changes.New),
		"updated", len(changes.Updated),
		"unchanged", len(changes.Unchanged),
		"deleted", len(changes.Deleted))

	if err := p.propagateDeletions(ctx, changes.Deleted); err != nil {
		return err
	}

	toProcess := changes.ToProcess()
	if len(toProcess) == 0 {
		return nil
	}

	// Updated documents may shrink to fewer chunks than the stored version;
	// removing the old point set first keeps no stale chunks behind.
	updatedIDs := make([]string, 0, len(changes.Updated))
	for _, doc := range changes.Updated {
		updatedIDs = append(updatedIDs, doc.ID)
	}
	if err := p.store.DeleteByDocumentID(ctx, updatedIDs); err != nil {
		return fmt.Errorf("clearing updated documents: %w", err)
	}

	result := p.processDocuments(ctx, toProcess)
	p.commitState(ctx, toProcess, result)
	mergeResults(total, result)

	for _, doc := range toProcess {
		outcome := "failed"
		if result.SuccessfullyProcessedDocuments[doc.ID] {
			outcome = "ok"
		}
		p.metrics.DocumentsIngested.WithLabelValues(project.ProjectID, outcome).Inc()
	}
	return nil
}

// propagateDeletions removes vanished documents from the vector store and
// the state database.
func (p *Pipeline) propagateDeletions(ctx context.Context, deleted []string) error {
	if len(deleted) == 0 {
		return nil
	}
	if err := p.store.DeleteByDocumentID(ctx, deleted); err != nil {
		return fmt.Errorf("deleting vanished documents: %w", err)
	}
	for _, id := range deleted {
		if err := p.stateDB.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// commitState advances ingestion state for fully-upserted documents.
func (p *Pipeline) commitState(ctx context.Context, docs []*models.Document, result *Result) {
	for _, doc := range docs {
		if !result.SuccessfullyProcessedDocuments[doc.ID] {
			continue
		}
		err := p.stateDB.Upsert(ctx, &state.IngestionState{
			DocumentID:     doc.ID,
			ProjectID:      doc.ProjectID,
			SourceType:     doc.SourceType,
			Source:         doc.Source,
			ContentHash:    doc.ContentHash(),
			LastIngestedAt: time.Now().UTC(),
			URL:            doc.URL,
			Title:          doc.Title,
		})
		if err != nil {
			slog.Error("failed to advance ingestion state", "document_id", doc.ID, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("state commit for %s: %v", doc.ID, err))
		}
	}
}

func mergeResults(total, part *Result) {
	total.SuccessCount += part.SuccessCount
	total.ErrorCount += part.ErrorCount
	total.Errors = append(total.Errors, part.Errors...)
	for id := range part.SuccessfullyProcessedDocuments {
		total.SuccessfullyProcessedDocuments[id] = true
	}
}
