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

// Package search implements hybrid retrieval over the vector store: dense and
// sparse candidates fused with metadata-aware scoring, plus the discovery
// surfaces built on top of it (facets, topic chains, cross-document analysis).
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/quiverkb/quiver/pkg/config"
	"github.com/quiverkb/quiver/pkg/embedder"
	"github.com/quiverkb/quiver/pkg/models"
	"github.com/quiverkb/quiver/pkg/nlp"
	"github.com/quiverkb/quiver/pkg/observability"
	"github.com/quiverkb/quiver/pkg/vector"
)

// overFetchFactor widens dense and sparse retrieval beyond the requested
// limit so fusion has candidates to rerank.
const overFetchFactor = 3

// DefaultLimit applies when a request leaves limit unset.
const DefaultLimit = 5

// Request parameterizes one hybrid search call.
type Request struct {
	Query       string          `json:"query"`
	Limit       int             `json:"limit,omitempty"`
	SourceTypes []string        `json:"source_types,omitempty"`
	ProjectIDs  []string        `json:"project_ids,omitempty"`
	Session     *SessionContext `json:"session_context,omitempty"`
	History     []Intent        `json:"behavioral_history,omitempty"`
}

// Engine fuses dense, sparse and metadata signals into ranked results.
type Engine struct {
	cfg        config.SearchConfig
	store      vector.Store
	embedder   embedder.Provider
	analyzer   *nlp.Analyzer
	classifier *Classifier
	expander   *Expander
	metrics    *observability.Metrics
	tracer     *observability.Tracer
}

// NewEngine creates a hybrid search engine.
func NewEngine(cfg config.SearchConfig, store vector.Store, provider embedder.Provider, analyzer *nlp.Analyzer, metrics *observability.Metrics, tracer *observability.Tracer) *Engine {
	return &Engine{
		cfg:        cfg,
		store:      store,
		embedder:   provider,
		analyzer:   analyzer,
		classifier: NewClassifier(analyzer, cfg.CacheSize),
		expander:   NewExpander(analyzer),
		metrics:    metrics,
		tracer:     tracer,
	}
}

// Analyzer exposes the shared analyzer to the discovery surfaces.
func (e *Engine) Analyzer() *nlp.Analyzer { return e.analyzer }

// candidate accumulates per-signal scores during fusion.
type candidate struct {
	id      string
	payload map[string]any
	dense   float64
	sparse  float64
}

// Search runs the hybrid pipeline: classify, expand, retrieve dense and
// sparse, fuse, threshold, rank. Weight adaptation is call-local; engine
// configuration is never mutated.
func (e *Engine) Search(ctx context.Context, req *Request) ([]*models.SearchResult, error) {
	started := time.Now()
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	ctx, span := e.tracer.StartSearch(ctx, req.Query, limit)
	defer span.End()

	// Effective weights for this call only.
	vectorWeight := e.cfg.VectorWeight
	keywordWeight := e.cfg.KeywordWeight
	minScore := e.cfg.MinScore
	aggressiveness := 0.5
	intent := IntentGeneral

	if e.cfg.EnableIntent {
		classification := e.classifier.Classify(req.Query, req.Session, req.History)
		intent = classification.Intent
		adaptive := ConfigForIntent(intent)
		vectorWeight = adaptive.VectorWeight
		keywordWeight = adaptive.KeywordWeight
		minScore = adaptive.MinScore
		aggressiveness = adaptive.Aggressiveness
		slog.Debug("classified query intent",
			"intent", intent,
			"confidence", classification.Confidence,
			"secondary", len(classification.Secondary))
	}

	expansion := e.expander.Expand(req.Query, aggressiveness)

	overFetch := limit * overFetchFactor
	filter := &vector.Filter{ProjectIDs: req.ProjectIDs}

	queryVector, err := e.embedder.Embed(ctx, expansion.Expanded)
	if err != nil {
		e.tracer.RecordError(span, err)
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	dense, err := e.store.Search(ctx, queryVector, overFetch, filter)
	if err != nil {
		e.tracer.RecordError(span, err)
		return nil, fmt.Errorf("dense search: %w", err)
	}
	sparse, err := e.store.KeywordSearch(ctx, expansion.Terms, overFetch, filter)
	if err != nil {
		e.tracer.RecordError(span, err)
		return nil, fmt.Errorf("sparse search: %w", err)
	}

	results := e.fuse(dense, sparse, expansion, vectorWeight, keywordWeight, minScore, req.SourceTypes, limit)

	e.tracer.AddResultCount(span, len(results))
	e.metrics.ObserveSearch(string(intent), time.Since(started))
	return results, nil
}

// fuse combines the candidate sets into final ranked results.
func (e *Engine) fuse(dense, sparse []*vector.ScoredPoint, expansion *Expansion, vectorWeight, keywordWeight, minScore float64, sourceTypes []string, limit int) []*models.SearchResult {
	candidates := make(map[string]*candidate, len(dense)+len(sparse))
	get := func(p *vector.ScoredPoint) *candidate {
		c, ok := candidates[p.ID]
		if !ok {
			c = &candidate{id: p.ID, payload: p.Payload}
			candidates[p.ID] = c
		}
		return c
	}

	maxDense, maxSparse := 0.0, 0.0
	for _, p := range dense {
		get(p).dense = p.Score
		if p.Score > maxDense {
			maxDense = p.Score
		}
	}
	for _, p := range sparse {
		get(p).sparse = p.Score
		if p.Score > maxSparse {
			maxSparse = p.Score
		}
	}

	allowedSources := make(map[string]bool, len(sourceTypes))
	for _, st := range sourceTypes {
		allowedSources[st] = true
	}

	results := make([]*models.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		normDense := normalize(c.dense, maxDense)
		normSparse := normalize(c.sparse, maxSparse)
		boost := metadataBoost(expansion.Analysis, c.payload)
		final := vectorWeight*normDense + keywordWeight*normSparse + e.cfg.MetadataWeight*boost
		if final < minScore {
			continue
		}
		if len(allowedSources) > 0 {
			st, _ := c.payload[models.PayloadSourceType].(string)
			if !allowedSources[st] {
				continue
			}
		}

		r := models.FromPayload(c.id, final, c.payload)
		r.VectorScore = normDense
		r.KeywordScore = normSparse
		results = append(results, r)
	}

	// Deterministic ordering: score desc, dense desc, document_id asc.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].VectorScore != results[j].VectorScore {
			return results[i].VectorScore > results[j].VectorScore
		}
		return results[i].DocumentID < results[j].DocumentID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func normalize(score, max float64) float64 {
	if max <= 0 {
		return 0
	}
	v := score / max
	if v < 0 {
		return 0
	}
	return v
}

// metadataBoost scores how well a payload matches the query's detected
// content preferences and its extracted entities and topics. Returns [0,1].
func metadataBoost(analysis *nlp.Analysis, payload map[string]any) float64 {
	boost := 0.0

	tokens := make(map[string]bool, len(analysis.Tokens))
	for _, t := range analysis.Tokens {
		tokens[t] = true
	}

	// Content-type preference: queries naming code, tables, images or docs
	// favor chunks carrying those features.
	hasFlag := func(key string) bool {
		b, _ := payload[key].(bool)
		return b
	}
	if (tokens["code"] || tokens["function"] || tokens["snippet"] || tokens["example"]) && hasFlag("has_code_blocks") {
		boost += 0.3
	}
	if (tokens["table"] || tokens["comparison"] || tokens["matrix"]) && hasFlag("has_tables") {
		boost += 0.3
	}
	if (tokens["image"] || tokens["diagram"] || tokens["screenshot"]) && hasFlag("has_images") {
		boost += 0.3
	}
	if (tokens["documentation"] || tokens["guide"] || tokens["manual"]) && !hasFlag("has_code_blocks") {
		boost += 0.2
	}

	// Entity and topic overlap with the query.
	overlap := func(key string, values []string) float64 {
		if len(values) == 0 {
			return 0
		}
		stored := payloadStrings(payload[key])
		if len(stored) == 0 {
			return 0
		}
		storedSet := make(map[string]bool, len(stored))
		for _, s := range stored {
			storedSet[strings.ToLower(s)] = true
		}
		matched := 0
		for _, v := range values {
			if storedSet[strings.ToLower(v)] {
				matched++
			}
		}
		return float64(matched) / float64(len(values))
	}
	boost += 0.4 * overlap("entities", analysis.EntityTexts())
	boost += 0.3 * overlap("topics", analysis.Topics)

	if boost > 1 {
		boost = 1
	}
	return boost
}

func payloadStrings(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
