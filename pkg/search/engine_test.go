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

package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverkb/quiver/pkg/config"
	"github.com/quiverkb/quiver/pkg/embedder"
	"github.com/quiverkb/quiver/pkg/models"
	"github.com/quiverkb/quiver/pkg/nlp"
	"github.com/quiverkb/quiver/pkg/observability"
	"github.com/quiverkb/quiver/pkg/vector"
)

const testDim = 32

func newTestEngine(t *testing.T) (*Engine, *vector.MemoryStore, *embedder.StaticEmbedder) {
	t.Helper()
	cfg := config.SearchConfig{}
	cfg.SetDefaults()

	store := vector.NewMemoryStore()
	require.NoError(t, store.EnsureCollection(context.Background(), testDim))

	emb := embedder.NewStaticEmbedder(testDim)
	engine := NewEngine(cfg, store, emb, nlp.NewAnalyzer(100), observability.NewMetrics(), nil)
	return engine, store, emb
}

func addPoint(t *testing.T, store *vector.MemoryStore, emb *embedder.StaticEmbedder, chunkID, docID, content string, extra map[string]any) {
	t.Helper()
	vec, err := emb.Embed(context.Background(), content)
	require.NoError(t, err)

	payload := map[string]any{
		models.PayloadDocumentID: docID,
		models.PayloadProjectID:  "p1",
		models.PayloadSourceType: "localfile",
		models.PayloadSource:     "files",
		models.PayloadTitle:      docID,
		models.PayloadContent:    content,
	}
	for k, v := range extra {
		payload[k] = v
	}
	require.NoError(t, store.UpsertPoints(context.Background(), []*models.VectorPoint{
		{ID: chunkID, Vector: vec, Payload: payload},
	}))
}

func TestSearchRanksRelevantFirst(t *testing.T) {
	engine, store, emb := newTestEngine(t)
	addPoint(t, store, emb, "c1", "doc-k8s", "kubernetes deployment guide for production clusters and rollout strategy", nil)
	addPoint(t, store, emb, "c2", "doc-pasta", "cooking pasta recipes with tomato sauce and fresh basil", nil)

	results, err := engine.Search(context.Background(), &Request{Query: "kubernetes deployment rollout"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "doc-k8s", results[0].DocumentID)

	// The unrelated document falls under the score floor.
	for _, r := range results {
		assert.NotEqual(t, "doc-pasta", r.DocumentID)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.Search(context.Background(), &Request{Query: "  "})
	require.Error(t, err)
}

func TestSearchSourceTypeFilter(t *testing.T) {
	engine, store, emb := newTestEngine(t)
	addPoint(t, store, emb, "c1", "doc-a", "vector database collection setup", map[string]any{models.PayloadSourceType: "git"})
	addPoint(t, store, emb, "c2", "doc-b", "vector database collection setup", map[string]any{models.PayloadSourceType: "jira"})

	results, err := engine.Search(context.Background(), &Request{
		Query:       "vector database setup",
		SourceTypes: []string{"git"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-a", results[0].DocumentID)
}

func TestSearchProjectFilter(t *testing.T) {
	engine, store, emb := newTestEngine(t)
	addPoint(t, store, emb, "c1", "doc-a", "ingestion pipeline worker stages", map[string]any{models.PayloadProjectID: "alpha"})
	addPoint(t, store, emb, "c2", "doc-b", "ingestion pipeline worker stages", map[string]any{models.PayloadProjectID: "beta"})

	results, err := engine.Search(context.Background(), &Request{
		Query:      "ingestion pipeline workers",
		ProjectIDs: []string{"beta"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-b", results[0].DocumentID)
}

func TestSearchTieBreakByDocumentID(t *testing.T) {
	engine, store, emb := newTestEngine(t)
	content := "observability tracing span attributes and exporters"
	addPoint(t, store, emb, "c-b", "doc-b", content, nil)
	addPoint(t, store, emb, "c-a", "doc-a", content, nil)

	results, err := engine.Search(context.Background(), &Request{Query: "tracing span exporters"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "doc-a", results[0].DocumentID)
	assert.Equal(t, "doc-b", results[1].DocumentID)
}

func TestSearchHonorsLimit(t *testing.T) {
	engine, store, emb := newTestEngine(t)
	for i := 0; i < 8; i++ {
		id := string(rune('a' + i))
		addPoint(t, store, emb, "c-"+id, "doc-"+id, "queue backpressure channel capacity tuning", nil)
	}

	results, err := engine.Search(context.Background(), &Request{Query: "queue backpressure tuning", Limit: 3})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestSearchMetadataBoostPrefersCode(t *testing.T) {
	engine, store, emb := newTestEngine(t)
	addPoint(t, store, emb, "c1", "doc-plain", "parser implementation notes and details", map[string]any{"has_code_blocks": false})
	addPoint(t, store, emb, "c2", "doc-code", "parser implementation notes and details", map[string]any{"has_code_blocks": true})

	results, err := engine.Search(context.Background(), &Request{Query: "parser implementation code example"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "doc-code", results[0].DocumentID)
}

func TestExpanderDictionaryFallback(t *testing.T) {
	e := NewExpander(nlp.NewAnalyzer(100))
	exp := e.Expand("api", 0.0)
	assert.Contains(t, exp.Added, "interface")
	assert.Contains(t, exp.Expanded, "interface")
	assert.LessOrEqual(t, countFromDictionary(exp.Added), 3)
}

func countFromDictionary(added []string) int {
	dict := map[string]bool{}
	for _, values := range domainExpansions {
		for _, v := range values {
			dict[v] = true
		}
	}
	n := 0
	for _, a := range added {
		if dict[a] {
			n++
		}
	}
	return n
}

func TestExpanderAggressiveWidens(t *testing.T) {
	e := NewExpander(nlp.NewAnalyzer(100))
	normal := e.Expand("api error config deploy", 0.0)
	aggressive := e.Expand("api error config deploy", 0.9)
	assert.Greater(t, len(aggressive.Added), len(normal.Added))
}

func TestExpanderKeepsOriginalTerms(t *testing.T) {
	e := NewExpander(nlp.NewAnalyzer(100))
	exp := e.Expand("kubernetes ingress controller", 0.0)
	assert.Contains(t, exp.Terms, "kubernetes")
	assert.Contains(t, exp.Terms, "ingress")
	assert.Contains(t, exp.Terms, "controller")
	assert.Equal(t, "kubernetes ingress controller", exp.Original)
}

func TestClassifierProcedural(t *testing.T) {
	c := NewClassifier(nlp.NewAnalyzer(100), 100)
	result := c.Classify("how to install and configure the server", nil, nil)
	assert.Equal(t, IntentProcedural, result.Intent)
	assert.GreaterOrEqual(t, result.Confidence, 0.3)
	assert.True(t, result.IsQuestion)
}

func TestClassifierTroubleshooting(t *testing.T) {
	c := NewClassifier(nlp.NewAnalyzer(100), 100)
	result := c.Classify("database connection error failed timeout", nil, nil)
	assert.Equal(t, IntentTroubleshooting, result.Intent)
}

func TestClassifierFallsBackToGeneral(t *testing.T) {
	c := NewClassifier(nlp.NewAnalyzer(100), 100)
	result := c.Classify("hello there my friend", nil, nil)
	assert.Equal(t, IntentGeneral, result.Intent)
	assert.Less(t, result.Confidence, 0.3)
}

func TestClassifierCaches(t *testing.T) {
	c := NewClassifier(nlp.NewAnalyzer(100), 100)
	first := c.Classify("how to install the agent", nil, nil)
	second := c.Classify("how to install the agent", nil, nil)
	assert.Same(t, first, second)

	// Different session context must not share a cache entry.
	third := c.Classify("how to install the agent", &SessionContext{Domain: "engineering"}, nil)
	assert.NotSame(t, first, third)
}

func TestClassifierSessionBoost(t *testing.T) {
	c := NewClassifier(nlp.NewAnalyzer(100), 100)

	// An ambiguous query that scores for both vendor evaluation and
	// business context.
	query := "vendor pricing and roadmap decision"
	neutral := c.Classify(query, nil, nil)
	procurement := c.Classify(query, &SessionContext{UserRole: "procurement"}, nil)
	assert.Equal(t, IntentVendorEvaluation, procurement.Intent)
	_ = neutral
}

func TestClassifierBehavioralBoost(t *testing.T) {
	c := NewClassifier(nlp.NewAnalyzer(100), 100)
	query := "setup steps for the collector"

	// After troubleshooting, procedural successors get boosted; the intent
	// should stay in the technical family either way.
	result := c.Classify(query, nil, []Intent{IntentTroubleshooting})
	assert.Contains(t, []Intent{IntentProcedural, IntentTechnicalLookup}, result.Intent)
}

func TestAdaptiveConfigMapping(t *testing.T) {
	cfg := ConfigForIntent(IntentExploratory)
	assert.Greater(t, cfg.Aggressiveness, 0.7)
	assert.Greater(t, cfg.MaxResults, DefaultLimit)

	unknown := ConfigForIntent(Intent("nonsense"))
	assert.Equal(t, adaptiveConfigs[IntentGeneral], unknown)
}

func TestSecondaryIntentsBounded(t *testing.T) {
	c := NewClassifier(nlp.NewAnalyzer(100), 100)
	result := c.Classify("how to fix the install error in the api config", nil, nil)
	assert.LessOrEqual(t, len(result.Secondary), 3)
	for _, s := range result.Secondary {
		assert.NotEqual(t, result.Intent, s.Intent)
	}
}
