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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverkb/quiver/pkg/models"
	"github.com/quiverkb/quiver/pkg/nlp"
)

func result(docID, sourceType, project string, topics, entities []string) *models.SearchResult {
	return &models.SearchResult{
		ChunkID:    docID + "-c0",
		DocumentID: docID,
		SourceType: sourceType,
		ProjectID:  project,
		Topics:     topics,
		Entities:   entities,
	}
}

func TestFacetGeneration(t *testing.T) {
	f := &Faceter{}
	results := []*models.SearchResult{
		{DocumentID: "a", SourceType: "git", HasCodeBlocks: true, EstimatedReadTime: 1, Topics: []string{"auth"}},
		{DocumentID: "b", SourceType: "git", HasTables: true, EstimatedReadTime: 5},
		{DocumentID: "c", SourceType: "confluence", EstimatedReadTime: 15},
	}

	facets := f.Generate(results)
	byType := map[models.FacetType]models.Facet{}
	for _, facet := range facets {
		byType[facet.Type] = facet
	}

	source := byType[models.FacetSourceType]
	require.Len(t, source.Values, 2)
	assert.Equal(t, "git", source.Values[0].Value)
	assert.Equal(t, 2, source.Values[0].Count)

	read := byType[models.FacetReadTime]
	counts := map[string]int{}
	for _, v := range read.Values {
		counts[v.Value] = v.Count
	}
	assert.Equal(t, 1, counts["quick"])
	assert.Equal(t, 1, counts["medium"])
	assert.Equal(t, 1, counts["long"])

	features := byType[models.FacetHasFeatures]
	values := map[string]bool{}
	for _, v := range features.Values {
		values[v.Value] = true
	}
	assert.True(t, values["code"])
	assert.True(t, values["tables"])
}

func TestFacetFiltersANDAcrossDimensions(t *testing.T) {
	f := &Faceter{}
	results := []*models.SearchResult{
		{DocumentID: "a", SourceType: "git", HasCodeBlocks: true},
		{DocumentID: "b", SourceType: "git"},
		{DocumentID: "c", SourceType: "confluence", HasCodeBlocks: true},
	}

	filtered := f.ApplyFilters(results, []models.FacetFilter{
		{Type: models.FacetSourceType, Values: []string{"git"}},
		{Type: models.FacetHasFeatures, Values: []string{"code"}},
	})
	require.Len(t, filtered, 1)
	assert.Equal(t, "a", filtered[0].DocumentID)
}

func TestFacetFilterORWithinDimension(t *testing.T) {
	f := &Faceter{}
	results := []*models.SearchResult{
		{DocumentID: "a", SourceType: "git"},
		{DocumentID: "b", SourceType: "jira"},
		{DocumentID: "c", SourceType: "confluence"},
	}

	filtered := f.ApplyFilters(results, []models.FacetFilter{
		{Type: models.FacetSourceType, Values: []string{"git", "jira"}},
	})
	assert.Len(t, filtered, 2)
}

func TestFacetSuggestions(t *testing.T) {
	f := &Faceter{}
	results := make([]*models.SearchResult, 0, 10)
	for i := 0; i < 8; i++ {
		results = append(results, &models.SearchResult{DocumentID: string(rune('a' + i)), SourceType: "git"})
	}
	results = append(results,
		&models.SearchResult{DocumentID: "x", SourceType: "confluence"},
		&models.SearchResult{DocumentID: "y", SourceType: "confluence"},
	)

	facets := f.Generate(results)
	suggestions := f.Suggest(results, facets)
	require.NotEmpty(t, suggestions)
	assert.LessOrEqual(t, len(suggestions), maxSuggestions)

	// Filtering to confluence removes 80% of results: the strongest cut.
	best := suggestions[0]
	assert.Equal(t, models.FacetSourceType, best.Filter.Type)
	assert.Equal(t, []string{"confluence"}, best.Filter.Values)
	assert.InDelta(t, 0.8, best.Reduction, 0.01)

	// Every suggestion must reduce the set by at least 20%.
	for _, s := range suggestions {
		assert.GreaterOrEqual(t, s.Reduction, 0.2)
	}
}

func seedChainEngine(t *testing.T) *Engine {
	engine, store, emb := newTestEngine(t)
	docs := []struct {
		id      string
		content string
		topics  []string
	}{
		{"doc-1", "authentication tokens and session management for the api gateway", []string{"authentication", "tokens", "gateway"}},
		{"doc-2", "authentication flows with oauth tokens and refresh handling", []string{"authentication", "tokens", "oauth"}},
		{"doc-3", "gateway routing and rate limiting for authenticated traffic", []string{"gateway", "routing", "authentication"}},
		{"doc-4", "oauth scopes and token introspection for service accounts", []string{"oauth", "tokens", "scopes"}},
	}
	for _, d := range docs {
		addPoint(t, store, emb, d.id+"-c0", d.id, d.content, map[string]any{"topics": d.topics})
	}
	return engine
}

func TestGenerateChainInvariants(t *testing.T) {
	engine := seedChainEngine(t)
	chainer := NewChainer(engine, 100)

	for _, strategy := range []models.ChainStrategy{
		models.ChainBreadthFirst, models.ChainDepthFirst,
		models.ChainRelevanceRanked, models.ChainMixed,
	} {
		chain, err := chainer.GenerateChain(context.Background(), "authentication tokens", strategy, 4)
		require.NoError(t, err, "strategy %s", strategy)
		require.NotEmpty(t, chain.Links, "strategy %s", strategy)
		assert.LessOrEqual(t, len(chain.Links), 4)

		parent := "authentication tokens"
		lastRelevance := 1.0
		for i, link := range chain.Links {
			assert.Equal(t, i, link.ChainPosition, "positions must increase from 0")
			assert.Less(t, link.RelevanceScore, lastRelevance, "relevance must decay")
			assert.Equal(t, parent, link.ParentQuery)
			parent = link.Query
			lastRelevance = link.RelevanceScore
		}
		assert.GreaterOrEqual(t, chain.DiscoveryPotential, 0.0)
		assert.LessOrEqual(t, chain.CoherenceScore, 1.0)
	}
}

func TestExecuteChain(t *testing.T) {
	engine := seedChainEngine(t)
	chainer := NewChainer(engine, 100)

	chain, err := chainer.GenerateChain(context.Background(), "authentication tokens", models.ChainBreadthFirst, 3)
	require.NoError(t, err)

	results, err := chainer.ExecuteChain(context.Background(), chain, 3, nil, nil)
	require.NoError(t, err)
	require.Contains(t, results, "authentication tokens")
	for _, link := range chain.Links {
		assert.Contains(t, results, link.Query)
	}
}

func TestTopicMapCooccurrence(t *testing.T) {
	seeds := []*models.SearchResult{
		result("a", "git", "p1", []string{"auth", "tokens"}, nil),
		result("b", "git", "p1", []string{"auth", "tokens"}, nil),
		result("c", "git", "p1", []string{"auth", "routing"}, nil),
	}
	tm := buildTopicMap(seeds)

	assert.Equal(t, 3, tm.docFrequency["auth"])
	assert.Equal(t, 2, tm.docFrequency["tokens"])
	assert.Equal(t, 2, tm.cooccurrence["auth"]["tokens"])
	assert.Equal(t, 1, tm.cooccurrence["auth"]["routing"])
}

func TestFindRelatedTopicsCooccurrence(t *testing.T) {
	seeds := []*models.SearchResult{
		result("a", "git", "p1", []string{"auth", "tokens"}, nil),
		result("b", "git", "p1", []string{"auth", "tokens"}, nil),
		result("c", "git", "p1", []string{"auth", "routing"}, nil),
		result("d", "git", "p1", []string{"billing", "invoices"}, nil),
	}
	tm := buildTopicMap(seeds)

	engine, _, _ := newTestEngine(t)
	chainer := NewChainer(engine, 100)

	related := chainer.findRelatedTopics(tm, "auth", 5, false, true)
	require.Len(t, related, 1) // routing co-occurs only once, below threshold
	assert.Equal(t, "tokens", related[0].Topic)
	assert.Equal(t, "cooccurrence", related[0].Relationship)
	assert.Greater(t, related[0].Score, 0.0)
	assert.LessOrEqual(t, related[0].Score, 1.0)
}

func TestCrossDocSimilarity(t *testing.T) {
	x := NewCrossDoc(nlp.NewAnalyzer(100))

	a := result("a", "git", "p1", []string{"auth", "tokens"}, []string{"OAuth", "JWT"})
	a.Content = "authentication with oauth tokens and jwt validation"
	b := result("b", "git", "p1", []string{"auth", "tokens"}, []string{"OAuth", "JWT"})
	b.Content = "authentication with oauth tokens and jwt validation"
	c := result("c", "jira", "p2", []string{"billing"}, []string{"Stripe"})
	c.Content = "billing provider integration and invoice exports"

	simAB := x.Similarity(a, b, nil)
	simAC := x.Similarity(a, c, nil)
	assert.Greater(t, simAB.Score, simAC.Score)
	assert.Len(t, simAB.MetricScores, len(models.AllSimilarityMetrics))
	assert.Equal(t, 1.0, simAB.MetricScores[models.MetricEntityOverlap])
	assert.Equal(t, 1.0, simAB.MetricScores[models.MetricTopicOverlap])
	assert.NotEmpty(t, simAB.Explanation)
}

func TestFindSimilarRanksAndBounds(t *testing.T) {
	x := NewCrossDoc(nlp.NewAnalyzer(100))
	target := result("t", "git", "p1", []string{"auth"}, []string{"OAuth"})
	target.Content = "auth guide"

	candidates := []*models.SearchResult{
		result("near", "git", "p1", []string{"auth"}, []string{"OAuth"}),
		result("far", "jira", "p2", []string{"billing"}, []string{"Stripe"}),
		result("t", "git", "p1", []string{"auth"}, []string{"OAuth"}), // self, skipped
	}
	candidates[0].Content = "auth guide"
	candidates[1].Content = "billing notes"

	similar := x.FindSimilar(target, candidates, nil, 5)
	require.Len(t, similar, 2)
	assert.Equal(t, "near", similar[0].DocumentB)
}

func TestDetectConflictsVersionMismatch(t *testing.T) {
	x := NewCrossDoc(nlp.NewAnalyzer(100))

	a := result("a", "git", "p1", []string{"deployment", "runtime"}, []string{"1.2"})
	a.Content = "deploy the runtime at version 1.2 for production"
	b := result("b", "confluence", "p1", []string{"deployment", "runtime"}, []string{"2.0"})
	b.Content = "deploy the runtime at version 2.0 for production"

	report := x.DetectConflicts(context.Background(), []*models.SearchResult{a, b}, nil, ConflictOptions{})
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, models.ConflictVersion, report.Conflicts[0].Category)
	assert.NotEmpty(t, report.Suggestions)
	assert.Equal(t, 1, report.PairsAnalyzed)
}

func TestDetectConflictsPolicyDivergence(t *testing.T) {
	x := NewCrossDoc(nlp.NewAnalyzer(100))

	a := result("a", "git", "p1", []string{"tls", "ingress"}, nil)
	a.Content = "external ingress must use tls termination"
	b := result("b", "confluence", "p1", []string{"tls", "ingress"}, nil)
	b.Content = "internal services must not use tls termination"

	report := x.DetectConflicts(context.Background(), []*models.SearchResult{a, b}, nil, ConflictOptions{})
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, models.ConflictPolicy, report.Conflicts[0].Category)
}

func TestDetectConflictsIgnoresUnrelated(t *testing.T) {
	x := NewCrossDoc(nlp.NewAnalyzer(100))

	a := result("a", "git", "p1", []string{"tls"}, nil)
	a.Content = "services must use tls"
	b := result("b", "jira", "p2", []string{"billing"}, nil)
	b.Content = "invoices must not be edited after export"

	report := x.DetectConflicts(context.Background(), []*models.SearchResult{a, b}, nil, ConflictOptions{})
	assert.Empty(t, report.Conflicts)
}

func TestDetectConflictsNeedsTwoDocuments(t *testing.T) {
	x := NewCrossDoc(nlp.NewAnalyzer(100))

	lone := result("a", "git", "p1", []string{"tls"}, nil)
	lone.Content = "services must use tls"

	for _, docs := range [][]*models.SearchResult{nil, {lone}} {
		report := x.DetectConflicts(context.Background(), docs, nil, ConflictOptions{})
		assert.Equal(t, "need at least 2 documents", report.Message)
		assert.Equal(t, 0, report.PairsAnalyzed)
		require.NotNil(t, report.Conflicts)
		assert.Empty(t, report.Conflicts)

		// The empty list serializes as [], never null.
		raw, err := json.Marshal(report)
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"conflicts":[]`)
	}
}

func TestFindComplementary(t *testing.T) {
	x := NewCrossDoc(nlp.NewAnalyzer(100))

	target := result("t", "git", "p1", []string{"auth", "tokens", "sessions"}, []string{"OAuth"})
	adjacent := result("adj", "confluence", "p1", []string{"auth", "audit", "compliance"}, []string{"OAuth"})
	unrelated := result("un", "jira", "p2", []string{"billing"}, []string{"Stripe"})

	recs := x.FindComplementary(target, []*models.SearchResult{adjacent, unrelated, target}, 5)
	require.Len(t, recs, 1)
	assert.Equal(t, "adj", recs[0].DocumentID)
	assert.NotEmpty(t, recs[0].Reasons)
}

func TestClusterProjectBased(t *testing.T) {
	x := NewCrossDoc(nlp.NewAnalyzer(100))
	docs := []*models.SearchResult{
		result("a1", "git", "alpha", []string{"auth"}, nil),
		result("a2", "git", "alpha", []string{"auth"}, nil),
		result("b1", "jira", "beta", []string{"billing"}, nil),
		result("b2", "jira", "beta", []string{"billing"}, nil),
	}

	res := x.Cluster(docs, models.ClusterProjectBased, 10, 2)
	assert.Equal(t, models.ClusterProjectBased, res.Strategy)
	require.Len(t, res.Clusters, 2)
	assert.Equal(t, 4, res.Clustered)
	assert.Equal(t, 0, res.Unclustered)
}

func TestClusterTopicBased(t *testing.T) {
	x := NewCrossDoc(nlp.NewAnalyzer(100))
	docs := []*models.SearchResult{
		result("a1", "git", "p1", []string{"auth", "tokens"}, nil),
		result("a2", "git", "p1", []string{"auth", "tokens"}, nil),
		result("b1", "git", "p1", []string{"billing", "invoices"}, nil),
		result("b2", "git", "p1", []string{"billing", "invoices"}, nil),
	}

	res := x.Cluster(docs, models.ClusterTopicBased, 10, 2)
	require.Len(t, res.Clusters, 2)
	for _, cluster := range res.Clusters {
		assert.Len(t, cluster.DocumentIDs, 2)
		assert.NotEmpty(t, cluster.CentroidTopics)
		assert.Greater(t, cluster.CoherenceScore, 0.5)
	}
}

func TestClusterTooFewDocuments(t *testing.T) {
	x := NewCrossDoc(nlp.NewAnalyzer(100))
	res := x.Cluster([]*models.SearchResult{result("only", "git", "p1", nil, nil)}, models.ClusterMixedFeatures, 10, 2)
	assert.Empty(t, res.Clusters)
	assert.Equal(t, 1, res.Unclustered)
	assert.NotEmpty(t, res.Message)
}

func TestAdaptiveStrategyPicksProject(t *testing.T) {
	x := NewCrossDoc(nlp.NewAnalyzer(100))
	docs := []*models.SearchResult{
		result("a", "git", "alpha", nil, nil),
		result("b", "git", "beta", nil, nil),
		result("c", "git", "gamma", nil, nil),
		result("d", "git", "delta", nil, nil),
	}
	res := x.Cluster(docs, models.ClusterAdaptive, 10, 2)
	assert.NotEqual(t, models.ClusterAdaptive, res.Strategy)
}

func TestAnalyzeRelationships(t *testing.T) {
	x := NewCrossDoc(nlp.NewAnalyzer(100))
	a := result("a", "git", "p1", []string{"auth", "tokens"}, []string{"OAuth"})
	a.Content = "authentication with oauth tokens"
	b := result("b", "git", "p1", []string{"auth", "tokens"}, []string{"OAuth"})
	b.Content = "authentication with oauth tokens"

	summary := x.AnalyzeRelationships(context.Background(), []*models.SearchResult{a, b})
	assert.Equal(t, 2, summary.DocumentCount)
	assert.Equal(t, 1, summary.SimilarPairs)
	require.NotEmpty(t, summary.NotablePairs)
	assert.Equal(t, "a", summary.NotablePairs[0].DocumentA)
}
