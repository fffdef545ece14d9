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
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/quiverkb/quiver/pkg/models"
	"github.com/quiverkb/quiver/pkg/nlp"
)

const (
	// defaultMaxPairs bounds conflict-candidate enumeration.
	defaultMaxPairs = 100
	// defaultTextWindow is how much of each document body conflict
	// detection inspects.
	defaultTextWindow = 2000
	// notableSimilarity marks a pair worth surfacing in the relationship
	// summary.
	notableSimilarity = 0.5
)

// CrossDoc analyzes relationships across sets of search results.
type CrossDoc struct {
	analyzer *nlp.Analyzer
}

// NewCrossDoc creates an analyzer-backed cross-document service.
func NewCrossDoc(analyzer *nlp.Analyzer) *CrossDoc {
	return &CrossDoc{analyzer: analyzer}
}

// metricScore computes one similarity metric for a document pair, in [0,1].
func (x *CrossDoc) metricScore(metric models.SimilarityMetric, a, b *models.SearchResult) float64 {
	switch metric {
	case models.MetricEntityOverlap:
		return jaccard(stringSet(a.Entities), stringSet(b.Entities))
	case models.MetricTopicOverlap:
		return jaccard(stringSet(a.Topics), stringSet(b.Topics))
	case models.MetricSemantic:
		return x.analyzer.Similarity(a.Content, b.Content)
	case models.MetricMetadataAffinity:
		matches, total := 0, 4
		if a.ContentType == b.ContentType && a.ContentType != "" {
			matches++
		}
		if a.FileType == b.FileType && a.FileType != "" {
			matches++
		}
		if a.SectionType == b.SectionType && a.SectionType != "" {
			matches++
		}
		if a.ChunkingStrategy == b.ChunkingStrategy && a.ChunkingStrategy != "" {
			matches++
		}
		return float64(matches) / float64(total)
	case models.MetricProjectSource:
		score := 0.0
		if a.ProjectID == b.ProjectID && a.ProjectID != "" {
			score += 0.5
		}
		if a.SourceType == b.SourceType && a.SourceType != "" {
			score += 0.3
		}
		if a.Source == b.Source && a.Source != "" {
			score += 0.2
		}
		return score
	case models.MetricHierarchy:
		if a.Breadcrumb == "" || b.Breadcrumb == "" {
			return 0
		}
		ca := strings.Split(a.Breadcrumb, " > ")
		cb := strings.Split(b.Breadcrumb, " > ")
		shared := 0
		for i := 0; i < len(ca) && i < len(cb); i++ {
			if ca[i] != cb[i] {
				break
			}
			shared++
		}
		longest := len(ca)
		if len(cb) > longest {
			longest = len(cb)
		}
		return float64(shared) / float64(longest)
	}
	return 0
}

func stringSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = true
	}
	return set
}

// Similarity scores a pair using the enabled metrics; the combined score is
// their mean.
func (x *CrossDoc) Similarity(a, b *models.SearchResult, metrics []models.SimilarityMetric) *models.DocumentSimilarity {
	if len(metrics) == 0 {
		metrics = models.AllSimilarityMetrics
	}

	scores := make(map[models.SimilarityMetric]float64, len(metrics))
	sum := 0.0
	var bestMetric models.SimilarityMetric
	best := -1.0
	for _, m := range metrics {
		s := x.metricScore(m, a, b)
		scores[m] = s
		sum += s
		if s > best {
			best = s
			bestMetric = m
		}
	}

	combined := sum / float64(len(metrics))
	return &models.DocumentSimilarity{
		DocumentA:    a.DocumentID,
		DocumentB:    b.DocumentID,
		Score:        combined,
		MetricScores: scores,
		Explanation:  fmt.Sprintf("strongest signal: %s (%.2f)", bestMetric, best),
	}
}

// FindSimilar ranks candidates against the target and returns the top max
// with per-metric breakdowns.
func (x *CrossDoc) FindSimilar(target *models.SearchResult, candidates []*models.SearchResult, metrics []models.SimilarityMetric, max int) []*models.DocumentSimilarity {
	if max <= 0 {
		max = 5
	}
	out := make([]*models.DocumentSimilarity, 0, len(candidates))
	for _, cand := range candidates {
		if cand.DocumentID == target.DocumentID {
			continue
		}
		out = append(out, x.Similarity(target, cand, metrics))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DocumentB < out[j].DocumentB
	})
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// ConflictOptions bound conflict detection work.
type ConflictOptions struct {
	UseLLM          bool
	MaxLLMPairs     int
	Timeout         time.Duration
	MaxPairsTotal   int
	TextWindowChars int
}

func (o *ConflictOptions) defaults() {
	if o.MaxPairsTotal <= 0 {
		o.MaxPairsTotal = defaultMaxPairs
	}
	if o.TextWindowChars <= 0 {
		o.TextWindowChars = defaultTextWindow
	}
	if o.MaxLLMPairs <= 0 {
		o.MaxLLMPairs = 5
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
}

// ConflictJudge deepens heuristic conflict analysis on selected pairs. It is
// optional; a nil judge means lexical heuristics only.
type ConflictJudge interface {
	Judge(ctx context.Context, textA, textB string) (*models.ConflictPair, error)
}

// negationPairs are contradictory phrasing cues used by the lexical detector.
var negationPairs = [][2]string{
	{"should", "should not"},
	{"must", "must not"},
	{"enabled", "disabled"},
	{"allowed", "forbidden"},
	{"supported", "unsupported"},
	{"deprecated", "recommended"},
	{"always", "never"},
}

// DetectConflicts enumerates bounded candidate pairs, classifies conflicts
// heuristically, and optionally deepens the top pairs with the judge.
func (x *CrossDoc) DetectConflicts(ctx context.Context, docs []*models.SearchResult, judge ConflictJudge, opts ConflictOptions) *models.ConflictReport {
	started := time.Now()
	opts.defaults()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	// Conflicts serializes as [] rather than null even when nothing is found.
	report := &models.ConflictReport{Conflicts: []models.ConflictPair{}}
	if len(docs) < 2 {
		report.Message = "need at least 2 documents"
		report.ElapsedMS = time.Since(started).Milliseconds()
		return report
	}
	pairs := 0

outer:
	for i := 0; i < len(docs); i++ {
		for j := i + 1; j < len(docs); j++ {
			if ctx.Err() != nil {
				report.Message = "conflict analysis truncated by timeout"
				break outer
			}
			if pairs >= opts.MaxPairsTotal {
				report.Message = fmt.Sprintf("pair budget of %d reached", opts.MaxPairsTotal)
				break outer
			}
			pairs++

			if conflict := x.classifyConflict(docs[i], docs[j], opts.TextWindowChars); conflict != nil {
				report.Conflicts = append(report.Conflicts, *conflict)
			}
		}
	}
	report.PairsAnalyzed = pairs

	if judge != nil && opts.UseLLM {
		x.deepenConflicts(ctx, docs, judge, opts, report)
	}

	sort.Slice(report.Conflicts, func(i, j int) bool {
		if report.Conflicts[i].Confidence != report.Conflicts[j].Confidence {
			return report.Conflicts[i].Confidence > report.Conflicts[j].Confidence
		}
		return report.Conflicts[i].DocumentA < report.Conflicts[j].DocumentA
	})

	for _, conflict := range report.Conflicts {
		switch conflict.Category {
		case models.ConflictVersion:
			report.Suggestions = append(report.Suggestions,
				fmt.Sprintf("align version references between %s and %s", conflict.DocumentA, conflict.DocumentB))
		case models.ConflictTemporal:
			report.Suggestions = append(report.Suggestions,
				fmt.Sprintf("confirm which of %s and %s is current and archive the stale one", conflict.DocumentA, conflict.DocumentB))
		default:
			report.Suggestions = append(report.Suggestions,
				fmt.Sprintf("review %s and %s together and reconcile the guidance", conflict.DocumentA, conflict.DocumentB))
		}
	}

	report.ElapsedMS = time.Since(started).Milliseconds()
	return report
}

// classifyConflict applies the lexical heuristics to one pair. Returns nil
// when no conflict is evident.
func (x *CrossDoc) classifyConflict(a, b *models.SearchResult, window int) *models.ConflictPair {
	// Unrelated documents cannot meaningfully conflict.
	topicOverlap := jaccard(stringSet(a.Topics), stringSet(b.Topics))
	entityOverlap := jaccard(stringSet(a.Entities), stringSet(b.Entities))
	if topicOverlap < 0.2 && entityOverlap < 0.2 {
		return nil
	}

	textA := clip(strings.ToLower(a.Content), window)
	textB := clip(strings.ToLower(b.Content), window)

	// Version mismatch: shared subject, different version entities.
	versionsA := versionsOf(a)
	versionsB := versionsOf(b)
	if len(versionsA) > 0 && len(versionsB) > 0 && !intersects(versionsA, versionsB) {
		return &models.ConflictPair{
			DocumentA:   a.DocumentID,
			DocumentB:   b.DocumentID,
			Category:    models.ConflictVersion,
			Confidence:  0.6 + 0.2*topicOverlap,
			Explanation: "documents reference disjoint version sets for overlapping subjects",
			Evidence:    []string{strings.Join(versionsA, ", "), strings.Join(versionsB, ", ")},
		}
	}

	// Contradiction: opposite phrasing around shared topics.
	for _, pair := range negationPairs {
		posA := strings.Contains(textA, pair[0]) && !strings.Contains(textA, pair[1])
		negA := strings.Contains(textA, pair[1])
		posB := strings.Contains(textB, pair[0]) && !strings.Contains(textB, pair[1])
		negB := strings.Contains(textB, pair[1])
		if (posA && negB) || (negA && posB) {
			category := models.ConflictContradiction
			if strings.Contains(pair[0], "should") || strings.Contains(pair[0], "must") || pair[0] == "allowed" {
				category = models.ConflictPolicy
			}
			return &models.ConflictPair{
				DocumentA:   a.DocumentID,
				DocumentB:   b.DocumentID,
				Category:    category,
				Confidence:  0.4 + 0.3*topicOverlap,
				Explanation: fmt.Sprintf("opposite guidance: %q vs %q", pair[0], pair[1]),
				Evidence:    []string{pair[0], pair[1]},
			}
		}
	}

	// Temporal inconsistency: same subject, one marked outdated.
	staleWords := []string{"deprecated", "obsolete", "outdated", "legacy", "no longer"}
	staleA, staleB := containsAny(textA, staleWords), containsAny(textB, staleWords)
	if staleA != staleB && topicOverlap >= 0.3 {
		return &models.ConflictPair{
			DocumentA:   a.DocumentID,
			DocumentB:   b.DocumentID,
			Category:    models.ConflictTemporal,
			Confidence:  0.3 + 0.3*topicOverlap,
			Explanation: "one document marks shared subject matter as outdated",
		}
	}

	return nil
}

// deepenConflicts re-judges the top heuristic conflicts with the judge,
// bounded by pair budget and the surrounding timeout.
func (x *CrossDoc) deepenConflicts(ctx context.Context, docs []*models.SearchResult, judge ConflictJudge, opts ConflictOptions, report *models.ConflictReport) {
	byID := make(map[string]*models.SearchResult, len(docs))
	for _, d := range docs {
		byID[d.DocumentID] = d
	}

	judged := 0
	for i := range report.Conflicts {
		if judged >= opts.MaxLLMPairs || ctx.Err() != nil {
			break
		}
		conflict := &report.Conflicts[i]
		a, b := byID[conflict.DocumentA], byID[conflict.DocumentB]
		if a == nil || b == nil {
			continue
		}
		verdict, err := judge.Judge(ctx, clip(a.Content, opts.TextWindowChars), clip(b.Content, opts.TextWindowChars))
		if err != nil {
			continue
		}
		judged++
		if verdict != nil {
			conflict.Category = verdict.Category
			conflict.Confidence = verdict.Confidence
			conflict.Explanation = verdict.Explanation
			if len(verdict.Evidence) > 0 {
				conflict.Evidence = verdict.Evidence
			}
		}
	}
	report.LLMPairsUsed = judged
}

func versionsOf(r *models.SearchResult) []string {
	var out []string
	for _, e := range r.Entities {
		if looksLikeVersion(e) {
			out = append(out, e)
		}
	}
	return out
}

func looksLikeVersion(s string) bool {
	trimmed := strings.TrimPrefix(s, "v")
	dots := strings.Count(trimmed, ".")
	if dots < 1 || dots > 2 {
		return false
	}
	for _, part := range strings.Split(trimmed, ".") {
		if part == "" {
			return false
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}

func intersects(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		if set[v] {
			return true
		}
	}
	return false
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// FindComplementary recommends candidates that fill gaps around the target:
// related but covering different sections, adjacent topics, or shared
// entities in a different source.
func (x *CrossDoc) FindComplementary(target *models.SearchResult, candidates []*models.SearchResult, max int) []*models.ComplementaryRecommendation {
	if max <= 0 {
		max = 5
	}

	targetTopics := stringSet(target.Topics)
	targetEntities := stringSet(target.Entities)

	out := make([]*models.ComplementaryRecommendation, 0, len(candidates))
	for _, cand := range candidates {
		if cand.DocumentID == target.DocumentID {
			continue
		}

		score := 0.0
		var reasons []string

		topicOverlap := jaccard(targetTopics, stringSet(cand.Topics))
		// Complementary means adjacent, not identical: partial overlap
		// scores highest.
		if topicOverlap > 0.1 && topicOverlap < 0.7 {
			score += 0.4 * (1 - abs(topicOverlap-0.4)/0.4)
			reasons = append(reasons, "covers adjacent topics")
		}
		if entityOverlap := jaccard(targetEntities, stringSet(cand.Entities)); entityOverlap > 0.2 {
			score += 0.3 * entityOverlap
			reasons = append(reasons, "shares key entities")
		}
		if cand.SectionTitle != "" && cand.SectionTitle != target.SectionTitle && cand.DocumentID != target.DocumentID {
			if topicOverlap > 0.1 {
				score += 0.15
				reasons = append(reasons, "different section of related material")
			}
		}
		if cand.SourceType != target.SourceType && topicOverlap > 0.1 {
			score += 0.15
			reasons = append(reasons, "different source perspective")
		}

		if score <= 0 {
			continue
		}
		out = append(out, &models.ComplementaryRecommendation{
			DocumentID: cand.DocumentID,
			Score:      score,
			Reasons:    reasons,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	if len(out) > max {
		out = out[:max]
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// AnalyzeRelationships summarizes similarity, conflict and complementarity
// over a document set.
func (x *CrossDoc) AnalyzeRelationships(ctx context.Context, docs []*models.SearchResult) *models.RelationshipSummary {
	summary := &models.RelationshipSummary{DocumentCount: len(docs)}

	for i := 0; i < len(docs); i++ {
		for j := i + 1; j < len(docs); j++ {
			sim := x.Similarity(docs[i], docs[j], nil)
			if sim.Score >= notableSimilarity {
				summary.SimilarPairs++
				if len(summary.NotablePairs) < 10 {
					summary.NotablePairs = append(summary.NotablePairs, *sim)
				}
			}
		}
	}

	report := x.DetectConflicts(ctx, docs, nil, ConflictOptions{})
	summary.ConflictCount = len(report.Conflicts)

	for _, target := range docs {
		if len(x.FindComplementary(target, docs, 1)) > 0 {
			summary.ComplementaryPairs++
		}
	}

	clusters := x.Cluster(docs, models.ClusterMixedFeatures, 10, 2)
	summary.ClusterCount = len(clusters.Clusters)

	sort.Slice(summary.NotablePairs, func(i, j int) bool {
		return summary.NotablePairs[i].Score > summary.NotablePairs[j].Score
	})
	return summary
}
