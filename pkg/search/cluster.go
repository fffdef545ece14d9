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
	"fmt"
	"sort"
	"strings"

	"github.com/quiverkb/quiver/pkg/models"
)

// clusterSimilarityFloor is the minimum pairwise similarity for two documents
// to share a cluster under greedy agglomeration.
const clusterSimilarityFloor = 0.35

// Cluster groups documents under the given strategy. The adaptive strategy
// inspects the document set's characteristics and picks the best fit.
func (x *CrossDoc) Cluster(docs []*models.SearchResult, strategy models.ClusterStrategy, maxClusters, minClusterSize int) *models.ClusteringResult {
	if maxClusters <= 0 {
		maxClusters = 10
	}
	if minClusterSize <= 0 {
		minClusterSize = 2
	}

	effective := strategy
	if strategy == models.ClusterAdaptive {
		effective = x.pickStrategy(docs)
	}

	result := &models.ClusteringResult{
		Strategy:       effective,
		TotalDocuments: len(docs),
	}
	if len(docs) < minClusterSize {
		result.Unclustered = len(docs)
		result.Message = "not enough documents to cluster"
		return result
	}

	var groups [][]*models.SearchResult
	switch effective {
	case models.ClusterProjectBased:
		groups = groupByKey(docs, func(r *models.SearchResult) string { return r.ProjectID })
	case models.ClusterHierarchical:
		groups = groupByKey(docs, func(r *models.SearchResult) string {
			crumbs := strings.Split(r.Breadcrumb, " > ")
			return crumbs[0]
		})
	default:
		groups = x.agglomerate(docs, x.pairScorer(effective), maxClusters)
	}

	clustered := 0
	for _, group := range groups {
		if len(group) < minClusterSize {
			continue
		}
		if len(result.Clusters) == maxClusters {
			break
		}
		cluster := x.describeCluster(fmt.Sprintf("cluster-%d", len(result.Clusters)+1), group, effective)
		result.Clusters = append(result.Clusters, *cluster)
		clustered += len(group)
	}
	result.Clustered = clustered
	result.Unclustered = len(docs) - clustered
	return result
}

// pairScorer returns the similarity function a feature strategy clusters on.
func (x *CrossDoc) pairScorer(strategy models.ClusterStrategy) func(a, b *models.SearchResult) float64 {
	switch strategy {
	case models.ClusterSemantic:
		return func(a, b *models.SearchResult) float64 {
			return x.analyzer.Similarity(a.Content, b.Content)
		}
	case models.ClusterTopicBased:
		return func(a, b *models.SearchResult) float64 {
			return jaccard(stringSet(a.Topics), stringSet(b.Topics))
		}
	case models.ClusterEntityBased:
		return func(a, b *models.SearchResult) float64 {
			return jaccard(stringSet(a.Entities), stringSet(b.Entities))
		}
	default: // mixed_features
		return func(a, b *models.SearchResult) float64 {
			return x.Similarity(a, b, nil).Score
		}
	}
}

// agglomerate greedily grows clusters: each document joins the first cluster
// whose seed it resembles, else starts a new one.
func (x *CrossDoc) agglomerate(docs []*models.SearchResult, score func(a, b *models.SearchResult) float64, maxClusters int) [][]*models.SearchResult {
	ordered := make([]*models.SearchResult, len(docs))
	copy(ordered, docs)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].DocumentID < ordered[j].DocumentID })

	var groups [][]*models.SearchResult
	for _, doc := range ordered {
		placed := false
		for gi, group := range groups {
			if score(group[0], doc) >= clusterSimilarityFloor {
				groups[gi] = append(group, doc)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []*models.SearchResult{doc})
		}
	}

	// Largest clusters first so the cap keeps the most informative ones.
	sort.Slice(groups, func(i, j int) bool {
		if len(groups[i]) != len(groups[j]) {
			return len(groups[i]) > len(groups[j])
		}
		return groups[i][0].DocumentID < groups[j][0].DocumentID
	})
	return groups
}

func groupByKey(docs []*models.SearchResult, key func(*models.SearchResult) string) [][]*models.SearchResult {
	byKey := make(map[string][]*models.SearchResult)
	for _, doc := range docs {
		k := key(doc)
		byKey[k] = append(byKey[k], doc)
	}
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	groups := make([][]*models.SearchResult, 0, len(keys))
	for _, k := range keys {
		groups = append(groups, byKey[k])
	}
	sort.Slice(groups, func(i, j int) bool {
		if len(groups[i]) != len(groups[j]) {
			return len(groups[i]) > len(groups[j])
		}
		return groups[i][0].DocumentID < groups[j][0].DocumentID
	})
	return groups
}

// describeCluster computes centroid topics, shared entities, coherence, and a
// short summary for one group.
func (x *CrossDoc) describeCluster(id string, group []*models.SearchResult, strategy models.ClusterStrategy) *models.DocumentCluster {
	topicCounts := make(map[string]int)
	entityCounts := make(map[string]int)
	ids := make([]string, 0, len(group))
	for _, doc := range group {
		ids = append(ids, doc.DocumentID)
		for _, t := range doc.Topics {
			topicCounts[strings.ToLower(t)]++
		}
		for _, e := range doc.Entities {
			entityCounts[strings.ToLower(e)]++
		}
	}

	centroid := topByCount(topicCounts, 5)
	shared := make([]string, 0)
	for _, e := range topByCount(entityCounts, 10) {
		if entityCounts[e] >= 2 || len(group) == 1 {
			shared = append(shared, e)
		}
	}
	if len(shared) > 5 {
		shared = shared[:5]
	}

	// Coherence: mean pairwise similarity under the cluster's own scorer.
	score := x.pairScorer(strategy)
	pairSum, pairCount := 0.0, 0
	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			pairSum += score(group[i], group[j])
			pairCount++
		}
	}
	coherence := 1.0
	if pairCount > 0 {
		coherence = pairSum / float64(pairCount)
	}

	summary := fmt.Sprintf("%d documents", len(group))
	if len(centroid) > 0 {
		summary += " about " + strings.Join(centroid, ", ")
	}

	return &models.DocumentCluster{
		ID:             id,
		DocumentIDs:    ids,
		CentroidTopics: centroid,
		SharedEntities: shared,
		CoherenceScore: coherence,
		Summary:        summary,
	}
}

func topByCount(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

// pickStrategy scores the document set's characteristics and selects the
// clustering strategy that fits them best.
func (x *CrossDoc) pickStrategy(docs []*models.SearchResult) models.ClusterStrategy {
	if len(docs) == 0 {
		return models.ClusterMixedFeatures
	}

	entitySum := 0
	projects := make(map[string]bool)
	sources := make(map[string]bool)
	sourceCounts := make(map[string]int)
	breadcrumbDepthSum := 0
	for _, doc := range docs {
		entitySum += len(doc.Entities)
		projects[doc.ProjectID] = true
		sources[doc.SourceType] = true
		sourceCounts[doc.SourceType]++
		if doc.Breadcrumb != "" {
			breadcrumbDepthSum += len(strings.Split(doc.Breadcrumb, " > "))
		}
	}

	n := float64(len(docs))
	entityRichness := clamp01(float64(entitySum) / n / 5.0)
	dominant := 0
	for _, count := range sourceCounts {
		if count > dominant {
			dominant = count
		}
	}
	topicClarity := float64(dominant) / n
	projectDistribution := clamp01(float64(len(projects)) / 3.0)
	hierarchicalStructure := clamp01(float64(breadcrumbDepthSum) / n / 3.0)
	sourceDiversity := clamp01(float64(len(sources)) / 3.0)

	scores := map[models.ClusterStrategy]float64{
		models.ClusterEntityBased:  entityRichness,
		models.ClusterTopicBased:   0.7*topicClarity + 0.3*sourceDiversity,
		models.ClusterProjectBased: projectDistribution,
		models.ClusterHierarchical: hierarchicalStructure,
		models.ClusterSemantic:     0.5 * (1 - topicClarity),
		// Mixed features is the safe default baseline.
		models.ClusterMixedFeatures: 0.45,
	}

	best := models.ClusterMixedFeatures
	bestScore := scores[best]
	ordered := []models.ClusterStrategy{
		models.ClusterEntityBased, models.ClusterTopicBased,
		models.ClusterProjectBased, models.ClusterHierarchical,
		models.ClusterSemantic,
	}
	for _, s := range ordered {
		if scores[s] > bestScore {
			best = s
			bestScore = scores[s]
		}
	}
	return best
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
