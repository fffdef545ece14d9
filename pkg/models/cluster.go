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

package models

// ClusterStrategy selects the feature set documents are clustered on.
type ClusterStrategy string

const (
	ClusterMixedFeatures ClusterStrategy = "mixed_features"
	ClusterSemantic      ClusterStrategy = "semantic_embedding"
	ClusterTopicBased    ClusterStrategy = "topic_based"
	ClusterEntityBased   ClusterStrategy = "entity_based"
	ClusterProjectBased  ClusterStrategy = "project_based"
	ClusterHierarchical  ClusterStrategy = "hierarchical"
	ClusterAdaptive      ClusterStrategy = "adaptive"
)

// DocumentCluster is a set of related documents with computed centroid topics.
type DocumentCluster struct {
	ID             string   `json:"id"`
	DocumentIDs    []string `json:"document_ids"`
	CentroidTopics []string `json:"centroid_topics,omitempty"`
	SharedEntities []string `json:"shared_entities,omitempty"`
	CoherenceScore float64  `json:"coherence_score"`
	Summary        string   `json:"summary"`
}

// ClusteringResult bundles clusters with run metadata.
type ClusteringResult struct {
	Clusters       []DocumentCluster `json:"clusters"`
	Strategy       ClusterStrategy   `json:"strategy"`
	TotalDocuments int               `json:"total_documents"`
	Clustered      int               `json:"clustered_documents"`
	Unclustered    int               `json:"unclustered_documents"`
	Message        string            `json:"message,omitempty"`
}

// SimilarityMetric names one pairwise document similarity signal.
type SimilarityMetric string

const (
	MetricEntityOverlap    SimilarityMetric = "entity_overlap"
	MetricTopicOverlap     SimilarityMetric = "topic_overlap"
	MetricSemantic         SimilarityMetric = "semantic_embedding"
	MetricMetadataAffinity SimilarityMetric = "metadata_affinity"
	MetricProjectSource    SimilarityMetric = "project_and_source_affinity"
	MetricHierarchy        SimilarityMetric = "hierarchy_affinity"
)

// AllSimilarityMetrics lists every metric in evaluation order.
var AllSimilarityMetrics = []SimilarityMetric{
	MetricEntityOverlap, MetricTopicOverlap, MetricSemantic,
	MetricMetadataAffinity, MetricProjectSource, MetricHierarchy,
}

// DocumentSimilarity is a scored document pair with per-metric breakdown.
type DocumentSimilarity struct {
	DocumentA    string                       `json:"document_a"`
	DocumentB    string                       `json:"document_b"`
	Score        float64                      `json:"score"`
	MetricScores map[SimilarityMetric]float64 `json:"metric_scores"`
	Explanation  string                       `json:"explanation"`
}

// ConflictCategory classifies a detected conflict between two documents.
type ConflictCategory string

const (
	ConflictContradiction ConflictCategory = "contradiction"
	ConflictVersion       ConflictCategory = "version_mismatch"
	ConflictPolicy        ConflictCategory = "policy_divergence"
	ConflictTemporal      ConflictCategory = "temporal_inconsistency"
)

// ConflictPair is one conflicting document pair.
type ConflictPair struct {
	DocumentA   string           `json:"document_a"`
	DocumentB   string           `json:"document_b"`
	Category    ConflictCategory `json:"category"`
	Confidence  float64          `json:"confidence"`
	Explanation string           `json:"explanation"`
	Evidence    []string         `json:"evidence,omitempty"`
}

// ConflictReport lists conflicts over an analyzed document set with resolution
// suggestions.
type ConflictReport struct {
	Conflicts     []ConflictPair `json:"conflicts"`
	Suggestions   []string       `json:"resolution_suggestions,omitempty"`
	PairsAnalyzed int            `json:"pairs_analyzed"`
	LLMPairsUsed  int            `json:"llm_pairs_used,omitempty"`
	Message       string         `json:"message,omitempty"`
	ElapsedMS     int64          `json:"elapsed_ms"`
}

// ComplementaryRecommendation suggests a document that fills gaps around the
// target document.
type ComplementaryRecommendation struct {
	DocumentID string   `json:"document_id"`
	Score      float64  `json:"score"`
	Reasons    []string `json:"reasons"`
}

// RelationshipSummary aggregates cross-document analysis counts.
type RelationshipSummary struct {
	DocumentCount      int                  `json:"document_count"`
	SimilarPairs       int                  `json:"similar_pairs"`
	ConflictCount      int                  `json:"conflict_count"`
	ComplementaryPairs int                  `json:"complementary_pairs"`
	ClusterCount       int                  `json:"cluster_count"`
	NotablePairs       []DocumentSimilarity `json:"notable_pairs,omitempty"`
}
