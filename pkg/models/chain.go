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

// ChainStrategy selects how a topic search chain is grown from seed results.
type ChainStrategy string

const (
	ChainBreadthFirst    ChainStrategy = "breadth_first"
	ChainDepthFirst      ChainStrategy = "depth_first"
	ChainRelevanceRanked ChainStrategy = "relevance_ranked"
	ChainMixed           ChainStrategy = "mixed_exploration"
)

// ExplorationType labels how a chain link relates to its predecessor.
type ExplorationType string

const (
	ExploreRelated     ExplorationType = "related"
	ExploreDeeper      ExplorationType = "deeper"
	ExploreBroader     ExplorationType = "broader"
	ExploreAlternative ExplorationType = "alternative"
)

// TopicChainLink is one derived query in a topic search chain.
type TopicChainLink struct {
	Query           string          `json:"query"`
	PrimaryTopic    string          `json:"primary_topic"`
	RelatedTopics   []string        `json:"related_topics,omitempty"`
	ChainPosition   int             `json:"chain_position"`
	RelevanceScore  float64         `json:"relevance_score"`
	ExplorationType ExplorationType `json:"exploration_type"`
	ParentQuery     string          `json:"parent_query"`
}

// TopicSearchChain is an ordered list of derived queries that progressively
// explore topics related to the original query.
type TopicSearchChain struct {
	OriginalQuery      string           `json:"original_query"`
	Strategy           ChainStrategy    `json:"strategy"`
	Links              []TopicChainLink `json:"links"`
	CoherenceScore     float64          `json:"coherence_score"`
	DiscoveryPotential float64          `json:"discovery_potential"`
	GenerationTimeMS   int64            `json:"generation_time_ms"`
}
