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
	"log/slog"
	"math"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quiverkb/quiver/pkg/models"
	"github.com/quiverkb/quiver/pkg/nlp"
)

const (
	// similarityThreshold is the floor for a semantic topic relation.
	similarityThreshold = 0.4
	// significantCooccurrence is the minimum co-occurrence count that
	// counts as a relation.
	significantCooccurrence = 2
	// defaultMaxLinks bounds generated chains.
	defaultMaxLinks = 5
)

// RelatedTopic is one topic related to a seed, with its relation provenance.
type RelatedTopic struct {
	Topic        string  `json:"topic"`
	Score        float64 `json:"score"`
	Relationship string  `json:"relationship_type"` // semantic | cooccurrence
}

// Chainer builds topic relationship maps from seed results and grows search
// chains over them.
type Chainer struct {
	engine   *Engine
	analyzer *nlp.Analyzer
	// simCache memoizes pairwise topic similarities under a canonical key.
	simCache *lru.Cache[string, float64]
}

// NewChainer creates a chainer sharing the engine's analyzer.
func NewChainer(engine *Engine, cacheSize int) *Chainer {
	if cacheSize <= 0 {
		cacheSize = 1000
	}
	cache, _ := lru.New[string, float64](cacheSize)
	return &Chainer{engine: engine, analyzer: engine.Analyzer(), simCache: cache}
}

// topicMap aggregates topic statistics over a seed result set.
type topicMap struct {
	docFrequency map[string]int
	cooccurrence map[string]map[string]int
	totalDocs    int
}

// buildTopicMap derives topic frequency and pairwise co-occurrence from the
// seed results' topic sets.
func buildTopicMap(seeds []*models.SearchResult) *topicMap {
	tm := &topicMap{
		docFrequency: make(map[string]int),
		cooccurrence: make(map[string]map[string]int),
		totalDocs:    len(seeds),
	}
	for _, r := range seeds {
		seen := make(map[string]bool, len(r.Topics))
		for _, t := range r.Topics {
			if seen[t] {
				continue
			}
			seen[t] = true
			tm.docFrequency[t]++
		}
		topics := make([]string, 0, len(seen))
		for t := range seen {
			topics = append(topics, t)
		}
		sort.Strings(topics)
		for i := 0; i < len(topics); i++ {
			for j := i + 1; j < len(topics); j++ {
				tm.record(topics[i], topics[j])
			}
		}
	}
	return tm
}

func (tm *topicMap) record(a, b string) {
	if tm.cooccurrence[a] == nil {
		tm.cooccurrence[a] = make(map[string]int)
	}
	if tm.cooccurrence[b] == nil {
		tm.cooccurrence[b] = make(map[string]int)
	}
	tm.cooccurrence[a][b]++
	tm.cooccurrence[b][a]++
}

// topics lists all observed topics sorted by document frequency descending,
// alphabetical on ties.
func (tm *topicMap) topics() []string {
	out := make([]string, 0, len(tm.docFrequency))
	for t := range tm.docFrequency {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if tm.docFrequency[out[i]] != tm.docFrequency[out[j]] {
			return tm.docFrequency[out[i]] > tm.docFrequency[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

// similarity returns the cached semantic similarity between two topics.
func (c *Chainer) similarity(a, b string) float64 {
	if a > b {
		a, b = b, a
	}
	key := a + "\x00" + b
	if v, ok := c.simCache.Get(key); ok {
		return v
	}
	v := c.analyzer.Similarity(a, b)
	c.simCache.Add(key, v)
	return v
}

// findRelatedTopics returns up to max topics related to seed, by semantic
// similarity and significant co-occurrence. Either signal can be disabled.
func (c *Chainer) findRelatedTopics(tm *topicMap, seed string, max int, semantic, cooccurrence bool) []RelatedTopic {
	if max <= 0 {
		max = defaultMaxLinks
	}

	best := make(map[string]RelatedTopic)
	consider := func(rt RelatedTopic) {
		if prior, ok := best[rt.Topic]; !ok || rt.Score > prior.Score {
			best[rt.Topic] = rt
		}
	}

	if semantic {
		for _, topic := range tm.topics() {
			if topic == seed {
				continue
			}
			sim := c.similarity(seed, topic)
			if sim < similarityThreshold {
				continue
			}
			// Topics seen in more documents are more useful links.
			dfFactor := 1 + float64(tm.docFrequency[topic])/float64(maxInt(tm.totalDocs, 1))
			if dfFactor > 1.2 {
				dfFactor = 1.2
			}
			consider(RelatedTopic{Topic: topic, Score: sim * dfFactor, Relationship: "semantic"})
		}
	}

	if cooccurrence {
		for topic, count := range tm.cooccurrence[seed] {
			if count < significantCooccurrence {
				continue
			}
			consider(RelatedTopic{Topic: topic, Score: pmiScore(tm, seed, topic, count), Relationship: "cooccurrence"})
		}
	}

	out := make([]RelatedTopic, 0, len(best))
	for _, rt := range best {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Topic < out[j].Topic
	})
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// pmiScore normalizes pointwise mutual information between two topics into
// [0,1].
func pmiScore(tm *topicMap, a, b string, joint int) float64 {
	n := float64(maxInt(tm.totalDocs, 1))
	pa := float64(tm.docFrequency[a]) / n
	pb := float64(tm.docFrequency[b]) / n
	pab := float64(joint) / n
	if pa == 0 || pb == 0 || pab == 0 {
		return 0
	}
	pmi := math.Log(pab / (pa * pb))
	// Normalized PMI lands in [-1,1]; clamp the negative half to 0.
	npmi := pmi / -math.Log(pab)
	if npmi < 0 {
		return 0
	}
	return npmi
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// GenerateChain seeds a topic map from a first search and grows a chain of
// derived queries following the strategy.
func (c *Chainer) GenerateChain(ctx context.Context, query string, strategy models.ChainStrategy, maxLinks int) (*models.TopicSearchChain, error) {
	started := time.Now()
	if maxLinks <= 0 {
		maxLinks = defaultMaxLinks
	}

	seeds, err := c.engine.Search(ctx, &Request{Query: query, Limit: 20})
	if err != nil {
		return nil, fmt.Errorf("seeding topic chain: %w", err)
	}
	tm := buildTopicMap(seeds)

	queryTopics := c.analyzer.Analyze(query).Topics
	links := c.growChain(tm, query, queryTopics, strategy, maxLinks)

	chain := &models.TopicSearchChain{
		OriginalQuery:    query,
		Strategy:         strategy,
		Links:            links,
		GenerationTimeMS: time.Since(started).Milliseconds(),
	}
	chain.CoherenceScore = c.coherence(chain)
	chain.DiscoveryPotential = c.discoveryPotential(chain)
	return chain, nil
}

// growChain produces links with strictly increasing positions, decaying
// relevance, and parent queries pointing at the preceding member.
func (c *Chainer) growChain(tm *topicMap, query string, queryTopics []string, strategy models.ChainStrategy, maxLinks int) []models.TopicChainLink {
	// Candidate frontier: topics related to the query's own topics, then to
	// every topic already chained.
	used := make(map[string]bool)
	for _, t := range queryTopics {
		used[t] = true
	}

	frontier := c.frontierFor(tm, queryTopics, used)
	links := make([]models.TopicChainLink, 0, maxLinks)
	parent := query
	relevance := 1.0

	for len(links) < maxLinks && len(frontier) > 0 {
		var pick RelatedTopic
		switch strategy {
		case models.ChainDepthFirst:
			// Always follow the strongest relation of the newest topic.
			pick = frontier[0]
		case models.ChainBreadthFirst:
			// Rotate across the widest set: take the least-explored branch.
			pick = frontier[len(links)%len(frontier)]
		case models.ChainRelevanceRanked:
			pick = frontier[0] // frontier is already score-ordered
		case models.ChainMixed:
			if len(links)%2 == 0 {
				pick = frontier[0]
			} else {
				pick = frontier[len(frontier)-1]
			}
		default:
			pick = frontier[0]
		}

		used[pick.Topic] = true
		relevance *= 0.85
		link := models.TopicChainLink{
			Query:           query + " " + pick.Topic,
			PrimaryTopic:    pick.Topic,
			ChainPosition:   len(links),
			RelevanceScore:  relevance,
			ExplorationType: explorationFor(strategy, len(links)),
			ParentQuery:     parent,
		}
		for _, rt := range c.findRelatedTopics(tm, pick.Topic, 3, true, true) {
			link.RelatedTopics = append(link.RelatedTopics, rt.Topic)
		}
		links = append(links, link)
		parent = link.Query

		if strategy == models.ChainDepthFirst || strategy == models.ChainMixed {
			// Re-seed the frontier from the topic just chained.
			frontier = c.frontierFor(tm, []string{pick.Topic}, used)
			if len(frontier) == 0 {
				frontier = c.frontierFor(tm, queryTopics, used)
			}
		} else {
			frontier = filterUsed(frontier, used)
		}
	}
	return links
}

// frontierFor collects related topics for the given seeds, excluding used
// ones, ordered by score.
func (c *Chainer) frontierFor(tm *topicMap, seeds []string, used map[string]bool) []RelatedTopic {
	best := make(map[string]RelatedTopic)
	for _, seed := range seeds {
		for _, rt := range c.findRelatedTopics(tm, seed, 10, true, true) {
			if used[rt.Topic] {
				continue
			}
			if prior, ok := best[rt.Topic]; !ok || rt.Score > prior.Score {
				best[rt.Topic] = rt
			}
		}
	}
	// When relations are sparse, fall back to the most frequent unused
	// topics so short corpora still chain.
	if len(best) == 0 {
		for _, topic := range tm.topics() {
			if used[topic] {
				continue
			}
			df := float64(tm.docFrequency[topic]) / float64(maxInt(tm.totalDocs, 1))
			best[topic] = RelatedTopic{Topic: topic, Score: df, Relationship: "frequency"}
			if len(best) >= 10 {
				break
			}
		}
	}

	out := make([]RelatedTopic, 0, len(best))
	for _, rt := range best {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Topic < out[j].Topic
	})
	return out
}

func filterUsed(frontier []RelatedTopic, used map[string]bool) []RelatedTopic {
	out := frontier[:0]
	for _, rt := range frontier {
		if !used[rt.Topic] {
			out = append(out, rt)
		}
	}
	return out
}

func explorationFor(strategy models.ChainStrategy, position int) models.ExplorationType {
	switch strategy {
	case models.ChainDepthFirst:
		return models.ExploreDeeper
	case models.ChainBreadthFirst:
		return models.ExploreBroader
	case models.ChainMixed:
		if position%2 == 0 {
			return models.ExploreRelated
		}
		return models.ExploreAlternative
	default:
		return models.ExploreRelated
	}
}

// coherence is the average Jaccard similarity of consecutive links' topic
// sets.
func (c *Chainer) coherence(chain *models.TopicSearchChain) float64 {
	if len(chain.Links) < 2 {
		return 1.0
	}
	sum := 0.0
	for i := 1; i < len(chain.Links); i++ {
		sum += jaccard(linkTopics(chain.Links[i-1]), linkTopics(chain.Links[i]))
	}
	return sum / float64(len(chain.Links)-1)
}

func linkTopics(link models.TopicChainLink) map[string]bool {
	set := make(map[string]bool, len(link.RelatedTopics)+1)
	set[link.PrimaryTopic] = true
	for _, t := range link.RelatedTopics {
		set[t] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if b[t] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// discoveryPotential mixes topic diversity (30%), average relevance (40%),
// exploration-type diversity (20%) and chain length (10%).
func (c *Chainer) discoveryPotential(chain *models.TopicSearchChain) float64 {
	if len(chain.Links) == 0 {
		return 0
	}

	topics := make(map[string]bool)
	explorations := make(map[models.ExplorationType]bool)
	relevanceSum := 0.0
	for _, link := range chain.Links {
		topics[link.PrimaryTopic] = true
		explorations[link.ExplorationType] = true
		relevanceSum += link.RelevanceScore
	}

	diversity := float64(len(topics)) / float64(len(chain.Links))
	avgRelevance := relevanceSum / float64(len(chain.Links))
	explorationDiversity := float64(len(explorations)) / 4.0
	lengthFactor := float64(len(chain.Links)) / float64(defaultMaxLinks)
	if lengthFactor > 1 {
		lengthFactor = 1
	}

	return 0.3*diversity + 0.4*avgRelevance + 0.2*explorationDiversity + 0.1*lengthFactor
}

// ExecuteChain runs the original query plus every link query. A failing link
// yields an empty result list rather than aborting the chain.
func (c *Chainer) ExecuteChain(ctx context.Context, chain *models.TopicSearchChain, resultsPerLink int, sourceTypes, projectIDs []string) (map[string][]*models.SearchResult, error) {
	if resultsPerLink <= 0 {
		resultsPerLink = DefaultLimit
	}

	out := make(map[string][]*models.SearchResult, len(chain.Links)+1)
	run := func(query string) {
		results, err := c.engine.Search(ctx, &Request{
			Query:       query,
			Limit:       resultsPerLink,
			SourceTypes: sourceTypes,
			ProjectIDs:  projectIDs,
		})
		if err != nil {
			slog.Warn("chain link search failed", "query", query, "error", err)
			out[query] = []*models.SearchResult{}
			return
		}
		out[query] = results
	}

	run(chain.OriginalQuery)
	for _, link := range chain.Links {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		run(link.Query)
	}
	return out, nil
}

// SearchWithChain generates a chain for the query and immediately executes
// it.
func (c *Chainer) SearchWithChain(ctx context.Context, query string, strategy models.ChainStrategy, maxLinks, resultsPerLink int, sourceTypes, projectIDs []string) (*models.TopicSearchChain, map[string][]*models.SearchResult, error) {
	chain, err := c.GenerateChain(ctx, query, strategy, maxLinks)
	if err != nil {
		return nil, nil, err
	}
	results, err := c.ExecuteChain(ctx, chain, resultsPerLink, sourceTypes, projectIDs)
	if err != nil {
		return chain, results, err
	}
	return chain, results, nil
}
