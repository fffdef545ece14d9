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

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quiverkb/quiver/pkg/nlp"
)

// Intent labels what a query is trying to accomplish.
type Intent string

const (
	IntentTechnicalLookup  Intent = "technical_lookup"
	IntentBusinessContext  Intent = "business_context"
	IntentVendorEvaluation Intent = "vendor_evaluation"
	IntentProcedural       Intent = "procedural"
	IntentInformational    Intent = "informational"
	IntentTroubleshooting  Intent = "troubleshooting"
	IntentExploratory      Intent = "exploratory"
	IntentGeneral          Intent = "general"
)

// fallbackConfidence is the floor below which classification falls back to
// general.
const fallbackConfidence = 0.3

// SessionContext carries caller-supplied hints about the querying session.
type SessionContext struct {
	Domain   string `json:"domain,omitempty"`
	UserRole string `json:"user_role,omitempty"`
	Urgency  string `json:"urgency,omitempty"`
}

// SecondaryIntent is a runner-up intent retained with its confidence.
type SecondaryIntent struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// Classification is the outcome of intent analysis for one query.
type Classification struct {
	Intent     Intent            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Secondary  []SecondaryIntent `json:"secondary_intents,omitempty"`
	IsQuestion bool              `json:"is_question"`
}

// intentSignature describes the lexical fingerprint of one intent category.
type intentSignature struct {
	keywords      []string
	phrases       []string // adjacent-token patterns, the POS stand-in
	entityTypes   []string
	questionWords []string
	indicators    []string
}

var intentSignatures = map[Intent]intentSignature{
	IntentTechnicalLookup: {
		keywords:      []string{"api", "function", "method", "class", "parameter", "endpoint", "schema", "interface", "config", "syntax", "signature", "library", "module"},
		phrases:       []string{"api reference", "function signature", "return type", "config option"},
		entityTypes:   []string{nlp.EntityTypeCode, nlp.EntityTypePath, nlp.EntityTypeVersion},
		questionWords: []string{"what", "which"},
		indicators:    []string{"reference", "definition", "spec"},
	},
	IntentBusinessContext: {
		keywords:      []string{"business", "requirement", "stakeholder", "roadmap", "strategy", "decision", "budget", "timeline", "scope", "objective"},
		phrases:       []string{"business case", "project scope", "success criteria"},
		entityTypes:   []string{nlp.EntityTypeProper},
		questionWords: []string{"why", "who"},
		indicators:    []string{"rationale", "context", "background"},
	},
	IntentVendorEvaluation: {
		keywords:      []string{"vendor", "pricing", "license", "comparison", "alternative", "versus", "cost", "support", "contract", "evaluation"},
		phrases:       []string{"compared to", "pros and cons", "pricing model"},
		entityTypes:   []string{nlp.EntityTypeProper, nlp.EntityTypeURL},
		questionWords: []string{"which", "should"},
		indicators:    []string{"compare", "evaluate", "recommend"},
	},
	IntentProcedural: {
		keywords:      []string{"install", "setup", "configure", "deploy", "upgrade", "migrate", "create", "build", "run", "enable", "steps", "guide"},
		phrases:       []string{"how to", "step by", "set up"},
		entityTypes:   []string{nlp.EntityTypePath, nlp.EntityTypeVersion},
		questionWords: []string{"how"},
		indicators:    []string{"tutorial", "walkthrough", "instructions"},
	},
	IntentInformational: {
		keywords:      []string{"overview", "introduction", "architecture", "concept", "explain", "definition", "meaning", "purpose", "difference"},
		phrases:       []string{"what is", "difference between", "overview of"},
		entityTypes:   []string{nlp.EntityTypeAcronym},
		questionWords: []string{"what", "when", "where"},
		indicators:    []string{"explain", "describe", "summary"},
	},
	IntentTroubleshooting: {
		keywords:      []string{"error", "failed", "failure", "broken", "crash", "timeout", "exception", "bug", "fix", "debug", "issue", "problem", "regression"},
		phrases:       []string{"not working", "error message", "fails with", "root cause"},
		entityTypes:   []string{nlp.EntityTypeCode, nlp.EntityTypePath},
		questionWords: []string{"why", "how"},
		indicators:    []string{"resolve", "workaround", "diagnose"},
	},
	IntentExploratory: {
		keywords:      []string{"related", "similar", "examples", "options", "ideas", "explore", "discover", "anything", "other"},
		phrases:       []string{"tell me", "show me", "more about"},
		entityTypes:   nil,
		questionWords: []string{"what"},
		indicators:    []string{"browse", "survey", "landscape"},
	},
}

// intentTransitions maps an intent to the intents that commonly follow it in a
// session. Matching successors get a behavioral boost.
var intentTransitions = map[Intent][]Intent{
	IntentInformational:    {IntentTechnicalLookup, IntentProcedural},
	IntentTechnicalLookup:  {IntentProcedural, IntentTroubleshooting},
	IntentProcedural:       {IntentTroubleshooting, IntentTechnicalLookup},
	IntentTroubleshooting:  {IntentTechnicalLookup, IntentProcedural},
	IntentBusinessContext:  {IntentVendorEvaluation, IntentInformational},
	IntentVendorEvaluation: {IntentBusinessContext, IntentTechnicalLookup},
	IntentExploratory:      {IntentInformational, IntentTechnicalLookup},
}

// AdaptiveConfig tunes retrieval per detected intent.
type AdaptiveConfig struct {
	VectorWeight   float64
	KeywordWeight  float64
	MinScore       float64
	MaxResults     int
	Aggressiveness float64 // query expansion, 0..1
	UseKnowledge   bool
}

var adaptiveConfigs = map[Intent]AdaptiveConfig{
	IntentTechnicalLookup:  {VectorWeight: 0.5, KeywordWeight: 0.4, MinScore: 0.35, MaxResults: 8, Aggressiveness: 0.3, UseKnowledge: true},
	IntentBusinessContext:  {VectorWeight: 0.7, KeywordWeight: 0.2, MinScore: 0.25, MaxResults: 10, Aggressiveness: 0.6, UseKnowledge: true},
	IntentVendorEvaluation: {VectorWeight: 0.65, KeywordWeight: 0.25, MinScore: 0.25, MaxResults: 12, Aggressiveness: 0.7, UseKnowledge: true},
	IntentProcedural:       {VectorWeight: 0.55, KeywordWeight: 0.35, MinScore: 0.3, MaxResults: 6, Aggressiveness: 0.4, UseKnowledge: false},
	IntentInformational:    {VectorWeight: 0.7, KeywordWeight: 0.2, MinScore: 0.3, MaxResults: 8, Aggressiveness: 0.5, UseKnowledge: false},
	IntentTroubleshooting:  {VectorWeight: 0.45, KeywordWeight: 0.45, MinScore: 0.35, MaxResults: 10, Aggressiveness: 0.4, UseKnowledge: true},
	IntentExploratory:      {VectorWeight: 0.75, KeywordWeight: 0.15, MinScore: 0.2, MaxResults: 15, Aggressiveness: 0.9, UseKnowledge: true},
	IntentGeneral:          {VectorWeight: 0.6, KeywordWeight: 0.3, MinScore: 0.3, MaxResults: 5, Aggressiveness: 0.5, UseKnowledge: false},
}

// ConfigForIntent returns the adaptive retrieval config for an intent.
func ConfigForIntent(intent Intent) AdaptiveConfig {
	if cfg, ok := adaptiveConfigs[intent]; ok {
		return cfg
	}
	return adaptiveConfigs[IntentGeneral]
}

// Classifier scores queries against intent signatures. Results are memoized;
// the cache key covers query, session context, and behavioral history.
type Classifier struct {
	analyzer *nlp.Analyzer
	cache    *lru.Cache[string, *Classification]
}

// NewClassifier creates a classifier backed by the shared analyzer.
func NewClassifier(analyzer *nlp.Analyzer, cacheSize int) *Classifier {
	if cacheSize <= 0 {
		cacheSize = 1000
	}
	cache, _ := lru.New[string, *Classification](cacheSize)
	return &Classifier{analyzer: analyzer, cache: cache}
}

// Classify determines the intent of query, optionally weighted by session
// context and the trail of previous intents.
func (c *Classifier) Classify(query string, session *SessionContext, history []Intent) *Classification {
	key := cacheKey(query, session, history)
	if cached, ok := c.cache.Get(key); ok {
		return cached
	}

	analysis := c.analyzer.Analyze(query)
	scores := make(map[Intent]float64, len(intentSignatures))
	for intent, sig := range intentSignatures {
		scores[intent] = scoreSignature(query, analysis, sig)
	}

	applyBehavioralBoost(scores, history)
	applySessionBoost(scores, session)

	result := rankScores(scores)
	result.IsQuestion = analysis.IsQuestion
	c.cache.Add(key, result)
	return result
}

// scoreSignature computes the weighted signal mix for one intent:
// keyword overlap 40%, phrase patterns 25%, entity types 20%, question words
// 10%, indicator bonus 5%.
func scoreSignature(query string, analysis *nlp.Analysis, sig intentSignature) float64 {
	tokens := make(map[string]bool, len(analysis.Tokens))
	for _, t := range analysis.Tokens {
		tokens[t] = true
	}
	lower := strings.ToLower(query)

	score := 0.0

	if len(sig.keywords) > 0 {
		matched := 0
		for _, kw := range sig.keywords {
			if tokens[kw] {
				matched++
			}
		}
		// Two keyword hits saturate the signal.
		overlap := float64(matched) / 2.0
		if overlap > 1 {
			overlap = 1
		}
		score += 0.40 * overlap
	}

	if len(sig.phrases) > 0 {
		matched := 0
		for _, p := range sig.phrases {
			if strings.Contains(lower, p) {
				matched++
			}
		}
		phraseScore := float64(matched)
		if phraseScore > 1 {
			phraseScore = 1
		}
		score += 0.25 * phraseScore
	}

	if len(sig.entityTypes) > 0 {
		found := make(map[string]bool)
		for _, t := range analysis.EntityTypes() {
			found[t] = true
		}
		matched := 0
		for _, et := range sig.entityTypes {
			if found[et] {
				matched++
			}
		}
		score += 0.20 * float64(matched) / float64(len(sig.entityTypes))
	}

	if len(sig.questionWords) > 0 {
		matched := false
		for _, qw := range analysis.QuestionWords {
			for _, want := range sig.questionWords {
				if qw == want {
					matched = true
				}
			}
		}
		if matched {
			score += 0.10
		}
	}

	for _, ind := range sig.indicators {
		if tokens[ind] {
			score += 0.05
			break
		}
	}

	if score > 1 {
		score = 1
	}
	return score
}

// applyBehavioralBoost boosts intents that commonly follow the most recent
// intent in the history.
func applyBehavioralBoost(scores map[Intent]float64, history []Intent) {
	if len(history) == 0 {
		return
	}
	last := history[len(history)-1]
	for _, successor := range intentTransitions[last] {
		scores[successor] *= 1.20
	}
}

// applySessionBoost nudges intents matching the session's domain, role and
// urgency. Boosts range +10% to +40%.
func applySessionBoost(scores map[Intent]float64, session *SessionContext) {
	if session == nil {
		return
	}

	switch strings.ToLower(session.Domain) {
	case "engineering", "technical", "development":
		scores[IntentTechnicalLookup] *= 1.20
		scores[IntentTroubleshooting] *= 1.10
	case "business", "product", "management":
		scores[IntentBusinessContext] *= 1.20
		scores[IntentVendorEvaluation] *= 1.10
	}

	switch strings.ToLower(session.UserRole) {
	case "developer", "engineer", "sre":
		scores[IntentTechnicalLookup] *= 1.10
		scores[IntentProcedural] *= 1.10
	case "manager", "analyst", "pm":
		scores[IntentBusinessContext] *= 1.10
	case "procurement", "buyer":
		scores[IntentVendorEvaluation] *= 1.40
	}

	if strings.EqualFold(session.Urgency, "high") || strings.EqualFold(session.Urgency, "critical") {
		scores[IntentTroubleshooting] *= 1.30
	}
}

// rankScores normalizes scores into confidences, picks the primary intent, and
// keeps up to three secondaries above 0.3x the primary score.
func rankScores(scores map[Intent]float64) *Classification {
	type scored struct {
		intent Intent
		score  float64
	}
	ranked := make([]scored, 0, len(scores))
	for intent, score := range scores {
		ranked = append(ranked, scored{intent, score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].intent < ranked[j].intent
	})

	top := ranked[0]
	confidence := top.score
	if confidence > 1 {
		confidence = 1
	}
	if confidence < fallbackConfidence {
		return &Classification{Intent: IntentGeneral, Confidence: confidence}
	}

	result := &Classification{Intent: top.intent, Confidence: confidence}
	for _, cand := range ranked[1:] {
		if cand.score < fallbackConfidence*top.score || cand.score <= 0 {
			break
		}
		conf := cand.score
		if conf > 1 {
			conf = 1
		}
		result.Secondary = append(result.Secondary, SecondaryIntent{Intent: cand.intent, Confidence: conf})
		if len(result.Secondary) == 3 {
			break
		}
	}
	return result
}

func cacheKey(query string, session *SessionContext, history []Intent) string {
	var b strings.Builder
	b.WriteString(query)
	if session != nil {
		fmt.Fprintf(&b, "|%s|%s|%s", session.Domain, session.UserRole, session.Urgency)
	}
	for _, h := range history {
		b.WriteString("|")
		b.WriteString(string(h))
	}
	return b.String()
}
