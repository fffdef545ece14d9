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
	"strings"

	"github.com/quiverkb/quiver/pkg/nlp"
)

// domainExpansions is the dictionary fallback when analysis yields nothing
// useful for a term.
var domainExpansions = map[string][]string{
	"api":            {"interface", "endpoint", "service", "restful"},
	"database":       {"storage", "sql", "schema", "query"},
	"auth":           {"authentication", "authorization", "login", "token"},
	"deploy":         {"deployment", "release", "rollout", "ship"},
	"config":         {"configuration", "settings", "options", "parameters"},
	"error":          {"failure", "exception", "fault", "bug"},
	"test":           {"testing", "validation", "verification", "qa"},
	"doc":            {"documentation", "guide", "manual", "reference"},
	"search":         {"query", "lookup", "retrieval", "find"},
	"performance":    {"latency", "throughput", "speed", "optimization"},
	"security":       {"vulnerability", "encryption", "access", "hardening"},
	"infrastructure": {"platform", "hosting", "cluster", "provisioning"},
}

// Expander enriches queries with semantically related terms before retrieval.
type Expander struct {
	analyzer *nlp.Analyzer
}

// NewExpander creates an expander over the shared analyzer.
func NewExpander(analyzer *nlp.Analyzer) *Expander {
	return &Expander{analyzer: analyzer}
}

// Expansion is the outcome of expanding one query.
type Expansion struct {
	Original string
	Expanded string
	// Terms are the lexical tokens used for sparse retrieval: the original
	// content tokens plus the added ones.
	Terms []string
	// Added lists only the terms expansion introduced.
	Added []string
	// Analysis of the original query, reused by metadata boosting.
	Analysis *nlp.Analysis
}

// Expand adds related keywords and concepts to the query. aggressiveness in
// [0,1] widens the expansion: at >= 0.7 up to five keywords, four concepts and
// three entity surface forms are added instead of the default three and two.
func (e *Expander) Expand(query string, aggressiveness float64) *Expansion {
	analysis := e.analyzer.Analyze(query)
	content := nlp.ContentTokens(analysis.Tokens)

	maxKeywords, maxConcepts, maxEntities := 3, 2, 0
	if aggressiveness >= 0.7 {
		maxKeywords, maxConcepts, maxEntities = 5, 4, 3
	}

	seen := make(map[string]bool, len(content))
	for _, t := range content {
		seen[t] = true
	}
	var added []string
	add := func(term string, budget *int) {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" || seen[term] || *budget <= 0 {
			return
		}
		seen[term] = true
		added = append(added, term)
		*budget--
	}

	// Semantic keywords from the dictionary, driven by the query's tokens.
	kwBudget := maxKeywords
	for _, tok := range content {
		for _, exp := range domainExpansions[tok] {
			add(exp, &kwBudget)
		}
	}

	// Main concepts: the query's own dominant topics lifted to bigram level.
	conceptBudget := maxConcepts
	for _, phrase := range analysis.KeyPhrases {
		add(phrase, &conceptBudget)
	}
	for _, topic := range analysis.Topics {
		add(topic, &conceptBudget)
	}

	entityBudget := maxEntities
	for _, entity := range analysis.EntityTexts() {
		add(entity, &entityBudget)
	}

	terms := make([]string, 0, len(content)+len(added))
	terms = append(terms, content...)
	terms = append(terms, added...)

	expanded := query
	if len(added) > 0 {
		expanded = query + " " + strings.Join(added, " ")
	}
	return &Expansion{
		Original: query,
		Expanded: expanded,
		Terms:    terms,
		Added:    added,
		Analysis: analysis,
	}
}
