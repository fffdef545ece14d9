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

// Package nlp implements lightweight, deterministic text analysis: entity
// extraction, topic and key-phrase detection, and lexical similarity. It is
// purely lexical so ingestion and search behave identically across runs and
// machines.
package nlp

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Entity types produced by the analyzer.
const (
	EntityTypeURL     = "url"
	EntityTypeEmail   = "email"
	EntityTypeVersion = "version"
	EntityTypePath    = "path"
	EntityTypeAcronym = "acronym"
	EntityTypeProper  = "proper_noun"
	EntityTypeCode    = "code_identifier"
)

// Entity is a span of text recognized as a named thing.
type Entity struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

// Analysis is the result of analyzing one text.
type Analysis struct {
	Tokens        []string `json:"tokens"`
	Sentences     int      `json:"sentences"`
	Entities      []Entity `json:"entities"`
	Topics        []string `json:"topics"`
	KeyPhrases    []string `json:"key_phrases"`
	QuestionWords []string `json:"question_words"`
	IsQuestion    bool     `json:"is_question"`
	WordCount     int      `json:"word_count"`
}

// EntityTexts returns the distinct entity strings in first-seen order.
func (a *Analysis) EntityTexts() []string {
	seen := make(map[string]bool, len(a.Entities))
	out := make([]string, 0, len(a.Entities))
	for _, e := range a.Entities {
		if !seen[e.Text] {
			seen[e.Text] = true
			out = append(out, e.Text)
		}
	}
	return out
}

// EntityTypes returns the distinct entity types in first-seen order.
func (a *Analysis) EntityTypes() []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, e := range a.Entities {
		if !seen[e.Type] {
			seen[e.Type] = true
			out = append(out, e.Type)
		}
	}
	return out
}

var (
	reURL     = regexp.MustCompile(`https?://[^\s<>"']+`)
	reEmail   = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	reVersion = regexp.MustCompile(`\bv?\d+\.\d+(?:\.\d+)?(?:-[0-9A-Za-z.\-]+)?\b`)
	rePath    = regexp.MustCompile(`(?:^|\s)((?:/[\w.\-]+){2,}|(?:[\w.\-]+/){2,}[\w.\-]+)`)
	reAcronym = regexp.MustCompile(`\b[A-Z]{2,6}\b`)
	reProper  = regexp.MustCompile(`\b[A-Z][a-z]{2,}(?:\s+[A-Z][a-z]{2,})*\b`)
	reCode    = regexp.MustCompile(`\b[a-z]+(?:[A-Z][a-z0-9]+)+\b|\b\w+_\w+(?:_\w+)*\b`)

	questionWords = map[string]bool{
		"what": true, "how": true, "why": true, "when": true, "where": true,
		"which": true, "who": true, "whose": true, "can": true, "should": true,
		"does": true, "do": true, "is": true, "are": true,
	}
)

// Analyzer performs cached lexical analysis.
type Analyzer struct {
	cache *lru.Cache[string, *Analysis]
}

// NewAnalyzer creates an Analyzer whose results are memoized in an LRU of the
// given size.
func NewAnalyzer(cacheSize int) *Analyzer {
	if cacheSize <= 0 {
		cacheSize = 1000
	}
	cache, _ := lru.New[string, *Analysis](cacheSize)
	return &Analyzer{cache: cache}
}

// Analyze extracts tokens, entities, topics and key phrases from text.
func (a *Analyzer) Analyze(text string) *Analysis {
	if cached, ok := a.cache.Get(text); ok {
		return cached
	}

	tokens := Tokenize(text)
	analysis := &Analysis{
		Tokens:        tokens,
		Sentences:     countSentences(text),
		Entities:      extractEntities(text),
		Topics:        extractTopics(tokens),
		KeyPhrases:    extractKeyPhrases(tokens),
		QuestionWords: findQuestionWords(tokens),
		WordCount:     len(tokens),
	}
	analysis.IsQuestion = strings.Contains(text, "?") || len(analysis.QuestionWords) > 0

	a.cache.Add(text, analysis)
	return analysis
}

// Similarity returns Jaccard similarity over content tokens, in [0,1].
func (a *Analyzer) Similarity(x, y string) float64 {
	sx := contentTokenSet(Tokenize(x))
	sy := contentTokenSet(Tokenize(y))
	if len(sx) == 0 || len(sy) == 0 {
		return 0
	}
	intersection := 0
	for tok := range sx {
		if sy[tok] {
			intersection++
		}
	}
	union := len(sx) + len(sy) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Tokenize lowercases and splits on non-alphanumeric runes.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// ContentTokens filters stopwords and single-character tokens.
func ContentTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if len(tok) > 1 && !stopwords[tok] {
			out = append(out, tok)
		}
	}
	return out
}

func contentTokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range ContentTokens(tokens) {
		set[tok] = true
	}
	return set
}

func countSentences(text string) int {
	count := 0
	for _, r := range text {
		if r == '.' || r == '!' || r == '?' {
			count++
		}
	}
	if count == 0 && strings.TrimSpace(text) != "" {
		return 1
	}
	return count
}

func extractEntities(text string) []Entity {
	var entities []Entity
	seen := make(map[string]bool)
	add := func(matches []string, entityType string) {
		for _, m := range matches {
			m = strings.TrimSpace(m)
			key := entityType + "|" + m
			if m == "" || seen[key] {
				continue
			}
			seen[key] = true
			entities = append(entities, Entity{Text: m, Type: entityType})
		}
	}

	add(reURL.FindAllString(text, -1), EntityTypeURL)
	add(reEmail.FindAllString(text, -1), EntityTypeEmail)
	add(reVersion.FindAllString(text, -1), EntityTypeVersion)
	for _, groups := range rePath.FindAllStringSubmatch(text, -1) {
		add(groups[1:2], EntityTypePath)
	}
	add(reAcronym.FindAllString(text, -1), EntityTypeAcronym)
	add(reCode.FindAllString(text, -1), EntityTypeCode)

	// Proper nouns last: skip sentence-initial words already claimed as
	// acronyms or identifiers.
	for _, m := range reProper.FindAllString(text, -1) {
		key := EntityTypeProper + "|" + m
		if seen[EntityTypeAcronym+"|"+m] || seen[key] {
			continue
		}
		seen[key] = true
		entities = append(entities, Entity{Text: m, Type: EntityTypeProper})
	}
	return entities
}

// extractTopics returns the most frequent content tokens, most frequent
// first with alphabetical tie-breaks.
func extractTopics(tokens []string) []string {
	freq := make(map[string]int)
	for _, tok := range ContentTokens(tokens) {
		freq[tok]++
	}

	type tf struct {
		token string
		count int
	}
	ranked := make([]tf, 0, len(freq))
	for tok, count := range freq {
		if count >= 2 || len(freq) <= 5 {
			ranked = append(ranked, tf{tok, count})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].token < ranked[j].token
	})

	limit := 10
	if len(ranked) < limit {
		limit = len(ranked)
	}
	out := make([]string, 0, limit)
	for _, t := range ranked[:limit] {
		out = append(out, t.token)
	}
	return out
}

// extractKeyPhrases returns frequent adjacent content-token bigrams.
func extractKeyPhrases(tokens []string) []string {
	content := ContentTokens(tokens)
	if len(content) < 2 {
		return nil
	}

	freq := make(map[string]int)
	order := make([]string, 0)
	for i := 0; i+1 < len(content); i++ {
		phrase := content[i] + " " + content[i+1]
		if freq[phrase] == 0 {
			order = append(order, phrase)
		}
		freq[phrase]++
	}

	out := make([]string, 0, 5)
	for _, phrase := range order {
		if freq[phrase] >= 2 {
			out = append(out, phrase)
		}
		if len(out) == 5 {
			break
		}
	}
	// Short texts rarely repeat bigrams; fall back to the leading ones.
	if len(out) == 0 && len(order) > 0 {
		limit := 3
		if len(order) < limit {
			limit = len(order)
		}
		out = order[:limit]
	}
	return out
}

func findQuestionWords(tokens []string) []string {
	var out []string
	limit := len(tokens)
	if limit > 3 {
		limit = 3
	}
	for _, tok := range tokens[:limit] {
		if questionWords[tok] {
			out = append(out, tok)
		}
	}
	return out
}
