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

package nlp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeEntities(t *testing.T) {
	a := NewAnalyzer(10)
	analysis := a.Analyze("See https://example.com/docs and contact ops@example.com about API v2.1.0 in pkg/server/main.go")

	types := analysis.EntityTypes()
	assert.Contains(t, types, EntityTypeURL)
	assert.Contains(t, types, EntityTypeEmail)
	assert.Contains(t, types, EntityTypeVersion)
	assert.Contains(t, types, EntityTypeAcronym)

	texts := analysis.EntityTexts()
	assert.Contains(t, texts, "ops@example.com")
	assert.Contains(t, texts, "API")
}

func TestAnalyzeQuestionDetection(t *testing.T) {
	a := NewAnalyzer(10)

	q := a.Analyze("How do I configure authentication?")
	assert.True(t, q.IsQuestion)
	assert.Contains(t, q.QuestionWords, "how")

	s := a.Analyze("The service uses token authentication.")
	assert.False(t, s.IsQuestion)
}

func TestAnalyzeTopicsRankedByFrequency(t *testing.T) {
	a := NewAnalyzer(10)
	analysis := a.Analyze("database migration database migration database index schema")
	require.NotEmpty(t, analysis.Topics)
	assert.Equal(t, "database", analysis.Topics[0])
	assert.Equal(t, "migration", analysis.Topics[1])
}

func TestAnalyzeKeyPhrases(t *testing.T) {
	a := NewAnalyzer(10)
	analysis := a.Analyze("connection pool sizing matters; the connection pool must be tuned, and the connection pool monitored")
	assert.Contains(t, analysis.KeyPhrases, "connection pool")
}

func TestSimilarity(t *testing.T) {
	a := NewAnalyzer(10)

	same := a.Similarity("deploy the search service", "deploy the search service")
	assert.InDelta(t, 1.0, same, 1e-9)

	disjoint := a.Similarity("kubernetes networking", "chocolate cake recipe")
	assert.Equal(t, 0.0, disjoint)

	partial := a.Similarity("qdrant vector search", "vector search tuning")
	assert.Greater(t, partial, 0.0)
	assert.Less(t, partial, 1.0)

	assert.Equal(t, 0.0, a.Similarity("", "anything"))
}

func TestAnalyzeCached(t *testing.T) {
	a := NewAnalyzer(10)
	first := a.Analyze("cache me")
	second := a.Analyze("cache me")
	assert.Same(t, first, second)
}

func TestContentTokensFilterStopwords(t *testing.T) {
	tokens := ContentTokens(Tokenize("the quick brown fox is in the yard"))
	assert.Equal(t, []string{"quick", "brown", "fox", "yard"}, tokens)
}
