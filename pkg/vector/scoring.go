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

package vector

import (
	"math"
	"sort"
	"strings"
)

// ScoreTerms computes a lexical relevance score in [0,1] for content against
// query terms: term-frequency with diminishing returns, weighted by the
// fraction of distinct terms present.
func ScoreTerms(content string, terms []string) float64 {
	if content == "" || len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)

	matched := 0
	var tfSum float64
	for _, term := range terms {
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" {
			continue
		}
		count := strings.Count(lower, t)
		if count > 0 {
			matched++
			// log dampening keeps a single repeated term from dominating
			tfSum += 1 + math.Log1p(float64(count-1))
		}
	}
	if matched == 0 {
		return 0
	}

	coverage := float64(matched) / float64(len(terms))
	tf := tfSum / float64(len(terms))
	score := coverage * (tf / (tf + 1)) * 2
	if score > 1 {
		score = 1
	}
	return score
}

// SortByScore sorts hits by score descending, breaking ties by ID ascending
// for determinism.
func SortByScore(points []*ScoredPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		if points[i].Score != points[j].Score {
			return points[i].Score > points[j].Score
		}
		return points[i].ID < points[j].ID
	})
}

// CosineSimilarity computes the cosine similarity of two equal-length vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
