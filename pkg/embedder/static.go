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

package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// StaticEmbedder produces deterministic hashed bag-of-words vectors without
// any network dependency. It exists for tests and offline smoke runs; related
// texts still land near each other because shared tokens hash to shared
// buckets.
type StaticEmbedder struct {
	dimension int
}

// NewStaticEmbedder creates a static embedder of the given dimension.
func NewStaticEmbedder(dimension int) *StaticEmbedder {
	if dimension <= 0 {
		dimension = 64
	}
	return &StaticEmbedder{dimension: dimension}
}

// Embed produces the vector for one text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

// EmbedBatch produces vectors preserving input order.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *StaticEmbedder) vector(text string) []float32 {
	vec := make([]float32, e.dimension)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		bucket := int(h.Sum32()) % e.dimension
		if bucket < 0 {
			bucket += e.dimension
		}
		vec[bucket]++
	}

	// L2 normalize so cosine similarity behaves like the real provider.
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Dimension returns the vector dimension.
func (e *StaticEmbedder) Dimension() int { return e.dimension }

// Name identifies the provider.
func (e *StaticEmbedder) Name() string { return "static" }

// Close is a no-op.
func (e *StaticEmbedder) Close() error { return nil }

var _ Provider = (*StaticEmbedder)(nil)
