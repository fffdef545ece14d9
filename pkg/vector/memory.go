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
	"context"
	"fmt"
	"sync"

	"github.com/quiverkb/quiver/pkg/models"
)

// MemoryStore is an in-process Store used by tests and local development.
// Dense search is exact cosine similarity; keyword search reuses the same
// lexical scoring as the Qdrant scroll path.
type MemoryStore struct {
	mu         sync.RWMutex
	vectorSize int
	points     map[string]*models.VectorPoint
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{points: make(map[string]*models.VectorPoint)}
}

// EnsureCollection records the vector size; subsequent upserts are validated
// against it.
func (s *MemoryStore) EnsureCollection(ctx context.Context, vectorSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vectorSize != 0 && s.vectorSize != vectorSize {
		return fmt.Errorf("collection already exists with vector size %d, requested %d", s.vectorSize, vectorSize)
	}
	s.vectorSize = vectorSize
	return nil
}

// UpsertPoints inserts or replaces points. The whole batch is applied
// atomically under one lock.
func (s *MemoryStore) UpsertPoints(ctx context.Context, points []*models.VectorPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		if s.vectorSize != 0 && len(p.Vector) != s.vectorSize {
			return fmt.Errorf("point %s has vector size %d, collection expects %d", p.ID, len(p.Vector), s.vectorSize)
		}
	}
	for _, p := range points {
		s.points[p.ID] = p
	}
	return nil
}

// DeleteByDocumentID removes every point for the given documents.
func (s *MemoryStore) DeleteByDocumentID(ctx context.Context, documentIDs []string) error {
	if len(documentIDs) == 0 {
		return nil
	}
	ids := make(map[string]bool, len(documentIDs))
	for _, id := range documentIDs {
		ids[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for pointID, p := range s.points {
		if docID, _ := p.Payload[models.PayloadDocumentID].(string); ids[docID] {
			delete(s.points, pointID)
		}
	}
	return nil
}

// Search returns the top hits by cosine similarity.
func (s *MemoryStore) Search(ctx context.Context, vector []float32, limit int, filter *Filter) ([]*ScoredPoint, error) {
	if limit <= 0 {
		return []*ScoredPoint{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*ScoredPoint, 0, len(s.points))
	for id, p := range s.points {
		if !matchesFilter(p.Payload, filter) {
			continue
		}
		results = append(results, &ScoredPoint{
			ID:      id,
			Score:   CosineSimilarity(vector, p.Vector),
			Payload: clonePayload(p.Payload),
			Vector:  p.Vector,
		})
	}
	SortByScore(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// KeywordSearch scores stored content lexically against the terms.
func (s *MemoryStore) KeywordSearch(ctx context.Context, terms []string, limit int, filter *Filter) ([]*ScoredPoint, error) {
	if limit <= 0 || len(terms) == 0 {
		return []*ScoredPoint{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*ScoredPoint, 0)
	for id, p := range s.points {
		if !matchesFilter(p.Payload, filter) {
			continue
		}
		content, _ := p.Payload[models.PayloadContent].(string)
		score := ScoreTerms(content, terms)
		if score <= 0 {
			continue
		}
		results = append(results, &ScoredPoint{
			ID:      id,
			Score:   score,
			Payload: clonePayload(p.Payload),
			Vector:  p.Vector,
		})
	}
	SortByScore(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// CountByFilter returns the number of matching points.
func (s *MemoryStore) CountByFilter(ctx context.Context, filter *Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, p := range s.points {
		if matchesFilter(p.Payload, filter) {
			count++
		}
	}
	return count, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Len returns the number of stored points.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

func matchesFilter(payload map[string]any, filter *Filter) bool {
	if filter.IsEmpty() {
		return true
	}
	matchIn := func(key string, values []string) bool {
		if len(values) == 0 {
			return true
		}
		got, _ := payload[key].(string)
		for _, v := range values {
			if got == v {
				return true
			}
		}
		return false
	}
	return matchIn(models.PayloadProjectID, filter.ProjectIDs) &&
		matchIn(models.PayloadSourceType, filter.SourceTypes) &&
		matchIn(models.PayloadDocumentID, filter.DocumentIDs)
}

func clonePayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}

// Ensure both implementations satisfy Store.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*QdrantStore)(nil)
)
