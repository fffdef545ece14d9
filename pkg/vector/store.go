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

// Package vector wraps the vector database behind a narrow Store interface:
// collection bootstrap with payload indexes, batched upserts, dense search
// with payload filters, keyword scroll for sparse retrieval, and
// delete-by-document.
package vector

import (
	"context"

	"github.com/quiverkb/quiver/pkg/models"
)

// ScoredPoint is one hit returned from the store.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload map[string]any
	Vector  []float32
}

// Filter is a conjunction of payload field conditions. Empty slices match
// everything.
type Filter struct {
	ProjectIDs  []string
	SourceTypes []string
	DocumentIDs []string
}

// IsEmpty reports whether the filter constrains nothing.
func (f *Filter) IsEmpty() bool {
	return f == nil || (len(f.ProjectIDs) == 0 && len(f.SourceTypes) == 0 && len(f.DocumentIDs) == 0)
}

// IndexedPayloadFields are the payload keys that get a payload index at
// collection-creation time.
var IndexedPayloadFields = []string{
	models.PayloadDocumentID,
	models.PayloadProjectID,
	models.PayloadSourceType,
	models.PayloadSource,
	models.PayloadTitle,
	models.PayloadCreatedAt,
	models.PayloadUpdatedAt,
	models.PayloadIsAttachment,
	models.PayloadParentDocumentID,
	models.PayloadOriginalFileType,
	models.PayloadIsConverted,
}

// Store is the set of operations the system issues against the vector
// database.
type Store interface {
	// EnsureCollection creates the collection (cosine distance, the given
	// dense vector size) if missing and creates the payload indexes.
	EnsureCollection(ctx context.Context, vectorSize int) error

	// UpsertPoints writes a batch of points. The batch is atomic with respect
	// to the client call; failures surface to the caller.
	UpsertPoints(ctx context.Context, points []*models.VectorPoint) error

	// DeleteByDocumentID removes every point whose payload document_id is in
	// the given set.
	DeleteByDocumentID(ctx context.Context, documentIDs []string) error

	// Search performs dense nearest-neighbor lookup.
	Search(ctx context.Context, vector []float32, limit int, filter *Filter) ([]*ScoredPoint, error)

	// KeywordSearch performs sparse lexical retrieval over payload text.
	KeywordSearch(ctx context.Context, terms []string, limit int, filter *Filter) ([]*ScoredPoint, error)

	// CountByFilter returns the number of stored points matching the filter.
	CountByFilter(ctx context.Context, filter *Filter) (int, error)

	Close() error
}

// SearchWithProjectFilter is a convenience for the common project-scoped
// dense search.
func SearchWithProjectFilter(ctx context.Context, s Store, vector []float32, projectIDs []string, limit int) ([]*ScoredPoint, error) {
	return s.Search(ctx, vector, limit, &Filter{ProjectIDs: projectIDs})
}
