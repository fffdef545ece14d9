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
	"sort"
	"strings"
	"time"

	"github.com/quiverkb/quiver/pkg/models"
)

const (
	// facetTopValues bounds values kept per dimension.
	facetTopValues = 10
	// suggestionMinReduction is the minimum narrowing a refinement must
	// achieve to be suggested.
	suggestionMinReduction = 0.2
	// maxSuggestions bounds emitted refinement suggestions.
	maxSuggestions = 5
)

var facetDisplayNames = map[models.FacetType]string{
	models.FacetContentType:      "Content Type",
	models.FacetSourceType:       "Source",
	models.FacetFileType:         "File Type",
	models.FacetHasFeatures:      "Features",
	models.FacetHierarchyDepth:   "Depth",
	models.FacetReadTime:         "Read Time",
	models.FacetProject:          "Project",
	models.FacetRepository:       "Repository",
	models.FacetEntities:         "Entities",
	models.FacetEntityTypes:      "Entity Types",
	models.FacetTopics:           "Topics",
	models.FacetKeyPhrases:       "Key Phrases",
	models.FacetSectionType:      "Section Type",
	models.FacetAttachmentType:   "Attachment Type",
	models.FacetConversionMethod: "Conversion",
	models.FacetChunkingStrategy: "Chunking",
}

// Faceter generates facets and applies facet filters over result sets.
type Faceter struct {
	engine *Engine
}

// NewFaceter creates a faceter over the given engine.
func NewFaceter(engine *Engine) *Faceter {
	return &Faceter{engine: engine}
}

// facetValues extracts the values a result contributes to one dimension.
func facetValues(r *models.SearchResult, ft models.FacetType) []string {
	switch ft {
	case models.FacetContentType:
		return single(r.ContentType)
	case models.FacetSourceType:
		return single(r.SourceType)
	case models.FacetFileType:
		return single(r.FileType)
	case models.FacetHasFeatures:
		var out []string
		if r.HasCodeBlocks {
			out = append(out, "code")
		}
		if r.HasTables {
			out = append(out, "tables")
		}
		if r.HasImages {
			out = append(out, "images")
		}
		if r.HasLinks {
			out = append(out, "links")
		}
		if r.IsAttachment {
			out = append(out, "attachment")
		}
		return out
	case models.FacetHierarchyDepth:
		switch {
		case r.Depth <= 2:
			return []string{"shallow"}
		case r.Depth <= 4:
			return []string{"medium"}
		default:
			return []string{"deep"}
		}
	case models.FacetReadTime:
		switch {
		case r.EstimatedReadTime <= 2:
			return []string{"quick"}
		case r.EstimatedReadTime <= 10:
			return []string{"medium"}
		default:
			return []string{"long"}
		}
	case models.FacetProject:
		return single(r.ProjectID)
	case models.FacetRepository:
		return single(r.Repository)
	case models.FacetEntities:
		return r.Entities
	case models.FacetEntityTypes:
		return r.EntityTypes
	case models.FacetTopics:
		return r.Topics
	case models.FacetKeyPhrases:
		return r.KeyPhrases
	case models.FacetSectionType:
		return single(r.SectionType)
	case models.FacetAttachmentType:
		if r.IsAttachment {
			return single(fileExtension(r.AttachmentFilename))
		}
		return nil
	case models.FacetConversionMethod:
		return single(r.ConversionMethod)
	case models.FacetChunkingStrategy:
		return single(r.ChunkingStrategy)
	}
	return nil
}

func single(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}

func fileExtension(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 && i < len(name)-1 {
		return strings.ToLower(name[i+1:])
	}
	return ""
}

// Generate builds facets over every dimension, keeping the top values per
// dimension. Dimensions with no observed values are omitted.
func (f *Faceter) Generate(results []*models.SearchResult) []models.Facet {
	facets := make([]models.Facet, 0, len(models.AllFacetTypes))
	for _, ft := range models.AllFacetTypes {
		counts := make(map[string]int)
		for _, r := range results {
			for _, v := range facetValues(r, ft) {
				counts[v]++
			}
		}
		if len(counts) == 0 {
			continue
		}

		values := make([]models.FacetValue, 0, len(counts))
		for v, count := range counts {
			values = append(values, models.FacetValue{
				Value:       v,
				Count:       count,
				DisplayName: displayValue(v),
			})
		}
		sort.Slice(values, func(i, j int) bool {
			if values[i].Count != values[j].Count {
				return values[i].Count > values[j].Count
			}
			return values[i].Value < values[j].Value
		})
		if len(values) > facetTopValues {
			values = values[:facetTopValues]
		}

		facets = append(facets, models.Facet{
			Type:        ft,
			DisplayName: facetDisplayNames[ft],
			Values:      values,
		})
	}
	return facets
}

func displayValue(v string) string {
	v = strings.ReplaceAll(v, "_", " ")
	if v == "" {
		return v
	}
	return strings.ToUpper(v[:1]) + v[1:]
}

// matchesFilter reports whether a result satisfies one facet filter. Values
// within a dimension combine with the filter's operator (OR by default).
func matchesFilter(r *models.SearchResult, filter models.FacetFilter) bool {
	have := make(map[string]bool)
	for _, v := range facetValues(r, filter.Type) {
		have[v] = true
	}

	if filter.Operator == models.FilterAND {
		for _, want := range filter.Values {
			if !have[want] {
				return false
			}
		}
		return len(filter.Values) > 0
	}

	for _, want := range filter.Values {
		if have[want] {
			return true
		}
	}
	return false
}

// ApplyFilters narrows results: filters on different dimensions are ANDed.
func (f *Faceter) ApplyFilters(results []*models.SearchResult, filters []models.FacetFilter) []*models.SearchResult {
	if len(filters) == 0 {
		return results
	}
	out := make([]*models.SearchResult, 0, len(results))
	for _, r := range results {
		keep := true
		for _, filter := range filters {
			if !matchesFilter(r, filter) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, r)
		}
	}
	return out
}

// Suggest proposes refinements whose application would shrink the result set
// by at least 20%, sorted by largest reduction.
func (f *Faceter) Suggest(results []*models.SearchResult, facets []models.Facet) []models.RefinementSuggestion {
	total := len(results)
	if total == 0 {
		return nil
	}

	suggestions := make([]models.RefinementSuggestion, 0)
	for _, facet := range facets {
		for _, value := range facet.Values {
			filtered := value.Count
			if filtered >= total {
				continue
			}
			reduction := 1 - float64(filtered)/float64(total)
			if reduction < suggestionMinReduction {
				continue
			}
			suggestions = append(suggestions, models.RefinementSuggestion{
				Filter: models.FacetFilter{
					Type:     facet.Type,
					Values:   []string{value.Value},
					Operator: models.FilterOR,
				},
				DisplayName:   fmt.Sprintf("%s: %s", facet.DisplayName, value.DisplayName),
				CurrentCount:  total,
				FilteredCount: filtered,
				Reduction:     reduction,
			})
		}
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Reduction != suggestions[j].Reduction {
			return suggestions[i].Reduction > suggestions[j].Reduction
		}
		return suggestions[i].DisplayName < suggestions[j].DisplayName
	})
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	return suggestions
}

// SearchWithFacets runs a hybrid search over-fetched for facet generation,
// applies any filters, and returns results with facets and suggestions.
func (f *Faceter) SearchWithFacets(ctx context.Context, req *Request, filters []models.FacetFilter) (*models.FacetedSearchResult, error) {
	started := time.Now()
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	// Facets want a wider sample than the caller's page.
	fetch := limit * 2
	if fetch < 50 {
		fetch = 50
	}
	wide := *req
	wide.Limit = fetch

	results, err := f.engine.Search(ctx, &wide)
	if err != nil {
		return nil, err
	}

	facets := f.Generate(results)
	filtered := f.ApplyFilters(results, filters)
	suggestions := f.Suggest(filtered, f.Generate(filtered))

	final := filtered
	if len(final) > limit {
		final = final[:limit]
	}

	return &models.FacetedSearchResult{
		Results:          final,
		Facets:           facets,
		Suggestions:      suggestions,
		TotalResults:     len(results),
		FilteredCount:    len(filtered),
		AppliedFilters:   filters,
		GenerationTimeMS: time.Since(started).Milliseconds(),
	}, nil
}
