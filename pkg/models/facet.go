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

package models

// FacetType enumerates the dimensions faceted search exposes over a result set.
type FacetType string

const (
	FacetContentType      FacetType = "content_type"
	FacetSourceType       FacetType = "source_type"
	FacetFileType         FacetType = "file_type"
	FacetHasFeatures      FacetType = "has_features"
	FacetHierarchyDepth   FacetType = "hierarchy_depth"
	FacetReadTime         FacetType = "read_time"
	FacetProject          FacetType = "project"
	FacetRepository       FacetType = "repository"
	FacetEntities         FacetType = "entities"
	FacetEntityTypes      FacetType = "entity_types"
	FacetTopics           FacetType = "topics"
	FacetKeyPhrases       FacetType = "key_phrases"
	FacetSectionType      FacetType = "section_type"
	FacetAttachmentType   FacetType = "attachment_type"
	FacetConversionMethod FacetType = "conversion_method"
	FacetChunkingStrategy FacetType = "chunking_strategy"
)

// AllFacetTypes lists every dimension in generation order.
var AllFacetTypes = []FacetType{
	FacetContentType, FacetSourceType, FacetFileType, FacetHasFeatures,
	FacetHierarchyDepth, FacetReadTime, FacetProject, FacetRepository,
	FacetEntities, FacetEntityTypes, FacetTopics, FacetKeyPhrases,
	FacetSectionType, FacetAttachmentType, FacetConversionMethod,
	FacetChunkingStrategy,
}

// FacetValue is one observed value within a facet dimension.
type FacetValue struct {
	Value       string `json:"value"`
	Count       int    `json:"count"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
}

// Facet is a named dimension over a result set.
type Facet struct {
	Type        FacetType    `json:"type"`
	DisplayName string       `json:"display_name"`
	Values      []FacetValue `json:"values"`
}

// FilterOperator combines selected values within one dimension.
type FilterOperator string

const (
	FilterOR  FilterOperator = "OR"
	FilterAND FilterOperator = "AND"
)

// FacetFilter selects values of one facet dimension. Filters on different
// dimensions are always ANDed together.
type FacetFilter struct {
	Type     FacetType      `json:"facet_type"`
	Values   []string       `json:"values"`
	Operator FilterOperator `json:"operator,omitempty"`
}

// RefinementSuggestion proposes a filter that would meaningfully narrow the
// current result set.
type RefinementSuggestion struct {
	Filter        FacetFilter `json:"filter"`
	DisplayName   string      `json:"display_name"`
	CurrentCount  int         `json:"current_count"`
	FilteredCount int         `json:"filtered_count"`
	Reduction     float64     `json:"reduction"` // fraction of results removed
}

// FacetedSearchResult bundles filtered results with their facets.
type FacetedSearchResult struct {
	Results          []*SearchResult        `json:"results"`
	Facets           []Facet                `json:"facets"`
	Suggestions      []RefinementSuggestion `json:"suggestions,omitempty"`
	TotalResults     int                    `json:"total_results"`
	FilteredCount    int                    `json:"filtered_count"`
	AppliedFilters   []FacetFilter          `json:"applied_filters,omitempty"`
	GenerationTimeMS int64                  `json:"generation_time_ms"`
}
