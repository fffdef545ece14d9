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

import (
	"fmt"
	"strings"
)

// SearchResult is a single hit produced by the hybrid engine. Known payload
// fields are promoted to typed attributes; everything else stays in Extras so
// forward-compatible payloads survive round trips without reflection.
type SearchResult struct {
	ChunkID      string  `json:"chunk_id"`
	DocumentID   string  `json:"document_id"`
	Score        float64 `json:"score"`
	VectorScore  float64 `json:"vector_score"`
	KeywordScore float64 `json:"keyword_score"`

	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	SourceType  string `json:"source_type"`
	Source      string `json:"source"`
	SourceTitle string `json:"source_title"`
	URL         string `json:"url,omitempty"`
	ProjectID   string `json:"project_id"`

	// Linguistic payload mirrored from the chunk metadata.
	Entities    []string `json:"entities,omitempty"`
	EntityTypes []string `json:"entity_types,omitempty"`
	Topics      []string `json:"topics,omitempty"`
	KeyPhrases  []string `json:"key_phrases,omitempty"`

	// Structural payload.
	Breadcrumb   string `json:"breadcrumb,omitempty"`
	Depth        int    `json:"depth"`
	SectionTitle string `json:"section_title,omitempty"`
	SectionType  string `json:"section_type,omitempty"`

	HasCodeBlocks bool `json:"has_code_blocks"`
	HasTables     bool `json:"has_tables"`
	HasImages     bool `json:"has_images"`
	HasLinks      bool `json:"has_links"`

	WordCount         int    `json:"word_count"`
	EstimatedReadTime int    `json:"estimated_read_time"` // minutes
	MimeType          string `json:"mime_type,omitempty"`

	IsAttachment       bool   `json:"is_attachment"`
	AttachmentFilename string `json:"attachment_filename,omitempty"`
	ParentDocumentID   string `json:"parent_document_id,omitempty"`

	IsConverted      bool   `json:"is_converted"`
	ConversionMethod string `json:"conversion_method,omitempty"`
	OriginalFileType string `json:"original_file_type,omitempty"`

	ChunkingStrategy string `json:"chunking_strategy,omitempty"`
	FileType         string `json:"file_type,omitempty"`
	Repository       string `json:"repository,omitempty"`

	// Extras holds payload fields the typed model does not know about.
	Extras map[string]any `json:"extras,omitempty"`
}

// DisplayTitle computes a short human-facing title from the title, breadcrumb,
// and section information. Attachments surface the filename alongside the
// parent title.
func (r *SearchResult) DisplayTitle() string {
	title := strings.TrimSpace(r.SourceTitle)

	if r.IsAttachment && r.AttachmentFilename != "" {
		if title != "" {
			return fmt.Sprintf("%s (attached to %s)", r.AttachmentFilename, title)
		}
		return r.AttachmentFilename
	}

	if title == "" {
		title = "Untitled"
	}

	if r.Breadcrumb != "" {
		crumbs := strings.Split(r.Breadcrumb, " > ")
		// Keep the trail short: at most the last two ancestors.
		if len(crumbs) > 2 {
			crumbs = crumbs[len(crumbs)-2:]
		}
		trail := strings.Join(crumbs, " > ")
		if trail != "" && trail != title {
			return fmt.Sprintf("%s > %s", trail, title)
		}
	}

	if r.SectionTitle != "" && r.SectionTitle != title {
		return fmt.Sprintf("%s § %s", title, r.SectionTitle)
	}

	return title
}

// FromPayload hydrates a SearchResult from a vector point payload.
func FromPayload(chunkID string, score float64, payload map[string]any) *SearchResult {
	r := &SearchResult{
		ChunkID: chunkID,
		Score:   score,
		Extras:  make(map[string]any),
	}

	for key, value := range payload {
		switch key {
		case PayloadDocumentID:
			r.DocumentID = asString(value)
		case PayloadProjectID:
			r.ProjectID = asString(value)
		case PayloadSourceType:
			r.SourceType = asString(value)
		case PayloadSource:
			r.Source = asString(value)
		case PayloadTitle:
			r.SourceTitle = asString(value)
		case PayloadContent:
			r.Content = asString(value)
		case PayloadContentType:
			r.ContentType = asString(value)
		case PayloadURL:
			r.URL = asString(value)
		case "entities":
			r.Entities = asStringSlice(value)
		case "entity_types":
			r.EntityTypes = asStringSlice(value)
		case "topics":
			r.Topics = asStringSlice(value)
		case "key_phrases":
			r.KeyPhrases = asStringSlice(value)
		case "breadcrumb":
			r.Breadcrumb = asString(value)
		case "depth":
			r.Depth = asInt(value)
		case "section_title":
			r.SectionTitle = asString(value)
		case "section_type":
			r.SectionType = asString(value)
		case "has_code_blocks":
			r.HasCodeBlocks = asBool(value)
		case "has_tables":
			r.HasTables = asBool(value)
		case "has_images":
			r.HasImages = asBool(value)
		case "has_links":
			r.HasLinks = asBool(value)
		case "word_count":
			r.WordCount = asInt(value)
		case "estimated_read_time":
			r.EstimatedReadTime = asInt(value)
		case "mime_type":
			r.MimeType = asString(value)
		case PayloadIsAttachment:
			r.IsAttachment = asBool(value)
		case "attachment_filename":
			r.AttachmentFilename = asString(value)
		case PayloadParentDocumentID:
			r.ParentDocumentID = asString(value)
		case PayloadIsConverted:
			r.IsConverted = asBool(value)
		case "conversion_method":
			r.ConversionMethod = asString(value)
		case PayloadOriginalFileType:
			r.OriginalFileType = asString(value)
		case MetaChunkingStrategy:
			r.ChunkingStrategy = asString(value)
		case "file_type":
			r.FileType = asString(value)
		case "repository", "repo_name":
			r.Repository = asString(value)
		default:
			r.Extras[key] = value
		}
	}

	return r
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	}
	return 0
}

func asBool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}

func asStringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
