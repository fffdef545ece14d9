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

	"github.com/google/uuid"
)

// Metadata keys every chunking strategy sets. Downstream consumers (payload
// construction, faceting) key off these names.
const (
	MetaChunkIndex       = "chunk_index"
	MetaTotalChunks      = "total_chunks"
	MetaChunkSize        = "chunk_size"
	MetaParentDocument   = "parent_document_id"
	MetaChunkingStrategy = "chunking_strategy"
)

// Well-known payload keys beyond the chunk basics.
const (
	PayloadDocumentID       = "document_id"
	PayloadProjectID        = "project_id"
	PayloadSourceType       = "source_type"
	PayloadSource           = "source"
	PayloadTitle            = "title"
	PayloadContent          = "content"
	PayloadURL              = "url"
	PayloadContentType      = "content_type"
	PayloadCreatedAt        = "created_at"
	PayloadUpdatedAt        = "updated_at"
	PayloadIsAttachment     = "is_attachment"
	PayloadParentDocumentID = "parent_document_id"
	PayloadOriginalFileType = "original_file_type"
	PayloadIsConverted      = "is_converted"
)

// Chunk is a bounded sub-region of a document fed to the embedder. It carries
// only the parent document's ID, never the document itself; the orchestrator
// resolves the document when ingestion state must advance.
type Chunk struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Content    string         `json:"content"`
	Index      int            `json:"chunk_index"`
	Total      int            `json:"total_chunks"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewChunk constructs a chunk with a deterministic ID derived from the parent
// document and position.
func NewChunk(doc *Document, index int, content string) *Chunk {
	return &Chunk{
		ID:         DeriveChunkID(doc.ID, index),
		DocumentID: doc.ID,
		Content:    content,
		Index:      index,
		Metadata:   make(map[string]any),
	}
}

// DeriveChunkID computes a stable chunk (and vector point) identifier.
func DeriveChunkID(documentID string, index int) string {
	name := fmt.Sprintf("%s#%d", documentID, index)
	return uuid.NewSHA1(documentNamespace, []byte(name)).String()
}

// SetMetadata stores a metadata value, initializing the map if needed.
func (c *Chunk) SetMetadata(key string, value any) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	c.Metadata[key] = value
}

// FinalizeChunks stamps position metadata on an ordered chunk slice: index,
// total, size, parent reference, and the strategy that produced them.
func FinalizeChunks(chunks []*Chunk, doc *Document, strategy string) {
	total := len(chunks)
	for i, c := range chunks {
		c.Index = i
		c.Total = total
		c.ID = DeriveChunkID(doc.ID, i)
		c.SetMetadata(MetaChunkIndex, i)
		c.SetMetadata(MetaTotalChunks, total)
		c.SetMetadata(MetaChunkSize, len(c.Content))
		c.SetMetadata(MetaParentDocument, doc.ID)
		c.SetMetadata(MetaChunkingStrategy, strategy)
	}
}

// EmbeddedChunk pairs a chunk with its dense vector.
type EmbeddedChunk struct {
	Chunk  *Chunk
	Vector []float32
}

// VectorPoint is the record written to the vector store.
type VectorPoint struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// BuildPayload assembles the full vector point payload for a chunk, merging
// document identity, document metadata, and chunk metadata. Chunk metadata
// wins on key collisions since it is the most specific.
func BuildPayload(doc *Document, chunk *Chunk) map[string]any {
	payload := make(map[string]any, len(doc.Metadata)+len(chunk.Metadata)+12)

	for k, v := range doc.Metadata {
		payload[k] = v
	}
	for k, v := range chunk.Metadata {
		payload[k] = v
	}

	payload[PayloadDocumentID] = doc.ID
	payload[PayloadProjectID] = doc.ProjectID
	payload[PayloadSourceType] = doc.SourceType
	payload[PayloadSource] = doc.Source
	payload[PayloadTitle] = doc.Title
	payload[PayloadURL] = doc.URL
	payload[PayloadContentType] = doc.ContentType
	payload[PayloadContent] = chunk.Content
	payload[PayloadCreatedAt] = doc.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	payload[PayloadUpdatedAt] = doc.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00")

	if _, ok := payload[PayloadIsAttachment]; !ok {
		payload[PayloadIsAttachment] = false
	}
	if _, ok := payload[PayloadIsConverted]; !ok {
		payload[PayloadIsConverted] = false
	}

	return payload
}
