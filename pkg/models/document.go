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

// Package models defines the document and chunk data model shared by the
// ingestion pipeline and the retrieval engine.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// documentNamespace seeds deterministic document and point IDs so re-ingesting
// the same source yields stable identifiers.
var documentNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Document is a unit ingested from a source. It is owned by the pipeline until
// handed to the chunker; afterwards chunks reference it only by ID.
type Document struct {
	// ID is derived deterministically from source identity; see DeriveDocumentID.
	ID          string         `json:"id"`
	SourceType  string         `json:"source_type"`
	Source      string         `json:"source"`
	ProjectID   string         `json:"project_id"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	ContentType string         `json:"content_type"`
	URL         string         `json:"url"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	IsDeleted   bool           `json:"is_deleted"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewDocument constructs a document with a derived ID and an initialized
// metadata map.
func NewDocument(sourceType, source, url, title string) *Document {
	now := time.Now().UTC()
	return &Document{
		ID:         DeriveDocumentID(sourceType, source, url, title),
		SourceType: sourceType,
		Source:     source,
		URL:        url,
		Title:      title,
		CreatedAt:  now,
		UpdatedAt:  now,
		Metadata:   make(map[string]any),
	}
}

// DeriveDocumentID computes the stable document identifier from the source
// fingerprint. Identical inputs always produce the same UUID.
func DeriveDocumentID(sourceType, source, url, title string) string {
	name := fmt.Sprintf("%s|%s|%s|%s", sourceType, source, url, title)
	return uuid.NewSHA1(documentNamespace, []byte(name)).String()
}

// ContentHash returns a stable fingerprint over the document content and the
// metadata that participates in change detection.
func (d *Document) ContentHash() string {
	h := sha256.New()
	h.Write([]byte(d.Content))
	h.Write([]byte{0})
	h.Write([]byte(d.Title))
	h.Write([]byte{0})
	h.Write([]byte(d.URL))
	h.Write([]byte{0})
	h.Write([]byte(d.ContentType))
	return hex.EncodeToString(h.Sum(nil))
}

// SetMetadata stores a metadata value, initializing the map if needed.
func (d *Document) SetMetadata(key string, value any) {
	if d.Metadata == nil {
		d.Metadata = make(map[string]any)
	}
	d.Metadata[key] = value
}

// MetadataString returns a string metadata value or "".
func (d *Document) MetadataString(key string) string {
	if d.Metadata == nil {
		return ""
	}
	if s, ok := d.Metadata[key].(string); ok {
		return s
	}
	return ""
}

// Size returns the content length in bytes.
func (d *Document) Size() int {
	return len(d.Content)
}
