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

package chunking

import (
	"strings"

	"github.com/quiverkb/quiver/pkg/models"
)

// chunkText is the default strategy: a fixed-size sliding window with overlap
// that prefers to break at sentence boundaries.
func (s *Service) chunkText(doc *models.Document) []*models.Chunk {
	pieces := splitWindow(doc.Content, s.cfg.ChunkSize, s.cfg.ChunkOverlap, s.cfg.MaxChunksPerDocument)
	chunks := make([]*models.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, models.NewChunk(doc, i, piece))
	}
	return chunks
}

// splitWindow slices text into at most maxChunks windows of roughly size
// characters each, overlapping by overlap. The break point backs up to the
// nearest sentence end, then the nearest whitespace, inside the last fifth of
// the window.
func splitWindow(text string, size, overlap, maxChunks int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= size {
		return []string{text}
	}

	var pieces []string
	start := 0
	for start < len(text) && len(pieces) < maxChunks {
		end := start + size
		if end >= len(text) {
			pieces = append(pieces, strings.TrimSpace(text[start:]))
			break
		}

		cut := breakPoint(text, start, end)
		piece := strings.TrimSpace(text[start:cut])
		if piece != "" {
			pieces = append(pieces, piece)
		}

		next := cut - overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return pieces
}

// breakPoint picks where to cut a window ending at end. Sentence terminators
// win over whitespace; both are only honored within the trailing fifth so
// pathological inputs cannot shrink chunks unboundedly.
func breakPoint(text string, start, end int) int {
	floor := end - (end-start)/5
	for i := end - 1; i >= floor; i-- {
		switch text[i] {
		case '.', '!', '?', '\n':
			return i + 1
		}
	}
	for i := end - 1; i >= floor; i-- {
		if text[i] == ' ' || text[i] == '\t' {
			return i + 1
		}
	}
	return end
}
