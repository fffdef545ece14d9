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
	"fmt"
	"strings"

	"github.com/quiverkb/quiver/pkg/models"
)

type markdownSection struct {
	title      string
	level      int
	breadcrumb []string
	body       strings.Builder
}

// chunkMarkdown splits a markdown document on headings, keeping the heading
// trail as a breadcrumb on every chunk. Heading markers inside fenced code
// blocks are ignored.
func (s *Service) chunkMarkdown(doc *models.Document) []*models.Chunk {
	sections := splitMarkdownSections(doc.Content)

	var chunks []*models.Chunk
	for _, section := range sections {
		body := strings.TrimSpace(section.body.String())
		if body == "" && section.title == "" {
			continue
		}

		content := body
		if section.title != "" {
			content = "# " + section.title + "\n\n" + body
		}

		// Oversized sections get windowed; breadcrumb metadata is shared.
		for _, piece := range splitWindow(content, s.cfg.ChunkSize, s.cfg.ChunkOverlap, s.cfg.MaxChunksPerDocument) {
			chunk := models.NewChunk(doc, len(chunks), piece)
			if section.title != "" {
				chunk.SetMetadata(MetaSectionTitle, section.title)
			}
			if len(section.breadcrumb) > 0 {
				chunk.SetMetadata(MetaBreadcrumb, strings.Join(section.breadcrumb, " > "))
			}
			chunk.SetMetadata(MetaSectionType, sectionType(section.level))
			chunk.SetMetadata(MetaDepth, len(section.breadcrumb))
			chunk.SetMetadata(MetaHasCodeBlocks, strings.Contains(piece, "```"))
			chunk.SetMetadata(MetaHasTables, hasMarkdownTable(piece))
			chunk.SetMetadata(MetaHasImages, strings.Contains(piece, "!["))
			chunk.SetMetadata(MetaHasLinks, hasMarkdownLink(piece))
			chunks = append(chunks, chunk)
			if len(chunks) >= s.cfg.MaxChunksPerDocument {
				return chunks
			}
		}
	}

	if len(chunks) == 0 {
		return s.chunkText(doc)
	}
	return chunks
}

func splitMarkdownSections(content string) []*markdownSection {
	var sections []*markdownSection
	current := &markdownSection{}
	sections = append(sections, current)

	// trail[i] is the most recent heading at level i+1.
	trail := make([]string, 6)
	inFence := false

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			current.body.WriteString(line + "\n")
			continue
		}
		if inFence {
			current.body.WriteString(line + "\n")
			continue
		}

		level, title := parseHeading(trimmed)
		if level == 0 {
			current.body.WriteString(line + "\n")
			continue
		}

		trail[level-1] = title
		for i := level; i < 6; i++ {
			trail[i] = ""
		}
		breadcrumb := make([]string, 0, level)
		for i := 0; i < level; i++ {
			if trail[i] != "" {
				breadcrumb = append(breadcrumb, trail[i])
			}
		}

		current = &markdownSection{title: title, level: level, breadcrumb: breadcrumb}
		sections = append(sections, current)
	}
	return sections
}

func parseHeading(line string) (int, string) {
	if !strings.HasPrefix(line, "#") {
		return 0, ""
	}
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level > 6 || level >= len(line) || line[level] != ' ' {
		return 0, ""
	}
	return level, strings.TrimSpace(line[level:])
}

func sectionType(level int) string {
	if level == 0 {
		return "preamble"
	}
	return fmt.Sprintf("h%d", level)
}

func hasMarkdownTable(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "|") && strings.Count(trimmed, "|") >= 2 {
			return true
		}
	}
	return false
}

func hasMarkdownLink(text string) bool {
	open := strings.Index(text, "[")
	if open < 0 {
		return false
	}
	return strings.Contains(text[open:], "](")
}
