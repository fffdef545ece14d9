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

	"golang.org/x/net/html"

	"github.com/quiverkb/quiver/pkg/models"
)

type htmlSection struct {
	title      string
	level      int
	breadcrumb []string
	text       strings.Builder
	hasCode    bool
	hasTable   bool
	hasImage   bool
	hasLink    bool
}

// chunkHTML parses the DOM and splits on semantic boundaries (headings,
// article and section elements). Documents above the simple-parsing threshold
// skip the DOM walk entirely and fall back to tag stripping plus the default
// window.
func (s *Service) chunkHTML(doc *models.Document) []*models.Chunk {
	if len(doc.Content) > s.cfg.HTML.SimpleParsingThreshold {
		stripped := stripTags(doc.Content)
		plain := *doc
		plain.Content = stripped
		chunks := s.chunkText(&plain)
		for _, c := range chunks {
			c.DocumentID = doc.ID
			c.SetMetadata(MetaSkipNLP, true)
		}
		return chunks
	}

	root, err := html.Parse(strings.NewReader(doc.Content))
	if err != nil {
		return s.chunkText(doc)
	}

	w := &htmlWalker{maxSections: s.cfg.HTML.MaxSectionsToProcess}
	w.current = &htmlSection{}
	w.sections = append(w.sections, w.current)
	w.walk(root)

	var chunks []*models.Chunk
	for _, section := range w.sections {
		body := normalizeSpace(section.text.String())
		if body == "" {
			continue
		}
		content := body
		if section.title != "" {
			content = section.title + "\n\n" + body
		}

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
			chunk.SetMetadata(MetaHasCodeBlocks, section.hasCode)
			chunk.SetMetadata(MetaHasTables, section.hasTable)
			chunk.SetMetadata(MetaHasImages, section.hasImage)
			chunk.SetMetadata(MetaHasLinks, section.hasLink)
			if len(piece) > s.cfg.HTML.MaxChunkSizeForNLP {
				chunk.SetMetadata(MetaSkipNLP, true)
			}
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

type htmlWalker struct {
	sections    []*htmlSection
	current     *htmlSection
	trail       [6]string
	maxSections int
}

func (w *htmlWalker) walk(n *html.Node) {
	if len(w.sections) > w.maxSections {
		return
	}

	switch n.Type {
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text != "" {
			w.current.text.WriteString(text)
			w.current.text.WriteString(" ")
		}
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "head":
			return
		case "h1", "h2", "h3", "h4", "h5", "h6":
			w.startSection(int(n.Data[1]-'0'), collectText(n))
			return
		case "article", "section":
			// Boundary without a heading: keep the breadcrumb, reset the body.
			if w.current.text.Len() > 0 {
				w.startSection(w.current.level, w.current.title)
			}
		case "pre", "code":
			w.current.hasCode = true
		case "table":
			w.current.hasTable = true
		case "img":
			w.current.hasImage = true
		case "a":
			w.current.hasLink = true
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func (w *htmlWalker) startSection(level int, title string) {
	if level >= 1 && level <= 6 {
		w.trail[level-1] = title
		for i := level; i < 6; i++ {
			w.trail[i] = ""
		}
	}
	breadcrumb := make([]string, 0, 6)
	for _, t := range w.trail {
		if t != "" {
			breadcrumb = append(breadcrumb, t)
		}
	}
	w.current = &htmlSection{title: title, level: level, breadcrumb: breadcrumb}
	w.sections = append(w.sections, w.current)
}

func collectText(n *html.Node) string {
	var sb strings.Builder
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return normalizeSpace(sb.String())
}

// stripTags removes markup without building a DOM. Used for oversized
// documents where full parsing is not worth the memory.
func stripTags(content string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range content {
		switch {
		case r == '<':
			inTag = true
			sb.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return normalizeSpace(sb.String())
}

func normalizeSpace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
