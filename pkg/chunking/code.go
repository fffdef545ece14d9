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
	"regexp"
	"strings"

	"github.com/quiverkb/quiver/pkg/models"
)

type codeElement struct {
	elementType string
	name        string
	startLine   int
	endLine     int
	content     string
}

var elementPatterns = []struct {
	elementType string
	re          *regexp.Regexp
}{
	{"function", regexp.MustCompile(`^\s*func\s+(?:\([^)]*\)\s+)?(\w+)`)},
	{"function", regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s+(\w+)`)},
	{"function", regexp.MustCompile(`^\s*def\s+(\w+)`)},
	{"function", regexp.MustCompile(`^\s*(?:public|private|protected|static|final|\s)+\s*[\w<>\[\]]+\s+(\w+)\s*\([^;]*$`)},
	{"class", regexp.MustCompile(`^\s*(?:export\s+)?(?:abstract\s+)?class\s+(\w+)`)},
	{"class", regexp.MustCompile(`^\s*(?:public\s+|internal\s+)?(?:struct|interface|enum)\s+(\w+)`)},
	{"type", regexp.MustCompile(`^\s*type\s+(\w+)\s+(?:struct|interface)`)},
}

var importPattern = regexp.MustCompile(`^\s*(?:import|from|require|use|#include)\b\s*(.*)`)

// chunkCode extracts structural elements (functions, classes, types) with
// their line spans. Oversized files and files where no structure is found
// fall back to the default window.
func (s *Service) chunkCode(doc *models.Document) []*models.Chunk {
	if len(doc.Content) > s.cfg.Code.MaxFileSizeForAST {
		return s.chunkText(doc)
	}

	language := codeExtensions[strings.ToLower(strings.TrimPrefix(doc.ContentType, "."))]
	lines := strings.Split(doc.Content, "\n")
	elements, deps := extractCodeElements(lines, s.cfg.Code.MaxElementsToProcess, s.cfg.Code.MaxRecursionDepth)
	if len(elements) == 0 {
		return s.chunkText(doc)
	}

	var chunks []*models.Chunk
	emit := func(el codeElement, content string) {
		chunk := models.NewChunk(doc, len(chunks), content)
		chunk.SetMetadata(MetaLanguage, language)
		chunk.SetMetadata(MetaElementType, el.elementType)
		chunk.SetMetadata(MetaElementName, el.name)
		chunk.SetMetadata(MetaStartLine, el.startLine)
		chunk.SetMetadata(MetaEndLine, el.endLine)
		if len(deps) > 0 {
			chunk.SetMetadata(MetaDependencies, deps)
		}
		chunks = append(chunks, chunk)
	}

	for _, el := range elements {
		if len(chunks) >= s.cfg.MaxChunksPerDocument {
			break
		}
		if len(el.content) <= s.cfg.Code.MaxElementSize {
			emit(el, el.content)
			continue
		}
		for _, piece := range splitWindow(el.content, s.cfg.ChunkSize, s.cfg.ChunkOverlap, s.cfg.MaxChunksPerDocument) {
			if len(chunks) >= s.cfg.MaxChunksPerDocument {
				break
			}
			emit(el, piece)
		}
	}
	return chunks
}

// extractCodeElements scans for element starts and closes each one when the
// brace depth returns to its opening level, or at the next dedented element
// start for brace-less languages. Nesting beyond maxDepth is kept inside the
// enclosing element rather than extracted separately.
func extractCodeElements(lines []string, maxElements, maxDepth int) ([]codeElement, []string) {
	var elements []codeElement
	var deps []string

	depth := 0
	var open *codeElement
	var openDepth int
	var body []string

	closeElement := func(endLine int) {
		if open == nil {
			return
		}
		open.endLine = endLine
		open.content = strings.Join(body, "\n")
		elements = append(elements, *open)
		open = nil
		body = nil
	}

	for i, line := range lines {
		if m := importPattern.FindStringSubmatch(line); m != nil && open == nil {
			if dep := strings.Trim(strings.TrimSpace(m[1]), `"';()`); dep != "" {
				deps = append(deps, dep)
			}
		}

		if len(elements) < maxElements && depth <= maxDepth {
			for _, p := range elementPatterns {
				m := p.re.FindStringSubmatch(line)
				if m == nil {
					continue
				}
				// A new element at the same depth closes the previous one;
				// this is how brace-less languages terminate elements.
				if open != nil {
					if depth > openDepth {
						break
					}
					closeElement(i)
				}
				open = &codeElement{elementType: p.elementType, name: m[1], startLine: i + 1}
				openDepth = depth
				break
			}
		}
		if open != nil {
			body = append(body, line)
		}

		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth < 0 {
			depth = 0
		}

		if open != nil && depth <= openDepth && strings.Contains(line, "}") {
			closeElement(i + 1)
		}
	}
	closeElement(len(lines))

	return elements, deps
}
