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

// Package chunking splits documents into embeddable chunks using a
// content-type-aware strategy: markdown, HTML, code, JSON, or plain text.
package chunking

import (
	"strings"

	"github.com/quiverkb/quiver/pkg/config"
	"github.com/quiverkb/quiver/pkg/models"
	"github.com/quiverkb/quiver/pkg/nlp"
)

// Strategy names recorded in chunk metadata.
const (
	StrategyDefault  = "default"
	StrategyMarkdown = "markdown"
	StrategyHTML     = "html"
	StrategyCode     = "code"
	StrategyJSON     = "json"
)

// Metadata keys set by strategies and NLP enrichment.
const (
	MetaSectionTitle  = "section_title"
	MetaBreadcrumb    = "breadcrumb"
	MetaSectionType   = "section_type"
	MetaDepth         = "hierarchy_depth"
	MetaWordCount     = "word_count"
	MetaReadTime      = "estimated_read_time"
	MetaHasCodeBlocks = "has_code_blocks"
	MetaHasTables     = "has_tables"
	MetaHasImages     = "has_images"
	MetaHasLinks      = "has_links"
	MetaSkipNLP       = "skip_nlp"
	MetaEntities      = "entities"
	MetaEntityTypes   = "entity_types"
	MetaTopics        = "topics"
	MetaKeyPhrases    = "key_phrases"

	MetaLanguage     = "language"
	MetaElementType  = "element_type"
	MetaElementName  = "element_name"
	MetaStartLine    = "start_line"
	MetaEndLine      = "end_line"
	MetaDependencies = "dependencies"

	MetaJSONRootType       = "json_root_type"
	MetaJSONDepth          = "json_nesting_depth"
	MetaJSONTypeHistogram  = "json_type_histogram"
	MetaJSONKeyPatterns    = "json_key_patterns"
	MetaJSONClassification = "json_classification"
	MetaJSONFormatHints    = "json_format_hints"
)

// codeExtensions maps recognized programming-language file extensions to a
// language label used in chunk metadata.
var codeExtensions = map[string]string{
	"go": "go", "py": "python", "js": "javascript", "jsx": "javascript",
	"ts": "typescript", "tsx": "typescript", "java": "java", "rb": "ruby",
	"rs": "rust", "c": "c", "h": "c", "cpp": "cpp", "cc": "cpp", "hpp": "cpp",
	"cs": "csharp", "php": "php", "kt": "kotlin", "swift": "swift",
	"scala": "scala", "sh": "shell", "bash": "shell",
}

// Service routes documents to the strategy matching their content type and
// enriches resulting chunks with lexical analysis.
type Service struct {
	cfg      config.ChunkingConfig
	analyzer *nlp.Analyzer
}

// NewService creates a chunking service. The analyzer may be shared with the
// search engine.
func NewService(cfg config.ChunkingConfig, analyzer *nlp.Analyzer) *Service {
	cfg.SetDefaults()
	if analyzer == nil {
		analyzer = nlp.NewAnalyzer(0)
	}
	return &Service{cfg: cfg, analyzer: analyzer}
}

// StrategyFor resolves the strategy name for a content type.
func (s *Service) StrategyFor(contentType string) string {
	ct := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(contentType), "."))
	switch ct {
	case "md", "markdown":
		return StrategyMarkdown
	case "html", "htm":
		return StrategyHTML
	case "json":
		return StrategyJSON
	}
	if _, ok := codeExtensions[ct]; ok {
		return StrategyCode
	}
	return StrategyDefault
}

// Chunk splits one document. The returned chunks are finalized: consecutive
// indices, totals, parent back-reference and strategy metadata are stamped.
func (s *Service) Chunk(doc *models.Document) ([]*models.Chunk, error) {
	if strings.TrimSpace(doc.Content) == "" {
		return nil, nil
	}

	strategy := s.StrategyFor(doc.ContentType)
	var chunks []*models.Chunk
	switch strategy {
	case StrategyMarkdown:
		chunks = s.chunkMarkdown(doc)
	case StrategyHTML:
		chunks = s.chunkHTML(doc)
	case StrategyCode:
		chunks = s.chunkCode(doc)
	case StrategyJSON:
		chunks = s.chunkJSON(doc)
	default:
		chunks = s.chunkText(doc)
	}

	if len(chunks) > s.cfg.MaxChunksPerDocument {
		chunks = chunks[:s.cfg.MaxChunksPerDocument]
	}

	models.FinalizeChunks(chunks, doc, strategy)
	s.enrich(chunks)
	return chunks, nil
}

// enrich attaches entities, topics and key phrases to chunks that have not
// been flagged to skip NLP.
func (s *Service) enrich(chunks []*models.Chunk) {
	for _, c := range chunks {
		if skip, _ := c.Metadata[MetaSkipNLP].(bool); skip || len(c.Content) > s.cfg.HTML.MaxChunkSizeForNLP {
			c.SetMetadata(MetaSkipNLP, true)
			continue
		}
		analysis := s.analyzer.Analyze(c.Content)
		c.SetMetadata(MetaTokenCount, CountTokens(c.Content))
		c.SetMetadata(MetaWordCount, analysis.WordCount)
		c.SetMetadata(MetaReadTime, estimateReadTime(analysis.WordCount))
		if entities := analysis.EntityTexts(); len(entities) > 0 {
			c.SetMetadata(MetaEntities, entities)
			c.SetMetadata(MetaEntityTypes, analysis.EntityTypes())
		}
		if len(analysis.Topics) > 0 {
			c.SetMetadata(MetaTopics, analysis.Topics)
		}
		if len(analysis.KeyPhrases) > 0 {
			c.SetMetadata(MetaKeyPhrases, analysis.KeyPhrases)
		}
	}
}

// estimateReadTime returns whole minutes at 200 words per minute, minimum 1.
func estimateReadTime(wordCount int) int {
	minutes := (wordCount + 199) / 200
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}
