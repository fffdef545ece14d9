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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverkb/quiver/pkg/config"
	"github.com/quiverkb/quiver/pkg/models"
)

func newTestService() *Service {
	var cfg config.ChunkingConfig
	cfg.SetDefaults()
	return NewService(cfg, nil)
}

func testDoc(contentType, content string) *models.Document {
	return &models.Document{
		ID:          "doc-1",
		ProjectID:   "p1",
		SourceType:  "localfile",
		Source:      "test",
		Title:       "Test Document",
		Content:     content,
		ContentType: contentType,
	}
}

func TestStrategySelection(t *testing.T) {
	s := newTestService()
	assert.Equal(t, StrategyMarkdown, s.StrategyFor("md"))
	assert.Equal(t, StrategyMarkdown, s.StrategyFor("markdown"))
	assert.Equal(t, StrategyHTML, s.StrategyFor("html"))
	assert.Equal(t, StrategyHTML, s.StrategyFor("htm"))
	assert.Equal(t, StrategyJSON, s.StrategyFor("json"))
	assert.Equal(t, StrategyCode, s.StrategyFor("go"))
	assert.Equal(t, StrategyCode, s.StrategyFor("py"))
	assert.Equal(t, StrategyDefault, s.StrategyFor("txt"))
	assert.Equal(t, StrategyDefault, s.StrategyFor(""))
}

func TestChunkSmallDocumentSingleChunk(t *testing.T) {
	s := newTestService()
	chunks, err := s.Chunk(testDoc("txt", "This document describes the deployment runbook for the API gateway."))
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	c := chunks[0]
	assert.Equal(t, 0, c.Index)
	assert.Equal(t, 1, c.Total)
	assert.Equal(t, "doc-1", c.DocumentID)
	assert.Equal(t, 0, c.Metadata[models.MetaChunkIndex])
	assert.Equal(t, 1, c.Metadata[models.MetaTotalChunks])
	assert.Equal(t, StrategyDefault, c.Metadata[models.MetaChunkingStrategy])
	assert.Equal(t, "doc-1", c.Metadata[models.MetaParentDocument])
}

func TestChunkTextWindowingAndOverlap(t *testing.T) {
	s := newTestService()
	var sb strings.Builder
	for i := 0; i < 400; i++ {
		fmt.Fprintf(&sb, "Sentence number %d carries some deployment detail. ", i)
	}

	chunks, err := s.Chunk(testDoc("txt", sb.String()))
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, len(chunks), c.Total)
		assert.LessOrEqual(t, len(c.Content), 1500)
	}
}

func TestChunkTextMaxChunksCap(t *testing.T) {
	var cfg config.ChunkingConfig
	cfg.SetDefaults()
	cfg.MaxChunksPerDocument = 3
	s := NewService(cfg, nil)

	chunks, err := s.Chunk(testDoc("txt", strings.Repeat("alpha beta gamma delta. ", 2000)))
	require.NoError(t, err)
	assert.Len(t, chunks, 3)
}

func TestChunkEmptyDocument(t *testing.T) {
	s := newTestService()
	chunks, err := s.Chunk(testDoc("txt", "   \n\t "))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkMarkdownSectionsAndBreadcrumbs(t *testing.T) {
	s := newTestService()
	content := `# Guide

Intro paragraph.

## Install

Run the installer.

### Linux

Use the tarball.

## Configure

Edit the [config file](docs/config.md).

` + "```bash\nquiver serve\n```\n"

	chunks, err := s.Chunk(testDoc("md", content))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 4)

	byTitle := map[string]*models.Chunk{}
	for _, c := range chunks {
		if title, ok := c.Metadata[MetaSectionTitle].(string); ok {
			byTitle[title] = c
		}
	}

	linux := byTitle["Linux"]
	require.NotNil(t, linux)
	assert.Equal(t, "Guide > Install > Linux", linux.Metadata[MetaBreadcrumb])
	assert.Equal(t, "h3", linux.Metadata[MetaSectionType])
	assert.Equal(t, 3, linux.Metadata[MetaDepth])

	configure := byTitle["Configure"]
	require.NotNil(t, configure)
	assert.Equal(t, true, configure.Metadata[MetaHasCodeBlocks])
	assert.Equal(t, true, configure.Metadata[MetaHasLinks])
	assert.Equal(t, StrategyMarkdown, configure.Metadata[models.MetaChunkingStrategy])
}

func TestChunkMarkdownIgnoresHeadingsInFences(t *testing.T) {
	s := newTestService()
	content := "# Real\n\ntext\n\n```\n# not a heading\n```\n"
	chunks, err := s.Chunk(testDoc("md", content))
	require.NoError(t, err)
	for _, c := range chunks {
		assert.NotEqual(t, "not a heading", c.Metadata[MetaSectionTitle])
	}
}

func TestChunkHTMLSections(t *testing.T) {
	s := newTestService()
	content := `<html><head><title>x</title><script>ignore()</script></head><body>
<h1>API Reference</h1><p>Overview of endpoints.</p>
<h2>Authentication</h2><p>Use <a href="/tokens">tokens</a>.</p>
<pre><code>curl -H "Authorization: Bearer"</code></pre>
<h2>Endpoints</h2><table><tr><td>GET /v1/search</td></tr></table>
<img src="diagram.png"/>
</body></html>`

	chunks, err := s.Chunk(testDoc("html", content))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 3)

	var auth *models.Chunk
	for _, c := range chunks {
		if c.Metadata[MetaSectionTitle] == "Authentication" {
			auth = c
		}
	}
	require.NotNil(t, auth)
	assert.Equal(t, "API Reference > Authentication", auth.Metadata[MetaBreadcrumb])
	assert.Equal(t, true, auth.Metadata[MetaHasLinks])
	assert.Equal(t, true, auth.Metadata[MetaHasCodeBlocks])
	assert.NotContains(t, auth.Content, "ignore()")
}

func TestChunkHTMLOversizedFallsBack(t *testing.T) {
	var cfg config.ChunkingConfig
	cfg.SetDefaults()
	cfg.HTML.SimpleParsingThreshold = 50
	s := NewService(cfg, nil)

	chunks, err := s.Chunk(testDoc("html", "<p>"+strings.Repeat("long body text ", 20)+"</p>"))
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.NotContains(t, chunks[0].Content, "<p>")
	assert.Equal(t, StrategyHTML, chunks[0].Metadata[models.MetaChunkingStrategy])
}

func TestChunkCodeExtractsElements(t *testing.T) {
	s := newTestService()
	content := `package main

import "fmt"

func Greet(name string) string {
	return fmt.Sprintf("hello %s", name)
}

type Server struct {
	Addr string
}

func (s *Server) Run() error {
	return nil
}
`
	chunks, err := s.Chunk(testDoc("go", content))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 3)

	first := chunks[0]
	assert.Equal(t, "function", first.Metadata[MetaElementType])
	assert.Equal(t, "Greet", first.Metadata[MetaElementName])
	assert.Equal(t, "go", first.Metadata[MetaLanguage])
	assert.Equal(t, 5, first.Metadata[MetaStartLine])
	deps, _ := first.Metadata[MetaDependencies].([]string)
	assert.Contains(t, deps, "fmt")

	names := []string{}
	for _, c := range chunks {
		names = append(names, c.Metadata[MetaElementName].(string))
	}
	assert.Contains(t, names, "Server")
	assert.Contains(t, names, "Run")
}

func TestChunkCodeUnstructuredFallsBack(t *testing.T) {
	s := newTestService()
	chunks, err := s.Chunk(testDoc("go", "just a note, no code structure here"))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Nil(t, chunks[0].Metadata[MetaElementType])
}

func TestChunkJSONGroupsElements(t *testing.T) {
	var cfg config.ChunkingConfig
	cfg.SetDefaults()
	cfg.JSON.EnableSchemaInference = true
	s := NewService(cfg, nil)

	content := `{
  "service_name": "quiver",
  "debugMode": true,
  "created_at": "2025-01-02T10:00:00Z",
  "owner_email": "team@example.com",
  "endpoint_url": "https://api.example.com",
  "replica_count": 3
}`
	chunks, err := s.Chunk(testDoc("json", content))
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	c := chunks[0]
	assert.Equal(t, StrategyJSON, c.Metadata[models.MetaChunkingStrategy])
	assert.Equal(t, "object", c.Metadata[MetaJSONRootType])
	assert.Equal(t, "configuration", c.Metadata[MetaJSONClassification])

	patterns, ok := c.Metadata[MetaJSONKeyPatterns].(map[string][]string)
	require.True(t, ok)
	assert.Contains(t, patterns["snake_case"], "service_name")
	assert.Contains(t, patterns["camel_case"], "debugMode")
	assert.Contains(t, patterns["timestamp_fields"], "created_at")
	assert.Contains(t, patterns["boolean_flags"], "debugMode")

	hints, ok := c.Metadata[MetaJSONFormatHints].(map[string][]string)
	require.True(t, ok)
	assert.Contains(t, hints["email"], "owner_email")
	assert.Contains(t, hints["url"], "endpoint_url")
	assert.Contains(t, hints["iso_date"], "created_at")
}

func TestChunkJSONInvalidFallsBack(t *testing.T) {
	s := newTestService()
	chunks, err := s.Chunk(testDoc("json", "{not valid json"))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, StrategyJSON, chunks[0].Metadata[models.MetaChunkingStrategy])
}

func TestNLPEnrichment(t *testing.T) {
	s := newTestService()
	chunks, err := s.Chunk(testDoc("txt", "Contact support@example.com about the search API. The search API handles queries."))
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	c := chunks[0]
	entities, _ := c.Metadata[MetaEntities].([]string)
	assert.Contains(t, entities, "support@example.com")
	assert.NotNil(t, c.Metadata[MetaWordCount])
	assert.NotNil(t, c.Metadata[MetaReadTime])
	assert.NotNil(t, c.Metadata[MetaTokenCount])
}

func TestEstimateReadTime(t *testing.T) {
	assert.Equal(t, 1, estimateReadTime(0))
	assert.Equal(t, 1, estimateReadTime(199))
	assert.Equal(t, 2, estimateReadTime(201))
	assert.Equal(t, 10, estimateReadTime(2000))
}
