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

package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverkb/quiver/pkg/config"
)

func TestLocalFileConnectorWalks(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("# Readme\n\nHello."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docs", "guide.txt"), []byte("guide text"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "binary.bin"), []byte{0xff, 0xfe, 0x00, 0x01}, 0o644))

	c := NewLocalFileConnector("files", "p1", &config.LocalFileSourceConfig{BasePath: dir}, nil)
	docs, err := c.GetDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)

	byTitle := map[string]bool{}
	for _, d := range docs {
		byTitle[d.Title] = true
		assert.Equal(t, TypeLocalFile, d.SourceType)
		assert.Equal(t, "p1", d.ProjectID)
		assert.NotEmpty(t, d.Metadata[MetaRelativePath])
		assert.NotEmpty(t, d.Metadata[MetaMimeType])
		assert.NotNil(t, d.Metadata[MetaFileSize])
		assert.NotEmpty(t, d.Metadata[MetaModifiedAt])
	}
	assert.True(t, byTitle["readme.md"])
	assert.True(t, byTitle[filepath.Join("docs", "guide.txt")])
}

func TestLocalFileConnectorFilters(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.md"), []byte("keep"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "drop.txt"), []byte("drop"), 0o644))

	c := NewLocalFileConnector("files", "p1", &config.LocalFileSourceConfig{
		BasePath:  dir,
		FileTypes: []string{"md"},
	}, nil)
	docs, err := c.GetDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "keep.md", docs[0].Title)
}

func TestLocalFileConnectorExcludePatterns(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "vendor"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.md"), []byte("main"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vendor", "dep.md"), []byte("dep"), 0o644))

	c := NewLocalFileConnector("files", "p1", &config.LocalFileSourceConfig{
		BasePath:        dir,
		ExcludePatterns: []string{"vendor/**"},
	}, nil)
	docs, err := c.GetDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "main.md", docs[0].Title)
}

func TestConverterFallbackDocument(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.pdf")
	require.NoError(t, os.WriteFile(broken, []byte("not a real pdf"), 0o644))

	c := NewLocalFileConnector("files", "p1", &config.LocalFileSourceConfig{BasePath: dir}, nil)
	docs, err := c.GetDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	d := docs[0]
	assert.Equal(t, true, d.Metadata[MetaConversionFailed])
	assert.Equal(t, "pdf", d.Metadata["original_file_type"])
	assert.Equal(t, true, d.Metadata["is_converted"])
	assert.Contains(t, d.Content, "failed")
}

func TestConfluenceConnector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ENG", r.URL.Query().Get("spaceKey"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"results": [{
				"id": "12345",
				"title": "Deployment Guide",
				"body": {"storage": {"value": "<h1>Deploy</h1><p>Steps.</p>"}},
				"version": {"number": 4, "when": "2025-03-01T12:00:00Z"},
				"metadata": {"labels": {"results": [{"name": "runbook"}]}},
				"ancestors": [{"title": "Engineering"}, {"title": "Operations"}],
				"_links": {"webui": "/spaces/ENG/pages/12345"}
			}],
			"size": 1
		}`))
	}))
	defer server.Close()

	c := NewConfluenceConnector("wiki", "p1", &config.ConfluenceSourceConfig{
		BaseURL:  server.URL,
		SpaceKey: "ENG",
	})
	docs, err := c.GetDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	d := docs[0]
	assert.Equal(t, "Deployment Guide", d.Title)
	assert.Equal(t, "html", d.ContentType)
	assert.Equal(t, "ENG", d.Metadata[MetaSpaceKey])
	assert.Equal(t, "12345", d.Metadata[MetaPageID])
	assert.Equal(t, 4, d.Metadata[MetaVersion])
	assert.Equal(t, []string{"runbook"}, d.Metadata[MetaLabels])
	assert.Equal(t, []string{"Engineering", "Operations"}, d.Metadata[MetaAncestors])
}

func TestJiraConnector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("jql"), "PLAT")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"total": 1,
			"issues": [{
				"key": "PLAT-42",
				"fields": {
					"summary": "Search latency regression",
					"description": "p99 doubled after rollout.",
					"issuetype": {"name": "Bug"},
					"status": {"name": "In Progress"},
					"priority": {"name": "High"},
					"reporter": {"displayName": "Dana"},
					"assignee": {"displayName": "Lee"},
					"labels": ["performance"],
					"issuelinks": [{"outwardIssue": {"key": "PLAT-40"}}],
					"comment": {"comments": [{"author": {"displayName": "Lee"}, "body": "Bisecting now."}]}
				}
			}]
		}`))
	}))
	defer server.Close()

	c := NewJiraConnector("tracker", "p1", &config.JiraSourceConfig{
		BaseURL:    server.URL,
		ProjectKey: "PLAT",
	})
	docs, err := c.GetDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	d := docs[0]
	assert.Equal(t, "PLAT-42: Search latency regression", d.Title)
	assert.Equal(t, "PLAT-42", d.Metadata[MetaIssueKey])
	assert.Equal(t, "Bug", d.Metadata[MetaIssueType])
	assert.Equal(t, "In Progress", d.Metadata[MetaStatus])
	assert.Equal(t, "High", d.Metadata[MetaPriority])
	assert.Equal(t, "Dana", d.Metadata[MetaReporter])
	assert.Equal(t, "Lee", d.Metadata[MetaAssignee])
	assert.Equal(t, []string{"PLAT-40"}, d.Metadata[MetaLinkedIssues])
	assert.Equal(t, 1, d.Metadata[MetaCommentCount])
	assert.Contains(t, d.Content, "Bisecting now.")
}

func TestPublicDocsConnector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Install Guide</title></head><body>
			<nav>skip this</nav>
			<div class="content"><h1>Install</h1><h2>Linux</h2><p>Use the tarball.</p></div>
		</body></html>`))
	}))
	defer server.Close()

	c := NewPublicDocsConnector("docs", "p1", &config.PublicDocsSourceConfig{
		BaseURL:         server.URL,
		Version:         "1.2",
		ContentSelector: ".content",
		Pages:           []string{"install"},
	})
	docs, err := c.GetDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	d := docs[0]
	assert.Equal(t, "Install Guide", d.Title)
	assert.Equal(t, "1.2", d.Metadata[MetaVersion])
	assert.Equal(t, "/install", d.Metadata[MetaPath])
	assert.Equal(t, ".content", d.Metadata[MetaContentSelector])
	assert.Equal(t, []string{"Install", "Linux"}, d.Metadata[MetaHeadings])
	assert.NotContains(t, d.Content, "skip this")
}

func TestForProjectUnknownType(t *testing.T) {
	project := &config.ProjectConfig{ProjectID: "p1"}
	_, err := ForProject(project, []string{"git"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sources found for type git")
}

func TestRepositoryName(t *testing.T) {
	assert.Equal(t, "quiver", repositoryName("https://github.com/quiverkb/quiver.git"))
	assert.Equal(t, "quiver", repositoryName("git@github.com:quiverkb/quiver.git"))
}
