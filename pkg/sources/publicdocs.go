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
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/quiverkb/quiver/pkg/config"
	"github.com/quiverkb/quiver/pkg/models"
)

// PublicDocsConnector fetches configured pages of a public documentation
// site. When a content selector is set, only the matching element's subtree
// is kept; headings are extracted as metadata either way.
type PublicDocsConnector struct {
	name      string
	projectID string
	cfg       *config.PublicDocsSourceConfig
	client    *http.Client
}

// NewPublicDocsConnector creates a publicdocs connector.
func NewPublicDocsConnector(name, projectID string, cfg *config.PublicDocsSourceConfig) *PublicDocsConnector {
	return &PublicDocsConnector{
		name:      name,
		projectID: projectID,
		cfg:       cfg,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Type returns "publicdocs".
func (c *PublicDocsConnector) Type() string { return TypePublicDocs }

// Name returns the configured instance name.
func (c *PublicDocsConnector) Name() string { return c.name }

// GetDocuments fetches every configured page.
func (c *PublicDocsConnector) GetDocuments(ctx context.Context) ([]*models.Document, error) {
	var documents []*models.Document
	for _, page := range c.cfg.Pages {
		doc, err := c.fetch(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("publicdocs source %q: %w", c.name, err)
		}
		documents = append(documents, doc)
	}
	return documents, nil
}

func (c *PublicDocsConnector) fetch(ctx context.Context, page string) (*models.Document, error) {
	pageURL := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/" + strings.TrimPrefix(page, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed for %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s returned status %d", pageURL, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	content := string(body)
	title := page
	var headings []string
	if root, err := html.Parse(strings.NewReader(content)); err == nil {
		if c.cfg.ContentSelector != "" {
			if selected := findBySelector(root, c.cfg.ContentSelector); selected != nil {
				content = renderNode(selected)
			}
		}
		if t := pageTitle(root); t != "" {
			title = t
		}
		headings = collectHeadings(root)
	}

	doc := models.NewDocument(TypePublicDocs, c.name, pageURL, title)
	doc.ProjectID = c.projectID
	doc.Content = content
	doc.ContentType = "html"
	doc.SetMetadata(MetaVersion, c.cfg.Version)
	doc.SetMetadata(MetaPath, "/"+strings.TrimPrefix(page, "/"))
	if c.cfg.ContentSelector != "" {
		doc.SetMetadata(MetaContentSelector, c.cfg.ContentSelector)
	}
	if len(headings) > 0 {
		doc.SetMetadata(MetaHeadings, headings)
	}
	return doc, nil
}

// findBySelector supports the two selector forms configurations use in
// practice: "#id" and ".class", plus a bare element name.
func findBySelector(root *html.Node, selector string) *html.Node {
	var match func(n *html.Node) bool
	switch {
	case strings.HasPrefix(selector, "#"):
		id := selector[1:]
		match = func(n *html.Node) bool { return attrValue(n, "id") == id }
	case strings.HasPrefix(selector, "."):
		class := selector[1:]
		match = func(n *html.Node) bool {
			for _, c := range strings.Fields(attrValue(n, "class")) {
				if c == class {
					return true
				}
			}
			return false
		}
	default:
		match = func(n *html.Node) bool { return n.Data == selector }
	}

	var find func(n *html.Node) *html.Node
	find = func(n *html.Node) *html.Node {
		if n.Type == html.ElementNode && match(n) {
			return n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if found := find(c); found != nil {
				return found
			}
		}
		return nil
	}
	return find(root)
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func renderNode(n *html.Node) string {
	var sb strings.Builder
	_ = html.Render(&sb, n)
	return sb.String()
}

func pageTitle(root *html.Node) string {
	if t := findBySelector(root, "title"); t != nil && t.FirstChild != nil {
		return strings.TrimSpace(t.FirstChild.Data)
	}
	return ""
}

func collectHeadings(root *html.Node) []string {
	var headings []string
	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && len(n.Data) == 2 && n.Data[0] == 'h' && n.Data[1] >= '1' && n.Data[1] <= '6' {
			var sb strings.Builder
			var text func(*html.Node)
			text = func(node *html.Node) {
				if node.Type == html.TextNode {
					sb.WriteString(node.Data)
				}
				for c := node.FirstChild; c != nil; c = c.NextSibling {
					text(c)
				}
			}
			text(n)
			if h := strings.TrimSpace(sb.String()); h != "" {
				headings = append(headings, h)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(root)
	return headings
}
