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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/quiverkb/quiver/pkg/config"
	"github.com/quiverkb/quiver/pkg/models"
)

const confluencePageSize = 50

// ConfluenceConnector fetches the pages of one space through the Confluence
// REST API. Page bodies stay HTML; the HTML chunking strategy handles them.
type ConfluenceConnector struct {
	name      string
	projectID string
	cfg       *config.ConfluenceSourceConfig
	client    *http.Client
}

// NewConfluenceConnector creates a confluence connector.
func NewConfluenceConnector(name, projectID string, cfg *config.ConfluenceSourceConfig) *ConfluenceConnector {
	return &ConfluenceConnector{
		name:      name,
		projectID: projectID,
		cfg:       cfg,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Type returns "confluence".
func (c *ConfluenceConnector) Type() string { return TypeConfluence }

// Name returns the configured instance name.
func (c *ConfluenceConnector) Name() string { return c.name }

type confluencePage struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Version struct {
		Number int    `json:"number"`
		When   string `json:"when"`
	} `json:"version"`
	Metadata struct {
		Labels struct {
			Results []struct {
				Name string `json:"name"`
			} `json:"results"`
		} `json:"labels"`
	} `json:"metadata"`
	Ancestors []struct {
		Title string `json:"title"`
	} `json:"ancestors"`
	History struct {
		CreatedDate string `json:"createdDate"`
	} `json:"history"`
	Links struct {
		WebUI string `json:"webui"`
	} `json:"_links"`
}

type confluenceSearchResponse struct {
	Results []confluencePage `json:"results"`
	Size    int              `json:"size"`
}

// GetDocuments pages through the space content.
func (c *ConfluenceConnector) GetDocuments(ctx context.Context) ([]*models.Document, error) {
	var documents []*models.Document
	for start := 0; ; start += confluencePageSize {
		page, err := c.fetchPage(ctx, start)
		if err != nil {
			return nil, fmt.Errorf("confluence source %q: %w", c.name, err)
		}
		for i := range page.Results {
			doc := c.toDocument(&page.Results[i])
			if c.labelMatch(&page.Results[i]) {
				documents = append(documents, doc)
			}
		}
		if page.Size < confluencePageSize {
			break
		}
	}
	return documents, nil
}

func (c *ConfluenceConnector) fetchPage(ctx context.Context, start int) (*confluenceSearchResponse, error) {
	query := url.Values{}
	query.Set("spaceKey", c.cfg.SpaceKey)
	query.Set("type", "page")
	query.Set("status", "current")
	query.Set("expand", "body.storage,version,metadata.labels,ancestors,history")
	query.Set("limit", strconv.Itoa(confluencePageSize))
	query.Set("start", strconv.Itoa(start))

	endpoint := fmt.Sprintf("%s/rest/api/content?%s", c.cfg.BaseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.cfg.Token != "" {
		req.SetBasicAuth(c.cfg.Email, c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var result confluenceSearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

func (c *ConfluenceConnector) toDocument(page *confluencePage) *models.Document {
	pageURL := c.cfg.BaseURL + page.Links.WebUI
	doc := models.NewDocument(TypeConfluence, c.name, pageURL, page.Title)
	doc.ProjectID = c.projectID
	doc.Content = page.Body.Storage.Value
	doc.ContentType = "html"
	if t, err := time.Parse(time.RFC3339, page.History.CreatedDate); err == nil {
		doc.CreatedAt = t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, page.Version.When); err == nil {
		doc.UpdatedAt = t.UTC()
	}

	labels := make([]string, 0, len(page.Metadata.Labels.Results))
	for _, l := range page.Metadata.Labels.Results {
		labels = append(labels, l.Name)
	}
	ancestors := make([]string, 0, len(page.Ancestors))
	for _, a := range page.Ancestors {
		ancestors = append(ancestors, a.Title)
	}

	doc.SetMetadata(MetaSpaceKey, c.cfg.SpaceKey)
	doc.SetMetadata(MetaPageID, page.ID)
	doc.SetMetadata(MetaVersion, page.Version.Number)
	if len(labels) > 0 {
		doc.SetMetadata(MetaLabels, labels)
	}
	if len(ancestors) > 0 {
		doc.SetMetadata(MetaAncestors, ancestors)
	}
	return doc
}

// labelMatch applies the optional label filter.
func (c *ConfluenceConnector) labelMatch(page *confluencePage) bool {
	if len(c.cfg.Labels) == 0 {
		return true
	}
	have := make(map[string]bool)
	for _, l := range page.Metadata.Labels.Results {
		have[l.Name] = true
	}
	for _, want := range c.cfg.Labels {
		if have[want] {
			return true
		}
	}
	return false
}
