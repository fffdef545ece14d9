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
	"strings"
	"time"

	"github.com/quiverkb/quiver/pkg/config"
	"github.com/quiverkb/quiver/pkg/models"
)

const jiraPageSize = 50

// JiraConnector fetches the issues of one project through the Jira REST API.
// Each issue becomes one text document combining summary, description and
// comments.
type JiraConnector struct {
	name      string
	projectID string
	cfg       *config.JiraSourceConfig
	client    *http.Client
}

// NewJiraConnector creates a jira connector.
func NewJiraConnector(name, projectID string, cfg *config.JiraSourceConfig) *JiraConnector {
	return &JiraConnector{
		name:      name,
		projectID: projectID,
		cfg:       cfg,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Type returns "jira".
func (c *JiraConnector) Type() string { return TypeJira }

// Name returns the configured instance name.
func (c *JiraConnector) Name() string { return c.name }

type jiraUser struct {
	DisplayName string `json:"displayName"`
}

type jiraIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string `json:"summary"`
		Description string `json:"description"`
		Created     string `json:"created"`
		Updated     string `json:"updated"`
		Labels      []string `json:"labels"`
		IssueType   struct {
			Name string `json:"name"`
		} `json:"issuetype"`
		Status struct {
			Name string `json:"name"`
		} `json:"status"`
		Priority struct {
			Name string `json:"name"`
		} `json:"priority"`
		Reporter   jiraUser `json:"reporter"`
		Assignee   jiraUser `json:"assignee"`
		IssueLinks []struct {
			OutwardIssue struct {
				Key string `json:"key"`
			} `json:"outwardIssue"`
			InwardIssue struct {
				Key string `json:"key"`
			} `json:"inwardIssue"`
		} `json:"issuelinks"`
		Comment struct {
			Comments []struct {
				Author jiraUser `json:"author"`
				Body   string   `json:"body"`
			} `json:"comments"`
		} `json:"comment"`
	} `json:"fields"`
}

type jiraSearchResponse struct {
	Issues []jiraIssue `json:"issues"`
	Total  int         `json:"total"`
}

// GetDocuments pages through the project's issues.
func (c *JiraConnector) GetDocuments(ctx context.Context) ([]*models.Document, error) {
	jql := c.cfg.JQL
	if jql == "" {
		jql = fmt.Sprintf("project = %s ORDER BY created ASC", c.cfg.ProjectKey)
	}

	var documents []*models.Document
	for start := 0; ; start += jiraPageSize {
		page, err := c.search(ctx, jql, start)
		if err != nil {
			return nil, fmt.Errorf("jira source %q: %w", c.name, err)
		}
		for i := range page.Issues {
			documents = append(documents, c.toDocument(&page.Issues[i]))
		}
		if start+len(page.Issues) >= page.Total || len(page.Issues) == 0 {
			break
		}
	}
	return documents, nil
}

func (c *JiraConnector) search(ctx context.Context, jql string, start int) (*jiraSearchResponse, error) {
	query := url.Values{}
	query.Set("jql", jql)
	query.Set("startAt", strconv.Itoa(start))
	query.Set("maxResults", strconv.Itoa(jiraPageSize))
	query.Set("fields", "summary,description,issuetype,status,priority,reporter,assignee,labels,issuelinks,comment,created,updated")

	endpoint := fmt.Sprintf("%s/rest/api/2/search?%s", c.cfg.BaseURL, query.Encode())
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

	var result jiraSearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

func (c *JiraConnector) toDocument(issue *jiraIssue) *models.Document {
	issueURL := fmt.Sprintf("%s/browse/%s", c.cfg.BaseURL, issue.Key)
	title := fmt.Sprintf("%s: %s", issue.Key, issue.Fields.Summary)

	var sb strings.Builder
	sb.WriteString(issue.Fields.Summary)
	if issue.Fields.Description != "" {
		sb.WriteString("\n\n")
		sb.WriteString(issue.Fields.Description)
	}
	for _, comment := range issue.Fields.Comment.Comments {
		fmt.Fprintf(&sb, "\n\nComment by %s:\n%s", comment.Author.DisplayName, comment.Body)
	}

	doc := models.NewDocument(TypeJira, c.name, issueURL, title)
	doc.ProjectID = c.projectID
	doc.Content = sb.String()
	doc.ContentType = "txt"
	if t, err := time.Parse("2006-01-02T15:04:05.000-0700", issue.Fields.Created); err == nil {
		doc.CreatedAt = t.UTC()
	}
	if t, err := time.Parse("2006-01-02T15:04:05.000-0700", issue.Fields.Updated); err == nil {
		doc.UpdatedAt = t.UTC()
	}

	var linked []string
	for _, link := range issue.Fields.IssueLinks {
		if link.OutwardIssue.Key != "" {
			linked = append(linked, link.OutwardIssue.Key)
		}
		if link.InwardIssue.Key != "" {
			linked = append(linked, link.InwardIssue.Key)
		}
	}

	doc.SetMetadata(MetaProjectKey, c.cfg.ProjectKey)
	doc.SetMetadata(MetaIssueKey, issue.Key)
	doc.SetMetadata(MetaIssueType, issue.Fields.IssueType.Name)
	doc.SetMetadata(MetaStatus, issue.Fields.Status.Name)
	doc.SetMetadata(MetaPriority, issue.Fields.Priority.Name)
	doc.SetMetadata(MetaReporter, issue.Fields.Reporter.DisplayName)
	doc.SetMetadata(MetaAssignee, issue.Fields.Assignee.DisplayName)
	doc.SetMetadata(MetaCommentCount, len(issue.Fields.Comment.Comments))
	if len(issue.Fields.Labels) > 0 {
		doc.SetMetadata(MetaLabels, issue.Fields.Labels)
	}
	if len(linked) > 0 {
		doc.SetMetadata(MetaLinkedIssues, linked)
	}
	return doc
}
