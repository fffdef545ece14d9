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

// Package sources implements the document connectors: git, confluence, jira,
// publicdocs and localfile. Each connector fetches raw records, converts
// binary formats to markdown where possible, and emits Documents carrying the
// metadata downstream faceting depends on.
package sources

import (
	"context"
	"fmt"

	"github.com/quiverkb/quiver/pkg/config"
	"github.com/quiverkb/quiver/pkg/models"
)

// Source type names as recorded on documents and in ingestion state.
const (
	TypeGit        = "git"
	TypeConfluence = "confluence"
	TypeJira       = "jira"
	TypePublicDocs = "publicdocs"
	TypeLocalFile  = "localfile"
)

// Metadata keys produced by connectors.
const (
	MetaFilePath   = "file_path"
	MetaCommitHash = "commit_hash"
	MetaRepository = "repository"
	MetaBranch     = "branch"

	MetaSpaceKey  = "space_key"
	MetaPageID    = "page_id"
	MetaVersion   = "version"
	MetaLabels    = "labels"
	MetaAncestors = "ancestors"

	MetaProjectKey   = "project_key"
	MetaIssueKey     = "issue_key"
	MetaIssueType    = "issue_type"
	MetaStatus       = "status"
	MetaPriority     = "priority"
	MetaReporter     = "reporter"
	MetaAssignee     = "assignee"
	MetaLinkedIssues = "linked_issues"
	MetaCommentCount = "comment_count"

	MetaPath            = "path"
	MetaContentSelector = "content_selector"
	MetaHeadings        = "headings"

	MetaRelativePath = "relative_path"
	MetaFileSize     = "file_size"
	MetaMimeType     = "mime_type"
	MetaModifiedAt   = "modified_at"

	MetaConversionMethod = "conversion_method"
	MetaConversionFailed = "conversion_failed"
)

// Connector fetches documents from one configured source instance.
type Connector interface {
	// Type returns the source type name.
	Type() string

	// Name returns the instance name from configuration.
	Name() string

	// GetDocuments fetches all current documents of the source.
	GetDocuments(ctx context.Context) ([]*models.Document, error)
}

// AllTypes lists the supported source type names.
var AllTypes = []string{TypeGit, TypeConfluence, TypeJira, TypePublicDocs, TypeLocalFile}

// ForProject builds connectors for a project, optionally restricted to
// sourceTypes. Requesting a type the project does not configure is an error.
func ForProject(project *config.ProjectConfig, sourceTypes []string, converter *Converter) ([]Connector, error) {
	wanted := make(map[string]bool, len(sourceTypes))
	for _, st := range sourceTypes {
		wanted[st] = true
	}
	include := func(st string) bool {
		return len(wanted) == 0 || wanted[st]
	}

	var connectors []Connector
	if include(TypeGit) {
		for name, cfg := range project.Sources.Git {
			connectors = append(connectors, NewGitConnector(name, project.ProjectID, cfg, converter))
		}
	}
	if include(TypeConfluence) {
		for name, cfg := range project.Sources.Confluence {
			connectors = append(connectors, NewConfluenceConnector(name, project.ProjectID, cfg))
		}
	}
	if include(TypeJira) {
		for name, cfg := range project.Sources.Jira {
			connectors = append(connectors, NewJiraConnector(name, project.ProjectID, cfg))
		}
	}
	if include(TypePublicDocs) {
		for name, cfg := range project.Sources.PublicDocs {
			connectors = append(connectors, NewPublicDocsConnector(name, project.ProjectID, cfg))
		}
	}
	if include(TypeLocalFile) {
		for name, cfg := range project.Sources.LocalFile {
			connectors = append(connectors, NewLocalFileConnector(name, project.ProjectID, cfg, converter))
		}
	}

	for _, st := range sourceTypes {
		found := false
		for _, c := range connectors {
			if c.Type() == st {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("no sources found for type %s in project %s", st, project.ProjectID)
		}
	}
	return connectors, nil
}
