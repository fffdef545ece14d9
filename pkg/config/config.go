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

// Package config loads and validates the YAML configuration with environment
// variable substitution. The file has two top-level sections: global
// (embedding, vector store, state, chunking, pipeline parameters) and projects
// (project_id -> project definition).
package config

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/quiverkb/quiver/pkg/observability"
)

// projectIDPattern constrains project identifiers: letter-prefixed,
// alphanumeric plus underscore and dash.
var projectIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// Config is the root configuration document.
type Config struct {
	Global   GlobalConfig              `yaml:"global"`
	Projects map[string]*ProjectConfig `yaml:"projects"`
}

// GlobalConfig groups the shared subsystem settings.
type GlobalConfig struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	State     StateConfig     `yaml:"state"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Search    SearchConfig    `yaml:"search"`

	Tracing observability.TracingConfig `yaml:"tracing,omitempty"`
}

// ProjectConfig defines one project namespace.
type ProjectConfig struct {
	// ProjectID is filled from the map key during load.
	ProjectID   string         `yaml:"-"`
	DisplayName string         `yaml:"display_name"`
	Description string         `yaml:"description,omitempty"`
	Sources     SourcesConfig  `yaml:"sources"`
	Overrides   map[string]any `yaml:"overrides,omitempty"`
}

// SourcesConfig groups the configured connectors of a project.
type SourcesConfig struct {
	Git        map[string]*GitSourceConfig        `yaml:"git,omitempty"`
	Confluence map[string]*ConfluenceSourceConfig `yaml:"confluence,omitempty"`
	Jira       map[string]*JiraSourceConfig       `yaml:"jira,omitempty"`
	PublicDocs map[string]*PublicDocsSourceConfig `yaml:"publicdocs,omitempty"`
	LocalFile  map[string]*LocalFileSourceConfig  `yaml:"localfile,omitempty"`
}

// IsEmpty reports whether no sources are configured.
func (s *SourcesConfig) IsEmpty() bool {
	return len(s.Git) == 0 && len(s.Confluence) == 0 && len(s.Jira) == 0 &&
		len(s.PublicDocs) == 0 && len(s.LocalFile) == 0
}

// GitSourceConfig configures a Git repository source.
type GitSourceConfig struct {
	URL          string   `yaml:"url"`
	Branch       string   `yaml:"branch,omitempty"`
	Token        string   `yaml:"token,omitempty"`
	IncludePaths []string `yaml:"include_paths,omitempty"`
	ExcludePaths []string `yaml:"exclude_paths,omitempty"`
	FileTypes    []string `yaml:"file_types,omitempty"`
	MaxFileSize  int      `yaml:"max_file_size,omitempty"`
}

// ConfluenceSourceConfig configures a Confluence space source.
type ConfluenceSourceConfig struct {
	BaseURL  string   `yaml:"base_url"`
	SpaceKey string   `yaml:"space_key"`
	Email    string   `yaml:"email,omitempty"`
	Token    string   `yaml:"token,omitempty"`
	Labels   []string `yaml:"labels,omitempty"`
}

// JiraSourceConfig configures a Jira project source.
type JiraSourceConfig struct {
	BaseURL    string `yaml:"base_url"`
	ProjectKey string `yaml:"project_key"`
	Email      string `yaml:"email,omitempty"`
	Token      string `yaml:"token,omitempty"`
	JQL        string `yaml:"jql,omitempty"`
}

// PublicDocsSourceConfig configures a public documentation site source.
type PublicDocsSourceConfig struct {
	BaseURL         string   `yaml:"base_url"`
	Version         string   `yaml:"version,omitempty"`
	PathPattern     string   `yaml:"path_pattern,omitempty"`
	ContentSelector string   `yaml:"content_selector,omitempty"`
	Pages           []string `yaml:"pages,omitempty"`
}

// LocalFileSourceConfig configures a local directory source.
type LocalFileSourceConfig struct {
	BasePath        string   `yaml:"base_path"`
	IncludePatterns []string `yaml:"include_patterns,omitempty"`
	ExcludePatterns []string `yaml:"exclude_patterns,omitempty"`
	FileTypes       []string `yaml:"file_types,omitempty"`
	MaxFileSize     int      `yaml:"max_file_size,omitempty"`
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Global.Embedding.SetDefaults()
	c.Global.Qdrant.SetDefaults()
	c.Global.State.SetDefaults()
	c.Global.Chunking.SetDefaults()
	c.Global.Pipeline.SetDefaults(c.Global.Embedding.BatchSize)
	c.Global.Search.SetDefaults()
}

// Validate checks the whole document, including project identifier rules.
func (c *Config) Validate() error {
	if err := c.Global.Embedding.Validate(); err != nil {
		return fmt.Errorf("global.embedding: %w", err)
	}
	if err := c.Global.Qdrant.Validate(); err != nil {
		return fmt.Errorf("global.qdrant: %w", err)
	}
	if err := c.Global.State.Validate(); err != nil {
		return fmt.Errorf("global.state: %w", err)
	}
	if err := c.Global.Chunking.Validate(); err != nil {
		return fmt.Errorf("global.chunking: %w", err)
	}
	if err := c.Global.Pipeline.Validate(); err != nil {
		return fmt.Errorf("global.pipeline: %w", err)
	}

	for id, project := range c.Projects {
		if !projectIDPattern.MatchString(id) {
			return fmt.Errorf("invalid project_id %q: must match %s", id, projectIDPattern.String())
		}
		if project == nil {
			return fmt.Errorf("project %q has no body", id)
		}
		if project.DisplayName == "" {
			project.DisplayName = id
		}
	}

	return nil
}

// Project returns the named project or an error.
func (c *Config) Project(projectID string) (*ProjectConfig, error) {
	p, ok := c.Projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %q is not configured", projectID)
	}
	return p, nil
}

// ProjectIDs returns all configured project identifiers, sorted.
func (c *Config) ProjectIDs() []string {
	ids := make([]string, 0, len(c.Projects))
	for id := range c.Projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
