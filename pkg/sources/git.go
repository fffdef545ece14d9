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
	"os"
	"path"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/quiverkb/quiver/pkg/config"
	"github.com/quiverkb/quiver/pkg/models"
)

// GitConnector clones a repository at depth 1 and emits one document per
// tracked file at the branch head.
type GitConnector struct {
	name      string
	projectID string
	cfg       *config.GitSourceConfig
	converter *Converter

	// cloneDir overrides the temp clone location in tests.
	cloneDir string
}

// NewGitConnector creates a git connector.
func NewGitConnector(name, projectID string, cfg *config.GitSourceConfig, converter *Converter) *GitConnector {
	if converter == nil {
		converter = NewConverter(0, 0)
	}
	return &GitConnector{name: name, projectID: projectID, cfg: cfg, converter: converter}
}

// Type returns "git".
func (c *GitConnector) Type() string { return TypeGit }

// Name returns the configured instance name.
func (c *GitConnector) Name() string { return c.name }

// GetDocuments clones the configured branch and walks the head tree.
func (c *GitConnector) GetDocuments(ctx context.Context) ([]*models.Document, error) {
	dir := c.cloneDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "quiver-git-*")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	branch := c.cfg.Branch
	if branch == "" {
		branch = "main"
	}

	options := &git.CloneOptions{
		URL:           c.cfg.URL,
		SingleBranch:  true,
		Depth:         1,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
	}
	if c.cfg.Token != "" {
		options.Auth = &githttp.BasicAuth{Username: "git", Password: c.cfg.Token}
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, options)
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", c.cfg.URL, err)
	}
	return c.collect(ctx, repo, branch)
}

func (c *GitConnector) collect(ctx context.Context, repo *git.Repository, branch string) ([]*models.Document, error) {
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to load head commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to load head tree: %w", err)
	}

	repoName := repositoryName(c.cfg.URL)
	commitHash := head.Hash().String()
	maxSize := int64(c.cfg.MaxFileSize)
	if maxSize <= 0 {
		maxSize = 1024 * 1024
	}

	var documents []*models.Document
	err = tree.Files().ForEach(func(f *object.File) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if f.Size > maxSize || !c.matches(f.Name) {
			return nil
		}
		isBinary, err := f.IsBinary()
		if err != nil || isBinary {
			return nil
		}
		content, err := f.Contents()
		if err != nil {
			return nil
		}

		doc := models.NewDocument(TypeGit, c.name, c.cfg.URL+"/"+f.Name, f.Name)
		doc.ProjectID = c.projectID
		doc.Content = content
		doc.ContentType = strings.TrimPrefix(strings.ToLower(path.Ext(f.Name)), ".")
		doc.CreatedAt = commit.Author.When.UTC()
		doc.UpdatedAt = commit.Author.When.UTC()
		doc.SetMetadata(MetaFilePath, f.Name)
		doc.SetMetadata(MetaCommitHash, commitHash)
		doc.SetMetadata(MetaRepository, repoName)
		doc.SetMetadata(MetaBranch, branch)
		documents = append(documents, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("git source %q: %w", c.name, err)
	}
	return documents, nil
}

// matches applies file type and include/exclude path filters.
func (c *GitConnector) matches(filePath string) bool {
	if len(c.cfg.FileTypes) > 0 {
		ext := strings.TrimPrefix(strings.ToLower(path.Ext(filePath)), ".")
		found := false
		for _, t := range c.cfg.FileTypes {
			if strings.TrimPrefix(strings.ToLower(t), ".") == ext {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, pattern := range c.cfg.ExcludePaths {
		if matchPattern(pattern, filePath) {
			return false
		}
	}
	if len(c.cfg.IncludePaths) == 0 {
		return true
	}
	for _, pattern := range c.cfg.IncludePaths {
		if matchPattern(pattern, filePath) {
			return true
		}
	}
	return false
}

func repositoryName(url string) string {
	name := strings.TrimSuffix(url, ".git")
	name = strings.TrimSuffix(name, "/")
	if i := strings.LastIndexAny(name, "/:"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
