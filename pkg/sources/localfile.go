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
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/quiverkb/quiver/pkg/config"
	"github.com/quiverkb/quiver/pkg/models"
)

// LocalFileConnector walks a directory tree and emits one document per
// matching file. Convertible binary formats go through the converter; other
// binary files are skipped.
type LocalFileConnector struct {
	name      string
	projectID string
	cfg       *config.LocalFileSourceConfig
	converter *Converter
}

// NewLocalFileConnector creates a localfile connector.
func NewLocalFileConnector(name, projectID string, cfg *config.LocalFileSourceConfig, converter *Converter) *LocalFileConnector {
	if converter == nil {
		converter = NewConverter(0, 0)
	}
	return &LocalFileConnector{name: name, projectID: projectID, cfg: cfg, converter: converter}
}

// Type returns "localfile".
func (c *LocalFileConnector) Type() string { return TypeLocalFile }

// Name returns the configured instance name.
func (c *LocalFileConnector) Name() string { return c.name }

// GetDocuments walks the base path.
func (c *LocalFileConnector) GetDocuments(ctx context.Context) ([]*models.Document, error) {
	base, err := filepath.Abs(c.cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base_path %q: %w", c.cfg.BasePath, err)
	}

	maxSize := int64(c.cfg.MaxFileSize)
	if maxSize <= 0 {
		maxSize = 10 * 1024 * 1024
	}

	var documents []*models.Document
	err = filepath.WalkDir(base, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() {
			if strings.HasPrefix(entry.Name(), ".") && path != base {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		if !c.matches(rel) {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxSize {
			return nil
		}

		doc, err := c.loadFile(ctx, path, rel, info)
		if err != nil || doc == nil {
			return err
		}
		documents = append(documents, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("localfile source %q: %w", c.name, err)
	}
	return documents, nil
}

func (c *LocalFileConnector) loadFile(ctx context.Context, path, rel string, info fs.FileInfo) (*models.Document, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")

	doc := models.NewDocument(TypeLocalFile, c.name, "file://"+path, rel)
	doc.ProjectID = c.projectID
	doc.ContentType = ext
	doc.CreatedAt = info.ModTime().UTC()
	doc.UpdatedAt = info.ModTime().UTC()
	doc.SetMetadata(MetaRelativePath, rel)
	doc.SetMetadata(MetaFileSize, info.Size())
	doc.SetMetadata(MetaMimeType, mimeType(ext))
	doc.SetMetadata(MetaModifiedAt, info.ModTime().UTC().Format(time.RFC3339))

	if c.converter.CanConvert(path) {
		c.converter.Apply(ctx, doc, path)
		return doc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(data) {
		// Unconvertible binary; skip silently.
		return nil, nil
	}
	doc.Content = string(data)
	return doc, nil
}

// matches applies file type and include/exclude pattern filters to a
// base-relative path.
func (c *LocalFileConnector) matches(rel string) bool {
	rel = filepath.ToSlash(rel)
	if len(c.cfg.FileTypes) > 0 {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(rel)), ".")
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
	for _, pattern := range c.cfg.ExcludePatterns {
		if matchPattern(pattern, rel) {
			return false
		}
	}
	if len(c.cfg.IncludePatterns) == 0 {
		return true
	}
	for _, pattern := range c.cfg.IncludePatterns {
		if matchPattern(pattern, rel) {
			return true
		}
	}
	return false
}

// matchPattern matches a glob against the full relative path and against its
// basename, with a "dir/**" prefix form for subtrees.
func matchPattern(pattern, rel string) bool {
	if strings.HasSuffix(pattern, "/**") {
		return strings.HasPrefix(rel, strings.TrimSuffix(pattern, "/**")+"/")
	}
	if ok, _ := filepath.Match(pattern, rel); ok {
		return true
	}
	ok, _ := filepath.Match(pattern, filepath.Base(rel))
	return ok
}

func mimeType(ext string) string {
	if ext == "" {
		return "application/octet-stream"
	}
	if mt := mime.TypeByExtension("." + ext); mt != "" {
		return mt
	}
	switch ext {
	case "md", "markdown":
		return "text/markdown"
	case "go", "py", "rs", "java":
		return "text/x-" + ext
	case "yml", "yaml":
		return "application/yaml"
	default:
		return "text/plain"
	}
}
