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

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
global:
  embedding:
    model: text-embedding-3-small
    vector_size: 384
    batch_size: 10
  qdrant:
    url: http://localhost:6334
    collection_name: docs
  state:
    database_path: ":memory:"
projects:
  myproject:
    display_name: My Project
    sources:
      localfile:
        notes:
          base_path: /tmp/notes
`

func TestParseMinimalConfig(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 384, cfg.Global.Embedding.VectorSize)
	assert.Equal(t, "docs", cfg.Global.Qdrant.CollectionName)
	assert.Equal(t, ":memory:", cfg.Global.State.DatabasePath)

	project, err := cfg.Project("myproject")
	require.NoError(t, err)
	assert.Equal(t, "myproject", project.ProjectID)
	assert.Equal(t, "My Project", project.DisplayName)
	require.Contains(t, project.Sources.LocalFile, "notes")
	assert.Equal(t, "/tmp/notes", project.Sources.LocalFile["notes"].BasePath)
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 1500, cfg.Global.Chunking.ChunkSize)
	assert.Equal(t, 200, cfg.Global.Chunking.ChunkOverlap)
	assert.Equal(t, 500, cfg.Global.Chunking.MaxChunksPerDocument)
	assert.Equal(t, 10, cfg.Global.Pipeline.MaxChunkWorkers)
	assert.Equal(t, 4, cfg.Global.Pipeline.MaxEmbedWorkers)
	assert.Equal(t, 4, cfg.Global.Pipeline.MaxUpsertWorkers)
	assert.Equal(t, 1000, cfg.Global.Pipeline.QueueCapacity)
	// Upsert batch defaults to embedding batch size.
	assert.Equal(t, 10, cfg.Global.Pipeline.UpsertBatchSize)
	assert.Equal(t, 3600, cfg.Global.Pipeline.TimeoutSeconds)
	assert.InDelta(t, 0.6, cfg.Global.Search.VectorWeight, 1e-9)
	assert.InDelta(t, 0.3, cfg.Global.Search.KeywordWeight, 1e-9)
	assert.InDelta(t, 0.3, cfg.Global.Search.MinScore, 1e-9)
}

func TestEnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_QDRANT_URL", "http://qdrant.internal:6334")
	t.Setenv("TEST_BATCH", "25")

	yamlDoc := `
global:
  embedding:
    vector_size: 128
    batch_size: ${TEST_BATCH}
  qdrant:
    url: ${TEST_QDRANT_URL}
    collection_name: ${TEST_MISSING:-fallback}
  state:
    database_path: ":memory:"
projects: {}
`
	cfg, err := Parse([]byte(yamlDoc))
	require.NoError(t, err)

	assert.Equal(t, "http://qdrant.internal:6334", cfg.Global.Qdrant.URL)
	assert.Equal(t, 25, cfg.Global.Embedding.BatchSize)
	assert.Equal(t, "fallback", cfg.Global.Qdrant.CollectionName)
}

func TestInvalidProjectIDRejected(t *testing.T) {
	yamlDoc := `
global:
  embedding:
    vector_size: 128
  state:
    database_path: ":memory:"
projects:
  "1badname":
    display_name: Bad
`
	_, err := Parse([]byte(yamlDoc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project_id")
}

func TestOverlapAtLeastChunkSizeRejected(t *testing.T) {
	yamlDoc := `
global:
  embedding:
    vector_size: 128
  state:
    database_path: ":memory:"
  chunking:
    chunk_size: 100
    chunk_overlap: 100
projects: {}
`
	_, err := Parse([]byte(yamlDoc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_overlap")
}

func TestUnparseableYAMLRejected(t *testing.T) {
	_, err := Parse([]byte("global: [unclosed"))
	require.Error(t, err)
}

func TestResolveVectorSizeFallback(t *testing.T) {
	c := EmbeddingConfig{}
	size, fellBack := c.ResolveVectorSize()
	assert.Equal(t, DefaultVectorSize, size)
	assert.True(t, fellBack)

	c.VectorSize = 768
	size, fellBack = c.ResolveVectorSize()
	assert.Equal(t, 768, size)
	assert.False(t, fellBack)
}

func TestRedactedMasksSecrets(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)
	cfg.Global.Embedding.APIKey = "sk-super-secret"
	cfg.Global.Qdrant.APIKey = "qd-secret"

	out, err := cfg.Redacted()
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-super-secret")
	assert.NotContains(t, out, "qd-secret")
	assert.Contains(t, out, "***")
}
