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
	"fmt"
	"os"
	"strconv"
)

// DefaultVectorSize is the fallback embedding dimension when neither the
// config nor LLM_VECTOR_SIZE specifies one. A warning is emitted on fallback.
const DefaultVectorSize = 1536

// EmbeddingConfig configures the embedding provider client.
type EmbeddingConfig struct {
	// BaseURL of an OpenAI-compatible embeddings endpoint.
	BaseURL string `yaml:"base_url,omitempty"`
	// APIKey defaults to OPENAI_API_KEY.
	APIKey string `yaml:"api_key,omitempty"`
	Model  string `yaml:"model,omitempty"`
	// VectorSize is the dense vector dimension D. Zero means "not configured";
	// LLM_VECTOR_SIZE is consulted, then DefaultVectorSize with a warning.
	VectorSize int `yaml:"vector_size,omitempty"`
	BatchSize  int `yaml:"batch_size,omitempty"`
	// TimeoutSeconds bounds one batch call.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
	MaxRetries     int `yaml:"max_retries,omitempty"`
}

// SetDefaults applies default values.
func (c *EmbeddingConfig) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.VectorSize == 0 {
		if v := os.Getenv("LLM_VECTOR_SIZE"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.VectorSize = n
			}
		}
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 300
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

// Validate checks the configuration.
func (c *EmbeddingConfig) Validate() error {
	if c.VectorSize < 0 {
		return fmt.Errorf("vector_size must be non-negative, got %d", c.VectorSize)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	return nil
}

// ResolveVectorSize returns the configured dimension, falling back to
// DefaultVectorSize. The boolean reports whether the fallback was taken.
func (c *EmbeddingConfig) ResolveVectorSize() (int, bool) {
	if c.VectorSize > 0 {
		return c.VectorSize, false
	}
	return DefaultVectorSize, true
}

// QdrantConfig configures the vector store client.
type QdrantConfig struct {
	// URL of the Qdrant server; QDRANT_URL overrides.
	URL string `yaml:"url,omitempty"`
	// APIKey defaults to QDRANT_API_KEY.
	APIKey string `yaml:"api_key,omitempty"`
	// CollectionName is the single global collection; QDRANT_COLLECTION_NAME
	// overrides.
	CollectionName string `yaml:"collection_name,omitempty"`
	UseTLS         bool   `yaml:"use_tls,omitempty"`
}

// SetDefaults applies default values, honoring the QDRANT_* environment.
func (c *QdrantConfig) SetDefaults() {
	if v := os.Getenv("QDRANT_URL"); v != "" {
		c.URL = v
	}
	if c.URL == "" {
		c.URL = "http://localhost:6334"
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("QDRANT_API_KEY")
	}
	if v := os.Getenv("QDRANT_COLLECTION_NAME"); v != "" {
		c.CollectionName = v
	}
	if c.CollectionName == "" {
		c.CollectionName = "documents"
	}
}

// Validate checks the configuration.
func (c *QdrantConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	if c.CollectionName == "" {
		return fmt.Errorf("collection_name is required")
	}
	return nil
}

// StateConfig configures the relational ingestion-state store.
type StateConfig struct {
	// DatabasePath of the SQLite file; STATE_DB_PATH overrides. ":memory:" is
	// accepted for tests.
	DatabasePath string `yaml:"database_path,omitempty"`
	PoolSize     int    `yaml:"pool_size,omitempty"`
	// TimeoutSeconds bounds connection acquisition.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// SetDefaults applies default values.
func (c *StateConfig) SetDefaults() {
	if v := os.Getenv("STATE_DB_PATH"); v != "" {
		c.DatabasePath = v
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "quiver_state.db"
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 5
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
}

// Validate checks the configuration.
func (c *StateConfig) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	return nil
}

// ChunkingConfig configures the chunking strategies. Per-strategy caps mirror
// the strategy descriptions in the chunking service.
type ChunkingConfig struct {
	ChunkSize            int `yaml:"chunk_size,omitempty"`
	ChunkOverlap         int `yaml:"chunk_overlap,omitempty"`
	MaxChunksPerDocument int `yaml:"max_chunks_per_document,omitempty"`

	HTML struct {
		SimpleParsingThreshold int `yaml:"simple_parsing_threshold,omitempty"`
		MaxSectionsToProcess   int `yaml:"max_sections_to_process,omitempty"`
		MaxChunkSizeForNLP     int `yaml:"max_chunk_size_for_nlp,omitempty"`
	} `yaml:"html,omitempty"`

	Code struct {
		MaxFileSizeForAST    int `yaml:"max_file_size_for_ast,omitempty"`
		MaxRecursionDepth    int `yaml:"max_recursion_depth,omitempty"`
		MaxElementsToProcess int `yaml:"max_elements_to_process,omitempty"`
		MaxElementSize       int `yaml:"max_element_size,omitempty"`
	} `yaml:"code,omitempty"`

	JSON struct {
		MaxJSONSizeForParsing  int  `yaml:"max_json_size_for_parsing,omitempty"`
		MaxRecursionDepth      int  `yaml:"max_recursion_depth,omitempty"`
		MaxObjectsToProcess    int  `yaml:"max_objects_to_process,omitempty"`
		MaxObjectKeysToProcess int  `yaml:"max_object_keys_to_process,omitempty"`
		MaxArrayItemsPerChunk  int  `yaml:"max_array_items_per_chunk,omitempty"`
		EnableSchemaInference  bool `yaml:"enable_schema_inference,omitempty"`
	} `yaml:"json,omitempty"`
}

// SetDefaults applies default values.
func (c *ChunkingConfig) SetDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1500
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = 200
	}
	if c.MaxChunksPerDocument <= 0 {
		c.MaxChunksPerDocument = 500
	}
	if c.HTML.SimpleParsingThreshold <= 0 {
		c.HTML.SimpleParsingThreshold = 100000
	}
	if c.HTML.MaxSectionsToProcess <= 0 {
		c.HTML.MaxSectionsToProcess = 200
	}
	if c.HTML.MaxChunkSizeForNLP <= 0 {
		c.HTML.MaxChunkSizeForNLP = 20000
	}
	if c.Code.MaxFileSizeForAST <= 0 {
		c.Code.MaxFileSizeForAST = 75000
	}
	if c.Code.MaxRecursionDepth <= 0 {
		c.Code.MaxRecursionDepth = 8
	}
	if c.Code.MaxElementsToProcess <= 0 {
		c.Code.MaxElementsToProcess = 800
	}
	if c.Code.MaxElementSize <= 0 {
		c.Code.MaxElementSize = 20000
	}
	if c.JSON.MaxJSONSizeForParsing <= 0 {
		c.JSON.MaxJSONSizeForParsing = 1000000
	}
	if c.JSON.MaxRecursionDepth <= 0 {
		c.JSON.MaxRecursionDepth = 5
	}
	if c.JSON.MaxObjectsToProcess <= 0 {
		c.JSON.MaxObjectsToProcess = 200
	}
	if c.JSON.MaxObjectKeysToProcess <= 0 {
		c.JSON.MaxObjectKeysToProcess = 100
	}
	if c.JSON.MaxArrayItemsPerChunk <= 0 {
		c.JSON.MaxArrayItemsPerChunk = 50
	}
}

// Validate checks the configuration. chunk_overlap >= chunk_size is the one
// rejection the boundary contract requires.
func (c *ChunkingConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("chunk_overlap must be non-negative, got %d", c.ChunkOverlap)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be less than chunk_size (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	return nil
}

// PipelineConfig configures the worker stages.
type PipelineConfig struct {
	MaxChunkWorkers  int `yaml:"max_chunk_workers,omitempty"`
	MaxEmbedWorkers  int `yaml:"max_embed_workers,omitempty"`
	MaxUpsertWorkers int `yaml:"max_upsert_workers,omitempty"`
	QueueCapacity    int `yaml:"queue_capacity,omitempty"`
	// UpsertBatchSize defaults to the embedding batch size.
	UpsertBatchSize int `yaml:"upsert_batch_size,omitempty"`
	// TimeoutSeconds bounds one whole pipeline invocation.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// SetDefaults applies default values; the upsert batch size inherits the
// embedding batch size when unset.
func (c *PipelineConfig) SetDefaults(embedBatchSize int) {
	if c.MaxChunkWorkers <= 0 {
		c.MaxChunkWorkers = 10
	}
	if c.MaxEmbedWorkers <= 0 {
		c.MaxEmbedWorkers = 4
	}
	if c.MaxUpsertWorkers <= 0 {
		c.MaxUpsertWorkers = 4
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1000
	}
	if c.UpsertBatchSize <= 0 {
		if embedBatchSize > 0 {
			c.UpsertBatchSize = embedBatchSize
		} else {
			c.UpsertBatchSize = 50
		}
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 3600
	}
}

// Validate checks the configuration.
func (c *PipelineConfig) Validate() error {
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive, got %d", c.QueueCapacity)
	}
	return nil
}

// SearchConfig configures the hybrid engine defaults.
type SearchConfig struct {
	VectorWeight   float64 `yaml:"vector_weight,omitempty"`
	KeywordWeight  float64 `yaml:"keyword_weight,omitempty"`
	MetadataWeight float64 `yaml:"metadata_weight,omitempty"`
	MinScore       float64 `yaml:"min_score,omitempty"`
	// EnableIntent toggles intent classification ahead of retrieval.
	EnableIntent bool `yaml:"enable_intent,omitempty"`
	// CacheSize bounds the process-wide intent/analysis/similarity caches.
	CacheSize int `yaml:"cache_size,omitempty"`
}

// SetDefaults applies default values.
func (c *SearchConfig) SetDefaults() {
	if c.VectorWeight == 0 {
		c.VectorWeight = 0.6
	}
	if c.KeywordWeight == 0 {
		c.KeywordWeight = 0.3
	}
	if c.MetadataWeight == 0 {
		c.MetadataWeight = 0.1
	}
	if c.MinScore == 0 {
		c.MinScore = 0.3
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 1000
	}
}
