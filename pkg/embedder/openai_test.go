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

package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverkb/quiver/pkg/config"
)

func embeddingServer(t *testing.T, dimension int, failures *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failures != nil && atomic.AddInt32(failures, -1) >= 0 {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
			return
		}

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		resp := embedResponse{}
		// Answer out of order to exercise index-based reassembly.
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, dimension)
			vec[0] = float32(i)
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: vec, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func testConfig(baseURL string) config.EmbeddingConfig {
	cfg := config.EmbeddingConfig{
		APIKey:     "test-key",
		BaseURL:    baseURL,
		VectorSize: 4,
		BatchSize:  2,
	}
	cfg.SetDefaults()
	return cfg
}

func TestOpenAIEmbedderBatchOrder(t *testing.T) {
	server := embeddingServer(t, 4, nil)
	defer server.Close()

	e, err := NewOpenAIEmbedder(testConfig(server.URL))
	require.NoError(t, err)

	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	// Sub-batches of 2: indexes restart per request.
	assert.Equal(t, float32(0), vectors[0][0])
	assert.Equal(t, float32(1), vectors[1][0])
	assert.Equal(t, float32(0), vectors[2][0])
}

func TestOpenAIEmbedderRetriesTransientFailure(t *testing.T) {
	failures := int32(1)
	server := embeddingServer(t, 4, &failures)
	defer server.Close()

	e, err := NewOpenAIEmbedder(testConfig(server.URL))
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
}

func TestOpenAIEmbedderExhaustsRetries(t *testing.T) {
	failures := int32(100)
	server := embeddingServer(t, 4, &failures)
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxRetries = 1
	e, err := NewOpenAIEmbedder(cfg)
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded")
}

func TestOpenAIEmbedderDimensionMismatch(t *testing.T) {
	server := embeddingServer(t, 8, nil)
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxRetries = 1
	e, err := NewOpenAIEmbedder(cfg)
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestOpenAIEmbedderRequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(config.EmbeddingConfig{})
	require.Error(t, err)
}

func TestOpenAIEmbedderEmptyBatch(t *testing.T) {
	e, err := NewOpenAIEmbedder(testConfig("http://unused.invalid"))
	require.NoError(t, err)
	vectors, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestStaticEmbedderDeterministic(t *testing.T) {
	e := NewStaticEmbedder(32)
	a1, err := e.Embed(context.Background(), "rest api authentication")
	require.NoError(t, err)
	a2, err := e.Embed(context.Background(), "rest api authentication")
	require.NoError(t, err)
	assert.Equal(t, a1, a2)

	b, err := e.Embed(context.Background(), "kubernetes deployment yaml")
	require.NoError(t, err)
	assert.NotEqual(t, a1, b)
	assert.Equal(t, 32, e.Dimension())
}
