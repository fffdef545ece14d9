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

package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverkb/quiver/pkg/chunking"
	"github.com/quiverkb/quiver/pkg/config"
	"github.com/quiverkb/quiver/pkg/embedder"
	"github.com/quiverkb/quiver/pkg/models"
	"github.com/quiverkb/quiver/pkg/nlp"
	"github.com/quiverkb/quiver/pkg/observability"
	"github.com/quiverkb/quiver/pkg/state"
	"github.com/quiverkb/quiver/pkg/vector"
)

const testVectorSize = 8

func testConfig(dir string) *config.Config {
	cfg := &config.Config{
		Projects: map[string]*config.ProjectConfig{
			"p1": {
				ProjectID: "p1",
				Sources: config.SourcesConfig{
					LocalFile: map[string]*config.LocalFileSourceConfig{
						"files": {BasePath: dir},
					},
				},
			},
		},
	}
	cfg.SetDefaults()
	cfg.Global.Embedding.VectorSize = testVectorSize
	return cfg
}

func newTestPipeline(t *testing.T, cfg *config.Config) (*Pipeline, *vector.MemoryStore, *state.Store) {
	t.Helper()
	stateDB, err := state.Open(config.StateConfig{DatabasePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = stateDB.Close() })

	store := vector.NewMemoryStore()
	chunker := chunking.NewService(cfg.Global.Chunking, nlp.NewAnalyzer(100))
	p := New(cfg, chunker, embedder.NewStaticEmbedder(testVectorSize), store, stateDB, observability.NewMetrics(), nil)
	return p, store, stateDB
}

func TestPipelineIngestsLocalFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("# Readme\n\nInstall with the tarball."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("Operational notes for the search tier."), 0o644))

	cfg := testConfig(dir)
	p, store, stateDB := newTestPipeline(t, cfg)

	results, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Contains(t, results, "p1")

	r := results["p1"]
	assert.Empty(t, r.Errors)
	assert.Equal(t, 0, r.ErrorCount)
	assert.Equal(t, 2, len(r.SuccessfullyProcessedDocuments))
	assert.Equal(t, 2, r.SuccessCount) // one chunk per small file
	assert.Equal(t, 2, store.Len())

	// State advanced for both documents.
	for id := range r.SuccessfullyProcessedDocuments {
		st, err := stateDB.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "p1", st.ProjectID)
		assert.NotEmpty(t, st.ContentHash)
	}
}

func TestPipelinePayloadFields(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guide.md"), []byte("# Guide\n\nShort body."), 0o644))

	cfg := testConfig(dir)
	p, store, _ := newTestPipeline(t, cfg)

	_, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)

	hits, err := store.KeywordSearch(context.Background(), []string{"short", "body"}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	payload := hits[0].Payload
	assert.Equal(t, "p1", payload[models.PayloadProjectID])
	assert.Equal(t, "localfile", payload[models.PayloadSourceType])
	assert.Equal(t, 0, payload[models.MetaChunkIndex])
	assert.Equal(t, 1, payload[models.MetaTotalChunks])
	assert.NotEmpty(t, payload[models.PayloadDocumentID])
	assert.NotEmpty(t, payload[models.PayloadContent])
}

func TestPipelineSkipsUnchanged(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("# Readme\n\nStable content."), 0o644))

	cfg := testConfig(dir)
	p, store, _ := newTestPipeline(t, cfg)

	_, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	second, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)
	r := second["p1"]
	assert.Equal(t, 0, r.SuccessCount)
	assert.Empty(t, r.SuccessfullyProcessedDocuments)
	assert.Equal(t, 1, store.Len())
}

func TestPipelineEmptyDocumentAdvancesState(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.txt"), []byte("\n\n  \n"), 0o644))

	cfg := testConfig(dir)
	p, store, stateDB := newTestPipeline(t, cfg)

	first, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)

	// Zero chunks is not a failure: the document counts as processed and
	// its fingerprint is committed.
	r := first["p1"]
	assert.Empty(t, r.Errors)
	assert.Equal(t, 0, r.SuccessCount)
	require.Equal(t, 1, len(r.SuccessfullyProcessedDocuments))
	assert.Equal(t, 0, store.Len())

	var docID string
	for id := range r.SuccessfullyProcessedDocuments {
		docID = id
	}
	st, err := stateDB.Get(context.Background(), docID)
	require.NoError(t, err)
	assert.NotEmpty(t, st.ContentHash)

	// The second run must classify it unchanged, not re-ingest it as new.
	second, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Empty(t, second["p1"].Errors)
	assert.Equal(t, 0, second["p1"].SuccessCount)
	assert.Empty(t, second["p1"].SuccessfullyProcessedDocuments)
}

func TestPipelineForceReingests(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("# Readme\n\nStable content."), 0o644))

	cfg := testConfig(dir)
	p, _, _ := newTestPipeline(t, cfg)

	_, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)

	forced, err := p.Run(context.Background(), Options{Force: true})
	require.NoError(t, err)
	r := forced["p1"]
	assert.Equal(t, 1, len(r.SuccessfullyProcessedDocuments))
	assert.Equal(t, 1, r.SuccessCount)
}

func TestPipelineUpdateReplacesChunks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")

	// Large enough for several chunks on the first pass.
	long := make([]byte, 0, 5000)
	for len(long) < 5000 {
		long = append(long, []byte("The ingestion pipeline splits long documents. ")...)
	}
	require.NoError(t, os.WriteFile(path, long, 0o644))

	cfg := testConfig(dir)
	p, store, _ := newTestPipeline(t, cfg)

	_, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)
	firstCount := store.Len()
	require.Greater(t, firstCount, 1)

	// Shrink the document. Stale chunks must not survive the update.
	require.NoError(t, os.WriteFile(path, []byte("Now just one line."), 0o644))
	results, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)

	r := results["p1"]
	assert.Equal(t, 1, len(r.SuccessfullyProcessedDocuments))
	assert.Equal(t, 1, store.Len())
}

func TestPipelineDeletionPropagates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doomed.txt")
	require.NoError(t, os.WriteFile(path, []byte("Soon to vanish."), 0o644))

	cfg := testConfig(dir)
	p, store, stateDB := newTestPipeline(t, cfg)

	first, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	var docID string
	for id := range first["p1"].SuccessfullyProcessedDocuments {
		docID = id
	}
	require.NotEmpty(t, docID)

	require.NoError(t, os.Remove(path))
	_, err = p.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 0, store.Len())
	_, err = stateDB.Get(context.Background(), docID)
	assert.True(t, errors.Is(err, state.ErrNotFound))
}

func TestPipelineProjectIsolation(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dirA, "a.txt"), []byte("alpha content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dirB, "b.txt"), []byte("beta content"), 0o644))

	cfg := testConfig(dirA)
	cfg.Projects["p2"] = &config.ProjectConfig{
		ProjectID: "p2",
		Sources: config.SourcesConfig{
			LocalFile: map[string]*config.LocalFileSourceConfig{
				"files": {BasePath: dirB},
			},
		},
	}

	p, store, _ := newTestPipeline(t, cfg)
	results, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, 2, store.Len())

	countA, err := store.CountByFilter(context.Background(), &vector.Filter{ProjectIDs: []string{"p1"}})
	require.NoError(t, err)
	countB, err := store.CountByFilter(context.Background(), &vector.Filter{ProjectIDs: []string{"p2"}})
	require.NoError(t, err)
	assert.Equal(t, 1, countA)
	assert.Equal(t, 1, countB)
}

func TestPipelineRunScopedToProject(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dirA, "a.txt"), []byte("alpha content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dirB, "b.txt"), []byte("beta content"), 0o644))

	cfg := testConfig(dirA)
	cfg.Projects["p2"] = &config.ProjectConfig{
		ProjectID: "p2",
		Sources: config.SourcesConfig{
			LocalFile: map[string]*config.LocalFileSourceConfig{
				"files": {BasePath: dirB},
			},
		},
	}

	p, store, _ := newTestPipeline(t, cfg)
	results, err := p.Run(context.Background(), Options{ProjectIDs: []string{"p2"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Contains(t, results, "p2")
	assert.Equal(t, 1, store.Len())
}

func TestPipelineUnknownProject(t *testing.T) {
	cfg := testConfig(t.TempDir())
	p, _, _ := newTestPipeline(t, cfg)

	_, err := p.Run(context.Background(), Options{ProjectIDs: []string{"ghost"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestPipelineUnknownSourceType(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0o644))

	cfg := testConfig(dir)
	p, _, _ := newTestPipeline(t, cfg)

	_, err := p.Run(context.Background(), Options{SourceTypes: []string{"git"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sources found for type git")
}

// stallEmbedder sleeps through its batch to push the run past the pipeline
// deadline.
type stallEmbedder struct {
	delay time.Duration
	inner *embedder.StaticEmbedder
}

func (s *stallEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.inner.Embed(ctx, text)
}

func (s *stallEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	time.Sleep(s.delay)
	return s.inner.EmbedBatch(context.Background(), texts)
}

func (s *stallEmbedder) Dimension() int { return s.inner.Dimension() }
func (s *stallEmbedder) Name() string   { return "stall" }
func (s *stallEmbedder) Close() error   { return nil }

func TestPipelineTimeout(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "slow.txt"), []byte("this one takes too long"), 0o644))

	cfg := testConfig(dir)
	cfg.Global.Pipeline.TimeoutSeconds = 1

	stateDB, err := state.Open(config.StateConfig{DatabasePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = stateDB.Close() })

	store := vector.NewMemoryStore()
	chunker := chunking.NewService(cfg.Global.Chunking, nlp.NewAnalyzer(100))
	slow := &stallEmbedder{delay: 2 * time.Second, inner: embedder.NewStaticEmbedder(testVectorSize)}
	p := New(cfg, chunker, slow, store, stateDB, observability.NewMetrics(), nil)

	results, err := p.Run(context.Background(), Options{})
	require.NoError(t, err)

	r := results["p1"]
	assert.Equal(t, 1, r.ErrorCount)
	require.NotEmpty(t, r.Errors)
	assert.Contains(t, r.Errors[0], "pipeline timed out")
	assert.Empty(t, r.SuccessfullyProcessedDocuments)
	assert.Equal(t, 0, store.Len())
}

func TestChangeDetectorClassifies(t *testing.T) {
	stateDB, err := state.Open(config.StateConfig{DatabasePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = stateDB.Close() })

	known := models.NewDocument("localfile", "files", "file:///known.txt", "known.txt")
	known.Content = "original"
	known.ProjectID = "p1"
	require.NoError(t, stateDB.Upsert(context.Background(), &state.IngestionState{
		DocumentID:     known.ID,
		ProjectID:      "p1",
		SourceType:     "localfile",
		Source:         "files",
		ContentHash:    known.ContentHash(),
		LastIngestedAt: time.Now().UTC(),
	}))
	gone := &state.IngestionState{
		DocumentID:     "deleted-doc",
		ProjectID:      "p1",
		SourceType:     "localfile",
		Source:         "files",
		ContentHash:    "stale",
		LastIngestedAt: time.Now().UTC(),
	}
	require.NoError(t, stateDB.Upsert(context.Background(), gone))

	changed := models.NewDocument("localfile", "files", "file:///known.txt", "known.txt")
	changed.Content = "rewritten"
	fresh := models.NewDocument("localfile", "files", "file:///fresh.txt", "fresh.txt")
	fresh.Content = "brand new"

	detector := NewChangeDetector(stateDB)
	filter := state.SourceFilter{ProjectID: "p1", SourceType: "localfile", Source: "files"}

	changes, err := detector.Detect(context.Background(), []*models.Document{changed, fresh}, filter, false)
	require.NoError(t, err)
	assert.Len(t, changes.New, 1)
	assert.Len(t, changes.Updated, 1)
	assert.Empty(t, changes.Unchanged)
	assert.Equal(t, []string{"deleted-doc"}, changes.Deleted)

	// Same content again: unchanged, unless forced.
	same := models.NewDocument("localfile", "files", "file:///known.txt", "known.txt")
	same.Content = "original"
	changes, err = detector.Detect(context.Background(), []*models.Document{same}, filter, false)
	require.NoError(t, err)
	assert.Len(t, changes.Unchanged, 1)

	changes, err = detector.Detect(context.Background(), []*models.Document{same}, filter, true)
	require.NoError(t, err)
	assert.Len(t, changes.Updated, 1)
}

func TestChunkTimeoutTiers(t *testing.T) {
	m := &ResourceMonitor{
		totalRAM: 16 << 30,
		lastRead: time.Now(), // pin cached pressure at 0
	}

	assert.InDelta(t, float64(30*time.Second), float64(m.ChunkTimeout(100, false, false)), float64(time.Second))
	assert.InDelta(t, float64(60*time.Second), float64(m.ChunkTimeout(1500, false, false)), float64(time.Second))
	assert.Less(t, m.ChunkTimeout(30<<10, false, false), m.ChunkTimeout(60<<10, false, false))

	// Multipliers stack but never exceed the cap.
	huge := m.ChunkTimeout(10<<20, true, true)
	assert.Equal(t, 600*time.Second, huge)

	wsl := &ResourceMonitor{isWSL: true, totalRAM: 16 << 30, lastRead: time.Now()}
	assert.Equal(t, 900*time.Second, wsl.ChunkTimeout(10<<20, true, true))
}
