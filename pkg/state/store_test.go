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

package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverkb/quiver/pkg/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(config.StateConfig{
		DatabasePath: filepath.Join(t.TempDir(), "state.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestUpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	st := &IngestionState{
		DocumentID:  "doc-1",
		ProjectID:   "p1",
		SourceType:  "localfile",
		Source:      "notes",
		ContentHash: "abc123",
		URL:         "file:///tmp/a.md",
		Title:       "A",
	}
	require.NoError(t, store.Upsert(ctx, st))

	got, err := store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ProjectID)
	assert.Equal(t, "abc123", got.ContentHash)
	assert.WithinDuration(t, time.Now().UTC(), got.LastIngestedAt, time.Minute)
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertReplacesHash(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, &IngestionState{
		DocumentID: "doc-1", ProjectID: "p1", SourceType: "git",
		Source: "repo", ContentHash: "v1",
	}))
	require.NoError(t, store.Upsert(ctx, &IngestionState{
		DocumentID: "doc-1", ProjectID: "p1", SourceType: "git",
		Source: "repo", ContentHash: "v2",
	}))

	got, err := store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.ContentHash)

	// Still a single row.
	all, err := store.List(ctx, SourceFilter{ProjectID: "p1"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestListFiltersBySourceFingerprint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := []*IngestionState{
		{DocumentID: "a", ProjectID: "p1", SourceType: "git", Source: "repo1", ContentHash: "h"},
		{DocumentID: "b", ProjectID: "p1", SourceType: "jira", Source: "PROJ", ContentHash: "h"},
		{DocumentID: "c", ProjectID: "p2", SourceType: "git", Source: "repo2", ContentHash: "h"},
	}
	for _, st := range seed {
		require.NoError(t, store.Upsert(ctx, st))
	}

	gitOnly, err := store.List(ctx, SourceFilter{SourceType: "git"})
	require.NoError(t, err)
	assert.Len(t, gitOnly, 2)

	p1Git, err := store.List(ctx, SourceFilter{ProjectID: "p1", SourceType: "git"})
	require.NoError(t, err)
	require.Len(t, p1Git, 1)
	assert.Equal(t, "a", p1Git[0].DocumentID)
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, &IngestionState{
		DocumentID: "doc-1", ProjectID: "p1", SourceType: "git", Source: "r", ContentHash: "h",
	}))
	require.NoError(t, store.Delete(ctx, "doc-1"))
	require.NoError(t, store.Delete(ctx, "doc-1"))

	_, err := store.Get(ctx, "doc-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
