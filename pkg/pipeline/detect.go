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
	"fmt"

	"github.com/quiverkb/quiver/pkg/models"
	"github.com/quiverkb/quiver/pkg/state"
)

// Changes classifies a connector's current document set against ingestion
// history.
type Changes struct {
	New       []*models.Document
	Updated   []*models.Document
	Unchanged []*models.Document
	// Deleted holds document IDs present in history but absent from the
	// incoming set.
	Deleted []string
}

// ToProcess returns new plus updated documents.
func (c *Changes) ToProcess() []*models.Document {
	out := make([]*models.Document, 0, len(c.New)+len(c.Updated))
	out = append(out, c.New...)
	out = append(out, c.Updated...)
	return out
}

// ChangeDetector classifies documents by comparing content fingerprints with
// the state store.
type ChangeDetector struct {
	store *state.Store
}

// NewChangeDetector creates a detector over the given state store.
func NewChangeDetector(store *state.Store) *ChangeDetector {
	return &ChangeDetector{store: store}
}

// Detect classifies docs fetched for one source fingerprint. force treats
// every incoming document as changed regardless of its stored hash; deletion
// detection still runs.
func (d *ChangeDetector) Detect(ctx context.Context, docs []*models.Document, filter state.SourceFilter, force bool) (*Changes, error) {
	changes := &Changes{}
	incoming := make(map[string]bool, len(docs))

	for _, doc := range docs {
		incoming[doc.ID] = true
		prior, err := d.store.Get(ctx, doc.ID)
		switch {
		case errors.Is(err, state.ErrNotFound):
			changes.New = append(changes.New, doc)
		case err != nil:
			return nil, fmt.Errorf("change detection for %s: %w", doc.ID, err)
		case force || prior.ContentHash != doc.ContentHash():
			changes.Updated = append(changes.Updated, doc)
		default:
			changes.Unchanged = append(changes.Unchanged, doc)
		}
	}

	known, err := d.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("change detection listing: %w", err)
	}
	for _, st := range known {
		if !incoming[st.DocumentID] {
			changes.Deleted = append(changes.Deleted, st.DocumentID)
		}
	}
	return changes, nil
}
