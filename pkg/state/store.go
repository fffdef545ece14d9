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

// Package state persists per-document ingestion history in SQLite. Change
// detection reads this table to classify incoming documents as new, updated,
// unchanged, or deleted.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quiverkb/quiver/pkg/config"
)

// ErrNotFound is returned when no ingestion state exists for a document.
var ErrNotFound = errors.New("ingestion state not found")

// IngestionState is the persisted record of the last-seen version of a
// document.
type IngestionState struct {
	DocumentID     string
	ProjectID      string
	SourceType     string
	Source         string
	ContentHash    string
	LastIngestedAt time.Time
	URL            string
	Title          string
}

// SourceFilter scopes listing to a source fingerprint. Empty fields match
// everything.
type SourceFilter struct {
	ProjectID  string
	SourceType string
	Source     string
}

const createIngestionHistorySQL = `
CREATE TABLE IF NOT EXISTS qdrant_loader_ingestion_history (
    document_id VARCHAR(255) NOT NULL PRIMARY KEY,
    project_id VARCHAR(255) NOT NULL,
    source_type VARCHAR(64) NOT NULL,
    source VARCHAR(255) NOT NULL,
    content_hash VARCHAR(64) NOT NULL,
    last_ingested_at TIMESTAMP NOT NULL,
    url TEXT,
    title TEXT
);

CREATE INDEX IF NOT EXISTS idx_ingestion_project ON qdrant_loader_ingestion_history(project_id);
CREATE INDEX IF NOT EXISTS idx_ingestion_source ON qdrant_loader_ingestion_history(source_type, source);
`

// Store wraps the relational state database. Writes for different documents
// may proceed concurrently; database/sql provides the connection gate.
type Store struct {
	db *sql.DB
}

// Open opens (and initializes) the state database from configuration.
func Open(cfg config.StateConfig) (*Store, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid state config: %w", err)
	}

	dsn := cfg.DatabasePath
	if dsn == ":memory:" {
		// Shared cache keeps the schema visible across pooled connections.
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to state database at %s: %w", cfg.DatabasePath, err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize state schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, createIngestionHistorySQL)
	return err
}

// Get returns the ingestion state for a document, or ErrNotFound.
func (s *Store) Get(ctx context.Context, documentID string) (*IngestionState, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT document_id, project_id, source_type, source, content_hash, last_ingested_at, url, title
FROM qdrant_loader_ingestion_history WHERE document_id = ?`, documentID)

	st := &IngestionState{}
	err := row.Scan(&st.DocumentID, &st.ProjectID, &st.SourceType, &st.Source,
		&st.ContentHash, &st.LastIngestedAt, &st.URL, &st.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ingestion state for %s: %w", documentID, err)
	}
	return st, nil
}

// Upsert creates or replaces the ingestion state for a document. Callers
// invoke this only after the vector store acknowledged every chunk.
func (s *Store) Upsert(ctx context.Context, st *IngestionState) error {
	if st.DocumentID == "" {
		return fmt.Errorf("document_id is required")
	}
	if st.LastIngestedAt.IsZero() {
		st.LastIngestedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO qdrant_loader_ingestion_history
    (document_id, project_id, source_type, source, content_hash, last_ingested_at, url, title)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(document_id) DO UPDATE SET
    project_id = excluded.project_id,
    source_type = excluded.source_type,
    source = excluded.source,
    content_hash = excluded.content_hash,
    last_ingested_at = excluded.last_ingested_at,
    url = excluded.url,
    title = excluded.title`,
		st.DocumentID, st.ProjectID, st.SourceType, st.Source,
		st.ContentHash, st.LastIngestedAt, st.URL, st.Title)
	if err != nil {
		return fmt.Errorf("failed to upsert ingestion state for %s: %w", st.DocumentID, err)
	}
	return nil
}

// Delete removes the state row for a document. Deleting a missing row is not
// an error.
func (s *Store) Delete(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM qdrant_loader_ingestion_history WHERE document_id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete ingestion state for %s: %w", documentID, err)
	}
	return nil
}

// List returns all state rows matching the filter.
func (s *Store) List(ctx context.Context, filter SourceFilter) ([]*IngestionState, error) {
	query := `
SELECT document_id, project_id, source_type, source, content_hash, last_ingested_at, url, title
FROM qdrant_loader_ingestion_history WHERE 1=1`
	args := make([]any, 0, 3)

	if filter.ProjectID != "" {
		query += " AND project_id = ?"
		args = append(args, filter.ProjectID)
	}
	if filter.SourceType != "" {
		query += " AND source_type = ?"
		args = append(args, filter.SourceType)
	}
	if filter.Source != "" {
		query += " AND source = ?"
		args = append(args, filter.Source)
	}
	query += " ORDER BY document_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingestion state: %w", err)
	}
	defer rows.Close()

	var states []*IngestionState
	for rows.Next() {
		st := &IngestionState{}
		if err := rows.Scan(&st.DocumentID, &st.ProjectID, &st.SourceType, &st.Source,
			&st.ContentHash, &st.LastIngestedAt, &st.URL, &st.Title); err != nil {
			return nil, fmt.Errorf("failed to scan ingestion state: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
