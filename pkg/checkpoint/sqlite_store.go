// Copyright 2025 Kadir Pekel
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

package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const createCheckpointsTableSQL = `
CREATE TABLE IF NOT EXISTS checkpoints (
    session_id VARCHAR(255) NOT NULL,
    checkpoint_id VARCHAR(255) NOT NULL,
    phase VARCHAR(50) NOT NULL,
    document TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (session_id, checkpoint_id)
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_session_id ON checkpoints(session_id);
CREATE INDEX IF NOT EXISTS idx_checkpoints_updated_at ON checkpoints(updated_at);
`

// SQLiteStore is the config.CheckpointConfig "sqlite" backend: a
// database/sql-backed alternative to the file-backed Store, storing each
// checkpoint document as a JSON blob alongside its session and checkpoint
// ids for lookup.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a SQLite database at path and
// initializes the checkpoints table.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // go-sqlite3 serializes writes; avoid lock contention

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, createCheckpointsTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save upserts cp under sessionID, enforcing the same validation rules as
// the file-backed Store.
func (s *SQLiteStore) Save(sessionID string, cp *Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO checkpoints (session_id, checkpoint_id, phase, document, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(session_id, checkpoint_id) DO UPDATE SET
    phase = excluded.phase,
    document = excluded.document,
    updated_at = excluded.updated_at
`, sessionID, cp.CheckpointID, string(cp.Phase), string(data), cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("checkpoint: upsert: %w", err)
	}
	return nil
}

// LoadStrict loads and validates a checkpoint document.
func (s *SQLiteStore) LoadStrict(sessionID, checkpointID string) (*Checkpoint, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var document string
	err := s.db.QueryRowContext(ctx, `
SELECT document FROM checkpoints WHERE session_id = ? AND checkpoint_id = ?
`, sessionID, checkpointID).Scan(&document)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("checkpoint: not found: session=%s checkpoint=%s", sessionID, checkpointID)
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: query: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal([]byte(document), &cp); err != nil {
		return nil, fmt.Errorf("checkpoint: parse: %w", err)
	}
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return &cp, nil
}

// LoadSafe is LoadStrict without the error, for callers that just want
// "is there a checkpoint".
func (s *SQLiteStore) LoadSafe(sessionID, checkpointID string) (*Checkpoint, bool) {
	cp, err := s.LoadStrict(sessionID, checkpointID)
	if err != nil {
		return nil, false
	}
	return cp, true
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
