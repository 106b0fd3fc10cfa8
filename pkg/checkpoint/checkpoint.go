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

// Package checkpoint implements the Checkpoint Store described in
// spec.md §4.2: versioned JSON documents, one per session, describing the
// terminal state of a run, persisted under
// "<baseDir>/sessions/<sessionID>/checkpoints/<checkpointID>.json".
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/HyperBlaze456/ssenrah-sub000/pkg/session"
)

// Phase is the terminal phase recorded in a checkpoint.
type Phase string

const (
	PhaseCompleted  Phase = "completed"
	PhaseAwaitUser  Phase = "await_user"
	PhaseFailed     Phase = "failed"
)

func (p Phase) valid() bool {
	switch p {
	case PhaseCompleted, PhaseAwaitUser, PhaseFailed:
		return true
	}
	return false
}

// SchemaVersion is the only schema version this package accepts.
const SchemaVersion = 1

// Checkpoint is the terminal-state document described in spec.md §3.
type Checkpoint struct {
	SchemaVersion int            `json:"schemaVersion"`
	CheckpointID  string         `json:"checkpointId"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	Phase         Phase          `json:"phase"`
	Goal          string         `json:"goal"`
	Summary       string         `json:"summary,omitempty"`
	PolicyProfile string         `json:"policyProfile,omitempty"`
	PendingTasks  []string       `json:"pendingTasks,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Validate enforces the schema rules from spec.md §4.2: schemaVersion=1,
// non-empty checkpointId and goal, ISO timestamps (non-zero), and a
// recognized phase.
func (c *Checkpoint) Validate() error {
	if c == nil {
		return fmt.Errorf("checkpoint: nil")
	}
	if c.SchemaVersion != SchemaVersion {
		return fmt.Errorf("checkpoint: unsupported schemaVersion %d", c.SchemaVersion)
	}
	if c.CheckpointID == "" {
		return fmt.Errorf("checkpoint: checkpointId is required")
	}
	if c.Goal == "" {
		return fmt.Errorf("checkpoint: goal is required")
	}
	if c.CreatedAt.IsZero() || c.UpdatedAt.IsZero() {
		return fmt.Errorf("checkpoint: createdAt/updatedAt must be set")
	}
	if !c.Phase.valid() {
		return fmt.Errorf("checkpoint: unrecognized phase %q", c.Phase)
	}
	return nil
}

// Checkpointer is the Checkpoint Store contract: both the file-backed
// Store and the SQLiteStore implement it, so callers can pick a backend by
// config without caring which one they got.
type Checkpointer interface {
	Save(sessionID string, cp *Checkpoint) error
	LoadStrict(sessionID, checkpointID string) (*Checkpoint, error)
	LoadSafe(sessionID, checkpointID string) (*Checkpoint, bool)
}

// Store persists and retrieves checkpoints under a base directory following
// the filesystem layout in spec.md §6.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// Save writes cp atomically enough for single-writer use: it creates the
// checkpoints directory, then writes the file. Identifiers are validated
// (spec.md §6) before any filesystem operation.
func (s *Store) Save(sessionID string, cp *Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	dir, err := session.CheckpointsDir(s.baseDir, sessionID)
	if err != nil {
		return err
	}
	if err := session.EnsureDir(dir); err != nil {
		return fmt.Errorf("checkpoint: create checkpoints dir: %w", err)
	}
	path, err := session.CheckpointPath(s.baseDir, sessionID, cp.CheckpointID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("checkpoint: rename into place: %w", err)
	}
	return nil
}

// LoadStrict loads and validates a checkpoint, returning a parse or
// validation error on any problem.
func (s *Store) LoadStrict(sessionID, checkpointID string) (*Checkpoint, error) {
	path, err := session.CheckpointPath(s.baseDir, sessionID, checkpointID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint: parse: %w", err)
	}
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return &cp, nil
}

// LoadSafe returns (nil, false) on missing, corrupt, or invalid payloads
// instead of an error, for callers that just want "is there a checkpoint".
func (s *Store) LoadSafe(sessionID, checkpointID string) (*Checkpoint, bool) {
	cp, err := s.LoadStrict(sessionID, checkpointID)
	if err != nil {
		return nil, false
	}
	return cp, true
}
