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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCheckpoint(id string) *Checkpoint {
	now := time.Now()
	return &Checkpoint{
		SchemaVersion: SchemaVersion,
		CheckpointID:  id,
		CreatedAt:     now,
		UpdatedAt:     now,
		Phase:         PhaseCompleted,
		Goal:          "ship the feature",
		Summary:       "done",
	}
}

func TestValidateRejectsUnrecognizedPhase(t *testing.T) {
	cp := sampleCheckpoint("cp-1")
	cp.Phase = "bogus"
	assert.Error(t, cp.Validate())
}

func TestStoreSaveAndLoadStrictRoundTrips(t *testing.T) {
	store := NewStore(t.TempDir())
	cp := sampleCheckpoint("cp-1")

	require.NoError(t, store.Save("session-1", cp))

	loaded, err := store.LoadStrict("session-1", "cp-1")
	require.NoError(t, err)
	assert.Equal(t, cp.Goal, loaded.Goal)
	assert.Equal(t, cp.Phase, loaded.Phase)
}

func TestStoreLoadSafeReturnsFalseForMissingCheckpoint(t *testing.T) {
	store := NewStore(t.TempDir())
	_, ok := store.LoadSafe("session-1", "missing")
	assert.False(t, ok)
}

func TestStoreSaveRejectsInvalidCheckpoint(t *testing.T) {
	store := NewStore(t.TempDir())
	err := store.Save("session-1", &Checkpoint{})
	assert.Error(t, err)
}
