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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreSaveAndLoadStrictRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	cp := sampleCheckpoint("cp-1")
	require.NoError(t, store.Save("session-1", cp))

	loaded, err := store.LoadStrict("session-1", "cp-1")
	require.NoError(t, err)
	assert.Equal(t, cp.Goal, loaded.Goal)
	assert.Equal(t, cp.Phase, loaded.Phase)
}

func TestSQLiteStoreSaveUpsertsExistingCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	cp := sampleCheckpoint("cp-1")
	require.NoError(t, store.Save("session-1", cp))

	cp.Summary = "revised"
	require.NoError(t, store.Save("session-1", cp))

	loaded, err := store.LoadStrict("session-1", "cp-1")
	require.NoError(t, err)
	assert.Equal(t, "revised", loaded.Summary)
}

func TestSQLiteStoreLoadSafeReturnsFalseForMissingCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.LoadSafe("session-1", "missing")
	assert.False(t, ok)
}

func TestSQLiteStoreSatisfiesCheckpointer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	var _ Checkpointer = store
}
