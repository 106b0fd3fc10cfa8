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

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HyperBlaze456/ssenrah-sub000/pkg/policy"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(``))
	require.NoError(t, err)
	assert.Equal(t, policy.ProfileLocalPermissive, cfg.Policy.Profile)
	assert.Equal(t, 20, cfg.Runtime.Caps.MaxTasks)
	assert.Equal(t, "file", cfg.Checkpoint.Backend)
}

func TestParseRejectsUnknownProfile(t *testing.T) {
	_, err := Parse([]byte("policy:\n  profile: mystery\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a known profile")
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte("runtime:\n  caps:\n    worker_timeout: \"not-a-duration\"\n"))
	require.Error(t, err)
}

func TestResolveCapsFallsBackOnEmptyDurations(t *testing.T) {
	cfg, err := Parse([]byte(``))
	require.NoError(t, err)
	caps := cfg.Runtime.ResolveCaps()
	assert.Equal(t, 5, caps.MaxWorkers)
	assert.Equal(t, 120*time.Second, caps.WorkerTimeout)
}

func TestLoaderLoadReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("policy:\n  profile: strict\n"), 0644))

	loader, err := NewLoader(path)
	require.NoError(t, err)

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, policy.ProfileStrict, cfg.Policy.Profile)
}

func TestLoaderWatchSignalsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("policy:\n  profile: strict\n"), 0644))

	loader, err := NewLoader(path)
	require.NoError(t, err)
	defer loader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := loader.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("policy:\n  profile: managed\n"), 0644))

	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config change notification")
	}
}
