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

package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartTurnReturnsUsableSpan(t *testing.T) {
	tr := New()
	require.NotNil(t, tr)

	ctx, span := tr.StartTurn(context.Background(), "session-1", 3)
	require.NotNil(t, span)
	defer span.End()

	assert.NotNil(t, ctx)
}

func TestStartToolCallAndWorkerAttemptDoNotPanic(t *testing.T) {
	tr := New()
	ctx := context.Background()

	_, toolSpan := tr.StartToolCall(ctx, "web_search")
	toolSpan.End()

	_, workerSpan := tr.StartWorkerAttempt(ctx, "task-1", 2)
	workerSpan.End()

	_, runSpan := tr.StartTeamRun(ctx, "run-1", "ship the feature")
	runSpan.End()
}
