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

package mailbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListOrdersByPriorityThenTime(t *testing.T) {
	mb := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, mb.Send(Message{ID: "1", Recipient: "orchestrator", Priority: PriorityLow, CreatedAt: base}))
	require.NoError(t, mb.Send(Message{ID: "2", Recipient: "orchestrator", Priority: PriorityCritical, CreatedAt: base.Add(time.Second)}))
	require.NoError(t, mb.Send(Message{ID: "3", Recipient: "orchestrator", Priority: PriorityCritical, CreatedAt: base}))

	got := mb.List("orchestrator", ListOptions{Now: base.Add(time.Hour)})
	require.Len(t, got, 3)
	assert.Equal(t, "3", got[0].ID, "earlier critical message sorts first")
	assert.Equal(t, "2", got[1].ID)
	assert.Equal(t, "1", got[2].ID)
}

func TestListFiltersByRecipientTopicType(t *testing.T) {
	mb := New()
	require.NoError(t, mb.Send(Message{ID: "1", Recipient: "a", Topic: "caps", Type: "alert", Priority: PriorityHigh}))
	require.NoError(t, mb.Send(Message{ID: "2", Recipient: "b", Topic: "caps", Type: "alert", Priority: PriorityHigh}))
	require.NoError(t, mb.Send(Message{ID: "3", Recipient: "a", Topic: "other", Type: "alert", Priority: PriorityHigh}))

	got := mb.List("a", ListOptions{Topic: "caps"})
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)
}

func TestListExcludesDeliveredByDefault(t *testing.T) {
	mb := New()
	require.NoError(t, mb.Send(Message{ID: "1", Recipient: "a", Priority: PriorityNormal}))
	require.NoError(t, mb.Ack("1"))

	assert.Empty(t, mb.List("a", ListOptions{}))
	assert.Len(t, mb.List("a", ListOptions{IncludeDelivered: true}), 1)
}

func TestListMarksExpiredOnRead(t *testing.T) {
	mb := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, mb.Send(Message{ID: "1", Recipient: "a", Priority: PriorityNormal, CreatedAt: base, TTL: time.Minute}))

	assert.Empty(t, mb.List("a", ListOptions{Now: base.Add(time.Hour)}))
	assert.Len(t, mb.List("a", ListOptions{Now: base.Add(time.Hour), IncludeExpired: true}), 1)
}

func TestPruneExpiredRemovesMessages(t *testing.T) {
	mb := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, mb.Send(Message{ID: "1", Recipient: "a", Priority: PriorityNormal, CreatedAt: base, TTL: time.Minute}))
	require.NoError(t, mb.Send(Message{ID: "2", Recipient: "a", Priority: PriorityNormal, CreatedAt: base}))

	removed := mb.PruneExpired(base.Add(time.Hour))
	assert.Equal(t, 1, removed)
	assert.Len(t, mb.List("a", ListOptions{Now: base.Add(time.Hour)}), 1)
}

func TestAckUnknownMessageErrors(t *testing.T) {
	mb := New()
	assert.Error(t, mb.Ack("ghost"))
}

func TestSendRejectsDuplicateID(t *testing.T) {
	mb := New()
	require.NoError(t, mb.Send(Message{ID: "1", Recipient: "a"}))
	assert.Error(t, mb.Send(Message{ID: "1", Recipient: "a"}))
}
