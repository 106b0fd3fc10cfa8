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

// Package mailbox implements the Priority Mailbox from spec.md §4.9: a
// typed, prioritized, TTL-aware message queue used by the Reconcile Loop
// and Team Coordinator to talk to the orchestrator, grounded on the
// severity-ranked alerting idiom of Hector's team state notifications.
package mailbox

import (
	"sort"
	"time"
)

// Priority ranks a Message: critical < high < normal < low (spec.md §4.9).
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityNormal:   2,
	PriorityLow:      3,
}

func rank(p Priority) int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank) // unknown priorities sort last
}

// Message is an envelope addressed to a recipient, with an optional topic
// and type for List filtering.
type Message struct {
	ID        string
	Recipient string
	Topic     string
	Type      string
	Priority  Priority
	Body      any
	CreatedAt time.Time
	TTL       time.Duration // zero means no expiry

	delivered bool
	expired   bool
}

// ListOptions filters and controls Mailbox.List.
type ListOptions struct {
	Topic            string
	Type             string
	IncludeDelivered bool
	IncludeExpired   bool
	Now              time.Time // defaults to time.Now() when zero
}

// Mailbox is an insertion-ordered, in-memory message store.
type Mailbox struct {
	messages []*Message
	byID     map[string]*Message
}

// New returns an empty Mailbox.
func New() *Mailbox {
	return &Mailbox{byID: map[string]*Message{}}
}

// Send appends msg, stamping CreatedAt if unset. Returns an error if a
// message with the same ID already exists.
func (m *Mailbox) Send(msg Message) error {
	if msg.ID == "" {
		return errMailbox("message id is required")
	}
	if _, exists := m.byID[msg.ID]; exists {
		return errMailbox("message id " + msg.ID + " already exists")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	stored := msg
	m.messages = append(m.messages, &stored)
	m.byID[msg.ID] = &stored
	return nil
}

// List returns messages for recipient matching opts, sorted by priority
// rank then CreatedAt ascending. By default only undelivered, unexpired
// messages are returned; reading an expired-but-unpruned message via List
// still marks it expired in place (spec.md §4.9 "expiry marks messages
// expired on read").
func (m *Mailbox) List(recipient string, opts ListOptions) []Message {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	var matched []*Message
	for _, msg := range m.messages {
		if msg.Recipient != recipient {
			continue
		}
		if opts.Topic != "" && msg.Topic != opts.Topic {
			continue
		}
		if opts.Type != "" && msg.Type != opts.Type {
			continue
		}
		if msg.TTL > 0 && !msg.expired && now.Sub(msg.CreatedAt) > msg.TTL {
			msg.expired = true
		}
		if msg.expired && !opts.IncludeExpired {
			continue
		}
		if msg.delivered && !opts.IncludeDelivered {
			continue
		}
		matched = append(matched, msg)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		ri, rj := rank(matched[i].Priority), rank(matched[j].Priority)
		if ri != rj {
			return ri < rj
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	out := make([]Message, len(matched))
	for i, msg := range matched {
		out[i] = *msg
	}
	return out
}

// Ack marks a message delivered. Returns an error if the message is
// unknown.
func (m *Mailbox) Ack(id string) error {
	msg, ok := m.byID[id]
	if !ok {
		return errMailbox("message id " + id + " does not exist")
	}
	msg.delivered = true
	return nil
}

// PruneExpired removes every message expired as of now and returns how
// many were removed.
func (m *Mailbox) PruneExpired(now time.Time) int {
	if now.IsZero() {
		now = time.Now()
	}
	kept := m.messages[:0]
	removed := 0
	for _, msg := range m.messages {
		if msg.TTL > 0 && now.Sub(msg.CreatedAt) > msg.TTL {
			delete(m.byID, msg.ID)
			removed++
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
	return removed
}

type mailboxError string

func (e mailboxError) Error() string { return "mailbox: " + string(e) }

func errMailbox(msg string) error { return mailboxError(msg) }
