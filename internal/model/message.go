// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model defines chat messages and conversations.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLES AND STATES
// =============================================================================

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// State is the lifecycle state of a message.
//
// User messages are created complete and never transition. Assistant
// messages start pending, move to streaming on the first delta, and end in
// complete or failed. Complete and failed are terminal: any further event
// for the message is silently ignored.
type State string

const (
	StatePending   State = "pending"
	StateStreaming State = "streaming"
	StateComplete  State = "complete"
	StateFailed    State = "failed"
)

// ErrorPlaceholder replaces the content of a failed message that received
// no text before the failure.
const ErrorPlaceholder = "Sorry, something went wrong generating a response."

// =============================================================================
// MESSAGE
// =============================================================================

// Message is a single chat message with its lifecycle state.
//
// Not safe for concurrent use on its own; the owning session serializes
// all mutation.
type Message struct {
	ID        string
	Role      Role
	State     State
	Err       error
	CreatedAt time.Time

	// PERFORMANCE: strings.Builder avoids quadratic allocations when
	// appending streamed deltas
	content strings.Builder
}

// NewUserMessage creates a complete user message.
func NewUserMessage(text string) *Message {
	m := &Message{
		ID:        uuid.New().String(),
		Role:      RoleUser,
		State:     StateComplete,
		CreatedAt: time.Now(),
	}
	m.content.WriteString(text)
	return m
}

// NewAssistantMessage creates a pending assistant placeholder.
func NewAssistantMessage() *Message {
	return &Message{
		ID:        uuid.New().String(),
		Role:      RoleAssistant,
		State:     StatePending,
		CreatedAt: time.Now(),
	}
}

// Text returns the message content accumulated so far.
func (m *Message) Text() string {
	return m.content.String()
}

// Terminal reports whether the message is in a terminal state.
func (m *Message) Terminal() bool {
	return m.State == StateComplete || m.State == StateFailed
}

// ApplyDelta appends a streamed content delta. The first delta moves a
// pending message to streaming; later deltas append in arrival order.
// Returns false if the message is already terminal (the delta is ignored).
func (m *Message) ApplyDelta(delta string) bool {
	if m.Terminal() {
		return false
	}
	if m.State == StatePending {
		m.State = StateStreaming
	}
	m.content.WriteString(delta)
	return true
}

// Complete marks the message complete. An empty completion is valid; the
// content stays empty. Returns false if the message is already terminal.
func (m *Message) Complete() bool {
	if m.Terminal() {
		return false
	}
	m.State = StateComplete
	return true
}

// Clone returns a copy of the message for reading.
func (m *Message) Clone() *Message {
	c := &Message{
		ID:        m.ID,
		Role:      m.Role,
		State:     m.State,
		Err:       m.Err,
		CreatedAt: m.CreatedAt,
	}
	c.content.WriteString(m.content.String())
	return c
}

// Fail marks the message failed, retaining err and any partial content.
// A message that received no text gets the fixed placeholder instead.
// Returns false if the message is already terminal.
func (m *Message) Fail(err error) bool {
	if m.Terminal() {
		return false
	}
	if m.content.Len() == 0 {
		m.content.WriteString(ErrorPlaceholder)
	}
	m.State = StateFailed
	m.Err = err
	return true
}
