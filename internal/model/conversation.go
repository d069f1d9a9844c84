// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/localface/internal/ollama"
)

// =============================================================================
// CONVERSATION
// =============================================================================

// Conversation is an insertion-ordered sequence of messages. At most one
// message is pending or streaming at a time; the session enforces that.
//
// Not safe for concurrent use on its own; the owning session serializes
// all mutation.
type Conversation struct {
	ID        string
	CreatedAt time.Time
	Messages  []*Message
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
	}
}

// Append adds a message to the end of the conversation.
func (c *Conversation) Append(m *Message) {
	c.Messages = append(c.Messages, m)
}

// Remove deletes the message with the given ID. Returns false if no such
// message exists.
func (c *Conversation) Remove(id string) bool {
	for i, m := range c.Messages {
		if m.ID == id {
			c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the message with the given ID, or nil.
func (c *Conversation) Get(id string) *Message {
	for _, m := range c.Messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// Last returns the most recent message, or nil if empty.
func (c *Conversation) Last() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// LastUserMessage returns the most recent user message, or nil.
func (c *Conversation) LastUserMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i]
		}
	}
	return nil
}

// InFlight returns the message currently pending or streaming, or nil.
func (c *Conversation) InFlight() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if !c.Messages[i].Terminal() {
			return c.Messages[i]
		}
	}
	return nil
}

// History converts the conversation to wire messages for the next request.
// Only completed messages are included; pending, streaming, and failed
// messages never enter the history, and neither do empty completions.
func (c *Conversation) History() []ollama.Message {
	history := make([]ollama.Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if m.State != StateComplete {
			continue
		}
		text := m.Text()
		if text == "" {
			continue
		}
		history = append(history, ollama.Message{
			Role:    string(m.Role),
			Content: text,
		})
	}
	return history
}

// Clone returns a message-by-message copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	clone := &Conversation{
		ID:        c.ID,
		CreatedAt: c.CreatedAt,
		Messages:  make([]*Message, len(c.Messages)),
	}
	for i, m := range c.Messages {
		clone.Messages[i] = m.Clone()
	}
	return clone
}

// Clear removes all messages.
func (c *Conversation) Clear() {
	c.Messages = nil
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.Messages)
}
