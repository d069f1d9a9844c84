// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversations as JSON files on disk.
package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/localface/internal/model"
	"github.com/jeranaias/localface/internal/util"
)

// ErrConversationNotFound is returned when a conversation ID does not
// exist in the store.
var ErrConversationNotFound = errors.New("conversation not found")

// =============================================================================
// STORED TYPES
// =============================================================================

// StoredMessage is the on-disk form of a message. Only terminal messages
// are persisted; an in-flight message never reaches disk.
type StoredMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// StoredConversation is the on-disk form of a conversation.
type StoredConversation struct {
	ID        string          `json:"id"`
	Model     string          `json:"model,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Messages  []StoredMessage `json:"messages"`
}

// ConversationMeta is a listing entry, cheap enough to show in a picker.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// =============================================================================
// STORE
// =============================================================================

// Store is a directory of conversation JSON files with a retention cap.
type Store struct {
	dir string
	max int
}

// NewStore creates a store rooted at dir, keeping at most max
// conversations. The directory is created on first save.
func NewStore(dir string, max int) *Store {
	if max < 1 {
		max = 1
	}
	return &Store{dir: dir, max: max}
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes the conversation to disk, skipping any in-flight message,
// then enforces the retention cap.
func (s *Store) Save(conv *model.Conversation, modelName string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	stored := StoredConversation{
		ID:        conv.ID,
		Model:     modelName,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: time.Now(),
	}

	for _, m := range conv.Messages {
		if !m.Terminal() {
			continue
		}
		sm := StoredMessage{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Text(),
			State:     string(m.State),
			CreatedAt: m.CreatedAt,
		}
		if m.Err != nil {
			sm.Error = m.Err.Error()
		}
		stored.Messages = append(stored.Messages, sm)
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}

	if err := util.AtomicWriteFile(s.path(conv.ID), data, 0o600); err != nil {
		return err
	}

	return s.enforceLimit()
}

// Load reads a conversation back into its in-memory form.
func (s *Store) Load(id string) (*model.Conversation, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	var stored StoredConversation
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}

	conv := &model.Conversation{
		ID:        stored.ID,
		CreatedAt: stored.CreatedAt,
	}
	for _, sm := range stored.Messages {
		conv.Append(restoreMessage(sm))
	}
	return conv, nil
}

// restoreMessage rebuilds a message through its normal transitions, then
// restores identity fields.
func restoreMessage(sm StoredMessage) *model.Message {
	var m *model.Message
	switch {
	case sm.Role == string(model.RoleUser):
		m = model.NewUserMessage(sm.Content)
	case sm.State == string(model.StateFailed):
		m = model.NewAssistantMessage()
		m.ApplyDelta(sm.Content)
		m.Fail(errors.New(sm.Error))
	default:
		m = model.NewAssistantMessage()
		if sm.Content != "" {
			m.ApplyDelta(sm.Content)
		}
		m.Complete()
	}
	m.ID = sm.ID
	m.CreatedAt = sm.CreatedAt
	return m
}

// List returns metadata for all stored conversations, newest first.
func (s *Store) List() ([]ConversationMeta, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var metas []ConversationMeta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var stored StoredConversation
		if err := json.Unmarshal(data, &stored); err != nil {
			// Skip unreadable files rather than failing the listing
			continue
		}

		metas = append(metas, ConversationMeta{
			ID:           stored.ID,
			Title:        titleOf(stored),
			CreatedAt:    stored.CreatedAt,
			UpdatedAt:    stored.UpdatedAt,
			MessageCount: len(stored.Messages),
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// titleOf derives a listing title from the first user message.
func titleOf(stored StoredConversation) string {
	for _, m := range stored.Messages {
		if m.Role == string(model.RoleUser) {
			return util.TruncateString(util.FirstLine(m.Content), 60)
		}
	}
	return "(no messages)"
}

// Delete removes a stored conversation.
func (s *Store) Delete(id string) error {
	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return ErrConversationNotFound
	}
	return err
}

// enforceLimit deletes the oldest conversations beyond the retention cap.
func (s *Store) enforceLimit() error {
	metas, err := s.List()
	if err != nil {
		return err
	}
	for _, meta := range metas[min(len(metas), s.max):] {
		if err := os.Remove(s.path(meta.ID)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
