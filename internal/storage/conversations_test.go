// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/jeranaias/localface/internal/model"
)

func buildConversation(userText, assistantText string) *model.Conversation {
	conv := model.NewConversation()
	conv.Append(model.NewUserMessage(userText))

	assistant := model.NewAssistantMessage()
	assistant.ApplyDelta(assistantText)
	assistant.Complete()
	conv.Append(assistant)
	return conv
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir(), 10)

	conv := buildConversation("what is go?", "a programming language")
	failed := model.NewAssistantMessage()
	failed.Fail(errors.New("connection reset"))
	conv.Append(failed)

	if err := store.Save(conv, "llama3.2"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(conv.ID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ID != conv.ID {
		t.Errorf("ID = %q, want %q", loaded.ID, conv.ID)
	}
	if loaded.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", loaded.Len())
	}

	user := loaded.Messages[0]
	if user.Role != model.RoleUser || user.Text() != "what is go?" {
		t.Errorf("user message = %q %q", user.Role, user.Text())
	}
	if user.ID != conv.Messages[0].ID {
		t.Errorf("user ID not preserved")
	}

	assistant := loaded.Messages[1]
	if assistant.State != model.StateComplete || assistant.Text() != "a programming language" {
		t.Errorf("assistant = %q %q", assistant.State, assistant.Text())
	}

	restored := loaded.Messages[2]
	if restored.State != model.StateFailed {
		t.Errorf("failed state = %q, want failed", restored.State)
	}
	if restored.Err == nil {
		t.Error("failed message lost its error")
	}
	if restored.Text() != model.ErrorPlaceholder {
		t.Errorf("failed text = %q, want placeholder", restored.Text())
	}
}

func TestSaveSkipsInFlightMessages(t *testing.T) {
	store := NewStore(t.TempDir(), 10)

	conv := buildConversation("q", "a")
	streaming := model.NewAssistantMessage()
	streaming.ApplyDelta("still typing")
	conv.Append(streaming)

	if err := store.Save(conv, ""); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(conv.ID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (in-flight message must not persist)", loaded.Len())
	}
}

func TestLoadMissingConversation(t *testing.T) {
	store := NewStore(t.TempDir(), 10)
	if _, err := store.Load("nope"); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("Load() error = %v, want ErrConversationNotFound", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := NewStore(t.TempDir(), 10)

	first := buildConversation("first question", "answer")
	if err := store.Save(first, ""); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	second := buildConversation("second question", "answer")
	if err := store.Save(second, ""); err != nil {
		t.Fatal(err)
	}

	metas, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("List() = %d entries, want 2", len(metas))
	}
	if metas[0].ID != second.ID {
		t.Errorf("newest conversation should list first")
	}
	if metas[0].Title != "second question" {
		t.Errorf("title = %q, want %q", metas[0].Title, "second question")
	}
	if metas[0].MessageCount != 2 {
		t.Errorf("message count = %d, want 2", metas[0].MessageCount)
	}
}

func TestRetentionCap(t *testing.T) {
	store := NewStore(t.TempDir(), 2)

	var ids []string
	for i := 0; i < 4; i++ {
		conv := buildConversation("question", "answer")
		if err := store.Save(conv, ""); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, conv.ID)
		time.Sleep(10 * time.Millisecond)
	}

	metas, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("List() = %d entries, want 2 after retention", len(metas))
	}

	// The survivors are the two most recent saves
	if metas[0].ID != ids[3] || metas[1].ID != ids[2] {
		t.Errorf("retention kept wrong conversations: %v", metas)
	}
	if _, err := store.Load(ids[0]); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("oldest conversation should be gone, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	store := NewStore(t.TempDir(), 10)
	conv := buildConversation("q", "a")
	if err := store.Save(conv, ""); err != nil {
		t.Fatal(err)
	}

	if err := store.Delete(conv.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Load(conv.ID); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("Load() after delete = %v, want ErrConversationNotFound", err)
	}
	if err := store.Delete(conv.ID); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("Delete() twice = %v, want ErrConversationNotFound", err)
	}
}
