// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"testing"
)

func TestUserMessageIsComplete(t *testing.T) {
	m := NewUserMessage("hello")
	if m.State != StateComplete {
		t.Errorf("state = %q, want complete", m.State)
	}
	if m.Text() != "hello" {
		t.Errorf("text = %q, want %q", m.Text(), "hello")
	}
	if m.ID == "" {
		t.Error("ID should be assigned")
	}
}

func TestAssistantMessageLifecycle(t *testing.T) {
	m := NewAssistantMessage()
	if m.State != StatePending {
		t.Fatalf("initial state = %q, want pending", m.State)
	}

	// First delta: pending -> streaming, content set
	if !m.ApplyDelta("Hel") {
		t.Fatal("ApplyDelta() on pending = false, want true")
	}
	if m.State != StateStreaming {
		t.Errorf("state after first delta = %q, want streaming", m.State)
	}
	if m.Text() != "Hel" {
		t.Errorf("text = %q, want %q", m.Text(), "Hel")
	}

	// Later deltas append
	m.ApplyDelta("lo")
	m.ApplyDelta("!")
	if m.Text() != "Hello!" {
		t.Errorf("text = %q, want %q", m.Text(), "Hello!")
	}

	if !m.Complete() {
		t.Fatal("Complete() = false, want true")
	}
	if m.State != StateComplete {
		t.Errorf("state = %q, want complete", m.State)
	}
}

func TestEmptyCompletionIsValid(t *testing.T) {
	m := NewAssistantMessage()
	if !m.Complete() {
		t.Fatal("Complete() on pending = false, want true")
	}
	if m.Text() != "" {
		t.Errorf("text = %q, want empty", m.Text())
	}
}

func TestFailReplacesEmptyContentWithPlaceholder(t *testing.T) {
	cause := errors.New("boom")

	m := NewAssistantMessage()
	if !m.Fail(cause) {
		t.Fatal("Fail() = false, want true")
	}
	if m.State != StateFailed {
		t.Errorf("state = %q, want failed", m.State)
	}
	if m.Text() != ErrorPlaceholder {
		t.Errorf("text = %q, want placeholder", m.Text())
	}
	if !errors.Is(m.Err, cause) {
		t.Errorf("Err = %v, want %v", m.Err, cause)
	}
}

func TestFailKeepsPartialContent(t *testing.T) {
	m := NewAssistantMessage()
	m.ApplyDelta("partial answer")
	m.Fail(errors.New("connection reset"))

	if m.Text() != "partial answer" {
		t.Errorf("text = %q, want partial content preserved", m.Text())
	}
}

func TestTerminalStatesAbsorbEvents(t *testing.T) {
	complete := NewAssistantMessage()
	complete.ApplyDelta("done")
	complete.Complete()

	if complete.ApplyDelta("extra") {
		t.Error("ApplyDelta() on complete = true, want false")
	}
	if complete.Fail(errors.New("late")) {
		t.Error("Fail() on complete = true, want false")
	}
	if complete.Text() != "done" {
		t.Errorf("text mutated after terminal: %q", complete.Text())
	}

	failed := NewAssistantMessage()
	failed.Fail(errors.New("early"))
	if failed.Complete() {
		t.Error("Complete() on failed = true, want false")
	}
	if failed.ApplyDelta("late delta") {
		t.Error("ApplyDelta() on failed = true, want false")
	}
}

func TestConversationOrdering(t *testing.T) {
	c := NewConversation()
	first := NewUserMessage("first")
	second := NewAssistantMessage()
	c.Append(first)
	c.Append(second)

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	if c.Messages[0] != first || c.Messages[1] != second {
		t.Error("messages out of insertion order")
	}
	if c.Last() != second {
		t.Error("Last() should return the newest message")
	}
	if c.LastUserMessage() != first {
		t.Error("LastUserMessage() should find the user message")
	}
	if c.InFlight() != second {
		t.Error("InFlight() should return the pending assistant message")
	}
}

func TestConversationRemove(t *testing.T) {
	c := NewConversation()
	m := NewUserMessage("bye")
	c.Append(m)

	if !c.Remove(m.ID) {
		t.Error("Remove() = false, want true")
	}
	if c.Len() != 0 {
		t.Errorf("Len() after remove = %d, want 0", c.Len())
	}
	if c.Remove("no-such-id") {
		t.Error("Remove() of unknown ID = true, want false")
	}
}

func TestHistoryExcludesNonCompleted(t *testing.T) {
	c := NewConversation()

	c.Append(NewUserMessage("question"))

	answered := NewAssistantMessage()
	answered.ApplyDelta("answer")
	answered.Complete()
	c.Append(answered)

	failed := NewAssistantMessage()
	failed.Fail(errors.New("oops"))
	c.Append(failed)

	empty := NewAssistantMessage()
	empty.Complete()
	c.Append(empty)

	streaming := NewAssistantMessage()
	streaming.ApplyDelta("in progress")
	c.Append(streaming)

	history := c.History()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2 (failed, empty, and streaming excluded)", len(history))
	}
	if history[0].Role != "user" || history[0].Content != "question" {
		t.Errorf("history[0] = %+v", history[0])
	}
	if history[1].Role != "assistant" || history[1].Content != "answer" {
		t.Errorf("history[1] = %+v", history[1])
	}
}
