// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat drives a conversation against the Ollama client.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jeranaias/localface/internal/model"
	"github.com/jeranaias/localface/internal/ollama"
)

// =============================================================================
// VALIDATION ERRORS
// =============================================================================

// Sentinel errors returned by Send and Retry. Validation failures never
// mutate the conversation.
var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrBusy           = errors.New("a response is already in progress")
	ErrNoModel        = errors.New("no model selected")
	ErrNotConnected   = errors.New("not connected to Ollama server")
	ErrNothingToRetry = errors.New("no failed response to retry")
)

// =============================================================================
// EVENTS
// =============================================================================

// EventKind identifies what changed in the conversation.
type EventKind int

const (
	EventAppended EventKind = iota
	EventDelta
	EventCompleted
	EventFailed
	EventRemoved
	EventCleared
)

// Event describes a single conversation mutation.
type Event struct {
	Kind      EventKind
	MessageID string
	Delta     string
}

// Subscriber receives conversation events in mutation order. Subscribers
// run under the session lock and must not call back into the Session.
type Subscriber func(Event)

// =============================================================================
// MESSAGE VIEW
// =============================================================================

// MessageView is an immutable snapshot of one message.
type MessageView struct {
	ID    string
	Role  model.Role
	State model.State
	Text  string
	Err   error
}

// =============================================================================
// SESSION
// =============================================================================

// Session owns one conversation and reduces user actions and stream events
// into it. All mutation happens under one mutex, in event order; at most
// one chat request is in flight at a time.
type Session struct {
	mu        sync.Mutex
	conv      *model.Conversation
	client    *ollama.Client
	modelName string
	welcome   string
	connected bool
	inFlight  bool
	streamID  string
	cancel    context.CancelFunc
	lastError string
	subs      []Subscriber
}

// NewSession creates a session seeded with a welcome message.
func NewSession(client *ollama.Client, modelName, welcome string) *Session {
	s := &Session{
		conv:      model.NewConversation(),
		client:    client,
		modelName: modelName,
		welcome:   welcome,
	}
	s.seedWelcome()
	return s
}

func (s *Session) seedWelcome() {
	if s.welcome == "" {
		return
	}
	m := model.NewAssistantMessage()
	m.ApplyDelta(s.welcome)
	m.Complete()
	s.conv.Append(m)
}

// Subscribe registers a subscriber for conversation events.
func (s *Session) Subscribe(fn Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// notify delivers an event to all subscribers. Caller must hold mu.
func (s *Session) notify(ev Event) {
	for _, fn := range s.subs {
		fn(ev)
	}
}

// Messages returns a snapshot of the conversation.
func (s *Session) Messages() []MessageView {
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]MessageView, len(s.conv.Messages))
	for i, m := range s.conv.Messages {
		views[i] = MessageView{
			ID:    m.ID,
			Role:  m.Role,
			State: m.State,
			Text:  m.Text(),
			Err:   m.Err,
		}
	}
	return views
}

// Model returns the selected model name.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelName
}

// SetModel selects the model used for subsequent sends.
func (s *Session) SetModel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modelName = name
}

// Connected reports whether the server was reachable at the last check.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// CheckConnection probes the server and updates the connection status.
func (s *Session) CheckConnection(ctx context.Context) error {
	err := s.client.CheckConnection(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = err == nil
	return err
}

// InFlight reports whether a response is currently being generated.
func (s *Session) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// LastError returns the current conversation-level error summary, or "".
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// DismissError clears the conversation-level error summary. The failed
// message itself stays in the conversation.
func (s *Session) DismissError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = ""
}

// ExportConversation returns a deep copy of the conversation, safe to
// persist while streaming continues.
func (s *Session) ExportConversation() *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Clone()
}

// ReplaceConversation swaps in a previously stored conversation. Rejected
// while a request is in flight.
func (s *Session) ReplaceConversation(conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		return ErrBusy
	}
	s.conv = conv
	s.lastError = ""
	s.notify(Event{Kind: EventCleared})
	return nil
}

// =============================================================================
// SEND / CANCEL / RETRY / CLEAR
// =============================================================================

// reconnectIfNeeded re-probes the server when the last check failed, so a
// connection lost mid-session recovers once the server is back. No lock
// held across the probe.
func (s *Session) reconnectIfNeeded(ctx context.Context) {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()

	if !connected {
		s.CheckConnection(ctx)
	}
}

// Send submits user text and starts streaming the response. Rejected
// without mutation when the text is blank, a request is in flight, no
// model is selected, or the server is not connected. A previously lost
// connection is re-probed before rejecting.
func (s *Session) Send(ctx context.Context, text string) error {
	s.reconnectIfNeeded(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateSend(text); err != nil {
		return err
	}
	s.sendLocked(ctx, strings.TrimSpace(text))
	return nil
}

// validateSend checks the send guards. Caller must hold mu.
func (s *Session) validateSend(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if s.inFlight {
		return ErrBusy
	}
	if s.modelName == "" {
		return ErrNoModel
	}
	if !s.connected {
		return ErrNotConnected
	}
	return nil
}

// sendLocked appends the user message and assistant placeholder, takes the
// in-flight permit, and starts the stream goroutine. Caller must hold mu
// and have validated.
func (s *Session) sendLocked(ctx context.Context, text string) {
	user := model.NewUserMessage(text)
	s.conv.Append(user)
	s.notify(Event{Kind: EventAppended, MessageID: user.ID})

	assistant := model.NewAssistantMessage()
	s.conv.Append(assistant)
	s.notify(Event{Kind: EventAppended, MessageID: assistant.ID})

	history := s.conv.History()
	modelName := s.modelName

	streamCtx, cancel := context.WithCancel(ctx)
	s.inFlight = true
	s.streamID = assistant.ID
	s.cancel = cancel

	go s.stream(streamCtx, assistant.ID, modelName, history)
}

// stream runs one chat request and reduces its chunks into the
// conversation. Runs on its own goroutine; takes the lock per event.
func (s *Session) stream(ctx context.Context, messageID, modelName string, history []ollama.Message) {
	err := s.client.StreamChat(ctx, modelName, history, func(chunk ollama.StreamChunk) {
		s.mu.Lock()
		defer s.mu.Unlock()

		msg := s.conv.Get(messageID)
		if msg == nil {
			// Removed by Cancel; absorb the racing chunk
			return
		}

		if chunk.Done {
			if msg.Complete() {
				s.notify(Event{Kind: EventCompleted, MessageID: messageID})
			}
			return
		}

		if msg.ApplyDelta(chunk.Content) {
			s.notify(Event{Kind: EventDelta, MessageID: messageID, Delta: chunk.Content})
		}
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	// Release the permit only if this stream still owns it; Cancel may
	// already have released it and a new send taken it over
	if s.streamID == messageID {
		s.inFlight = false
		s.streamID = ""
		s.cancel = nil
	}

	if err == nil || ollama.IsCancelled(err) {
		// Cancellation already removed the placeholder; nothing to fail
		return
	}

	if ollama.IsConnectionFailed(err) {
		s.connected = false
	}
	s.lastError = err.Error()

	if msg := s.conv.Get(messageID); msg != nil && msg.Fail(err) {
		s.notify(Event{Kind: EventFailed, MessageID: messageID})
	}
}

// Cancel stops the in-flight request and removes the assistant placeholder
// entirely, whether or not partial content had arrived. No-op when idle.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.inFlight {
		return
	}

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.inFlight = false
	s.streamID = ""

	if msg := s.conv.InFlight(); msg != nil {
		s.conv.Remove(msg.ID)
		s.notify(Event{Kind: EventRemoved, MessageID: msg.ID})
	}
}

// Retry re-sends the latest user message after a failed response. The
// failed assistant message and the original user message are removed and
// the text re-sent, so the user message count is unchanged. Validation
// runs first; a rejected retry leaves the conversation untouched. Like
// Send, a previously lost connection is re-probed before rejecting.
func (s *Session) Retry(ctx context.Context) error {
	s.reconnectIfNeeded(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	user := s.conv.LastUserMessage()
	if user == nil {
		return ErrNothingToRetry
	}

	var failed *model.Message
	for i := len(s.conv.Messages) - 1; i >= 0; i-- {
		m := s.conv.Messages[i]
		if m == user {
			break
		}
		if m.Role == model.RoleAssistant && m.State == model.StateFailed {
			failed = m
			break
		}
	}
	if failed == nil {
		return ErrNothingToRetry
	}

	text := user.Text()
	if err := s.validateSend(text); err != nil {
		return err
	}

	s.conv.Remove(failed.ID)
	s.notify(Event{Kind: EventRemoved, MessageID: failed.ID})
	s.conv.Remove(user.ID)
	s.notify(Event{Kind: EventRemoved, MessageID: user.ID})
	s.lastError = ""

	s.sendLocked(ctx, text)
	return nil
}

// Clear cancels any in-flight request, empties the conversation, and
// reseeds the welcome message.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.inFlight = false
	s.streamID = ""
	s.lastError = ""

	s.conv.Clear()
	s.seedWelcome()
	s.notify(Event{Kind: EventCleared})
}
