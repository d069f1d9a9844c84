// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// CHAT TYPES
// =============================================================================

// Message is a single entry in the chat history sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the request body for POST /chat.
// Stream is always true; the engine consumes responses as NDJSON.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// chatChunk is one decoded line of the /chat NDJSON stream.
type chatChunk struct {
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// StreamChunk is delivered to the StreamCallback for each meaningful event.
// Content carries a delta; Done marks the single terminal signal.
type StreamChunk struct {
	Content string
	Done    bool
}

// =============================================================================
// MODEL REGISTRY TYPES
// =============================================================================

// ModelTag describes one locally available model, as reported by GET /tags.
type ModelTag struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size,omitempty"`
	Digest     string    `json:"digest,omitempty"`
	ModifiedAt time.Time `json:"modified_at,omitempty"`
}

// FormatSize renders the model size as a human-readable string.
func (m ModelTag) FormatSize() string {
	const unit = 1024
	if m.Size < unit {
		return strconv.FormatInt(m.Size, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := m.Size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	value := float64(m.Size) / float64(div)
	return strconv.FormatFloat(value, 'f', 1, 64) + " " + []string{"KB", "MB", "GB", "TB"}[exp]
}

// TagsResponse is the response body for GET /tags.
type TagsResponse struct {
	Models []ModelTag `json:"models"`
}

// PullRequest is the request body for POST /pull.
type PullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

// PullStatus is one decoded line of the /pull NDJSON stream.
type PullStatus struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// ProgressFraction returns download progress in [0,1]. The bool is false
// when the server has not reported a total yet, which is distinct from a
// genuine zero.
func (p PullStatus) ProgressFraction() (float64, bool) {
	if p.Total <= 0 {
		return 0, false
	}
	return float64(p.Completed) / float64(p.Total), true
}

// Terminal reports whether this status ends the pull stream.
// The server's final status line says "success"; older versions say
// "download complete".
func (p PullStatus) Terminal() bool {
	status := strings.ToLower(p.Status)
	return strings.Contains(status, "success") || strings.Contains(status, "complete")
}

// DeleteRequest is the request body for DELETE /delete.
type DeleteRequest struct {
	Name string `json:"name"`
}

// apiError is the JSON error body Ollama returns on non-2xx responses.
type apiError struct {
	Error string `json:"error"`
}
