// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sort"
	"time"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type       ErrorType
	StatusCode int
	Message    string
	Cause      error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches any *ClientError with the same Type, so errors.Is works
// against the sentinel values below.
func (e *ClientError) Is(target error) bool {
	var other *ClientError
	if !errors.As(target, &other) {
		return false
	}
	return e.Type == other.Type
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota

	// ErrTypeInvalidEndpoint means the configured base URL does not parse.
	// Fatal at configuration load, never produced mid-stream.
	ErrTypeInvalidEndpoint

	// ErrTypeConnectionFailed means the server refused or was unreachable,
	// i.e. Ollama is probably not running.
	ErrTypeConnectionFailed

	// ErrTypeHTTPStatus means the server answered with a non-2xx status.
	ErrTypeHTTPStatus

	// ErrTypeDecoding means a response body that must parse did not.
	ErrTypeDecoding

	// ErrTypeNetwork is any other transport failure mid-request.
	ErrTypeNetwork

	// ErrTypeCancelled means the caller cancelled the request.
	// Not surfaced to the user as a failure.
	ErrTypeCancelled
)

// Sentinel errors for easy checking.
var (
	ErrConnectionFailed = &ClientError{Type: ErrTypeConnectionFailed, Message: "cannot connect to Ollama server"}
	ErrCancelled        = &ClientError{Type: ErrTypeCancelled, Message: "request cancelled"}
)

// IsConnectionFailed checks if an error means the server is unreachable.
func IsConnectionFailed(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeConnectionFailed
	}
	return false
}

// IsCancelled checks if an error is a cancellation.
func IsCancelled(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeCancelled
	}
	return errors.Is(err, context.Canceled)
}

// HTTPStatusCode extracts the status code from an HTTP status error.
func HTTPStatusCode(err error) (int, bool) {
	var clientErr *ClientError
	if errors.As(err, &clientErr) && clientErr.Type == ErrTypeHTTPStatus {
		return clientErr.StatusCode, true
	}
	return 0, false
}

// classifyTransportError maps a transport-level failure onto the error
// taxonomy. Connection refused is distinguished from generic network
// failures so callers can report "server not running".
func classifyTransportError(err error, message string) *ClientError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Type: ErrTypeCancelled, Message: "request cancelled", Cause: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return &ClientError{Type: ErrTypeConnectionFailed, Message: "cannot connect to Ollama server", Cause: err}
	}

	return &ClientError{Type: ErrTypeNetwork, Message: message, Cause: err}
}

// httpStatusError builds an HTTP status error, preferring the server's own
// {"error": "..."} body message when it decodes.
func httpStatusError(resp *http.Response) *ClientError {
	message := "request failed: " + resp.Status

	var apiErr apiError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		message = apiErr.Error
	}

	return &ClientError{
		Type:       ErrTypeHTTPStatus,
		StatusCode: resp.StatusCode,
		Message:    message,
	}
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL including the /api prefix
	// (default: http://localhost:11434/api)
	BaseURL string

	// ProbeTimeout bounds non-streaming requests such as the connection
	// check and tag listing (default: 5s). Streaming requests carry no
	// timeout; generation may legitimately take minutes.
	ProbeTimeout time.Duration
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:      "http://localhost:11434/api",
		ProbeTimeout: 5 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// StreamCallback is called for each chunk received during streaming chat.
type StreamCallback func(chunk StreamChunk)

// PullCallback is called for each status update during a model pull.
type PullCallback func(status PullStatus)

// StreamObserver receives diagnostic events from the client. Optional;
// the zero client observes nothing.
type StreamObserver func(event, detail string)

// Client handles communication with the Ollama API.
//
// The Client is thread-safe for concurrent use after construction.
//
// Example:
//
//	client := ollama.NewClient()
//	if err := client.CheckConnection(ctx); err != nil {
//	    log.Fatal("Ollama not available:", err)
//	}
//	err := client.StreamChat(ctx, "llama3.2", messages, onChunk)
type Client struct {
	config       *ClientConfig
	probeClient  *http.Client
	streamClient *http.Client
	observer     StreamObserver
}

// NewClient creates a new Ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	// Fill in defaults for any zero values
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434/api"
	}
	if config.ProbeTimeout == 0 {
		config.ProbeTimeout = 5 * time.Second
	}

	return &Client{
		config: config,
		probeClient: &http.Client{
			Timeout: config.ProbeTimeout,
		},
		// No timeout for streaming; cancellation is handled via context.
		// SECURITY: TLS not required - Ollama runs locally over HTTP
		streamClient: &http.Client{},
	}
}

// SetObserver installs a diagnostic observer. Must be called before the
// client is shared between goroutines.
func (c *Client) SetObserver(observer StreamObserver) {
	c.observer = observer
}

func (c *Client) observe(event, detail string) {
	if c.observer != nil {
		c.observer(event, detail)
	}
}

// GetConfig returns the client configuration.
func (c *Client) GetConfig() *ClientConfig {
	return c.config
}

// =============================================================================
// CONNECTION CHECK
// =============================================================================

// CheckConnection verifies that the Ollama server is reachable.
func (c *Client) CheckConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/tags", nil)
	if err != nil {
		return &ClientError{Type: ErrTypeInvalidEndpoint, Message: "invalid endpoint URL", Cause: err}
	}

	resp, err := c.probeClient.Do(req)
	if err != nil {
		return classifyTransportError(err, "connection check failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return httpStatusError(resp)
	}

	io.Copy(io.Discard, resp.Body)
	return nil
}

// =============================================================================
// MODEL REGISTRY
// =============================================================================

// ListTags retrieves all locally available models, sorted by name.
func (c *Client) ListTags(ctx context.Context) ([]ModelTag, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/tags", nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidEndpoint, Message: "invalid endpoint URL", Cause: err}
	}

	resp, err := c.probeClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err, "failed to list models")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpStatusError(resp)
	}

	var result TagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeDecoding, Message: "failed to decode tags response", Cause: err}
	}

	sort.Slice(result.Models, func(i, j int) bool {
		return result.Models[i].Name < result.Models[j].Name
	})

	return result.Models, nil
}

// ListModels retrieves the names of all locally available models, sorted
// ascending.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	tags, err := c.ListTags(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(tags))
	for i, tag := range tags {
		names[i] = tag.Name
	}
	return names, nil
}

// Pull downloads a model, streaming status updates to the callback.
// The stream ends at the first terminal status ("success" or "complete")
// or when the body ends. Malformed status lines are skipped.
func (c *Client) Pull(ctx context.Context, name string, callback PullCallback) error {
	body, err := json.Marshal(PullRequest{Name: name, Stream: true})
	if err != nil {
		return &ClientError{Type: ErrTypeDecoding, Message: "failed to marshal pull request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/pull", bytes.NewReader(body))
	if err != nil {
		return &ClientError{Type: ErrTypeInvalidEndpoint, Message: "invalid endpoint URL", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return classifyTransportError(err, "pull request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return httpStatusError(resp)
	}

	c.observe("pull.start", name)

	lines := NewLineReader(resp.Body)
	for {
		select {
		case <-ctx.Done():
			return &ClientError{Type: ErrTypeCancelled, Message: "pull cancelled", Cause: ctx.Err()}
		default:
		}

		line, err := lines.Next()
		if err != nil {
			if err == io.EOF {
				// Stream ended without an explicit terminal status
				c.observe("pull.done", name)
				return nil
			}
			if ctx.Err() != nil {
				return &ClientError{Type: ErrTypeCancelled, Message: "pull cancelled", Cause: ctx.Err()}
			}
			return classifyTransportError(err, "pull stream read failed")
		}

		status := decodePullLine(line)
		if status == nil {
			continue
		}

		callback(*status)
		c.observe("pull.status", status.Status)

		if status.Terminal() {
			c.observe("pull.done", name)
			return nil
		}
	}
}

// Delete removes a local model. Non-200 responses are hard errors; there
// is no retry.
func (c *Client) Delete(ctx context.Context, name string) error {
	body, err := json.Marshal(DeleteRequest{Name: name})
	if err != nil {
		return &ClientError{Type: ErrTypeDecoding, Message: "failed to marshal delete request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.config.BaseURL+"/delete", bytes.NewReader(body))
	if err != nil {
		return &ClientError{Type: ErrTypeInvalidEndpoint, Message: "invalid endpoint URL", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.probeClient.Do(req)
	if err != nil {
		return classifyTransportError(err, "delete request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return httpStatusError(resp)
	}

	io.Copy(io.Discard, resp.Body)
	c.observe("delete", name)
	return nil
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// StreamChat sends a streaming chat request and calls the callback for each
// chunk. The callback is invoked synchronously in arrival order: once per
// decoded chunk with non-empty content, then exactly once with Done set.
//
// A body that ends without done:true is treated as normal completion.
// Bytes after the done marker are never read. Returns when streaming is
// complete or an error occurs; an error return replaces the Done callback
// as the terminal signal.
func (c *Client) StreamChat(ctx context.Context, model string, messages []Message, callback StreamCallback) error {
	body, err := json.Marshal(ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return &ClientError{Type: ErrTypeDecoding, Message: "failed to marshal chat request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return &ClientError{Type: ErrTypeInvalidEndpoint, Message: "invalid endpoint URL", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return classifyTransportError(err, "chat request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return httpStatusError(resp)
	}

	c.observe("chat.start", model)

	lines := NewLineReader(resp.Body)
	for {
		// Cancellation is cooperative between line reads
		select {
		case <-ctx.Done():
			return &ClientError{Type: ErrTypeCancelled, Message: "chat cancelled", Cause: ctx.Err()}
		default:
		}

		line, err := lines.Next()
		if err != nil {
			if err == io.EOF {
				// Silent stream end counts as completion
				c.observe("chat.done", "eof")
				callback(StreamChunk{Done: true})
				return nil
			}
			if ctx.Err() != nil {
				return &ClientError{Type: ErrTypeCancelled, Message: "chat cancelled", Cause: ctx.Err()}
			}
			return classifyTransportError(err, "chat stream read failed")
		}

		chunk := decodeChatLine(line)
		if chunk == nil {
			continue
		}

		if chunk.Message.Content != "" {
			callback(StreamChunk{Content: chunk.Message.Content})
		}

		if chunk.Done {
			c.observe("chat.done", "done")
			callback(StreamChunk{Done: true})
			return nil
		}
	}
}
