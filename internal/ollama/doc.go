// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// The client speaks the local Ollama REST API: streaming chat over
// newline-delimited JSON (POST /chat), model listing (GET /tags), model
// download with streamed progress (POST /pull), and model removal
// (DELETE /delete).
//
// Streaming responses are framed by LineReader and decoded line by line.
// Malformed lines are skipped without aborting the stream, and every chat
// stream delivers exactly one terminal signal: a Done chunk, an error
// return, or a cancellation. A body that ends without an explicit done
// marker is treated as normal completion.
//
// Errors are classified into a small taxonomy (ClientError) so callers can
// distinguish "server not running" from a mid-stream network failure and
// from a deliberate cancellation.
package ollama
