// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
)

// =============================================================================
// LINE READER
// =============================================================================

// LineReader splits a byte stream into newline-delimited lines.
// How the underlying reader chunks its bytes never changes the line
// sequence; a trailing unterminated line is yielded before EOF.
type LineReader struct {
	reader *bufio.Reader
}

// NewLineReader creates a line reader over r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{reader: bufio.NewReader(r)}
}

// Next returns the next line without its trailing newline.
// Returns io.EOF when the stream is exhausted.
func (l *LineReader) Next() ([]byte, error) {
	line, err := l.reader.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(line) == 0 {
			return nil, io.EOF
		}
		// Flush the last unterminated line before reporting EOF
		if len(line) == 0 {
			return nil, err
		}
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

// =============================================================================
// LINE DECODING
// =============================================================================

// decodeChatLine parses one line of the /chat stream.
// Returns nil for blank or malformed lines; the stream continues past them.
func decodeChatLine(line []byte) *chatChunk {
	if len(bytes.TrimSpace(line)) == 0 {
		return nil
	}
	var chunk chatChunk
	if err := json.Unmarshal(line, &chunk); err != nil {
		// Skip malformed lines
		return nil
	}
	return &chunk
}

// decodePullLine parses one line of the /pull stream.
// Returns nil for blank or malformed lines.
func decodePullLine(line []byte) *PullStatus {
	if len(bytes.TrimSpace(line)) == 0 {
		return nil
	}
	var status PullStatus
	if err := json.Unmarshal(line, &status); err != nil {
		return nil
	}
	return &status
}
