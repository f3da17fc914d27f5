// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP response helpers. All body reads are
// bounded at MaxResponseSize so a misbehaving homeserver cannot drive
// unbounded memory allocation. These helpers are for JSON API
// responses, not streaming downloads.
package netutil

import (
	"io"
)

// MaxResponseSize bounds JSON API response body reads: 16 MB. Matrix
// sync responses for a single filtered room are far smaller; the
// limit exists purely as a safety stop.
const MaxResponseSize int64 = 16 << 20

// ReadResponse reads a JSON API response body up to MaxResponseSize
// bytes. Use instead of io.ReadAll for HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// ErrorBody reads an HTTP error response body for use in diagnostic
// messages. Read errors are ignored — a partial body is still useful.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	return string(data)
}
