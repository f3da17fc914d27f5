// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

package socket

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/kassenwerk/kassenwerk/lib/codec"
)

// dialTimeout covers only the connect phase; the server's own
// read/write deadlines govern the rest.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for the server's
// response after writing the request. Matched to the server's
// readTimeout + writeTimeout to leave room for handler execution.
const responseReadTimeout = 45 * time.Second

// maxResponseSize matches the server's maxRequestSize for symmetry.
const maxResponseSize = 1024 * 1024

// CallError is returned by Call when the server responds with
// ok=false. It carries the server's error message and the action that
// failed.
type CallError struct {
	Action  string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("socket: %q failed: %s", e.Action, e.Message)
}

// Client sends CBOR requests to the admin socket. Each Call opens a
// new connection, matching the server's one-request-per-connection
// model.
type Client struct {
	socketPath string
}

// NewClient creates a client for the socket at socketPath. The path
// is not checked here; a missing socket surfaces on the first Call.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Call sends a request for the given action and decodes the response.
//
// fields may carry handler-specific request fields; the client adds
// "action" itself. Pass nil for actions without parameters. On
// success, if result is non-nil and the response carries data, the
// data is CBOR-decoded into result. On an ok=false response, returns
// a *CallError; connection and encoding failures are plain errors.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action

	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}

	if !response.OK {
		return &CallError{
			Action:  action,
			Message: response.Error,
		}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

// send connects, writes the request, and reads the response.
func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// Half-close the write side so the server's read sees EOF
	// cleanly. CBOR is self-delimiting, so this is a courtesy, not a
	// framing requirement.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
