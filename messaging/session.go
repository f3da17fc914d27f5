// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"
)

// interactiveTimeout bounds every operation except Sync, whose
// deadline follows the requested long-poll wait.
const interactiveTimeout = 10 * time.Second

// syncGrace is added to the long-poll timeout so the server can
// return an empty response before the client gives up on it.
const syncGrace = 15 * time.Second

// Session is an authenticated Matrix session. It wraps a Client with
// an access token for making authenticated API calls. Sessions are
// lightweight and safe for concurrent use.
type Session struct {
	client      *Client
	accessToken string

	// transactionCounter generates unique transaction IDs for
	// idempotent sends.
	transactionCounter atomic.Int64
}

// WhoAmI validates the access token and returns the user ID. Useful
// for checking whether a stored token is still valid.
func (s *Session) WhoAmI(ctx context.Context) (UserID, error) {
	ctx, cancel := context.WithTimeout(ctx, interactiveTimeout)
	defer cancel()

	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", s.accessToken, nil)
	if err != nil {
		return "", fmt.Errorf("messaging: whoami failed: %w", err)
	}

	var response WhoAmIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse whoami response: %w", err)
	}
	return response.UserID, nil
}

// SendNotice sends an m.notice message to a room. Returns the event
// ID of the sent message.
func (s *Session) SendNotice(ctx context.Context, roomID RoomID, content MessageContent) (EventID, error) {
	return s.sendEvent(ctx, roomID, EventTypeMessage, content)
}

// EditNotice replaces the body of an existing notice via an
// m.replace relation. Returns the event ID of the edit event; the
// original event keeps its ID.
func (s *Session) EditNotice(ctx context.Context, roomID RoomID, target EventID, body, formattedBody string) (EventID, error) {
	return s.sendEvent(ctx, roomID, EventTypeMessage, NewEdit(target, body, formattedBody))
}

// React sends an m.reaction annotation on the target event with the
// given key. Returns the reaction's event ID.
func (s *Session) React(ctx context.Context, roomID RoomID, target EventID, key string) (EventID, error) {
	content := ReactionContent{
		RelatesTo: RelatesTo{
			RelType: RelAnnotation,
			EventID: target,
			Key:     key,
		},
	}
	return s.sendEvent(ctx, roomID, EventTypeReaction, content)
}

// Redact removes an event's content. reason may be empty.
func (s *Session) Redact(ctx context.Context, roomID RoomID, target EventID, reason string) (EventID, error) {
	ctx, cancel := context.WithTimeout(ctx, interactiveTimeout)
	defer cancel()

	transactionID := s.nextTransactionID()
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/redact/%s/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(target.String()),
		url.PathEscape(transactionID),
	)

	body, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, RedactRequest{Reason: reason})
	if err != nil {
		return "", fmt.Errorf("messaging: redact %q in %q failed: %w", target, roomID, err)
	}

	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse redact response: %w", err)
	}
	return response.EventID, nil
}

// Sync performs an incremental sync with the homeserver. For initial
// sync, leave options.Since empty. For long-polling, set
// options.Timeout to the desired wait in milliseconds.
func (s *Session) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	deadline := interactiveTimeout
	if options.SetTimeout {
		deadline = time.Duration(options.Timeout)*time.Millisecond + syncGrace
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}

	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/sync", s.accessToken, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}

	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse sync response: %w", err)
	}
	return &response, nil
}

// sendEvent sends an event of any type to a room. Uses Matrix's
// idempotent PUT with a transaction ID. Returns the event ID.
func (s *Session) sendEvent(ctx context.Context, roomID RoomID, eventType string, content any) (EventID, error) {
	ctx, cancel := context.WithTimeout(ctx, interactiveTimeout)
	defer cancel()

	transactionID := s.nextTransactionID()
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/%s/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(eventType),
		url.PathEscape(transactionID),
	)

	body, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, content)
	if err != nil {
		return "", fmt.Errorf("messaging: send %s to %q failed: %w", eventType, roomID, err)
	}

	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse send response: %w", err)
	}
	return response.EventID, nil
}

// nextTransactionID generates a unique transaction ID for idempotent
// event sending. Format: "kassenwerk-<timestamp_ms>-<counter>" to
// stay unique across restarts.
func (s *Session) nextTransactionID() string {
	counter := s.transactionCounter.Add(1)
	return fmt.Sprintf("kassenwerk-%d-%d", time.Now().UnixMilli(), counter)
}
