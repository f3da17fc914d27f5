// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import "encoding/json"

// EventID is a Matrix event identifier (e.g., "$Abc123...").
type EventID string

func (id EventID) String() string { return string(id) }

// RoomID is a Matrix room identifier (e.g., "!room:example.org").
type RoomID string

func (id RoomID) String() string { return string(id) }

// UserID is a fully-qualified Matrix user ID (e.g., "@bot:example.org").
type UserID string

func (id UserID) String() string { return string(id) }

// Relation types and event types used by the work-order mirror.
const (
	EventTypeMessage  = "m.room.message"
	EventTypeReaction = "m.reaction"

	MsgTypeNotice = "m.notice"

	RelAnnotation = "m.annotation"
	RelReplace    = "m.replace"

	FormatCustomHTML = "org.matrix.custom.html"
)

// RelatesTo is the m.relates_to block of an event's content.
type RelatesTo struct {
	RelType string  `json:"rel_type,omitempty"`
	EventID EventID `json:"event_id,omitempty"`
	// Key is the annotation key — for reactions, the emoji itself.
	Key string `json:"key,omitempty"`
}

// MessageContent is the content of an m.room.message event. For
// edits, NewContent carries the replacement and RelatesTo points at
// the original event with rel_type m.replace.
type MessageContent struct {
	MsgType       string          `json:"msgtype"`
	Body          string          `json:"body"`
	Format        string          `json:"format,omitempty"`
	FormattedBody string          `json:"formatted_body,omitempty"`
	NewContent    *MessageContent `json:"m.new_content,omitempty"`
	RelatesTo     *RelatesTo      `json:"m.relates_to,omitempty"`
}

// NewNotice builds an m.notice message. formattedBody may be empty
// for plain-text notices; when set, the format is custom HTML.
func NewNotice(body, formattedBody string) MessageContent {
	content := MessageContent{
		MsgType: MsgTypeNotice,
		Body:    body,
	}
	if formattedBody != "" {
		content.Format = FormatCustomHTML
		content.FormattedBody = formattedBody
	}
	return content
}

// NewEdit builds an edit of target. The outer body carries the
// conventional "* " fallback for clients that do not render edits;
// the real replacement rides in m.new_content.
func NewEdit(target EventID, body, formattedBody string) MessageContent {
	replacement := NewNotice(body, formattedBody)
	fallback := NewNotice("* "+body, "")
	if formattedBody != "" {
		fallback.Format = FormatCustomHTML
		fallback.FormattedBody = "* " + formattedBody
	}
	fallback.NewContent = &replacement
	fallback.RelatesTo = &RelatesTo{
		RelType: RelReplace,
		EventID: target,
	}
	return fallback
}

// ReactionContent is the content of an m.reaction event.
type ReactionContent struct {
	RelatesTo RelatesTo `json:"m.relates_to"`
}

// RedactRequest is the body of a redaction PUT.
type RedactRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Event is a single event from a sync timeline.
type Event struct {
	ID        EventID         `json:"event_id"`
	Type      string          `json:"type"`
	Sender    UserID          `json:"sender"`
	Timestamp int64           `json:"origin_server_ts"`
	Content   json.RawMessage `json:"content"`
}

// ReactionRelation extracts the annotation block from an m.reaction
// event. Returns false when the event is not a reaction or its
// m.relates_to block is missing, malformed, or not an annotation.
func ReactionRelation(event *Event) (RelatesTo, bool) {
	if event.Type != EventTypeReaction {
		return RelatesTo{}, false
	}
	var content ReactionContent
	if err := json.Unmarshal(event.Content, &content); err != nil {
		return RelatesTo{}, false
	}
	relation := content.RelatesTo
	if relation.RelType != RelAnnotation || relation.EventID == "" || relation.Key == "" {
		return RelatesTo{}, false
	}
	return relation, true
}

// SyncOptions control an incremental sync request.
type SyncOptions struct {
	// Since is the batch token from the previous sync's NextBatch.
	// Empty means initial sync.
	Since string
	// Timeout is the long-poll wait in milliseconds. Only sent when
	// SetTimeout is true, so a zero timeout can be expressed.
	Timeout    int
	SetTimeout bool
	// Filter is an inline JSON filter or a server-side filter ID.
	Filter string
}

// SyncResponse is the subset of the /sync response the mirror reads.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection holds per-room sync data, keyed by room ID.
type RoomsSection struct {
	Join map[RoomID]JoinedRoom `json:"join"`
}

// JoinedRoom is the sync data for a room the user has joined.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
}

// TimelineSection is the timeline chunk of a joined room.
type TimelineSection struct {
	Events  []Event `json:"events"`
	Limited bool    `json:"limited"`
}

// SendEventResponse is the response to an event send or redaction.
type SendEventResponse struct {
	EventID EventID `json:"event_id"`
}

// WhoAmIResponse is the response from /account/whoami.
type WhoAmIResponse struct {
	UserID UserID `json:"user_id"`
}
