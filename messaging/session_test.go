// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newTestSession wires a Session against a test homeserver handler.
func newTestSession(t *testing.T, handler http.HandlerFunc) *Session {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client.Session("test-token")
}

func TestWhoAmI(t *testing.T) {
	session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_matrix/client/v3/account/whoami" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"user_id": "@bot:example.org"})
	})

	userID, err := session.WhoAmI(context.Background())
	if err != nil {
		t.Fatalf("WhoAmI: %v", err)
	}
	if userID != "@bot:example.org" {
		t.Errorf("userID = %q", userID)
	}
}

func TestSendNotice(t *testing.T) {
	var gotMethod, gotPath string
	var gotContent MessageContent
	session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotContent); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"event_id": "$sent"})
	})

	eventID, err := session.SendNotice(context.Background(), "!room:example.org",
		NewNotice("🚨 - Cash overflow reported at register „Bar 1”.", ""))
	if err != nil {
		t.Fatalf("SendNotice: %v", err)
	}
	if eventID != "$sent" {
		t.Errorf("eventID = %q", eventID)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("method = %q, want PUT", gotMethod)
	}
	prefix := "/_matrix/client/v3/rooms/!room:example.org/send/m.room.message/kassenwerk-"
	if !strings.HasPrefix(gotPath, prefix) {
		t.Errorf("path = %q, want prefix %q", gotPath, prefix)
	}
	if gotContent.MsgType != MsgTypeNotice {
		t.Errorf("msgtype = %q, want %q", gotContent.MsgType, MsgTypeNotice)
	}
}

func TestSendNoticeFormatted(t *testing.T) {
	var gotContent MessageContent
	session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotContent)
		json.NewEncoder(w).Encode(map[string]string{"event_id": "$sent"})
	})

	_, err := session.SendNotice(context.Background(), "!room:example.org",
		NewNotice("✅ - done", "<s>✅ - done</s>"))
	if err != nil {
		t.Fatalf("SendNotice: %v", err)
	}
	if gotContent.Format != FormatCustomHTML {
		t.Errorf("format = %q, want %q", gotContent.Format, FormatCustomHTML)
	}
	if gotContent.FormattedBody != "<s>✅ - done</s>" {
		t.Errorf("formatted_body = %q", gotContent.FormattedBody)
	}
}

func TestTransactionIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		txn := parts[len(parts)-1]
		if seen[txn] {
			t.Errorf("transaction ID %q reused", txn)
		}
		seen[txn] = true
		json.NewEncoder(w).Encode(map[string]string{"event_id": "$sent"})
	})

	for i := 0; i < 5; i++ {
		if _, err := session.SendNotice(context.Background(), "!r:x", NewNotice("hi", "")); err != nil {
			t.Fatalf("SendNotice: %v", err)
		}
	}
	if len(seen) != 5 {
		t.Errorf("saw %d distinct transaction IDs, want 5", len(seen))
	}
}

func TestEditNotice(t *testing.T) {
	var gotContent MessageContent
	session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotContent)
		json.NewEncoder(w).Encode(map[string]string{"event_id": "$edit"})
	})

	eventID, err := session.EditNotice(context.Background(), "!room:example.org", "$orig",
		"⌛ - updated", "")
	if err != nil {
		t.Fatalf("EditNotice: %v", err)
	}
	if eventID != "$edit" {
		t.Errorf("eventID = %q", eventID)
	}
	if !strings.HasPrefix(gotContent.Body, "* ") {
		t.Errorf("fallback body = %q, want \"* \" prefix", gotContent.Body)
	}
	if gotContent.NewContent == nil || gotContent.NewContent.Body != "⌛ - updated" {
		t.Errorf("m.new_content = %+v", gotContent.NewContent)
	}
	if gotContent.RelatesTo == nil || gotContent.RelatesTo.RelType != RelReplace ||
		gotContent.RelatesTo.EventID != "$orig" {
		t.Errorf("m.relates_to = %+v", gotContent.RelatesTo)
	}
}

func TestEditNoticeFormatted(t *testing.T) {
	var gotContent MessageContent
	session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotContent)
		json.NewEncoder(w).Encode(map[string]string{"event_id": "$edit"})
	})

	_, err := session.EditNotice(context.Background(), "!room:example.org", "$orig",
		"✅ - done", "<s>✅ - done</s>")
	if err != nil {
		t.Fatalf("EditNotice: %v", err)
	}
	if gotContent.FormattedBody != "* <s>✅ - done</s>" {
		t.Errorf("fallback formatted_body = %q", gotContent.FormattedBody)
	}
	if gotContent.NewContent.FormattedBody != "<s>✅ - done</s>" {
		t.Errorf("replacement formatted_body = %q", gotContent.NewContent.FormattedBody)
	}
}

func TestReact(t *testing.T) {
	var gotPath string
	var gotContent ReactionContent
	session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotContent)
		json.NewEncoder(w).Encode(map[string]string{"event_id": "$react"})
	})

	eventID, err := session.React(context.Background(), "!room:example.org", "$msg", "✅")
	if err != nil {
		t.Fatalf("React: %v", err)
	}
	if eventID != "$react" {
		t.Errorf("eventID = %q", eventID)
	}
	if !strings.Contains(gotPath, "/send/m.reaction/") {
		t.Errorf("path = %q", gotPath)
	}
	want := RelatesTo{RelType: RelAnnotation, EventID: "$msg", Key: "✅"}
	if gotContent.RelatesTo != want {
		t.Errorf("m.relates_to = %+v, want %+v", gotContent.RelatesTo, want)
	}
}

func TestRedact(t *testing.T) {
	var gotPath string
	var gotRequest RedactRequest
	session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotRequest)
		json.NewEncoder(w).Encode(map[string]string{"event_id": "$redaction"})
	})

	eventID, err := session.Redact(context.Background(), "!room:example.org", "$msg", "order deleted")
	if err != nil {
		t.Fatalf("Redact: %v", err)
	}
	if eventID != "$redaction" {
		t.Errorf("eventID = %q", eventID)
	}
	if !strings.Contains(gotPath, "/redact/$msg/") {
		t.Errorf("path = %q", gotPath)
	}
	if gotRequest.Reason != "order deleted" {
		t.Errorf("reason = %q", gotRequest.Reason)
	}
}

func TestSync(t *testing.T) {
	var gotQuery map[string][]string
	session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		json.NewEncoder(w).Encode(map[string]any{
			"next_batch": "s2",
			"rooms": map[string]any{
				"join": map[string]any{
					"!room:example.org": map[string]any{
						"timeline": map[string]any{
							"events": []map[string]any{
								{
									"event_id":         "$r1",
									"type":             "m.reaction",
									"sender":           "@alice:example.org",
									"origin_server_ts": 1234,
									"content": map[string]any{
										"m.relates_to": map[string]any{
											"rel_type": "m.annotation",
											"event_id": "$msg",
											"key":      "✅",
										},
									},
								},
							},
						},
					},
				},
			},
		})
	})

	response, err := session.Sync(context.Background(), SyncOptions{
		Since:      "s1",
		Timeout:    30000,
		SetTimeout: true,
		Filter:     `{"room":{"timeline":{"limit":50}}}`,
	})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if response.NextBatch != "s2" {
		t.Errorf("NextBatch = %q", response.NextBatch)
	}
	if got := gotQuery["since"]; len(got) != 1 || got[0] != "s1" {
		t.Errorf("since = %v", got)
	}
	if got := gotQuery["timeout"]; len(got) != 1 || got[0] != "30000" {
		t.Errorf("timeout = %v", got)
	}
	if len(gotQuery["filter"]) != 1 {
		t.Errorf("filter = %v", gotQuery["filter"])
	}

	room, exists := response.Rooms.Join["!room:example.org"]
	if !exists {
		t.Fatal("joined room missing from response")
	}
	if len(room.Timeline.Events) != 1 {
		t.Fatalf("timeline has %d events, want 1", len(room.Timeline.Events))
	}
	event := room.Timeline.Events[0]
	relation, valid := ReactionRelation(&event)
	if !valid {
		t.Fatal("ReactionRelation rejected a valid annotation")
	}
	if relation.EventID != "$msg" || relation.Key != "✅" {
		t.Errorf("relation = %+v", relation)
	}
}

func TestSyncInitialOmitsSince(t *testing.T) {
	var gotQuery map[string][]string
	session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		json.NewEncoder(w).Encode(map[string]any{"next_batch": "s1"})
	})

	if _, err := session.Sync(context.Background(), SyncOptions{}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(gotQuery["since"]) != 0 {
		t.Errorf("initial sync sent since = %v", gotQuery["since"])
	}
	if len(gotQuery["timeout"]) != 0 {
		t.Errorf("sync without SetTimeout sent timeout = %v", gotQuery["timeout"])
	}
}

func TestReactionRelationRejects(t *testing.T) {
	tests := []struct {
		name  string
		event Event
	}{
		{
			name:  "not a reaction",
			event: Event{Type: EventTypeMessage, Content: json.RawMessage(`{}`)},
		},
		{
			name:  "malformed content",
			event: Event{Type: EventTypeReaction, Content: json.RawMessage(`"nope"`)},
		},
		{
			name: "wrong rel_type",
			event: Event{Type: EventTypeReaction, Content: json.RawMessage(
				`{"m.relates_to":{"rel_type":"m.replace","event_id":"$x","key":"✅"}}`)},
		},
		{
			name: "missing key",
			event: Event{Type: EventTypeReaction, Content: json.RawMessage(
				`{"m.relates_to":{"rel_type":"m.annotation","event_id":"$x"}}`)},
		},
		{
			name: "missing event_id",
			event: Event{Type: EventTypeReaction, Content: json.RawMessage(
				`{"m.relates_to":{"rel_type":"m.annotation","key":"✅"}}`)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, valid := ReactionRelation(&tt.event); valid {
				t.Error("ReactionRelation accepted the event")
			}
		})
	}
}
