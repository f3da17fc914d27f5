// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package workorder holds the work-order domain model: statuses and
// types, the status↔emoji bijection that drives chat-reaction
// transitions, the deterministic message renderer, the store
// contract, and the Tracker that commits mutations and fans them out
// to observers.
package workorder

import (
	"fmt"
	"time"
)

// Status is a work order's lifecycle state. Any status may be set to
// any other status: the chat-reaction channel deliberately allows
// moving backward, so a mistaken "done" reaction can be corrected by
// reacting "pending" again.
type Status string

const (
	// StatusPending is the initial state of every work order.
	StatusPending Status = "pending"
	// StatusInProgress marks an order an operator has picked up.
	StatusInProgress Status = "in_progress"
	// StatusDone marks a completed order.
	StatusDone Status = "done"
)

// Statuses returns all statuses in display order. The reaction
// palette on a new chat message is seeded in this order.
func Statuses() []Status {
	return []Status{StatusPending, StatusInProgress, StatusDone}
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusPending, StatusInProgress, StatusDone:
		return Status(raw), nil
	}
	return "", fmt.Errorf("workorder: unknown status %q", raw)
}

// Emoji returns the reaction glyph for the status. Together with
// StatusForEmoji this forms a bijection between the three statuses
// and the three glyphs.
func (s Status) Emoji() string {
	switch s {
	case StatusPending:
		return "🚨"
	case StatusInProgress:
		return "⌛"
	case StatusDone:
		return "✅"
	}
	return "❓"
}

// Open reports whether the status counts as open for the
// one-open-order-per-(register, type) creation guard.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusInProgress
}

// StatusForEmoji maps a reaction glyph back to its status. Unknown
// glyphs return false: the listener ignores them.
func StatusForEmoji(emoji string) (Status, bool) {
	for _, status := range Statuses() {
		if status.Emoji() == emoji {
			return status, true
		}
	}
	return "", false
}

// Type classifies what a work order asks for.
type Type string

const (
	// TypeOverflow reports too much cash in a register drawer.
	TypeOverflow Type = "overflow"
	// TypeChangeRequest asks for coins or small notes, itemized per
	// denomination.
	TypeChangeRequest Type = "change_request"
	// TypeOther covers free-form requests described in the notes.
	TypeOther Type = "other"
)

// Types returns all work-order types.
func Types() []Type {
	return []Type{TypeOverflow, TypeChangeRequest, TypeOther}
}

// ParseType validates a raw type string.
func ParseType(raw string) (Type, error) {
	switch Type(raw) {
	case TypeOverflow, TypeChangeRequest, TypeOther:
		return Type(raw), nil
	}
	return "", fmt.Errorf("workorder: unknown type %q", raw)
}

// ChangeRequestItem is one denomination line of a change request.
// Denomination is in minor currency units (cents).
type ChangeRequestItem struct {
	Denomination int `json:"denomination"`
	Quantity     int `json:"quantity"`
}

// WorkOrder is an operational request raised at a register.
type WorkOrder struct {
	// ID is the store-assigned opaque identifier.
	ID string

	// Register names the physical station, e.g. "Bar 1".
	Register string

	Type   Type
	Status Status

	// Notes is optional free text from the reporter.
	Notes string

	// MessageID is the chat event mirroring this order. Empty until
	// the outbound notifier has posted the message; immutable once
	// set.
	MessageID string

	// Items is present only for change_request orders.
	Items []ChangeRequestItem

	CreatedAt time.Time
}

// Validate checks the structural invariants: a known type and status,
// a register, positive item values, and the items-only-on-
// change_request rule.
func (w *WorkOrder) Validate() error {
	if w.Register == "" {
		return fmt.Errorf("workorder: register is required")
	}
	if _, err := ParseType(string(w.Type)); err != nil {
		return err
	}
	if _, err := ParseStatus(string(w.Status)); err != nil {
		return err
	}
	if w.Type == TypeChangeRequest {
		if len(w.Items) == 0 {
			return fmt.Errorf("workorder: change_request requires at least one item")
		}
	} else if len(w.Items) > 0 {
		return fmt.Errorf("workorder: items are only valid for change_request orders")
	}
	for _, item := range w.Items {
		if item.Denomination <= 0 {
			return fmt.Errorf("workorder: item denomination must be positive, got %d", item.Denomination)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("workorder: item quantity must be positive, got %d", item.Quantity)
		}
	}
	return nil
}

// Clone returns a deep copy. The Tracker hands clones to observers so
// a slow notifier can never observe a half-updated order.
func (w *WorkOrder) Clone() *WorkOrder {
	copied := *w
	if len(w.Items) > 0 {
		copied.Items = make([]ChangeRequestItem, len(w.Items))
		copy(copied.Items, w.Items)
	}
	return &copied
}
