// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

package workorder

import (
	"context"
	"errors"
	"time"
)

// StatusChange is one recorded status transition of a work order.
// Actor names whoever drove the change: a chat user ID when it came
// from a reaction, the admin socket's caller otherwise.
type StatusChange struct {
	From  Status
	To    Status
	Actor string
	At    time.Time
}

// ErrNotFound is returned when no work order matches the lookup.
var ErrNotFound = errors.New("workorder: not found")

// ErrMessageIDSet is returned by SetMessageID when the order already
// has a chat message. The message ID is set once, when the outbound
// notifier first posts the order, and never changes afterwards.
var ErrMessageIDSet = errors.New("workorder: message ID already set")

// ErrActiveOrder is returned at creation time when the register
// already has an open order of the same type.
var ErrActiveOrder = errors.New("workorder: register already has an active order of this type")

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Register string
	Status   Status
	Type     Type
}

// Store persists work orders. Implementations must return
// ErrNotFound for missing orders and ErrMessageIDSet for a second
// SetMessageID on the same order.
type Store interface {
	// Create persists a new order, assigning ID and CreatedAt.
	Create(ctx context.Context, order *WorkOrder) error

	// Get returns the order with the given ID.
	Get(ctx context.Context, id string) (*WorkOrder, error)

	// ByMessageID returns the order mirrored by the given chat
	// message.
	ByMessageID(ctx context.Context, messageID string) (*WorkOrder, error)

	// List returns orders matching the filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]*WorkOrder, error)

	// SetStatus updates the order's status, records the change in the
	// order's history with the acting party, and returns the updated
	// order.
	SetStatus(ctx context.Context, id string, status Status, actor string) (*WorkOrder, error)

	// History returns the order's recorded status changes, oldest
	// first. Returns ErrNotFound if the order does not exist.
	History(ctx context.Context, id string) ([]StatusChange, error)

	// SetMessageID records the chat message mirroring the order.
	SetMessageID(ctx context.Context, id, messageID string) error

	// HasOpen reports whether the register has an order of the given
	// type in an open status (pending or in_progress).
	HasOpen(ctx context.Context, register string, orderType Type) (bool, error)

	// Delete removes the order and returns its last state.
	Delete(ctx context.Context, id string) (*WorkOrder, error)
}
