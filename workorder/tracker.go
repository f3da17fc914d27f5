// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

package workorder

import (
	"context"
	"fmt"
	"log/slog"
)

// Observer receives domain events after the store commit. The chat
// notifier is the production implementation. Observer methods return
// nothing: a failed notification must never undo or block the
// mutation it follows, so observers log their own failures.
type Observer interface {
	// OrderCreated fires after a new order is committed.
	OrderCreated(ctx context.Context, order *WorkOrder)

	// OrderStatusChanged fires after a committed status change. It
	// does not fire for no-op transitions to the current status.
	OrderStatusChanged(ctx context.Context, order *WorkOrder)

	// OrderDeleted fires after an order is removed, with the order's
	// last state.
	OrderDeleted(ctx context.Context, order *WorkOrder)
}

// NopObserver is an Observer that does nothing.
type NopObserver struct{}

func (NopObserver) OrderCreated(context.Context, *WorkOrder)       {}
func (NopObserver) OrderStatusChanged(context.Context, *WorkOrder) {}
func (NopObserver) OrderDeleted(context.Context, *WorkOrder)       {}

// CreateParams are the caller-supplied fields of a new work order.
// Status is always pending at creation.
type CreateParams struct {
	Register string
	Type     Type
	Notes    string
	Items    []ChangeRequestItem
}

// Tracker is the work-order state machine. All mutations flow through
// it: it validates, commits via the Store, and then invokes the
// Observer with the committed state. The Store itself knows nothing
// about chat.
type Tracker struct {
	store    Store
	observer Observer
	logger   *slog.Logger
}

// NewTracker wires a Tracker. A nil observer means no notifications;
// a nil logger uses slog.Default().
func NewTracker(store Store, observer Observer, logger *slog.Logger) *Tracker {
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, observer: observer, logger: logger}
}

// Create validates and persists a new pending work order, enforcing
// the one-open-order-per-(register, type) rule, then notifies the
// observer.
func (t *Tracker) Create(ctx context.Context, params CreateParams) (*WorkOrder, error) {
	order := &WorkOrder{
		Register: params.Register,
		Type:     params.Type,
		Status:   StatusPending,
		Notes:    params.Notes,
		Items:    params.Items,
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}

	open, err := t.store.HasOpen(ctx, order.Register, order.Type)
	if err != nil {
		return nil, fmt.Errorf("workorder: checking open orders: %w", err)
	}
	if open {
		return nil, ErrActiveOrder
	}

	if err := t.store.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("workorder: creating order: %w", err)
	}

	t.logger.Info("work order created",
		"order_id", order.ID,
		"register", order.Register,
		"type", order.Type,
	)
	t.observer.OrderCreated(ctx, order.Clone())
	return order, nil
}

// Transition sets the order's status, attributing the change to
// actor in the order's history. Setting the current status is a
// success no-op that skips the store write, the history entry, and
// the observer. Returns ErrNotFound if the order does not exist.
func (t *Tracker) Transition(ctx context.Context, id string, status Status, actor string) (*WorkOrder, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, err
	}

	current, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == status {
		return current, nil
	}

	updated, err := t.store.SetStatus(ctx, id, status, actor)
	if err != nil {
		return nil, err
	}

	t.logger.Info("work order status changed",
		"order_id", updated.ID,
		"register", updated.Register,
		"from", current.Status,
		"to", updated.Status,
		"actor", actor,
	)
	t.observer.OrderStatusChanged(ctx, updated.Clone())
	return updated, nil
}

// Delete removes the order and notifies the observer with its last
// state.
func (t *Tracker) Delete(ctx context.Context, id string) (*WorkOrder, error) {
	order, err := t.store.Delete(ctx, id)
	if err != nil {
		return nil, err
	}

	t.logger.Info("work order deleted",
		"order_id", order.ID,
		"register", order.Register,
	)
	t.observer.OrderDeleted(ctx, order.Clone())
	return order, nil
}

// Get returns the order with the given ID.
func (t *Tracker) Get(ctx context.Context, id string) (*WorkOrder, error) {
	return t.store.Get(ctx, id)
}

// ByMessageID returns the order mirrored by the given chat message.
// The inbound listener uses this to correlate reactions with orders.
func (t *Tracker) ByMessageID(ctx context.Context, messageID string) (*WorkOrder, error) {
	return t.store.ByMessageID(ctx, messageID)
}

// List returns orders matching the filter, newest first.
func (t *Tracker) List(ctx context.Context, filter ListFilter) ([]*WorkOrder, error) {
	return t.store.List(ctx, filter)
}

// History returns the order's status changes, oldest first.
func (t *Tracker) History(ctx context.Context, id string) ([]StatusChange, error) {
	return t.store.History(ctx, id)
}
