// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package notify mirrors work-order changes into the chat room. It is
// the production workorder.Observer: order creation posts a notice,
// status changes edit it in place, and deletion redacts it.
//
// Notification failures are logged and swallowed. The order mutation
// has already committed by the time the observer runs, and the chat
// mirror is best-effort; the next status change re-renders the full
// message, so a missed edit heals itself.
package notify

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kassenwerk/kassenwerk/messaging"
	"github.com/kassenwerk/kassenwerk/workorder"
)

// Gateway is the slice of the chat session the notifier uses.
// *messaging.Session is the production implementation.
type Gateway interface {
	SendNotice(ctx context.Context, roomID messaging.RoomID, content messaging.MessageContent) (messaging.EventID, error)
	EditNotice(ctx context.Context, roomID messaging.RoomID, target messaging.EventID, body, formattedBody string) (messaging.EventID, error)
	React(ctx context.Context, roomID messaging.RoomID, target messaging.EventID, key string) (messaging.EventID, error)
	Redact(ctx context.Context, roomID messaging.RoomID, target messaging.EventID, reason string) (messaging.EventID, error)
}

var _ Gateway = (*messaging.Session)(nil)

// Notifier posts work orders to a chat room and keeps the message in
// step with the order's lifecycle.
type Notifier struct {
	gateway Gateway
	room    messaging.RoomID
	store   workorder.Store
	logger  *slog.Logger
}

// New wires a Notifier. The store is needed to record the message ID
// of the posted notice on the order. A nil logger uses slog.Default().
func New(gateway Gateway, room messaging.RoomID, store workorder.Store, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		gateway: gateway,
		room:    room,
		store:   store,
		logger:  logger,
	}
}

var _ workorder.Observer = (*Notifier)(nil)

// OrderCreated posts the rendered order as a notice and records the
// resulting event ID on the order. If the send succeeds but the
// record write fails, the message is orphaned: later changes cannot
// find it, so the failure is logged at error level.
func (n *Notifier) OrderCreated(ctx context.Context, order *workorder.WorkOrder) {
	body, formatted := renderBodies(order)
	eventID, err := n.gateway.SendNotice(ctx, n.room, messaging.NewNotice(body, formatted))
	if err != nil {
		n.logger.Error("posting work order to chat failed",
			"order_id", order.ID,
			"error", err,
		)
		return
	}

	if err := n.store.SetMessageID(ctx, order.ID, string(eventID)); err != nil {
		n.logger.Error("recording chat message on work order failed",
			"order_id", order.ID,
			"message_id", eventID,
			"error", err,
		)
		return
	}

	n.logger.Info("work order posted to chat",
		"order_id", order.ID,
		"message_id", eventID,
	)

	// Seed one reaction per status so operators can tap an existing
	// emoji instead of typing one. A failed seed leaves that button
	// missing; the remaining statuses are still seeded.
	for _, status := range workorder.Statuses() {
		if _, err := n.gateway.React(ctx, n.room, eventID, status.Emoji()); err != nil {
			n.logger.Warn("seeding status reaction failed",
				"order_id", order.ID,
				"message_id", eventID,
				"status", status,
				"error", err,
			)
		}
	}
}

// OrderStatusChanged edits the order's chat message to the new
// rendering. Orders that never made it to chat are skipped with a
// warning.
func (n *Notifier) OrderStatusChanged(ctx context.Context, order *workorder.WorkOrder) {
	if order.MessageID == "" {
		n.logger.Warn("work order has no chat message, skipping edit",
			"order_id", order.ID,
		)
		return
	}

	body, formatted := renderBodies(order)
	_, err := n.gateway.EditNotice(ctx, n.room, messaging.EventID(order.MessageID), body, formatted)
	if err != nil {
		n.logger.Error("editing work order chat message failed",
			"order_id", order.ID,
			"message_id", order.MessageID,
			"error", err,
		)
		return
	}

	n.logger.Info("work order chat message updated",
		"order_id", order.ID,
		"message_id", order.MessageID,
		"status", order.Status,
	)
}

// OrderDeleted redacts the order's chat message, if it had one.
func (n *Notifier) OrderDeleted(ctx context.Context, order *workorder.WorkOrder) {
	if order.MessageID == "" {
		return
	}

	_, err := n.gateway.Redact(ctx, n.room, messaging.EventID(order.MessageID), "work order deleted")
	if err != nil {
		n.logger.Error("redacting work order chat message failed",
			"order_id", order.ID,
			"message_id", order.MessageID,
			"error", err,
		)
		return
	}

	n.logger.Info("work order chat message redacted",
		"order_id", order.ID,
		"message_id", order.MessageID,
	)
}

// renderBodies renders the order and splits the result into the
// plain-text body and, when the rendering carries markup, the HTML
// formatted body.
func renderBodies(order *workorder.WorkOrder) (body, formatted string) {
	rendered := workorder.Render(order)
	plain := strings.NewReplacer("<s>", "", "</s>", "").Replace(rendered)
	if plain == rendered {
		return rendered, ""
	}
	return plain, rendered
}
