// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/kassenwerk/kassenwerk/lib/clock"
	"github.com/kassenwerk/kassenwerk/lib/codec"
	"github.com/kassenwerk/kassenwerk/lib/kvstore"
	"github.com/kassenwerk/kassenwerk/lib/socket"
	"github.com/kassenwerk/kassenwerk/syncer"
	"github.com/kassenwerk/kassenwerk/workorder"
)

// orderPayload is the wire representation of a work order on the
// admin socket.
type orderPayload struct {
	ID        string        `cbor:"id"`
	Register  string        `cbor:"register"`
	Type      string        `cbor:"type"`
	Status    string        `cbor:"status"`
	Notes     string        `cbor:"notes,omitempty"`
	MessageID string        `cbor:"message_id,omitempty"`
	Items     []itemPayload `cbor:"items,omitempty"`
	CreatedAt int64         `cbor:"created_at"`
	Rendered  string        `cbor:"rendered"`

	// History is filled only by order.get; list responses stay lean.
	History []historyPayload `cbor:"history,omitempty"`
}

type itemPayload struct {
	Denomination int `cbor:"denomination"`
	Quantity     int `cbor:"quantity"`
}

// historyPayload is one recorded status change.
type historyPayload struct {
	From      string `cbor:"from"`
	To        string `cbor:"to"`
	Actor     string `cbor:"actor"`
	ChangedAt int64  `cbor:"changed_at"`
}

func payloadFromOrder(order *workorder.WorkOrder) orderPayload {
	payload := orderPayload{
		ID:        order.ID,
		Register:  order.Register,
		Type:      string(order.Type),
		Status:    string(order.Status),
		Notes:     order.Notes,
		MessageID: order.MessageID,
		CreatedAt: order.CreatedAt.UnixMilli(),
		Rendered:  workorder.Render(order),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, itemPayload{
			Denomination: item.Denomination,
			Quantity:     item.Quantity,
		})
	}
	return payload
}

// serviceStatus answers the service.status action. cursor may be nil
// when the service runs without a durable sync cursor.
type serviceStatus struct {
	clock         clock.Clock
	version       string
	mirrorEnabled bool
	cursor        kvstore.Store
	startedAt     time.Time
}

func newServiceStatus(clk clock.Clock, version string, mirrorEnabled bool, cursor kvstore.Store) *serviceStatus {
	return &serviceStatus{
		clock:         clk,
		version:       version,
		mirrorEnabled: mirrorEnabled,
		cursor:        cursor,
		startedAt:     clk.Now(),
	}
}

// registerActions wires the admin socket actions to the tracker.
func registerActions(server *socket.Server, tracker *workorder.Tracker, status *serviceStatus) {
	server.Handle("order.create", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			Register string        `cbor:"register"`
			Type     string        `cbor:"type"`
			Notes    string        `cbor:"notes"`
			Items    []itemPayload `cbor:"items"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}

		orderType, err := workorder.ParseType(request.Type)
		if err != nil {
			return nil, err
		}
		params := workorder.CreateParams{
			Register: request.Register,
			Type:     orderType,
			Notes:    request.Notes,
		}
		for _, item := range request.Items {
			params.Items = append(params.Items, workorder.ChangeRequestItem{
				Denomination: item.Denomination,
				Quantity:     item.Quantity,
			})
		}

		order, err := tracker.Create(ctx, params)
		if err != nil {
			return nil, err
		}
		return payloadFromOrder(order), nil
	})

	server.Handle("order.get", func(ctx context.Context, raw []byte) (any, error) {
		id, err := requestID(raw)
		if err != nil {
			return nil, err
		}
		order, err := tracker.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		changes, err := tracker.History(ctx, id)
		if err != nil {
			return nil, err
		}

		payload := payloadFromOrder(order)
		for _, change := range changes {
			payload.History = append(payload.History, historyPayload{
				From:      string(change.From),
				To:        string(change.To),
				Actor:     change.Actor,
				ChangedAt: change.At.UnixMilli(),
			})
		}
		return payload, nil
	})

	server.Handle("order.list", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			Register string `cbor:"register"`
			Status   string `cbor:"status"`
			Type     string `cbor:"type"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}

		filter := workorder.ListFilter{Register: request.Register}
		if request.Status != "" {
			status, err := workorder.ParseStatus(request.Status)
			if err != nil {
				return nil, err
			}
			filter.Status = status
		}
		if request.Type != "" {
			orderType, err := workorder.ParseType(request.Type)
			if err != nil {
				return nil, err
			}
			filter.Type = orderType
		}

		orders, err := tracker.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		payloads := make([]orderPayload, 0, len(orders))
		for _, order := range orders {
			payloads = append(payloads, payloadFromOrder(order))
		}
		return struct {
			Orders []orderPayload `cbor:"orders"`
		}{Orders: payloads}, nil
	})

	server.Handle("order.status", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			ID     string `cbor:"id"`
			Status string `cbor:"status"`
			Actor  string `cbor:"actor"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
		if request.ID == "" {
			return nil, fmt.Errorf("missing required field: id")
		}
		status, err := workorder.ParseStatus(request.Status)
		if err != nil {
			return nil, err
		}
		actor := request.Actor
		if actor == "" {
			actor = "admin"
		}

		order, err := tracker.Transition(ctx, request.ID, status, actor)
		if err != nil {
			return nil, err
		}
		return payloadFromOrder(order), nil
	})

	server.Handle("order.delete", func(ctx context.Context, raw []byte) (any, error) {
		id, err := requestID(raw)
		if err != nil {
			return nil, err
		}
		if _, err := tracker.Delete(ctx, id); err != nil {
			return nil, err
		}
		return nil, nil
	})

	server.Handle("service.status", func(ctx context.Context, _ []byte) (any, error) {
		orders, err := tracker.List(ctx, workorder.ListFilter{})
		if err != nil {
			return nil, err
		}
		var open int
		for _, order := range orders {
			if order.Status.Open() {
				open++
			}
		}

		var cursor string
		if status.cursor != nil {
			cursor, _ = status.cursor.Get(syncer.CursorKey)
		}

		return struct {
			Version       string `cbor:"version"`
			MirrorEnabled bool   `cbor:"mirror_enabled"`
			UptimeSeconds int64  `cbor:"uptime_seconds"`
			TotalOrders   int    `cbor:"total_orders"`
			OpenOrders    int    `cbor:"open_orders"`
			SyncCursor    string `cbor:"sync_cursor,omitempty"`
		}{
			Version:       status.version,
			MirrorEnabled: status.mirrorEnabled,
			UptimeSeconds: int64(status.clock.Now().Sub(status.startedAt).Seconds()),
			TotalOrders:   len(orders),
			OpenOrders:    open,
			SyncCursor:    cursor,
		}, nil
	})
}

func requestID(raw []byte) (string, error) {
	var request struct {
		ID string `cbor:"id"`
	}
	if err := codec.Unmarshal(raw, &request); err != nil {
		return "", fmt.Errorf("invalid request: %w", err)
	}
	if request.ID == "" {
		return "", fmt.Errorf("missing required field: id")
	}
	return request.ID, nil
}
