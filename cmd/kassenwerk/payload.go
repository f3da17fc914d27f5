// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"
	"strings"
)

// orderPayload mirrors the wire shape served by the admin socket.
type orderPayload struct {
	ID        string        `cbor:"id"`
	Register  string        `cbor:"register"`
	Type      string        `cbor:"type"`
	Status    string        `cbor:"status"`
	Notes     string        `cbor:"notes,omitempty"`
	MessageID string        `cbor:"message_id,omitempty"`
	Items     []itemPayload    `cbor:"items,omitempty"`
	CreatedAt int64            `cbor:"created_at"`
	Rendered  string           `cbor:"rendered"`
	History   []historyPayload `cbor:"history,omitempty"`
}

type itemPayload struct {
	Denomination int `cbor:"denomination"`
	Quantity     int `cbor:"quantity"`
}

type historyPayload struct {
	From      string `cbor:"from"`
	To        string `cbor:"to"`
	Actor     string `cbor:"actor"`
	ChangedAt int64  `cbor:"changed_at"`
}

// parseItems converts "QUANTITYxDENOMINATION" strings into payload
// items. Denominations are in cents, so "2x50" is two 50-cent coins
// and "1x200" is one 2-euro coin.
func parseItems(specs []string) ([]itemPayload, error) {
	items := make([]itemPayload, 0, len(specs))
	for _, spec := range specs {
		quantityText, denominationText, ok := strings.Cut(spec, "x")
		if !ok {
			return nil, fmt.Errorf("invalid item %q: expected QUANTITYxDENOMINATION", spec)
		}
		quantity, err := strconv.Atoi(quantityText)
		if err != nil || quantity <= 0 {
			return nil, fmt.Errorf("invalid item %q: quantity must be a positive integer", spec)
		}
		denomination, err := strconv.Atoi(denominationText)
		if err != nil || denomination <= 0 {
			return nil, fmt.Errorf("invalid item %q: denomination must be a positive integer in cents", spec)
		}
		items = append(items, itemPayload{
			Denomination: denomination,
			Quantity:     quantity,
		})
	}
	return items, nil
}
