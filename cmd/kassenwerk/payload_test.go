// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

package main

import "testing"

func TestParseItems(t *testing.T) {
	items, err := parseItems([]string{"2x50", "1x200", "10x5"})
	if err != nil {
		t.Fatalf("parseItems: %v", err)
	}
	want := []itemPayload{
		{Denomination: 50, Quantity: 2},
		{Denomination: 200, Quantity: 1},
		{Denomination: 5, Quantity: 10},
	}
	if len(items) != len(want) {
		t.Fatalf("got %d items, want %d", len(items), len(want))
	}
	for i, item := range items {
		if item != want[i] {
			t.Errorf("item %d: got %+v, want %+v", i, item, want[i])
		}
	}
}

func TestParseItemsRejectsMalformed(t *testing.T) {
	for _, spec := range []string{
		"",
		"2",
		"x50",
		"2x",
		"-1x50",
		"0x50",
		"2x0",
		"2x-5",
		"twoxfifty",
		"2 x 50",
	} {
		if _, err := parseItems([]string{spec}); err == nil {
			t.Errorf("parseItems(%q) succeeded, want error", spec)
		}
	}
}
