// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

package workorder

import (
	"fmt"
	"strconv"
	"strings"
)

// Render produces the chat message text for a work order. It is a
// pure function of the order's state: identical state always renders
// identical text, which is what makes the edit path idempotent.
//
// Layout: status glyph, " - ", a type-specific body, and an optional
// notes section separated by a blank line. Done orders are wrapped in
// strikethrough markup so the room history keeps a readable record of
// completed requests.
func Render(order *WorkOrder) string {
	var builder strings.Builder

	builder.WriteString(order.Status.Emoji())
	builder.WriteString(" - ")

	switch order.Type {
	case TypeChangeRequest:
		renderChangeRequest(&builder, order)
	case TypeOverflow:
		fmt.Fprintf(&builder, "Cash overflow reported at register „%s”.", order.Register)
		renderNotes(&builder, order.Notes)
	case TypeOther:
		fmt.Fprintf(&builder, "Assistance requested at register „%s”.", order.Register)
		renderNotes(&builder, order.Notes)
	}

	if order.Status == StatusDone {
		return "<s>" + builder.String() + "</s>"
	}
	return builder.String()
}

func renderChangeRequest(builder *strings.Builder, order *WorkOrder) {
	fmt.Fprintf(builder, "Change requested at register „%s”:", order.Register)
	for _, item := range order.Items {
		fmt.Fprintf(builder, "\n- %d × %s", item.Quantity, formatDenomination(item.Denomination))
	}
	renderNotes(builder, order.Notes)
}

func renderNotes(builder *strings.Builder, notes string) {
	if notes == "" {
		return
	}
	builder.WriteString("\n\nNotes: ")
	builder.WriteString(notes)
}

// formatDenomination renders a minor-unit amount: 100 and above in
// major units ("2 Euro", "1.5 Euro", trailing zeros trimmed), below
// 100 in minor units ("50 Cent").
func formatDenomination(minor int) string {
	if minor >= 100 {
		major := strconv.FormatFloat(float64(minor)/100, 'f', -1, 64)
		return major + " Euro"
	}
	return strconv.Itoa(minor) + " Cent"
}
