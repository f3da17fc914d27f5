// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/kassenwerk/kassenwerk/lib/socket"
)

const version = "0.3.0"

const defaultSocketPath = "/run/kassenwerk/admin.sock"

// socketEnvVar overrides the socket path without a flag, matching the
// service's config-by-environment convention.
const socketEnvVar = "KASSENWERK_SOCKET"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}

	switch args[0] {
	case "create":
		return cmdCreate(args[1:])
	case "list":
		return cmdList(args[1:])
	case "show":
		return cmdShow(args[1:])
	case "start":
		return cmdTransition(args[1:], "start", "in_progress")
	case "done":
		return cmdTransition(args[1:], "done", "done")
	case "reopen":
		return cmdTransition(args[1:], "reopen", "pending")
	case "delete":
		return cmdDelete(args[1:])
	case "status":
		return cmdStatus(args[1:])
	case "version", "--version":
		fmt.Printf("kassenwerk %s\n", version)
		return nil
	case "help", "--help", "-h":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: kassenwerk <command> [flags]

commands:
  create    open a new work order
  list      list work orders
  show      show one work order
  start     mark a work order in progress
  done      mark a work order done
  reopen    mark a work order pending again
  delete    delete a work order
  status    show service status
  version   print the version`)
}

// newFlagSet builds a flag set with the shared --socket flag.
func newFlagSet(name string) (*pflag.FlagSet, *string) {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	defaultPath := os.Getenv(socketEnvVar)
	if defaultPath == "" {
		defaultPath = defaultSocketPath
	}
	socketPath := flags.String("socket", defaultPath, "admin socket path")
	return flags, socketPath
}

func callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func cmdCreate(args []string) error {
	flags, socketPath := newFlagSet("create")
	register := flags.String("register", "", "register name (required)")
	orderType := flags.String("type", "", "order type: overflow, change_request, or other (required)")
	notes := flags.String("notes", "", "free-form notes")
	items := flags.StringArray("item", nil, "change item as QUANTITYxDENOMINATION in cents (repeatable)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *register == "" {
		return fmt.Errorf("--register is required")
	}
	if *orderType == "" {
		return fmt.Errorf("--type is required")
	}

	request := map[string]any{
		"register": *register,
		"type":     *orderType,
		"notes":    *notes,
	}
	if len(*items) > 0 {
		parsed, err := parseItems(*items)
		if err != nil {
			return err
		}
		request["items"] = parsed
	}

	ctx, cancel := callContext()
	defer cancel()

	var order orderPayload
	if err := socket.NewClient(*socketPath).Call(ctx, "order.create", request, &order); err != nil {
		return err
	}

	fmt.Printf("created %s\n%s\n", order.ID, order.Rendered)
	return nil
}

func cmdList(args []string) error {
	flags, socketPath := newFlagSet("list")
	register := flags.String("register", "", "filter by register")
	status := flags.String("status", "", "filter by status")
	orderType := flags.String("type", "", "filter by type")
	if err := flags.Parse(args); err != nil {
		return err
	}

	request := map[string]any{}
	if *register != "" {
		request["register"] = *register
	}
	if *status != "" {
		request["status"] = *status
	}
	if *orderType != "" {
		request["type"] = *orderType
	}

	ctx, cancel := callContext()
	defer cancel()

	var response struct {
		Orders []orderPayload `cbor:"orders"`
	}
	if err := socket.NewClient(*socketPath).Call(ctx, "order.list", request, &response); err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tREGISTER\tTYPE\tSTATUS\tCREATED")
	for _, order := range response.Orders {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			order.ID,
			order.Register,
			order.Type,
			order.Status,
			time.UnixMilli(order.CreatedAt).UTC().Format(time.RFC3339),
		)
	}
	return writer.Flush()
}

func cmdShow(args []string) error {
	flags, socketPath := newFlagSet("show")
	if err := flags.Parse(args); err != nil {
		return err
	}
	id, err := singleArg(flags, "show")
	if err != nil {
		return err
	}

	ctx, cancel := callContext()
	defer cancel()

	var order orderPayload
	if err := socket.NewClient(*socketPath).Call(ctx, "order.get", map[string]any{"id": id}, &order); err != nil {
		return err
	}

	fmt.Printf("id:        %s\n", order.ID)
	fmt.Printf("register:  %s\n", order.Register)
	fmt.Printf("type:      %s\n", order.Type)
	fmt.Printf("status:    %s\n", order.Status)
	fmt.Printf("created:   %s\n", time.UnixMilli(order.CreatedAt).UTC().Format(time.RFC3339))
	if order.Notes != "" {
		fmt.Printf("notes:     %s\n", order.Notes)
	}
	if order.MessageID != "" {
		fmt.Printf("message:   %s\n", order.MessageID)
	}
	for _, item := range order.Items {
		fmt.Printf("item:      %d x %d cents\n", item.Quantity, item.Denomination)
	}
	for _, change := range order.History {
		fmt.Printf("history:   %s -> %s by %s at %s\n",
			change.From,
			change.To,
			change.Actor,
			time.UnixMilli(change.ChangedAt).UTC().Format(time.RFC3339),
		)
	}
	fmt.Printf("\n%s\n", order.Rendered)
	return nil
}

func cmdTransition(args []string, name, status string) error {
	flags, socketPath := newFlagSet(name)
	if err := flags.Parse(args); err != nil {
		return err
	}
	id, err := singleArg(flags, name)
	if err != nil {
		return err
	}

	ctx, cancel := callContext()
	defer cancel()

	request := map[string]any{"id": id, "status": status}
	if user := os.Getenv("USER"); user != "" {
		request["actor"] = user
	}

	var order orderPayload
	err = socket.NewClient(*socketPath).Call(ctx, "order.status", request, &order)
	if err != nil {
		return err
	}

	fmt.Printf("%s is now %s\n%s\n", order.ID, order.Status, order.Rendered)
	return nil
}

func cmdDelete(args []string) error {
	flags, socketPath := newFlagSet("delete")
	if err := flags.Parse(args); err != nil {
		return err
	}
	id, err := singleArg(flags, "delete")
	if err != nil {
		return err
	}

	ctx, cancel := callContext()
	defer cancel()

	if err := socket.NewClient(*socketPath).Call(ctx, "order.delete", map[string]any{"id": id}, nil); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", id)
	return nil
}

func cmdStatus(args []string) error {
	flags, socketPath := newFlagSet("status")
	if err := flags.Parse(args); err != nil {
		return err
	}

	ctx, cancel := callContext()
	defer cancel()

	var status struct {
		Version       string `cbor:"version"`
		MirrorEnabled bool   `cbor:"mirror_enabled"`
		UptimeSeconds int64  `cbor:"uptime_seconds"`
		TotalOrders   int    `cbor:"total_orders"`
		OpenOrders    int    `cbor:"open_orders"`
		SyncCursor    string `cbor:"sync_cursor"`
	}
	if err := socket.NewClient(*socketPath).Call(ctx, "service.status", nil, &status); err != nil {
		return err
	}

	fmt.Printf("version:  %s\n", status.Version)
	fmt.Printf("uptime:   %s\n", (time.Duration(status.UptimeSeconds) * time.Second).String())
	fmt.Printf("mirror:   %v\n", status.MirrorEnabled)
	fmt.Printf("orders:   %d (%d open)\n", status.TotalOrders, status.OpenOrders)
	if status.SyncCursor != "" {
		fmt.Printf("cursor:   %s\n", status.SyncCursor)
	}
	return nil
}

// singleArg returns the one positional argument of a subcommand.
func singleArg(flags *pflag.FlagSet, name string) (string, error) {
	if flags.NArg() != 1 {
		return "", fmt.Errorf("usage: kassenwerk %s [flags] ID", name)
	}
	return flags.Arg(0), nil
}
