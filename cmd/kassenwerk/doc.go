// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

// kassenwerk is the operator CLI for the work-order tracker. It talks
// to kassenwerk-service over the admin socket.
//
// Usage:
//
//	kassenwerk create --register "Bar 1" --type overflow
//	kassenwerk create --register "Kasse 3" --type change_request --item 2x50 --item 1x200
//	kassenwerk list [--register NAME] [--status STATUS]
//	kassenwerk show ID
//	kassenwerk start ID       (pending -> in_progress)
//	kassenwerk done ID        (-> done)
//	kassenwerk reopen ID      (-> pending)
//	kassenwerk delete ID
//	kassenwerk status         (service health)
//
// Items are QUANTITYxDENOMINATION with the denomination in cents:
// "2x50" is two 50-cent rolls, "1x200" one 2-euro roll.
package main
