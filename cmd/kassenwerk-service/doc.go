// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

// kassenwerk-service is the work-order tracker daemon. It owns the
// order database, mirrors order lifecycle changes into a Matrix room,
// applies reactions from the room back onto orders, and serves the
// admin protocol on a Unix socket for the kassenwerk CLI.
//
// Chat mirroring is optional: without a matrix section in the config
// the service runs standalone, tracking orders over the socket only.
package main
