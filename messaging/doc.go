// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging is a minimal Matrix client-server API client,
// covering the event operations the work-order mirror needs: sending
// and editing notices, redacting events, reacting, incremental /sync,
// and token validation via whoami.
//
// The package splits transport from authentication. Client holds the
// homeserver URL and HTTP transport; Session adds an access token and
// the authenticated operations. Sessions are lightweight and safe for
// concurrent use.
//
// Event sends use Matrix's idempotent PUT with a transaction ID, so a
// retried request after a network failure cannot duplicate a message.
package messaging
