// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncer turns chat reactions back into work-order status
// changes. A Listener long-polls the homeserver's /sync endpoint,
// picks out m.reaction annotations on mirrored order messages, maps
// the reaction key to a status, and applies the transition through
// the tracker.
//
// The listener keeps three pieces of state in injected key-value
// stores: the sync batch cursor (durable, so a restart resumes where
// it left off), the bot's own identity (cached a day, refreshed via
// whoami), and a per-reaction dedup mark (held an hour, written
// before the transition so a crash cannot replay an applied
// reaction).
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kassenwerk/kassenwerk/lib/clock"
	"github.com/kassenwerk/kassenwerk/lib/kvstore"
	"github.com/kassenwerk/kassenwerk/messaging"
	"github.com/kassenwerk/kassenwerk/workorder"
)

const (
	// CursorKey holds the next_batch token between sync calls. It is
	// exported so the admin surface can report the cursor position.
	CursorKey = "sync.since"
	// identityKey caches the whoami result.
	identityKey = "identity.self"
	// dedupPrefix marks processed reaction event IDs.
	dedupPrefix = "reaction."

	identityTTL = 24 * time.Hour
	dedupTTL    = time.Hour

	// Daemon-mode backoff after a failed sync, doubling up to the max.
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Gateway is the slice of the chat session the listener uses.
// *messaging.Session is the production implementation.
type Gateway interface {
	WhoAmI(ctx context.Context) (messaging.UserID, error)
	Sync(ctx context.Context, options messaging.SyncOptions) (*messaging.SyncResponse, error)
}

var _ Gateway = (*messaging.Session)(nil)

// Config wires a Listener.
type Config struct {
	Gateway Gateway
	Tracker *workorder.Tracker
	// Room is the chat room carrying the order mirror. Reactions in
	// other rooms are ignored.
	Room messaging.RoomID

	// Cursor persists the sync batch token across restarts.
	Cursor kvstore.Store
	// Cache holds the identity and dedup entries. A process-local
	// memory store is fine; losing it costs at most one redundant
	// whoami and some no-op transitions.
	Cache kvstore.Store

	Clock  clock.Clock
	Logger *slog.Logger

	// Pause is the delay between bounded-mode cycles.
	Pause time.Duration
	// PollTimeout is the /sync long-poll wait.
	PollTimeout time.Duration
}

// Listener applies chat reactions to work orders.
type Listener struct {
	gateway     Gateway
	tracker     *workorder.Tracker
	room        messaging.RoomID
	cursor      kvstore.Store
	cache       kvstore.Store
	clock       clock.Clock
	logger      *slog.Logger
	pause       time.Duration
	pollTimeout time.Duration
}

// NewListener validates the config and builds a Listener.
func NewListener(config Config) (*Listener, error) {
	if config.Gateway == nil {
		return nil, fmt.Errorf("syncer: Gateway is required")
	}
	if config.Tracker == nil {
		return nil, fmt.Errorf("syncer: Tracker is required")
	}
	if config.Room == "" {
		return nil, fmt.Errorf("syncer: Room is required")
	}
	if config.Cursor == nil {
		return nil, fmt.Errorf("syncer: Cursor store is required")
	}
	if config.Cache == nil {
		return nil, fmt.Errorf("syncer: Cache store is required")
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pause := config.Pause
	if pause <= 0 {
		pause = 500 * time.Millisecond
	}
	pollTimeout := config.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}

	return &Listener{
		gateway:     config.Gateway,
		tracker:     config.Tracker,
		room:        config.Room,
		cursor:      config.Cursor,
		cache:       config.Cache,
		clock:       clk,
		logger:      logger,
		pause:       pause,
		pollTimeout: pollTimeout,
	}, nil
}

// Run executes sync cycles until the context is cancelled. With
// cycles > 0 it runs that many cycles and returns; a failed cycle is
// logged, counted, and followed by the configured pause. With
// cycles <= 0 it runs as a daemon, backing off exponentially after
// errors and resetting the backoff on success.
func (l *Listener) Run(ctx context.Context, cycles int) error {
	if cycles > 0 {
		for i := 0; i < cycles; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := l.cycle(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				l.logger.Error("sync cycle failed", "cycle", i+1, "error", err)
			}
			if i+1 < cycles {
				if err := l.sleep(ctx, l.pause); err != nil {
					return err
				}
			}
		}
		return nil
	}

	backoff := initialBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := l.cycle(ctx)
		if err == nil {
			backoff = initialBackoff
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Error("sync cycle failed, backing off",
			"backoff", backoff,
			"error", err,
		)
		if err := l.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// cycle performs one sync call and processes its events. The cursor
// advances as soon as the sync response arrives, before any event is
// applied: a crash mid-batch drops the rest of the batch rather than
// replaying it. Replaying would be worse, since the in-memory dedup
// marks die with the process and a stale reaction could overwrite a
// status set in the meantime.
func (l *Listener) cycle(ctx context.Context) error {
	since, _ := l.cursor.Get(CursorKey)

	response, err := l.gateway.Sync(ctx, messaging.SyncOptions{
		Since:      since,
		Timeout:    int(l.pollTimeout.Milliseconds()),
		SetTimeout: true,
	})
	if err != nil {
		return fmt.Errorf("syncer: sync since %q: %w", since, err)
	}

	if response.NextBatch != "" {
		l.cursor.Put(CursorKey, response.NextBatch, 0)
	}

	room, joined := response.Rooms.Join[l.room]
	if joined && len(room.Timeline.Events) > 0 {
		self := l.identity(ctx)
		for i := range room.Timeline.Events {
			l.processEvent(ctx, &room.Timeline.Events[i], self)
		}
	}
	return nil
}

// processEvent applies a single timeline event. Everything that is
// not an actionable reaction is skipped without error: the stream
// carries plenty of events that are none of our business.
func (l *Listener) processEvent(ctx context.Context, event *messaging.Event, self messaging.UserID) {
	relation, valid := messaging.ReactionRelation(event)
	if !valid {
		return
	}

	// The bot's own reactions must not loop back into transitions.
	if self != "" && event.Sender == self {
		return
	}

	dedupKey := dedupPrefix + string(event.ID)
	if _, seen := l.cache.Get(dedupKey); seen {
		l.logger.Debug("skipping already processed reaction",
			"event_id", event.ID,
		)
		return
	}
	// Marked before the transition: a replayed event after a crash is
	// at worst dropped, never applied twice.
	l.cache.Put(dedupKey, "1", dedupTTL)

	status, known := workorder.StatusForEmoji(relation.Key)
	if !known {
		l.logger.Debug("ignoring reaction with unknown key",
			"event_id", event.ID,
			"key", relation.Key,
		)
		return
	}

	order, err := l.tracker.ByMessageID(ctx, string(relation.EventID))
	if err != nil {
		if errors.Is(err, workorder.ErrNotFound) {
			l.logger.Warn("reaction targets a message with no work order",
				"event_id", event.ID,
				"target", relation.EventID,
			)
			return
		}
		l.logger.Error("looking up work order for reaction failed",
			"event_id", event.ID,
			"target", relation.EventID,
			"error", err,
		)
		return
	}

	if _, err := l.tracker.Transition(ctx, order.ID, status, string(event.Sender)); err != nil {
		l.logger.Error("applying reaction transition failed",
			"order_id", order.ID,
			"status", status,
			"error", err,
		)
		return
	}

	l.logger.Info("applied reaction to work order",
		"order_id", order.ID,
		"status", status,
		"sender", event.Sender,
	)
}

// identity returns the bot's own user ID, cached for a day. When
// whoami fails and no cached value exists, returns empty: the
// self-filter degrades to never filtering rather than blocking the
// whole cycle.
func (l *Listener) identity(ctx context.Context) messaging.UserID {
	if cached, exists := l.cache.Get(identityKey); exists {
		return messaging.UserID(cached)
	}

	userID, err := l.gateway.WhoAmI(ctx)
	if err != nil {
		l.logger.Warn("whoami failed, self-filter disabled for this cycle", "error", err)
		return ""
	}
	l.cache.Put(identityKey, string(userID), identityTTL)
	return userID
}

// sleep waits for the duration on the injected clock, returning early
// if the context is cancelled.
func (l *Listener) sleep(ctx context.Context, duration time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.clock.After(duration):
		return nil
	}
}
