// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/kassenwerk/kassenwerk/lib/clock"
	"github.com/kassenwerk/kassenwerk/lib/kvstore"
	"github.com/kassenwerk/kassenwerk/messaging"
	"github.com/kassenwerk/kassenwerk/workorder"
)

const testRoom = messaging.RoomID("!orders:example.org")

// fakeGateway pops scripted sync responses and records the since
// tokens it was asked for.
type fakeGateway struct {
	responses []syncResult
	sinces    []string

	whoAmICalls int
	whoAmIErr   error
}

type syncResult struct {
	response *messaging.SyncResponse
	err      error
}

func (g *fakeGateway) WhoAmI(context.Context) (messaging.UserID, error) {
	g.whoAmICalls++
	if g.whoAmIErr != nil {
		return "", g.whoAmIErr
	}
	return "@kassenwerk:example.org", nil
}

func (g *fakeGateway) Sync(_ context.Context, options messaging.SyncOptions) (*messaging.SyncResponse, error) {
	g.sinces = append(g.sinces, options.Since)
	if len(g.responses) == 0 {
		return &messaging.SyncResponse{NextBatch: "s-empty"}, nil
	}
	next := g.responses[0]
	g.responses = g.responses[1:]
	return next.response, next.err
}

// reactionEvent builds an m.reaction timeline event.
func reactionEvent(id, sender, target, key string) messaging.Event {
	content, _ := json.Marshal(map[string]any{
		"m.relates_to": map[string]any{
			"rel_type": "m.annotation",
			"event_id": target,
			"key":      key,
		},
	})
	return messaging.Event{
		ID:      messaging.EventID(id),
		Type:    messaging.EventTypeReaction,
		Sender:  messaging.UserID(sender),
		Content: content,
	}
}

func syncWith(nextBatch string, events ...messaging.Event) *messaging.SyncResponse {
	return &messaging.SyncResponse{
		NextBatch: nextBatch,
		Rooms: messaging.RoomsSection{
			Join: map[messaging.RoomID]messaging.JoinedRoom{
				testRoom: {Timeline: messaging.TimelineSection{Events: events}},
			},
		},
	}
}

type fixture struct {
	listener *Listener
	gateway  *fakeGateway
	store    *workorder.MemoryStore
	tracker  *workorder.Tracker
	cursor   *kvstore.Memory
	cache    *kvstore.Memory
	clock    *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	gateway := &fakeGateway{}
	store := workorder.NewMemoryStore()
	tracker := workorder.NewTracker(store, nil, nil)
	cursor := kvstore.NewMemory(fake)
	cache := kvstore.NewMemory(fake)

	listener, err := NewListener(Config{
		Gateway:     gateway,
		Tracker:     tracker,
		Room:        testRoom,
		Cursor:      cursor,
		Cache:       cache,
		Clock:       fake,
		Pause:       time.Millisecond,
		PollTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	return &fixture{
		listener: listener,
		gateway:  gateway,
		store:    store,
		tracker:  tracker,
		cursor:   cursor,
		cache:    cache,
		clock:    fake,
	}
}

// postedOrder creates an order already mirrored to chat.
func (f *fixture) postedOrder(t *testing.T, messageID string) *workorder.WorkOrder {
	t.Helper()
	ctx := context.Background()
	order, err := f.tracker.Create(ctx, workorder.CreateParams{
		Register: "Bar 1",
		Type:     workorder.TypeOverflow,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.store.SetMessageID(ctx, order.ID, messageID); err != nil {
		t.Fatalf("SetMessageID: %v", err)
	}
	return order
}

func TestReactionAppliesTransition(t *testing.T) {
	f := newFixture(t)
	order := f.postedOrder(t, "$msg")
	f.gateway.responses = []syncResult{
		{response: syncWith("s1", reactionEvent("$r1", "@alice:example.org", "$msg", "✅"))},
	}

	if err := f.listener.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run: %v", err)
	}

	updated, err := f.tracker.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if updated.Status != workorder.StatusDone {
		t.Errorf("status = %s, want %s", updated.Status, workorder.StatusDone)
	}
	if cursor, _ := f.cursor.Get("sync.since"); cursor != "s1" {
		t.Errorf("cursor = %q, want %q", cursor, "s1")
	}
}

func TestCursorPassedOnNextCycle(t *testing.T) {
	f := newFixture(t)
	f.gateway.responses = []syncResult{
		{response: syncWith("s1")},
		{response: syncWith("s2")},
	}

	for i := 0; i < 2; i++ {
		if err := f.listener.Run(context.Background(), 1); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	if len(f.gateway.sinces) != 2 {
		t.Fatalf("gateway saw %d syncs, want 2", len(f.gateway.sinces))
	}
	if f.gateway.sinces[0] != "" {
		t.Errorf("first since = %q, want empty", f.gateway.sinces[0])
	}
	if f.gateway.sinces[1] != "s1" {
		t.Errorf("second since = %q, want %q", f.gateway.sinces[1], "s1")
	}
	if cursor, _ := f.cursor.Get("sync.since"); cursor != "s2" {
		t.Errorf("cursor = %q, want %q", cursor, "s2")
	}
}

// journalingCursor wraps a cursor store and appends every Put to a
// shared log, so a test can see cursor writes relative to other work.
type journalingCursor struct {
	kvstore.Store
	log *[]string
}

func (j *journalingCursor) Put(key, value string, ttl time.Duration) {
	*j.log = append(*j.log, "cursor="+value)
	j.Store.Put(key, value, ttl)
}

type journalingObserver struct {
	workorder.NopObserver
	log *[]string
}

func (o *journalingObserver) OrderStatusChanged(context.Context, *workorder.WorkOrder) {
	*o.log = append(*o.log, "transition")
}

func TestCursorPersistedBeforeEventsApply(t *testing.T) {
	var log []string
	fake := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	gateway := &fakeGateway{}
	store := workorder.NewMemoryStore()
	tracker := workorder.NewTracker(store, &journalingObserver{log: &log}, nil)

	listener, err := NewListener(Config{
		Gateway:     gateway,
		Tracker:     tracker,
		Room:        testRoom,
		Cursor:      &journalingCursor{Store: kvstore.NewMemory(fake), log: &log},
		Cache:       kvstore.NewMemory(fake),
		Clock:       fake,
		PollTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}

	ctx := context.Background()
	order, err := tracker.Create(ctx, workorder.CreateParams{
		Register: "Bar 1",
		Type:     workorder.TypeOverflow,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.SetMessageID(ctx, order.ID, "$msg"); err != nil {
		t.Fatalf("SetMessageID: %v", err)
	}
	gateway.responses = []syncResult{
		{response: syncWith("s1", reactionEvent("$r1", "@alice:example.org", "$msg", "⌛"))},
	}

	if err := listener.Run(ctx, 1); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The batch token must be durable before any reaction takes
	// effect. A crash between the two then drops the batch instead of
	// replaying it against a dedup cache that died with the process.
	want := []string{"cursor=s1", "transition"}
	if len(log) != len(want) {
		t.Fatalf("journal = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("journal = %v, want %v", log, want)
		}
	}
}

func TestSelfReactionIgnored(t *testing.T) {
	f := newFixture(t)
	order := f.postedOrder(t, "$msg")
	f.gateway.responses = []syncResult{
		{response: syncWith("s1", reactionEvent("$r1", "@kassenwerk:example.org", "$msg", "✅"))},
	}

	if err := f.listener.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run: %v", err)
	}

	updated, err := f.tracker.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if updated.Status != workorder.StatusPending {
		t.Errorf("own reaction changed status to %s", updated.Status)
	}
}

func TestDuplicateReactionAppliedOnce(t *testing.T) {
	f := newFixture(t)
	order := f.postedOrder(t, "$msg")
	duplicate := reactionEvent("$r1", "@alice:example.org", "$msg", "⌛")
	f.gateway.responses = []syncResult{
		{response: syncWith("s1", duplicate)},
		{response: syncWith("s2", duplicate)},
	}

	for i := 0; i < 2; i++ {
		if err := f.listener.Run(context.Background(), 1); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}

	// Move the order forward, then replay once more within the dedup
	// window: the stale reaction must not regress it.
	if _, err := f.tracker.Transition(context.Background(), order.ID, workorder.StatusDone, "admin"); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	f.gateway.responses = []syncResult{{response: syncWith("s3", duplicate)}}
	if err := f.listener.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run: %v", err)
	}

	updated, err := f.tracker.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if updated.Status != workorder.StatusDone {
		t.Errorf("replayed reaction regressed status to %s", updated.Status)
	}
}

func TestDuplicateReactionLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	fake := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	gateway := &fakeGateway{}
	store := workorder.NewMemoryStore()
	tracker := workorder.NewTracker(store, nil, logger)

	listener, err := NewListener(Config{
		Gateway:     gateway,
		Tracker:     tracker,
		Room:        testRoom,
		Cursor:      kvstore.NewMemory(fake),
		Cache:       kvstore.NewMemory(fake),
		Clock:       fake,
		Logger:      logger,
		PollTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}

	ctx := context.Background()
	order, err := tracker.Create(ctx, workorder.CreateParams{
		Register: "Bar 1",
		Type:     workorder.TypeOverflow,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.SetMessageID(ctx, order.ID, "$msg"); err != nil {
		t.Fatalf("SetMessageID: %v", err)
	}

	duplicate := reactionEvent("$r1", "@alice:example.org", "$msg", "⌛")
	gateway.responses = []syncResult{
		{response: syncWith("s1", duplicate)},
		{response: syncWith("s2", duplicate)},
	}
	for i := 0; i < 2; i++ {
		if err := listener.Run(ctx, 1); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}

	if !strings.Contains(buf.String(), "already processed") {
		t.Errorf("replayed reaction left no skip log; log:\n%s", buf.String())
	}
}

func TestDedupExpiresAfterAnHour(t *testing.T) {
	f := newFixture(t)
	f.postedOrder(t, "$msg")
	event := reactionEvent("$r1", "@alice:example.org", "$msg", "⌛")
	f.gateway.responses = []syncResult{{response: syncWith("s1", event)}}
	if err := f.listener.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run: %v", err)
	}

	f.clock.Advance(time.Hour + time.Minute)
	if _, seen := f.cache.Get("reaction.$r1"); seen {
		t.Error("dedup mark survived past its TTL")
	}
}

func TestUnknownReactionKeyIgnored(t *testing.T) {
	f := newFixture(t)
	order := f.postedOrder(t, "$msg")
	f.gateway.responses = []syncResult{
		{response: syncWith("s1", reactionEvent("$r1", "@alice:example.org", "$msg", "👍"))},
	}

	if err := f.listener.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run: %v", err)
	}

	updated, err := f.tracker.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if updated.Status != workorder.StatusPending {
		t.Errorf("unknown key changed status to %s", updated.Status)
	}
}

func TestUnknownMessageIDIsHarmless(t *testing.T) {
	f := newFixture(t)
	f.gateway.responses = []syncResult{
		{response: syncWith("s1", reactionEvent("$r1", "@alice:example.org", "$nothing", "✅"))},
	}

	if err := f.listener.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cursor, _ := f.cursor.Get("sync.since"); cursor != "s1" {
		t.Errorf("cursor = %q after unknown target", cursor)
	}
}

func TestOtherRoomsIgnored(t *testing.T) {
	f := newFixture(t)
	order := f.postedOrder(t, "$msg")
	f.gateway.responses = []syncResult{
		{response: &messaging.SyncResponse{
			NextBatch: "s1",
			Rooms: messaging.RoomsSection{
				Join: map[messaging.RoomID]messaging.JoinedRoom{
					"!other:example.org": {Timeline: messaging.TimelineSection{
						Events: []messaging.Event{reactionEvent("$r1", "@alice:example.org", "$msg", "✅")},
					}},
				},
			},
		}},
	}

	if err := f.listener.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run: %v", err)
	}

	updated, err := f.tracker.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if updated.Status != workorder.StatusPending {
		t.Errorf("reaction in another room changed status to %s", updated.Status)
	}
}

func TestIdentityCachedAcrossCycles(t *testing.T) {
	f := newFixture(t)
	f.postedOrder(t, "$msg")
	f.gateway.responses = []syncResult{
		{response: syncWith("s1", reactionEvent("$r1", "@alice:example.org", "$msg", "⌛"))},
		{response: syncWith("s2", reactionEvent("$r2", "@alice:example.org", "$msg", "✅"))},
	}

	for i := 0; i < 2; i++ {
		if err := f.listener.Run(context.Background(), 1); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	if f.gateway.whoAmICalls != 1 {
		t.Errorf("whoami called %d times across 2 cycles, want 1", f.gateway.whoAmICalls)
	}
}

func TestWhoAmIFailureDoesNotBlockProcessing(t *testing.T) {
	f := newFixture(t)
	order := f.postedOrder(t, "$msg")
	f.gateway.whoAmIErr = errors.New("homeserver hiccup")
	f.gateway.responses = []syncResult{
		{response: syncWith("s1", reactionEvent("$r1", "@alice:example.org", "$msg", "✅"))},
	}

	if err := f.listener.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run: %v", err)
	}

	updated, err := f.tracker.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if updated.Status != workorder.StatusDone {
		t.Errorf("status = %s, reaction should apply without self-filter", updated.Status)
	}
}

func TestBoundedModeContinuesAfterError(t *testing.T) {
	f := newFixture(t)
	f.gateway.responses = []syncResult{
		{err: errors.New("connection reset")},
		{response: syncWith("s1")},
	}

	done := make(chan error, 1)
	go func() { done <- f.listener.Run(context.Background(), 2) }()

	// The inter-cycle pause waits on the fake clock.
	waitForWaiter(t, f.clock)
	f.clock.Advance(time.Millisecond)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not finish")
	}
	if len(f.gateway.sinces) != 2 {
		t.Errorf("gateway saw %d syncs, want 2", len(f.gateway.sinces))
	}
	if cursor, _ := f.cursor.Get("sync.since"); cursor != "s1" {
		t.Errorf("cursor = %q, want %q", cursor, "s1")
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.listener.Run(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
}

func TestDaemonModeStopsDuringBackoff(t *testing.T) {
	f := newFixture(t)
	failing := &alwaysFailGateway{}
	listener, err := NewListener(Config{
		Gateway:     failing,
		Tracker:     f.tracker,
		Room:        testRoom,
		Cursor:      f.cursor,
		Cache:       f.cache,
		Clock:       f.clock,
		PollTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx, 0) }()

	// Wait until the listener parks in its backoff sleep, then
	// cancel.
	waitForWaiter(t, f.clock)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

type alwaysFailGateway struct{}

func (alwaysFailGateway) WhoAmI(context.Context) (messaging.UserID, error) {
	return "", errors.New("down")
}

func (alwaysFailGateway) Sync(context.Context, messaging.SyncOptions) (*messaging.SyncResponse, error) {
	return nil, errors.New("down")
}

// waitForWaiter polls until the fake clock has a parked waiter.
func waitForWaiter(t *testing.T, fake *clock.FakeClock) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if fake.Waiters() > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no clock waiter appeared")
}
