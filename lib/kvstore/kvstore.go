// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package kvstore defines a small key-value abstraction with optional
// entry expiry. The sync listener keeps its deduplication window, the
// cached bot identity, and the sync cursor in kvstore.Store values
// instead of ambient globals, so tests can inject deterministic
// implementations and assert expiry behavior directly.
//
// Memory is the in-process implementation, suitable for the dedup
// window and identity cache where loss on restart is acceptable. The
// sqlitestore package provides a durable implementation for the sync
// cursor.
package kvstore

import (
	"sync"
	"time"

	"github.com/kassenwerk/kassenwerk/lib/clock"
)

// Store is a string key-value store with per-entry time-to-live.
type Store interface {
	// Get returns the value for key, or false if the key is absent
	// or its entry has expired.
	Get(key string) (string, bool)

	// Put stores value under key. A positive ttl expires the entry
	// that far in the future; ttl <= 0 stores it without expiry.
	Put(key, value string, ttl time.Duration)

	// Delete removes key. Deleting an absent key is a no-op.
	Delete(key string)
}

// Memory is an in-process Store with lazy expiry against an injected
// clock. Safe for concurrent use.
type Memory struct {
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value string

	// expiresAt is the zero time for entries without expiry.
	expiresAt time.Time
}

// NewMemory returns an empty in-memory store reading time from clk.
func NewMemory(clk clock.Clock) *Memory {
	return &Memory{
		clock:   clk,
		entries: make(map[string]memoryEntry),
	}
}

// Get returns the live value for key. Expired entries are removed on
// access.
func (m *Memory) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.entries[key]
	if !exists {
		return "", false
	}
	if !entry.expiresAt.IsZero() && !m.clock.Now().Before(entry.expiresAt) {
		delete(m.entries, key)
		return "", false
	}
	return entry.value, true
}

// Put stores value under key, replacing any existing entry.
func (m *Memory) Put(key, value string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.clock.Now().Add(ttl)
	}
	m.entries[key] = entry

	// Opportunistic sweep keeps the map bounded when keys are never
	// read again, as with dedup entries for one-shot reaction events.
	if len(m.entries)%1024 == 0 {
		m.sweepLocked()
	}
}

// Delete removes key.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Len reports the number of entries currently held, including entries
// that have expired but not yet been swept.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) sweepLocked() {
	now := m.clock.Now()
	for key, entry := range m.entries {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(m.entries, key)
		}
	}
}
