// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

package workorder

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. Tests use it for deterministic
// setup; it also backs ad-hoc runs without a database file. Safe for
// concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	orders  map[string]*WorkOrder
	history map[string][]StatusChange

	// Now supplies creation and history timestamps. Defaults to
	// time.Now.
	Now func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:  make(map[string]*WorkOrder),
		history: make(map[string][]StatusChange),
		Now:     time.Now,
	}
}

// Create assigns a random ID and CreatedAt, then stores a copy.
func (s *MemoryStore) Create(_ context.Context, order *WorkOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order.ID = NewID()
	order.CreatedAt = s.Now()
	s.orders[order.ID] = order.Clone()
	return nil
}

// Get returns a copy of the order with the given ID.
func (s *MemoryStore) Get(_ context.Context, id string) (*WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.orders[id]
	if !exists {
		return nil, ErrNotFound
	}
	return order.Clone(), nil
}

// ByMessageID returns a copy of the order with the given message ID.
func (s *MemoryStore) ByMessageID(_ context.Context, messageID string) (*WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, order := range s.orders {
		if order.MessageID != "" && order.MessageID == messageID {
			return order.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// List returns matching orders, newest first.
func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]*WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*WorkOrder
	for _, order := range s.orders {
		if filter.Register != "" && order.Register != filter.Register {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if filter.Type != "" && order.Type != filter.Type {
			continue
		}
		result = append(result, order.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// SetStatus updates the status, appends a history entry, and returns
// a copy of the updated order.
func (s *MemoryStore) SetStatus(_ context.Context, id string, status Status, actor string) (*WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.orders[id]
	if !exists {
		return nil, ErrNotFound
	}
	s.history[id] = append(s.history[id], StatusChange{
		From:  order.Status,
		To:    status,
		Actor: actor,
		At:    s.Now(),
	})
	order.Status = status
	return order.Clone(), nil
}

// History returns the order's status changes, oldest first.
func (s *MemoryStore) History(_ context.Context, id string) ([]StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[id]; !exists {
		return nil, ErrNotFound
	}
	changes := make([]StatusChange, len(s.history[id]))
	copy(changes, s.history[id])
	return changes, nil
}

// SetMessageID records the mirroring chat message, once.
func (s *MemoryStore) SetMessageID(_ context.Context, id, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.orders[id]
	if !exists {
		return ErrNotFound
	}
	if order.MessageID != "" {
		return ErrMessageIDSet
	}
	order.MessageID = messageID
	return nil
}

// HasOpen reports whether the register has an open order of the given
// type.
func (s *MemoryStore) HasOpen(_ context.Context, register string, orderType Type) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, order := range s.orders {
		if order.Register == register && order.Type == orderType && order.Status.Open() {
			return true, nil
		}
	}
	return false, nil
}

// Delete removes the order and returns its last state.
func (s *MemoryStore) Delete(_ context.Context, id string) (*WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.orders[id]
	if !exists {
		return nil, ErrNotFound
	}
	delete(s.orders, id)
	delete(s.history, id)
	return order, nil
}

// NewID returns a 16-hex-character random order identifier. Both
// store implementations assign IDs with it.
func NewID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms.
		panic("workorder: reading random bytes: " + err.Error())
	}
	return hex.EncodeToString(buf[:])
}

var _ Store = (*MemoryStore)(nil)
