// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitestore is the durable workorder.Store, backed by a
// SQLite database. It also provides a persistent key-value table used
// for the sync cursor, so a restarted listener resumes from where it
// left off instead of replaying the room's history.
package sqlitestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/kassenwerk/kassenwerk/lib/clock"
	"github.com/kassenwerk/kassenwerk/lib/sqlitepool"
	"github.com/kassenwerk/kassenwerk/workorder"
)

const schema = `
CREATE TABLE IF NOT EXISTS work_orders (
	id          TEXT PRIMARY KEY,
	register    TEXT NOT NULL,
	type        TEXT NOT NULL,
	status      TEXT NOT NULL,
	notes       TEXT NOT NULL DEFAULT '',
	message_id  TEXT NOT NULL DEFAULT '',
	items       TEXT NOT NULL DEFAULT '[]',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS work_orders_register ON work_orders (register, type, status);
CREATE INDEX IF NOT EXISTS work_orders_message ON work_orders (message_id) WHERE message_id != '';

CREATE TABLE IF NOT EXISTS work_order_history (
	order_id    TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	actor       TEXT NOT NULL DEFAULT '',
	changed_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS work_order_history_order ON work_order_history (order_id, changed_at);

CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER
);
`

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the database file, created if missing.
	Path string
	// PoolSize follows sqlitepool defaults when zero.
	PoolSize int
	// Clock supplies timestamps. Nil uses the real clock.
	Clock clock.Clock
	// Logger receives store lifecycle messages. Nil uses slog.Default().
	Logger *slog.Logger
}

// Store is a workorder.Store on SQLite.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
	kv     *KV
}

var _ workorder.Store = (*Store)(nil)

// Open opens (and if necessary creates) the database. The caller must
// call Close when done.
func Open(cfg Config) (*Store, error) {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: %w", err)
	}

	store := &Store{pool: pool, clock: clk, logger: logger}
	store.kv = &KV{pool: pool, clock: clk, logger: logger}
	return store, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// KV returns the store's persistent key-value view. It shares the
// connection pool and lives as long as the Store.
func (s *Store) KV() *KV {
	return s.kv
}

// Create persists a new order, assigning ID and CreatedAt.
func (s *Store) Create(ctx context.Context, order *workorder.WorkOrder) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("sqlitestore: encoding items: %w", err)
	}

	order.ID = workorder.NewID()
	order.CreatedAt = s.clock.Now().UTC()

	err = sqlitex.Execute(conn, `
		INSERT INTO work_orders (id, register, type, status, notes, message_id, items, created_at)
		VALUES (?, ?, ?, ?, ?, '', ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				order.ID,
				order.Register,
				string(order.Type),
				string(order.Status),
				order.Notes,
				string(items),
				order.CreatedAt.UnixMilli(),
			},
		})
	if err != nil {
		return fmt.Errorf("sqlitestore: inserting order: %w", err)
	}
	return nil
}

// Get returns the order with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*workorder.WorkOrder, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	return getOrder(conn, id)
}

// ByMessageID returns the order mirrored by the given chat message.
func (s *Store) ByMessageID(ctx context.Context, messageID string) (*workorder.WorkOrder, error) {
	if messageID == "" {
		return nil, workorder.ErrNotFound
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	return queryOne(conn,
		selectColumns+" FROM work_orders WHERE message_id = ?",
		[]any{messageID})
}

// List returns orders matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter workorder.ListFilter) ([]*workorder.WorkOrder, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	query := selectColumns + " FROM work_orders WHERE 1=1"
	var args []any
	if filter.Register != "" {
		query += " AND register = ?"
		args = append(args, filter.Register)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, string(filter.Type))
	}
	query += " ORDER BY created_at DESC, id DESC"

	var orders []*workorder.WorkOrder
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			order, err := scanOrder(stmt)
			if err != nil {
				return err
			}
			orders = append(orders, order)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: listing orders: %w", err)
	}
	return orders, nil
}

// SetStatus updates the order's status, records the change in the
// history table, and returns the updated order.
func (s *Store) SetStatus(ctx context.Context, id string, status workorder.Status, actor string) (*workorder.WorkOrder, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	current, err := getOrder(conn, id)
	if err != nil {
		return nil, err
	}

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: starting transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, "UPDATE work_orders SET status = ? WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{string(status), id}})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: updating status: %w", err)
	}
	err = sqlitex.Execute(conn, `
		INSERT INTO work_order_history (order_id, from_status, to_status, actor, changed_at)
		VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				id,
				string(current.Status),
				string(status),
				actor,
				s.clock.Now().UTC().UnixMilli(),
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: recording status change: %w", err)
	}

	current.Status = status
	return current, nil
}

// History returns the order's status changes, oldest first.
func (s *Store) History(ctx context.Context, id string) ([]workorder.StatusChange, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	if _, err := getOrder(conn, id); err != nil {
		return nil, err
	}

	var changes []workorder.StatusChange
	err = sqlitex.Execute(conn, `
		SELECT from_status, to_status, actor, changed_at
		FROM work_order_history WHERE order_id = ?
		ORDER BY changed_at, rowid`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				changes = append(changes, workorder.StatusChange{
					From:  workorder.Status(stmt.ColumnText(0)),
					To:    workorder.Status(stmt.ColumnText(1)),
					Actor: stmt.ColumnText(2),
					At:    time.UnixMilli(stmt.ColumnInt64(3)).UTC(),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: reading history: %w", err)
	}
	return changes, nil
}

// SetMessageID records the chat message mirroring the order, once.
func (s *Store) SetMessageID(ctx context.Context, id, messageID string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE work_orders SET message_id = ? WHERE id = ? AND message_id = ''",
		&sqlitex.ExecOptions{Args: []any{messageID, id}})
	if err != nil {
		return fmt.Errorf("sqlitestore: setting message ID: %w", err)
	}
	if conn.Changes() > 0 {
		return nil
	}

	// Nothing updated: either the order is missing or the message ID
	// was already set. Distinguish for the caller.
	if _, err := getOrder(conn, id); err != nil {
		return err
	}
	return workorder.ErrMessageIDSet
}

// HasOpen reports whether the register has an order of the given type
// in an open status.
func (s *Store) HasOpen(ctx context.Context, register string, orderType workorder.Type) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	var open bool
	err = sqlitex.Execute(conn, `
		SELECT EXISTS (
			SELECT 1 FROM work_orders
			WHERE register = ? AND type = ? AND status IN (?, ?)
		)`,
		&sqlitex.ExecOptions{
			Args: []any{
				register,
				string(orderType),
				string(workorder.StatusPending),
				string(workorder.StatusInProgress),
			},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				open = stmt.ColumnInt(0) != 0
				return nil
			},
		})
	if err != nil {
		return false, fmt.Errorf("sqlitestore: checking open orders: %w", err)
	}
	return open, nil
}

// Delete removes the order and returns its last state.
func (s *Store) Delete(ctx context.Context, id string) (*workorder.WorkOrder, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	order, err := getOrder(conn, id)
	if err != nil {
		return nil, err
	}

	err = sqlitex.Execute(conn, "DELETE FROM work_orders WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{id}})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: deleting order: %w", err)
	}
	err = sqlitex.Execute(conn, "DELETE FROM work_order_history WHERE order_id = ?",
		&sqlitex.ExecOptions{Args: []any{id}})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: deleting order history: %w", err)
	}
	return order, nil
}

const selectColumns = "SELECT id, register, type, status, notes, message_id, items, created_at"

func getOrder(conn *sqlite.Conn, id string) (*workorder.WorkOrder, error) {
	return queryOne(conn, selectColumns+" FROM work_orders WHERE id = ?", []any{id})
}

func queryOne(conn *sqlite.Conn, query string, args []any) (*workorder.WorkOrder, error) {
	var order *workorder.WorkOrder
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			scanned, err := scanOrder(stmt)
			if err != nil {
				return err
			}
			order = scanned
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: querying order: %w", err)
	}
	if order == nil {
		return nil, workorder.ErrNotFound
	}
	return order, nil
}

func scanOrder(stmt *sqlite.Stmt) (*workorder.WorkOrder, error) {
	order := &workorder.WorkOrder{
		ID:        stmt.ColumnText(0),
		Register:  stmt.ColumnText(1),
		Type:      workorder.Type(stmt.ColumnText(2)),
		Status:    workorder.Status(stmt.ColumnText(3)),
		Notes:     stmt.ColumnText(4),
		MessageID: stmt.ColumnText(5),
		CreatedAt: time.UnixMilli(stmt.ColumnInt64(7)).UTC(),
	}
	if itemsJSON := stmt.ColumnText(6); itemsJSON != "" && itemsJSON != "[]" {
		if err := json.Unmarshal([]byte(itemsJSON), &order.Items); err != nil {
			return nil, fmt.Errorf("sqlitestore: decoding items for %s: %w", order.ID, err)
		}
	}
	return order, nil
}
