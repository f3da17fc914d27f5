// Copyright 2026 The Kassenwerk Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitestore

import (
	"context"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/kassenwerk/kassenwerk/lib/clock"
	"github.com/kassenwerk/kassenwerk/lib/kvstore"
	"github.com/kassenwerk/kassenwerk/lib/sqlitepool"
)

// KV is a persistent kvstore.Store on the shared database. The
// kvstore interface has no error returns, so failures are logged and
// reported as absence; the callers (cursor and cache lookups) treat a
// miss as "start fresh", which is the safe degradation.
type KV struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

var _ kvstore.Store = (*KV)(nil)

// Get returns the value for key, or false if the key is absent, its
// entry has expired, or the read fails.
func (k *KV) Get(key string) (string, bool) {
	conn, err := k.pool.Take(context.Background())
	if err != nil {
		k.logger.Error("kv get: taking connection failed", "key", key, "error", err)
		return "", false
	}
	defer k.pool.Put(conn)

	var value string
	var found bool
	var expiresAt int64
	var hasExpiry bool
	err = sqlitex.Execute(conn, "SELECT value, expires_at FROM kv WHERE key = ?",
		&sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = stmt.ColumnText(0)
				found = true
				if stmt.ColumnType(1) != sqlite.TypeNull {
					expiresAt = stmt.ColumnInt64(1)
					hasExpiry = true
				}
				return nil
			},
		})
	if err != nil {
		k.logger.Error("kv get failed", "key", key, "error", err)
		return "", false
	}
	if !found {
		return "", false
	}
	if hasExpiry && !k.clock.Now().Before(time.UnixMilli(expiresAt)) {
		k.deleteKey(conn, key)
		return "", false
	}
	return value, true
}

// Put stores the value. ttl <= 0 means the entry never expires.
func (k *KV) Put(key, value string, ttl time.Duration) {
	conn, err := k.pool.Take(context.Background())
	if err != nil {
		k.logger.Error("kv put: taking connection failed", "key", key, "error", err)
		return
	}
	defer k.pool.Put(conn)

	var expiresAt any
	if ttl > 0 {
		expiresAt = k.clock.Now().Add(ttl).UnixMilli()
	}
	err = sqlitex.Execute(conn, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		&sqlitex.ExecOptions{Args: []any{key, value, expiresAt}})
	if err != nil {
		k.logger.Error("kv put failed", "key", key, "error", err)
	}
}

// Delete removes the key. Deleting an absent key is a no-op.
func (k *KV) Delete(key string) {
	conn, err := k.pool.Take(context.Background())
	if err != nil {
		k.logger.Error("kv delete: taking connection failed", "key", key, "error", err)
		return
	}
	defer k.pool.Put(conn)

	k.deleteKey(conn, key)
}

func (k *KV) deleteKey(conn *sqlite.Conn, key string) {
	err := sqlitex.Execute(conn, "DELETE FROM kv WHERE key = ?",
		&sqlitex.ExecOptions{Args: []any{key}})
	if err != nil {
		k.logger.Error("kv delete failed", "key", key, "error", err)
	}
}
