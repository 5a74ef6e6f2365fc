// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/beacon/lib/sqlitepool"
)

func openTestPool(t *testing.T, cfg sqlitepool.Config) *sqlitepool.Pool {
	t.Helper()
	cfg.Path = filepath.Join(t.TempDir(), "test.db")
	pool, err := sqlitepool.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func pragmaText(t *testing.T, conn *sqlite.Conn, pragma string) string {
	t.Helper()
	var value string
	err := sqlitex.ExecuteTransient(conn, pragma, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("%s: %v", pragma, err)
	}
	return value
}

func TestOpenAppliesPragmas(t *testing.T) {
	pool := openTestPool(t, sqlitepool.Config{})
	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	if got := pragmaText(t, conn, "PRAGMA journal_mode"); got != "wal" {
		t.Fatalf("journal_mode = %q, want wal", got)
	}
	// NORMAL is 1.
	if got := pragmaText(t, conn, "PRAGMA synchronous"); got != "1" {
		t.Fatalf("synchronous = %s, want 1", got)
	}
}

func TestDurableUsesFullSynchronous(t *testing.T) {
	pool := openTestPool(t, sqlitepool.Config{Durable: true})
	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	// FULL is 2.
	if got := pragmaText(t, conn, "PRAGMA synchronous"); got != "2" {
		t.Fatalf("synchronous = %s, want 2", got)
	}
}

func TestOnConnectCreatesSchema(t *testing.T) {
	called := false
	pool := openTestPool(t, sqlitepool.Config{
		PoolSize: 1,
		OnConnect: func(conn *sqlite.Conn) error {
			called = true
			return sqlitex.ExecuteScript(conn, `CREATE TABLE IF NOT EXISTS pending (id INTEGER PRIMARY KEY);`, nil)
		},
	})
	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	if !called {
		t.Fatal("OnConnect was not called")
	}
	if err := sqlitex.Execute(conn, "INSERT INTO pending (id) VALUES (1)", nil); err != nil {
		t.Fatalf("INSERT: %v", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("expected error for empty Path")
	}
}

func TestTakeWithCancelledContext(t *testing.T) {
	pool := openTestPool(t, sqlitepool.Config{PoolSize: 1})
	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Take(ctx); err == nil {
		t.Fatal("Take on an exhausted pool with a cancelled context should fail")
	}
}
