// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the SQLite connection pool behind Beacon's
// durable event queue.
//
// It is a thin layer over zombiezen.com/go/sqlite's sqlitex.Pool: it
// applies one set of pragmas to every connection, runs a schema hook,
// and otherwise exposes the zombiezen types directly. Callers write
// SQL, use sqlitex.Execute for cached statements, and wrap writes in
// sqlitex.ImmediateTransaction.
//
// Pragmas applied to every connection:
//
//   - journal_mode=WAL: readers (Count, FirstN) never block the
//     writer (Enqueue, Remove).
//   - synchronous=NORMAL by default, FULL when Config.Durable is set.
//     FULL survives power loss at the cost of an fsync per commit.
//   - busy_timeout=5000: wait for the write lock instead of failing
//     with SQLITE_BUSY when two lanes write at once.
//   - temp_store=MEMORY.
package sqlitepool
