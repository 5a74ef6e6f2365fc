// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/beacon/lib/compress"
	"github.com/bureau-foundation/beacon/lib/event"
	"github.com/bureau-foundation/beacon/lib/sqlitepool"
)

// schema is applied on every new connection. The compression column
// holds a compress.Tag and size the uncompressed payload length.
const schema = `
CREATE TABLE IF NOT EXISTS events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	lane        TEXT    NOT NULL,
	fingerprint BLOB    NOT NULL,
	payload     BLOB    NOT NULL,
	compression INTEGER NOT NULL,
	size        INTEGER NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS events_lane_seq ON events (lane, seq);
CREATE INDEX IF NOT EXISTS events_lane_fingerprint ON events (lane, fingerprint);
`

// SQLiteConfig configures OpenSQLite.
type SQLiteConfig struct {
	// Pool is a pool opened with OpenDatabase, shared between the
	// lanes of one tracker. The caller keeps ownership. Exactly one of
	// Pool and Path must be set.
	Pool *sqlitepool.Pool

	// Path opens a database owned by the queue and closed by Close.
	Path string

	// Lane partitions the table. Required.
	Lane string

	// MaxEvents bounds the lane. On overflow the oldest rows of the
	// lane are deleted inside the enqueue transaction. Zero or
	// negative means unbounded.
	MaxEvents int

	// Compression is the block compression for new payloads.
	// Existing rows keep the tag they were written with.
	Compression compress.Tag

	// Logger receives drop and close messages. Nil discards them.
	Logger *slog.Logger
}

// SQLite is a durable Queue backed by one lane of the events table.
type SQLite struct {
	pool        *sqlitepool.Pool
	ownsPool    bool
	lane        string
	maxEvents   int
	compression compress.Tag
	logger      *slog.Logger

	dropped atomic.Uint64

	closeOnce sync.Once
	closed    atomic.Bool
}

var _ Queue = (*SQLite)(nil)

// OpenDatabase opens a connection pool on path with the queue schema
// installed on every connection. Pass the result as SQLiteConfig.Pool
// to put several lanes in one file.
func OpenDatabase(path string, logger *slog.Logger) (*sqlitepool.Pool, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:    path,
		Durable: true,
		Logger:  logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("queue: %w", err)
	}
	return pool, nil
}

// OpenSQLite creates a durable queue for one lane.
func OpenSQLite(cfg SQLiteConfig) (*SQLite, error) {
	if cfg.Lane == "" {
		return nil, fmt.Errorf("queue: sqlite: Lane is required")
	}
	if (cfg.Pool == nil) == (cfg.Path == "") {
		return nil, fmt.Errorf("queue: sqlite: exactly one of Pool and Path must be set")
	}
	if !cfg.Compression.Valid() {
		return nil, fmt.Errorf("queue: sqlite: unsupported compression %v", cfg.Compression)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool := cfg.Pool
	ownsPool := false
	if pool == nil {
		var err error
		pool, err = OpenDatabase(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		ownsPool = true
	}

	return &SQLite{
		pool:        pool,
		ownsPool:    ownsPool,
		lane:        cfg.Lane,
		maxEvents:   cfg.MaxEvents,
		compression: cfg.Compression,
		logger:      logger.With("lane", cfg.Lane),
	}, nil
}

// encodedRow is one event ready for insertion.
type encodedRow struct {
	fingerprint event.Fingerprint
	payload     []byte
	tag         compress.Tag
	size        int
	createdAt   int64
}

// Enqueue inserts events in one IMMEDIATE transaction, then trims the
// lane to MaxEvents.
func (q *SQLite) Enqueue(ctx context.Context, events ...event.Event) (err error) {
	if q.closed.Load() {
		return ErrClosed
	}
	if len(events) == 0 {
		return nil
	}

	rows := make([]encodedRow, len(events))
	for i, e := range events {
		data, fingerprint, err := event.Encode(e)
		if err != nil {
			return fmt.Errorf("queue: enqueue: %w", err)
		}
		payload, tag, err := compress.Compress(data, q.compression)
		if err != nil {
			return fmt.Errorf("queue: enqueue: %w", err)
		}
		rows[i] = encodedRow{
			fingerprint: fingerprint,
			payload:     payload,
			tag:         tag,
			size:        len(data),
			createdAt:   e.CreatedAt.UnixNano(),
		}
	}

	conn, err := q.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	defer q.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("queue: enqueue: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for _, row := range rows {
		err = sqlitex.Execute(conn,
			`INSERT INTO events (lane, fingerprint, payload, compression, size, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{q.lane, row.fingerprint[:], row.payload, int(row.tag), row.size, row.createdAt},
			})
		if err != nil {
			return fmt.Errorf("queue: enqueue: insert: %w", err)
		}
	}

	if q.maxEvents > 0 {
		if err = q.trim(conn); err != nil {
			return err
		}
	}
	return nil
}

// trim deletes the oldest rows of the lane beyond maxEvents. Must run
// inside the enqueue transaction.
func (q *SQLite) trim(conn *sqlite.Conn) error {
	count, err := q.countLocked(conn)
	if err != nil {
		return err
	}
	excess := count - q.maxEvents
	if excess <= 0 {
		return nil
	}
	err = sqlitex.Execute(conn,
		`DELETE FROM events WHERE seq IN (
			SELECT seq FROM events WHERE lane = ? ORDER BY seq LIMIT ?
		)`,
		&sqlitex.ExecOptions{Args: []any{q.lane, excess}})
	if err != nil {
		return fmt.Errorf("queue: enqueue: trim: %w", err)
	}
	q.dropped.Add(uint64(conn.Changes()))
	q.logger.Warn("queue full, dropped oldest events", "dropped", conn.Changes(), "max_events", q.maxEvents)
	return nil
}

// Count returns the number of rows in the lane.
func (q *SQLite) Count(ctx context.Context) (int, error) {
	if q.closed.Load() {
		return 0, ErrClosed
	}
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("queue: count: %w", err)
	}
	defer q.pool.Put(conn)
	return q.countLocked(conn)
}

func (q *SQLite) countLocked(conn *sqlite.Conn) (int, error) {
	var count int
	err := sqlitex.Execute(conn, `SELECT COUNT(*) FROM events WHERE lane = ?`, &sqlitex.ExecOptions{
		Args: []any{q.lane},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("queue: count: %w", err)
	}
	return count, nil
}

// FirstN reads up to limit oldest rows of the lane with a single
// SELECT, which SQLite evaluates against one read snapshot.
func (q *SQLite) FirstN(ctx context.Context, limit int) ([]event.Event, error) {
	if q.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: first: %w", err)
	}
	defer q.pool.Put(conn)

	var events []event.Event
	err = sqlitex.Execute(conn,
		`SELECT payload, compression, size, seq FROM events WHERE lane = ? ORDER BY seq LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{q.lane, limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				payload := make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, payload)
				data, err := compress.Decompress(payload, compress.Tag(stmt.ColumnInt(1)), stmt.ColumnInt(2))
				if err != nil {
					return fmt.Errorf("row %d: %w", stmt.ColumnInt64(3), err)
				}
				e, err := event.Decode(data)
				if err != nil {
					return fmt.Errorf("row %d: %w", stmt.ColumnInt64(3), err)
				}
				e.Seq = uint64(stmt.ColumnInt64(3))
				events = append(events, e)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("queue: first: %w", err)
	}
	return events, nil
}

// Remove deletes the lane's rows whose seq is carried by events, and
// for each event without one the oldest row with its fingerprint.
func (q *SQLite) Remove(ctx context.Context, events []event.Event) (err error) {
	if q.closed.Load() {
		return ErrClosed
	}
	if len(events) == 0 {
		return nil
	}
	plan, err := planRemoval(events)
	if err != nil {
		return fmt.Errorf("queue: remove: %w", err)
	}

	conn, err := q.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("queue: remove: %w", err)
	}
	defer q.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("queue: remove: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for seq := range plan.seqs {
		err = sqlitex.Execute(conn,
			`DELETE FROM events WHERE lane = ? AND seq = ?`,
			&sqlitex.ExecOptions{Args: []any{q.lane, int64(seq)}})
		if err != nil {
			return fmt.Errorf("queue: remove: %w", err)
		}
	}
	for fingerprint, count := range plan.counts {
		err = sqlitex.Execute(conn,
			`DELETE FROM events WHERE seq IN (
				SELECT seq FROM events WHERE lane = ? AND fingerprint = ? ORDER BY seq LIMIT ?
			)`,
			&sqlitex.ExecOptions{Args: []any{q.lane, fingerprint[:], count}})
		if err != nil {
			return fmt.Errorf("queue: remove: %w", err)
		}
	}
	return nil
}

// Dropped returns the number of rows this queue deleted to honor
// MaxEvents since it was opened.
func (q *SQLite) Dropped() uint64 {
	return q.dropped.Load()
}

// Lane returns the lane name the queue is bound to.
func (q *SQLite) Lane() string {
	return q.lane
}

// Close marks the queue closed and, when the queue opened its own
// database, closes the pool. Close is idempotent.
func (q *SQLite) Close() error {
	var err error
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		if q.ownsPool {
			err = q.pool.Close()
		}
	})
	return err
}
