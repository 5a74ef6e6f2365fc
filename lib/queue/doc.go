// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package queue holds analytics events between the moment they are
// tracked and the moment the collector acknowledges them.
//
// A [Queue] is a FIFO with peek-then-remove semantics: the dispatch
// lane reads up to a batch of events with FirstN, sends them, and only
// after a successful send calls Remove with the same events. A failed
// send leaves the queue untouched, so delivery is at-least-once.
//
// FirstN stamps each returned event with its queue position
// (event.Event.Seq) and Remove deletes by that position, so a lane
// removes exactly the batch it peeked. Content-identical events stay
// distinct entries, and events enqueued in between are untouched.
// Removing a position that is already gone is a no-op, which makes
// Remove idempotent. Events without a Seq are matched by
// [event.Fingerprint] instead, one queued entry per given event,
// oldest first.
//
// Two implementations:
//
//   - [Memory]: a mutex-guarded slice, optionally bounded with
//     oldest-drop on overflow. Lost on process exit.
//   - [SQLite]: rows in a WAL-mode SQLite database, payloads CBOR
//     encoded and block compressed. Several lanes can share one
//     database file; each SQLite queue only sees its own lane.
package queue
