// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package lane drains one event queue into a dispatcher, one batch at
// a time, and schedules the next attempt.
//
// A [Lane] pairs a queue with a [Token], the lane's single-flight
// guard. Whoever holds the token may send events for the lane: the
// drain goroutine started by [Lane.Dispatch], or a direct
// [Lane.SendNow]. A second request while the token is held is
// rejected with [ErrAlreadyDispatching] rather than queued behind the
// first.
//
// A drain reads up to BatchSize events, sends them, removes them from
// the queue once the dispatcher acknowledges them, and repeats until
// the queue is empty or a step fails. Batch k+1 is read only after
// batch k has been removed. A failed send leaves its batch queued.
// Either way the drain ends by releasing the token and arming the
// lane's [Scheduler], a single-shot timer that calls Dispatch again
// after the configured interval.
package lane
