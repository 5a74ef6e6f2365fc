// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"errors"

	"github.com/bureau-foundation/beacon/lib/event"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue: closed")

// Queue is an ordered store of pending events. All methods are safe
// for concurrent use.
type Queue interface {
	// Enqueue appends events in order. It never waits on the network.
	Enqueue(ctx context.Context, events ...event.Event) error

	// Count returns the number of pending events.
	Count(ctx context.Context) (int, error)

	// FirstN returns up to limit of the oldest events in enqueue
	// order, each with Seq set to its queue position. The result is a
	// snapshot: events enqueued while or after FirstN runs are not
	// part of it.
	FirstN(ctx context.Context, limit int) ([]event.Event, error)

	// Remove deletes exactly the given events. Events returned by
	// FirstN are matched by Seq; positions no longer queued are
	// ignored, so removing the same batch twice is harmless. Events
	// with a zero Seq each remove the oldest queued entry with the
	// same fingerprint.
	Remove(ctx context.Context, events []event.Event) error
}

// removal is what a Remove call deletes: queue positions for events
// read with FirstN, and per-fingerprint counts for events without one.
type removal struct {
	seqs   map[uint64]struct{}
	counts map[event.Fingerprint]int
}

func planRemoval(events []event.Event) (removal, error) {
	plan := removal{seqs: make(map[uint64]struct{}, len(events))}
	var unpositioned []event.Event
	for _, e := range events {
		if e.Seq != 0 {
			plan.seqs[e.Seq] = struct{}{}
			continue
		}
		unpositioned = append(unpositioned, e)
	}
	if len(unpositioned) > 0 {
		counts, err := event.FingerprintCounts(unpositioned)
		if err != nil {
			return removal{}, err
		}
		plan.counts = counts
	}
	return plan, nil
}
