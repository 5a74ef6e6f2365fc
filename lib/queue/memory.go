// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/bureau-foundation/beacon/lib/event"
)

// Memory is an in-process Queue. When MaxEvents is positive, an
// Enqueue that would exceed it drops the oldest events first and
// counts them in Dropped: under sustained collector outage the
// tracker loses old data rather than exhausting memory.
type Memory struct {
	mu        sync.Mutex
	entries   []memoryEntry
	nextSeq   uint64
	maxEvents int
	dropped   uint64
}

// memoryEntry caches the fingerprint computed at enqueue time so
// Remove does not re-encode every queued event. seq starts at 1.
type memoryEntry struct {
	event       event.Event
	seq         uint64
	fingerprint event.Fingerprint
}

var _ Queue = (*Memory)(nil)

// NewMemory creates an empty Memory queue. maxEvents <= 0 means
// unbounded.
func NewMemory(maxEvents int) *Memory {
	return &Memory{maxEvents: maxEvents}
}

// Enqueue appends events. If any event cannot be fingerprinted nothing
// is appended.
func (m *Memory) Enqueue(ctx context.Context, events ...event.Event) error {
	if len(events) == 0 {
		return nil
	}
	incoming := make([]memoryEntry, len(events))
	for i, e := range events {
		fingerprint, err := event.FingerprintOf(e)
		if err != nil {
			return fmt.Errorf("queue: enqueue: %w", err)
		}
		e.Seq = 0
		incoming[i] = memoryEntry{event: e, fingerprint: fingerprint}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range incoming {
		m.nextSeq++
		incoming[i].seq = m.nextSeq
	}

	m.entries = append(m.entries, incoming...)
	if m.maxEvents > 0 && len(m.entries) > m.maxEvents {
		excess := len(m.entries) - m.maxEvents
		clear(m.entries[:excess])
		m.entries = m.entries[excess:]
		m.dropped += uint64(excess)
	}
	return nil
}

// Count returns the number of queued events.
func (m *Memory) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

// FirstN returns a copy of up to limit oldest events.
func (m *Memory) FirstN(ctx context.Context, limit int) ([]event.Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := min(limit, len(m.entries))
	result := make([]event.Event, n)
	for i := range n {
		result[i] = m.entries[i].event
		result[i].Seq = m.entries[i].seq
	}
	return result, nil
}

// Remove deletes the entries at the positions carried by events, and
// for each event without a position the oldest entry with its
// fingerprint.
func (m *Memory) Remove(ctx context.Context, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}
	plan, err := planRemoval(events)
	if err != nil {
		return fmt.Errorf("queue: remove: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	for _, entry := range m.entries {
		if _, ok := plan.seqs[entry.seq]; ok {
			continue
		}
		if plan.counts[entry.fingerprint] > 0 {
			plan.counts[entry.fingerprint]--
			continue
		}
		kept = append(kept, entry)
	}
	clear(m.entries[len(kept):])
	m.entries = kept
	return nil
}

// Dropped returns the number of events discarded by the MaxEvents
// bound since creation.
func (m *Memory) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}
