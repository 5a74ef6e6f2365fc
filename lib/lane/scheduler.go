// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lane

import (
	"sync"
	"time"

	"github.com/bureau-foundation/beacon/lib/clock"
)

// Scheduler holds at most one pending single-shot timer. Arming
// replaces the pending timer, so of any number of Arm calls only the
// most recent one fires. A non-positive interval disables the
// scheduler. All methods are safe for concurrent use.
type Scheduler struct {
	clock clock.Clock
	fire  func()

	mu       sync.Mutex
	interval time.Duration
	timer    *clock.Timer
	deadline time.Time
	// generation identifies the current timer. A callback whose
	// generation is stale was replaced or cancelled after the clock
	// had already started running it, and does nothing.
	generation uint64
	stopped    bool
}

// NewScheduler returns a scheduler that calls fire interval after each
// Arm. Nothing is armed initially.
func NewScheduler(clk clock.Clock, interval time.Duration, fire func()) *Scheduler {
	return &Scheduler{clock: clk, fire: fire, interval: interval}
}

// Arm cancels any pending timer and, if the interval is positive,
// starts a new one. Arm after Stop does nothing.
func (s *Scheduler) Arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	if s.stopped || s.interval <= 0 {
		return
	}
	generation := s.generation
	s.deadline = s.clock.Now().Add(s.interval)
	s.timer = s.clock.AfterFunc(s.interval, func() {
		s.mu.Lock()
		if s.stopped || s.generation != generation {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.deadline = time.Time{}
		s.mu.Unlock()
		s.fire()
	})
}

// SetInterval stores the interval and re-arms with it. A non-positive
// interval cancels the pending timer and disables future arming.
func (s *Scheduler) SetInterval(interval time.Duration) {
	s.mu.Lock()
	s.interval = interval
	s.mu.Unlock()
	s.Arm()
}

// Interval returns the current interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Pending reports whether a timer is armed, and when it fires.
func (s *Scheduler) Pending() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline, s.timer != nil
}

// Stop cancels the pending timer permanently.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.cancelLocked()
}

func (s *Scheduler) cancelLocked() {
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.deadline = time.Time{}
}
