// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance is called.
// Pending After channels and AfterFunc callbacks fire during Advance,
// in deadline order. Callbacks run synchronously on the goroutine
// calling Advance, so a callback must not call Advance itself.
//
// Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
	changed *sync.Cond
}

// fakeTimer is either a channel delivery (After) or a callback
// (AfterFunc). Exactly one of channel and callback is set.
type fakeTimer struct {
	deadline time.Time
	channel  chan time.Time
	callback func()
	done     bool
}

// Fake returns a FakeClock reading initial.
func Fake(initial time.Time) *FakeClock {
	fakeClock := &FakeClock{now: initial}
	fakeClock.changed = sync.NewCond(&fakeClock.mu)
	return fakeClock
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After registers a channel delivery d from now. A non-positive d
// delivers before After returns.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.register(&fakeTimer{deadline: c.now.Add(d), channel: channel})
	return channel
}

// AfterFunc registers f to run d from now. A non-positive d runs f
// before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stopFunc: func() bool { return false }}
	}
	c.mu.Lock()
	timer := &fakeTimer{deadline: c.now.Add(d), callback: f}
	c.register(timer)
	c.mu.Unlock()
	return &Timer{stopFunc: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if timer.done {
			return false
		}
		timer.done = true
		c.changed.Broadcast()
		return true
	}}
}

// register adds a timer to the pending list. Caller holds c.mu.
func (c *FakeClock) register(timer *fakeTimer) {
	c.pending = append(c.pending, timer)
	c.changed.Broadcast()
}

// Advance moves the clock forward by d and fires every timer whose
// deadline is at or before the new time. Timers registered by a
// callback during Advance fire too if their deadline has been reached.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		due := c.takeDue(target)
		if len(due) == 0 {
			return
		}
		for _, timer := range due {
			if timer.callback != nil {
				timer.callback()
				continue
			}
			select {
			case timer.channel <- target:
			default:
			}
		}
	}
}

// takeDue removes and returns the live timers due at target, sorted by
// deadline. Stopped timers are dropped from the list.
func (c *FakeClock) takeDue(target time.Time) []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, remaining []*fakeTimer
	for _, timer := range c.pending {
		switch {
		case timer.done:
		case timer.deadline.After(target):
			remaining = append(remaining, timer)
		default:
			timer.done = true
			due = append(due, timer)
		}
	}
	c.pending = remaining
	c.changed.Broadcast()

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	return due
}

// WaitForTimers blocks until at least n timers are pending. Tests call
// it before Advance so a goroutine that is about to register a timer
// cannot lose the race against the advance.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of timers that have neither fired
// nor been stopped.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) pendingLocked() int {
	count := 0
	for _, timer := range c.pending {
		if !timer.done {
			count++
		}
	}
	return count
}
