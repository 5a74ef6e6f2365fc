// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source for everything in Beacon that waits:
// the per-lane retry scheduler, event timestamps, and session
// bookkeeping.
//
// Production code holds a Clock and never calls time.Now or
// time.AfterFunc directly. Real() delegates to the time package.
// Fake() returns a clock that only moves when a test calls Advance,
// which makes retry timing deterministic:
//
//	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	scheduler := lane.NewScheduler(fakeClock, 30*time.Second, fire)
//	scheduler.Arm()
//	fakeClock.WaitForTimers(1)
//	fakeClock.Advance(30 * time.Second) // fire runs synchronously here
package clock
