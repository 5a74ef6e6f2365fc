// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lane

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/beacon/lib/clock"
)

var schedulerEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newCountingScheduler(interval time.Duration) (*Scheduler, *clock.FakeClock, *atomic.Int32) {
	clk := clock.Fake(schedulerEpoch)
	var fired atomic.Int32
	return NewScheduler(clk, interval, func() { fired.Add(1) }), clk, &fired
}

func TestSchedulerFiresOnce(t *testing.T) {
	scheduler, clk, fired := newCountingScheduler(10 * time.Second)
	scheduler.Arm()

	clk.Advance(9 * time.Second)
	if fired.Load() != 0 {
		t.Fatal("fired before the interval elapsed")
	}
	clk.Advance(time.Second)
	if fired.Load() != 1 {
		t.Fatalf("fired %d times, want 1", fired.Load())
	}
	clk.Advance(time.Minute)
	if fired.Load() != 1 {
		t.Fatalf("single-shot timer fired %d times", fired.Load())
	}
	if _, armed := scheduler.Pending(); armed {
		t.Fatal("scheduler still reports a pending timer after firing")
	}
}

func TestSchedulerOnlyLatestArmFires(t *testing.T) {
	scheduler, clk, fired := newCountingScheduler(10 * time.Second)
	scheduler.Arm()
	clk.Advance(5 * time.Second)
	scheduler.Arm()

	// The first arm's deadline passes without a fire.
	clk.Advance(5 * time.Second)
	if fired.Load() != 0 {
		t.Fatal("the replaced timer fired")
	}
	clk.Advance(5 * time.Second)
	if fired.Load() != 1 {
		t.Fatalf("fired %d times, want exactly 1", fired.Load())
	}
	if clk.PendingCount() != 0 {
		t.Fatalf("pending timers = %d, want 0", clk.PendingCount())
	}
}

func TestSchedulerArmTwiceInQuickSuccession(t *testing.T) {
	scheduler, clk, fired := newCountingScheduler(10 * time.Second)
	scheduler.Arm()
	scheduler.Arm()
	if clk.PendingCount() != 1 {
		t.Fatalf("pending timers = %d, want 1", clk.PendingCount())
	}
	clk.Advance(time.Hour)
	if fired.Load() != 1 {
		t.Fatalf("fired %d times, want 1", fired.Load())
	}
}

func TestSchedulerNonPositiveIntervalDisables(t *testing.T) {
	scheduler, clk, fired := newCountingScheduler(10 * time.Second)
	scheduler.Arm()
	scheduler.SetInterval(0)
	if _, armed := scheduler.Pending(); armed {
		t.Fatal("SetInterval(0) left a timer armed")
	}
	scheduler.Arm()
	clk.Advance(time.Hour)
	if fired.Load() != 0 {
		t.Fatalf("disabled scheduler fired %d times", fired.Load())
	}

	scheduler.SetInterval(time.Minute)
	deadline, armed := scheduler.Pending()
	if !armed || !deadline.Equal(clk.Now().Add(time.Minute)) {
		t.Fatalf("SetInterval did not re-arm: deadline %v armed %v", deadline, armed)
	}
}

func TestSchedulerStop(t *testing.T) {
	scheduler, clk, fired := newCountingScheduler(10 * time.Second)
	scheduler.Arm()
	scheduler.Stop()
	scheduler.Arm()
	clk.Advance(time.Hour)
	if fired.Load() != 0 {
		t.Fatalf("stopped scheduler fired %d times", fired.Load())
	}
}

func TestTokenExclusion(t *testing.T) {
	var token Token
	if !token.TryAcquire() {
		t.Fatal("zero token should be free")
	}
	if token.TryAcquire() {
		t.Fatal("acquired a held token")
	}
	token.Release()
	if token.Held() {
		t.Fatal("token still held after Release")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("releasing a free token should panic")
		}
	}()
	token.Release()
}
