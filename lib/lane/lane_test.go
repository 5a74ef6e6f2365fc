// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lane_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/compress"
	"github.com/bureau-foundation/beacon/lib/event"
	"github.com/bureau-foundation/beacon/lib/lane"
	"github.com/bureau-foundation/beacon/lib/queue"
	"github.com/bureau-foundation/beacon/lib/testutil"
)

const (
	testInterval = 30 * time.Second
	testTimeout  = 5 * time.Second
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeDispatcher records every send. failOn lists 1-based Send call
// numbers that fail. When gate is non-nil each Send waits for a value
// on it (or for ctx to end) before returning; eventGate does the same
// for SendEvent.
type fakeDispatcher struct {
	mu      sync.Mutex
	calls   int
	sizes   []int
	single  []event.Event
	failOn  map[int]bool
	gate      chan struct{}
	eventGate chan struct{}
	entered   chan struct{}

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{failOn: map[int]bool{}, entered: make(chan struct{}, 100)}
}

func (f *fakeDispatcher) Send(ctx context.Context, batch []event.Event) error {
	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		previous := f.maxInFlight.Load()
		if current <= previous || f.maxInFlight.CompareAndSwap(previous, current) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	call := f.calls
	fail := f.failOn[call]
	f.sizes = append(f.sizes, len(batch))
	gate := f.gate
	f.mu.Unlock()

	f.entered <- struct{}{}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return fmt.Errorf("simulated failure on send %d", call)
	}
	return nil
}

func (f *fakeDispatcher) SendEvent(ctx context.Context, e event.Event) error {
	f.mu.Lock()
	f.single = append(f.single, e)
	gate := f.eventGate
	f.mu.Unlock()

	if gate != nil {
		f.entered <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakeDispatcher) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.sizes...)
}

func seedQueue(t *testing.T, q queue.Queue, count int) {
	t.Helper()
	events := make([]event.Event, count)
	for i := range events {
		events[i] = event.Event{SiteID: "1", ActionPath: []string{"screen"}, CreatedAt: epoch.Add(time.Duration(i) * time.Second)}
	}
	if err := q.Enqueue(context.Background(), events...); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
}

// seedIdentical enqueues count events with the same content and
// CreatedAt.
func seedIdentical(t *testing.T, q queue.Queue, count int) {
	t.Helper()
	events := make([]event.Event, count)
	for i := range events {
		events[i] = event.Event{SiteID: "1", ActionPath: []string{"home"}, CreatedAt: epoch}
	}
	if err := q.Enqueue(context.Background(), events...); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
}

// forEachSetup runs test against the memory and the SQLite queue,
// each seeded with distinct and with identical events.
func forEachSetup(t *testing.T, test func(t *testing.T, q queue.Queue, seed func(*testing.T, queue.Queue, int))) {
	queues := []struct {
		name string
		open func(t *testing.T) queue.Queue
	}{
		{"memory", func(t *testing.T) queue.Queue { return queue.NewMemory(0) }},
		{"sqlite", func(t *testing.T) queue.Queue {
			q, err := queue.OpenSQLite(queue.SQLiteConfig{
				Path:        filepath.Join(t.TempDir(), "events.db"),
				Lane:        "standard",
				Compression: compress.LZ4,
			})
			if err != nil {
				t.Fatalf("OpenSQLite: %v", err)
			}
			t.Cleanup(func() { q.Close() })
			return q
		}},
	}
	seeds := []struct {
		name string
		seed func(*testing.T, queue.Queue, int)
	}{
		{"distinct", seedQueue},
		{"identical", seedIdentical},
	}
	for _, qc := range queues {
		for _, sc := range seeds {
			t.Run(qc.name+"/"+sc.name, func(t *testing.T) {
				test(t, qc.open(t), sc.seed)
			})
		}
	}
}

func newTestLane(t *testing.T, q queue.Queue, dispatcher *fakeDispatcher, clk clock.Clock) *lane.Lane {
	t.Helper()
	l, err := lane.New(lane.Config{
		Name:       "standard",
		Queue:      q,
		Dispatcher: dispatcher,
		BatchSize:  20,
		Interval:   testInterval,
		Clock:      clk,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { l.Close(context.Background()) })
	return l
}

func resultChannel() (chan lane.Result, func(lane.Result)) {
	results := make(chan lane.Result, 10)
	return results, func(r lane.Result) { results <- r }
}

func count(t *testing.T, q queue.Queue) int {
	t.Helper()
	n, err := q.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	return n
}

func TestDrainSendsAllBatches(t *testing.T) {
	forEachSetup(t, func(t *testing.T, q queue.Queue, seed func(*testing.T, queue.Queue, int)) {
		clk := clock.Fake(epoch)
		seed(t, q, 45)
		dispatcher := newFakeDispatcher()
		l := newTestLane(t, q, dispatcher, clk)

		results, done := resultChannel()
		if !l.Dispatch(done) {
			t.Fatal("Dispatch returned false with 45 queued events")
		}
		result := testutil.RequireReceive(t, results, testTimeout, "waiting for drain")

		if result.Err != nil {
			t.Fatalf("drain error: %v", result.Err)
		}
		if result.Batches != 3 || result.Events != 45 {
			t.Fatalf("result = %+v, want 3 batches and 45 events", result)
		}
		sizes := dispatcher.batchSizes()
		if fmt.Sprint(sizes) != "[20 20 5]" {
			t.Fatalf("batch sizes = %v, want [20 20 5]", sizes)
		}
		if l.State() != lane.Idle {
			t.Fatalf("state = %v, want idle", l.State())
		}
		if got := count(t, q); got != 0 {
			t.Fatalf("queue count = %d, want 0", got)
		}
	})
}

func TestDrainStopsOnSendFailureAndRetries(t *testing.T) {
	forEachSetup(t, func(t *testing.T, q queue.Queue, seed func(*testing.T, queue.Queue, int)) {
		clk := clock.Fake(epoch)
		seed(t, q, 25)
		dispatcher := newFakeDispatcher()
		dispatcher.failOn[2] = true
		l := newTestLane(t, q, dispatcher, clk)

		results, done := resultChannel()
		l.Dispatch(done)
		result := testutil.RequireReceive(t, results, testTimeout, "waiting for drain")

		if result.Err == nil {
			t.Fatal("expected the second send's failure in the result")
		}
		if result.Batches != 1 || result.Events != 20 {
			t.Fatalf("result = %+v, want 1 batch of 20 before the failure", result)
		}
		if got := count(t, q); got != 5 {
			t.Fatalf("queue count = %d, want 5", got)
		}
		if l.State() != lane.Idle {
			t.Fatalf("state = %v, want idle", l.State())
		}
		deadline, armed := l.Scheduler().Pending()
		if !armed {
			t.Fatal("retry not armed after failure")
		}
		if want := epoch.Add(testInterval); !deadline.Equal(want) {
			t.Fatalf("retry deadline = %v, want %v", deadline, want)
		}

		// Consume the two sends of the first drain, then let the retry
		// drain the remaining five.
		testutil.RequireReceive(t, dispatcher.entered, testTimeout, "first send")
		testutil.RequireReceive(t, dispatcher.entered, testTimeout, "failed send")
		clk.Advance(testInterval)
		testutil.RequireReceive(t, dispatcher.entered, testTimeout, "waiting for retry send")
		clk.WaitForTimers(1)
		if got := count(t, q); got != 0 {
			t.Fatalf("queue count after retry = %d, want 0", got)
		}
		if sizes := dispatcher.batchSizes(); fmt.Sprint(sizes) != "[20 5 5]" {
			t.Fatalf("batch sizes = %v, want [20 5 5]", sizes)
		}
	})
}

func TestDispatchEmptyQueueArmsRetry(t *testing.T) {
	clk := clock.Fake(epoch)
	q := queue.NewMemory(0)
	dispatcher := newFakeDispatcher()
	l := newTestLane(t, q, dispatcher, clk)

	results, done := resultChannel()
	if l.Dispatch(done) {
		t.Fatal("Dispatch returned true for an empty queue")
	}
	result := testutil.RequireReceive(t, results, testTimeout, "waiting for result")
	if result.Err != nil || result.Batches != 0 {
		t.Fatalf("result = %+v, want empty success", result)
	}
	if _, armed := l.Scheduler().Pending(); !armed {
		t.Fatal("empty queue did not arm the scheduler")
	}
	if l.State() != lane.Idle {
		t.Fatalf("state = %v, want idle", l.State())
	}

	// Events tracked later are picked up by the timer.
	seedQueue(t, q, 3)
	clk.Advance(testInterval)
	testutil.RequireReceive(t, dispatcher.entered, testTimeout, "waiting for timer-driven send")
	clk.WaitForTimers(1)
	if got := count(t, q); got != 0 {
		t.Fatalf("queue count = %d, want 0", got)
	}
}

func TestDispatchWhileBusyIsRejected(t *testing.T) {
	clk := clock.Fake(epoch)
	q := queue.NewMemory(0)
	seedQueue(t, q, 5)
	dispatcher := newFakeDispatcher()
	dispatcher.gate = make(chan struct{})
	l := newTestLane(t, q, dispatcher, clk)

	results, done := resultChannel()
	if !l.Dispatch(done) {
		t.Fatal("first Dispatch should start a drain")
	}
	testutil.RequireReceive(t, dispatcher.entered, testTimeout, "waiting for send to start")
	if l.State() != lane.Dispatching {
		t.Fatalf("state = %v, want dispatching", l.State())
	}

	busy, busyDone := resultChannel()
	if l.Dispatch(busyDone) {
		t.Fatal("second Dispatch started a concurrent drain")
	}
	rejected := testutil.RequireReceive(t, busy, testTimeout, "waiting for rejection")
	if !errors.Is(rejected.Err, lane.ErrAlreadyDispatching) {
		t.Fatalf("rejection error = %v, want ErrAlreadyDispatching", rejected.Err)
	}
	if err := l.SendNow(context.Background(), event.Event{SiteID: "1"}); !errors.Is(err, lane.ErrAlreadyDispatching) {
		t.Fatalf("SendNow during drain = %v, want ErrAlreadyDispatching", err)
	}

	close(dispatcher.gate)
	result := testutil.RequireReceive(t, results, testTimeout, "waiting for drain")
	if result.Err != nil || result.Events != 5 {
		t.Fatalf("result = %+v, want 5 events sent", result)
	}
}

func TestSingleFlightUnderConcurrentDispatch(t *testing.T) {
	q := queue.NewMemory(0)
	dispatcher := newFakeDispatcher()
	dispatcher.entered = make(chan struct{}, 10000)
	l := newTestLane(t, q, dispatcher, clock.Fake(epoch))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				e := event.Event{SiteID: "1", Name: fmt.Sprintf("%d-%d", i, j), CreatedAt: epoch}
				if err := q.Enqueue(context.Background(), e); err != nil {
					t.Errorf("Enqueue: %v", err)
					return
				}
				l.Dispatch(nil)
			}
		}()
	}
	wg.Wait()

	// Drain whatever is left and wait until the lane is idle.
	for count(t, q) > 0 || l.State() != lane.Idle {
		results, done := resultChannel()
		if l.Dispatch(done) {
			testutil.RequireReceive(t, results, testTimeout, "waiting for final drain")
		}
		time.Sleep(time.Millisecond)
	}

	if got := dispatcher.maxInFlight.Load(); got > 1 {
		t.Fatalf("observed %d concurrent sends on one lane", got)
	}
}

func TestSendNowUsesToken(t *testing.T) {
	q := queue.NewMemory(0)
	dispatcher := newFakeDispatcher()
	l := newTestLane(t, q, dispatcher, clock.Fake(epoch))

	e := event.Event{SiteID: "1", Category: "payment", Action: "failed"}
	if err := l.SendNow(context.Background(), e); err != nil {
		t.Fatalf("SendNow: %v", err)
	}
	if len(dispatcher.single) != 1 {
		t.Fatalf("dispatcher saw %d direct sends, want 1", len(dispatcher.single))
	}
	if l.State() != lane.Idle {
		t.Fatal("SendNow did not release the token")
	}
}

func TestSendNowRearmsTimerRejectedDuringSend(t *testing.T) {
	clk := clock.Fake(epoch)
	q := queue.NewMemory(0)
	dispatcher := newFakeDispatcher()
	dispatcher.eventGate = make(chan struct{})
	l := newTestLane(t, q, dispatcher, clk)
	l.Scheduler().Arm()

	sent := make(chan error, 1)
	go func() {
		sent <- l.SendNow(context.Background(), event.Event{SiteID: "1", Category: "payment", Action: "failed"})
	}()
	testutil.RequireReceive(t, dispatcher.entered, testTimeout, "waiting for direct send to start")

	// The timer fires while the direct send holds the token and is
	// rejected as busy.
	clk.Advance(testInterval)
	if _, armed := l.Scheduler().Pending(); armed {
		t.Fatal("timer still pending after it fired")
	}

	close(dispatcher.eventGate)
	if err := testutil.RequireReceive(t, sent, testTimeout, "waiting for direct send"); err != nil {
		t.Fatalf("SendNow: %v", err)
	}
	if _, armed := l.Scheduler().Pending(); !armed {
		t.Fatal("scheduler not re-armed after the direct send released the token")
	}

	// Events queued later are still picked up by the timer.
	seedQueue(t, q, 3)
	clk.Advance(testInterval)
	testutil.RequireReceive(t, dispatcher.entered, testTimeout, "waiting for timer-driven send")
	clk.WaitForTimers(1)
	if got := count(t, q); got != 0 {
		t.Fatalf("queue count = %d, want 0", got)
	}
}

func TestCloseStopsSchedulerAndRejects(t *testing.T) {
	clk := clock.Fake(epoch)
	q := queue.NewMemory(0)
	dispatcher := newFakeDispatcher()
	l := newTestLane(t, q, dispatcher, clk)

	l.Dispatch(nil)
	if clk.PendingCount() != 1 {
		t.Fatalf("pending timers = %d, want 1", clk.PendingCount())
	}
	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if clk.PendingCount() != 0 {
		t.Fatalf("pending timers after Close = %d, want 0", clk.PendingCount())
	}

	results, done := resultChannel()
	if l.Dispatch(done) {
		t.Fatal("Dispatch after Close started a drain")
	}
	if result := testutil.RequireReceive(t, results, testTimeout, "waiting for result"); !errors.Is(result.Err, lane.ErrClosed) {
		t.Fatalf("Dispatch after Close = %v, want ErrClosed", result.Err)
	}
	if err := l.SendNow(context.Background(), event.Event{}); !errors.Is(err, lane.ErrClosed) {
		t.Fatalf("SendNow after Close = %v, want ErrClosed", err)
	}
}

func TestCloseCancelsStuckDrain(t *testing.T) {
	q := queue.NewMemory(0)
	seedQueue(t, q, 3)
	dispatcher := newFakeDispatcher()
	dispatcher.gate = make(chan struct{})
	l := newTestLane(t, q, dispatcher, clock.Fake(epoch))

	results, done := resultChannel()
	l.Dispatch(done)
	testutil.RequireReceive(t, dispatcher.entered, testTimeout, "waiting for send to start")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Close(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Close = %v, want context.Canceled", err)
	}
	result := testutil.RequireReceive(t, results, testTimeout, "waiting for aborted drain")
	if !errors.Is(result.Err, context.Canceled) {
		t.Fatalf("drain error = %v, want context.Canceled", result.Err)
	}
	if got := count(t, q); got != 3 {
		t.Fatalf("queue count = %d, want 3 (aborted batch stays queued)", got)
	}
}

func TestNewValidation(t *testing.T) {
	q := queue.NewMemory(0)
	dispatcher := newFakeDispatcher()
	tests := []struct {
		name string
		cfg  lane.Config
	}{
		{"missing name", lane.Config{Queue: q, Dispatcher: dispatcher}},
		{"missing queue", lane.Config{Name: "standard", Dispatcher: dispatcher}},
		{"missing dispatcher", lane.Config{Name: "standard", Queue: q}},
		{"negative batch", lane.Config{Name: "standard", Queue: q, Dispatcher: dispatcher, BatchSize: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := lane.New(tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
