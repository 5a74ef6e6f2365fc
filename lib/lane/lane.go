// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/dispatch"
	"github.com/bureau-foundation/beacon/lib/event"
	"github.com/bureau-foundation/beacon/lib/queue"
)

// DefaultBatchSize is the number of events per Send when Config
// leaves BatchSize at zero.
const DefaultBatchSize = 20

var (
	// ErrAlreadyDispatching rejects a Dispatch or SendNow while the
	// lane's token is held.
	ErrAlreadyDispatching = errors.New("lane: already dispatching")

	// ErrClosed is reported by Dispatch and SendNow after Close.
	ErrClosed = errors.New("lane: closed")
)

// Result describes the outcome of one Dispatch request.
type Result struct {
	// Lane is the name of the lane.
	Lane string

	// Batches and Events count what the dispatcher acknowledged and
	// the queue removed.
	Batches int
	Events  int

	// Err is nil when the drain emptied the queue (or found it
	// empty), ErrAlreadyDispatching or ErrClosed for a rejected
	// request, and the failing step's error otherwise.
	Err error
}

// Config configures New.
type Config struct {
	// Name identifies the lane in logs and results.
	Name string

	Queue      queue.Queue
	Dispatcher dispatch.Dispatcher

	// BatchSize is the maximum number of events per Send. Zero means
	// DefaultBatchSize; negative is an error.
	BatchSize int

	// Interval is the delay before a drain is retried or the queue is
	// checked again. Non-positive disables automatic dispatch; only
	// explicit Dispatch calls drain the lane.
	Interval time.Duration

	// Clock drives the retry timer. Nil means the real clock.
	Clock clock.Clock

	Logger *slog.Logger
}

// Lane drains one queue into one dispatcher. See the package
// documentation for the protocol.
type Lane struct {
	name       string
	queue      queue.Queue
	dispatcher dispatch.Dispatcher
	batchSize  int
	logger     *slog.Logger

	token     Token
	scheduler *Scheduler

	// ctx is the lifetime context handed to the queue and the
	// dispatcher. Close cancels it only if waiting for a running
	// drain outlasts the caller's deadline.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	running sync.WaitGroup
}

// New validates cfg and returns an idle lane with nothing armed. Call
// Dispatch (or Scheduler().Arm) to start the cycle.
func New(cfg Config) (*Lane, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("lane: Name is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("lane %s: Queue is required", cfg.Name)
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("lane %s: Dispatcher is required", cfg.Name)
	}
	batchSize := cfg.BatchSize
	if batchSize < 0 {
		return nil, fmt.Errorf("lane %s: BatchSize must be positive, got %d", cfg.Name, batchSize)
	}
	if batchSize == 0 {
		batchSize = DefaultBatchSize
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Lane{
		name:       cfg.Name,
		queue:      cfg.Queue,
		dispatcher: cfg.Dispatcher,
		batchSize:  batchSize,
		logger:     logger.With("lane", cfg.Name),
		ctx:        ctx,
		cancel:     cancel,
	}
	l.scheduler = NewScheduler(clk, cfg.Interval, func() { l.Dispatch(nil) })
	return l, nil
}

// Name returns the lane name.
func (l *Lane) Name() string { return l.name }

// Queue returns the lane's queue.
func (l *Lane) Queue() queue.Queue { return l.queue }

// Scheduler returns the lane's retry scheduler.
func (l *Lane) Scheduler() *Scheduler { return l.scheduler }

// State reports whether the lane's token is held.
func (l *Lane) State() State {
	if l.token.Held() {
		return Dispatching
	}
	return Idle
}

// Dispatch starts a drain and reports whether it did. It never waits
// on the network: the drain runs on its own goroutine and reports to
// done (which may be nil) when it ends.
//
// Dispatch returns false without starting a drain when the lane is
// busy (done receives ErrAlreadyDispatching), when the queue is empty
// (done receives an empty Result and the scheduler is armed so the
// queue is checked again later), when the queue cannot be counted, or
// after Close.
func (l *Lane) Dispatch(done func(Result)) bool {
	if !l.token.TryAcquire() {
		l.logger.Debug("dispatch requested while already dispatching")
		report(done, Result{Lane: l.name, Err: ErrAlreadyDispatching})
		return false
	}
	if !l.begin() {
		l.token.Release()
		report(done, Result{Lane: l.name, Err: ErrClosed})
		return false
	}

	count, err := l.queue.Count(l.ctx)
	if err != nil || count == 0 {
		if err != nil {
			err = fmt.Errorf("lane %s: counting queue: %w", l.name, err)
			l.logger.Error("queue count failed", "error", err)
		}
		l.token.Release()
		l.scheduler.Arm()
		l.running.Done()
		report(done, Result{Lane: l.name, Err: err})
		return false
	}

	l.logger.Debug("drain starting", "queued", count)
	go l.drain(done)
	return true
}

// begin registers a running operation unless the lane is closed. The
// caller must balance a true result with running.Done.
func (l *Lane) begin() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.running.Add(1)
	return true
}

func (l *Lane) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// drain sends batches until the queue is empty or a step fails. The
// caller holds the token and a running registration; drain releases
// both.
func (l *Lane) drain(done func(Result)) {
	result := Result{Lane: l.name}
	defer func() {
		l.token.Release()
		l.scheduler.Arm()
		l.running.Done()
		report(done, result)
	}()

	for {
		if l.isClosed() {
			l.logger.Debug("drain stopped by close", "batches", result.Batches, "events", result.Events)
			return
		}

		batch, err := l.queue.FirstN(l.ctx, l.batchSize)
		if err != nil {
			result.Err = fmt.Errorf("lane %s: reading batch: %w", l.name, err)
			l.logger.Error("reading batch failed", "error", err)
			return
		}
		if len(batch) == 0 {
			l.logger.Info("drain complete", "batches", result.Batches, "events", result.Events)
			return
		}

		if err := l.dispatcher.Send(l.ctx, batch); err != nil {
			result.Err = fmt.Errorf("lane %s: sending batch of %d: %w", l.name, len(batch), err)
			l.logger.Warn("batch send failed, will retry",
				"error", err,
				"events", len(batch),
				"retryable", dispatch.IsRetryable(err),
				"retry_in", l.scheduler.Interval(),
			)
			return
		}

		if err := l.queue.Remove(l.ctx, batch); err != nil {
			result.Err = fmt.Errorf("lane %s: removing sent batch: %w", l.name, err)
			l.logger.Error("removing sent batch failed, it will be delivered again", "error", err, "events", len(batch))
			return
		}
		result.Batches++
		result.Events += len(batch)
		l.logger.Debug("batch sent", "events", len(batch), "batches", result.Batches)
	}
}

// SendNow sends e directly while holding the lane's token, bypassing
// the queue. It blocks for one dispatcher round trip. When the token
// is held by a drain it returns ErrAlreadyDispatching without
// sending; the caller decides whether to enqueue e instead.
//
// The scheduler is re-armed when SendNow releases the token: a timer
// that fired during the send was rejected as busy, and the lane would
// otherwise be left with nothing pending.
func (l *Lane) SendNow(ctx context.Context, e event.Event) error {
	if !l.token.TryAcquire() {
		return ErrAlreadyDispatching
	}
	if !l.begin() {
		l.token.Release()
		return ErrClosed
	}
	defer func() {
		l.token.Release()
		l.scheduler.Arm()
		l.running.Done()
	}()

	if err := l.dispatcher.SendEvent(ctx, e); err != nil {
		l.logger.Warn("direct send failed", "error", err, "retryable", dispatch.IsRetryable(err))
		return fmt.Errorf("lane %s: direct send: %w", l.name, err)
	}
	return nil
}

// Close stops the scheduler and waits for a running drain or direct
// send to finish. A drain in progress stops after its current batch.
// If ctx ends first, in-flight queue and dispatcher calls of the
// drain are cancelled and Close returns ctx's error once they
// return. Close is idempotent.
func (l *Lane) Close(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.scheduler.Stop()

	finished := make(chan struct{})
	go func() {
		l.running.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		l.cancel()
		return nil
	case <-ctx.Done():
		l.cancel()
		<-finished
		return fmt.Errorf("lane %s: close: %w", l.name, ctx.Err())
	}
}

func report(done func(Result), result Result) {
	if done != nil {
		done(result)
	}
}
