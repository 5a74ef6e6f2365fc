// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/dispatch"
	"github.com/bureau-foundation/beacon/lib/event"
	"github.com/bureau-foundation/beacon/lib/lane"
	"github.com/bureau-foundation/beacon/lib/queue"
	"github.com/bureau-foundation/beacon/lib/settings"
)

// DefaultInterval is the dispatch interval when Config.Interval is
// zero.
const DefaultInterval = 30 * time.Second

// Lane names, as reported in lane.Result and used for SQLite queues.
const (
	StandardLane = "standard"
	PriorityLane = "priority"
)

// ErrClosed is reported for tracking and dispatch after Close.
var ErrClosed = errors.New("tracker: closed")

// Config configures New.
type Config struct {
	// SiteID identifies the site or app in the collector. Required.
	SiteID string

	// ContentBase prefixes derived event URLs: a view of path
	// ["settings", "privacy"] gets ContentBase + "/settings/privacy".
	ContentBase string

	Language  string
	UserAgent string

	// Standard and Priority are the lane queues. Required, and must
	// be distinct.
	Standard queue.Queue
	Priority queue.Queue

	// Dispatcher is shared by both lanes. Required.
	Dispatcher dispatch.Dispatcher

	// Settings persists opt-out, identity, and visit state. Nil keeps
	// them in memory only.
	Settings settings.Store

	// BatchSize is the maximum number of events per send. Zero means
	// lane.DefaultBatchSize.
	BatchSize int

	// Interval is the automatic dispatch interval of both lanes. Zero
	// means DefaultInterval; negative disables automatic dispatch.
	Interval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Tracker records events and hands them to its lanes. All methods are
// safe for concurrent use.
type Tracker struct {
	siteID      string
	contentBase string
	language    string
	userAgent   string

	store    settings.Store
	clock    clock.Clock
	logger   *slog.Logger
	standard *lane.Lane
	priority *lane.Lane

	// ctx bounds critical sends; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards the fields below and serializes enqueues, so the
	// new-session flag lands on exactly one queued event.
	mu         sync.Mutex
	settings   settings.Settings
	dimensions event.Dimensions
	newSession bool
	closed     bool

	critical sync.WaitGroup
}

// New validates cfg, loads the persisted settings, starts a new visit,
// and arms both lanes' timers.
func New(cfg Config) (*Tracker, error) {
	if cfg.SiteID == "" {
		return nil, fmt.Errorf("tracker: SiteID is required")
	}
	if cfg.Standard == nil || cfg.Priority == nil {
		return nil, fmt.Errorf("tracker: Standard and Priority queues are required")
	}
	if cfg.Standard == cfg.Priority {
		return nil, fmt.Errorf("tracker: Standard and Priority must be different queues")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("tracker: Dispatcher is required")
	}
	if cfg.BatchSize < 0 {
		return nil, fmt.Errorf("tracker: BatchSize must be positive, got %d", cfg.BatchSize)
	}
	store := cfg.Settings
	if store == nil {
		store = &settings.Memory{}
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = DefaultInterval
	}

	persisted, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("tracker: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		siteID:      cfg.SiteID,
		contentBase: strings.TrimSuffix(cfg.ContentBase, "/"),
		language:    cfg.Language,
		userAgent:   cfg.UserAgent,
		store:       store,
		clock:       clk,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		settings:    persisted,
	}

	laneConfig := func(name string, q queue.Queue) lane.Config {
		return lane.Config{
			Name:       name,
			Queue:      q,
			Dispatcher: cfg.Dispatcher,
			BatchSize:  cfg.BatchSize,
			Interval:   interval,
			Clock:      clk,
			Logger:     logger,
		}
	}
	if t.standard, err = lane.New(laneConfig(StandardLane, cfg.Standard)); err != nil {
		cancel()
		return nil, fmt.Errorf("tracker: %w", err)
	}
	if t.priority, err = lane.New(laneConfig(PriorityLane, cfg.Priority)); err != nil {
		t.standard.Close(context.Background())
		cancel()
		return nil, fmt.Errorf("tracker: %w", err)
	}

	t.mu.Lock()
	if t.settings.VisitorID == "" {
		t.settings.VisitorID = settings.NewVisitorID()
		logger.Info("generated visitor ID", "visitor_id", t.settings.VisitorID)
	}
	now := clk.Now()
	if t.settings.FirstVisit.IsZero() {
		t.settings.FirstVisit = now
	}
	t.startSessionLocked(now)
	t.mu.Unlock()

	t.standard.Scheduler().Arm()
	t.priority.Scheduler().Arm()
	return t, nil
}

// Track stamps e with the tracker context and enqueues it on the
// standard lane. Fields the caller already set are kept, except
// Dimensions, which are merged over the tracker-level dimensions.
func (t *Tracker) Track(e event.Event) {
	t.enqueue(t.standard, e)
}

// TrackPriority is Track on the priority lane.
func (t *Tracker) TrackPriority(e event.Event) {
	t.enqueue(t.priority, e)
}

// TrackView records a view of the screen at path.
func (t *Tracker) TrackView(path []string, options ...TrackOption) {
	e := event.Event{ActionPath: append([]string(nil), path...)}
	for _, option := range options {
		option(&e)
	}
	t.Track(e)
}

// TrackEvent records an interaction event.
func (t *Tracker) TrackEvent(category, action string, options ...TrackOption) {
	e := event.Event{Category: category, Action: action}
	for _, option := range options {
		option(&e)
	}
	t.Track(e)
}

// TrackCritical sends e immediately on a background goroutine while
// holding the priority lane's token, bypassing both queues. If the
// priority lane is draining, or the send fails, e is enqueued on the
// priority lane instead so it is not lost. done (which may be nil)
// receives nil when the collector acknowledged e, or the reason it
// was queued instead. When tracking is opted out e is dropped and
// done receives nil.
func (t *Tracker) TrackCritical(e event.Event, done func(error)) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		reportError(done, ErrClosed)
		return
	}
	stamped, ok := t.stampLocked(e)
	if !ok {
		t.mu.Unlock()
		reportError(done, nil)
		return
	}
	// Sent or queued below, the event carries the flag either way.
	t.newSession = false
	t.critical.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.critical.Done()
		err := t.priority.SendNow(t.ctx, stamped)
		if err == nil {
			reportError(done, nil)
			return
		}
		if enqueueErr := t.priority.Queue().Enqueue(context.Background(), stamped); enqueueErr != nil {
			t.logger.Error("critical event lost", "error", enqueueErr, "send_error", err)
			reportError(done, errors.Join(err, enqueueErr))
			return
		}
		t.logger.Info("critical event queued on priority lane", "reason", err)
		reportError(done, err)
	}()
}

// enqueue stamps and enqueues e on l. Failures are logged, never
// returned.
func (t *Tracker) enqueue(l *lane.Lane, e event.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		t.logger.Warn("event tracked after close, dropped", "lane", l.Name())
		return
	}
	stamped, ok := t.stampLocked(e)
	if !ok {
		return
	}
	if err := l.Queue().Enqueue(context.Background(), stamped); err != nil {
		t.logger.Error("enqueue failed, event dropped", "lane", l.Name(), "error", err)
		return
	}
	// Consumed only once an event actually carries it.
	t.newSession = false
}

// stampLocked fills in the tracker context. It reports false when the
// user opted out. The new-session flag is copied but not cleared;
// callers clear it once the event is queued. Caller holds t.mu.
func (t *Tracker) stampLocked(e event.Event) (event.Event, bool) {
	if t.settings.OptedOut {
		t.logger.Debug("opted out, event dropped", "action_name", e.ActionName(), "category", e.Category)
		return event.Event{}, false
	}
	if e.SiteID == "" {
		e.SiteID = t.siteID
	}
	if e.VisitorID == "" {
		e.VisitorID = t.settings.VisitorID
	}
	if e.UserID == "" {
		e.UserID = t.settings.UserID
	}
	e.IsNewSession = e.IsNewSession || t.newSession
	e.Session = event.Session{
		FirstVisit:    t.settings.FirstVisit,
		PreviousVisit: t.settings.PreviousVisit,
		CurrentVisit:  t.settings.CurrentVisit,
		Visits:        t.settings.Visits,
	}
	if e.URL == "" && len(e.ActionPath) > 0 && t.contentBase != "" {
		e.URL = t.contentBase + "/" + strings.Join(e.ActionPath, "/")
	}
	if e.Language == "" {
		e.Language = t.language
	}
	if e.UserAgent == "" {
		e.UserAgent = t.userAgent
	}
	e.Dimensions = event.Merge(t.dimensions.List(), e.Dimensions)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.clock.Now()
	}
	return e, true
}

// Dispatch asks the standard lane to drain now. It reports whether a
// drain started; false means the lane was already draining or had
// nothing queued.
func (t *Tracker) Dispatch() bool {
	return t.standard.Dispatch(func(result lane.Result) {
		if result.Err != nil && !errors.Is(result.Err, lane.ErrAlreadyDispatching) {
			t.logger.Debug("manual dispatch ended with error", "error", result.Err)
		}
	})
}

// DispatchNow drains the priority lane immediately. done (which may
// be nil) receives the drain result, including the rejection when a
// drain is already running.
func (t *Tracker) DispatchNow(done func(lane.Result)) bool {
	return t.priority.Dispatch(done)
}

// flushRetryDelay is how long Flush waits before asking a busy lane
// again.
const flushRetryDelay = 20 * time.Millisecond

// Flush drains the priority lane and then the standard lane, and
// returns once both are empty. A failed send ends the flush with that
// drain's error; the events stay queued for the lanes' timers. When
// ctx ends first Flush returns its error and any running drain
// continues in the background.
func (t *Tracker) Flush(ctx context.Context) error {
	for _, l := range []*lane.Lane{t.priority, t.standard} {
		if err := flushLane(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

func flushLane(ctx context.Context, l *lane.Lane) error {
	for {
		results := make(chan lane.Result, 1)
		l.Dispatch(func(result lane.Result) { results <- result })

		var result lane.Result
		select {
		case result = <-results:
		case <-ctx.Done():
			return fmt.Errorf("tracker: flushing %s lane: %w", l.Name(), ctx.Err())
		}

		switch {
		case errors.Is(result.Err, lane.ErrAlreadyDispatching):
			retry := time.NewTimer(flushRetryDelay)
			select {
			case <-retry.C:
			case <-ctx.Done():
				retry.Stop()
				return fmt.Errorf("tracker: flushing %s lane: %w", l.Name(), ctx.Err())
			}
		case errors.Is(result.Err, lane.ErrClosed):
			return ErrClosed
		case result.Err != nil:
			return fmt.Errorf("tracker: %w", result.Err)
		case result.Events == 0:
			return nil
		}
	}
}

// SetDimension sets a tracker-level dimension that every later event
// carries. Setting an existing index replaces its value in place.
func (t *Tracker) SetDimension(d event.Dimension) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("tracker: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dimensions.Set(d)
	return nil
}

// RemoveDimension removes the tracker-level dimension at index.
func (t *Tracker) RemoveDimension(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dimensions.Remove(index)
}

// Dimensions returns the tracker-level dimensions in order.
func (t *Tracker) Dimensions() []event.Dimension {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dimensions.List()
}

// StartNewSession starts a new visit: the current visit becomes the
// previous one, the visit count grows by one, and the next tracked
// event is flagged as the start of a visit.
func (t *Tracker) StartNewSession() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startSessionLocked(t.clock.Now())
}

func (t *Tracker) startSessionLocked(now time.Time) {
	if !t.settings.CurrentVisit.IsZero() {
		t.settings.PreviousVisit = t.settings.CurrentVisit
	}
	t.settings.CurrentVisit = now
	t.settings.Visits++
	t.newSession = true
	t.saveLocked()
}

// Session returns the visit bookkeeping that the next event would
// carry.
func (t *Tracker) Session() event.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return event.Session{
		FirstVisit:    t.settings.FirstVisit,
		PreviousVisit: t.settings.PreviousVisit,
		CurrentVisit:  t.settings.CurrentVisit,
		Visits:        t.settings.Visits,
	}
}

// SetDispatchInterval changes the automatic dispatch interval of both
// lanes and re-arms their timers. A non-positive interval disables
// automatic dispatch.
func (t *Tracker) SetDispatchInterval(interval time.Duration) {
	t.standard.Scheduler().SetInterval(interval)
	t.priority.Scheduler().SetInterval(interval)
}

// DispatchInterval returns the current automatic dispatch interval.
func (t *Tracker) DispatchInterval() time.Duration {
	return t.standard.Scheduler().Interval()
}

// SetOptedOut records the user's opt-out choice. While opted out,
// tracked events are dropped. Events queued before opting out are
// still delivered.
func (t *Tracker) SetOptedOut(optedOut bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.settings.OptedOut == optedOut {
		return
	}
	t.settings.OptedOut = optedOut
	t.saveLocked()
	t.logger.Info("opt-out changed", "opted_out", optedOut)
}

// OptedOut reports the opt-out choice.
func (t *Tracker) OptedOut() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings.OptedOut
}

// VisitorID returns the persisted visitor ID.
func (t *Tracker) VisitorID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings.VisitorID
}

// SetUserID sets the application user ID sent with later events. The
// empty string clears it.
func (t *Tracker) SetUserID(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.settings.UserID = userID
	t.saveLocked()
}

// UserID returns the application user ID.
func (t *Tracker) UserID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings.UserID
}

// saveLocked persists the settings. A failed save is logged; the
// in-memory state stays authoritative for this process.
func (t *Tracker) saveLocked() {
	if err := t.store.Save(t.settings); err != nil {
		t.logger.Error("saving settings failed", "error", err)
	}
}

// LaneStatus is a point-in-time view of one lane.
type LaneStatus struct {
	Name    string
	State   lane.State
	Queued  int
	Pending bool
	NextRun time.Time
}

// Status reports both lanes.
func (t *Tracker) Status(ctx context.Context) ([]LaneStatus, error) {
	var statuses []LaneStatus
	for _, l := range []*lane.Lane{t.standard, t.priority} {
		queued, err := l.Queue().Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("tracker: status of %s lane: %w", l.Name(), err)
		}
		next, pending := l.Scheduler().Pending()
		statuses = append(statuses, LaneStatus{
			Name:    l.Name(),
			State:   l.State(),
			Queued:  queued,
			Pending: pending,
			NextRun: next,
		})
	}
	return statuses, nil
}

// Close stops both lanes' timers and waits, bounded by ctx, for
// running drains and critical sends. Events still queued stay in
// their queues; a durable queue delivers them after the next start.
// Close does not close the queues. Later tracking is dropped.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	errs := []error{
		t.standard.Close(ctx),
		t.priority.Close(ctx),
	}

	finished := make(chan struct{})
	go func() {
		t.critical.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		t.cancel()
		<-finished
		errs = append(errs, fmt.Errorf("tracker: waiting for critical sends: %w", ctx.Err()))
	}
	t.cancel()
	return errors.Join(errs...)
}

func reportError(done func(error), err error) {
	if done != nil {
		done(err)
	}
}
