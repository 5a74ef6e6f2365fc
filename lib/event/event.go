// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"strings"
	"time"
)

// Event is one analytics record: a screen view, an interaction event,
// or both. Events are values; once created by the tracker they are
// never mutated, and queues identify them by content (see
// Fingerprint).
type Event struct {
	// SiteID identifies the site or app in the collector.
	SiteID string `cbor:"site_id"`

	// VisitorID is the 16 hex character visitor identifier persisted
	// by the tracker.
	VisitorID string `cbor:"visitor_id"`

	// UserID is the optional application-level user identifier.
	UserID string `cbor:"user_id,omitempty"`

	// IsNewSession marks the first event of a visit.
	IsNewSession bool `cbor:"new_session,omitempty"`

	// Session carries the visit bookkeeping at the time the event was
	// created.
	Session Session `cbor:"session"`

	// ActionPath is the ordered view path, e.g. ["settings", "privacy"].
	ActionPath []string `cbor:"action_path,omitempty"`

	// URL is the page or screen URL. The tracker derives it from the
	// content base and ActionPath when the caller leaves it empty.
	URL string `cbor:"url,omitempty"`

	// Category, Action, Name, and Value describe an interaction event.
	// Category and Action are set together; Name and Value are
	// optional refinements.
	Category string   `cbor:"category,omitempty"`
	Action   string   `cbor:"action,omitempty"`
	Name     string   `cbor:"name,omitempty"`
	Value    *float64 `cbor:"value,omitempty"`

	// Dimensions are the custom dimensions attached to this event,
	// already merged with the tracker-level dimensions.
	Dimensions []Dimension `cbor:"dimensions,omitempty"`

	// Language is the client's preferred language tag.
	Language string `cbor:"language,omitempty"`

	// UserAgent is reported to the collector for device detection.
	UserAgent string `cbor:"user_agent,omitempty"`

	// CreatedAt is when the tracker created the event. The collector
	// uses it to backdate events that were queued while offline.
	CreatedAt time.Time `cbor:"created_at"`

	// Seq is the queue position of an event returned by FirstN. Remove
	// matches on it, so content-identical events are removed one for
	// one. Zero for events that were not read from a queue. Seq is not
	// encoded and is not part of the Fingerprint.
	Seq uint64 `cbor:"-"`
}

// Session is the visit bookkeeping stamped on every event.
type Session struct {
	FirstVisit    time.Time `cbor:"first_visit"`
	PreviousVisit time.Time `cbor:"previous_visit"`
	CurrentVisit  time.Time `cbor:"current_visit"`
	Visits        int       `cbor:"visits"`
}

// ActionName returns the collector's action name for the view path.
func (e Event) ActionName() string {
	return strings.Join(e.ActionPath, " / ")
}

// IsInteraction reports whether the event carries category and action,
// i.e. it is an interaction event rather than a plain view.
func (e Event) IsInteraction() bool {
	return e.Category != "" && e.Action != ""
}

// Float returns a pointer to v, for Event.Value literals.
func Float(v float64) *float64 {
	return &v
}
