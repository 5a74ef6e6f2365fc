// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import "github.com/bureau-foundation/beacon/lib/event"

// TrackOption refines an event built by TrackView or TrackEvent.
type TrackOption func(*event.Event)

// WithURL sets the event URL instead of deriving it from the content
// base and the view path.
func WithURL(url string) TrackOption {
	return func(e *event.Event) { e.URL = url }
}

// WithDimensions attaches per-event dimensions. They override the
// tracker-level dimension with the same index.
func WithDimensions(dimensions ...event.Dimension) TrackOption {
	return func(e *event.Event) { e.Dimensions = append(e.Dimensions, dimensions...) }
}

// WithName sets the interaction event name.
func WithName(name string) TrackOption {
	return func(e *event.Event) { e.Name = name }
}

// WithValue sets the interaction event value.
func WithValue(value float64) TrackOption {
	return func(e *event.Event) { e.Value = event.Float(value) }
}

// WithPath sets the view path of an interaction event, so the
// collector attributes it to a screen.
func WithPath(path ...string) TrackOption {
	return func(e *event.Event) { e.ActionPath = path }
}
