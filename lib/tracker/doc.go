// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tracker is the entry point applications use to record
// analytics events.
//
// A [Tracker] owns two lanes (see lib/lane): the standard lane for
// ordinary views and events, and the priority lane for events the
// application wants delivered ahead of the backlog. Each lane has its
// own queue and retry timer and drains independently; there is no
// ordering between lanes.
//
// Tracking never blocks on the network and never returns an error to
// the caller. An event is stamped with the tracker context (site,
// visitor, session, merged custom dimensions) and enqueued; when the
// user has opted out it is dropped before it reaches any queue. The
// lanes deliver queued events when their timers fire or when the
// application calls [Tracker.Dispatch] or [Tracker.DispatchNow].
//
// A tracker is created once at startup with [New] and torn down with
// [Tracker.Close]. Pass the handle to the code that tracks; there is
// no package-level instance.
package tracker
