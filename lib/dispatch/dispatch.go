// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch sends analytics events to the collector.
//
// A [Dispatcher] performs exactly one network round trip per call and
// never retries: retry policy belongs to the lane that owns the queue
// (see lib/lane). A nil error means the collector acknowledged every
// event in the call.
//
// [HTTP] speaks the Matomo bulk tracking format: a JSON object whose
// "requests" array holds one query string per event, produced by
// [Encoder]. [Logging] writes events to a logger and always succeeds,
// for development without a collector.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bureau-foundation/beacon/lib/event"
	"github.com/bureau-foundation/beacon/lib/netutil"
)

// Dispatcher delivers events to a collector. Implementations must be
// safe for concurrent use: the standard lane, the priority lane, and
// critical sends may call them at the same time.
type Dispatcher interface {
	// Send delivers batch in one request.
	Send(ctx context.Context, batch []event.Event) error

	// SendEvent delivers a single event in one request.
	SendEvent(ctx context.Context, e event.Event) error
}

// StatusError is returned when the collector answers with a non-2xx
// status.
type StatusError struct {
	StatusCode int
	// Body is a bounded excerpt of the response body.
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("dispatch: collector returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("dispatch: collector returned %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// IsRetryable reports whether sending the same events again later
// could succeed: transient network failures, 408, 429, and 5xx. Other
// statuses (400, 403, ...) mean the collector rejects the request as
// formed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	return netutil.IsTransient(err)
}
