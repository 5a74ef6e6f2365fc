// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds the small HTTP and network helpers shared by
// the dispatcher and the mock collector.
//
// Every body read is bounded. The collector reads requests with
// ReadBody (MaxRequestSize), and the dispatcher turns error responses
// into short diagnostic strings with ErrorBody (MaxErrorBodySize).
// IsTransient classifies network errors for retry decisions.
package netutil

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxRequestSize bounds collector request bodies. A bulk request of
// a few hundred events is well under a megabyte even uncompressed.
const MaxRequestSize int64 = 8 << 20

// MaxErrorBodySize bounds how much of an error response ends up in an
// error message.
const MaxErrorBodySize int64 = 4 << 10

// ErrBodyTooLarge is returned by ReadBody when the body exceeds the
// limit.
var ErrBodyTooLarge = errors.New("netutil: body too large")

// ReadBody reads at most limit bytes from body. A body longer than
// limit is an ErrBodyTooLarge error, not a silent truncation.
func ReadBody(body io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("netutil: reading body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}
	return data, nil
}

// ErrorBody reads the first MaxErrorBodySize bytes of an HTTP error
// response for use in an error message. Read errors are ignored: a
// partial body is still a useful diagnostic.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxErrorBodySize))
	return strings.TrimSpace(string(data))
}

// DrainAndClose discards up to MaxErrorBodySize bytes of body and
// closes it, so the transport can reuse the connection.
func DrainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, MaxErrorBodySize))
	body.Close()
}
