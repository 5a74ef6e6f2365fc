// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/beacon/lib/compress"
	"github.com/bureau-foundation/beacon/lib/dispatch"
	"github.com/bureau-foundation/beacon/lib/event"
)

func startCollector(t *testing.T, failEvery uint64) (*collector, *httptest.Server) {
	t.Helper()
	c := newCollector(slog.New(slog.DiscardHandler), failEvery, http.StatusServiceUnavailable)
	server := httptest.NewServer(c.routes("/matomo.php"))
	t.Cleanup(server.Close)
	return c, server
}

func testEvents(n int) []event.Event {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := make([]event.Event, n)
	for i := range events {
		events[i] = event.Event{
			SiteID:     "5",
			VisitorID:  "0123456789abcdef",
			ActionPath: []string{"screen", fmt.Sprint(i)},
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}
	}
	return events
}

func newDispatcher(t *testing.T, server *httptest.Server, encoding compress.Encoding) *dispatch.HTTP {
	t.Helper()
	d, err := dispatch.NewHTTP(dispatch.HTTPConfig{
		Endpoint: server.URL + "/matomo.php",
		Encoding: encoding,
	})
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	return d
}

func TestAcceptsBulkRequestsInEveryEncoding(t *testing.T) {
	for _, encoding := range []compress.Encoding{compress.Identity, compress.Gzip, compress.ZstdBody} {
		t.Run(string(encoding), func(t *testing.T) {
			c, server := startCollector(t, 0)
			if err := newDispatcher(t, server, encoding).Send(context.Background(), testEvents(3)); err != nil {
				t.Fatalf("Send: %v", err)
			}
			snapshot := c.snapshot()
			if snapshot.Requests != 1 || snapshot.Events != 3 {
				t.Fatalf("stats = %+v, want 1 request with 3 events", snapshot)
			}
			if snapshot.Visitors["0123456789abcdef"] != 3 {
				t.Fatalf("visitors = %v", snapshot.Visitors)
			}
		})
	}
}

func TestAcceptsSingleGetRequest(t *testing.T) {
	c, server := startCollector(t, 0)
	response, err := http.Get(server.URL + "/matomo.php?idsite=5&rec=1&action_name=home&_id=fedcba9876543210")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", response.StatusCode)
	}
	if got := c.snapshot().Visitors["fedcba9876543210"]; got != 1 {
		t.Fatalf("visitor count = %d, want 1", got)
	}
}

func TestFailEveryInjectsFailures(t *testing.T) {
	c, server := startCollector(t, 2)
	d := newDispatcher(t, server, compress.Identity)
	events := testEvents(3)

	if err := d.Send(context.Background(), events[:1]); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	err := d.Send(context.Background(), events[1:2])
	var statusErr *dispatch.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("second Send = %v, want injected 503", err)
	}
	if !dispatch.IsRetryable(err) {
		t.Fatal("injected failure is not retryable")
	}
	if err := d.Send(context.Background(), events[2:]); err != nil {
		t.Fatalf("third Send: %v", err)
	}

	snapshot := c.snapshot()
	if snapshot.Requests != 3 || snapshot.Failed != 1 || snapshot.Events != 2 {
		t.Fatalf("stats = %+v", snapshot)
	}
}

func TestRejectsMalformedRequests(t *testing.T) {
	_, server := startCollector(t, 0)
	tests := []struct {
		name     string
		method   string
		body     string
		encoding string
		want     int
	}{
		{"malformed JSON", http.MethodPost, `{"requests": [`, "", http.StatusBadRequest},
		{"unsupported encoding", http.MethodPost, `{"requests": []}`, "br", http.StatusBadRequest},
		{"corrupt gzip", http.MethodPost, "not gzip", "gzip", http.StatusBadRequest},
		{"bad query", http.MethodPost, `{"requests": ["?a=%zz"]}`, "", http.StatusBadRequest},
		{"wrong method", http.MethodPut, "", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request, err := http.NewRequest(tt.method, server.URL+"/matomo.php", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("NewRequest: %v", err)
			}
			if tt.encoding != "" {
				request.Header.Set("Content-Encoding", tt.encoding)
			}
			response, err := http.DefaultClient.Do(request)
			if err != nil {
				t.Fatalf("Do: %v", err)
			}
			response.Body.Close()
			if response.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", response.StatusCode, tt.want)
			}
		})
	}
}

func TestStatsEndpoint(t *testing.T) {
	_, server := startCollector(t, 0)
	if err := newDispatcher(t, server, compress.Identity).Send(context.Background(), testEvents(2)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	response, err := http.Get(server.URL + "/stats")
	if err != nil {
		t.Fatalf("GET /stats: %v", err)
	}
	defer response.Body.Close()
	var snapshot stats
	if err := json.NewDecoder(response.Body).Decode(&snapshot); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if snapshot.Events != 2 || snapshot.Requests != 1 {
		t.Fatalf("stats = %+v", snapshot)
	}
}
