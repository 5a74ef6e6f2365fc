// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/beacon/lib/compress"
	"github.com/bureau-foundation/beacon/lib/dispatch"
	"github.com/bureau-foundation/beacon/lib/netutil"
)

// collector accepts Matomo tracking requests: bulk JSON bodies on
// POST and single events as a GET query. Every failEvery-th tracking
// request is answered with failStatus instead.
type collector struct {
	logger     *slog.Logger
	failEvery  uint64
	failStatus int

	requests atomic.Uint64
	failed   atomic.Uint64
	events   atomic.Uint64

	mu      sync.Mutex
	visitor map[string]uint64
}

// stats is the body of GET /stats.
type stats struct {
	Requests uint64            `json:"requests"`
	Failed   uint64            `json:"failed"`
	Events   uint64            `json:"events"`
	Visitors map[string]uint64 `json:"visitors"`
}

func newCollector(logger *slog.Logger, failEvery uint64, failStatus int) *collector {
	return &collector{
		logger:     logger,
		failEvery:  failEvery,
		failStatus: failStatus,
		visitor:    make(map[string]uint64),
	}
}

func (c *collector) routes(trackingPath string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(trackingPath, c.handleTrack)
	mux.HandleFunc("GET /stats", c.handleStats)
	return mux
}

func (c *collector) handleTrack(w http.ResponseWriter, r *http.Request) {
	number := c.requests.Add(1)
	if c.failEvery > 0 && number%c.failEvery == 0 {
		c.failed.Add(1)
		c.logger.Warn("injecting failure", "request", number, "status", c.failStatus)
		netutil.DrainAndClose(r.Body)
		http.Error(w, "injected failure", c.failStatus)
		return
	}

	var queries []string
	switch r.Method {
	case http.MethodGet:
		queries = []string{r.URL.RawQuery}
	case http.MethodPost:
		bulk, err := readBulk(r)
		if err != nil {
			c.logger.Warn("rejected request", "request", number, "error", err)
			status := http.StatusBadRequest
			if errors.Is(err, netutil.ErrBodyTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			http.Error(w, err.Error(), status)
			return
		}
		queries = bulk.Requests
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	for _, query := range queries {
		values, err := url.ParseQuery(strings.TrimPrefix(query, "?"))
		if err != nil {
			c.logger.Warn("rejected request", "request", number, "error", err)
			http.Error(w, "malformed tracking query: "+err.Error(), http.StatusBadRequest)
			return
		}
		c.record(number, values)
	}
	w.WriteHeader(http.StatusNoContent)
}

func readBulk(r *http.Request) (dispatch.BulkRequest, error) {
	var bulk dispatch.BulkRequest
	body, err := netutil.ReadBody(r.Body, netutil.MaxRequestSize)
	if err != nil {
		return bulk, err
	}
	encoding, err := compress.ParseEncoding(r.Header.Get("Content-Encoding"))
	if err != nil {
		return bulk, err
	}
	if body, err = compress.DecodeBody(body, encoding); err != nil {
		return bulk, err
	}
	if err := json.Unmarshal(body, &bulk); err != nil {
		return bulk, err
	}
	return bulk, nil
}

func (c *collector) record(request uint64, values url.Values) {
	c.events.Add(1)
	visitor := values.Get("_id")
	c.mu.Lock()
	c.visitor[visitor]++
	c.mu.Unlock()

	c.logger.Info("event",
		"request", request,
		"site_id", values.Get("idsite"),
		"visitor_id", visitor,
		"action_name", values.Get("action_name"),
		"category", values.Get("e_c"),
		"action", values.Get("e_a"),
		"new_visit", values.Get("new_visit") == "1",
		"created", values.Get("cdt"),
	)
}

func (c *collector) snapshot() stats {
	c.mu.Lock()
	visitors := make(map[string]uint64, len(c.visitor))
	for id, count := range c.visitor {
		visitors[id] = count
	}
	c.mu.Unlock()
	return stats{
		Requests: c.requests.Load(),
		Failed:   c.failed.Load(),
		Events:   c.events.Load(),
		Visitors: visitors,
	}
}

func (c *collector) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(c.snapshot()); err != nil {
		c.logger.Error("writing stats failed", "error", err)
	}
}
