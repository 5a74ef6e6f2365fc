// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"math/rand/v2"
	"net/url"
	"strconv"
	"time"

	"github.com/bureau-foundation/beacon/lib/event"
)

// cdtLayout is the collector's custom-datetime format, always UTC.
const cdtLayout = "2006-01-02 15:04:05"

// Encoder turns events into collector query strings.
type Encoder struct {
	// Rand returns the cache-busting value sent as "rand". Nil uses
	// math/rand/v2. Tests inject a constant to get stable output.
	Rand func() uint32
}

// Query returns the query parameters for e.
//
// Parameters with empty values are omitted. Zero session timestamps
// (a tracker that never recorded a visit) are omitted rather than
// sent as the Unix epoch.
func (enc *Encoder) Query(e event.Event) url.Values {
	values := url.Values{}
	values.Set("idsite", e.SiteID)
	values.Set("rec", "1")
	values.Set("apiv", "1")
	setNonEmpty(values, "_id", e.VisitorID)
	setNonEmpty(values, "uid", e.UserID)
	setNonEmpty(values, "url", e.URL)
	setNonEmpty(values, "action_name", e.ActionName())

	if e.IsInteraction() {
		values.Set("e_c", e.Category)
		values.Set("e_a", e.Action)
		setNonEmpty(values, "e_n", e.Name)
		if e.Value != nil {
			values.Set("e_v", strconv.FormatFloat(*e.Value, 'f', -1, 64))
		}
	}

	if e.IsNewSession {
		values.Set("new_visit", "1")
	}
	if e.Session.Visits > 0 {
		values.Set("_idvc", strconv.Itoa(e.Session.Visits))
	}
	setUnix(values, "_idts", e.Session.FirstVisit)
	setUnix(values, "_viewts", e.Session.PreviousVisit)

	if !e.CreatedAt.IsZero() {
		values.Set("cdt", e.CreatedAt.UTC().Format(cdtLayout))
	}
	setNonEmpty(values, "lang", e.Language)
	setNonEmpty(values, "ua", e.UserAgent)

	for _, dimension := range e.Dimensions {
		values.Set("dimension"+strconv.Itoa(dimension.Index), dimension.Value)
	}

	values.Set("rand", strconv.FormatUint(uint64(enc.random()), 10))
	return values
}

// Encode returns e as a bulk request entry: "?" followed by the
// encoded query, keys sorted.
func (enc *Encoder) Encode(e event.Event) string {
	return "?" + enc.Query(e).Encode()
}

func (enc *Encoder) random() uint32 {
	if enc != nil && enc.Rand != nil {
		return enc.Rand()
	}
	return rand.Uint32()
}

func setNonEmpty(values url.Values, key, value string) {
	if value != "" {
		values.Set(key, value)
	}
}

func setUnix(values url.Values, key string, t time.Time) {
	if !t.IsZero() {
		values.Set(key, strconv.FormatInt(t.Unix(), 10))
	}
}
