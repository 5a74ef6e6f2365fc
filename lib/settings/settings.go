// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package settings persists the tracker state that must survive a
// restart: the opt-out choice, the visitor and user identifiers, and
// the visit bookkeeping.
//
// [File] stores the settings as one CBOR document replaced atomically
// on every Save. [Memory] keeps them in process, for tests and for
// trackers that must not touch disk.
package settings

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// VisitorIDLength is the number of hex characters in a visitor ID.
const VisitorIDLength = 16

// Settings is the persisted tracker state.
type Settings struct {
	OptedOut  bool   `cbor:"opted_out"`
	VisitorID string `cbor:"visitor_id"`
	UserID    string `cbor:"user_id,omitempty"`

	// FirstVisit is when the tracker first started on this install.
	FirstVisit time.Time `cbor:"first_visit"`
	// PreviousVisit is the start of the visit before CurrentVisit.
	PreviousVisit time.Time `cbor:"previous_visit"`
	// CurrentVisit is the start of the running visit.
	CurrentVisit time.Time `cbor:"current_visit"`
	// Visits counts visits including the current one.
	Visits int `cbor:"visits"`
}

// Store loads and saves Settings. Load on a store that has never been
// saved returns zero Settings and no error.
type Store interface {
	Load() (Settings, error)
	Save(Settings) error
}

// NewVisitorID returns a random visitor ID: the first
// VisitorIDLength hex digits of a version 4 UUID.
func NewVisitorID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:VisitorIDLength]
}

// Memory is a Store held in process memory. The zero value is empty
// and ready to use.
type Memory struct {
	mu       sync.Mutex
	settings Settings
	saves    int
}

var _ Store = (*Memory)(nil)

func (m *Memory) Load() (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings, nil
}

func (m *Memory) Save(s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
	m.saves++
	return nil
}

// Saves returns how many times Save was called.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
