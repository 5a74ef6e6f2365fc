// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lane

import "sync/atomic"

// Token is a non-blocking mutual-exclusion token. The zero value is
// released.
type Token struct {
	held atomic.Bool
}

// TryAcquire takes the token if it is free and reports whether it did.
func (t *Token) TryAcquire() bool {
	return t.held.CompareAndSwap(false, true)
}

// Release frees the token. Releasing a free token panics: it means
// two parties believed they held it.
func (t *Token) Release() {
	if !t.held.CompareAndSwap(true, false) {
		panic("lane: release of a token that is not held")
	}
}

// Held reports whether the token is currently taken.
func (t *Token) Held() bool {
	return t.held.Load()
}

// State is the observable dispatch state of a lane.
type State int

const (
	// Idle means no drain or direct send is running.
	Idle State = iota
	// Dispatching means the lane's token is held.
	Dispatching
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dispatching:
		return "dispatching"
	default:
		return "unknown"
	}
}
