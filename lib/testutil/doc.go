// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Beacon packages.
//
// [RequireReceive] wraps the select with a wall-clock fallback so a
// broken test fails instead of hanging. Timers inside the code under
// test run on lib/clock's fake clock.
//
// [UniqueID] returns process-unique names, used where tests share a
// resource (one SQLite file with many lanes) and need disjoint keys.
package testutil
