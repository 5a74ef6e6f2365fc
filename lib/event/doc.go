// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package event defines the analytics event record that flows from
// the tracker through the queues to the dispatcher, the custom
// dimension list with its replace-in-place semantics, and the
// structural fingerprint queues use to remove delivered events.
package event
