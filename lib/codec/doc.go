// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds Beacon's CBOR configuration.
//
// Beacon keeps two encodings apart. The collector speaks JSON and
// URL query strings (see lib/dispatch). Everything Beacon writes for
// itself is CBOR: queued event payloads in the SQLite queue, the
// persisted settings file, and the canonical bytes hashed by
// event.Fingerprint.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same value always produces the same bytes. Event fingerprints depend
// on this: an event decoded from the durable queue and re-encoded must
// hash to the fingerprint stored next to it.
//
// Struct tags follow the same rule as elsewhere in the tree: `cbor`
// tags for types only ever stored as CBOR, `json` tags for types that
// are also rendered as JSON (fxamacker/cbor falls back to them).
package codec
