// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/beacon/lib/codec"
)

// FingerprintSize is the length of a Fingerprint in bytes.
const FingerprintSize = 32

// Fingerprint is the structural digest of an Event: the BLAKE3 hash
// of its deterministic CBOR encoding. Events with identical content
// (including the nanosecond CreatedAt) share a fingerprint, so it
// identifies content, not a queue entry. Queues index it to match
// events that carry no Seq.
type Fingerprint [FingerprintSize]byte

// String returns the fingerprint in hex.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Short returns the first 8 bytes in hex, for log lines.
func (f Fingerprint) Short() string {
	return hex.EncodeToString(f[:8])
}

// Encode returns the canonical CBOR encoding of e together with its
// fingerprint. The durable queue stores the encoding and indexes the
// fingerprint from a single marshal.
func Encode(e Event) ([]byte, Fingerprint, error) {
	data, err := codec.Marshal(e)
	if err != nil {
		return nil, Fingerprint{}, fmt.Errorf("event: encoding: %w", err)
	}
	return data, Fingerprint(blake3.Sum256(data)), nil
}

// Decode parses an encoding produced by Encode.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := codec.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("event: decoding: %w", err)
	}
	return e, nil
}

// FingerprintOf returns the fingerprint of e.
func FingerprintOf(e Event) (Fingerprint, error) {
	_, fingerprint, err := Encode(e)
	return fingerprint, err
}

// FingerprintCounts returns how many times each fingerprint occurs in
// events.
func FingerprintCounts(events []Event) (map[Fingerprint]int, error) {
	counts := make(map[Fingerprint]int, len(events))
	for _, e := range events {
		fingerprint, err := FingerprintOf(e)
		if err != nil {
			return nil, err
		}
		counts[fingerprint]++
	}
	return counts, nil
}
