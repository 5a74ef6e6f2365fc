// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import "fmt"

// Dimension is a custom dimension value. Index is the dimension's
// number as configured in the collector and must be positive.
type Dimension struct {
	Index int    `cbor:"index"`
	Value string `cbor:"value"`
}

// Validate reports an error for a non-positive index.
func (d Dimension) Validate() error {
	if d.Index <= 0 {
		return fmt.Errorf("event: dimension index must be positive, got %d", d.Index)
	}
	return nil
}

// Dimensions is an ordered list holding at most one Dimension per
// index. The zero value is an empty list ready to use. Dimensions is
// not safe for concurrent use; the tracker guards its own list.
type Dimensions struct {
	entries []Dimension
}

// Set stores d. When an entry with the same index exists its value is
// replaced in place, keeping the entry's position; otherwise d is
// appended.
func (ds *Dimensions) Set(d Dimension) {
	for i := range ds.entries {
		if ds.entries[i].Index == d.Index {
			ds.entries[i].Value = d.Value
			return
		}
	}
	ds.entries = append(ds.entries, d)
}

// Remove deletes the entry with the given index. Removing an absent
// index is a no-op.
func (ds *Dimensions) Remove(index int) {
	for i := range ds.entries {
		if ds.entries[i].Index == index {
			ds.entries = append(ds.entries[:i], ds.entries[i+1:]...)
			return
		}
	}
}

// Get returns the value stored for index.
func (ds *Dimensions) Get(index int) (string, bool) {
	for _, d := range ds.entries {
		if d.Index == index {
			return d.Value, true
		}
	}
	return "", false
}

// Len returns the number of entries.
func (ds *Dimensions) Len() int {
	return len(ds.entries)
}

// List returns a copy of the entries in order.
func (ds *Dimensions) List() []Dimension {
	if len(ds.entries) == 0 {
		return nil
	}
	return append([]Dimension(nil), ds.entries...)
}

// Merge returns base overlaid with overrides: an override replaces the
// base entry with the same index (at that entry's position), other
// overrides are appended in their own order. Neither input is
// modified.
func Merge(base, overrides []Dimension) []Dimension {
	var merged Dimensions
	for _, d := range base {
		merged.Set(d)
	}
	for _, d := range overrides {
		merged.Set(d)
	}
	return merged.List()
}
