// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package buffer provides the timestamp-ordered latency buffers that
// per-link readout pipelines store their frames in.
//
// Two variants implement the same contract: Ring, a preallocated
// contiguous array ring for fixed-rate in-order producers, and Tree,
// an ordered tree for out-of-order producers.
package buffer // import "github.com/go-daq/readout/buffer"

import (
	"github.com/go-daq/readout/dlf"
)

// Buffer is the latency-buffer contract shared by all variants.
//
// One producer writes; request handlers and the cleanup thread read
// and pop. Element views returned by Front, Back and iterators alias
// buffer-owned memory: they are valid until the producer wraps past
// them, and consumers must not hold them across a cleanup.
type Buffer interface {
	// Write stores el. It reports false when the oldest element had
	// to be overwritten (ring) or dropped to make room (tree at
	// capacity).
	Write(el dlf.Element) bool

	// Read copies the oldest element into dst and pops it.
	Read(dst dlf.Element) bool

	// Pop drops the n oldest elements.
	Pop(n int)

	// Flush drops every element.
	Flush()

	Occupancy() int
	Capacity() int

	// Front returns a view on the oldest element, nil when empty.
	Front() dlf.Element
	// Back returns a view on the newest element, nil when empty.
	Back() dlf.Element

	// LowerBound returns an iterator on the smallest element with
	// timestamp >= ts, or an exhausted iterator if there is none.
	// When ts precedes the whole buffer the iterator starts at the
	// front iff withErrors is set.
	LowerBound(ts uint64, withErrors bool) Iter

	// Alignment reports the alignment of the underlying storage in
	// bytes, 0 when the storage is not contiguous.
	Alignment() int

	// Region exposes the contiguous storage region, nil when the
	// variant is not contiguous.
	Region() []byte

	// Close releases the storage.
	Close() error
}

// Iter walks a buffer in timestamp order.
type Iter interface {
	// Good reports whether the iterator points at an element.
	Good() bool
	// Element returns a view on the current element.
	Element() dlf.Element
	// Next advances to the following element.
	Next()
}
