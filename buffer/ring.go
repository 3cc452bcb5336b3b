// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package buffer

import (
	"fmt"
	"sync/atomic"

	"github.com/go-daq/readout/dlf"
	"github.com/go-daq/readout/internal/mmap"
	"golang.org/x/sys/unix"
)

// Ring is a preallocated, contiguous, page-aligned latency buffer for
// a single fixed-rate producer. Writes are O(1); LowerBound is a
// binary search over the wrapped indices, or an O(1) analytic probe
// when the fixed-rate fast path is enabled.
type Ring struct {
	desc dlf.Desc
	mem  *mmap.Handle
	data []byte

	slots int // capacity + 1: one slot kept free to tell full from empty
	elsz  int
	fixed bool // fixed-rate analytic lower-bound

	rd atomic.Uint64
	wr atomic.Uint64
}

// NewRing allocates a ring of the given capacity. The storage is one
// anonymous page-aligned mapping so that zero-copy recording can use
// O_DIRECT writes out of it.
func NewRing(desc dlf.Desc, capacity int, fixedRate bool) (*Ring, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("buffer: invalid ring capacity %d", capacity)
	}
	elsz := desc.ElementSize()
	slots := capacity + 1
	mem, err := mmap.Alloc(slots * elsz)
	if err != nil {
		return nil, fmt.Errorf("buffer: could not allocate ring of %d elements: %w",
			capacity, err,
		)
	}
	return &Ring{
		desc:  desc,
		mem:   mem,
		data:  mem.Bytes()[:slots*elsz],
		slots: slots,
		elsz:  elsz,
		fixed: fixedRate,
	}, nil
}

func (r *Ring) slot(i int) dlf.Element {
	return dlf.Element(r.data[i*r.elsz : (i+1)*r.elsz])
}

func (r *Ring) ts(i int) uint64 { return r.slot(i).Timestamp() }

// Write copies el into the next slot. It reports false when the ring
// was full and the oldest element was overwritten.
func (r *Ring) Write(el dlf.Element) bool {
	wr := r.wr.Load()
	copy(r.slot(int(wr)), el)
	next := (wr + 1) % uint64(r.slots)

	ok := true
	for {
		rd := r.rd.Load()
		if next != rd {
			break
		}
		// full: retire the oldest element.
		if r.rd.CompareAndSwap(rd, (rd+1)%uint64(r.slots)) {
			ok = false
			break
		}
	}
	r.wr.Store(next)
	return ok
}

// Read copies the oldest element into dst and pops it.
func (r *Ring) Read(dst dlf.Element) bool {
	for {
		rd := r.rd.Load()
		if rd == r.wr.Load() {
			return false
		}
		copy(dst, r.slot(int(rd)))
		if r.rd.CompareAndSwap(rd, (rd+1)%uint64(r.slots)) {
			return true
		}
	}
}

// Pop drops the n oldest elements.
func (r *Ring) Pop(n int) {
	for i := 0; i < n; i++ {
		for {
			rd := r.rd.Load()
			if rd == r.wr.Load() {
				return
			}
			if r.rd.CompareAndSwap(rd, (rd+1)%uint64(r.slots)) {
				break
			}
		}
	}
}

// Flush drops every element.
func (r *Ring) Flush() { r.Pop(r.Occupancy()) }

// Occupancy returns the number of stored elements.
func (r *Ring) Occupancy() int {
	rd := r.rd.Load()
	wr := r.wr.Load()
	return int((wr + uint64(r.slots) - rd) % uint64(r.slots))
}

// Capacity returns the fixed element capacity.
func (r *Ring) Capacity() int { return r.slots - 1 }

// Front returns a view on the oldest element, nil when empty.
func (r *Ring) Front() dlf.Element {
	rd := r.rd.Load()
	if rd == r.wr.Load() {
		return nil
	}
	return r.slot(int(rd))
}

// Back returns a view on the newest element, nil when empty.
func (r *Ring) Back() dlf.Element {
	wr := r.wr.Load()
	if wr == r.rd.Load() {
		return nil
	}
	return r.slot(int((wr + uint64(r.slots) - 1) % uint64(r.slots)))
}

// LowerBound returns an iterator on the smallest element with
// timestamp >= key.
func (r *Ring) LowerBound(key uint64, withErrors bool) Iter {
	rd := int(r.rd.Load())
	wr := int(r.wr.Load())
	occ := (wr + r.slots - rd) % r.slots

	end := &ringIter{r: r, pos: wr, end: wr}
	if occ == 0 {
		return end
	}

	if key < r.ts(rd) {
		if withErrors {
			// tolerate missing frames: start at the oldest element.
			return &ringIter{r: r, pos: rd, end: wr}
		}
		return end
	}

	if r.fixed {
		if it, ok := r.fixedRateSeek(key, rd, occ, wr); ok {
			return it
		}
	}

	// binary search for the smallest position with ts >= key.
	lo, hi := 0, occ
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if r.ts((rd+mid)%r.slots) < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == occ {
		return end
	}
	return &ringIter{r: r, pos: (rd + lo) % r.slots, end: wr}
}

// fixedRateSeek estimates the index analytically from the nominal
// stride and verifies it with at most two probes.
func (r *Ring) fixedRateSeek(key uint64, rd, occ, wr int) (Iter, bool) {
	stride := r.desc.Stride()
	front := r.ts(rd)
	est := int((key - front + stride - 1) / stride)
	if est >= occ {
		if r.ts((rd+occ-1)%r.slots) < key {
			return &ringIter{r: r, pos: wr, end: wr}, true
		}
		return nil, false
	}
	pos := (rd + est) % r.slots
	if r.ts(pos) < key {
		return nil, false
	}
	if est > 0 && r.ts((rd+est-1)%r.slots) >= key {
		return nil, false
	}
	return &ringIter{r: r, pos: pos, end: wr}, true
}

// Alignment reports the page alignment of the storage region.
func (r *Ring) Alignment() int { return unix.Getpagesize() }

// Region exposes the contiguous storage region.
func (r *Ring) Region() []byte { return r.data }

// Close releases the storage.
func (r *Ring) Close() error {
	r.data = nil
	return r.mem.Close()
}

type ringIter struct {
	r   *Ring
	pos int
	end int
}

func (it *ringIter) Good() bool { return it.pos != it.end }

func (it *ringIter) Element() dlf.Element { return it.r.slot(it.pos) }

func (it *ringIter) Next() { it.pos = (it.pos + 1) % it.r.slots }

var _ Buffer = (*Ring)(nil)
