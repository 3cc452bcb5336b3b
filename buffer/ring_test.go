// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package buffer

import (
	"testing"

	"github.com/go-daq/readout/dlf"
)

var testDesc = dlf.Desc{FrameSize: 64, FramesPerElement: 1, TickDiff: 1000}

func fillRing(t *testing.T, r *Ring, ts ...uint64) {
	t.Helper()
	for _, v := range ts {
		r.Write(testDesc.New(1, v))
	}
}

func iterTimestamps(it Iter, max int) []uint64 {
	var out []uint64
	for ; it.Good() && len(out) < max; it.Next() {
		out = append(out, it.Element().Timestamp())
	}
	return out
}

func TestRingWriteRead(t *testing.T) {
	r, err := NewRing(testDesc, 10, false)
	if err != nil {
		t.Fatalf("could not create ring: %+v", err)
	}
	defer r.Close()

	if got, want := r.Capacity(), 10; got != want {
		t.Fatalf("invalid capacity: got=%d, want=%d", got, want)
	}
	if r.Front() != nil || r.Back() != nil {
		t.Fatalf("empty ring should have nil front/back")
	}

	for i := 0; i < 10; i++ {
		if !r.Write(testDesc.New(1, uint64(i)*1000)) {
			t.Fatalf("write %d reported an overwrite on a non-full ring", i)
		}
	}
	if got, want := r.Occupancy(), 10; got != want {
		t.Fatalf("invalid occupancy: got=%d, want=%d", got, want)
	}
	if got, want := r.Front().Timestamp(), uint64(0); got != want {
		t.Fatalf("invalid front: got=%d, want=%d", got, want)
	}
	if got, want := r.Back().Timestamp(), uint64(9000); got != want {
		t.Fatalf("invalid back: got=%d, want=%d", got, want)
	}

	// full: the next write must overwrite the oldest and report it.
	if r.Write(testDesc.New(1, 10000)) {
		t.Fatalf("write on a full ring did not report the overwrite")
	}
	if got, want := r.Occupancy(), 10; got != want {
		t.Fatalf("invalid occupancy after overwrite: got=%d, want=%d", got, want)
	}
	if got, want := r.Front().Timestamp(), uint64(1000); got != want {
		t.Fatalf("invalid front after overwrite: got=%d, want=%d", got, want)
	}

	dst := make(dlf.Element, testDesc.ElementSize())
	if !r.Read(dst) {
		t.Fatalf("could not read front element")
	}
	if got, want := dst.Timestamp(), uint64(1000); got != want {
		t.Fatalf("invalid read element: got=%d, want=%d", got, want)
	}
	if got, want := r.Occupancy(), 9; got != want {
		t.Fatalf("invalid occupancy after read: got=%d, want=%d", got, want)
	}

	r.Pop(3)
	if got, want := r.Front().Timestamp(), uint64(5000); got != want {
		t.Fatalf("invalid front after pop: got=%d, want=%d", got, want)
	}

	r.Flush()
	if got, want := r.Occupancy(), 0; got != want {
		t.Fatalf("invalid occupancy after flush: got=%d, want=%d", got, want)
	}
	if r.Read(dst) {
		t.Fatalf("read on an empty ring should fail")
	}
}

func TestRingLowerBound(t *testing.T) {
	for _, fixed := range []bool{false, true} {
		name := "binary-search"
		if fixed {
			name = "fixed-rate"
		}
		t.Run(name, func(t *testing.T) {
			r, err := NewRing(testDesc, 10, fixed)
			if err != nil {
				t.Fatalf("could not create ring: %+v", err)
			}
			defer r.Close()

			// empty buffer: end.
			if it := r.LowerBound(0, false); it.Good() {
				t.Fatalf("lower-bound on empty ring should be exhausted")
			}

			fillRing(t, r, 0, 1000, 2000, 3000, 4000, 5000, 6000, 7000, 8000, 9000)

			for _, tc := range []struct {
				key  uint64
				want uint64
				ok   bool
			}{
				{key: 0, want: 0, ok: true},
				{key: 1, want: 1000, ok: true},
				{key: 2000, want: 2000, ok: true},
				{key: 2500, want: 3000, ok: true},
				{key: 9000, want: 9000, ok: true},
				{key: 9001, ok: false},
				{key: 20000, ok: false},
			} {
				it := r.LowerBound(tc.key, false)
				if got, want := it.Good(), tc.ok; got != want {
					t.Fatalf("key=%d: invalid state: got=%v, want=%v", tc.key, got, want)
				}
				if tc.ok {
					if got, want := it.Element().Timestamp(), tc.want; got != want {
						t.Fatalf("key=%d: invalid element: got=%d, want=%d", tc.key, got, want)
					}
				}
			}

			// lookup idempotence.
			it1 := iterTimestamps(r.LowerBound(2500, false), 3)
			it2 := iterTimestamps(r.LowerBound(2500, false), 3)
			for i := range it1 {
				if it1[i] != it2[i] {
					t.Fatalf("lower-bound not idempotent: %v vs %v", it1, it2)
				}
			}
		})
	}
}

func TestRingLowerBoundBeforeFront(t *testing.T) {
	r, err := NewRing(testDesc, 10, false)
	if err != nil {
		t.Fatalf("could not create ring: %+v", err)
	}
	defer r.Close()

	fillRing(t, r, 5000, 6000, 7000)

	// key before the front: end without errors, begin with them.
	if it := r.LowerBound(1000, false); it.Good() {
		t.Fatalf("lower-bound before front should be exhausted without errors")
	}
	it := r.LowerBound(1000, true)
	if !it.Good() {
		t.Fatalf("lower-bound before front with errors should start at front")
	}
	if got, want := it.Element().Timestamp(), uint64(5000); got != want {
		t.Fatalf("invalid element: got=%d, want=%d", got, want)
	}
}

func TestRingLowerBoundAfterWrap(t *testing.T) {
	r, err := NewRing(testDesc, 10, false)
	if err != nil {
		t.Fatalf("could not create ring: %+v", err)
	}
	defer r.Close()

	// 25 writes on a ring of capacity 10: front is at 15000.
	for i := 0; i < 25; i++ {
		r.Write(testDesc.New(1, uint64(i)*1000))
	}
	if got, want := r.Front().Timestamp(), uint64(15000); got != want {
		t.Fatalf("invalid front after wrap: got=%d, want=%d", got, want)
	}

	got := iterTimestamps(r.LowerBound(17500, false), 100)
	want := []uint64{18000, 19000, 20000, 21000, 22000, 23000, 24000}
	if len(got) != len(want) {
		t.Fatalf("invalid walk after wrap: got=%v, want=%v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("invalid walk after wrap: got=%v, want=%v", got, want)
		}
	}
}

func TestRingFixedRateSkips(t *testing.T) {
	// across missing frames, the fixed-rate lookup must still land on
	// the next available element.
	r, err := NewRing(testDesc, 10, true)
	if err != nil {
		t.Fatalf("could not create ring: %+v", err)
	}
	defer r.Close()

	fillRing(t, r, 0, 1000, 5000, 6000, 7000, 8000, 9000, 10000, 11000, 12000)

	it := r.LowerBound(2000, true)
	if !it.Good() {
		t.Fatalf("lower-bound across a gap should find the next element")
	}
	if got, want := it.Element().Timestamp(), uint64(5000); got != want {
		t.Fatalf("invalid element across gap: got=%d, want=%d", got, want)
	}
}
