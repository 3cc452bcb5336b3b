// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dlf

import (
	"testing"
)

func TestDesc(t *testing.T) {
	if got, want := Default.ElementSize(), 12*464; got != want {
		t.Fatalf("invalid element size: got=%d, want=%d", got, want)
	}
	if got, want := Default.Stride(), uint64(12*32); got != want {
		t.Fatalf("invalid stride: got=%d, want=%d", got, want)
	}
}

func TestElement(t *testing.T) {
	desc := Desc{FrameSize: 32, FramesPerElement: 4, TickDiff: 25}

	el := desc.New(0x2a, 1000)
	if got, want := len(el), desc.ElementSize(); got != want {
		t.Fatalf("invalid element size: got=%d, want=%d", got, want)
	}
	if got, want := el.Magic(), uint16(Magic); got != want {
		t.Fatalf("invalid magic: got=0x%x, want=0x%x", got, want)
	}
	if got, want := el.Version(), uint8(Version); got != want {
		t.Fatalf("invalid version: got=%d, want=%d", got, want)
	}
	if got, want := el.SourceID(), uint32(0x2a); got != want {
		t.Fatalf("invalid source id: got=%d, want=%d", got, want)
	}
	if got, want := el.Timestamp(), uint64(1000); got != want {
		t.Fatalf("invalid timestamp: got=%d, want=%d", got, want)
	}
	if got, want := desc.NumFrames(el), 4; got != want {
		t.Fatalf("invalid num-frames: got=%d, want=%d", got, want)
	}

	for i := 0; i < desc.NumFrames(el); i++ {
		sub := desc.Frame(el, i)
		if got, want := sub.Timestamp(), 1000+uint64(i)*25; got != want {
			t.Fatalf("sub-frame %d: invalid timestamp: got=%d, want=%d",
				i, got, want,
			)
		}
	}

	el.SetTimestamp(2000)
	if got, want := el.Timestamp(), uint64(2000); got != want {
		t.Fatalf("invalid timestamp after set: got=%d, want=%d", got, want)
	}
	// only the first sub-frame is restamped by SetTimestamp.
	if got, want := desc.Frame(el, 1).Timestamp(), uint64(1025); got != want {
		t.Fatalf("invalid sub-frame 1 timestamp: got=%d, want=%d", got, want)
	}
}
