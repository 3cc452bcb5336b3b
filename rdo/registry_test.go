// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rdo

import (
	"testing"
)

func TestErrorRegistry(t *testing.T) {
	reg := NewErrorRegistry()

	if reg.HasAnyError() {
		t.Fatalf("fresh registry should be empty")
	}

	reg.AddError(ErrMissingFrames, ErrorInterval{StartTS: 1000, EndTS: 2000})
	if !reg.HasError(ErrMissingFrames) {
		t.Fatalf("interval not recorded")
	}
	if reg.HasError("BAD_CRC") {
		t.Fatalf("unknown name reported as recorded")
	}

	// one active interval per name: the new one replaces the old.
	reg.AddError(ErrMissingFrames, ErrorInterval{StartTS: 5000, EndTS: 6000})

	reg.RemoveErrorsUntil(3000)
	if !reg.HasError(ErrMissingFrames) {
		t.Fatalf("replacement interval dropped too early")
	}

	reg.RemoveErrorsUntil(7000)
	if reg.HasAnyError() {
		t.Fatalf("stale interval not retired")
	}
}
