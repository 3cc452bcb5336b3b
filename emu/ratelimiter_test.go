// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package emu

import (
	"testing"
	"time"
)

func TestRateLimiter(t *testing.T) {
	// 1 kHz: 20 ticks should take about 20 ms.
	lim := NewRateLimiter(1)

	start := time.Now()
	for i := 0; i < 20; i++ {
		lim.Limit()
	}
	elapsed := time.Since(start)

	if elapsed < 15*time.Millisecond {
		t.Fatalf("limiter too fast: 20 ticks in %v", elapsed)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("limiter too slow: 20 ticks in %v", elapsed)
	}
}

func TestRateLimiterDropsMissedTicks(t *testing.T) {
	lim := NewRateLimiter(1) // 1 ms period

	// a task far longer than the period plus the overshoot tolerance:
	// the limiter must re-arm instead of catching up.
	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	lim.Limit()
	if d := time.Since(start); d > 5*time.Millisecond {
		t.Fatalf("limiter caught up on missed ticks: %v", d)
	}

	// the next tick is paced normally again.
	start = time.Now()
	lim.Limit()
	if d := time.Since(start); d > 50*time.Millisecond {
		t.Fatalf("limiter did not re-arm: %v", d)
	}
}

func TestRateLimiterAdjust(t *testing.T) {
	lim := NewRateLimiter(0.1) // 10 ms period
	lim.Adjust(10)             // 0.1 ms period
	lim.Init()

	start := time.Now()
	for i := 0; i < 10; i++ {
		lim.Limit()
	}
	if d := time.Since(start); d > 100*time.Millisecond {
		t.Fatalf("adjusted limiter still at the old rate: %v", d)
	}
}
