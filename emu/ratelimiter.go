// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package emu

import (
	"sync/atomic"
	"time"
)

// RateLimiter paces a loop at a configured rate with absolute
// deadlines. It is meant for tasks shorter than one period: when the
// loop overshoots a deadline by more than the tolerance, the missed
// ticks are dropped rather than caught up on.
//
//	lim := emu.NewRateLimiter(1000) // 1 MHz
//	for running {
//		// do work
//		lim.Limit()
//	}
type RateLimiter struct {
	period       atomic.Int64 // ns
	maxOvershoot time.Duration
	deadline     time.Time
}

// NewRateLimiter builds a limiter at the given rate in kHz.
func NewRateLimiter(kilohertz float64) *RateLimiter {
	lim := &RateLimiter{maxOvershoot: 10 * time.Millisecond}
	lim.Adjust(kilohertz)
	lim.Init()
	return lim
}

// Init seeds the first deadline.
func (lim *RateLimiter) Init() {
	lim.deadline = time.Now().Add(time.Duration(lim.period.Load()))
}

// Adjust changes the rate, possibly from another goroutine.
func (lim *RateLimiter) Adjust(kilohertz float64) {
	lim.period.Store(int64(float64(time.Millisecond) / kilohertz))
}

// Limit sleeps until the current deadline, then arms the next one.
func (lim *RateLimiter) Limit() {
	now := time.Now()
	period := time.Duration(lim.period.Load())
	if now.After(lim.deadline.Add(lim.maxOvershoot)) {
		// too far behind: drop the missed ticks.
		lim.deadline = now.Add(period)
		return
	}
	if d := lim.deadline.Sub(now); d > 0 {
		time.Sleep(d)
		// absorb a short sleep: the deadline is absolute.
		for time.Now().Before(lim.deadline) {
		}
	}
	lim.deadline = lim.deadline.Add(period)
}
