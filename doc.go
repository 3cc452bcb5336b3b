// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// readout is a set of libraries and commands for per-link detector
// readout: latency buffering, time-windowed data requests, frame
// recording and link emulation.
package readout // import "github.com/go-daq/readout"
