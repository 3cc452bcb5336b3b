// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rdo implements the per-link data-handling pipeline of a
// detector readout: a consumer feeding a timestamp-ordered latency
// buffer, a raw processor with a pre-process pipeline and parallel
// post-process fanout, a request handler answering time-windowed data
// requests with zero-copy fragments, and a time-sync generator
// advertising the freshest DAQ timestamp.
//
// The pipeline survives every degraded condition (missing frames, full
// queues, timed-out requests, empty buffers) by answering with partial
// or empty fragments: the trigger and dataflow plane is never blocked
// on one link.
package rdo // import "github.com/go-daq/readout/rdo"
