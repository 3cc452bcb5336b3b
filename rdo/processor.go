// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rdo

import (
	"sync/atomic"

	"github.com/go-daq/readout/dlf"
	"github.com/go-daq/tdaq/log"
	"go-hep.org/x/hep/hbook"
	"golang.org/x/sync/errgroup"
)

// PreProcessor is a per-frame function run synchronously on the
// consumer goroutine before insertion into the latency buffer. Its
// cost eats directly into the inter-frame interval.
type PreProcessor func(el dlf.Element)

// PostProcessor is a per-frame analysis function run on its own
// worker, fed through a bounded queue.
type PostProcessor func(el dlf.Element)

type postTask struct {
	fn   PostProcessor
	q    chan dlf.Element
	done chan struct{}
}

// Processor runs the pre-process pipeline and the parallel
// post-process fanout of one link.
type Processor struct {
	desc    dlf.Desc
	reg     *ErrorRegistry
	enabled bool
	msg     log.MsgStream

	pre  []PreProcessor
	post []*postTask

	run     atomic.Bool
	grp     *errgroup.Group
	lastDAQ atomic.Uint64
	dropped atomic.Int64
}

// NewProcessor builds a processor bound to the link's error registry.
// Post-processing can be disabled wholesale while keeping the
// pre-process pipeline.
func NewProcessor(desc dlf.Desc, reg *ErrorRegistry, postEnabled bool, msg log.MsgStream) *Processor {
	return &Processor{
		desc:    desc,
		reg:     reg,
		enabled: postEnabled,
		msg:     msg,
	}
}

// AddPreProcess appends fn to the pre-process pipeline. Registration
// happens at configure time only.
func (p *Processor) AddPreProcess(fn PreProcessor) {
	p.pre = append(p.pre, fn)
}

// AddPostProcess registers fn with its own bounded queue of qsize
// pointers and one worker. Registration happens at configure time
// only.
func (p *Processor) AddPostProcess(fn PostProcessor, qsize int) {
	p.post = append(p.post, &postTask{
		fn:   fn,
		q:    make(chan dlf.Element, qsize),
		done: make(chan struct{}),
	})
}

// Preprocess runs the pipeline on el.
func (p *Processor) Preprocess(el dlf.Element) {
	for _, fn := range p.pre {
		fn(el)
	}
}

// Postprocess hands el to every post-process queue. A full queue drops
// the element for that task and counts it: post-processing never
// blocks the consumer.
func (p *Processor) Postprocess(el dlf.Element) {
	if el == nil {
		return
	}
	p.lastDAQ.Store(el.Timestamp())
	if !p.enabled || !p.run.Load() {
		return
	}
	for _, task := range p.post {
		select {
		case task.q <- el:
		default:
			if p.dropped.Add(1)%1000 == 1 {
				p.msg.Warnf("rdo: post-processing not keeping up, dropping frames")
			}
		}
	}
}

// LastDAQTime returns the timestamp of the most recently
// post-processed frame.
func (p *Processor) LastDAQTime() uint64 { return p.lastDAQ.Load() }

// ResetLastDAQTime clears the last known DAQ timestamp.
func (p *Processor) ResetLastDAQTime() { p.lastDAQ.Store(0) }

// Dropped returns the number of frames dropped on full post-process
// queues.
func (p *Processor) Dropped() int64 { return p.dropped.Load() }

// Start spins up the post-process workers.
func (p *Processor) Start() {
	p.dropped.Store(0)
	p.run.Store(true)
	p.grp = new(errgroup.Group)
	if !p.enabled {
		return
	}
	for _, task := range p.post {
		task := task
		p.grp.Go(func() error {
			for {
				select {
				case el := <-task.q:
					task.fn(el)
				case <-task.done:
					// drain whatever is queued, then exit.
					for {
						select {
						case el := <-task.q:
							task.fn(el)
						default:
							return nil
						}
					}
				}
			}
		})
	}
}

// Stop drains and joins the post-process workers.
func (p *Processor) Stop() {
	p.run.Store(false)
	for _, task := range p.post {
		close(task.done)
	}
	_ = p.grp.Wait()
	for _, task := range p.post {
		task.done = make(chan struct{})
	}
}

// MonotonicityCheck returns a pre-processor that watches the link's
// timestamps: gaps are recorded as a MISSING_FRAMES interval in reg so
// that window lookups widen their search.
func MonotonicityCheck(desc dlf.Desc, reg *ErrorRegistry, msg log.MsgStream) PreProcessor {
	var last uint64
	stride := desc.Stride()
	return func(el dlf.Element) {
		ts := el.Timestamp()
		if last != 0 {
			switch {
			case ts <= last:
				msg.Warnf("rdo: non-monotonic timestamp: %d after %d", ts, last)
			case ts > last+stride:
				reg.AddError(ErrMissingFrames, ErrorInterval{
					StartTS: last + stride,
					EndTS:   ts,
				})
			}
		}
		last = ts
	}
}

// GapHistogram returns a post-processor filling a histogram of
// timestamp gaps between consecutive frames, in units of the nominal
// stride, along with the histogram it fills. The histogram must only
// be read after the processor stopped.
func GapHistogram(desc dlf.Desc) (PostProcessor, *hbook.H1D) {
	h := hbook.NewH1D(100, 0, 10)
	var last uint64
	stride := float64(desc.Stride())
	fn := func(el dlf.Element) {
		ts := el.Timestamp()
		if last != 0 && ts > last {
			h.Fill(float64(ts-last)/stride, 1)
		}
		last = ts
	}
	return fn, h
}
