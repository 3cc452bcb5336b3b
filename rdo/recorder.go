// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rdo

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-daq/readout/dlf"
	"github.com/go-daq/tdaq/log"
)

// Recorder is a standalone sink persisting every received frame to
// disk through the buffered writer. Its contract is the request
// handler's record side-call, as its own module.
type Recorder struct {
	cfg  RecordingConfig
	desc dlf.Desc
	recv Receiver
	msg  log.MsgStream

	w   *Writer
	enc *dlf.Encoder

	run atomic.Bool
	wg  sync.WaitGroup

	packets atomic.Int64
	bytes   atomic.Int64
}

// NewRecorder configures a recorder draining recv into the configured
// output file.
func NewRecorder(cfg RecordingConfig, desc dlf.Desc, recv Receiver, msg log.MsgStream) (*Recorder, error) {
	if cfg.OutputFile == "" {
		return nil, fmt.Errorf("rdo: recorder needs an output file")
	}
	w, err := NewWriter(cfg.OutputFile, cfg.StreamBufferSize, cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("rdo: could not configure recorder: %w", err)
	}
	return &Recorder{
		cfg:  cfg,
		desc: desc,
		recv: recv,
		msg:  msg,
		w:    w,
		enc:  dlf.NewEncoder(desc, w),
	}, nil
}

// Start spins up the recording goroutine.
func (rec *Recorder) Start() {
	rec.packets.Store(0)
	rec.bytes.Store(0)
	rec.run.Store(true)
	rec.wg.Add(1)
	go rec.work()
}

// Stop joins the recording goroutine and flushes the file.
func (rec *Recorder) Stop() {
	rec.run.Store(false)
	rec.wg.Wait()
	if err := rec.w.Flush(); err != nil {
		rec.msg.Warnf("rdo: could not flush %q: %+v", rec.w.Path(), err)
	}
}

// Scrap closes the output file.
func (rec *Recorder) Scrap() error { return rec.w.Close() }

// Packets returns the number of recorded frames.
func (rec *Recorder) Packets() int64 { return rec.packets.Load() }

// Bytes returns the number of recorded payload bytes.
func (rec *Recorder) Bytes() int64 { return rec.bytes.Load() }

func (rec *Recorder) work() {
	defer rec.wg.Done()
	for rec.run.Load() {
		el, ok := rec.recv.TryRecv(100 * time.Millisecond)
		if !ok {
			continue
		}
		if err := rec.enc.Encode(el); err != nil {
			rec.msg.Warnf("rdo: could not write to %q: %+v", rec.w.Path(), err)
			return
		}
		rec.packets.Add(1)
		rec.bytes.Add(int64(len(el)))
	}
}
