// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package emu replays raw frame dumps at a configured rate, emulating
// one detector link.
package emu // import "github.com/go-daq/readout/emu"

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-daq/readout/dlf"
	"github.com/go-daq/tdaq/log"
)

// TrySender is the non-blocking outbound side of the emulated link.
type TrySender interface {
	TrySend(el dlf.Element) bool
}

// Config holds the emulator parameters.
type Config struct {
	SourceID  uint32
	RateKHz   float64
	InputFile string
	SizeLimit int // reject above this many bytes
	FirstTS   uint64
}

// Emulator replays a binary dump as one link: each outgoing frame gets
// a fresh monotonic timestamp seeded on run start, emission is paced
// by the rate limiter, and a full downstream drops the frame.
type Emulator struct {
	cfg  Config
	desc dlf.Desc
	snd  TrySender
	msg  log.MsgStream

	src        *FileSource
	configured bool

	run atomic.Bool
	wg  sync.WaitGroup

	sent    atomic.Int64
	dropped atomic.Int64
}

// New builds an emulator for one link.
func New(cfg Config, desc dlf.Desc, snd TrySender, msg log.MsgStream) *Emulator {
	return &Emulator{
		cfg:  cfg,
		desc: desc,
		snd:  snd,
		msg:  msg,
		src:  NewFileSource(cfg.SizeLimit, desc.ElementSize(), msg),
	}
}

// Conf loads the input dump. Configuring twice is an error.
func (e *Emulator) Conf() error {
	if e.configured {
		return fmt.Errorf("emu: source %d: already configured", e.cfg.SourceID)
	}
	if e.cfg.RateKHz <= 0 {
		return fmt.Errorf("emu: source %d: invalid rate %v kHz", e.cfg.SourceID, e.cfg.RateKHz)
	}
	err := e.src.Read(e.cfg.InputFile)
	if err != nil {
		return fmt.Errorf("emu: source %d: %w", e.cfg.SourceID, err)
	}
	if e.src.NumElements() == 0 {
		return fmt.Errorf("emu: source %d: no usable elements in %q",
			e.cfg.SourceID, e.cfg.InputFile)
	}
	e.configured = true
	return nil
}

// Start spins up the replay goroutine.
func (e *Emulator) Start() error {
	if !e.configured {
		return fmt.Errorf("emu: source %d: start before conf", e.cfg.SourceID)
	}
	e.sent.Store(0)
	e.dropped.Store(0)
	e.run.Store(true)
	e.wg.Add(1)
	go e.loop()
	return nil
}

// Stop joins the replay goroutine.
func (e *Emulator) Stop() {
	e.run.Store(false)
	e.wg.Wait()
}

// Scrap drops the input buffer.
func (e *Emulator) Scrap() {
	e.src = NewFileSource(e.cfg.SizeLimit, e.desc.ElementSize(), e.msg)
	e.configured = false
}

// Sent returns the number of emitted frames.
func (e *Emulator) Sent() int64 { return e.sent.Load() }

// Dropped returns the number of frames dropped on a full downstream.
func (e *Emulator) Dropped() int64 { return e.dropped.Load() }

func (e *Emulator) loop() {
	defer e.wg.Done()
	e.msg.Debugf("emu: source %d: replay thread started...", e.cfg.SourceID)

	var (
		lim    = NewRateLimiter(e.cfg.RateKHz)
		ts     = e.cfg.FirstTS
		stride = e.desc.Stride()
	)

	for i := 0; e.run.Load(); i++ {
		// the downstream queue keeps a reference: hand over a copy.
		el := make(dlf.Element, e.desc.ElementSize())
		copy(el, e.src.Element(i))
		e.desc.Restamp(el, e.cfg.SourceID, ts)
		ts += stride

		if e.snd.TrySend(el) {
			e.sent.Add(1)
		} else {
			e.dropped.Add(1)
		}
		lim.Limit()
	}
	e.msg.Debugf("emu: source %d: replay thread joins...", e.cfg.SourceID)
}
