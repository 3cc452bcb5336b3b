// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package emu

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-daq/readout/dlf"
	"github.com/go-daq/tdaq/log"
)

var testDesc = dlf.Desc{FrameSize: 64, FramesPerElement: 1, TickDiff: 1000}

func testMsg() log.MsgStream {
	return log.NewMsgStream("emu-test", log.LvlError, io.Discard)
}

type chanSink struct {
	c chan dlf.Element
}

func (s *chanSink) TrySend(el dlf.Element) bool {
	select {
	case s.c <- el:
		return true
	default:
		return false
	}
}

func dumpFile(t *testing.T, n int) string {
	t.Helper()
	fname := filepath.Join(t.TempDir(), "dump.raw")
	data := make([]byte, n*testDesc.ElementSize())
	for i := range data {
		data[i] = byte(i)
	}
	if err := os.WriteFile(fname, data, 0644); err != nil {
		t.Fatalf("could not write dump: %+v", err)
	}
	return fname
}

func TestFileSource(t *testing.T) {
	fname := dumpFile(t, 4)

	src := NewFileSource(1<<20, testDesc.ElementSize(), testMsg())
	err := src.Read(fname)
	if err != nil {
		t.Fatalf("could not read dump: %+v", err)
	}

	if got, want := src.NumElements(), 4; got != want {
		t.Fatalf("invalid element count: got=%d, want=%d", got, want)
	}
	if got, want := len(src.Bytes()), 4*testDesc.ElementSize(); got != want {
		t.Fatalf("invalid byte count: got=%d, want=%d", got, want)
	}

	// element access wraps around the dump.
	if got, want := src.Element(0)[0], src.Element(4)[0]; got != want {
		t.Fatalf("element access does not wrap: got=%d, want=%d", got, want)
	}
}

func TestFileSourceMissing(t *testing.T) {
	src := NewFileSource(1<<20, testDesc.ElementSize(), testMsg())
	err := src.Read(filepath.Join(t.TempDir(), "no-such-file"))
	if err == nil {
		t.Fatalf("missing file should fail")
	}
}

func TestEmulator(t *testing.T) {
	fname := dumpFile(t, 4)

	sink := &chanSink{c: make(chan dlf.Element, 256)}
	e := New(Config{
		SourceID:  5,
		RateKHz:   100,
		InputFile: fname,
		SizeLimit: 1 << 20,
		FirstTS:   1_000_000,
	}, testDesc, sink, testMsg())

	err := e.Conf()
	if err != nil {
		t.Fatalf("could not configure emulator: %+v", err)
	}
	if err := e.Conf(); err == nil {
		t.Fatalf("double conf should fail")
	}

	err = e.Start()
	if err != nil {
		t.Fatalf("could not start emulator: %+v", err)
	}

	var els []dlf.Element
	timeout := time.After(2 * time.Second)
	for len(els) < 10 {
		select {
		case el := <-sink.c:
			els = append(els, el)
		case <-timeout:
			t.Fatalf("emulator emitted %d frames, want 10", len(els))
		}
	}
	e.Stop()

	// timestamps are rewritten to a monotonic fake clock seeded on
	// run start.
	for i, el := range els {
		want := uint64(1_000_000) + uint64(i)*testDesc.Stride()
		if got := el.Timestamp(); got != want {
			t.Fatalf("frame %d: invalid timestamp: got=%d, want=%d", i, got, want)
		}
		if got, want := el.SourceID(), uint32(5); got != want {
			t.Fatalf("frame %d: invalid source id: got=%d, want=%d", i, got, want)
		}
	}

	if e.Sent() < 10 {
		t.Fatalf("invalid sent count: got=%d", e.Sent())
	}
}

func TestEmulatorDropsOnFullSink(t *testing.T) {
	fname := dumpFile(t, 2)

	sink := &chanSink{c: make(chan dlf.Element, 1)}
	e := New(Config{
		SourceID:  5,
		RateKHz:   1000,
		InputFile: fname,
		SizeLimit: 1 << 20,
	}, testDesc, sink, testMsg())

	if err := e.Conf(); err != nil {
		t.Fatalf("could not configure emulator: %+v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("could not start emulator: %+v", err)
	}

	time.Sleep(50 * time.Millisecond)
	e.Stop()

	if e.Dropped() == 0 {
		t.Fatalf("full sink did not drop frames")
	}
}

func TestEmulatorStartBeforeConf(t *testing.T) {
	e := New(Config{SourceID: 5, RateKHz: 1}, testDesc, &chanSink{c: make(chan dlf.Element)}, testMsg())
	if err := e.Start(); err == nil {
		t.Fatalf("start before conf should fail")
	}
}
