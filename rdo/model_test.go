// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rdo

import (
	"testing"
	"time"

	"github.com/go-daq/readout/buffer"
	"github.com/go-daq/readout/dlf"
)

type modelHarness struct {
	buf  *buffer.Ring
	frag *FragmentQueue
	ts   *TimeSyncQueue
	raw  *ElementQueue
	m    *Model
}

func newModelHarness(t *testing.T, cfg ModelConfig) *modelHarness {
	t.Helper()

	buf, err := buffer.NewRing(testDesc, 64, false)
	if err != nil {
		t.Fatalf("could not create ring: %+v", err)
	}

	var (
		reg  = NewErrorRegistry()
		frag = NewFragmentQueue(16, time.Second)
		tsq  = NewTimeSyncQueue(16)
		raw  = NewElementQueue(64)
		msg  = testMsg()
	)

	proc := NewProcessor(testDesc, reg, true, msg)
	h, err := NewHandler(HandlerConfig{
		SourceID:    cfg.SourceID,
		PopLimitPct: 0.8, PopSizePct: 0.5,
		NumThreads:     2,
		RequestTimeout: time.Second,
	}, testDesc, buf, reg, frag, msg)
	if err != nil {
		t.Fatalf("could not create handler: %+v", err)
	}

	m, err := NewModel(cfg, testDesc, buf, proc, h, raw, tsq, msg)
	if err != nil {
		t.Fatalf("could not create model: %+v", err)
	}
	if err := m.Conf(); err != nil {
		t.Fatalf("could not configure model: %+v", err)
	}
	t.Cleanup(func() { _ = m.Scrap() })

	return &modelHarness{buf: buf, frag: frag, ts: tsq, raw: raw, m: m}
}

func TestModelPullPipeline(t *testing.T) {
	sid := SourceID{Subsystem: dlf.Subsystem, ID: 7}
	mh := newModelHarness(t, ModelConfig{
		SourceID:         sid,
		RawEndpoint:      "raw_7",
		RawTimeout:       10 * time.Millisecond,
		GenerateTimeSync: true,
	})

	if err := mh.m.Start(12); err != nil {
		t.Fatalf("could not start model: %+v", err)
	}

	for i := 0; i < 10; i++ {
		mh.raw.TrySend(testDesc.New(7, uint64(i)*1000))
	}

	// wait for the consumer to drain the queue.
	deadline := time.Now().Add(2 * time.Second)
	for mh.buf.Occupancy() < 10 {
		if time.Now().After(deadline) {
			t.Fatalf("consumer did not ingest the frames")
		}
		time.Sleep(time.Millisecond)
	}

	err := mh.m.DispatchRequest(DataRequest{
		TriggerNumber: 1,
		RunNumber:     12,
		Info: RequestInfo{
			Component:   sid,
			WindowBegin: 2000,
			WindowEnd:   5000,
		},
		Destination: "fragments",
	})
	if err != nil {
		t.Fatalf("could not dispatch request: %+v", err)
	}

	frag, ok := mh.frag.Recv(2 * time.Second)
	if !ok {
		t.Fatalf("no fragment for dispatched request")
	}
	if got, want := frag.Hdr.RunNumber, uint32(12); got != want {
		t.Fatalf("invalid run number: got=%d, want=%d", got, want)
	}
	if got, want := frag.PayloadSize(), 3*testDesc.ElementSize(); got != want {
		t.Fatalf("invalid payload size: got=%d, want=%d", got, want)
	}

	// time-sync beacons carry strictly increasing non-zero daq times.
	ts1, ok := mh.ts.Recv(2 * time.Second)
	if !ok {
		t.Fatalf("no time-sync beacon")
	}
	if ts1.DAQTime == 0 {
		t.Fatalf("time-sync with zero daq time")
	}
	if got, want := ts1.RunNumber, uint32(12); got != want {
		t.Fatalf("invalid time-sync run number: got=%d, want=%d", got, want)
	}

	mh.raw.TrySend(testDesc.New(7, 50_000))
	ts2, ok := mh.ts.Recv(2 * time.Second)
	if !ok {
		t.Fatalf("no second time-sync beacon")
	}
	if ts2.DAQTime <= ts1.DAQTime {
		t.Fatalf("time-sync daq times not increasing: %d then %d", ts1.DAQTime, ts2.DAQTime)
	}
	if ts2.SeqNumber <= ts1.SeqNumber {
		t.Fatalf("time-sync sequence numbers not increasing")
	}

	mh.m.Stop()

	if got, want := mh.buf.Occupancy(), 0; got != want {
		t.Fatalf("buffer not flushed on stop: occupancy=%d", got)
	}
	if got := mh.m.Stats().SumPayloads; got != 11 {
		t.Fatalf("invalid payload count: got=%d, want=11", got)
	}
}

func TestModelSourceIDMismatch(t *testing.T) {
	sid := SourceID{Subsystem: dlf.Subsystem, ID: 7}
	mh := newModelHarness(t, ModelConfig{
		SourceID:    sid,
		RawEndpoint: "raw_7",
		RawTimeout:  10 * time.Millisecond,
	})

	if err := mh.m.Start(1); err != nil {
		t.Fatalf("could not start model: %+v", err)
	}
	defer mh.m.Stop()

	err := mh.m.DispatchRequest(DataRequest{
		Info: RequestInfo{
			Component:   SourceID{Subsystem: dlf.Subsystem, ID: 8},
			WindowBegin: 0,
			WindowEnd:   1000,
		},
		Destination: "fragments",
	})
	if err == nil {
		t.Fatalf("mismatched source-id should be rejected")
	}

	// the request was dropped: no fragment.
	if _, ok := mh.frag.Recv(100 * time.Millisecond); ok {
		t.Fatalf("mismatched request produced a fragment")
	}
}

func TestModelPushMode(t *testing.T) {
	sid := SourceID{Subsystem: dlf.Subsystem, ID: 9}
	mh := newModelHarness(t, ModelConfig{
		SourceID:    sid,
		RawEndpoint: "cb_raw_9",
	})

	// conf bound the consumer in the callback registry.
	consume, ok := Callback("cb_raw_9")
	if !ok {
		t.Fatalf("push-mode consumer not registered")
	}

	if err := mh.m.Start(3); err != nil {
		t.Fatalf("could not start model: %+v", err)
	}

	for i := 0; i < 5; i++ {
		consume(testDesc.New(9, uint64(i)*1000))
	}

	if got, want := mh.buf.Occupancy(), 5; got != want {
		t.Fatalf("push path did not fill the buffer: got=%d, want=%d", got, want)
	}

	mh.m.Stop()

	// scrap unbinds the endpoint.
	if err := mh.m.Scrap(); err != nil {
		t.Fatalf("could not scrap model: %+v", err)
	}
	if _, ok := Callback("cb_raw_9"); ok {
		t.Fatalf("scrap left the consumer registered")
	}
}

func TestModelDelayedPostProcessing(t *testing.T) {
	sid := SourceID{Subsystem: dlf.Subsystem, ID: 11}

	buf, err := buffer.NewTree(testDesc, 64)
	if err != nil {
		t.Fatalf("could not create tree: %+v", err)
	}

	var (
		reg  = NewErrorRegistry()
		frag = NewFragmentQueue(4, time.Second)
		raw  = NewElementQueue(64)
		msg  = testMsg()
		seen = make(chan uint64, 64)
	)

	proc := NewProcessor(testDesc, reg, true, msg)
	proc.AddPostProcess(func(el dlf.Element) { seen <- el.Timestamp() }, 64)

	h, err := NewHandler(HandlerConfig{
		SourceID:    sid,
		PopLimitPct: 0.8, PopSizePct: 0.5,
	}, testDesc, buf, reg, frag, msg)
	if err != nil {
		t.Fatalf("could not create handler: %+v", err)
	}

	m, err := NewModel(ModelConfig{
		SourceID:             sid,
		RawEndpoint:          "raw_11",
		RawTimeout:           time.Millisecond,
		ProcessingDelayTicks: 2000,
	}, testDesc, buf, proc, h, raw, nil, msg)
	if err != nil {
		t.Fatalf("could not create model: %+v", err)
	}
	if err := m.Conf(); err != nil {
		t.Fatalf("could not configure model: %+v", err)
	}
	t.Cleanup(func() { _ = m.Scrap() })

	// out-of-order arrival: the delayed path hands frames to the
	// analyses in buffer order once they are older than the delay.
	for _, ts := range []uint64{3000, 1000, 2000, 4000, 9000} {
		raw.TrySend(testDesc.New(11, ts))
	}

	if err := m.Start(1); err != nil {
		t.Fatalf("could not start model: %+v", err)
	}

	var got []uint64
	timeout := time.After(2 * time.Second)
	for len(got) < 4 {
		select {
		case ts := <-seen:
			got = append(got, ts)
		case <-timeout:
			t.Fatalf("delayed post-processing saw %v, want 4 frames", got)
		}
	}
	want := []uint64{1000, 2000, 3000, 4000}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("invalid post-process order: got=%v, want=%v", got, want)
		}
	}

	m.Stop()
}
