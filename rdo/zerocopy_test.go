// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rdo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-daq/readout/buffer"
	"github.com/go-daq/readout/dlf"
)

func TestZeroCopyRecord(t *testing.T) {
	// 128 slots of 64 bytes: the region is exactly two 4 kB blocks.
	buf, err := buffer.NewRing(testDesc, 127, false)
	if err != nil {
		t.Fatalf("could not create ring: %+v", err)
	}
	defer buf.Close()

	out := filepath.Join(t.TempDir(), "zc")
	h, err := NewZeroCopyHandler(HandlerConfig{
		SourceID:    SourceID{Subsystem: dlf.Subsystem, ID: 23},
		PopLimitPct: 1, PopSizePct: 0.5,
		Recording: RecordingConfig{
			OutputFile:       out,
			StreamBufferSize: 4096,
		},
	}, testDesc, buf, NewErrorRegistry(), NewFragmentQueue(1, 0), testMsg())
	if err != nil {
		t.Fatalf("could not create zero-copy handler: %+v", err)
	}
	defer h.Scrap()

	for i := 0; i < 127; i++ {
		buf.Write(testDesc.New(23, uint64(i)*1000))
	}

	err = h.Record(200 * time.Millisecond)
	if err != nil {
		t.Fatalf("could not start recording: %+v", err)
	}
	h.recWG.Wait()

	fname := out + "_3-23.bin"
	raw, err := os.ReadFile(fname)
	if err != nil {
		t.Fatalf("could not read recording: %+v", err)
	}
	// one whole chunk fits ahead of the write cursor.
	if got, want := len(raw), 4096; got != want {
		t.Fatalf("invalid recording size: got=%d, want=%d", got, want)
	}

	for i := 0; i < len(raw)/testDesc.ElementSize(); i++ {
		el := dlf.Element(raw[i*testDesc.ElementSize() : (i+1)*testDesc.ElementSize()])
		if got, want := el.Timestamp(), uint64(i)*1000; got != want {
			t.Fatalf("element %d: invalid timestamp: got=%d, want=%d", i, got, want)
		}
	}
}

func TestZeroCopyAlignmentChecks(t *testing.T) {
	// 10 slots of 64 bytes: the region is not a 4 kB multiple.
	buf, err := buffer.NewRing(testDesc, 9, false)
	if err != nil {
		t.Fatalf("could not create ring: %+v", err)
	}
	defer buf.Close()

	cfg := HandlerConfig{
		SourceID:    SourceID{Subsystem: dlf.Subsystem, ID: 23},
		PopLimitPct: 1, PopSizePct: 0.5,
		Recording: RecordingConfig{
			OutputFile:       filepath.Join(t.TempDir(), "zc"),
			StreamBufferSize: 4096,
		},
	}
	_, err = NewZeroCopyHandler(cfg, testDesc, buf, NewErrorRegistry(),
		NewFragmentQueue(1, 0), testMsg())
	if err == nil {
		t.Fatalf("unaligned buffer should fail configuration")
	}

	// a tree buffer has no contiguous region at all.
	tr, err := buffer.NewTree(testDesc, 16)
	if err != nil {
		t.Fatalf("could not create tree: %+v", err)
	}
	defer tr.Close()
	_, err = NewZeroCopyHandler(cfg, testDesc, tr, NewErrorRegistry(),
		NewFragmentQueue(1, 0), testMsg())
	if err == nil {
		t.Fatalf("non-contiguous buffer should fail configuration")
	}

	// the streaming chunk size must be a 4 kB multiple too.
	buf2, err := buffer.NewRing(testDesc, 127, false)
	if err != nil {
		t.Fatalf("could not create ring: %+v", err)
	}
	defer buf2.Close()
	cfg.Recording.StreamBufferSize = 1000
	_, err = NewZeroCopyHandler(cfg, testDesc, buf2, NewErrorRegistry(),
		NewFragmentQueue(1, 0), testMsg())
	if err == nil {
		t.Fatalf("unaligned chunk size should fail configuration")
	}
}
