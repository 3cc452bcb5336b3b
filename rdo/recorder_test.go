// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rdo

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-daq/readout/dlf"
)

func TestRecorder(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "rec.dlf")

	raw := NewElementQueue(16)
	rec, err := NewRecorder(RecordingConfig{
		OutputFile:       fname,
		StreamBufferSize: 4096,
	}, testDesc, raw, testMsg())
	if err != nil {
		t.Fatalf("could not create recorder: %+v", err)
	}

	rec.Start()
	for i := 0; i < 5; i++ {
		raw.TrySend(testDesc.New(1, uint64(i)*1000))
	}

	deadline := time.Now().Add(2 * time.Second)
	for rec.Packets() < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("recorder drained %d packets, want 5", rec.Packets())
		}
		time.Sleep(time.Millisecond)
	}
	rec.Stop()

	if err := rec.Scrap(); err != nil {
		t.Fatalf("could not scrap recorder: %+v", err)
	}

	f, err := os.Open(fname)
	if err != nil {
		t.Fatalf("could not open recording: %+v", err)
	}
	defer f.Close()

	dec := dlf.NewDecoder(testDesc, f)
	var el dlf.Element
	for i := 0; i < 5; i++ {
		err := dec.Decode(&el)
		if err != nil {
			t.Fatalf("could not decode recorded element %d: %+v", i, err)
		}
		if got, want := el.Timestamp(), uint64(i)*1000; got != want {
			t.Fatalf("element %d: invalid timestamp: got=%d, want=%d", i, got, want)
		}
	}
	if err := dec.Decode(&el); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after recorded elements, got: %+v", err)
	}
}
