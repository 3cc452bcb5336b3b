// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rdo

import (
	"bytes"
	"testing"
)

func TestFragmentWire(t *testing.T) {
	frag := &Fragment{
		Hdr: FragmentHeader{
			TriggerNumber:    42,
			SequenceNumber:   3,
			RunNumber:        7,
			TriggerTimestamp: 123456,
			WindowBegin:      123000,
			WindowEnd:        124000,
			DetectorID:       2,
			FragmentType:     2,
			ElementID:        SourceID{Subsystem: 3, ID: 23},
			ErrorBits:        ErrIncomplete,
		},
		Pieces: [][]byte{
			{1, 2, 3, 4},
			{5, 6},
		},
	}

	if got, want := frag.PayloadSize(), 6; got != want {
		t.Fatalf("invalid payload size: got=%d, want=%d", got, want)
	}
	if got, want := frag.Size(), fragHdrSize+6; got != want {
		t.Fatalf("invalid size: got=%d, want=%d", got, want)
	}

	raw, err := frag.MarshalBinary()
	if err != nil {
		t.Fatalf("could not marshal fragment: %+v", err)
	}

	var got Fragment
	err = got.UnmarshalBinary(raw)
	if err != nil {
		t.Fatalf("could not unmarshal fragment: %+v", err)
	}
	if got.Hdr != frag.Hdr {
		t.Fatalf("invalid header round-trip:\ngot= %#v\nwant=%#v", got.Hdr, frag.Hdr)
	}
	if want := []byte{1, 2, 3, 4, 5, 6}; !bytes.Equal(got.Pieces[0], want) {
		t.Fatalf("invalid payload round-trip: got=%v, want=%v", got.Pieces[0], want)
	}

	// linearising detaches the pieces from their backing memory.
	backing := []byte{9, 9, 9}
	frag2 := &Fragment{Pieces: [][]byte{backing}}
	frag2.Linearize()
	backing[0] = 0
	if frag2.Pieces[0][0] != 9 {
		t.Fatalf("linearised fragment still aliases its source")
	}
}

func TestFragmentWireErrors(t *testing.T) {
	var frag Fragment
	if err := frag.UnmarshalBinary(make([]byte, 10)); err == nil {
		t.Fatalf("short fragment should fail to unmarshal")
	}

	raw, _ := (&Fragment{Pieces: [][]byte{{1, 2, 3}}}).MarshalBinary()
	if err := frag.UnmarshalBinary(raw[:len(raw)-1]); err == nil {
		t.Fatalf("truncated fragment should fail to unmarshal")
	}
}

func TestDataRequestWire(t *testing.T) {
	dr := DataRequest{
		TriggerNumber:    99,
		SequenceNumber:   1,
		RunNumber:        12,
		TriggerTimestamp: 5000,
		Info: RequestInfo{
			Component:   SourceID{Subsystem: 3, ID: 5},
			WindowBegin: 4000,
			WindowEnd:   6000,
		},
		Destination: "fragments",
	}

	got := UnmarshalDataRequest(dr.MarshalTDAQ())
	if got != dr {
		t.Fatalf("invalid round-trip:\ngot= %#v\nwant=%#v", got, dr)
	}
}

func TestTimeSyncWire(t *testing.T) {
	ts := TimeSync{
		DAQTime:    123456789,
		SystemTime: 987654321,
		RunNumber:  4,
		SeqNumber:  17,
		SourcePID:  4242,
	}

	got := UnmarshalTimeSync(ts.MarshalTDAQ())
	if got != ts {
		t.Fatalf("invalid round-trip:\ngot= %#v\nwant=%#v", got, ts)
	}
}
