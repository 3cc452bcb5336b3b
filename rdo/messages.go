// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rdo

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/go-daq/tdaq"
)

// SourceID identifies one data-handling link.
type SourceID struct {
	Subsystem uint32
	ID        uint32
}

func (sid SourceID) String() string {
	return fmt.Sprintf("(%d,%d)", sid.Subsystem, sid.ID)
}

// RequestInfo carries the readout window of a data request.
type RequestInfo struct {
	Component   SourceID
	WindowBegin uint64
	WindowEnd   uint64
}

// DataRequest asks one link for the frames overlapping
// [WindowBegin, WindowEnd).
type DataRequest struct {
	TriggerNumber    uint64
	SequenceNumber   uint32
	RunNumber        uint32
	TriggerTimestamp uint64
	Info             RequestInfo
	Destination      string
}

// Fragment error bits owned by this subsystem.
const (
	// ErrIncomplete flags a window extending past the buffer.
	ErrIncomplete uint32 = 1 << 1
	// ErrDataNotFound flags a window with no data in the buffer.
	ErrDataNotFound uint32 = 1 << 2
)

// FragmentHeader carries the request fields a fragment answers, plus
// the identity of the link that produced it.
type FragmentHeader struct {
	TriggerNumber    uint64
	SequenceNumber   uint32
	RunNumber        uint32
	TriggerTimestamp uint64
	WindowBegin      uint64
	WindowEnd        uint64
	DetectorID       uint32
	FragmentType     uint32
	ElementID        SourceID
	ErrorBits        uint32
}

// Fragment is the reply to a DataRequest: a header followed by an
// ordered sequence of payload pieces gathered from the latency buffer.
//
// Pieces may alias latency-buffer memory: the sender must linearise
// them onto the wire in the same synchronous call that received the
// fragment.
type Fragment struct {
	Hdr    FragmentHeader
	Pieces [][]byte
}

const fragHdrSize = 8 + 4 + 4 + 8 + 8 + 8 + 4 + 4 + 8 + 4 + 4

// Size returns the encoded size of the fragment in bytes.
func (frag *Fragment) Size() int {
	n := fragHdrSize
	for _, p := range frag.Pieces {
		n += len(p)
	}
	return n
}

// PayloadSize returns the summed size of the payload pieces.
func (frag *Fragment) PayloadSize() int {
	n := 0
	for _, p := range frag.Pieces {
		n += len(p)
	}
	return n
}

// Linearize copies the scatter-gather pieces into one contiguous
// payload, detaching the fragment from the latency-buffer memory the
// pieces may alias.
func (frag *Fragment) Linearize() {
	if len(frag.Pieces) == 0 {
		return
	}
	p := make([]byte, 0, frag.PayloadSize())
	for _, piece := range frag.Pieces {
		p = append(p, piece...)
	}
	frag.Pieces = [][]byte{p}
}

// MarshalBinary encodes the fragment into the on-wire layout.
func (frag *Fragment) MarshalBinary() ([]byte, error) {
	raw := make([]byte, fragHdrSize, frag.Size())
	hdr := frag.Hdr
	le := binary.LittleEndian
	le.PutUint64(raw[0:], hdr.TriggerNumber)
	le.PutUint32(raw[8:], hdr.SequenceNumber)
	le.PutUint32(raw[12:], hdr.RunNumber)
	le.PutUint64(raw[16:], hdr.TriggerTimestamp)
	le.PutUint64(raw[24:], hdr.WindowBegin)
	le.PutUint64(raw[32:], hdr.WindowEnd)
	le.PutUint32(raw[40:], hdr.DetectorID)
	le.PutUint32(raw[44:], hdr.FragmentType)
	le.PutUint32(raw[48:], hdr.ElementID.Subsystem)
	le.PutUint32(raw[52:], hdr.ElementID.ID)
	le.PutUint32(raw[56:], hdr.ErrorBits)
	le.PutUint32(raw[60:], uint32(frag.PayloadSize()))
	for _, p := range frag.Pieces {
		raw = append(raw, p...)
	}
	return raw, nil
}

// UnmarshalBinary decodes a fragment from its on-wire layout. The
// payload is kept as a single piece referencing raw.
func (frag *Fragment) UnmarshalBinary(raw []byte) error {
	if len(raw) < fragHdrSize {
		return fmt.Errorf("rdo: fragment too short (got=%d, want>=%d)",
			len(raw), fragHdrSize,
		)
	}
	le := binary.LittleEndian
	hdr := &frag.Hdr
	hdr.TriggerNumber = le.Uint64(raw[0:])
	hdr.SequenceNumber = le.Uint32(raw[8:])
	hdr.RunNumber = le.Uint32(raw[12:])
	hdr.TriggerTimestamp = le.Uint64(raw[16:])
	hdr.WindowBegin = le.Uint64(raw[24:])
	hdr.WindowEnd = le.Uint64(raw[32:])
	hdr.DetectorID = le.Uint32(raw[40:])
	hdr.FragmentType = le.Uint32(raw[44:])
	hdr.ElementID.Subsystem = le.Uint32(raw[48:])
	hdr.ElementID.ID = le.Uint32(raw[52:])
	hdr.ErrorBits = le.Uint32(raw[56:])
	size := le.Uint32(raw[60:])
	if int(size) != len(raw)-fragHdrSize {
		return fmt.Errorf("rdo: invalid fragment payload size (got=%d, want=%d)",
			len(raw)-fragHdrSize, size,
		)
	}
	frag.Pieces = nil
	if size > 0 {
		frag.Pieces = [][]byte{raw[fragHdrSize:]}
	}
	return nil
}

// TimeSync advertises the freshest DAQ timestamp observed on a link.
type TimeSync struct {
	DAQTime    uint64
	SystemTime uint64
	RunNumber  uint32
	SeqNumber  uint64
	SourcePID  int32
}

// MarshalTDAQ encodes dr with the tdaq wire codec.
func (dr DataRequest) MarshalTDAQ() []byte {
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteU64(dr.TriggerNumber)
	enc.WriteU32(dr.SequenceNumber)
	enc.WriteU32(dr.RunNumber)
	enc.WriteU64(dr.TriggerTimestamp)
	enc.WriteU32(dr.Info.Component.Subsystem)
	enc.WriteU32(dr.Info.Component.ID)
	enc.WriteU64(dr.Info.WindowBegin)
	enc.WriteU64(dr.Info.WindowEnd)
	enc.WriteStr(dr.Destination)
	return buf.Bytes()
}

// UnmarshalDataRequest decodes a data request from the tdaq wire codec.
func UnmarshalDataRequest(p []byte) DataRequest {
	dec := tdaq.NewDecoder(bytes.NewReader(p))
	var dr DataRequest
	dr.TriggerNumber = dec.ReadU64()
	dr.SequenceNumber = dec.ReadU32()
	dr.RunNumber = dec.ReadU32()
	dr.TriggerTimestamp = dec.ReadU64()
	dr.Info.Component.Subsystem = dec.ReadU32()
	dr.Info.Component.ID = dec.ReadU32()
	dr.Info.WindowBegin = dec.ReadU64()
	dr.Info.WindowEnd = dec.ReadU64()
	dr.Destination = dec.ReadStr()
	return dr
}

// MarshalTDAQ encodes ts with the tdaq wire codec.
func (ts TimeSync) MarshalTDAQ() []byte {
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteU64(ts.DAQTime)
	enc.WriteU64(ts.SystemTime)
	enc.WriteU32(ts.RunNumber)
	enc.WriteU64(ts.SeqNumber)
	enc.WriteU32(uint32(ts.SourcePID))
	return buf.Bytes()
}

// UnmarshalTimeSync decodes a time-sync beacon from the tdaq wire codec.
func UnmarshalTimeSync(p []byte) TimeSync {
	dec := tdaq.NewDecoder(bytes.NewReader(p))
	var ts TimeSync
	ts.DAQTime = dec.ReadU64()
	ts.SystemTime = dec.ReadU64()
	ts.RunNumber = dec.ReadU32()
	ts.SeqNumber = dec.ReadU64()
	ts.SourcePID = int32(dec.ReadU32())
	return ts
}
