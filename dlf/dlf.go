// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dlf describes and handles data in the DLF (detector-link
// frame) format.
//
// A DLF element aggregates a fixed number of sub-frames. Each
// sub-frame carries a 16-byte header followed by the ADC payload:
//
//	[ 0: 2) magic (0xdf1f, little endian)
//	[ 2: 3) version
//	[ 3: 4) flags
//	[ 4: 8) source ID
//	[ 8:16) DTS timestamp
//	[16:  ) ADC samples
//
// Sub-frame timestamps inside one element advance by the expected
// tick difference of the link. The timestamp of an element is the
// timestamp of its first sub-frame.
package dlf // import "github.com/go-daq/readout/dlf"

import (
	"encoding/binary"
)

const (
	// Subsystem is the source-ID subsystem tag of detector links
	// producing DLF data.
	Subsystem = 3

	// FragmentType tags fragments assembled from DLF elements.
	FragmentType = 2

	// Magic marks the start of every DLF sub-frame.
	Magic = 0xdf1f

	// Version of the DLF format this package handles.
	Version = 1

	// HdrSize is the size of a sub-frame header in bytes.
	HdrSize = 16
)

// Desc describes the fixed layout of a DLF stream.
type Desc struct {
	FrameSize        int    // bytes per sub-frame, header included
	FramesPerElement int    // sub-frames aggregated into one element
	TickDiff         uint64 // DTS ticks between adjacent sub-frames
}

// Default is the nominal DLF layout: 12 sub-frames of 464 bytes,
// 32 ticks apart.
var Default = Desc{
	FrameSize:        464,
	FramesPerElement: 12,
	TickDiff:         32,
}

// ElementSize returns the size of one element in bytes.
func (d Desc) ElementSize() int { return d.FrameSize * d.FramesPerElement }

// Stride returns the nominal timestamp gap between adjacent elements.
func (d Desc) Stride() uint64 { return d.TickDiff * uint64(d.FramesPerElement) }

// Element is a view on the raw bytes of one DLF element.
type Element []byte

// Magic returns the magic marker of the first sub-frame.
func (el Element) Magic() uint16 { return binary.LittleEndian.Uint16(el[0:2]) }

// Version returns the format version of the first sub-frame.
func (el Element) Version() uint8 { return el[2] }

// Flags returns the flags byte of the first sub-frame.
func (el Element) Flags() uint8 { return el[3] }

// SourceID returns the source ID of the first sub-frame.
func (el Element) SourceID() uint32 { return binary.LittleEndian.Uint32(el[4:8]) }

// Timestamp returns the DTS timestamp of the first sub-frame.
func (el Element) Timestamp() uint64 { return binary.LittleEndian.Uint64(el[8:16]) }

// SetTimestamp overwrites the DTS timestamp of the first sub-frame.
// It is used for synthetic construction and lookup keys only.
func (el Element) SetTimestamp(ts uint64) { binary.LittleEndian.PutUint64(el[8:16], ts) }

// NumFrames returns the number of sub-frames in el.
func (d Desc) NumFrames(el Element) int { return len(el) / d.FrameSize }

// PayloadSize returns the number of bytes of el participating in a
// fragment.
func (d Desc) PayloadSize(el Element) int { return len(el) }

// Frame returns the view on the i-th sub-frame of el.
func (d Desc) Frame(el Element, i int) Element {
	return Element(el[i*d.FrameSize : (i+1)*d.FrameSize])
}

// New builds a synthetic element with source ID src, first sub-frame
// timestamp ts, and sub-frame timestamps advancing by the expected
// tick difference.
func (d Desc) New(src uint32, ts uint64) Element {
	el := make(Element, d.ElementSize())
	d.Restamp(el, src, ts)
	return el
}

// Restamp rewrites the headers of every sub-frame of el: magic,
// version, source ID and timestamps seeded at ts.
func (d Desc) Restamp(el Element, src uint32, ts uint64) {
	for i := 0; i < d.NumFrames(el); i++ {
		sub := d.Frame(el, i)
		binary.LittleEndian.PutUint16(sub[0:2], Magic)
		sub[2] = Version
		sub[3] = 0
		binary.LittleEndian.PutUint32(sub[4:8], src)
		binary.LittleEndian.PutUint64(sub[8:16], ts+uint64(i)*d.TickDiff)
	}
}
