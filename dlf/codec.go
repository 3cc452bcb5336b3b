// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dlf

import (
	"encoding/binary"
	"io"

	"github.com/go-daq/readout/internal/crc16"
	"golang.org/x/xerrors"
)

const (
	elHeader  = 0xb8 // element header marker
	elTrailer = 0xa8 // element trailer marker
)

// Decoder reads (and validates) DLF elements from an underlying data
// source. Decoder computes CRC-16 checksums on the fly, during the
// acquisition of elements.
type Decoder struct {
	r    io.Reader
	desc Desc

	buf []byte
	err error
	crc crc16.Hash16
}

// NewDecoder creates a decoder that reads and validates elements
// with layout desc from r.
func NewDecoder(desc Desc, r io.Reader) *Decoder {
	return &Decoder{
		r:    r,
		desc: desc,
		buf:  make([]byte, 8),
		crc:  crc16.New(nil),
	}
}

// Decode reads the next element into el, growing it as needed.
func (dec *Decoder) Decode(el *Element) error {
	dec.crc.Reset()

	v := dec.readU8()
	if dec.err != nil {
		return xerrors.Errorf("dlf: could not read element header marker: %w", dec.err)
	}
	if v != elHeader {
		return xerrors.Errorf("dlf: invalid element header marker (got=0x%x)", v)
	}
	dec.crcU8(v)

	size := dec.readU32()
	if dec.err != nil {
		return xerrors.Errorf("dlf: could not read element size: %w", dec.err)
	}
	if int(size) != dec.desc.ElementSize() {
		return xerrors.Errorf("dlf: invalid element size (got=%d, want=%d)",
			size, dec.desc.ElementSize(),
		)
	}
	dec.crcU32(size)

	if cap(*el) < int(size) {
		*el = make(Element, size)
	}
	*el = (*el)[:size]

	dec.read(*el)
	if dec.err != nil {
		return xerrors.Errorf("dlf: could not read element payload: %w", dec.err)
	}
	_, _ = dec.crc.Write(*el) // can not fail.

	for i := 0; i < dec.desc.NumFrames(*el); i++ {
		sub := dec.desc.Frame(*el, i)
		if sub.Magic() != Magic {
			return xerrors.Errorf("dlf: invalid sub-frame %d magic (got=0x%x, want=0x%x)",
				i, sub.Magic(), uint16(Magic),
			)
		}
		if sub.Version() != Version {
			return xerrors.Errorf("dlf: invalid sub-frame %d version (got=%d, want=%d)",
				i, sub.Version(), Version,
			)
		}
	}

	var (
		compCRC = dec.crc.Sum16()
		recvCRC = dec.readU16()
	)
	if dec.err != nil {
		return xerrors.Errorf("dlf: could not read element CRC-16: %w", dec.err)
	}
	if compCRC != recvCRC {
		return xerrors.Errorf("dlf: inconsistent CRC: recv=0x%04x comp=0x%04x",
			recvCRC, compCRC,
		)
	}

	v = dec.readU8()
	if dec.err != nil {
		return xerrors.Errorf("dlf: could not read element trailer marker: %w", dec.err)
	}
	if v != elTrailer {
		return xerrors.Errorf("dlf: invalid element trailer marker (got=0x%x)", v)
	}

	return nil
}

func (dec *Decoder) read(p []byte) {
	if dec.err != nil {
		return
	}
	_, dec.err = io.ReadFull(dec.r, p)
}

func (dec *Decoder) readU8() uint8 {
	dec.load(1)
	return dec.buf[0]
}

func (dec *Decoder) readU16() uint16 {
	dec.load(2)
	return binary.BigEndian.Uint16(dec.buf[:2])
}

func (dec *Decoder) readU32() uint32 {
	dec.load(4)
	return binary.LittleEndian.Uint32(dec.buf[:4])
}

func (dec *Decoder) load(n int) {
	if dec.err != nil {
		return
	}
	_, dec.err = io.ReadFull(dec.r, dec.buf[:n])
}

func (dec *Decoder) crcU8(v uint8) {
	dec.buf[0] = v
	_, _ = dec.crc.Write(dec.buf[:1])
}

func (dec *Decoder) crcU32(v uint32) {
	binary.LittleEndian.PutUint32(dec.buf[:4], v)
	_, _ = dec.crc.Write(dec.buf[:4])
}

// Encoder writes DLF elements, with their framing markers and CRC-16
// checksum, to an underlying data sink.
type Encoder struct {
	w    io.Writer
	desc Desc

	buf []byte
	err error
	crc crc16.Hash16
}

// NewEncoder creates an encoder that writes elements with layout desc
// to w.
func NewEncoder(desc Desc, w io.Writer) *Encoder {
	return &Encoder{
		w:    w,
		desc: desc,
		buf:  make([]byte, 8),
		crc:  crc16.New(nil),
	}
}

// Encode writes el to the underlying writer.
func (enc *Encoder) Encode(el Element) error {
	if len(el) != enc.desc.ElementSize() {
		return xerrors.Errorf("dlf: invalid element size (got=%d, want=%d)",
			len(el), enc.desc.ElementSize(),
		)
	}

	enc.crc.Reset()

	enc.writeU8(elHeader)
	enc.crcU8(elHeader)
	enc.writeU32(uint32(len(el)))
	enc.crcU32(uint32(len(el)))
	enc.write(el)
	if enc.err != nil {
		return xerrors.Errorf("dlf: could not write element: %w", enc.err)
	}
	_, _ = enc.crc.Write(el) // can not fail.

	crc := enc.crc.Sum16()
	enc.writeU8(uint8(crc >> 8))
	enc.writeU8(uint8(crc))
	enc.writeU8(elTrailer)
	if enc.err != nil {
		return xerrors.Errorf("dlf: could not write element trailer: %w", enc.err)
	}

	return nil
}

func (enc *Encoder) write(p []byte) {
	if enc.err != nil {
		return
	}
	_, enc.err = enc.w.Write(p)
}

func (enc *Encoder) writeU8(v uint8) {
	if enc.err != nil {
		return
	}
	enc.buf[0] = v
	_, enc.err = enc.w.Write(enc.buf[:1])
}

func (enc *Encoder) writeU32(v uint32) {
	if enc.err != nil {
		return
	}
	binary.LittleEndian.PutUint32(enc.buf[:4], v)
	_, enc.err = enc.w.Write(enc.buf[:4])
}

func (enc *Encoder) crcU8(v uint8) {
	enc.buf[0] = v
	_, _ = enc.crc.Write(enc.buf[:1])
}

func (enc *Encoder) crcU32(v uint32) {
	binary.LittleEndian.PutUint32(enc.buf[:4], v)
	_, _ = enc.crc.Write(enc.buf[:4])
}
