// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package emu

import (
	"fmt"
	"os"

	"github.com/go-daq/tdaq/log"
)

// FileSource reads a raw binary frame dump once, at configure time,
// and serves it as a ring of fixed-size chunks.
type FileSource struct {
	limit int // reject above this many bytes
	chunk int // element size; 0 disables the multiple-of check
	msg   log.MsgStream

	fname string
	data  []byte
	count int // usable elements
}

// NewFileSource builds a source rejecting (with a warning) files over
// limit bytes and checking, when chunk is non-zero, that the file is a
// whole number of chunks.
func NewFileSource(limit, chunk int, msg log.MsgStream) *FileSource {
	return &FileSource{limit: limit, chunk: chunk, msg: msg}
}

// Read loads the dump at fname.
func (src *FileSource) Read(fname string) error {
	src.fname = fname
	data, err := os.ReadFile(fname)
	if err != nil {
		return fmt.Errorf("emu: could not read %q: %w", fname, err)
	}

	if src.limit > 0 && len(data) > src.limit {
		src.msg.Warnf("emu: file size limit exceeded: size=%d limit=%d file=%q",
			len(data), src.limit, fname)
		return fmt.Errorf("emu: file size limit exceeded: size=%d limit=%d file=%q",
			len(data), src.limit, fname)
	}

	if src.chunk > 0 {
		if len(data)%src.chunk != 0 {
			src.msg.Warnf("emu: file contains more data than expected: size=%d chunk=%d file=%q",
				len(data), src.chunk, fname)
		}
		src.count = len(data) / src.chunk
		src.msg.Debugf("emu: available elements: %d", src.count)
	}

	src.data = data
	src.msg.Debugf("emu: available bytes: %d", len(data))
	return nil
}

// NumElements returns the number of usable chunks.
func (src *FileSource) NumElements() int { return src.count }

// Bytes returns the whole input buffer.
func (src *FileSource) Bytes() []byte { return src.data }

// Element returns the i-th chunk, wrapping around the dump.
func (src *FileSource) Element(i int) []byte {
	i %= src.count
	return src.data[i*src.chunk : (i+1)*src.chunk]
}
