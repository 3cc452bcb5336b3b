// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rdo

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Writer is the buffered file writer recordings stream through.
// The optional compression stage sits on top of the stream buffer.
type Writer struct {
	f   *os.File
	buf *bufio.Writer
	zst *zstd.Encoder
	w   io.Writer

	path string
}

// NewWriter creates path (deleting any previous file with that name)
// and sets up a stream buffer of bufSize bytes. compression selects
// the algorithm: "" or "none", or "zstd".
func NewWriter(path string, bufSize int, compression string) (*Writer, error) {
	// a file from a previous run may be in the way.
	_ = os.Remove(path)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("rdo: could not create output file %q: %w", path, err)
	}
	if bufSize <= 0 {
		bufSize = 8 * 1024 * 1024
	}
	w := &Writer{
		f:    f,
		buf:  bufio.NewWriterSize(f, bufSize),
		path: path,
	}
	switch compression {
	case "", "none":
		w.w = w.buf
	case "zstd":
		zst, err := zstd.NewWriter(w.buf)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("rdo: could not create zstd writer for %q: %w", path, err)
		}
		w.zst = zst
		w.w = zst
	default:
		f.Close()
		return nil, fmt.Errorf("rdo: unknown compression algorithm %q", compression)
	}
	return w, nil
}

// Path returns the output file name.
func (w *Writer) Path() string { return w.path }

// Write streams p to the file.
func (w *Writer) Write(p []byte) (int, error) {
	return w.w.Write(p)
}

// Flush pushes buffered data down to the file.
func (w *Writer) Flush() error {
	if w.zst != nil {
		if err := w.zst.Flush(); err != nil {
			return fmt.Errorf("rdo: could not flush zstd stream for %q: %w", w.path, err)
		}
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("rdo: could not flush stream buffer for %q: %w", w.path, err)
	}
	return nil
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	if w.zst != nil {
		if err := w.zst.Close(); err != nil {
			return fmt.Errorf("rdo: could not close zstd stream for %q: %w", w.path, err)
		}
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("rdo: could not flush stream buffer for %q: %w", w.path, err)
	}
	return w.f.Close()
}
