// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rdo

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestWriterPlain(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "out.raw")

	w, err := NewWriter(fname, 1024, "none")
	if err != nil {
		t.Fatalf("could not create writer: %+v", err)
	}

	_, err = w.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}
	err = w.Flush()
	if err != nil {
		t.Fatalf("could not flush: %+v", err)
	}

	raw, err := os.ReadFile(fname)
	if err != nil {
		t.Fatalf("could not read back: %+v", err)
	}
	if !bytes.Equal(raw, []byte("hello")) {
		t.Fatalf("invalid content: got=%q", raw)
	}

	err = w.Close()
	if err != nil {
		t.Fatalf("could not close: %+v", err)
	}
}

func TestWriterZstd(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "out.zst")

	w, err := NewWriter(fname, 1024, "zstd")
	if err != nil {
		t.Fatalf("could not create writer: %+v", err)
	}

	payload := bytes.Repeat([]byte("frame"), 1000)
	_, err = w.Write(payload)
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}
	err = w.Close()
	if err != nil {
		t.Fatalf("could not close: %+v", err)
	}

	f, err := os.Open(fname)
	if err != nil {
		t.Fatalf("could not open back: %+v", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("could not create zstd reader: %+v", err)
	}
	defer dec.Close()

	raw, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("could not decompress: %+v", err)
	}
	if !bytes.Equal(raw, payload) {
		t.Fatalf("invalid round-trip: got %d bytes, want %d", len(raw), len(payload))
	}
}

func TestWriterUnknownCompression(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "out.raw")
	_, err := NewWriter(fname, 1024, "lz77")
	if err == nil {
		t.Fatalf("unknown compression should fail")
	}
}

func TestWriterDeletesPrevious(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "out.raw")
	err := os.WriteFile(fname, []byte("stale"), 0644)
	if err != nil {
		t.Fatalf("could not seed stale file: %+v", err)
	}

	w, err := NewWriter(fname, 64, "")
	if err != nil {
		t.Fatalf("could not create writer: %+v", err)
	}
	defer w.Close()
	if err := w.Flush(); err != nil {
		t.Fatalf("could not flush: %+v", err)
	}

	raw, err := os.ReadFile(fname)
	if err != nil {
		t.Fatalf("could not read back: %+v", err)
	}
	if len(raw) != 0 {
		t.Fatalf("previous file content survived: %q", raw)
	}
}
