// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dlf

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	desc := Desc{FrameSize: 32, FramesPerElement: 2, TickDiff: 16}

	buf := new(bytes.Buffer)
	enc := NewEncoder(desc, buf)
	for i := 0; i < 3; i++ {
		el := desc.New(7, uint64(1000+i*32))
		err := enc.Encode(el)
		if err != nil {
			t.Fatalf("could not encode element %d: %+v", i, err)
		}
	}

	dec := NewDecoder(desc, buf)
	var el Element
	for i := 0; i < 3; i++ {
		err := dec.Decode(&el)
		if err != nil {
			t.Fatalf("could not decode element %d: %+v", i, err)
		}
		if got, want := el.Timestamp(), uint64(1000+i*32); got != want {
			t.Fatalf("element %d: invalid timestamp: got=%d, want=%d",
				i, got, want,
			)
		}
	}

	err := dec.Decode(&el)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got: %+v", err)
	}
}

func TestEncodeBadSize(t *testing.T) {
	desc := Desc{FrameSize: 32, FramesPerElement: 2, TickDiff: 16}
	enc := NewEncoder(desc, new(bytes.Buffer))

	err := enc.Encode(make(Element, 16))
	if err == nil {
		t.Fatalf("expected an error on short element")
	}
}

func TestDecodeErrors(t *testing.T) {
	desc := Desc{FrameSize: 32, FramesPerElement: 1, TickDiff: 16}

	okRaw := func() []byte {
		buf := new(bytes.Buffer)
		err := NewEncoder(desc, buf).Encode(desc.New(1, 42))
		if err != nil {
			t.Fatalf("could not encode element: %+v", err)
		}
		return buf.Bytes()
	}

	for _, tc := range []struct {
		name string
		raw  []byte
	}{
		{
			name: "no data",
			raw:  nil,
		},
		{
			name: "bad header marker",
			raw: func() []byte {
				raw := okRaw()
				raw[0] = 0xff
				return raw
			}(),
		},
		{
			name: "bad element size",
			raw: func() []byte {
				raw := okRaw()
				raw[1] = 0xff
				return raw
			}(),
		},
		{
			name: "bad sub-frame magic",
			raw: func() []byte {
				raw := okRaw()
				raw[5] = 0x00
				return raw
			}(),
		},
		{
			name: "bad crc",
			raw: func() []byte {
				raw := okRaw()
				raw[len(raw)-2] ^= 0xff
				return raw
			}(),
		},
		{
			name: "bad trailer marker",
			raw: func() []byte {
				raw := okRaw()
				raw[len(raw)-1] = 0xff
				return raw
			}(),
		},
		{
			name: "truncated payload",
			raw:  okRaw()[:10],
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var el Element
			err := NewDecoder(desc, bytes.NewReader(tc.raw)).Decode(&el)
			if err == nil {
				t.Fatalf("expected a decode error")
			}
		})
	}
}
