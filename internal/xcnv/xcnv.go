// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xcnv converts recorded DLF frame files to LCIO event files
// for offline analysis.
package xcnv // import "github.com/go-daq/readout/internal/xcnv"

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/go-daq/readout/dlf"
	"go-hep.org/x/hep/lcio"
)

// DLF2LCIO drains dec into one LCIO event per element.
func DLF2LCIO(w *lcio.Writer, dec *dlf.Decoder, desc dlf.Desc, run int32, msg *log.Logger) error {
	var (
		buf = new(bytes.Buffer)
		raw = &lcio.GenericObject{
			Data: []lcio.GenericObjectData{
				{I32s: nil},
			},
		}
	)

loop:
	for i := 0; ; i++ {
		if i%100 == 0 {
			msg.Printf("processing evt %d...", i)
		}
		var el dlf.Element
		err := dec.Decode(&el)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break loop
			}
			return fmt.Errorf("could not decode DLF: %w", err)
		}

		if i == 0 {
			err = w.WriteRunHeader(&lcio.RunHeader{
				RunNumber: run,
				Detector:  "DLF",
				Descr:     "",
				Params: lcio.Params{
					Ints: map[string][]int32{
						"TickDiff": {int32(desc.TickDiff)},
						"Frames":   {int32(desc.FramesPerElement)},
					},
				},
			})
			if err != nil {
				return fmt.Errorf("could not write run header: %w", err)
			}
		}

		evt := lcio.Event{
			RunNumber:   run,
			EventNumber: int32(i),
			TimeStamp:   int64(el.Timestamp()),
			Detector:    "DLF",
		}
		raw.Data[0].I32s = i32sFrom(buf, el)
		evt.Add("RawFrames", raw)

		err = w.WriteEvent(&evt)
		if err != nil {
			return fmt.Errorf("could not write DLF event: %w", err)
		}
	}

	return nil
}

func i32sFrom(w *bytes.Buffer, el dlf.Element) []int32 {
	const i32sz = 4

	w.Reset()
	_, _ = w.Write(el)

	if mod := len(w.Bytes()) % i32sz; mod != 0 {
		// pad to a whole number of int32s.
		_, _ = w.Write(make([]byte, i32sz-mod))
	}

	raw := w.Bytes()
	out := make([]int32, len(raw)/i32sz)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(raw[i*i32sz:]))
	}
	return out
}
