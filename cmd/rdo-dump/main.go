// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command rdo-dump displays the content of recorded DLF frame files.
package main // import "github.com/go-daq/readout/cmd/rdo-dump"

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-daq/readout/dlf"
)

func main() {
	log.SetPrefix("rdo-dump: ")
	log.SetFlags(0)

	var (
		nmax   = flag.Int("n", -1, "maximum number of elements to display (-1: all)")
		framed = flag.Bool("crc", false, "input carries element framing and CRC-16 checksums")
		frsz   = flag.Int("frame-size", dlf.Default.FrameSize, "sub-frame size (bytes)")
		nfr    = flag.Int("frames", dlf.Default.FramesPerElement, "sub-frames per element")
		tick   = flag.Uint64("tick-diff", dlf.Default.TickDiff, "DTS ticks between sub-frames")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: rdo-dump [OPTIONS] FILE

ex:
 $> rdo-dump ./rec_3-23.bin
 $> rdo-dump -crc -n 10 ./rec.dlf

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatalf("missing input file")
	}

	desc := dlf.Desc{
		FrameSize:        *frsz,
		FramesPerElement: *nfr,
		TickDiff:         *tick,
	}

	err := process(os.Stdout, flag.Arg(0), desc, *nmax, *framed)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func process(w io.Writer, fname string, desc dlf.Desc, nmax int, framed bool) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer f.Close()

	var (
		next func(el *dlf.Element) error
		prev uint64
	)
	switch {
	case framed:
		dec := dlf.NewDecoder(desc, f)
		next = dec.Decode
	default:
		next = func(el *dlf.Element) error {
			if cap(*el) < desc.ElementSize() {
				*el = make(dlf.Element, desc.ElementSize())
			}
			_, err := io.ReadFull(f, *el)
			return err
		}
	}

	var el dlf.Element
	for i := 0; nmax < 0 || i < nmax; i++ {
		err := next(&el)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("could not read element %d: %w", i, err)
		}

		mark := ""
		if prev != 0 && el.Timestamp() <= prev {
			mark = " (!)"
		}
		prev = el.Timestamp()

		fmt.Fprintf(w, "elem %06d: src=%d ts=%d frames=%d%s\n",
			i, el.SourceID(), el.Timestamp(), desc.NumFrames(el), mark,
		)
	}
	return nil
}
