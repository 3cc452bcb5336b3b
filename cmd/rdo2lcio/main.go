// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command rdo2lcio converts recorded DLF frame files to LCIO files
// for offline analysis.
package main // import "github.com/go-daq/readout/cmd/rdo2lcio"

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-daq/readout/dlf"
	"github.com/go-daq/readout/internal/xcnv"
	"go-hep.org/x/hep/lcio"
)

func main() {
	log.SetPrefix("rdo2lcio: ")
	log.SetFlags(0)

	var (
		oname = flag.String("o", "out.lcio", "path to output LCIO file")
		run   = flag.Int("run", 0, "run number of the recorded data")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: rdo2lcio [OPTIONS] FILE.dlf

ex:
 $> rdo2lcio -o out.lcio -run 42 ./rec.dlf

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatalf("missing input file")
	}

	err := process(*oname, flag.Arg(0), int32(*run))
	if err != nil {
		log.Fatalf("could not convert %q: %+v", flag.Arg(0), err)
	}
}

func process(oname, fname string, run int32) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer f.Close()

	w, err := lcio.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create %q: %w", oname, err)
	}
	defer w.Close()

	msg := log.New(os.Stdout, "rdo2lcio: ", 0)
	dec := dlf.NewDecoder(dlf.Default, f)

	err = xcnv.DLF2LCIO(w, dec, dlf.Default, run, msg)
	if err != nil {
		return fmt.Errorf("could not convert %q: %w", fname, err)
	}

	err = w.Close()
	if err != nil {
		return fmt.Errorf("could not close %q: %w", oname, err)
	}
	return nil
}
