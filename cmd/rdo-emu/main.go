// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command rdo-emu replays a raw frame dump as one detector link,
// publishing the frames on a TDAQ output at a configured rate.
package main // import "github.com/go-daq/readout/cmd/rdo-emu"

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/go-daq/readout/dlf"
	"github.com/go-daq/readout/emu"
	"github.com/go-daq/readout/rdo"
	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
)

func main() {
	var (
		srcID = flag.Uint("src-id", 23, "source ID of the emulated link")
		rate  = flag.Float64("rate-khz", 10, "replay rate (kHz)")
		fname = flag.String("file", "", "raw frame dump to replay")
		limit = flag.Int("size-limit", 8<<30, "input file size limit (bytes)")
		first = flag.Uint64("first-ts", 0, "first fake timestamp")
	)

	// flags.New parses the command line.
	cmd := flags.New()

	dev := &emuSrv{
		cfg: emu.Config{
			SourceID:  uint32(*srcID),
			RateKHz:   *rate,
			InputFile: *fname,
			SizeLimit: *limit,
			FirstTS:   *first,
		},
		out: rdo.NewElementQueue(65536),
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/raw", dev.raw)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type emuSrv struct {
	cfg emu.Config
	out *rdo.ElementQueue
	emu *emu.Emulator
}

func (dev *emuSrv) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	if dev.emu != nil {
		dev.emu.Scrap()
	}
	dev.emu = emu.New(dev.cfg, dlf.Default, dev.out, ctx.Msg)
	err := dev.emu.Conf()
	if err != nil {
		ctx.Msg.Errorf("could not configure emulator: %+v", err)
		return err
	}
	return nil
}

func (dev *emuSrv) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	return nil
}

func (dev *emuSrv) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	if dev.emu != nil {
		dev.emu.Scrap()
		dev.emu = nil
	}
	return nil
}

func (dev *emuSrv) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	if dev.emu == nil {
		return nil
	}
	return dev.emu.Start()
}

func (dev *emuSrv) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	if dev.emu == nil {
		return nil
	}
	dev.emu.Stop()
	ctx.Msg.Infof("emulator stopped: sent=%d dropped=%d", dev.emu.Sent(), dev.emu.Dropped())
	return nil
}

func (dev *emuSrv) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	if dev.emu != nil {
		dev.emu.Scrap()
		dev.emu = nil
	}
	return nil
}

func (dev *emuSrv) raw(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case el := <-dev.out.C():
		dst.Body = el
	}
	return nil
}
