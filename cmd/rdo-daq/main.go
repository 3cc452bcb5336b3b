// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command rdo-daq runs the data-handling pipeline of one detector
// link as a TDAQ server: it ingests raw frames, services time-windowed
// data requests with fragments, and broadcasts time-sync beacons.
package main // import "github.com/go-daq/readout/cmd/rdo-daq"

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-daq/readout/buffer"
	"github.com/go-daq/readout/conddb"
	"github.com/go-daq/readout/dlf"
	"github.com/go-daq/readout/emu"
	"github.com/go-daq/readout/rdo"
	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
)

func main() {
	var cfg daqConfig

	flag.UintVar(&cfg.srcID, "src-id", 23, "source ID of this link")
	flag.UintVar(&cfg.detID, "det-id", 2, "detector ID")
	flag.IntVar(&cfg.bufSize, "buf-size", 100_000, "latency buffer capacity (elements)")
	flag.StringVar(&cfg.bufKind, "buf-kind", "ring", "latency buffer kind (ring|tree)")
	flag.Float64Var(&cfg.popLimitPct, "pop-limit-pct", 0.8, "occupancy fraction triggering cleanup")
	flag.Float64Var(&cfg.popSizePct, "pop-size-pct", 0.1, "occupancy fraction popped per cleanup")
	flag.IntVar(&cfg.threads, "handler-threads", 4, "request-pool size")
	flag.DurationVar(&cfg.reqTimeout, "request-timeout", 2*time.Second, "request deferral deadline (0 disables)")
	flag.BoolVar(&cfg.warnOnTimeout, "warn-on-timeout", false, "warn on deferred request expiry")
	flag.BoolVar(&cfg.warnOnEmpty, "warn-on-empty-buffer", false, "warn on requests hitting an empty buffer")
	flag.DurationVar(&cfg.periodicTx, "periodic-tx", 0, "periodic data transmission interval (0 disables)")
	flag.StringVar(&cfg.recFile, "record-output", "", "recording output file (empty disables recording)")
	flag.IntVar(&cfg.recBuffer, "record-buffer", 8<<20, "recording stream buffer size")
	flag.StringVar(&cfg.recCompression, "record-compression", "none", "recording compression (none|zstd)")
	flag.BoolVar(&cfg.recODirect, "record-o-direct", false, "zero-copy recording with O_DIRECT")
	flag.BoolVar(&cfg.postProcessing, "post-processing", true, "enable post-processing tasks")
	flag.Uint64Var(&cfg.delayTicks, "post-processing-delay-ticks", 0, "post-processing delay (DTS ticks)")
	flag.StringVar(&cfg.rawEndpoint, "raw-endpoint", "cb_raw", "raw frame source name (cb_ prefix selects push mode)")
	flag.DurationVar(&cfg.rawTimeout, "raw-timeout", 100*time.Millisecond, "pull-mode receive timeout")
	flag.BoolVar(&cfg.timesync, "timesync", true, "emit time-sync beacons")
	flag.BoolVar(&cfg.fakeTrigger, "fake-trigger", false, "synthesise data requests off time-syncs (diagnostics)")
	flag.StringVar(&cfg.emuFile, "emu", "", "replay this dump with the embedded emulator")
	flag.Float64Var(&cfg.emuRate, "emu-rate-khz", 10, "embedded emulator rate (kHz)")
	flag.StringVar(&cfg.ctlAddr, "ctl-addr", ":8877", "record/status control socket address")
	flag.StringVar(&cfg.rundb, "rundb", "", "run-condition database name (empty disables)")

	cmd := flags.New()

	dev := &daqSrv{cfg: cfg}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.InputHandle("/requests", dev.onRequest)
	srv.InputHandle("/raw", dev.onRaw)
	srv.OutputHandle("/fragments", dev.fragments)
	srv.OutputHandle("/timesync", dev.timesync)

	srv.RunHandle(dev.serveCtl)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type daqConfig struct {
	srcID   uint
	detID   uint
	bufSize int
	bufKind string

	popLimitPct float64
	popSizePct  float64
	threads     int
	reqTimeout  time.Duration

	warnOnTimeout bool
	warnOnEmpty   bool
	periodicTx    time.Duration

	recFile        string
	recBuffer      int
	recCompression string
	recODirect     bool

	postProcessing bool
	delayTicks     uint64

	rawEndpoint string
	rawTimeout  time.Duration
	timesync    bool
	fakeTrigger bool

	emuFile string
	emuRate float64

	ctlAddr string
	rundb   string
}

type daqSrv struct {
	cfg daqConfig

	desc  dlf.Desc
	buf   buffer.Buffer
	model *rdo.Model
	emu   *emu.Emulator

	raw  *rdo.ElementQueue
	frag *rdo.FragmentQueue
	tsq  *rdo.TimeSyncQueue

	db  *conddb.DB
	run uint32

	dispatch atomic.Bool
}

func (dev *daqSrv) sourceID() rdo.SourceID {
	return rdo.SourceID{Subsystem: dlf.Subsystem, ID: uint32(dev.cfg.srcID)}
}

func (dev *daqSrv) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	if dev.model != nil {
		ctx.Msg.Errorf("pipeline already configured")
		return fmt.Errorf("rdo-daq: pipeline already configured")
	}

	cfg := dev.cfg
	dev.desc = dlf.Default

	var (
		buf buffer.Buffer
		err error
	)
	switch cfg.bufKind {
	case "ring":
		buf, err = buffer.NewRing(dev.desc, cfg.bufSize, true)
	case "tree":
		buf, err = buffer.NewTree(dev.desc, cfg.bufSize)
	default:
		err = fmt.Errorf("rdo-daq: unknown buffer kind %q", cfg.bufKind)
	}
	if err != nil {
		ctx.Msg.Errorf("could not allocate latency buffer: %+v", err)
		return err
	}
	dev.buf = buf

	var (
		reg = rdo.NewErrorRegistry()
		msg = ctx.Msg
	)

	proc := rdo.NewProcessor(dev.desc, reg, cfg.postProcessing, msg)
	proc.AddPreProcess(rdo.MonotonicityCheck(dev.desc, reg, msg))
	if cfg.postProcessing {
		gap, _ := rdo.GapHistogram(dev.desc)
		proc.AddPostProcess(gap, 4096)
	}

	dev.raw = rdo.NewElementQueue(65536)
	dev.frag = rdo.NewFragmentQueue(1024, time.Second)
	dev.tsq = rdo.NewTimeSyncQueue(64)

	hcfg := rdo.HandlerConfig{
		SourceID:       dev.sourceID(),
		DetectorID:     uint32(cfg.detID),
		PopLimitPct:    cfg.popLimitPct,
		PopSizePct:     cfg.popSizePct,
		NumThreads:     cfg.threads,
		RequestTimeout: cfg.reqTimeout,

		WarnOnTimeout:     cfg.warnOnTimeout,
		WarnOnEmptyBuffer: cfg.warnOnEmpty,
		PeriodicTx:        cfg.periodicTx,

		Recording: rdo.RecordingConfig{
			OutputFile:       cfg.recFile,
			StreamBufferSize: cfg.recBuffer,
			Compression:      cfg.recCompression,
			UseODirect:       cfg.recODirect,
		},
	}

	var handler rdo.RequestHandler
	switch {
	case cfg.recODirect && cfg.recFile != "":
		handler, err = rdo.NewZeroCopyHandler(hcfg, dev.desc, buf, reg, dev.frag, msg)
	default:
		handler, err = rdo.NewHandler(hcfg, dev.desc, buf, reg, dev.frag, msg)
	}
	if err != nil {
		ctx.Msg.Errorf("could not configure request handler: %+v", err)
		return err
	}

	var tsSnd rdo.TimeSyncSender
	if cfg.timesync {
		tsSnd = dev.tsq
	}

	model, err := rdo.NewModel(rdo.ModelConfig{
		SourceID:             dev.sourceID(),
		RawEndpoint:          cfg.rawEndpoint,
		RawTimeout:           cfg.rawTimeout,
		GenerateTimeSync:     cfg.timesync,
		FakeTrigger:          cfg.fakeTrigger,
		ProcessingDelayTicks: cfg.delayTicks,
	}, dev.desc, buf, proc, handler, dev.raw, tsSnd, msg)
	if err != nil {
		ctx.Msg.Errorf("could not assemble pipeline: %+v", err)
		return err
	}
	err = model.Conf()
	if err != nil {
		ctx.Msg.Errorf("could not configure pipeline: %+v", err)
		return err
	}
	dev.model = model

	if cfg.emuFile != "" {
		dev.emu = emu.New(emu.Config{
			SourceID:  uint32(cfg.srcID),
			RateKHz:   cfg.emuRate,
			InputFile: cfg.emuFile,
			SizeLimit: 8 << 30,
		}, dev.desc, dev.raw, msg)
		err = dev.emu.Conf()
		if err != nil {
			ctx.Msg.Errorf("could not configure emulator: %+v", err)
			return err
		}
	}

	if cfg.rundb != "" {
		db, err := conddb.Open(cfg.rundb)
		if err != nil {
			ctx.Msg.Warnf("could not open run database: %+v", err)
		} else {
			dev.db = db
		}
	}

	return nil
}

func (dev *daqSrv) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	return nil
}

func (dev *daqSrv) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	return dev.scrap()
}

func (dev *daqSrv) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	if dev.model == nil {
		return fmt.Errorf("rdo-daq: start before config")
	}

	dev.run++
	if dev.db != nil {
		if last, err := dev.db.LastRun(ctx.Ctx); err == nil && last >= dev.run {
			dev.run = last + 1
		}
		if err := dev.db.BeginRun(ctx.Ctx, dev.run); err != nil {
			ctx.Msg.Warnf("could not record start of run %d: %+v", dev.run, err)
		}
	}

	err := dev.model.Start(dev.run)
	if err != nil {
		return fmt.Errorf("rdo-daq: could not start pipeline: %w", err)
	}
	if dev.emu != nil {
		err = dev.emu.Start()
		if err != nil {
			return fmt.Errorf("rdo-daq: could not start emulator: %w", err)
		}
	}
	dev.dispatch.Store(true)
	ctx.Msg.Infof("run %d started (source %v)", dev.run, dev.sourceID())
	return nil
}

func (dev *daqSrv) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")
	if dev.model == nil {
		return nil
	}

	// detach the dispatcher before anything else: no new requests
	// during teardown.
	dev.dispatch.Store(false)
	if dev.emu != nil {
		dev.emu.Stop()
	}
	dev.model.Stop()

	stats := dev.model.Stats()
	ctx.Msg.Infof("run %d stopped: payloads=%d overwritten=%d requests=%d",
		dev.run, stats.SumPayloads, stats.PayloadsOverwritten, stats.SumRequests)
	if dev.db != nil {
		err := dev.db.EndRun(ctx.Ctx, dev.run, stats.SumPayloads, stats.SumRequests)
		if err != nil {
			ctx.Msg.Warnf("could not record end of run %d: %+v", dev.run, err)
		}
	}
	return nil
}

func (dev *daqSrv) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	return dev.scrap()
}

func (dev *daqSrv) scrap() error {
	if dev.model == nil {
		return nil
	}
	err := dev.model.Scrap()
	if dev.emu != nil {
		dev.emu.Scrap()
		dev.emu = nil
	}
	if dev.db != nil {
		_ = dev.db.Close()
		dev.db = nil
	}
	dev.model = nil
	dev.buf = nil
	return err
}

// onRequest dispatches one data request into the pipeline.
func (dev *daqSrv) onRequest(ctx tdaq.Context, src tdaq.Frame) error {
	if !dev.dispatch.Load() {
		return nil
	}
	dr := rdo.UnmarshalDataRequest(src.Body)
	err := dev.model.DispatchRequest(dr)
	if err != nil {
		ctx.Msg.Errorf("dropped request %d.%d: %+v", dr.TriggerNumber, dr.SequenceNumber, err)
	}
	return nil
}

// onRaw feeds push-mode frames into the consumer bound in the callback
// registry.
func (dev *daqSrv) onRaw(ctx tdaq.Context, src tdaq.Frame) error {
	consume, ok := rdo.Callback(dev.cfg.rawEndpoint)
	if !ok {
		return nil
	}
	consume(dlf.Element(src.Body))
	return nil
}

func (dev *daqSrv) fragments(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case frag := <-dev.frag.C():
		raw, err := frag.MarshalBinary()
		if err != nil {
			return fmt.Errorf("rdo-daq: could not marshal fragment: %w", err)
		}
		dst.Body = raw
	}
	return nil
}

func (dev *daqSrv) timesync(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case ts := <-dev.tsq.C():
		dst.Body = ts.MarshalTDAQ()
	}
	return nil
}

// serveCtl accepts record/status commands on the control socket, in a
// small JSON protocol.
func (dev *daqSrv) serveCtl(ctx tdaq.Context) error {
	l, err := net.Listen("tcp", dev.cfg.ctlAddr)
	if err != nil {
		return fmt.Errorf("rdo-daq: could not listen on %q: %w", dev.cfg.ctlAddr, err)
	}
	go func() {
		<-ctx.Ctx.Done()
		_ = l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("rdo-daq: could not accept control connection: %w", err)
		}
		dev.handleCtl(ctx, conn)
	}
}

func (dev *daqSrv) handleCtl(ctx tdaq.Context, conn net.Conn) {
	defer conn.Close()

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req struct {
			Name string           `json:"name"`
			Args *json.RawMessage `json:"args"`
		}
		err := dec.Decode(&req)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				ctx.Msg.Warnf("could not decode control request: %+v", err)
			}
			return
		}

		switch strings.ToLower(req.Name) {
		case "record":
			var args struct {
				Duration int `json:"duration"`
			}
			if req.Args != nil {
				_ = json.Unmarshal(*req.Args, &args)
			}
			if args.Duration <= 0 {
				dev.reply(enc, fmt.Errorf("missing or invalid duration"))
				continue
			}
			if dev.model == nil {
				dev.reply(enc, fmt.Errorf("not configured"))
				continue
			}
			err := dev.model.Record(time.Duration(args.Duration) * time.Second)
			dev.reply(enc, err)

		case "status":
			if dev.model == nil {
				dev.reply(enc, fmt.Errorf("not configured"))
				continue
			}
			stats := dev.model.Stats()
			_ = enc.Encode(stats)

		default:
			dev.reply(enc, fmt.Errorf("unknown command %q", req.Name))
		}
	}
}

func (dev *daqSrv) reply(enc *json.Encoder, err error) {
	rep := struct {
		Msg string `json:"msg"`
	}{"ok"}
	if err != nil {
		rep.Msg = fmt.Sprintf("%+v", err)
	}
	_ = enc.Encode(rep)
}
