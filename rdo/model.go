// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rdo

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-daq/readout/buffer"
	"github.com/go-daq/readout/dlf"
	"github.com/go-daq/tdaq/log"
)

// RequestHandler is what the model needs from a request handler, in
// any of its variants.
type RequestHandler interface {
	Start()
	Stop()
	Scrap() error
	IssueRequest(dr DataRequest)
	CutoffTimestamp() uint64
	Record(d time.Duration) error
}

var (
	_ RequestHandler = (*Handler)(nil)
	_ RequestHandler = (*ZeroCopyHandler)(nil)
	_ RequestHandler = (*EmptyHandler)(nil)
)

// ModelConfig holds the per-link pipeline parameters.
type ModelConfig struct {
	SourceID SourceID

	// RawEndpoint names the raw-frame source. A "cb_" prefix selects
	// the push-mode consumer wired through the callback registry; any
	// other name uses the pull-mode consumer on Receiver.
	RawEndpoint string
	RawTimeout  time.Duration

	GenerateTimeSync bool
	FakeTrigger      bool

	// ProcessingDelayTicks, when non-zero, defers post-processing so
	// out-of-order frames can settle in the buffer first. The delayed
	// window runs in the pull-mode consumer only; the push-mode
	// consumer posts nothing to the post-processors when it is set.
	ProcessingDelayTicks uint64
}

// Model owns one link's latency buffer, raw processor and request
// handler, and runs the consumer and time-sync goroutines.
type Model struct {
	cfg     ModelConfig
	desc    dlf.Desc
	buf     buffer.Buffer
	proc    *Processor
	handler RequestHandler
	recv    Receiver
	tsSnd   TimeSyncSender
	msg     log.MsgStream

	callbackMode bool
	configured   bool

	run       atomic.Bool
	wg        sync.WaitGroup
	runNumber atomic.Uint32

	numPayloads    atomic.Int64
	sumPayloads    atomic.Int64
	overwritten    atomic.Int64
	rawTimeouts    atomic.Int64
	lateArrivals   atomic.Int64
	numRequests    atomic.Int64
	sumRequests    atomic.Int64
	badRequests    atomic.Int64
	fakeTriggerID  atomic.Uint64
	timesyncSeqNo  atomic.Uint64
	timesyncFailed atomic.Int64
}

// ModelStats is a snapshot of the model counters.
type ModelStats struct {
	NumPayloads         int64
	SumPayloads         int64
	PayloadsOverwritten int64
	RawTimeouts         int64
	LateArrivals        int64
	NumRequests         int64
	SumRequests         int64
	BadRequests         int64
	TimeSyncFailed      int64
	LastDAQTime         uint64
}

// NewModel assembles one link's pipeline from its parts.
func NewModel(cfg ModelConfig, desc dlf.Desc, buf buffer.Buffer, proc *Processor, handler RequestHandler, recv Receiver, tsSnd TimeSyncSender, msg log.MsgStream) (*Model, error) {
	m := &Model{
		cfg:     cfg,
		desc:    desc,
		buf:     buf,
		proc:    proc,
		handler: handler,
		recv:    recv,
		tsSnd:   tsSnd,
		msg:     msg,

		callbackMode: strings.HasPrefix(cfg.RawEndpoint, "cb_"),
	}
	if !m.callbackMode && recv == nil {
		return nil, fmt.Errorf("rdo: source %v: pull mode with no receiver", cfg.SourceID)
	}
	if cfg.GenerateTimeSync && tsSnd == nil {
		return nil, fmt.Errorf("rdo: source %v: time-sync enabled with no sender", cfg.SourceID)
	}
	return m, nil
}

// Conf binds the push-mode callback when the raw endpoint asks for it.
func (m *Model) Conf() error {
	if m.configured {
		return fmt.Errorf("rdo: source %v: already configured", m.cfg.SourceID)
	}
	if m.callbackMode {
		err := RegisterCallback(m.cfg.RawEndpoint, m.ConsumePayload)
		if err != nil {
			return fmt.Errorf("rdo: source %v: could not register consumer: %w",
				m.cfg.SourceID, err)
		}
	}
	m.configured = true
	return nil
}

// Start resets the counters and spins up the pipeline for the given
// run number.
func (m *Model) Start(run uint32) error {
	if !m.configured {
		return fmt.Errorf("rdo: source %v: start before conf", m.cfg.SourceID)
	}
	m.numPayloads.Store(0)
	m.sumPayloads.Store(0)
	m.overwritten.Store(0)
	m.rawTimeouts.Store(0)
	m.lateArrivals.Store(0)
	m.numRequests.Store(0)
	m.sumRequests.Store(0)
	m.badRequests.Store(0)
	m.timesyncSeqNo.Store(0)
	m.timesyncFailed.Store(0)
	m.runNumber.Store(run)

	m.msg.Debugf("rdo: source %v: starting threads...", m.cfg.SourceID)
	m.proc.Start()
	m.handler.Start()
	m.run.Store(true)

	if !m.callbackMode {
		m.wg.Add(1)
		go m.runConsume()
	}
	if m.cfg.GenerateTimeSync {
		m.wg.Add(1)
		go m.runTimeSync()
	}
	return nil
}

// Stop tears the pipeline down: the caller must have detached the
// request dispatcher already. The handler drains its deferred
// requests, then the consumer and time-sync goroutines join, the
// buffer is flushed and the processor torn down.
func (m *Model) Stop() {
	m.msg.Debugf("rdo: source %v: stopping threads...", m.cfg.SourceID)
	m.handler.Stop()
	m.run.Store(false)
	m.wg.Wait()

	m.msg.Debugf("rdo: source %v: flushing latency buffer with occupancy %d",
		m.cfg.SourceID, m.buf.Occupancy())
	m.buf.Flush()
	m.proc.Stop()
	m.proc.ResetLastDAQTime()
}

// Scrap releases every resource: the callback binding, the handler's
// files and the buffer memory.
func (m *Model) Scrap() error {
	if m.callbackMode {
		DeregisterCallback(m.cfg.RawEndpoint)
	}
	m.configured = false
	err := m.handler.Scrap()
	if cerr := m.buf.Close(); err == nil {
		err = cerr
	}
	return err
}

// Record forwards the record command to the request handler.
func (m *Model) Record(d time.Duration) error { return m.handler.Record(d) }

// Handler returns the request handler of this link.
func (m *Model) Handler() RequestHandler { return m.handler }

// Processor returns the raw processor of this link.
func (m *Model) Processor() *Processor { return m.proc }

// Stats returns a snapshot of the model counters.
func (m *Model) Stats() ModelStats {
	return ModelStats{
		NumPayloads:        m.numPayloads.Load(),
		SumPayloads:        m.sumPayloads.Load(),
		PayloadsOverwritten: m.overwritten.Load(),
		RawTimeouts:        m.rawTimeouts.Load(),
		LateArrivals:       m.lateArrivals.Load(),
		NumRequests:        m.numRequests.Load(),
		SumRequests:        m.sumRequests.Load(),
		BadRequests:        m.badRequests.Load(),
		TimeSyncFailed:     m.timesyncFailed.Load(),
		LastDAQTime:        m.proc.LastDAQTime(),
	}
}

// DispatchRequest validates and forwards one data request to the
// request handler. It is the dispatcher callback bound on start and
// detached on stop.
func (m *Model) DispatchRequest(dr DataRequest) error {
	if dr.Info.Component != m.cfg.SourceID {
		m.badRequests.Add(1)
		return fmt.Errorf("rdo: request source-id mismatch: got=%v, want=%v",
			dr.Info.Component, m.cfg.SourceID)
	}
	m.msg.Debugf("rdo: received request %d.%d window=[%d,%d) dest=%q",
		dr.TriggerNumber, dr.SequenceNumber,
		dr.Info.WindowBegin, dr.Info.WindowEnd, dr.Destination)
	m.handler.IssueRequest(dr)
	m.numRequests.Add(1)
	m.sumRequests.Add(1)
	return nil
}

// ConsumePayload is the push-mode consumer: an external IO goroutine
// hands frames in. It runs the same inner step as the pull consumer
// and, when ProcessingDelayTicks is zero, posts the newest element to
// the post-processors; with a processing delay it posts nothing, as
// the delayed post-processing window runs only in the pull consumer.
func (m *Model) ConsumePayload(el dlf.Element) {
	m.consume(el)
	if m.cfg.ProcessingDelayTicks == 0 {
		m.proc.Postprocess(m.buf.Back())
	}
}

// consume is the shared inner consumer function of the push and pull
// paths.
func (m *Model) consume(el dlf.Element) {
	m.proc.Preprocess(el)

	if cutoff := m.handler.CutoffTimestamp(); cutoff != 0 && el.Timestamp() <= cutoff {
		m.lateArrivals.Add(1)
		m.msg.Warnf("rdo: run %d: data packet arrived too late: ts=%d cutoff=%d",
			m.runNumber.Load(), el.Timestamp(), cutoff)
	}

	if !m.buf.Write(el) {
		m.overwritten.Add(1)
	}
	m.numPayloads.Add(1)
	m.sumPayloads.Add(1)
}

func (m *Model) runConsume() {
	defer m.wg.Done()
	m.msg.Debugf("rdo: source %v: consumer thread started...", m.cfg.SourceID)

	var (
		delay         = m.cfg.ProcessingDelayTicks
		lastPosted    uint64
		firstCycle    = true
		lastPostProcT = time.Now()
	)

	for m.run.Load() {
		el, ok := m.recv.TryRecv(m.cfg.RawTimeout)
		if ok {
			m.consume(el)
			if delay == 0 {
				m.proc.Postprocess(m.buf.Back())
			}
		} else {
			m.rawTimeouts.Add(1)
		}

		// delayed post-processing: let out-of-order frames settle
		// before handing [lastPosted, back-delay) to the analyses in
		// buffer order.
		if delay != 0 && m.buf.Occupancy() > 0 && time.Since(lastPostProcT) > time.Millisecond {
			lastPostProcT = time.Now()

			back := m.buf.Back()
			newest := back.Timestamp()

			if firstCycle {
				lastPosted = m.buf.Front().Timestamp()
				firstCycle = false
			}

			if newest-lastPosted > delay {
				endWin := newest - delay
				for it := m.buf.LowerBound(lastPosted, false); it.Good(); it.Next() {
					el := it.Element()
					if el.Timestamp() >= endWin {
						break
					}
					m.proc.Postprocess(el)
				}
				lastPosted = endWin
			}
		}
	}
	m.msg.Debugf("rdo: source %v: consumer thread joins...", m.cfg.SourceID)
}

// ticks per microsecond of the 62.5 MHz DTS clock.
const ticksPerUs = 62.5

func (m *Model) runTimeSync() {
	defer m.wg.Done()
	m.msg.Debugf("rdo: source %v: time-sync thread started...", m.cfg.SourceID)

	var (
		prev     uint64
		oncePerRun = true
		pid      = int32(os.Getpid())
	)

	for m.run.Load() {
		daq := m.proc.LastDAQTime()
		// daq is zero before the first frame, and unchanged when the
		// data stopped flowing. Neither is worth a beacon.
		if daq != 0 && daq != prev {
			prev = daq
			ts := TimeSync{
				DAQTime:    daq,
				SystemTime: uint64(time.Now().UnixNano()),
				RunNumber:  m.runNumber.Load(),
				SeqNumber:  m.timesyncSeqNo.Add(1),
				SourcePID:  pid,
			}
			m.msg.Debugf("rdo: new timesync: daq=%d wall=%d run=%d seqno=%d",
				ts.DAQTime, ts.SystemTime, ts.RunNumber, ts.SeqNumber)
			if err := m.tsSnd.SendTimeSync(ts); err != nil {
				m.timesyncFailed.Add(1)
				m.msg.Warnf("rdo: source %v: could not send timesync: %+v",
					m.cfg.SourceID, err)
			}

			if m.cfg.FakeTrigger {
				m.fakeTrigger(daq)
			}
		} else if daq == 0 && oncePerRun {
			m.msg.Infof("rdo: timesync with DAQ time 0 won't be sent, invalid sync")
			oncePerRun = false
		}

		// split the 100 ms sleep so stop is answered quickly.
		for i := 0; i < 10 && m.run.Load(); i++ {
			time.Sleep(10 * time.Millisecond)
		}
	}
	m.msg.Debugf("rdo: source %v: time-sync thread joins...", m.cfg.SourceID)
}

// fakeTrigger synthesises a data request off the latest timestamp, for
// diagnostics without a trigger plane.
func (m *Model) fakeTrigger(daq uint64) {
	const (
		offset = 100
		width  = 300000
	)
	var dr DataRequest
	dr.TriggerNumber = m.fakeTriggerID.Add(1)
	dr.RunNumber = m.runNumber.Load()
	if daq > 500*ticksPerUs {
		dr.TriggerTimestamp = daq - 500*ticksPerUs
	}
	if dr.TriggerTimestamp > offset {
		dr.Info.WindowBegin = dr.TriggerTimestamp - offset
	}
	dr.Info.WindowEnd = dr.Info.WindowBegin + width
	dr.Info.Component = m.cfg.SourceID
	dr.Destination = "fragments"
	m.msg.Debugf("rdo: issuing fake trigger: ts=%d window=[%d,%d)",
		dr.TriggerTimestamp, dr.Info.WindowBegin, dr.Info.WindowEnd)
	m.handler.IssueRequest(dr)
	m.numRequests.Add(1)
	m.sumRequests.Add(1)
}
