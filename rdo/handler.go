// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rdo

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-daq/readout/buffer"
	"github.com/go-daq/readout/dlf"
	"github.com/go-daq/tdaq/log"
)

// ResultCode classifies the outcome of one data request against the
// latency-buffer content at lookup time.
type ResultCode int

const (
	ResultUnknown ResultCode = iota
	ResultFound
	ResultNotFound
	ResultPartial
	ResultNotYet
	ResultTooOld
	ResultPartiallyOld
)

func (rc ResultCode) String() string {
	switch rc {
	case ResultFound:
		return "found"
	case ResultNotFound:
		return "not-found"
	case ResultPartial:
		return "partial"
	case ResultNotYet:
		return "not-yet"
	case ResultTooOld:
		return "too-old"
	case ResultPartiallyOld:
		return "partially-old"
	}
	return "unknown"
}

// RequestResult carries the outcome of one data request.
type RequestResult struct {
	Code    ResultCode
	Request DataRequest
	Frag    *Fragment
}

// RecordingConfig holds the data-recorder parameters of a handler.
type RecordingConfig struct {
	OutputFile       string
	StreamBufferSize int
	Compression      string
	UseODirect       bool
}

// HandlerConfig holds the request-handler parameters.
type HandlerConfig struct {
	SourceID   SourceID
	DetectorID uint32

	PopLimitPct float64 // buffer occupancy fraction triggering cleanup
	PopSizePct  float64 // fraction of occupancy popped per cleanup

	NumThreads     int           // request pool size
	RequestTimeout time.Duration // deferral deadline; <= 0 disables deferral

	WarnOnTimeout     bool
	WarnOnEmptyBuffer bool

	PeriodicTx time.Duration // 0 disables the periodic-transmission thread

	Recording RecordingConfig
}

type reqItem struct {
	req   DataRequest
	retry bool
	stop  bool
}

type waitingRequest struct {
	req   DataRequest
	start time.Time
}

// Handler services time-windowed data requests out of one link's
// latency buffer, keeps the buffer occupancy below its watermark, and
// optionally records windows of frames to disk.
type Handler struct {
	cfg  HandlerConfig
	desc dlf.Desc
	buf  buffer.Buffer
	reg  *ErrorRegistry
	msg  log.MsgStream
	tbl  SenderTable

	popLimit int

	run   atomic.Bool
	reqCh chan reqItem
	pool  sync.WaitGroup
	aux   sync.WaitGroup

	// cleanup/request exclusion: requests never hold pieces whose
	// memory a cleanup is retiring.
	mu               sync.Mutex
	cv               *sync.Cond
	requestsRunning  int
	cleanupRequested bool

	wmu     sync.Mutex
	waiting []waitingRequest

	recording      atomic.Bool
	recWG          sync.WaitGroup
	nextTSToRecord atomic.Uint64
	writer         *Writer

	cutoff atomic.Uint64

	// PeriodicHook, when set, runs every PeriodicTx without waiting
	// for a request.
	PeriodicHook func()

	stats handlerStats
}

type handlerStats struct {
	handled       atomic.Int64
	found         atomic.Int64
	bad           atomic.Int64
	oldWindow     atomic.Int64
	delayed       atomic.Int64
	uncategorized atomic.Int64
	timedOut      atomic.Int64
	cleanups      atomic.Int64
	popReqs       atomic.Int64
	pops          atomic.Int64
	payloads      atomic.Int64
	bytes         atomic.Int64
	failedWrites  atomic.Int64
}

func (s *handlerStats) reset() {
	s.handled.Store(0)
	s.found.Store(0)
	s.bad.Store(0)
	s.oldWindow.Store(0)
	s.delayed.Store(0)
	s.uncategorized.Store(0)
	s.timedOut.Store(0)
	s.cleanups.Store(0)
	s.popReqs.Store(0)
	s.pops.Store(0)
	s.payloads.Store(0)
	s.bytes.Store(0)
	s.failedWrites.Store(0)
}

// HandlerStats is a snapshot of the handler counters.
type HandlerStats struct {
	RequestsHandled       int64
	RequestsFound         int64
	RequestsBad           int64
	RequestsOldWindow     int64
	RequestsDelayed       int64
	RequestsUncategorized int64
	RequestsTimedOut      int64
	BufferCleanups        int64
	PopRequests           int64
	PopsCount             int64
	PayloadsWritten       int64
	BytesWritten          int64
	FailedWrites          int64
	RequestsWaiting       int
}

// NewHandler configures a request handler over buf. The latency buffer
// must already be configured; NewHandler does not check its alignment
// (NewZeroCopyHandler does).
func NewHandler(cfg HandlerConfig, desc dlf.Desc, buf buffer.Buffer, reg *ErrorRegistry, tbl SenderTable, msg log.MsgStream) (*Handler, error) {
	if cfg.PopLimitPct < 0 || cfg.PopLimitPct > 1 || cfg.PopSizePct < 0 || cfg.PopSizePct > 1 {
		return nil, fmt.Errorf("rdo: source %v: auto-pop percentage out of range", cfg.SourceID)
	}
	if cfg.NumThreads <= 0 {
		cfg.NumThreads = 2
	}
	h := &Handler{
		cfg:      cfg,
		desc:     desc,
		buf:      buf,
		reg:      reg,
		msg:      msg,
		tbl:      tbl,
		popLimit: int(cfg.PopLimitPct * float64(buf.Capacity())),
	}
	h.cv = sync.NewCond(&h.mu)
	h.nextTSToRecord.Store(math.MaxUint64)

	if cfg.Recording.OutputFile != "" {
		w, err := NewWriter(cfg.Recording.OutputFile,
			cfg.Recording.StreamBufferSize, cfg.Recording.Compression)
		if err != nil {
			return nil, fmt.Errorf("rdo: could not configure recording: %w", err)
		}
		h.writer = w
	}

	msg.Debugf("rdo: handler configured: auto-pop limit %.0f%%, auto-pop size %.0f%%",
		cfg.PopLimitPct*100, cfg.PopSizePct*100)
	return h, nil
}

// Start resets the counters and spins up the request pool, the
// waiting-queue scanner, the cleanup goroutine, and the optional
// periodic-transmission goroutine.
func (h *Handler) Start() {
	h.stats.reset()
	h.cutoff.Store(0)
	h.run.Store(true)

	h.reqCh = make(chan reqItem, 2*h.cfg.NumThreads)
	for i := 0; i < h.cfg.NumThreads; i++ {
		h.pool.Add(1)
		go h.worker()
	}

	h.aux.Add(1)
	go h.periodicCleanups()
	h.aux.Add(1)
	go h.checkWaitingRequests()
	if h.cfg.PeriodicTx > 0 && h.PeriodicHook != nil {
		h.aux.Add(1)
		go h.periodicTransmissions()
	}
}

// Stop drains outstanding deferred requests, joins every goroutine,
// and waits for a pending recording to complete.
func (h *Handler) Stop() {
	h.run.Store(false)
	h.aux.Wait()

	// outstanding deferred requests respond with whatever is there.
	h.wmu.Lock()
	waiting := h.waiting
	h.waiting = nil
	h.wmu.Unlock()
	for _, w := range waiting {
		h.reqCh <- reqItem{req: w.req, retry: true}
	}

	for i := 0; i < h.cfg.NumThreads; i++ {
		h.reqCh <- reqItem{stop: true}
	}
	h.pool.Wait()
	h.recWG.Wait()
}

// Scrap releases the recording writer.
func (h *Handler) Scrap() error {
	if h.writer != nil {
		err := h.writer.Close()
		h.writer = nil
		return err
	}
	return nil
}

// Stats returns a snapshot of the handler counters.
func (h *Handler) Stats() HandlerStats {
	h.wmu.Lock()
	waiting := len(h.waiting)
	h.wmu.Unlock()
	return HandlerStats{
		RequestsHandled:       h.stats.handled.Load(),
		RequestsFound:         h.stats.found.Load(),
		RequestsBad:           h.stats.bad.Load(),
		RequestsOldWindow:     h.stats.oldWindow.Load(),
		RequestsDelayed:       h.stats.delayed.Load(),
		RequestsUncategorized: h.stats.uncategorized.Load(),
		RequestsTimedOut:      h.stats.timedOut.Load(),
		BufferCleanups:        h.stats.cleanups.Load(),
		PopRequests:           h.stats.popReqs.Load(),
		PopsCount:             h.stats.pops.Load(),
		PayloadsWritten:       h.stats.payloads.Load(),
		BytesWritten:          h.stats.bytes.Load(),
		FailedWrites:          h.stats.failedWrites.Load(),
		RequestsWaiting:       waiting,
	}
}

// CutoffTimestamp returns the timestamp at or below which arriving frames
// are tardy: cleanups have already retired that part of the buffer.
func (h *Handler) CutoffTimestamp() uint64 { return h.cutoff.Load() }

// IssueRequest submits dr to the request pool.
func (h *Handler) IssueRequest(dr DataRequest) {
	if !h.run.Load() {
		h.stats.uncategorized.Add(1)
		return
	}
	h.reqCh <- reqItem{req: dr}
}

func (h *Handler) worker() {
	defer h.pool.Done()
	for item := range h.reqCh {
		if item.stop {
			return
		}
		h.handle(item)
	}
}

func (h *Handler) handle(item reqItem) {
	t0 := time.Now()

	h.mu.Lock()
	for h.cleanupRequested {
		h.cv.Wait()
	}
	h.requestsRunning++
	h.mu.Unlock()

	res := h.dataRequest(item.req)

	h.mu.Lock()
	h.requestsRunning--
	h.mu.Unlock()
	h.cv.Broadcast()

	deferrable := res.Code == ResultNotYet || res.Code == ResultPartial
	if deferrable && h.cfg.RequestTimeout > 0 && !item.retry && h.run.Load() {
		h.msg.Debugf("rdo: re-queueing request with timestamp=%d", item.req.TriggerTimestamp)
		h.wmu.Lock()
		h.waiting = append(h.waiting, waitingRequest{req: item.req, start: time.Now()})
		h.wmu.Unlock()
	} else {
		snd, err := h.tbl.FragmentSender(item.req.Destination)
		if err == nil {
			err = snd.SendFragment(res.Frag)
		}
		if err != nil {
			h.msg.Warnf("rdo: source %v: could not send fragment to %q: %+v",
				h.cfg.SourceID, item.req.Destination, err)
		}
	}

	h.msg.Debugf("rdo: responding to data request took %v", time.Since(t0))
	h.stats.handled.Add(1)
}

// dataRequest performs the lookup and builds the (possibly partial or
// empty) fragment for dr.
func (h *Handler) dataRequest(dr DataRequest) RequestResult {
	res := RequestResult{Code: ResultUnknown, Request: dr}
	hdr := h.fragmentHeader(dr)

	var pieces [][]byte
	if h.buf.Occupancy() == 0 {
		if h.cfg.WarnOnEmptyBuffer {
			h.msg.Warnf("rdo: source %v: request on empty buffer", h.cfg.SourceID)
		}
		hdr.ErrorBits |= ErrDataNotFound
		res.Code = ResultNotFound
		h.stats.bad.Add(1)
	} else {
		pieces = h.fragmentPieces(dr.Info.WindowBegin, dr.Info.WindowEnd, &res)

		switch res.Code {
		case ResultTooOld:
			h.stats.oldWindow.Add(1)
			h.stats.bad.Add(1)
			hdr.ErrorBits |= ErrDataNotFound
		case ResultPartiallyOld:
			h.stats.oldWindow.Add(1)
			h.stats.found.Add(1)
			hdr.ErrorBits |= ErrIncomplete | ErrDataNotFound
		case ResultFound:
			h.stats.found.Add(1)
		case ResultPartial:
			hdr.ErrorBits |= ErrIncomplete
			h.stats.delayed.Add(1)
		case ResultNotYet:
			hdr.ErrorBits |= ErrDataNotFound
			h.stats.delayed.Add(1)
		default:
			h.stats.bad.Add(1)
			hdr.ErrorBits |= ErrDataNotFound
		}
	}

	res.Frag = &Fragment{Hdr: hdr, Pieces: pieces}
	return res
}

// fragmentPieces gathers the scatter-gather pieces overlapping
// [s, e) and classifies the request. The pieces alias latency-buffer
// memory: the caller runs under the request/cleanup exclusion.
func (h *Handler) fragmentPieces(s, e uint64, res *RequestResult) [][]byte {
	front := h.buf.Front()
	back := h.buf.Back()
	if front == nil || back == nil {
		res.Code = ResultNotFound
		return nil
	}
	var (
		oldest = front.Timestamp()
		newest = back.Timestamp()
	)

	if s > newest {
		// the whole window is in the future: give it another chance.
		res.Code = ResultNotYet
		return nil
	}
	if e < oldest {
		res.Code = ResultTooOld
		return nil
	}

	// start one stride early so the first element whose span covers
	// s is picked up.
	key := uint64(0)
	if stride := h.desc.Stride(); s > stride {
		key = s - stride
	}
	if key < oldest {
		// a window opening before the front starts at the oldest element.
		key = oldest
	}
	it := h.buf.LowerBound(key, h.reg.HasError(ErrMissingFrames))
	if !it.Good() {
		res.Code = ResultNotFound
		return nil
	}

	switch {
	case e > newest:
		res.Code = ResultPartial
	case s < oldest:
		res.Code = ResultPartiallyOld
	default:
		res.Code = ResultFound
	}

	var pieces [][]byte
	for ; it.Good(); it.Next() {
		el := it.Element()
		ts := el.Timestamp()
		if ts >= e {
			break
		}
		var (
			n    = h.desc.NumFrames(el)
			span = uint64(n) * h.desc.TickDiff
		)
		switch {
		case ts+span <= s:
			// ends before the window: skip entirely.
		case n > 1 && ((ts < s && ts+span > s) || ts+span > e):
			// straddles a boundary: slice the element sub-frame by
			// sub-frame.
			for i := 0; i < n; i++ {
				sub := h.desc.Frame(el, i)
				sts := sub.Timestamp()
				if sts+h.desc.TickDiff > s && sts < e {
					pieces = append(pieces, sub)
				}
			}
		default:
			pieces = append(pieces, el[:h.desc.PayloadSize(el)])
		}
	}
	return pieces
}

func (h *Handler) fragmentHeader(dr DataRequest) FragmentHeader {
	return FragmentHeader{
		TriggerNumber:    dr.TriggerNumber,
		SequenceNumber:   dr.SequenceNumber,
		RunNumber:        dr.RunNumber,
		TriggerTimestamp: dr.TriggerTimestamp,
		WindowBegin:      dr.Info.WindowBegin,
		WindowEnd:        dr.Info.WindowEnd,
		DetectorID:       h.cfg.DetectorID,
		FragmentType:     dlf.FragmentType,
		ElementID:        h.cfg.SourceID,
		ErrorBits:        0,
	}
}

// emptyFragment builds a fragment with no payload and the
// data-not-found bit set.
func (h *Handler) emptyFragment(dr DataRequest) *Fragment {
	hdr := h.fragmentHeader(dr)
	hdr.ErrorBits |= ErrDataNotFound
	return &Fragment{Hdr: hdr}
}

func (h *Handler) periodicCleanups() {
	defer h.aux.Done()
	for h.run.Load() {
		h.cleanupCheck()
		time.Sleep(50 * time.Millisecond)
	}
}

func (h *Handler) cleanupCheck() {
	h.mu.Lock()
	if h.buf.Occupancy() > h.popLimit && !h.cleanupRequested {
		h.cleanupRequested = true
		for h.requestsRunning != 0 {
			h.cv.Wait()
		}
		h.cleanup()
		h.cleanupRequested = false
		h.mu.Unlock()
		h.cv.Broadcast()
		return
	}
	h.mu.Unlock()
}

// cleanup pops a configured fraction of the occupancy off the front,
// never past the recording cursor.
func (h *Handler) cleanup() {
	occ := h.buf.Occupancy()
	if occ > h.popLimit {
		h.stats.popReqs.Add(1)
		var (
			toPop  = int(h.cfg.PopSizePct * float64(occ))
			popped = 0
			recTS  = h.nextTSToRecord.Load()
		)
		for i := 0; i < toPop; i++ {
			front := h.buf.Front()
			if front == nil || front.Timestamp() >= recTS {
				break
			}
			h.cutoff.Store(front.Timestamp())
			h.buf.Pop(1)
			popped++
		}
		h.stats.pops.Add(int64(popped))
		if front := h.buf.Front(); front != nil {
			h.reg.RemoveErrorsUntil(front.Timestamp())
		}
	}
	h.stats.cleanups.Add(1)
}

// checkWaitingRequests scans the deferral list: a request is retried
// once, either because data past its window arrived or because it
// timed out.
func (h *Handler) checkWaitingRequests() {
	defer h.aux.Done()
	for h.run.Load() {
		var retries []DataRequest

		h.wmu.Lock()
		if len(h.waiting) > 0 {
			var newest uint64
			if back := h.buf.Back(); back != nil {
				newest = back.Timestamp()
			}
			keep := h.waiting[:0]
			for _, w := range h.waiting {
				switch {
				case w.req.Info.WindowEnd < newest:
					retries = append(retries, w.req)
				case time.Since(w.start) >= h.cfg.RequestTimeout:
					retries = append(retries, w.req)
					if h.cfg.WarnOnTimeout {
						h.msg.Warnf("rdo: source %v: request %d.%d run=%d window=[%d,%d) to %q timed out",
							h.cfg.SourceID, w.req.TriggerNumber, w.req.SequenceNumber,
							w.req.RunNumber, w.req.Info.WindowBegin, w.req.Info.WindowEnd,
							w.req.Destination)
					}
					h.stats.bad.Add(1)
					h.stats.timedOut.Add(1)
				default:
					keep = append(keep, w)
				}
			}
			h.waiting = keep
		}
		h.wmu.Unlock()

		// submit outside the list lock: the pool may be busy
		// appending to the very same list.
		for _, req := range retries {
			h.reqCh <- reqItem{req: req, retry: true}
		}

		time.Sleep(time.Millisecond)
	}
}

func (h *Handler) periodicTransmissions() {
	defer h.aux.Done()
	for h.run.Load() {
		h.PeriodicHook()
		// sleep in slices so stop is answered quickly.
		for left := h.cfg.PeriodicTx; left > 0 && h.run.Load(); left -= 100 * time.Millisecond {
			d := left
			if d > 100*time.Millisecond {
				d = 100 * time.Millisecond
			}
			time.Sleep(d)
		}
	}
}

// Record streams the frames crossing the buffer to the recording file
// for the given duration. It fails when a recording is already running
// or the handler was not configured for recording.
func (h *Handler) Record(duration time.Duration) error {
	if h.recording.Load() {
		return fmt.Errorf("rdo: source %v: a recording is still running", h.cfg.SourceID)
	}
	if h.writer == nil {
		return fmt.Errorf("rdo: source %v: not configured for recording", h.cfg.SourceID)
	}
	h.recording.Store(true)
	h.recWG.Add(1)
	go func() {
		defer h.recWG.Done()
		h.doRecord(duration)
	}()
	return nil
}

// Recording reports whether a recording is in flight.
func (h *Handler) Recording() bool { return h.recording.Load() }

func (h *Handler) doRecord(duration time.Duration) {
	h.msg.Infof("rdo: source %v: start recording for %v", h.cfg.SourceID, duration)
	t0 := time.Now()
	h.nextTSToRecord.Store(0)

	for time.Since(t0) < duration {
		next := h.nextTSToRecord.Load()
		if next == 0 {
			front := h.buf.Front()
			if front == nil {
				time.Sleep(time.Millisecond)
				continue
			}
			next = front.Timestamp()
			h.nextTSToRecord.Store(next)
		}

		h.mu.Lock()
		for h.cleanupRequested {
			h.cv.Wait()
		}
		h.requestsRunning++
		h.mu.Unlock()

		it := h.buf.LowerBound(next, true)

		processed := 0
		for ; it.Good() && processed < 1000; it.Next() {
			el := it.Element()
			if el.Timestamp() < next {
				continue
			}
			if _, err := h.writer.Write(el[:h.desc.PayloadSize(el)]); err != nil {
				h.msg.Warnf("rdo: could not write to %q: %+v", h.writer.Path(), err)
				h.stats.failedWrites.Add(1)
			} else {
				h.stats.payloads.Add(1)
				h.stats.bytes.Add(int64(h.desc.PayloadSize(el)))
			}
			next = el.Timestamp() + uint64(h.desc.NumFrames(el))*h.desc.TickDiff
			processed++
		}
		h.nextTSToRecord.Store(next)

		h.mu.Lock()
		h.requestsRunning--
		h.mu.Unlock()
		h.cv.Broadcast()

		if processed == 0 {
			time.Sleep(time.Millisecond)
		}
	}

	h.nextTSToRecord.Store(math.MaxUint64)
	if err := h.writer.Flush(); err != nil {
		h.msg.Warnf("rdo: could not flush %q: %+v", h.writer.Path(), err)
		h.stats.failedWrites.Add(1)
	}
	h.recording.Store(false)
	h.msg.Infof("rdo: source %v: stop recording", h.cfg.SourceID)
}
