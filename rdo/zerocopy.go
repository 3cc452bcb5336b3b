// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rdo

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/go-daq/readout/buffer"
	"github.com/go-daq/readout/dlf"
	"github.com/go-daq/tdaq/log"
	"golang.org/x/sys/unix"
)

const recAlign = 4096

// ZeroCopyHandler is a request handler whose record command bypasses
// the buffered writer: whole chunks are written straight out of the
// latency-buffer memory (with O_DIRECT when Recording.UseODirect is
// set), skipping unaligned leading
// frames on the first pass and falling back to a plain write for the
// final unaligned tail.
type ZeroCopyHandler struct {
	*Handler

	fd    int
	oflag int
	fname string
}

// NewZeroCopyHandler configures a zero-copy recording handler over
// buf. The buffer must expose a contiguous region whose size is a
// multiple of 4096, and the streaming chunk size must be too.
func NewZeroCopyHandler(cfg HandlerConfig, desc dlf.Desc, buf buffer.Buffer, reg *ErrorRegistry, tbl SenderTable, msg log.MsgStream) (*ZeroCopyHandler, error) {
	rec := cfg.Recording
	if rec.OutputFile == "" {
		return nil, fmt.Errorf("rdo: source %v: zero-copy recording needs an output file", cfg.SourceID)
	}
	if buf.Alignment() == 0 || len(buf.Region())%recAlign != 0 {
		return nil, fmt.Errorf("rdo: source %v: latency buffer is not 4kB aligned", cfg.SourceID)
	}
	if rec.StreamBufferSize <= 0 || rec.StreamBufferSize%recAlign != 0 {
		return nil, fmt.Errorf("rdo: source %v: streaming chunk size is not divisible by 4kB", cfg.SourceID)
	}

	fname := fmt.Sprintf("%s_%d-%d.bin", rec.OutputFile, cfg.SourceID.Subsystem, cfg.SourceID.ID)
	// a file from a previous run may be in the way.
	_ = os.Remove(fname)

	oflag := unix.O_CREAT | unix.O_WRONLY
	if rec.UseODirect {
		oflag |= unix.O_DIRECT
	}
	fd, err := unix.Open(fname, oflag, 0644)
	if err != nil {
		return nil, fmt.Errorf("rdo: source %v: could not open %q: %w", cfg.SourceID, fname, err)
	}

	// the base handler must not open a buffered writer on top.
	cfg.Recording.OutputFile = ""
	h, err := NewHandler(cfg, desc, buf, reg, tbl, msg)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &ZeroCopyHandler{
		Handler: h,
		fd:      fd,
		oflag:   oflag,
		fname:   fname,
	}, nil
}

// Record streams the raw buffer memory to the recording file for the
// given duration.
func (h *ZeroCopyHandler) Record(duration time.Duration) error {
	if h.recording.Load() {
		return fmt.Errorf("rdo: source %v: a recording is still running", h.cfg.SourceID)
	}
	h.recording.Store(true)
	h.recWG.Add(1)
	go func() {
		defer h.recWG.Done()
		h.doRecordDirect(duration)
	}()
	return nil
}

// Scrap closes the recording file descriptor.
func (h *ZeroCopyHandler) Scrap() error {
	if h.fd >= 0 {
		unix.Close(h.fd)
		h.fd = -1
	}
	return h.Handler.Scrap()
}

func (h *ZeroCopyHandler) doRecordDirect(duration time.Duration) {
	var (
		region = h.buf.Region()
		chunk  = h.cfg.Recording.StreamBufferSize
		elsz   = h.desc.ElementSize()
		wr     = -1 // write offset into region, -1 until latched
		t0     = time.Now()
	)

	h.msg.Infof("rdo: source %v: start zero-copy recording for %v", h.cfg.SourceID, duration)
	h.nextTSToRecord.Store(0)

	for time.Since(t0) < duration {
		h.mu.Lock()
		for h.cleanupRequested {
			h.cv.Wait()
		}
		h.requestsRunning++
		h.mu.Unlock()

		if wr < 0 {
			wr = h.alignedStart(region, elsz)
		}

		if wr >= 0 {
			end := h.endOffset(elsz)
			for i := 0; i < 100; i++ {
				avail := end - wr
				if avail < 0 {
					avail += len(region)
				}
				if avail < chunk {
					break
				}
				tail := len(region) - wr
				switch {
				case tail >= chunk:
					h.writeDirect(region[wr : wr+chunk])
					wr += chunk
					if wr == len(region) {
						wr = 0
					}
				default:
					// the final sub-chunk of the region does not fill
					// a whole chunk: write it without O_DIRECT.
					h.writePlain(region[wr:])
					wr = 0
				}
				// last frame fully written so far caps the cleanup.
				h.nextTSToRecord.Store(h.frameTS(region, wr/elsz*elsz))
			}
		}

		h.mu.Lock()
		h.requestsRunning--
		h.mu.Unlock()
		h.cv.Broadcast()

		time.Sleep(time.Millisecond)
	}

	h.nextTSToRecord.Store(math.MaxUint64)
	h.recording.Store(false)
	h.msg.Infof("rdo: source %v: stop zero-copy recording", h.cfg.SourceID)
}

// alignedStart finds the offset of the first stored element sitting on
// an alignment boundary, -1 when there is none yet.
func (h *ZeroCopyHandler) alignedStart(region []byte, elsz int) int {
	front := h.buf.Front()
	if front == nil {
		return -1
	}
	h.nextTSToRecord.Store(front.Timestamp())

	skipped := 0
	off := h.frontOffset(region, front)
	end := h.endOffset(elsz)
	for off != end {
		if off%recAlign == 0 {
			if skipped > 0 {
				h.msg.Debugf("rdo: skipped %d unaligned leading frames", skipped)
			}
			return off
		}
		off += elsz
		if off >= len(region) {
			off = 0
		}
		skipped++
	}
	return -1
}

func (h *ZeroCopyHandler) frontOffset(region []byte, front dlf.Element) int {
	for off := 0; off+h.desc.ElementSize() <= len(region); off += h.desc.ElementSize() {
		if &region[off] == &front[0] {
			return off
		}
	}
	return 0
}

// endOffset returns the region offset one past the newest element.
func (h *ZeroCopyHandler) endOffset(elsz int) int {
	back := h.buf.Back()
	if back == nil {
		return 0
	}
	region := h.buf.Region()
	for off := 0; off+elsz <= len(region); off += elsz {
		if &region[off] == &back[0] {
			off += elsz
			if off >= len(region) {
				off = 0
			}
			return off
		}
	}
	return 0
}

func (h *ZeroCopyHandler) frameTS(region []byte, off int) uint64 {
	if off+h.desc.ElementSize() > len(region) {
		off = 0
	}
	return dlf.Element(region[off : off+h.desc.ElementSize()]).Timestamp()
}

func (h *ZeroCopyHandler) writeDirect(p []byte) {
	if _, err := unix.Write(h.fd, p); err != nil {
		h.stats.failedWrites.Add(1)
		h.msg.Warnf("rdo: could not write to %q: %+v", h.fname, err)
		return
	}
	h.stats.bytes.Add(int64(len(p)))
	h.stats.payloads.Add(int64(len(p) / h.desc.ElementSize()))
}

// writePlain drops O_DIRECT for one unaligned write, then restores it.
func (h *ZeroCopyHandler) writePlain(p []byte) {
	if h.oflag&unix.O_DIRECT != 0 {
		_, _ = unix.FcntlInt(uintptr(h.fd), unix.F_SETFL, unix.O_WRONLY)
		defer func() {
			_, _ = unix.FcntlInt(uintptr(h.fd), unix.F_SETFL, h.oflag)
		}()
	}
	if _, err := unix.Write(h.fd, p); err != nil {
		h.stats.failedWrites.Add(1)
		h.msg.Warnf("rdo: could not write to %q: %+v", h.fname, err)
		return
	}
	h.stats.bytes.Add(int64(len(p)))
	h.stats.payloads.Add(int64(len(p) / h.desc.ElementSize()))
}
