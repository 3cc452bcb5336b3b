// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rdo

import (
	"fmt"
	"time"

	"github.com/go-daq/readout/dlf"
)

// Receiver is the inbound side of a raw-frame stream. A timed-out
// receive is not an error.
type Receiver interface {
	TryRecv(timeout time.Duration) (dlf.Element, bool)
}

// FragmentSender is the outbound side of a fragment stream. Send must
// consume the fragment's pieces before returning: they may alias
// latency-buffer memory.
type FragmentSender interface {
	SendFragment(frag *Fragment) error
}

// TimeSyncSender is the outbound side of a time-sync stream.
type TimeSyncSender interface {
	SendTimeSync(ts TimeSync) error
}

// SenderTable resolves the fragment sender for a request destination.
type SenderTable interface {
	FragmentSender(dest string) (FragmentSender, error)
}

// ElementQueue is a bounded in-process raw-frame stream.
type ElementQueue struct {
	c chan dlf.Element
}

// NewElementQueue builds a queue holding up to n elements.
func NewElementQueue(n int) *ElementQueue {
	return &ElementQueue{c: make(chan dlf.Element, n)}
}

// TrySend enqueues el without blocking. It reports false on a full
// queue.
func (q *ElementQueue) TrySend(el dlf.Element) bool {
	select {
	case q.c <- el:
		return true
	default:
		return false
	}
}

// TryRecv dequeues an element, waiting up to timeout.
func (q *ElementQueue) TryRecv(timeout time.Duration) (dlf.Element, bool) {
	if timeout <= 0 {
		select {
		case el := <-q.c:
			return el, true
		default:
			return nil, false
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case el := <-q.c:
		return el, true
	case <-t.C:
		return nil, false
	}
}

// Len returns the number of queued elements.
func (q *ElementQueue) Len() int { return len(q.c) }

// C exposes the receive side of the queue, for select-based drains.
func (q *ElementQueue) C() <-chan dlf.Element { return q.c }

var _ Receiver = (*ElementQueue)(nil)

// FragmentQueue is a bounded in-process fragment stream serving every
// destination. Fragments are linearised on send, honouring the
// zero-copy lifetime contract.
type FragmentQueue struct {
	c       chan *Fragment
	timeout time.Duration
}

// NewFragmentQueue builds a queue holding up to n fragments, with the
// given send timeout.
func NewFragmentQueue(n int, timeout time.Duration) *FragmentQueue {
	return &FragmentQueue{c: make(chan *Fragment, n), timeout: timeout}
}

// SendFragment linearises frag and enqueues it.
func (q *FragmentQueue) SendFragment(frag *Fragment) error {
	frag.Linearize()
	if q.timeout <= 0 {
		select {
		case q.c <- frag:
			return nil
		default:
			return fmt.Errorf("rdo: fragment queue full")
		}
	}
	t := time.NewTimer(q.timeout)
	defer t.Stop()
	select {
	case q.c <- frag:
		return nil
	case <-t.C:
		return fmt.Errorf("rdo: fragment send timed out after %v", q.timeout)
	}
}

// FragmentSender implements SenderTable: every destination maps onto
// this queue.
func (q *FragmentQueue) FragmentSender(dest string) (FragmentSender, error) {
	return q, nil
}

// C exposes the receive side of the queue, for select-based drains.
func (q *FragmentQueue) C() <-chan *Fragment { return q.c }

// Recv dequeues a fragment, waiting up to timeout.
func (q *FragmentQueue) Recv(timeout time.Duration) (*Fragment, bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case frag := <-q.c:
		return frag, true
	case <-t.C:
		return nil, false
	}
}

var (
	_ FragmentSender = (*FragmentQueue)(nil)
	_ SenderTable    = (*FragmentQueue)(nil)
)

// TimeSyncQueue is a bounded in-process time-sync stream.
type TimeSyncQueue struct {
	c chan TimeSync
}

// NewTimeSyncQueue builds a queue holding up to n beacons.
func NewTimeSyncQueue(n int) *TimeSyncQueue {
	return &TimeSyncQueue{c: make(chan TimeSync, n)}
}

// SendTimeSync enqueues ts without blocking.
func (q *TimeSyncQueue) SendTimeSync(ts TimeSync) error {
	select {
	case q.c <- ts:
		return nil
	default:
		return fmt.Errorf("rdo: time-sync queue full")
	}
}

// C exposes the receive side of the queue, for select-based drains.
func (q *TimeSyncQueue) C() <-chan TimeSync { return q.c }

// Recv dequeues a beacon, waiting up to timeout.
func (q *TimeSyncQueue) Recv(timeout time.Duration) (TimeSync, bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case ts := <-q.c:
		return ts, true
	case <-t.C:
		return TimeSync{}, false
	}
}

var _ TimeSyncSender = (*TimeSyncQueue)(nil)
