// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package buffer

import (
	"fmt"
	"sync"

	"github.com/go-daq/readout/dlf"
	"github.com/google/btree"
)

// Tree is a latency buffer for out-of-order producers (e.g. trigger
// primitives): inserts land in timestamp order wherever they belong.
// Storage is an ordered B-tree with node reuse through its freelist.
type Tree struct {
	desc dlf.Desc
	cap  int

	mu sync.Mutex
	bt *btree.BTree
}

type treeItem struct {
	el dlf.Element
}

func (it treeItem) Less(than btree.Item) bool {
	return it.el.Timestamp() < than.(treeItem).el.Timestamp()
}

// NewTree builds a tree buffer of the given capacity.
func NewTree(desc dlf.Desc, capacity int) (*Tree, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("buffer: invalid tree capacity %d", capacity)
	}
	return &Tree{
		desc: desc,
		cap:  capacity,
		bt:   btree.New(16),
	}, nil
}

// Write stores a copy of el in timestamp order. It reports false when
// the buffer was at capacity and the oldest element was dropped to
// make room.
func (t *Tree) Write(el dlf.Element) bool {
	cp := make(dlf.Element, len(el))
	copy(cp, el)

	t.mu.Lock()
	defer t.mu.Unlock()

	ok := true
	if t.bt.Len() >= t.cap {
		t.bt.DeleteMin()
		ok = false
	}
	t.bt.ReplaceOrInsert(treeItem{el: cp})
	return ok
}

// Read copies the oldest element into dst and pops it.
func (t *Tree) Read(dst dlf.Element) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	it := t.bt.DeleteMin()
	if it == nil {
		return false
	}
	copy(dst, it.(treeItem).el)
	return true
}

// Pop drops the n oldest elements.
func (t *Tree) Pop(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := 0; i < n; i++ {
		if t.bt.DeleteMin() == nil {
			return
		}
	}
}

// Flush drops every element. Nodes go back to the freelist.
func (t *Tree) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bt.Clear(true)
}

// Occupancy returns the number of stored elements.
func (t *Tree) Occupancy() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bt.Len()
}

// Capacity returns the fixed element capacity.
func (t *Tree) Capacity() int { return t.cap }

// Front returns a view on the oldest element, nil when empty.
func (t *Tree) Front() dlf.Element {
	t.mu.Lock()
	defer t.mu.Unlock()

	it := t.bt.Min()
	if it == nil {
		return nil
	}
	return it.(treeItem).el
}

// Back returns a view on the newest element, nil when empty.
func (t *Tree) Back() dlf.Element {
	t.mu.Lock()
	defer t.mu.Unlock()

	it := t.bt.Max()
	if it == nil {
		return nil
	}
	return it.(treeItem).el
}

// LowerBound returns an iterator on the smallest element with
// timestamp >= key.
func (t *Tree) LowerBound(key uint64, withErrors bool) Iter {
	front := t.Front()
	if front == nil {
		return &treeIter{t: t}
	}
	if key < front.Timestamp() && !withErrors {
		return &treeIter{t: t}
	}
	return &treeIter{t: t, cur: t.seek(key)}
}

// seek returns the first element with timestamp >= key, nil if none.
func (t *Tree) seek(key uint64) dlf.Element {
	t.mu.Lock()
	defer t.mu.Unlock()

	pivot := make(dlf.Element, dlf.HdrSize)
	pivot.SetTimestamp(key)

	var found dlf.Element
	t.bt.AscendGreaterOrEqual(treeItem{el: pivot}, func(it btree.Item) bool {
		found = it.(treeItem).el
		return false
	})
	return found
}

// Alignment reports 0: the storage is not contiguous.
func (t *Tree) Alignment() int { return 0 }

// Region reports nil: the storage is not contiguous.
func (t *Tree) Region() []byte { return nil }

// Close releases the storage.
func (t *Tree) Close() error {
	t.Flush()
	return nil
}

type treeIter struct {
	t   *Tree
	cur dlf.Element
}

func (it *treeIter) Good() bool { return it.cur != nil }

func (it *treeIter) Element() dlf.Element { return it.cur }

func (it *treeIter) Next() {
	if it.cur == nil {
		return
	}
	it.cur = it.t.seek(it.cur.Timestamp() + 1)
}

var _ Buffer = (*Tree)(nil)
