// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rdo

import (
	"fmt"
	"sync"

	"github.com/go-daq/readout/dlf"
)

// The callback registry wires push-mode sources to consumers by
// endpoint name. Registration is tied to the configure/scrap
// lifecycle of the consuming pipeline.
var cbreg struct {
	mu sync.Mutex
	m  map[string]func(dlf.Element)
}

// RegisterCallback binds fn to the named endpoint. Binding the same
// endpoint twice is an error.
func RegisterCallback(name string, fn func(dlf.Element)) error {
	cbreg.mu.Lock()
	defer cbreg.mu.Unlock()
	if cbreg.m == nil {
		cbreg.m = make(map[string]func(dlf.Element))
	}
	if _, dup := cbreg.m[name]; dup {
		return fmt.Errorf("rdo: callback %q already registered", name)
	}
	cbreg.m[name] = fn
	return nil
}

// DeregisterCallback unbinds the named endpoint.
func DeregisterCallback(name string) {
	cbreg.mu.Lock()
	defer cbreg.mu.Unlock()
	delete(cbreg.m, name)
}

// Callback looks up the consumer bound to the named endpoint.
func Callback(name string) (func(dlf.Element), bool) {
	cbreg.mu.Lock()
	defer cbreg.mu.Unlock()
	fn, ok := cbreg.m[name]
	return fn, ok
}
