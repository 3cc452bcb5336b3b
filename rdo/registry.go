// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rdo

import (
	"sync"
)

// ErrMissingFrames names the error interval toggling error-tolerant
// buffer lookups.
const ErrMissingFrames = "MISSING_FRAMES"

// ErrorInterval is a timestamp range of corrupt or missing frames.
type ErrorInterval struct {
	StartTS uint64
	EndTS   uint64
}

// ErrorRegistry tracks named intervals of corrupt or missing frames so
// that buffer lookups can widen their search. It never blocks data
// flow: it is advisory only.
type ErrorRegistry struct {
	mu     sync.Mutex
	errors map[string]ErrorInterval
}

// NewErrorRegistry builds an empty registry.
func NewErrorRegistry() *ErrorRegistry {
	return &ErrorRegistry{errors: make(map[string]ErrorInterval)}
}

// AddError records iv under name, replacing any existing interval with
// that name.
func (reg *ErrorRegistry) AddError(name string, iv ErrorInterval) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.errors[name] = iv
}

// RemoveErrorsUntil retires every interval ending before ts.
func (reg *ErrorRegistry) RemoveErrorsUntil(ts uint64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for name, iv := range reg.errors {
		if ts > iv.EndTS {
			delete(reg.errors, name)
		}
	}
}

// HasError reports whether an interval is recorded under name.
func (reg *ErrorRegistry) HasError(name string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	_, ok := reg.errors[name]
	return ok
}

// HasAnyError reports whether any interval is recorded.
func (reg *ErrorRegistry) HasAnyError() bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.errors) > 0
}
