// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rdo

// EmptyHandler is a degenerate request handler that answers every
// request with an empty fragment flagged data-not-found. It is used by
// data types that can only be request-served through a downstream
// system.
type EmptyHandler struct {
	*Handler
}

// NewEmptyHandler wraps h so every request short-circuits to an empty
// fragment.
func NewEmptyHandler(h *Handler) *EmptyHandler {
	return &EmptyHandler{Handler: h}
}

// IssueRequest responds immediately with an empty fragment.
func (h *EmptyHandler) IssueRequest(dr DataRequest) {
	frag := h.emptyFragment(dr)

	snd, err := h.tbl.FragmentSender(dr.Destination)
	if err == nil {
		err = snd.SendFragment(frag)
	}
	if err != nil {
		h.msg.Warnf("rdo: source %v: could not send empty fragment to %q: %+v",
			h.cfg.SourceID, dr.Destination, err)
	}
	h.stats.handled.Add(1)
	h.stats.bad.Add(1)
}
