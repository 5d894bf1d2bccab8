// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package simnet

import (
	"github.com/heistp/ccalgos"
)

// sentSegment records one outstanding (unacknowledged) segment, used
// both for in-flight accounting and retransmission-timeout detection.
type sentSegment struct {
	seq  int64
	len  ccalgos.Bytes
	sent Clock
}

// Flow drives a single ccalgos.Controller through simulated slow start
// and congestion avoidance against a Link, implementing ccalgos.Conn
// itself so the controller reads and mutates this flow's window
// directly. Adapted from teacher's sender.go's Flow, trimmed to one
// flow with no pacing, SCE or plotting (internal/simnet/trace.go
// covers trace output) and a retransmission-timeout loss model in
// place of teacher's AQM-mark-driven response (this harness's only
// AQM, redqueue, drops rather than marks, per SPEC_FULL.md §15).
type Flow struct {
	engine     *Engine
	controller ccalgos.Controller
	onInit     ccalgos.Initializer
	onRelease  ccalgos.Releaser
	onSsthresh ccalgos.SsthreshController
	onUndo     ccalgos.UndoCwndController
	onAcked    ccalgos.PktsAckedController
	onState    ccalgos.StateController
	onEvent    ccalgos.EventController

	mss       ccalgos.Bytes
	cwnd      ccalgos.Packets
	ssthresh  ccalgos.Packets
	cwndClamp ccalgos.Packets
	srtt      Clock
	rto       Clock

	nextSeq  int64
	inFlight []sentSegment

	send func(Packet)
	done bool

	// Stats, for the trace writer and tests.
	acked  int64
	losses int
}

// FlowOptions configures a Flow.
type FlowOptions struct {
	MSS       ccalgos.Bytes
	InitCwnd  ccalgos.Packets
	Ssthresh  ccalgos.Packets
	CwndClamp ccalgos.Packets
	// MinRTO is the floor applied to the retransmission timeout,
	// computed as a multiple of SRTT once one is available.
	MinRTO Clock
}

// DefaultFlowOptions returns reasonable harness defaults.
func DefaultFlowOptions() FlowOptions {
	return FlowOptions{
		MSS:       1460,
		InitCwnd:  10,
		Ssthresh:  0x7fffffff,
		CwndClamp: 100000,
		MinRTO:    Clock(200000000), // 200ms
	}
}

// NewFlow returns a new Flow using controller, sending segments via
// send, on engine's clock.
func NewFlow(engine *Engine, controller ccalgos.Controller, opt FlowOptions, send func(Packet)) *Flow {
	f := &Flow{
		engine:     engine,
		controller: controller,
		mss:        opt.MSS,
		cwnd:       opt.InitCwnd,
		ssthresh:   opt.Ssthresh,
		cwndClamp:  opt.CwndClamp,
		rto:        opt.MinRTO,
		send:       send,
	}
	f.onInit, _ = controller.(ccalgos.Initializer)
	f.onRelease, _ = controller.(ccalgos.Releaser)
	f.onSsthresh, _ = controller.(ccalgos.SsthreshController)
	f.onUndo, _ = controller.(ccalgos.UndoCwndController)
	f.onAcked, _ = controller.(ccalgos.PktsAckedController)
	f.onState, _ = controller.(ccalgos.StateController)
	f.onEvent, _ = controller.(ccalgos.EventController)
	return f
}

// Start establishes the connection (calling Init if implemented) and
// begins sending.
func (f *Flow) Start() {
	if f.onInit != nil {
		f.onInit.Init(f)
	}
	f.trySend()
}

// Close tears down the connection, calling Release if implemented.
func (f *Flow) Close() {
	if f.onRelease != nil {
		f.onRelease.Release(f)
	}
	f.done = true
}

// trySend sends segments while the window allows.
func (f *Flow) trySend() {
	if f.done {
		return
	}
	for ccalgos.Packets(len(f.inFlight)) < f.cwnd {
		seq := f.nextSeq
		pkt := Packet{Len: f.mss, Seq: seq, Sent: f.engine.Now(), TSVal: tsTicks(f.engine.Now())}
		f.nextSeq += int64(f.mss)
		f.inFlight = append(f.inFlight, sentSegment{seq: seq, len: f.mss, sent: f.engine.Now()})
		f.send(pkt)
		f.armRTO(seq)
	}
}

// armRTO schedules a retransmission-timeout check for the segment
// with the given sequence number: if it's still the oldest
// outstanding segment when the timer fires, it's treated as lost.
func (f *Flow) armRTO(seq int64) {
	f.engine.Schedule(f.rto, func() {
		if f.done || len(f.inFlight) == 0 || f.inFlight[0].seq != seq {
			return
		}
		f.handleLoss()
	})
}

// handleLoss runs the loss-recovery callback sequence: SetState, then
// Ssthresh, matching the ordering guarantee in spec.md §5(d)-(e).
func (f *Flow) handleLoss() {
	f.losses++
	if f.onState != nil {
		f.onState.SetState(f, ccalgos.CALoss)
	}
	if f.onEvent != nil {
		f.onEvent.CwndEvent(f, ccalgos.CwndEventLoss)
	}
	if f.onSsthresh != nil {
		f.ssthresh = f.onSsthresh.Ssthresh(f)
	} else {
		f.ssthresh = f.cwnd / 2
	}
	if f.ssthresh < MinCwndFloor {
		f.ssthresh = MinCwndFloor
	}
	f.cwnd = f.ssthresh
	if f.cwnd < MinCwndFloor {
		f.cwnd = MinCwndFloor
	}

	// Retransmit the lost (oldest outstanding) segment and every
	// segment sent after it: this harness has no SACK, so a single
	// loss is treated as a go-back-N event.
	lost := f.inFlight
	f.inFlight = nil
	for _, s := range lost {
		pkt := Packet{Len: s.len, Seq: s.seq, Sent: f.engine.Now(), TSVal: tsTicks(f.engine.Now())}
		f.inFlight = append(f.inFlight, sentSegment{seq: s.seq, len: s.len, sent: f.engine.Now()})
		f.send(pkt)
		f.armRTO(s.seq)
	}

	f.engine.Schedule(f.srttOrDefault(), func() {
		if f.done {
			return
		}
		if f.onEvent != nil {
			f.onEvent.CwndEvent(f, ccalgos.CwndEventCWRComplete)
		}
	})
}

func (f *Flow) srttOrDefault() Clock {
	if f.srtt > 0 {
		return f.srtt
	}
	return f.rto
}

// Receive processes an incoming ACK packet.
func (f *Flow) Receive(pkt Packet) {
	if f.done || !pkt.Ack {
		return
	}
	var ackedBytes ccalgos.Bytes
	var ackedPkts ccalgos.Packets
	for len(f.inFlight) > 0 && f.inFlight[0].seq+int64(f.inFlight[0].len) <= pkt.AckNum {
		s := f.inFlight[0]
		f.inFlight = f.inFlight[1:]
		ackedBytes += s.len
		ackedPkts++
	}
	if ackedPkts == 0 {
		return
	}
	f.acked += int64(ackedBytes)

	rtt := f.engine.Now() - pkt.Sent
	if rtt < 0 {
		rtt = 0
	}
	if f.srtt == 0 {
		f.srtt = rtt
	} else {
		f.srtt = Clock(0.125*float64(rtt) + 0.875*float64(f.srtt))
	}
	if r := f.srtt * 2; r > f.rto {
		f.rto = r
	}

	sample := ccalgos.AckSample{
		RTT:         rtt,
		Acked:       ackedPkts,
		RemoteTS:    pkt.TSVal,
		LocalTSEcho: pkt.TSEcr,
		TSValid:     true,
	}
	if f.onAcked != nil {
		f.onAcked.PktsAcked(f, sample)
	}
	f.controller.CongAvoid(f, sample)

	f.trySend()
}

// MinCwndFloor is the absolute floor this harness enforces on cwnd,
// matching spec.md's universal MIN_CWND invariant; individual
// controllers additionally enforce their own (possibly higher) floor.
const MinCwndFloor = ccalgos.Packets(2)

// Conn implementation: teacher's Flow plays this role via direct field
// access from within the same package; here a controller in another
// package needs the ccalgos.Conn interface instead.

func (f *Flow) Now() Clock { return f.engine.Now() }

func (f *Flow) Cwnd() ccalgos.Packets { return f.cwnd }

func (f *Flow) SetCwnd(p ccalgos.Packets) {
	if p < MinCwndFloor {
		p = MinCwndFloor
	}
	if p > f.cwndClamp {
		p = f.cwndClamp
	}
	f.cwnd = p
}

func (f *Flow) Ssthresh() ccalgos.Packets { return f.ssthresh }

func (f *Flow) SetSsthresh(p ccalgos.Packets) { f.ssthresh = p }

func (f *Flow) CwndClamp() ccalgos.Packets { return f.cwndClamp }

func (f *Flow) InFlight() ccalgos.Packets { return ccalgos.Packets(len(f.inFlight)) }

func (f *Flow) MSS() ccalgos.Bytes { return f.mss }

func (f *Flow) SRTT() Clock { return f.srtt }

func (f *Flow) CwndLimited() bool {
	return ccalgos.Packets(len(f.inFlight)) >= f.cwnd
}

var _ ccalgos.Conn = (*Flow)(nil)
