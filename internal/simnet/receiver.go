// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package simnet

import "github.com/heistp/ccalgos"

// Receiver tracks the highest contiguous byte offset it has seen and
// acknowledges up to it, buffering segments that arrive out of order,
// adapted from teacher's receiver.go with its delayed-ACK timer and
// goodput plotting stripped: per SPEC_FULL.md §15, this stub
// implements no congestion-relevant decision of its own, so it exists
// only to turn sent Packets into cumulative ACKs, not to reproduce
// receiver-side congestion control (excluded by spec.md's non-goals).
// Acknowledging contiguously rather than per-packet is what lets a
// Flow detect an AQM drop: bytes sent after the gap arrive but aren't
// acked until the gap is filled.
type Receiver struct {
	engine   *Engine
	sink     func(Packet)
	next     int64
	buffered map[int64]ccalgos.Bytes
}

// NewReceiver returns a Receiver that sends generated ACKs to sink,
// timestamping them on engine's clock.
func NewReceiver(engine *Engine, sink func(Packet)) *Receiver {
	return &Receiver{engine: engine, sink: sink}
}

// Receive handles an incoming data packet, advancing the contiguous
// delivery point and buffering it if it arrived out of order, then
// emits an ACK for the current contiguous point.
func (r *Receiver) Receive(pkt Packet) {
	switch {
	case pkt.Seq == r.next:
		r.next += int64(pkt.Len)
		for {
			l, ok := r.buffered[r.next]
			if !ok {
				break
			}
			delete(r.buffered, r.next)
			r.next += int64(l)
		}
	case pkt.Seq > r.next:
		if r.buffered == nil {
			r.buffered = make(map[int64]ccalgos.Bytes)
		}
		r.buffered[pkt.Seq] = pkt.Len
	}
	r.sink(Packet{
		Len:    40,
		Ack:    true,
		AckNum: r.next,
		Sent:   pkt.Sent,
		TSVal:  tsTicks(r.engine.Now()),
		TSEcr:  pkt.TSVal,
	})
}
