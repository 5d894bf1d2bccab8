// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package simnet

import (
	"github.com/heistp/ccalgos"
	"github.com/heistp/ccalgos/redqueue"
)

// RateAt schedules a bottleneck rate change at a given simulation
// time, adapted from teacher's iface.go RateAt.
type RateAt struct {
	At   Clock
	Rate Bitrate
}

// Link is a single bottleneck: packets are admitted to a redqueue.Queue
// (this harness's only AQM, per SPEC_FULL.md §15), then serialized onto
// the link at Rate and delivered to Sink after one link's worth of
// transfer time. Adapted from teacher's iface.go, trimmed to a single
// downstream direction with no plotting hooks (internal/simnet/trace.go
// covers trace output instead).
type Link struct {
	engine *Engine
	queue  *redqueue.Queue
	rate   Bitrate
	sink   func(Packet)
	busy   bool

	dropped int
	sent    int
}

// NewLink returns a new Link carrying packets from a Flow to sink at
// the given initial rate, queueing with redqueue's RED policy.
func NewLink(engine *Engine, rate Bitrate, opt redqueue.Options, sink func(Packet)) (*Link, error) {
	q, err := redqueue.New(opt, nil)
	if err != nil {
		return nil, err
	}
	return &Link{engine: engine, queue: q, rate: rate, sink: sink}, nil
}

// SetRate changes the link's service rate, taking effect for packets
// dequeued after the call.
func (l *Link) SetRate(rate Bitrate) {
	l.rate = rate
}

// Enqueue admits pkt to the RED queue, dropping it per the AQM
// decision, and kicks off serialization if the link was idle.
func (l *Link) Enqueue(pkt Packet) (dropped bool) {
	dropped = l.queue.Enqueue(redqueue.Packet{Len: pkt.Len, Payload: pkt}, l.engine.Now())
	if dropped {
		l.dropped++
		return
	}
	if !l.busy {
		l.busy = true
		l.serializeNext()
	}
	return
}

// serializeNext schedules the delivery of the link's next queued
// packet after one transfer time at the current rate.
func (l *Link) serializeNext() {
	rqp, ok := l.queue.Peek()
	if !ok {
		l.busy = false
		return
	}
	pkt := rqp.Payload.(Packet)
	t := TransferTime(l.rate, pkt.Len)
	l.engine.Schedule(t, func() {
		rqp, ok := l.queue.Dequeue(l.engine.Now())
		if !ok {
			l.busy = false
			return
		}
		l.sent++
		l.sink(rqp.Payload.(Packet))
		l.serializeNext()
	})
}

// QueueLen returns the number of packets currently queued.
func (l *Link) QueueLen() int {
	return l.queue.Len()
}

// QueueBytes returns the number of bytes currently queued.
func (l *Link) QueueBytes() ccalgos.Bytes {
	return l.queue.Bytes()
}

// Dropped returns the cumulative number of packets dropped by the AQM.
func (l *Link) Dropped() int {
	return l.dropped
}

// Sent returns the cumulative number of packets delivered to sink.
func (l *Link) Sent() int {
	return l.sent
}
