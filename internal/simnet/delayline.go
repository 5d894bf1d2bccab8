// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package simnet

// DelayLine models one direction of path propagation delay, a fixed
// base delay plus an estimated jitter component, adapted from
// teacher's delay.go (trimmed to a single flow: teacher's Delay type
// indexes FlowDelay by FlowID across many simultaneous flows, which
// this harness, carrying exactly one, has no need for).
type DelayLine struct {
	engine *Engine
	base   Clock
	jitter Clock
	jest   jitterEstimator
	sink   func(Packet)
}

// NewDelayLine returns a DelayLine with the given base (minimum)
// one-way delay and maximum jitter added on top of it.
func NewDelayLine(engine *Engine, base, jitter Clock, sink func(Packet)) *DelayLine {
	return &DelayLine{engine: engine, base: base, jitter: jitter, sink: sink}
}

// Send schedules pkt for delivery to sink after base delay plus a
// jitter sample.
func (d *DelayLine) Send(pkt Packet) {
	j := Clock(0)
	if d.jitter > 0 {
		est := d.jest.estimate(d.engine.Now())
		j = est * d.jitter / clockSecond
	}
	d.engine.Schedule(d.base+j, func() {
		d.sink(pkt)
	})
}
