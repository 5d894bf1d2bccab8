// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package simnet

import (
	"github.com/heistp/ccalgos"
	"github.com/heistp/ccalgos/redqueue"
)

// SimulationOptions configures a Simulation's topology: one Flow, one
// bottleneck Link running redqueue's RED policy, and a propagation
// delay in each direction.
type SimulationOptions struct {
	Flow FlowOptions
	AQM  redqueue.Options
	Rate Bitrate

	ForwardDelay  Clock
	ForwardJitter Clock
	ReturnDelay   Clock
	ReturnJitter  Clock

	// Trace, if non-nil, receives a Sample after every ACK processed
	// by the Flow.
	Trace *Trace
}

// DefaultSimulationOptions returns a single-flow, single-bottleneck
// topology with a representative last-mile rate and RTT.
func DefaultSimulationOptions() SimulationOptions {
	return SimulationOptions{
		Flow:         DefaultFlowOptions(),
		AQM:          redqueue.DefaultOptions(),
		Rate:         20 * Mbps,
		ForwardDelay: Clock(10000000), // 10ms
		ReturnDelay:  Clock(10000000),
	}
}

// Simulation wires a Flow, bottleneck Link, propagation DelayLines and
// a Receiver into a single runnable topology, playing the role
// teacher's Sim type plays for its much larger multi-node topologies.
type Simulation struct {
	engine   *Engine
	flow     *Flow
	link     *Link
	receiver *Receiver
	opt      SimulationOptions
}

// NewSimulation builds a Simulation driving controller through the
// given topology.
func NewSimulation(controller ccalgos.Controller, opt SimulationOptions) (*Simulation, error) {
	engine := NewEngine()

	var flow *Flow
	var link *Link
	var receiver *Receiver

	returnDelay := NewDelayLine(engine, opt.ReturnDelay, opt.ReturnJitter, func(pkt Packet) {
		flow.Receive(pkt)
		if opt.Trace != nil {
			opt.Trace.Sample(engine.Now(), flow, link)
		}
	})
	receiver = NewReceiver(engine, func(pkt Packet) {
		returnDelay.Send(pkt)
	})
	forwardDelay := NewDelayLine(engine, opt.ForwardDelay, opt.ForwardJitter, func(pkt Packet) {
		receiver.Receive(pkt)
	})
	var err error
	link, err = NewLink(engine, opt.Rate, opt.AQM, func(pkt Packet) {
		forwardDelay.Send(pkt)
	})
	if err != nil {
		return nil, err
	}
	flow = NewFlow(engine, controller, opt.Flow, func(pkt Packet) {
		link.Enqueue(pkt)
	})

	return &Simulation{engine: engine, flow: flow, link: link, receiver: receiver, opt: opt}, nil
}

// Run starts the flow and advances the simulation clock by duration.
func (s *Simulation) Run(duration Clock) error {
	s.flow.Start()
	if err := s.engine.Run(duration); err != nil {
		return err
	}
	s.flow.Close()
	return nil
}

// Flow returns the Simulation's Flow.
func (s *Simulation) Flow() *Flow { return s.flow }

// Link returns the Simulation's bottleneck Link.
func (s *Simulation) Link() *Link { return s.link }

// Now returns the current simulation time.
func (s *Simulation) Now() Clock { return s.engine.Now() }
