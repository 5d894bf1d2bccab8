// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

// Package simnet is a minimal discrete-event simulation harness used to
// exercise a ccalgos.Controller end to end against a single bottleneck
// link managed by redqueue's RED policy. It plays the role teacher's
// goroutine-per-node Sim/node/packet actor model plays, but trimmed to
// a single-threaded callback scheduler: this harness drives exactly one
// Flow through one Link, not teacher's N independently scheduled nodes
// comparing many AQMs and CCAs at once, so the concurrency and channel
// plumbing that supports that comparison has no job to do here.
package simnet

import (
	"fmt"
	"sort"

	"github.com/heistp/ccalgos"
)

// Clock is the monotonic simulation time type, shared with the
// algorithm packages under test so no conversion is needed at the
// Conn boundary.
type Clock = ccalgos.Clock

// event is a single scheduled callback.
type event struct {
	at Clock
	fn func()
}

// Engine is a single-threaded discrete event scheduler: Schedule queues
// a callback for a future time, and Run executes callbacks in time
// order up to a deadline, matching teacher's sim.go's sorted timer
// insert (sort.Search over a slice) without the channel/goroutine
// machinery that coordinates teacher's multiple independent nodes.
type Engine struct {
	now    Clock
	events []event
}

// NewEngine returns a new Engine starting at time zero.
func NewEngine() *Engine {
	return &Engine{}
}

// Now returns the current simulation time.
func (e *Engine) Now() Clock {
	return e.now
}

// Schedule queues fn to run after delay has elapsed from the current
// time. Events scheduled for the same time run in the order they were
// scheduled.
func (e *Engine) Schedule(delay Clock, fn func()) {
	if delay < 0 {
		delay = 0
	}
	at := e.now + delay
	i := sort.Search(len(e.events), func(i int) bool {
		return e.events[i].at > at
	})
	e.events = append(e.events, event{})
	copy(e.events[i+1:], e.events[i:])
	e.events[i] = event{at, fn}
}

// Run executes every scheduled event up to and including time until,
// advancing Now as it goes, then advances Now to until even if no
// event landed exactly there.
func (e *Engine) Run(until Clock) error {
	for len(e.events) > 0 {
		ev := e.events[0]
		if ev.at > until {
			break
		}
		if ev.at < e.now {
			return fmt.Errorf("simnet: event scheduled for %s before current time %s", ev.at, e.now)
		}
		e.events = e.events[1:]
		e.now = ev.at
		ev.fn()
	}
	if e.now < until {
		e.now = until
	}
	return nil
}

// Pending returns the number of events still scheduled.
func (e *Engine) Pending() int {
	return len(e.events)
}
