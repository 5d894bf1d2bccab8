// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

// Package ledbat implements LEDBAT (RFC 6817), a delay-based congestion
// controller intended to yield to ordinary loss-based traffic sharing
// the same bottleneck.
package ledbat

import (
	"fmt"
	"time"

	"github.com/heistp/ccalgos"
)

// Default tunables, matching tcp_ledbat.c.
const (
	DefaultTarget          = ccalgos.Clock(100 * time.Millisecond)
	DefaultGain            = 1
	DefaultAllowedIncrease = ccalgos.Packets(1)
	DefaultCurrentFilter   = 2
	DefaultBaseHistory     = 2
	DefaultBaseRollover    = ccalgos.Clock(60 * time.Second)
	// MinCwnd is the floor below which cwnd is never reduced.
	MinCwnd = ccalgos.Packets(2)
)

// Options configures a Controller. Use DefaultOptions and override
// individual fields as needed.
type Options struct {
	// Target is the maximum queueing delay LEDBAT aims to introduce.
	Target ccalgos.Clock
	// Gain scales the cwnd adjustment per off-target sample; RFC 6817
	// requires Gain <= 1.
	Gain int
	// AllowedIncrease bounds growth to at most this many packets above
	// flight size plus acked packets per RTT, per RFC 6817.
	AllowedIncrease ccalgos.Packets
	// CurrentFilterSize is the number of recent delay samples kept in
	// the current-delay window.
	CurrentFilterSize int
	// BaseHistorySlots is the number of per-rollover-interval minima
	// kept in the base-delay history.
	BaseHistorySlots int
	// BaseRollover is the interval after which the base-delay history
	// rolls over to a fresh slot.
	BaseRollover ccalgos.Clock
}

// DefaultOptions returns the tcp_ledbat.c reference defaults.
func DefaultOptions() Options {
	return Options{
		Target:            DefaultTarget,
		Gain:              DefaultGain,
		AllowedIncrease:   DefaultAllowedIncrease,
		CurrentFilterSize: DefaultCurrentFilter,
		BaseHistorySlots:  DefaultBaseHistory,
		BaseRollover:      DefaultBaseRollover,
	}
}

func (o Options) validate() error {
	if o.Target <= 0 {
		return fmt.Errorf("ledbat: target must be positive")
	}
	if o.Gain < 1 {
		return fmt.Errorf("ledbat: gain must be at least 1")
	}
	if o.AllowedIncrease < 1 {
		return fmt.Errorf("ledbat: allowed increase must be at least 1")
	}
	if o.CurrentFilterSize < 1 {
		return fmt.Errorf("ledbat: current filter size must be at least 1")
	}
	if o.BaseHistorySlots < 2 {
		return fmt.Errorf("ledbat: base history must have at least 2 slots")
	}
	if o.BaseRollover <= 0 {
		return fmt.Errorf("ledbat: base rollover must be positive")
	}
	return nil
}

// Controller implements ccalgos.Controller for LEDBAT.
type Controller struct {
	opt Options

	current *ccalgos.DelayWindow
	base    *ccalgos.BaseHistory
	// sessionBase is the minimum delay seen over the connection's
	// lifetime, backing the degraded single-sample queuing-delay
	// estimate used when a filter is empty. CongAvoid feeds both
	// filters before estimating, so with the filters New builds that
	// fallback is not reached.
	sessionBase ccalgos.Clock
	cwndCnt     int64 // fixed-point accumulator, matches s32 cwnd_cnt

	// remoteTSOffset and localTSOffset latch the first observed
	// timestamp-echo pair; one-way delay is measured as the growth of
	// the remote elapsed time over the local elapsed time since then.
	remoteTSOffset uint32
	localTSOffset  uint32
	tsOffsetsSet   bool
}

var (
	_ ccalgos.Controller         = (*Controller)(nil)
	_ ccalgos.SsthreshController = (*Controller)(nil)
)

// New returns a new LEDBAT Controller with the given options.
func New(opt Options) (*Controller, error) {
	if err := opt.validate(); err != nil {
		return nil, err
	}
	return &Controller{
		opt:         opt,
		current:     ccalgos.NewDelayWindow(opt.CurrentFilterSize),
		base:        ccalgos.NewBaseHistory(opt.BaseHistorySlots, opt.BaseRollover),
		sessionBase: ccalgos.ClockInfinity,
	}, nil
}

func init() {
	ccalgos.Register("ledbat", func() (ccalgos.Controller, error) {
		return New(DefaultOptions())
	})
}

// CongAvoid implements ccalgos.Controller. The delay signal is the
// one-way delay derived from the ACK's timestamp-echo pair: both
// sides' elapsed time since the first observed pair, with the remote
// excess over local attributed to the forward path. An ACK without
// the timestamp option contributes a zero delay, as tcp_ledbat.c does
// when no timestamps were negotiated. A remote tick-rate estimator
// exists in the original but is disabled there; both clocks are taken
// to run at the same nominal millisecond tick rate.
func (c *Controller) CongAvoid(conn ccalgos.Conn, sample ccalgos.AckSample) {
	now := conn.Now()
	delay := c.oneWayDelay(sample)

	c.current.Add(delay, now)
	c.base.Add(delay, now)
	if delay < c.sessionBase {
		c.sessionBase = delay
	}

	if !conn.CwndLimited() {
		return
	}

	cwnd := conn.Cwnd()
	ssthresh := conn.Ssthresh()
	acked := sample.Acked

	if cwnd <= ssthresh {
		// Slow start: grow by the acked packet count, consuming it
		// entirely, matching tcp_slow_start's behavior when there's
		// no leftover credit for congestion avoidance this round.
		grown := cwnd + acked
		if grown > conn.CwndClamp() {
			grown = conn.CwndClamp()
		}
		conn.SetCwnd(grown)
		return
	}

	var queueDelay ccalgos.Clock
	if c.current.Len() > 0 && c.base.Minimum() != ccalgos.ClockInfinity {
		queueDelay = c.current.Minimum() - c.base.Minimum()
	} else {
		queueDelay = delay - c.sessionBase
	}
	if queueDelay < 0 {
		queueDelay = 0
	}
	offTarget := int64(c.opt.Target) - int64(queueDelay)

	c.cwndCnt += int64(c.opt.Gain) * offTarget * int64(acked)

	newCwnd := int64(cwnd)
	bound := int64(cwnd) * int64(c.opt.Target)
	if abs64(c.cwndCnt) >= bound && cwnd > 0 {
		inc := c.cwndCnt / int64(c.opt.Target) / int64(cwnd)
		newCwnd += inc
		c.cwndCnt -= inc * int64(cwnd) * int64(c.opt.Target)
	}

	maxAllowed := int64(conn.InFlight()) + int64(acked) + int64(c.opt.AllowedIncrease)
	if newCwnd > maxAllowed {
		newCwnd = maxAllowed
	}
	if newCwnd < int64(MinCwnd) {
		newCwnd = int64(MinCwnd)
	}
	if clamp := int64(conn.CwndClamp()); newCwnd > clamp {
		newCwnd = clamp
	}

	conn.SetCwnd(ccalgos.Packets(newCwnd))
	if ccalgos.Packets(newCwnd) <= ssthresh {
		conn.SetSsthresh(ccalgos.Packets(newCwnd) - 1)
	}
}

// oneWayDelay converts the sample's timestamp-echo pair into a one-way
// delay: the remote and local elapsed millisecond ticks since the first
// observed pair, with delay = max(0, remote_elapsed - local_elapsed).
// The tick subtraction is interpreted as a signed delta so it stays
// correct across timestamp wrap, and a clock anomaly (either elapsed
// time negative, or local running ahead of remote) yields zero rather
// than a negative or wildly large delay.
func (c *Controller) oneWayDelay(sample ccalgos.AckSample) ccalgos.Clock {
	if !sample.TSValid {
		return 0
	}
	if !c.tsOffsetsSet {
		c.remoteTSOffset = sample.RemoteTS
		c.localTSOffset = sample.LocalTSEcho
		c.tsOffsetsSet = true
	}
	remoteElapsed := int32(sample.RemoteTS - c.remoteTSOffset)
	localElapsed := int32(sample.LocalTSEcho - c.localTSOffset)
	if remoteElapsed < 0 || localElapsed < 0 || remoteElapsed <= localElapsed {
		return 0
	}
	return ccalgos.Clock(remoteElapsed-localElapsed) * ccalgos.Clock(time.Millisecond)
}

// Ssthresh implements ccalgos.SsthreshController. LEDBAT relies on its
// own delay-based throttling to keep cwnd conservative, so on entry to
// loss recovery it simply halves cwnd the way tcp_reno_ssthresh does,
// matching tcp_ledbat.c's registration of tcp_reno_ssthresh.
func (c *Controller) Ssthresh(conn ccalgos.Conn) ccalgos.Packets {
	cwnd := conn.Cwnd()
	half := cwnd / 2
	if half < MinCwnd {
		return MinCwnd
	}
	return half
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
