// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

// Package lola implements LoLa, a CUBIC-derived controller that adds
// precautionary decongestion: it periodically measures queueing delay
// and proactively drains the queue before loss occurs, rather than
// waiting for an explicit congestion signal.
package lola

import (
	"fmt"
	"math"
	"time"

	"github.com/heistp/ccalgos"
)

// Default tunables, matching tcp_lola.c. Scale factors that the
// original expressed as fixed-point integers (bic_scale, beta,
// lola_delta, lola_gamma) are expressed here as floats; this is a
// userspace port and Go's math package makes the kernel's
// avoid-floating-point-in-interrupt-context discipline unnecessary
// (the same trade other example ports of CUBIC, such as a quic-go
// cubic sender, make).
const (
	DefaultCubicC    = 0.4 // cubic scaling constant (bic_scale/1024 * rtt terms folded in)
	DefaultCubicBeta = 0.7 // multiplicative decrease factor (beta/1024 = 717/1024)

	DefaultQueueMax                     = ccalgos.Clock(5 * time.Millisecond)
	DefaultDelta                        = 0.879 // lola_delta/1024, fast convergence factor
	DefaultGamma                        = 0.905 // lola_gamma/1024, drain target fraction
	DefaultCwndMin                      = ccalgos.Packets(5)
	DefaultBaseTimeout                  = 10 // epochs without a base measurement before it's invalidated
	DefaultBaseDelayEpsilon             = ccalgos.Clock(100 * time.Microsecond)
	DefaultFairFlowBalancingStartDelay  = ccalgos.Clock(500 * time.Microsecond)
	DefaultFairFlowBalancingCurveFactor = 75.0
	DefaultHoldTime                     = ccalgos.Clock(250 * time.Millisecond)
	DefaultMinSamples                   = int64(20)
	DefaultMeasurementTime              = ccalgos.Clock(40 * time.Millisecond)
	DefaultSlowStartExitDelay           = ccalgos.Clock(1 * time.Millisecond)
	DefaultHystartLowWindow             = ccalgos.Packets(16)
	DefaultHystartAckDelta              = ccalgos.Clock(2 * time.Millisecond)
	DefaultHystartMinSamples            = 16

	// MinCwnd is the floor below which cwnd is never reduced.
	MinCwnd = ccalgos.Packets(2)
)

// Options configures a Controller.
type Options struct {
	// CubicC is CUBIC's window-growth scaling constant.
	CubicC float64
	// CubicBeta is the multiplicative decrease factor applied on a
	// congestion episode.
	CubicBeta float64

	// QueueMax is the queueing delay above which precautionary
	// decongestion drains the queue even without an explicit loss or
	// ECN signal.
	QueueMax ccalgos.Clock
	// Delta shrinks the remembered congestion window used as the next
	// CUBIC plateau when fast convergence detects a competing flow.
	Delta float64
	// Gamma is the fraction of the estimated drained bandwidth-delay
	// product the window is reduced to during decongestion.
	Gamma float64
	// CwndMin is the minimum cwnd, in packets, at which precautionary
	// decongestion is still allowed to run.
	CwndMin ccalgos.Packets
	// BaseTimeout is the number of measurement epochs without a fresh
	// base-delay sample after which the remembered base delay is
	// invalidated and re-measured from scratch. Zero disables this.
	BaseTimeout int
	// BaseDelayEpsilon is the vicinity around the current base delay
	// estimate within which a sample still counts as confirming it
	// (rather than lowering it enough to flag LOLA_BASE_REDUCED).
	BaseDelayEpsilon ccalgos.Clock
	// FairFlowBalancingStartDelay is the queueing delay above which
	// the controller starts pacing cwnd growth toward a target queue
	// occupancy instead of growing unconstrained.
	FairFlowBalancingStartDelay ccalgos.Clock
	// FairFlowBalancingCurveFactor scales the cubic-in-time target
	// queue occupancy curve used during fair flow balancing.
	FairFlowBalancingCurveFactor float64
	// HoldTime is how long cwnd growth is held flat after a
	// decongestion event, giving the drained queue time to refill
	// before the next measurement.
	HoldTime ccalgos.Clock
	// MinSamples is the minimum number of ACK samples required in a
	// measurement interval before its minimum RTT is trusted.
	MinSamples int64
	// MeasurementTime is the length of a precautionary-decongestion
	// measurement interval.
	MeasurementTime ccalgos.Clock
	// SlowStartExitDelay is how far the in-round minimum RTT must rise
	// above the base delay before Hystart's delay-increase check exits
	// slow start.
	SlowStartExitDelay ccalgos.Clock
	// HystartLowWindow is the minimum cwnd, in packets, before Hystart
	// detection is consulted at all.
	HystartLowWindow ccalgos.Packets
	// HystartAckDelta is the maximum spacing between ACKs that still
	// counts as part of an ACK train, for ack-train detection.
	HystartAckDelta ccalgos.Clock
	// HystartMinSamples is the number of per-round RTT samples
	// required before the delay-increase check is trusted.
	HystartMinSamples int

	// EnablePrecautionaryDecongestion turns on queue draining ahead of
	// an explicit congestion signal (lola_mode bit 1 in the original).
	EnablePrecautionaryDecongestion bool
	// EnableFairFlowBalancing paces cwnd growth toward a target queue
	// occupancy once queueing delay crosses FairFlowBalancingStartDelay
	// (lola_mode bit 2).
	EnableFairFlowBalancing bool
	// EnableFastConvergence shrinks the remembered plateau cwnd when a
	// competing flow is suspected (lola_mode bit 4).
	EnableFastConvergence bool
	// EnableCwndHold freezes growth for HoldTime after a decongestion
	// event (lola_mode bit 8).
	EnableCwndHold bool
	// EnableHystart turns on slow-start exit detection.
	EnableHystart bool
	// EnableHystartAckTrain turns on the ACK-train slow-start exit
	// mechanism.
	EnableHystartAckTrain bool
	// EnableHystartDelay turns on the delay-increase slow-start exit
	// mechanism.
	EnableHystartDelay bool
	// TCPFriendliness blends in a standard-TCP-equivalent cwnd
	// estimate so CUBIC never grows slower than Reno would.
	TCPFriendliness bool
}

// DefaultOptions returns the tcp_lola.c reference defaults.
func DefaultOptions() Options {
	return Options{
		CubicC:                       DefaultCubicC,
		CubicBeta:                    DefaultCubicBeta,
		QueueMax:                     DefaultQueueMax,
		Delta:                        DefaultDelta,
		Gamma:                        DefaultGamma,
		CwndMin:                      DefaultCwndMin,
		BaseTimeout:                  DefaultBaseTimeout,
		BaseDelayEpsilon:             DefaultBaseDelayEpsilon,
		FairFlowBalancingStartDelay:  DefaultFairFlowBalancingStartDelay,
		FairFlowBalancingCurveFactor: DefaultFairFlowBalancingCurveFactor,
		HoldTime:                     DefaultHoldTime,
		MinSamples:                   DefaultMinSamples,
		MeasurementTime:              DefaultMeasurementTime,
		SlowStartExitDelay:           DefaultSlowStartExitDelay,
		HystartLowWindow:             DefaultHystartLowWindow,
		HystartAckDelta:              DefaultHystartAckDelta,
		HystartMinSamples:            DefaultHystartMinSamples,

		EnablePrecautionaryDecongestion: true,
		EnableFairFlowBalancing:         true,
		EnableFastConvergence:           true,
		EnableCwndHold:                  true,
		EnableHystart:                   true,
		EnableHystartAckTrain:           true,
		EnableHystartDelay:              true,
		TCPFriendliness:                 true,
	}
}

func (o Options) validate() error {
	if o.CubicC <= 0 {
		return fmt.Errorf("lola: cubic C must be positive")
	}
	if o.CubicBeta <= 0 || o.CubicBeta >= 1 {
		return fmt.Errorf("lola: cubic beta must be in (0, 1)")
	}
	if o.QueueMax <= 0 {
		return fmt.Errorf("lola: queue max must be positive")
	}
	if o.Gamma <= 0 || o.Gamma > 1 {
		return fmt.Errorf("lola: gamma must be in (0, 1]")
	}
	if o.CwndMin < 1 {
		return fmt.Errorf("lola: cwnd min must be at least 1")
	}
	if o.MeasurementTime <= 0 {
		return fmt.Errorf("lola: measurement time must be positive")
	}
	if o.MinSamples < 1 {
		return fmt.Errorf("lola: min samples must be at least 1")
	}
	return nil
}

// Controller implements ccalgos.Controller for LoLa.
type Controller struct {
	opt Options

	// CUBIC growth state, tcp_lola.c's struct lolatcp fields.
	cnt            int64 // packets to ack before cwnd grows by one
	aiCnt          int64 // tcp_cong_avoid_ai's snd_cwnd_cnt equivalent
	lastMaxCwnd    float64
	lossCwnd       ccalgos.Packets
	lastUpdate     ccalgos.Clock
	lastUpdateSet  bool
	bicOriginPoint float64
	bicK           float64 // seconds from epoch start to the cubic origin
	epochStart     ccalgos.Clock
	epochActive    bool
	ackCnt         int64
	tcpCwnd        float64

	// Hystart state. hystartSampleCnt and decongestionSampleCnt are
	// kept distinct: tcp_lola.c conflates the two into one sample_cnt
	// field, noted there as a bug ("we do not want this in slow
	// start"); this keeps slow-start's per-round RTT sampling from
	// corrupting precautionary decongestion's per-measurement-interval
	// sampling and vice versa.
	roundEnd           ccalgos.Clock
	currRoundMinRTT    ccalgos.Clock
	hystartSampleCnt   int
	lastAckTime        ccalgos.Clock
	lastAckTimeSet     bool
	hystartAckTrainHit bool
	hystartDelayHit    bool

	// Precautionary decongestion state.
	delayMin              ccalgos.Clock
	delayMinSet           bool
	baseInvalidationCount int
	baseReduced           bool
	inCwndHold            bool
	inFairFlowBalancing   bool
	lossSamplingLocked    bool
	currRTT               ccalgos.Clock
	currRTTSet            bool
	decongestionSampleCnt int64
	endMeasurement        ccalgos.Clock
}

var (
	_ ccalgos.Controller          = (*Controller)(nil)
	_ ccalgos.Initializer         = (*Controller)(nil)
	_ ccalgos.SsthreshController  = (*Controller)(nil)
	_ ccalgos.UndoCwndController  = (*Controller)(nil)
	_ ccalgos.PktsAckedController = (*Controller)(nil)
	_ ccalgos.StateController     = (*Controller)(nil)
	_ ccalgos.EventController     = (*Controller)(nil)
)

// New returns a new LoLa Controller with the given options.
func New(opt Options) (*Controller, error) {
	if err := opt.validate(); err != nil {
		return nil, err
	}
	return &Controller{opt: opt}, nil
}

func init() {
	ccalgos.Register("lola", func() (ccalgos.Controller, error) {
		return New(DefaultOptions())
	})
}

// Init implements ccalgos.Initializer.
func (c *Controller) Init(conn ccalgos.Conn) {
	c.resetEpoch()
	c.lossCwnd = 0
	if c.opt.EnableHystart {
		c.hystartReset(conn)
	}
}

func (c *Controller) resetEpoch() {
	c.cnt = 0
	c.lastMaxCwnd = 0
	c.lastUpdateSet = false
	c.bicOriginPoint = 0
	c.bicK = 0
	c.delayMin = 0
	c.delayMinSet = false
	c.epochStart = 0
	c.epochActive = false
	c.ackCnt = 0
	c.tcpCwnd = 0
	c.hystartSampleCnt = 0
	c.currRoundMinRTT = ccalgos.ClockInfinity
	c.currRTT = 0
	c.currRTTSet = false
}

// hystartReset starts a fresh Hystart measurement round, matching
// bictcp_hystart_reset.
func (c *Controller) hystartReset(conn ccalgos.Conn) {
	now := conn.Now()
	c.roundEnd = now
	c.lastAckTime = now
	c.lastAckTimeSet = true
	c.currRoundMinRTT = ccalgos.ClockInfinity
	c.hystartSampleCnt = 0
	c.inCwndHold = false
	c.inFairFlowBalancing = false
}

// SetState implements ccalgos.StateController.
func (c *Controller) SetState(conn ccalgos.Conn, state ccalgos.CAState) {
	if state == ccalgos.CALoss && conn.Cwnd() < conn.Ssthresh() {
		if c.opt.EnableHystart {
			c.hystartReset(conn)
		}
	}
}

// CwndEvent implements ccalgos.EventController. tcp_lola.c also shifts
// epoch_start on CA_EVENT_TX_START to keep the cubic curve aligned
// across idle periods; this library has no idle-period event in its
// CwndEvent set (the base spec's CwndEvent enum covers only
// ECE/CWRComplete/Loss/FastRTX), so that adjustment has no home here
// and is not implemented.
func (c *Controller) CwndEvent(conn ccalgos.Conn, event ccalgos.CwndEvent) {
	if event == ccalgos.CwndEventCWRComplete {
		c.lossSamplingLocked = false
	}
}

// PktsAcked implements ccalgos.PktsAckedController: delay sampling and
// Hystart detection, independent of the cwnd growth in CongAvoid.
func (c *Controller) PktsAcked(conn ccalgos.Conn, sample ccalgos.AckSample) {
	if sample.RTT <= 0 {
		return
	}
	delay := sample.RTT
	inSlowStart := conn.Cwnd() <= conn.Ssthresh()

	// Discard samples taken right after fast recovery, before the new
	// epoch has had a full base RTT to settle.
	if c.lossSamplingLocked && !inSlowStart {
		if !c.epochActive || conn.Now()-c.epochStart < c.delayMin {
			return
		}
	}
	c.lossSamplingLocked = false

	if c.opt.EnablePrecautionaryDecongestion && !c.inCwndHold {
		if !c.currRTTSet || delay < c.currRTT {
			c.currRTT = delay
			c.currRTTSet = true
		}
		c.decongestionSampleCnt += int64(sample.Acked)
	}

	// First sample, or the path delay decreased.
	if !c.delayMinSet || delay < c.delayMin {
		if c.delayMinSet && c.delayMin-delay > c.opt.BaseDelayEpsilon {
			c.baseReduced = true
		}
		c.delayMin = delay
		c.delayMinSet = true
	}
	if delay-c.delayMin < c.opt.BaseDelayEpsilon {
		c.baseInvalidationCount = 0
	}

	if c.opt.EnableHystart && inSlowStart && conn.Cwnd() >= c.opt.HystartLowWindow {
		c.hystartUpdate(conn, delay)
	}
}

// hystartUpdate implements tcp_lola.c's hystart_update, using time
// elapsed rather than sequence numbers to detect an ACK train (this
// library's Conn has no sequence-number accessor) and a separate
// sample counter from precautionary decongestion's.
func (c *Controller) hystartUpdate(conn ccalgos.Conn, delay ccalgos.Clock) {
	now := conn.Now()
	if !c.epochActive {
		c.epochStart = now
		c.epochActive = true
	}
	if c.hystartAckTrainHit || c.hystartDelayHit {
		return
	}

	if c.opt.EnableHystartAckTrain {
		if c.lastAckTimeSet && now-c.lastAckTime <= c.opt.HystartAckDelta {
			c.lastAckTime = now
			if now-c.epochStart > c.delayMin/2 {
				c.hystartAckTrainHit = true
				conn.SetSsthresh(conn.Cwnd())
				c.epochActive = false
			}
		}
	}

	if c.opt.EnableHystartDelay {
		if c.hystartSampleCnt < c.opt.HystartMinSamples {
			if delay < c.currRoundMinRTT {
				c.currRoundMinRTT = delay
			}
			c.hystartSampleCnt++
		} else if c.currRoundMinRTT > c.delayMin+c.opt.SlowStartExitDelay {
			c.inFairFlowBalancing = false
			if c.lastMaxCwnd == 0 {
				c.hystartDelayHit = true
				c.epochActive = false
			}
			conn.SetSsthresh(conn.Cwnd())
		}
	}
}

// CongAvoid implements ccalgos.Controller.
func (c *Controller) CongAvoid(conn ccalgos.Conn, sample ccalgos.AckSample) {
	lastCwnd := conn.Cwnd()
	inSlowStart := conn.Cwnd() <= conn.Ssthresh()
	acked := sample.Acked

	if !inSlowStart {
		c.precautionaryDecongestion(conn)
	}

	if !conn.CwndLimited() {
		if inSlowStart && conn.Cwnd() > 10 {
			conn.SetCwnd(conn.InFlight())
			conn.SetSsthresh(conn.InFlight())
			c.epochActive = false
		}
		return
	}

	if inSlowStart {
		if c.opt.EnableHystart && !c.hystartAckTrainHit && !c.hystartDelayHit {
			// Round detection by elapsed time: a round ends once
			// currRoundMinRTT-worth of time has passed since the round
			// started, standing in for tcp_lola.c's sequence-based
			// round (flow.latestAcked > windowEnd), which this
			// library's Conn has no way to express.
			if c.currRoundMinRTT != ccalgos.ClockInfinity && conn.Now()-c.roundEnd > c.currRoundMinRTT {
				c.hystartReset(conn)
			}
		}
		grown := conn.Cwnd() + acked
		if grown > conn.CwndClamp() {
			grown = conn.CwndClamp()
		}
		conn.SetCwnd(grown)
		if conn.Cwnd() > conn.Ssthresh() {
			c.epochActive = false
		}
		if acked == 0 {
			return
		}
	} else {
		if !(c.epochActive && (c.inCwndHold || c.inFairFlowBalancing)) {
			if !c.epochActive {
				c.inCwndHold = false
				c.inFairFlowBalancing = false
			}
			c.cubicUpdate(conn, acked)
		}
		if c.cnt < 2 {
			c.cnt = 2
		}
		tcpCongAvoidAI(conn, c.cnt, acked, &c.aiCnt)
	}

	if lastCwnd != conn.Cwnd() {
		c.lastUpdateSet = false
	}
}

// precautionaryDecongestion implements
// lolatcp_precautionary_decongestion: it periodically checks measured
// queueing delay and, if it exceeds QueueMax, drains the queue by
// reducing cwnd directly to an estimate of the bandwidth-delay
// product at the base (propagation-only) delay.
func (c *Controller) precautionaryDecongestion(conn ccalgos.Conn) {
	if !(c.opt.EnablePrecautionaryDecongestion && c.delayMinSet && c.currRTTSet) {
		return
	}

	// The evaluation runs either on a completed measurement interval
	// outside hold, or once the hold interval has elapsed (the held
	// measurement is still valid: sampling is paused during hold, not
	// discarded).
	now := conn.Now()
	holdExpired := c.inCwndHold && now-c.epochStart > c.opt.HoldTime
	haveValidMeasurement := c.epochActive && !c.inCwndHold &&
		(c.inFairFlowBalancing || c.hystartDelayHit || c.baseReduced ||
			now-c.epochStart > 2*c.currRTT) &&
		(now >= c.endMeasurement || c.hystartDelayHit) &&
		c.decongestionSampleCnt >= c.opt.MinSamples &&
		conn.Cwnd() >= c.opt.CwndMin

	if !holdExpired && !haveValidMeasurement {
		return
	}

	queueDelay := c.currRTT - c.delayMin
	if queueDelay < 0 {
		queueDelay = 0
	}

	if c.opt.EnableFairFlowBalancing && !c.inCwndHold &&
		queueDelay > c.opt.FairFlowBalancingStartDelay && !c.inFairFlowBalancing {
		c.inFairFlowBalancing = true
		c.epochStart = now
	}

	if c.inFairFlowBalancing {
		c.fairFlowBalance(conn, now, queueDelay)
	}

	if queueDelay > c.opt.QueueMax || c.inCwndHold || c.baseReduced || c.hystartDelayHit {
		c.inFairFlowBalancing = false
		if c.opt.EnableCwndHold && !c.inCwndHold && !c.baseReduced && !c.hystartDelayHit {
			// Enter hold: freeze growth and stamp the hold's start.
			// The measurement is deliberately not reset so the
			// reduction after the hold still has a curr_rtt to
			// work from.
			c.inCwndHold = true
			c.cnt = 100 * int64(conn.Cwnd())
			c.epochStart = now
			c.epochActive = true
			return
		}
		c.inCwndHold = false
		c.hystartDelayHit = false
		c.drainQueue(conn)
		c.epochActive = false
		if ssthresh := conn.Ssthresh(); conn.Cwnd() < ssthresh {
			conn.SetSsthresh(conn.Cwnd())
		}
	}

	c.resetMeasurement(now)
}

// fairFlowBalance paces cwnd growth toward a cubic-in-time target
// queue occupancy, matching the LOLA_IN_FAIR_FLOW_BALANCING block of
// lolatcp_precautionary_decongestion.
func (c *Controller) fairFlowBalance(conn ccalgos.Conn, now, queueDelay ccalgos.Clock) {
	elapsed := now - c.epochStart
	targetQueue := lolaTarget(elapsed, c.opt.FairFlowBalancingCurveFactor)
	cwnd := float64(conn.Cwnd())
	packetsInQueue := cwnd * queueDelay.Milliseconds() / c.currRTT.Milliseconds()

	if packetsInQueue >= targetQueue {
		c.cnt = 100 * int64(conn.Cwnd())
		return
	}

	// Grow by the gap between target and actual queue occupancy per
	// measurement interval, bounded above by 4x the target's growth
	// over the last base RTT (or 2x the prior interval's growth,
	// whichever is larger) and below by one packet.
	prior := elapsed - c.delayMin
	if prior < 0 {
		prior = 0
	}
	bound := (targetQueue - lolaTarget(prior, c.opt.FairFlowBalancingCurveFactor)) * 4
	if alt := cwnd / float64(maxi64(c.cnt, 1)) * 2; alt > bound {
		bound = alt
	}
	grow := targetQueue - packetsInQueue
	if grow > bound {
		grow = bound
	}
	if grow < 1 {
		grow = 1
	}
	interval := c.opt.MeasurementTime.Microseconds()
	rtt := c.currRTT.Microseconds()
	c.cnt = int64(cwnd * interval / (grow * rtt))
	if c.cnt < 4 {
		c.cnt = 4
	}
}

// drainQueue reduces cwnd directly to Gamma times the estimated
// bandwidth-delay product at the base delay, emptying the queue so
// the next round of samples measures propagation delay cleanly.
func (c *Controller) drainQueue(conn ccalgos.Conn) {
	bandwidth := float64(conn.Cwnd()) / c.currRTT.Milliseconds()
	cwnd := bandwidth * c.delayMin.Milliseconds() * c.opt.Gamma
	newCwnd := ccalgos.Packets(cwnd)
	if newCwnd < c.opt.CwndMin {
		newCwnd = c.opt.CwndMin
	}

	if c.opt.EnableFastConvergence && float64(conn.Cwnd()) < c.lastMaxCwnd {
		c.lastMaxCwnd = float64(conn.Cwnd()) * c.opt.Delta
	} else {
		c.lastMaxCwnd = float64(conn.Cwnd())
	}
	c.baseReduced = false
	conn.SetCwnd(newCwnd)

	if c.opt.BaseTimeout > 0 {
		c.baseInvalidationCount++
		if c.baseInvalidationCount > c.opt.BaseTimeout {
			c.delayMinSet = false
			c.baseInvalidationCount = 0
		}
	}
}

func (c *Controller) resetMeasurement(now ccalgos.Clock) {
	c.decongestionSampleCnt = 0
	c.currRTTSet = false
	c.currRTT = 0
	c.endMeasurement = now + c.opt.MeasurementTime
}

// lolaTarget returns the target queue occupancy, in packets, for a
// fair-flow-balancing phase that has lasted elapsed, via a cubic-in-time
// curve: (elapsed in milliseconds / curveFactor)^3.
func lolaTarget(elapsed ccalgos.Clock, curveFactor float64) float64 {
	t := elapsed.Milliseconds() / curveFactor
	return t * t * t
}

// cubicUpdate computes cnt, the number of acked packets required to
// grow cwnd by one, from the CUBIC window function. This is the
// float-arithmetic equivalent of bictcp_update.
func (c *Controller) cubicUpdate(conn ccalgos.Conn, acked ccalgos.Packets) {
	cwnd := float64(conn.Cwnd())
	c.ackCnt += int64(acked)

	now := conn.Now()
	if c.epochActive && c.bicOriginPoint != 0 && c.lastUpdateSet && now == c.lastUpdate {
		c.tcpFriendliness(cwnd)
		return
	}
	c.lastUpdate = now
	c.lastUpdateSet = true

	if !c.epochActive {
		c.epochStart = now
		c.epochActive = true
		c.ackCnt = int64(acked)
		c.tcpCwnd = cwnd

		if c.lastMaxCwnd <= cwnd {
			c.bicK = 0
			c.bicOriginPoint = cwnd
		} else {
			c.bicK = cubeRoot(c.opt.CubicC * (c.lastMaxCwnd - cwnd))
			c.bicOriginPoint = c.lastMaxCwnd
		}
	}

	t := now.Seconds() - c.epochStart.Seconds() + c.delayMin.Seconds()
	offs := t - c.bicK
	if offs < 0 {
		offs = -offs
	}
	delta := c.opt.CubicC * offs * offs * offs

	var bicTarget float64
	if t < c.bicK {
		bicTarget = c.bicOriginPoint - delta
	} else {
		bicTarget = c.bicOriginPoint + delta
	}

	if bicTarget > cwnd {
		c.cnt = int64(cwnd / (bicTarget - cwnd))
	} else {
		c.cnt = int64(100 * cwnd)
	}

	// The initial growth of the cubic function is too conservative
	// while available bandwidth is still unknown.
	if c.lastMaxCwnd == 0 && c.cnt > 20 {
		c.cnt = 20
	}

	c.tcpFriendliness(cwnd)
}

// tcpFriendliness blends in a standard-TCP-equivalent cwnd estimate,
// so CUBIC's window never grows slower than Reno's would.
func (c *Controller) tcpFriendliness(cwnd float64) {
	if !c.opt.TCPFriendliness {
		if c.cnt < 2 {
			c.cnt = 2
		}
		return
	}
	delta := cwnd / 3
	if delta < 1 {
		delta = 1
	}
	for float64(c.ackCnt) > delta {
		c.ackCnt -= int64(delta)
		c.tcpCwnd++
	}
	if c.tcpCwnd > cwnd {
		d := c.tcpCwnd - cwnd
		maxCnt := int64(cwnd / d)
		if c.cnt > maxCnt {
			c.cnt = maxCnt
		}
	}
	if c.cnt < 2 {
		c.cnt = 2
	}
}

// cubeRoot returns the cube root of a non-negative x. tcp_lola.c uses
// a fixed-point table-and-Newton-Raphson approximation to avoid
// floating point in the kernel; this runs in userspace, so math.Cbrt
// is used directly (as a quic-go derived cubic sender in the example
// pack also does).
func cubeRoot(x float64) float64 {
	if x <= 0 {
		return 0
	}
	return math.Cbrt(x)
}

func maxi64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// tcpCongAvoidAI applies one RTT's worth of additive increase: cwnd
// grows by one packet after w acked packets accumulate, matching
// Linux's tcp_cong_avoid_ai.
func tcpCongAvoidAI(conn ccalgos.Conn, w int64, acked ccalgos.Packets, cnt *int64) {
	if *cnt >= w {
		*cnt = 0
	}
	*cnt += int64(acked)
	if *cnt >= w && w > 0 {
		delta := *cnt / w
		*cnt -= delta * w
		cwnd := conn.Cwnd() + ccalgos.Packets(delta)
		if cwnd > conn.CwndClamp() {
			cwnd = conn.CwndClamp()
		}
		conn.SetCwnd(cwnd)
	}
}

// Ssthresh implements ccalgos.SsthreshController, matching
// bictcp_recalc_ssthresh.
func (c *Controller) Ssthresh(conn ccalgos.Conn) ccalgos.Packets {
	cwnd := float64(conn.Cwnd())
	c.lossCwnd = conn.Cwnd()
	c.cnt = int64(cwnd * 100)

	if cwnd < c.lastMaxCwnd && c.opt.EnableFastConvergence {
		c.lastMaxCwnd = cwnd * (1 + c.opt.CubicBeta) / 2
	} else {
		c.lastMaxCwnd = cwnd
	}

	c.lossSamplingLocked = true
	c.epochActive = false
	c.currRTTSet = false
	c.currRTT = 0
	c.decongestionSampleCnt = 0
	c.inCwndHold = false
	c.inFairFlowBalancing = false

	newSsthresh := ccalgos.Packets(cwnd * c.opt.CubicBeta)
	if newSsthresh < MinCwnd {
		return MinCwnd
	}
	return newSsthresh
}

// UndoCwnd implements ccalgos.UndoCwndController, matching
// bictcp_undo_cwnd: if loss was detected very soon after the last
// reduction (inside half a base RTT of the new epoch starting), it's
// likely spurious, and the epoch is reopened rather than trusted.
func (c *Controller) UndoCwnd(conn ccalgos.Conn) ccalgos.Packets {
	if !c.epochActive || conn.Now()-c.epochStart < c.delayMin/2 {
		c.epochActive = false
	}
	c.lossSamplingLocked = false
	if conn.Cwnd() > c.lossCwnd {
		return conn.Cwnd()
	}
	return c.lossCwnd
}
