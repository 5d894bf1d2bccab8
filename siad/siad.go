// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

// Package siad implements Scalable Increase Adaptive Decrease, a
// delay-aware controller that keeps per-RTT-epoch bookkeeping and may
// apply more than one additional multiplicative decrease within a
// single congestion episode if queueing delay remains elevated.
package siad

import (
	"fmt"
	"time"

	"github.com/heistp/ccalgos"
)

// Offset is a small packet-count offset subtracted from a computed
// cwnd/ssthresh to account for rounding, matching tcp_siad.c's OFFSET.
const Offset = int64(1)

// MinCwnd is the floor below which cwnd is never reduced.
const MinCwnd = ccalgos.Packets(2)

// DefaultNumRTT is the default number of RTTs per congestion epoch
// between two congestion events.
const DefaultNumRTT = 20

// DefaultMinRTT is the minimum permitted epoch length in RTTs.
const DefaultMinRTT = 2

// Options configures a Controller.
type Options struct {
	// NumRTT is the desired number of RTTs between two congestion
	// events. Must be at least DefaultMinRTT.
	NumRTT int64
	// NumMs, if non-zero, is a desired epoch length in milliseconds:
	// on each congestion event the epoch is stretched beyond NumRTT
	// when NumMs divided by the average measured RTT comes out larger.
	NumMs int64
}

// DefaultOptions returns the tcp_siad.c reference defaults.
func DefaultOptions() Options {
	return Options{NumRTT: DefaultNumRTT, NumMs: 0}
}

func (o Options) validate() error {
	if o.NumRTT < DefaultMinRTT {
		return fmt.Errorf("siad: num_rtt must be at least %d", DefaultMinRTT)
	}
	if o.NumMs < 0 {
		return fmt.Errorf("siad: num_ms must not be negative")
	}
	return nil
}

// Controller implements ccalgos.Controller for SIAD.
type Controller struct {
	opt Options

	currNumRTT  int64
	increase    int64 // = alpha * currNumRTT
	prevMaxCwnd int64 // estimated max cwnd at previous congestion event
	incthresh   int64

	prevDelay    ccalgos.Clock
	currDelay    ccalgos.Clock
	minDelay     ccalgos.Clock
	currMinDelay ccalgos.Clock
	decCnt       int64

	minDelaySeen      bool
	increasePerformed bool

	prevMinDelay1, prevMinDelay2, prevMinDelay3 ccalgos.Clock

	cwndCnt int64
}

var (
	_ ccalgos.Controller         = (*Controller)(nil)
	_ ccalgos.SsthreshController = (*Controller)(nil)
	_ ccalgos.UndoCwndController = (*Controller)(nil)
	_ ccalgos.EventController    = (*Controller)(nil)
)

// New returns a new SIAD Controller with the given options. The
// initial increase/incthresh are fixed up on the first CongAvoid call,
// once the connection's starting cwnd is known (tcp_siad_init reads
// tp->snd_cwnd, which isn't available until a Conn is supplied).
func New(opt Options) (*Controller, error) {
	if err := opt.validate(); err != nil {
		return nil, err
	}
	return &Controller{
		opt:          opt,
		currNumRTT:   opt.NumRTT,
		minDelay:     ccalgos.ClockInfinity,
		currMinDelay: ccalgos.ClockInfinity,
		prevDelay:    ccalgos.ClockInfinity,
		minDelaySeen: true,
	}, nil
}

func init() {
	ccalgos.Register("siad", func() (ccalgos.Controller, error) {
		return New(DefaultOptions())
	})
}

// Init implements ccalgos.Initializer.
func (s *Controller) Init(conn ccalgos.Conn) {
	cwnd := int64(conn.Cwnd())
	if cwnd < int64(MinCwnd) {
		cwnd = int64(MinCwnd)
	}
	s.increase = cwnd * s.currNumRTT
	s.prevMaxCwnd = cwnd
	s.incthresh = cwnd
}

// CwndEvent implements ccalgos.EventController.
func (s *Controller) CwndEvent(conn ccalgos.Conn, event ccalgos.CwndEvent) {
	if event == ccalgos.CwndEventCWRComplete {
		s.currMinDelay = ccalgos.ClockInfinity
		s.decCnt = 0
		s.minDelaySeen = false
		s.increasePerformed = false
	}
}

// CongAvoid implements ccalgos.Controller.
func (s *Controller) CongAvoid(conn ccalgos.Conn, sample ccalgos.AckSample) {
	if s.incthresh == 0 && s.prevMaxCwnd == 0 {
		s.Init(conn)
	}

	// Use the measured sample when present, falling back to the
	// transport's smoothed RTT when the ACK carried no usable timing.
	delay := sample.RTT
	if delay <= 0 {
		delay = conn.SRTT()
	}
	if delay < 0 {
		delay = 0
	}

	// Filter out single outliers.
	s.currDelay = delay
	if s.prevDelay < delay {
		s.currDelay = s.prevDelay
	}
	s.prevDelay = delay

	cwnd := int64(conn.Cwnd())
	ssthresh := int64(conn.Ssthresh())

	if s.minDelay == ccalgos.ClockInfinity || delay <= s.minDelay {
		s.minDelay = delay
		s.minDelaySeen = true
		s.currMinDelay = delay
	} else if delay <= s.currMinDelay {
		s.currMinDelay = delay
		if cwnd > ssthresh+s.increase/s.currNumRTT+1 {
			s.minDelay = delay
			s.minDelaySeen = true
		}
	}
	if cwnd > s.incthresh || cwnd < ssthresh {
		s.minDelaySeen = true
	}

	if !conn.CwndLimited() {
		return
	}

	if cwnd > ssthresh+s.increase/s.currNumRTT+2 && !s.minDelaySeen &&
		s.decCnt < s.currNumRTT-1 {
		s.additionalDecrease(conn, cwnd, ssthresh)
	} else {
		s.regularIncrease(conn, cwnd, ssthresh, int64(sample.Acked))
	}
}

// additionalDecrease implements the branch of tcp_siad_cong_avoid that
// fires when the minimum delay hasn't been seen yet this epoch: it
// reduces cwnd toward an estimate of its value one RTT ago, and may
// fire again (up to NumRTT-1 times per epoch) if delay stays elevated.
func (s *Controller) additionalDecrease(conn ccalgos.Conn, cwnd, ssthresh int64) {
	s.decCnt++
	s.cwndCnt = 0

	newCwnd := ssthresh
	if s.currDelay > 0 {
		newCwnd = int64(s.minDelay) * ssthresh / int64(s.currDelay)
	}

	if newCwnd > int64(MinCwnd)+Offset {
		newCwnd -= Offset
		// On the last permitted decrease decCnt has reached NumRTT-1,
		// so the lookahead denominator bottoms out at one.
		den := s.currNumRTT - s.decCnt - 1
		if den < 1 {
			den = 1
		}
		s.increase = max64(s.currNumRTT, (s.incthresh-newCwnd)*s.currNumRTT/den)
		alpha := s.increase / s.currNumRTT
		reduce := newCwnd / (s.currNumRTT - s.decCnt)
		if reduce < alpha {
			if alpha+int64(MinCwnd) < newCwnd {
				newCwnd -= alpha
			} else {
				newCwnd = int64(MinCwnd)
				s.minDelaySeen = true
			}
		} else {
			if reduce+int64(MinCwnd) < newCwnd {
				newCwnd -= reduce
			} else {
				newCwnd = int64(MinCwnd)
				s.minDelaySeen = true
			}
			s.increase = max64(s.currNumRTT, (s.incthresh-newCwnd)*s.currNumRTT/(s.currNumRTT-s.decCnt))
		}
	} else {
		newCwnd = int64(MinCwnd)
		s.minDelaySeen = true
		s.increase = max64(s.currNumRTT, (s.incthresh-newCwnd)*s.currNumRTT/(s.currNumRTT-s.decCnt))
	}

	if newCwnd < int64(MinCwnd) {
		newCwnd = int64(MinCwnd)
	}
	conn.SetCwnd(ccalgos.Packets(newCwnd))
	conn.SetSsthresh(ccalgos.Packets(newCwnd - 1))

	if s.increase > newCwnd*s.currNumRTT {
		s.minDelaySeen = true
	}
}

// regularIncrease implements the scalable-increase branch.
func (s *Controller) regularIncrease(conn ccalgos.Conn, cwnd, ssthresh, ackedPkts int64) {
	if ackedPkts <= 0 {
		ackedPkts = 1
	}
	s.cwndCnt += ackedPkts

	next := max64(1, cwnd*s.currNumRTT/s.increase)
	if s.cwndCnt < next {
		return
	}
	n := s.cwndCnt / next
	clamp := int64(conn.CwndClamp())
	if cwnd < clamp {
		inc := min64(ackedPkts, min64(n, clamp-cwnd))
		newCwnd := cwnd + inc
		conn.SetCwnd(ccalgos.Packets(newCwnd))
		s.increasePerformed = true

		switch {
		case newCwnd >= ssthresh && (newCwnd-inc) < ssthresh && s.incthresh > ssthresh:
			s.increase = max64(s.currNumRTT, s.incthresh-ssthresh)
		case (newCwnd >= ssthresh && (newCwnd-inc) < ssthresh && s.incthresh <= ssthresh) ||
			(newCwnd >= s.incthresh && (newCwnd-inc) < s.incthresh):
			s.increase = s.currNumRTT
		case newCwnd > s.incthresh && s.increase < (newCwnd>>1)*s.currNumRTT:
			s.increase += inc * s.currNumRTT
		case newCwnd < ssthresh:
			s.increase = newCwnd * s.currNumRTT
		}
	}
	s.cwndCnt -= n * next
}

// Ssthresh implements ccalgos.SsthreshController.
func (s *Controller) Ssthresh(conn ccalgos.Conn) ccalgos.Packets {
	s.cwndCnt = 0

	cwnd := int64(conn.Cwnd())
	ssthresh := int64(conn.Ssthresh())
	est := cwnd

	if s.increasePerformed {
		switch {
		case s.increase >= cwnd*s.currNumRTT || cwnd <= ssthresh:
			est = cwnd >> 1
		case cwnd > s.incthresh && s.increase == (cwnd>>1)*s.currNumRTT:
			est -= est / 3
		case cwnd >= s.incthresh && s.incthresh > ssthresh && s.increase == s.currNumRTT:
			est -= (s.incthresh - ssthresh) / s.currNumRTT
		case cwnd > s.incthresh:
			est -= min64(cwnd-int64(MinCwnd), (s.increase/s.currNumRTT)>>1)
		default:
			est -= min64(cwnd-int64(MinCwnd), s.increase/s.currNumRTT)
		}
	}

	// Detect a monotonically increasing trend across the last three
	// recorded minimum delays and reset it; otherwise track it.
	if s.minDelay < s.prevMinDelay1 || s.minDelay < s.prevMinDelay2 ||
		s.minDelay < s.prevMinDelay3 {
		s.prevMinDelay1, s.prevMinDelay2, s.prevMinDelay3 = 0, 0, 0
	} else if s.minDelay > s.prevMinDelay1 {
		switch {
		case s.prevMinDelay1 == 0:
			s.prevMinDelay1 = s.minDelay
		case s.prevMinDelay2 == 0:
			s.prevMinDelay2 = s.minDelay
		case s.minDelay > s.prevMinDelay2:
			switch {
			case s.prevMinDelay3 == 0:
				s.prevMinDelay3 = s.minDelay
			case s.minDelay > s.prevMinDelay3:
				s.minDelay = s.prevMinDelay1
				s.prevMinDelay2, s.prevMinDelay3 = 0, 0
			}
		}
	}

	newSsthresh := est
	if s.minDelay != ccalgos.ClockInfinity && s.currDelay != 0 {
		newSsthresh = int64(s.minDelay) * est / int64(s.currDelay)
	} else {
		newSsthresh = est >> 1
	}
	if newSsthresh > int64(MinCwnd)+Offset {
		newSsthresh -= Offset
	} else {
		newSsthresh = int64(MinCwnd)
	}

	// Epoch length for the next episode: NumRTT, stretched to cover at
	// least NumMs of wall time at the currently observed average RTT.
	s.currNumRTT = s.opt.NumRTT
	if s.opt.NumMs > 0 && s.minDelay != ccalgos.ClockInfinity && s.currDelay != 0 {
		if avgMs := int64(time.Duration(s.currDelay+s.minDelay) / time.Millisecond); avgMs > 0 {
			if n := 2 * s.opt.NumMs / avgMs; n > s.currNumRTT {
				s.currNumRTT = n
			}
		}
	}

	trend := est - s.prevMaxCwnd
	if s.prevMaxCwnd < 2*est {
		s.incthresh = max64(est+trend, newSsthresh)
	} else {
		s.incthresh = newSsthresh
	}
	s.increase = max64(s.currNumRTT, s.incthresh-newSsthresh)
	s.prevMaxCwnd = est

	if newSsthresh < int64(MinCwnd) {
		newSsthresh = int64(MinCwnd)
	}
	return ccalgos.Packets(newSsthresh)
}

// UndoCwnd implements ccalgos.UndoCwndController: when a loss is
// detected as spurious, restore the pre-loss window estimate rather
// than the post-decrease value.
func (s *Controller) UndoCwnd(conn ccalgos.Conn) ccalgos.Packets {
	cwnd := s.incthresh
	s.incthresh = s.prevMaxCwnd
	s.minDelaySeen = true
	if cwnd < int64(MinCwnd) {
		cwnd = int64(MinCwnd)
	}
	return ccalgos.Packets(cwnd)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
