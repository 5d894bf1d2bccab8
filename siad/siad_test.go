// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package siad

import (
	"testing"
	"time"

	"github.com/heistp/ccalgos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	now         ccalgos.Clock
	cwnd        ccalgos.Packets
	ssthresh    ccalgos.Packets
	cwndClamp   ccalgos.Packets
	inFlight    ccalgos.Packets
	mss         ccalgos.Bytes
	srtt        ccalgos.Clock
	cwndLimited bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		cwnd:        10,
		ssthresh:    1000,
		cwndClamp:   100000,
		mss:         1440,
		cwndLimited: true,
	}
}

func (c *fakeConn) Now() ccalgos.Clock { return c.now }
func (c *fakeConn) Cwnd() ccalgos.Packets { return c.cwnd }
func (c *fakeConn) SetCwnd(p ccalgos.Packets) { c.cwnd = p }
func (c *fakeConn) Ssthresh() ccalgos.Packets { return c.ssthresh }
func (c *fakeConn) SetSsthresh(p ccalgos.Packets) { c.ssthresh = p }
func (c *fakeConn) CwndClamp() ccalgos.Packets { return c.cwndClamp }
func (c *fakeConn) InFlight() ccalgos.Packets { return c.inFlight }
func (c *fakeConn) MSS() ccalgos.Bytes { return c.mss }
func (c *fakeConn) SRTT() ccalgos.Clock { return c.srtt }
func (c *fakeConn) CwndLimited() bool { return c.cwndLimited }

var _ ccalgos.Conn = (*fakeConn)(nil)

func TestSIADRejectsInvalidOptions(t *testing.T) {
	opt := DefaultOptions()
	opt.NumRTT = 1
	_, err := New(opt)
	assert.Error(t, err)
}

func TestSIADInvariants(t *testing.T) {
	c, err := New(DefaultOptions())
	require.NoError(t, err)
	conn := newFakeConn()
	conn.cwnd = 40
	conn.ssthresh = 20
	c.Init(conn)

	for i := 0; i < 1000; i++ {
		conn.now += ccalgos.Clock(10 * time.Millisecond)
		rtt := ccalgos.Clock(20 * time.Millisecond)
		if i%50 > 25 {
			rtt = ccalgos.Clock(60 * time.Millisecond)
		}
		c.CongAvoid(conn, ccalgos.AckSample{RTT: rtt, Acked: 2})
		assert.GreaterOrEqual(t, conn.cwnd, MinCwnd)
		assert.LessOrEqual(t, conn.cwnd, conn.cwndClamp)
	}
}

// TestSIADBoundsAdditionalDecreases is scenario 3: across a sustained
// high-delay episode, SIAD must not apply more than NumRTT-1
// additional decreases in a single epoch.
func TestSIADBoundsAdditionalDecreases(t *testing.T) {
	opt := DefaultOptions()
	opt.NumRTT = 6
	c, err := New(opt)
	require.NoError(t, err)
	conn := newFakeConn()
	conn.cwnd = 200
	conn.ssthresh = 100
	c.Init(conn)

	// First bring min_delay down with low-delay samples.
	for i := 0; i < 10; i++ {
		conn.now += ccalgos.Clock(10 * time.Millisecond)
		c.CongAvoid(conn, ccalgos.AckSample{RTT: ccalgos.Clock(10 * time.Millisecond), Acked: 2})
	}
	c.CwndEvent(conn, ccalgos.CwndEventCWRComplete)

	for i := 0; i < 40; i++ {
		conn.now += ccalgos.Clock(10 * time.Millisecond)
		c.CongAvoid(conn, ccalgos.AckSample{RTT: ccalgos.Clock(80 * time.Millisecond), Acked: 2})
		assert.LessOrEqual(t, c.decCnt, opt.NumRTT-1)
	}
}

// TestSIADLinearIncreaseAtAlphaOne pins the regular-increase arithmetic:
// with increase equal to NumRTT (alpha of one packet per RTT) and the
// fast-increase threshold far away, cwnd grows by exactly one packet
// per cwnd's worth of acknowledgments.
func TestSIADLinearIncreaseAtAlphaOne(t *testing.T) {
	c, err := New(DefaultOptions())
	require.NoError(t, err)
	conn := newFakeConn()
	conn.cwnd = 100
	conn.ssthresh = 100
	c.Init(conn)
	c.increase = c.currNumRTT // alpha = 1
	c.incthresh = 1000        // stay out of fast increase

	const rtt = ccalgos.Clock(50 * time.Millisecond)
	for i := 0; i < 400; i++ {
		conn.now += ccalgos.Clock(time.Millisecond)
		c.CongAvoid(conn, ccalgos.AckSample{RTT: rtt, Acked: 1})
	}

	// Increments land after 100, then 101, then 102 more ACKs.
	assert.Equal(t, ccalgos.Packets(103), conn.cwnd)
}

// TestSIADNumMsStretchesEpoch checks the num_ms path: with a target
// epoch duration configured, the per-episode Num_RTT is recomputed on
// loss so the epoch covers at least that much wall time at the
// observed average RTT.
func TestSIADNumMsStretchesEpoch(t *testing.T) {
	opt := DefaultOptions()
	opt.NumMs = 2000
	c, err := New(opt)
	require.NoError(t, err)
	conn := newFakeConn()
	conn.cwnd = 100
	conn.ssthresh = 50
	c.Init(conn)

	const rtt = ccalgos.Clock(20 * time.Millisecond)
	for i := 0; i < 5; i++ {
		conn.now += rtt
		c.CongAvoid(conn, ccalgos.AckSample{RTT: rtt, Acked: 1})
	}
	c.Ssthresh(conn)

	// 2*2000ms over a 40ms delay sum is 100 RTTs, well above the
	// default of 20.
	assert.Equal(t, int64(100), c.currNumRTT)
	assert.GreaterOrEqual(t, c.increase, c.currNumRTT)
}

func TestSIADIncreaseNeverBelowOnePacketPerRTT(t *testing.T) {
	c, err := New(DefaultOptions())
	require.NoError(t, err)
	conn := newFakeConn()
	conn.cwnd = 40
	conn.ssthresh = 20
	c.Init(conn)

	for i := 0; i < 200; i++ {
		conn.now += ccalgos.Clock(10 * time.Millisecond)
		c.CongAvoid(conn, ccalgos.AckSample{RTT: ccalgos.Clock(30 * time.Millisecond), Acked: 2})
		if i%60 == 59 {
			conn.cwnd = conn.ssthresh
			conn.ssthresh = c.Ssthresh(conn)
		}
		assert.GreaterOrEqual(t, c.increase, c.currNumRTT)
	}
}

func TestSIADUndoCwndRestoresPreLossEstimate(t *testing.T) {
	c, err := New(DefaultOptions())
	require.NoError(t, err)
	conn := newFakeConn()
	conn.cwnd = 50
	conn.ssthresh = 25
	c.Init(conn)
	c.prevMaxCwnd = 80
	c.incthresh = 40

	got := c.UndoCwnd(conn)
	assert.Equal(t, ccalgos.Packets(40), got)
	assert.Equal(t, int64(80), c.incthresh)
	assert.True(t, c.minDelaySeen)
}
