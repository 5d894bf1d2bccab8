// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package ledbat

import (
	"testing"
	"time"

	"github.com/heistp/ccalgos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is a minimal ccalgos.Conn for exercising a Controller
// directly, without a full simulation harness.
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

// tsFeeder generates timestamp-echo ACK samples: each ACK advances the
// local clock by 10ms ticks, and the remote timestamp leads the local
// one by the given one-way delay. The first pair latches the
// controller's offsets, so measured delay equals owdMs minus the owdMs
// of the first sample fed.
type tsFeeder struct {
	localMs uint32
}

func (f *tsFeeder) sample(owdMs uint32, acked ccalgos.Packets) ccalgos.AckSample {
	f.localMs += 10
	return ccalgos.AckSample{
		Acked:       acked,
		RemoteTS:    f.localMs + owdMs,
		LocalTSEcho: f.localMs,
		TSValid:     true,
	}
}

func TestLEDBATRejectsInvalidOptions(t *testing.T) {
	opt := DefaultOptions()
	opt.Target = 0
	_, err := New(opt)
	assert.Error(t, err)

	opt = DefaultOptions()
	opt.BaseHistorySlots = 1
	_, err = New(opt)
	assert.Error(t, err)
}

// TestLEDBATOneWayDelayFromTimestamps pins the §4.2 delay derivation:
// the first echo pair measures zero, a growing remote lead measures as
// queueing delay, and a remote timestamp falling behind the local one
// (clock anomaly) measures zero rather than negative.
func TestLEDBATOneWayDelayFromTimestamps(t *testing.T) {
	c, err := New(DefaultOptions())
	require.NoError(t, err)

	var f tsFeeder
	assert.Equal(t, ccalgos.Clock(0), c.oneWayDelay(f.sample(40, 1)))
	assert.Equal(t, ccalgos.Clock(25*time.Millisecond), c.oneWayDelay(f.sample(65, 1)))
	assert.Equal(t, ccalgos.Clock(0), c.oneWayDelay(f.sample(10, 1)))
}

// TestLEDBATZeroDelayWithoutTimestamps is the §7(b) degraded path: an
// ACK without the timestamp option contributes a zero delay sample, so
// growth proceeds as if the queue were empty.
func TestLEDBATZeroDelayWithoutTimestamps(t *testing.T) {
	c, err := New(DefaultOptions())
	require.NoError(t, err)

	conn := newFakeConn()
	conn.cwnd = 20
	conn.ssthresh = 10
	conn.inFlight = 20

	for i := 0; i < 50; i++ {
		conn.now += ccalgos.Clock(10 * time.Millisecond)
		c.CongAvoid(conn, ccalgos.AckSample{RTT: ccalgos.Clock(300 * time.Millisecond), Acked: 1})
	}
	assert.Equal(t, ccalgos.Clock(0), c.current.Minimum())
	assert.LessOrEqual(t, conn.cwnd, conn.inFlight+1+DefaultAllowedIncrease)
}

// TestLEDBATStationaryAtTarget is the steady-state scenario: once the
// base delay is established, ACKs whose queueing delay sits exactly at
// TARGET leave cwnd stationary, because off_target accumulates zero.
func TestLEDBATStationaryAtTarget(t *testing.T) {
	c, err := New(DefaultOptions())
	require.NoError(t, err)

	conn := newFakeConn()
	conn.cwnd = 20
	conn.ssthresh = 10 // already past slow start
	conn.inFlight = 20

	var f tsFeeder
	for i := 0; i < 5; i++ {
		conn.now += ccalgos.Clock(10 * time.Millisecond)
		c.CongAvoid(conn, f.sample(0, 1))
	}

	const atTargetMs = 100
	for i := 0; i < 50; i++ {
		conn.now += ccalgos.Clock(10 * time.Millisecond)
		c.CongAvoid(conn, f.sample(atTargetMs, 1))
		assert.InDelta(t, 20, float64(conn.cwnd), 1)
	}
}

// TestLEDBATBacksOffAboveTarget is the overload scenario: with the
// base delay established, delays ramping well past TARGET must drive
// cwnd monotonically down without ever dropping below the floor.
func TestLEDBATBacksOffAboveTarget(t *testing.T) {
	c, err := New(DefaultOptions())
	require.NoError(t, err)

	conn := newFakeConn()
	conn.cwnd = 50
	conn.ssthresh = 10
	conn.inFlight = 50

	var f tsFeeder
	for i := 0; i < 5; i++ {
		conn.now += ccalgos.Clock(10 * time.Millisecond)
		c.CongAvoid(conn, f.sample(0, 1))
	}

	start := conn.cwnd
	last := conn.cwnd
	for i := 0; i < 100; i++ {
		conn.now += ccalgos.Clock(10 * time.Millisecond)
		c.CongAvoid(conn, f.sample(uint32(200+2*i), 2))
		assert.LessOrEqual(t, conn.cwnd, last)
		last = conn.cwnd
	}
	assert.Less(t, conn.cwnd, start)
	assert.GreaterOrEqual(t, conn.cwnd, MinCwnd)
}

// TestLEDBATBaseRolloverTracksLowerFloor is the base-rollover
// scenario: after a sustained drop in path delay lasting longer than
// the rollover interval, the base-delay floor should eventually
// reflect it. The initial zero-delay latch sample rotates out of the
// two-slot history during the first high-delay phase.
func TestLEDBATBaseRolloverTracksLowerFloor(t *testing.T) {
	opt := DefaultOptions()
	opt.BaseRollover = ccalgos.Clock(100 * time.Millisecond)
	opt.BaseHistorySlots = 2
	c, err := New(opt)
	require.NoError(t, err)

	conn := newFakeConn()
	conn.ssthresh = 10
	conn.cwnd = 50

	var f tsFeeder
	conn.now += ccalgos.Clock(10 * time.Millisecond)
	c.CongAvoid(conn, f.sample(0, 1))

	for i := 0; i < 50; i++ {
		conn.now += ccalgos.Clock(10 * time.Millisecond)
		c.CongAvoid(conn, f.sample(50, 1))
	}
	highBase := c.base.Minimum()

	for i := 0; i < 50; i++ {
		conn.now += ccalgos.Clock(10 * time.Millisecond)
		c.CongAvoid(conn, f.sample(5, 1))
	}
	lowBase := c.base.Minimum()

	assert.Less(t, int64(lowBase), int64(highBase))
}

func TestLEDBATCwndNeverBelowMin(t *testing.T) {
	c, err := New(DefaultOptions())
	require.NoError(t, err)
	conn := newFakeConn()
	conn.ssthresh = 1
	conn.cwnd = 2

	var f tsFeeder
	conn.now += ccalgos.Clock(10 * time.Millisecond)
	c.CongAvoid(conn, f.sample(0, 1))
	for i := 0; i < 500; i++ {
		conn.now += ccalgos.Clock(10 * time.Millisecond)
		c.CongAvoid(conn, f.sample(500, 1))
		assert.GreaterOrEqual(t, conn.cwnd, MinCwnd)
	}
}
