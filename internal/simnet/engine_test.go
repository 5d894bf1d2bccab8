// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package simnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineRunsEventsInTimeOrder(t *testing.T) {
	e := NewEngine()
	var order []int
	e.Schedule(Clock(30), func() { order = append(order, 3) })
	e.Schedule(Clock(10), func() { order = append(order, 1) })
	e.Schedule(Clock(20), func() { order = append(order, 2) })
	require.NoError(t, e.Run(Clock(100)))
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Equal(t, Clock(100), e.Now())
}

func TestEngineSameTimeEventsRunInScheduleOrder(t *testing.T) {
	e := NewEngine()
	var order []int
	e.Schedule(Clock(10), func() { order = append(order, 1) })
	e.Schedule(Clock(10), func() { order = append(order, 2) })
	require.NoError(t, e.Run(Clock(10)))
	assert.Equal(t, []int{1, 2}, order)
}

func TestEngineNegativeDelayFiresImmediately(t *testing.T) {
	e := NewEngine()
	fired := false
	e.Schedule(Clock(-5), func() { fired = true })
	require.NoError(t, e.Run(Clock(0)))
	assert.True(t, fired)
}

func TestEngineEventCanScheduleAnotherEvent(t *testing.T) {
	e := NewEngine()
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 5 {
			e.Schedule(Clock(1), tick)
		}
	}
	e.Schedule(Clock(1), tick)
	require.NoError(t, e.Run(Clock(10)))
	assert.Equal(t, 5, count)
}

func TestEnginePendingReflectsUnrunEvents(t *testing.T) {
	e := NewEngine()
	e.Schedule(Clock(5), func() {})
	e.Schedule(Clock(50), func() {})
	assert.Equal(t, 2, e.Pending())
	require.NoError(t, e.Run(Clock(10)))
	assert.Equal(t, 1, e.Pending())
}

func TestTransferTimeScalesWithRateAndSize(t *testing.T) {
	// 1500 bytes at 1Mbps = 12000 bits / 1e6 bps = 12ms.
	got := TransferTime(1*Mbps, 1500)
	assert.InDelta(t, 12000000, float64(got), 1000)
}

func TestTransferTimeZeroForNonPositiveRate(t *testing.T) {
	assert.Equal(t, Clock(0), TransferTime(0, 1500))
	assert.Equal(t, Clock(0), TransferTime(-1, 1500))
}

func TestBitrateStringFormatsHumanUnits(t *testing.T) {
	assert.Equal(t, "500bps", Bitrate(500).String())
	assert.Equal(t, "1.5Kbps", Bitrate(1500).String())
	assert.Equal(t, "20Mbps", (20 * Mbps).String())
	assert.Equal(t, "1Gbps", (1 * Gbps).String())
}
