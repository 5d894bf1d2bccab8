// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package ccalgos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestDelayWindowRingFillsAndTracksMinimum is the base spec's §8
// invariant: after N inserts into a ring of capacity N, every slot is
// populated, and Minimum equals the minimum of the N most recent
// samples.
func TestDelayWindowRingFillsAndTracksMinimum(t *testing.T) {
	w := NewDelayWindow(3)
	assert.Equal(t, 0, w.Len())
	assert.Equal(t, ClockInfinity, w.Minimum())

	samples := []Clock{50, 10, 30}
	for i, s := range samples {
		w.Add(s, Clock(i)*Clock(time.Millisecond))
	}
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, Clock(10), w.Minimum())

	// A fourth sample overwrites the oldest slot (50), leaving 10, 30, 5.
	w.Add(5, Clock(3)*Clock(time.Millisecond))
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, Clock(5), w.Minimum())

	// A fifth sample overwrites the next-oldest slot (10); 5 survives.
	w.Add(40, Clock(4)*Clock(time.Millisecond))
	assert.Equal(t, Clock(5), w.Minimum())

	// A sixth sample overwrites the slot holding 30; the 3 most recent
	// samples are now 5, 40, 60, so 5 is still the minimum.
	w.Add(60, Clock(5)*Clock(time.Millisecond))
	assert.Equal(t, Clock(5), w.Minimum())

	// A seventh sample finally overwrites the slot still holding 5, so
	// the minimum must rise to reflect only the 3 most recent samples.
	w.Add(70, Clock(6)*Clock(time.Millisecond))
	assert.Equal(t, Clock(40), w.Minimum())
}

// TestDelayWindowMonotonicIncreaseNeverOverflows exercises the base
// spec's LEDBAT overload-backoff scenario shape: a strictly increasing
// delay sequence, which a naive monotonic-minimum deque sized to the
// filter length cannot hold without overflowing.
func TestDelayWindowMonotonicIncreaseNeverOverflows(t *testing.T) {
	w := NewDelayWindow(2)
	for i := 0; i < 200; i++ {
		assert.NotPanics(t, func() {
			w.Add(Clock(100+i)*Clock(time.Millisecond), Clock(i)*Clock(10*time.Millisecond))
		})
	}
	assert.Equal(t, 2, w.Len())
}

func TestBaseHistoryRollsOverOnWallClockMinute(t *testing.T) {
	h := NewBaseHistory(2, Clock(60*time.Second))
	h.Add(100, 0)
	h.Add(50, Clock(30*time.Second))
	assert.Equal(t, Clock(50), h.Minimum())

	// Within the same minute, the accumulating slot only ever lowers.
	h.Add(80, Clock(59*time.Second))
	assert.Equal(t, Clock(50), h.Minimum())

	// Past 60s, a new slot opens; the old minimum survives until the
	// ring wraps all the way around again.
	h.Add(40, Clock(61*time.Second))
	assert.Equal(t, Clock(40), h.Minimum())
}
