// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package simnet

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/heistp/ccalgos"
)

// Bitrate is a bitrate in bits per second, kept as its own type from
// teacher's bitrate.go rather than a bare float64 so link-rate
// schedules and transfer-time math stay unit-safe.
type Bitrate int64

// Common Bitrate units.
const (
	Bps  Bitrate = 1
	Kbps         = 1000 * Bps
	Mbps         = 1000 * Kbps
	Gbps         = 1000 * Mbps
)

// TransferTime returns the time needed to serialize size at rate.
func TransferTime(rate Bitrate, size ccalgos.Bytes) Clock {
	if rate <= 0 {
		return 0
	}
	return Clock(8 * float64(size) / rate.Bps() * float64(clockSecond))
}

// Bps returns the Bitrate in bits per second.
func (b Bitrate) Bps() float64 {
	return float64(b)
}

// Mbps returns the Bitrate in megabits per second.
func (b Bitrate) Mbps() float64 {
	return float64(b) / float64(Mbps)
}

func (b Bitrate) String() string {
	switch {
	case b < Kbps:
		return fmt.Sprintf("%dbps", int64(b))
	case b < Mbps:
		return trimFloat(float64(b)/float64(Kbps)) + "Kbps"
	case b < Gbps:
		return trimFloat(b.Mbps()) + "Mbps"
	default:
		return trimFloat(float64(b)/float64(Gbps)) + "Gbps"
	}
}

func trimFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', 3, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

// clockSecond and clockMillisecond express one second and one
// millisecond in Clock units (nanoseconds), used to convert rates and
// timestamp ticks without reaching for time.Duration conversions at
// every call site.
const (
	clockSecond      = Clock(1000000000)
	clockMillisecond = Clock(1000000)
)
