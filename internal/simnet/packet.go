// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package simnet

import "github.com/heistp/ccalgos"

// Packet is the trimmed packet shape this harness exchanges between a
// Flow, Link and Receiver: just enough fields to drive a congestion
// controller under test, adapted from teacher's packet.go with its
// SCE/multi-flow/heap-ordering machinery removed (this harness carries
// exactly one flow, so a pktbuf heap has no job to do; the segments
// that arrive after a drop are buffered by Receiver's own map).
type Packet struct {
	Len    ccalgos.Bytes
	Seq    int64
	Sent   Clock
	Ack    bool
	AckNum int64

	// TSVal is the sender's millisecond-tick timestamp at transmit;
	// TSEcr echoes the TSVal of the packet an ACK acknowledges,
	// modeling the TCP timestamp option.
	TSVal uint32
	TSEcr uint32
}

// tsTicks converts a Clock to the millisecond tick value carried in a
// Packet's timestamp fields.
func tsTicks(c Clock) uint32 {
	return uint32(c / clockMillisecond)
}
