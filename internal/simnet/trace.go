// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package simnet

import (
	"encoding/csv"
	"io"
	"strconv"
)

// Trace writes a CSV row of cwnd/RTT/queue-occupancy state on demand,
// adapted from teacher's xplot.go, trimmed down from xplot's
// multi-series plot format to one flat CSV row per sample since this
// harness has no interactive plot viewer to target.
type Trace struct {
	w      *csv.Writer
	header bool
}

// NewTrace returns a Trace writing to w. The header row is written on
// the first Sample call.
func NewTrace(w io.Writer) *Trace {
	return &Trace{w: csv.NewWriter(w)}
}

// Sample appends one row capturing flow's window state and, if link is
// non-nil, the bottleneck queue's occupancy.
func (t *Trace) Sample(now Clock, flow *Flow, link *Link) {
	if !t.header {
		t.w.Write([]string{"time_s", "cwnd", "ssthresh", "srtt_s", "inflight", "queue_pkts", "queue_bytes", "dropped"})
		t.header = true
	}
	row := []string{
		strconv.FormatFloat(now.Seconds(), 'f', 6, 64),
		strconv.FormatUint(uint64(flow.Cwnd()), 10),
		strconv.FormatUint(uint64(flow.Ssthresh()), 10),
		strconv.FormatFloat(flow.SRTT().Seconds(), 'f', 6, 64),
		strconv.FormatUint(uint64(flow.InFlight()), 10),
		"0",
		"0",
		"0",
	}
	if link != nil {
		row[5] = strconv.Itoa(link.QueueLen())
		row[6] = strconv.FormatUint(uint64(link.QueueBytes()), 10)
		row[7] = strconv.Itoa(link.Dropped())
	}
	t.w.Write(row)
}

// Flush flushes any buffered CSV output to the underlying writer.
func (t *Trace) Flush() error {
	t.w.Flush()
	return t.w.Error()
}
