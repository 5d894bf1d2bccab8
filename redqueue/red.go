// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

// Package redqueue implements Random Early Detection, the active queue
// management policy used by the testing harness to exercise the
// congestion controllers in ccalgos against a queue that drops packets
// probabilistically as it fills, rather than only when full.
package redqueue

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/heistp/ccalgos"
)

// Weight is the EWMA weight applied to the average queue size on every
// enqueue, matching red_packet_queue.hh's W.
const Weight = 0.002

// RefSegmentSize is the packet size, in bytes, that drop probability is
// normalized against, matching red_packet_queue.hh's hardcoded 1500.
const RefSegmentSize = ccalgos.Bytes(1500)

// Options configures a Queue.
type Options struct {
	// MinThresh is the average queue size, in bytes, above which
	// packets begin being dropped probabilistically.
	MinThresh ccalgos.Bytes
	// MaxThresh is the average queue size, in bytes, at or above which
	// every packet is dropped.
	MaxThresh ccalgos.Bytes
	// DropProb is the probability of drop at MaxThresh, in [0, 1].
	DropProb float64
	// PacketRate is the assumed arrival rate, in packets/sec, used to
	// age the average queue size while the queue is empty.
	PacketRate float64
}

// DefaultOptions returns reference RED defaults.
func DefaultOptions() Options {
	return Options{
		MinThresh:  50000,
		MaxThresh:  150000,
		DropProb:   0.1,
		PacketRate: 800,
	}
}

func (o Options) validate() error {
	if o.MaxThresh <= o.MinThresh {
		return fmt.Errorf("redqueue: max_thresh must be greater than min_thresh")
	}
	if o.DropProb < 0 || o.DropProb > 1 {
		return fmt.Errorf("redqueue: drop probability must be in [0, 1]")
	}
	if o.PacketRate <= 0 {
		return fmt.Errorf("redqueue: packet rate must be positive")
	}
	return nil
}

// Packet is the minimal packet shape a Queue enqueues and dequeues: a
// byte length and arbitrary payload the caller can type-assert back
// out of Dequeue/Peek.
type Packet struct {
	Len     ccalgos.Bytes
	Payload any
}

// Queue provides the AQM operations (Enqueue, Dequeue, Peek, Len) that
// internal/simnet's Link calls, with the RED algorithm of §4.5: an exponentially
// weighted moving average queue size in bytes, aged while empty rather
// than updated, with early drop probability scaling linearly between
// MinThresh and MaxThresh, adjusted by packet size relative to
// RefSegmentSize, and RED's "count" correction applied to the raw
// drop probability. The count resets on every admitted packet, not
// only below MinThresh, matching the reference queue rather than
// textbook RED.
type Queue struct {
	opt Options
	rng *rand.Rand

	queue []Packet
	bytes ccalgos.Bytes

	avg          float64
	count        int
	qEmptyTime   ccalgos.Clock
	haveEmptyRef bool
}

// New returns a new Queue. A nil rng gives the Queue its own
// math/rand source seeded with 1, so runs are reproducible either way;
// supplying one (as tests do) chooses the sequence of draws.
func New(opt Options, rng *rand.Rand) (*Queue, error) {
	if err := opt.validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Queue{
		opt:   opt,
		rng:   rng,
		count: -1,
	}, nil
}

// Enqueue implements the AQM contract: it updates the running average
// queue size, then admits, probabilistically drops, or unconditionally
// drops pkt depending on where the average falls relative to the two
// thresholds.
func (q *Queue) Enqueue(pkt Packet, now ccalgos.Clock) (dropped bool) {
	if q.bytes > 0 {
		q.avg = (1-Weight)*q.avg + Weight*float64(q.bytes)
	} else {
		if q.haveEmptyRef {
			m := q.opt.PacketRate * (now.Seconds() - q.qEmptyTime.Seconds())
			if m > 0 {
				q.avg = math.Pow(1-Weight, m) * q.avg
			}
		}
	}

	switch {
	case q.avg >= float64(q.opt.MaxThresh):
		q.count = 0
		return true
	case q.avg >= float64(q.opt.MinThresh):
		q.count++
		pb := q.opt.DropProb * (q.avg - float64(q.opt.MinThresh)) /
			(float64(q.opt.MaxThresh) - float64(q.opt.MinThresh))
		pb *= float64(pkt.Len) / float64(RefSegmentSize)
		pa := pb
		if d := 1 - float64(q.count)*pb; d > 0 {
			pa = pb / d
		}
		if q.rng.Float64() < pa {
			q.count = 0
			return true
		}
	}

	q.count = -1
	q.queue = append(q.queue, pkt)
	q.bytes += pkt.Len
	return false
}

// Dequeue removes and returns the head packet, stamping the queue's
// empty-reference time if the queue becomes empty as a result.
func (q *Queue) Dequeue(now ccalgos.Clock) (pkt Packet, ok bool) {
	if len(q.queue) == 0 {
		return
	}
	pkt, q.queue = q.queue[0], q.queue[1:]
	q.bytes -= pkt.Len
	ok = true
	if q.bytes == 0 {
		q.qEmptyTime = now
		q.haveEmptyRef = true
	}
	return
}

// Peek returns the head packet without removing it.
func (q *Queue) Peek() (pkt Packet, ok bool) {
	if len(q.queue) == 0 {
		return
	}
	return q.queue[0], true
}

// Len returns the number of packets currently queued.
func (q *Queue) Len() int {
	return len(q.queue)
}

// Bytes returns the number of bytes currently queued.
func (q *Queue) Bytes() ccalgos.Bytes {
	return q.bytes
}

// Average returns the current EWMA average queue size in bytes, for
// inspection and testing.
func (q *Queue) Average() float64 {
	return q.avg
}
