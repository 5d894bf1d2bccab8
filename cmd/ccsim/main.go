// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

// Command ccsim drives one of ccalgos's registered congestion
// controllers through internal/simnet's discrete-event harness and
// reports the resulting window trajectory, adapted from teacher's
// main.go (which wired a fixed, compile-time Handler list) with flags
// in place of config.go's constants, following caddyserver-caddy's use
// of pflag for its command-line surface.
package main

import (
	"fmt"
	"os"

	"github.com/heistp/ccalgos"
	"github.com/heistp/ccalgos/internal/simnet"
	_ "github.com/heistp/ccalgos/ledbat"
	_ "github.com/heistp/ccalgos/lola"
	"github.com/heistp/ccalgos/redqueue"
	_ "github.com/heistp/ccalgos/siad"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ccsim:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		controller = pflag.StringP("controller", "c", "ledbat", "congestion controller to run (see -list)")
		list       = pflag.Bool("list", false, "list registered controllers and exit")
		rate       = pflag.Int64P("rate", "r", 20, "bottleneck link rate, in Mbps")
		rtt        = pflag.DurationP("rtt", "t", 20_000_000, "base round-trip time (forward+return delay)")
		duration   = pflag.DurationP("duration", "d", 10_000_000_000, "simulated run duration")
		minThresh  = pflag.Int64("red-min", 50000, "RED minimum threshold, in bytes")
		maxThresh  = pflag.Int64("red-max", 150000, "RED maximum threshold, in bytes")
		tracePath  = pflag.String("trace", "", "optional CSV trace output path")
	)
	pflag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	if *list {
		for _, n := range ccalgos.Names() {
			fmt.Println(n)
		}
		return nil
	}

	ctrl, err := ccalgos.New(*controller)
	if err != nil {
		return err
	}

	opt := simnet.DefaultSimulationOptions()
	opt.Rate = simnet.Bitrate(*rate) * simnet.Mbps
	opt.ForwardDelay = simnet.Clock(*rtt / 2)
	opt.ReturnDelay = simnet.Clock(*rtt / 2)
	opt.AQM = redqueue.Options{
		MinThresh:  ccalgos.Bytes(*minThresh),
		MaxThresh:  ccalgos.Bytes(*maxThresh),
		DropProb:   redqueue.DefaultOptions().DropProb,
		PacketRate: redqueue.DefaultOptions().PacketRate,
	}

	var trace *simnet.Trace
	if *tracePath != "" {
		f, err := os.Create(*tracePath)
		if err != nil {
			return fmt.Errorf("create trace file: %w", err)
		}
		defer f.Close()
		trace = simnet.NewTrace(f)
		opt.Trace = trace
	}

	sim, err := simnet.NewSimulation(ctrl, opt)
	if err != nil {
		return fmt.Errorf("build simulation: %w", err)
	}

	logger.Info("starting run",
		zap.String("controller", *controller),
		zap.Int64("rate_mbps", *rate),
		zap.Duration("rtt", *rtt),
		zap.Duration("duration", *duration),
	)

	if err := sim.Run(simnet.Clock(*duration)); err != nil {
		return fmt.Errorf("run simulation: %w", err)
	}

	if trace != nil {
		if err := trace.Flush(); err != nil {
			return fmt.Errorf("flush trace: %w", err)
		}
	}

	f := sim.Flow()
	logger.Info("run complete",
		zap.Uint32("final_cwnd", uint32(f.Cwnd())),
		zap.Uint32("final_ssthresh", uint32(f.Ssthresh())),
		zap.Int("queue_dropped", sim.Link().Dropped()),
		zap.Int("link_sent", sim.Link().Sent()),
	)
	return nil
}
