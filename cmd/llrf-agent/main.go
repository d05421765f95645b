// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command llrf-agent runs on the LLRF board and serves its register
// windows, side-band registers and capture RAM to remote hosts.
//
// Usage: llrf-agent [OPTIONS]
//
// Example:
//
//	$> llrf-agent -addr=:9842 -devmem=/dev/mem -smbus=1
package main // import "github.com/go-lpc/llrf/cmd/llrf-agent"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"

	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/llrf/bringup"
	"github.com/go-lpc/llrf/internal/config"
	"github.com/go-lpc/llrf/internal/regs"
	"github.com/go-lpc/llrf/transport"
)

func main() {
	log.SetPrefix("llrf-agent: ")
	log.SetFlags(0)

	var (
		fname  = flag.String("cfg", "", "path to llrf.toml configuration file")
		addr   = flag.String("addr", "", "listen address (overrides configuration)")
		devmem = flag.String("devmem", "", "memory device (overrides configuration)")
		smbus  = flag.Int("smbus", -2, "SMBus adapter for bring-up, -1 to skip (overrides configuration)")
	)

	flag.Parse()

	cfg, err := config.Load(*fname)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}
	if *addr != "" {
		cfg.Board.Listen = *addr
	}
	if *devmem != "" {
		cfg.Board.DevMem = *devmem
	}
	if *smbus > -2 {
		cfg.Board.SMBus = *smbus
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	err = run(ctx, cfg)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	msg := tlog.NewMsgStream("llrf-agent", tlog.LvlInfo, os.Stdout)

	if cfg.Board.SMBus >= 0 {
		bup, err := bringup.Open(cfg.Board.SMBus, bringup.WithMsgStream(msg))
		if err != nil {
			return fmt.Errorf("could not open bring-up bus: %w", err)
		}
		err = bup.Initialize()
		_ = bup.Close()
		if err != nil {
			return fmt.Errorf("could not bring up board: %w", err)
		}
	}

	mem, err := transport.OpenMem(cfg.Board.DevMem)
	if err != nil {
		return fmt.Errorf("could not open board memory: %w", err)
	}
	defer mem.Close()

	l, err := net.Listen("tcp", cfg.Board.Listen)
	if err != nil {
		return fmt.Errorf("could not listen on %q: %w", cfg.Board.Listen, err)
	}

	fw, err := mem.CustomRead(regs.FwVersion)
	if err != nil {
		_ = l.Close()
		return fmt.Errorf("could not read firmware version: %w", err)
	}

	msg.Infof("serving board %q (firmware 0x%08x) on %v...", cfg.Board.DevMem, fw, l.Addr())
	return transport.Serve(ctx, l, mem, msg)
}
