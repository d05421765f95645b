// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command llrf-fdl runs a single fast data logger capture and stores
// the captured RAM into a file.
//
// Usage: llrf-fdl [OPTIONS]
//
// Example:
//
//	$> llrf-fdl -board=192.168.0.142:9842 -delay=10 -o ./capture.bin
package main // import "github.com/go-lpc/llrf/cmd/llrf-fdl"

import (
	"flag"
	"fmt"
	"log"
	"os"

	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/llrf"
	"github.com/go-lpc/llrf/internal/config"
	"github.com/go-lpc/llrf/internal/setup"
)

func main() {
	log.SetPrefix("llrf-fdl: ")
	log.SetFlags(0)

	var (
		fname = flag.String("cfg", "", "path to llrf.toml configuration file")
		board = flag.String("board", "", "board agent address, or \"local\" (overrides configuration)")
		oname = flag.String("o", "", "output file (default: timestamped file in the configured FDL directory)")
		delay = flag.Int("delay", -1, "pre-trigger delay word (overrides configuration)")
		reset = flag.Bool("reset", false, "reset the capture state machine before recording")
	)

	flag.Parse()

	cfg, err := config.Load(*fname)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}
	if *board != "" {
		cfg.Board.Addr = *board
	}
	if *delay >= 0 {
		cfg.FDL.Delay = uint32(*delay)
	}

	msg := tlog.NewMsgStream("llrf-fdl", tlog.LvlInfo, os.Stdout)
	err = run(cfg, msg, *oname, *reset)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(cfg config.Config, msg tlog.MsgStream, oname string, reset bool) error {
	brd, err := setup.Open(cfg, msg)
	if err != nil {
		return fmt.Errorf("could not setup board: %w", err)
	}
	defer brd.Core.Close()

	return capture(brd.Core, msg, oname, reset)
}

func capture(core *llrf.Core, msg tlog.MsgStream, oname string, reset bool) error {
	if reset {
		err := core.ResetFDL()
		if err != nil {
			return fmt.Errorf("could not reset capture: %w", err)
		}
	}

	err := core.RunFDL(oname)
	if err != nil {
		return fmt.Errorf("could not run capture: %w", err)
	}
	msg.Infof("capture done (state=%v)", core.FDLState())
	return nil
}
