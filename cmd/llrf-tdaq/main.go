// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command llrf-tdaq starts a TDAQ server driving an LLRF board.
//
// The board is set up on /config, its saved configuration replayed on
// /init, and diagnostic snapshots are streamed as JSON on the /diags
// output while running.
// The configuration file is read from $LLRF_CONFIG.
package main // import "github.com/go-lpc/llrf/cmd/llrf-tdaq"

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/llrf"
	"github.com/go-lpc/llrf/confdb"
	"github.com/go-lpc/llrf/internal/config"
	"github.com/go-lpc/llrf/internal/setup"
)

func main() {
	cmd := flags.New()

	dev := node{
		fname: os.Getenv("LLRF_CONFIG"),
		open:  setup.Open,
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/diags", dev.diags)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type node struct {
	fname string
	cfg   config.Config
	open  func(cfg config.Config, msg tlog.MsgStream, opts ...llrf.Option) (*setup.Board, error)

	brd *setup.Board

	n    int
	data chan []byte
}

// frame is the payload of a /diags output frame.
type frame struct {
	Cavity string             `json:"cavity"`
	Start  time.Time          `json:"start"`
	End    time.Time          `json:"end"`
	Values map[string]float64 `json:"values"`
}

func (dev *node) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	cfg, err := config.Load(dev.fname)
	if err != nil {
		ctx.Msg.Errorf("could not load configuration: %+v", err)
		return err
	}
	dev.cfg = cfg

	if dev.brd != nil {
		_ = dev.brd.Core.Close()
		dev.brd = nil
	}

	brd, err := dev.open(cfg, ctx.Msg)
	if err != nil {
		ctx.Msg.Errorf("could not setup board: %+v", err)
		return err
	}
	dev.brd = brd
	return nil
}

func (dev *node) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	if dev.brd == nil {
		return fmt.Errorf("board not configured")
	}

	dev.data = make(chan []byte, 1024)
	dev.n = 0

	if dev.cfg.DB.Host == "" {
		return nil
	}

	db, err := confdb.Open(confdb.Config{
		Host: dev.cfg.DB.Host,
		Name: dev.cfg.DB.Name,
		User: dev.cfg.DB.User,
		Pass: dev.cfg.DB.Pass,
	})
	if err != nil {
		ctx.Msg.Errorf("could not open configuration db: %+v", err)
		return err
	}
	defer db.Close()

	core := dev.brd.Core
	for i := 0; i < core.Flavor().Cavities(); i++ {
		err = confdb.Restore(ctx.Ctx, db, core, llrf.Cavity(i))
		if err != nil {
			ctx.Msg.Errorf("could not restore cavity %v: %+v", llrf.Cavity(i), err)
			return err
		}
	}
	return nil
}

func (dev *node) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	if dev.brd == nil {
		return fmt.Errorf("board not configured")
	}

	core := dev.brd.Core
	for i := 0; i < core.Flavor().Cavities(); i++ {
		err := core.ResetInterlocks(llrf.Cavity(i))
		if err != nil {
			return err
		}
	}
	dev.data = make(chan []byte, 1024)
	dev.n = 0
	return core.ResetFDL()
}

func (dev *node) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	if dev.brd == nil || dev.data == nil {
		return fmt.Errorf("board not initialized")
	}
	return nil
}

func (dev *node) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	n := dev.n
	ctx.Msg.Debugf("received /stop command... -> n=%d", n)
	return nil
}

func (dev *node) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	if dev.brd == nil {
		return nil
	}
	err := dev.brd.Core.Close()
	dev.brd = nil
	return err
}

func (dev *node) diags(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-dev.data:
		dst.Body = data
	}
	return nil
}

func (dev *node) run(ctx tdaq.Context) error {
	period := dev.cfg.Diag.Period
	if period <= 0 {
		period = time.Second
	}
	tck := time.NewTicker(period)
	defer tck.Stop()

	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		case <-tck.C:
			dev.acquire(ctx)
		}
	}
}

func (dev *node) acquire(ctx tdaq.Context) {
	core := dev.brd.Core
	for i := 0; i < core.Flavor().Cavities(); i++ {
		cav := llrf.Cavity(i)
		snap, err := core.Acquire(cav)
		if err != nil {
			ctx.Msg.Warnf("could not acquire diagnostics of cavity %v: %+v", cav, err)
			continue
		}
		raw, err := json.Marshal(frame{
			Cavity: cav.String(),
			Start:  snap.Start,
			End:    snap.End,
			Values: snap.Values,
		})
		if err != nil {
			ctx.Msg.Errorf("could not encode diagnostics of cavity %v: %+v", cav, err)
			continue
		}
		select {
		case dev.data <- raw:
			dev.n++
		default:
		}
	}
}
