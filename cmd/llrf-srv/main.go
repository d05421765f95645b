// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command llrf-srv drives an LLRF board from a host.
//
// llrf-srv connects to the board agent, replays the last saved
// configuration, serves the JSON control protocol and periodically
// acquires diagnostic snapshots, publishing them to redis and mailing
// interlock trips.
//
// Usage: llrf-srv [OPTIONS]
//
// Example:
//
//	$> llrf-srv -cfg=/etc/llrf/llrf.toml -addr=:8877
package main // import "github.com/go-lpc/llrf/cmd/llrf-srv"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/llrf"
	"github.com/go-lpc/llrf/confdb"
	"github.com/go-lpc/llrf/internal/alert"
	"github.com/go-lpc/llrf/internal/config"
	"github.com/go-lpc/llrf/internal/publish"
	"github.com/go-lpc/llrf/internal/setup"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.SetPrefix("llrf-srv: ")
	log.SetFlags(0)

	var (
		fname = flag.String("cfg", "", "path to llrf.toml configuration file")
		addr  = flag.String("addr", "", "control server address (overrides configuration)")
		board = flag.String("board", "", "board agent address, or \"local\" (overrides configuration)")
		lvl   = flag.String("lvl", "info", "message level (debug, info, warn, error)")
	)

	flag.Parse()

	cfg, err := config.Load(*fname)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *board != "" {
		cfg.Board.Addr = *board
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	msg := tlog.NewMsgStream("llrf-srv", msgLevel(*lvl), os.Stdout)
	err = run(ctx, cfg, msg)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func msgLevel(s string) tlog.Level {
	switch s {
	case "debug":
		return tlog.LvlDebug
	case "warn":
		return tlog.LvlWarning
	case "error":
		return tlog.LvlError
	}
	return tlog.LvlInfo
}

func run(ctx context.Context, cfg config.Config, msg tlog.MsgStream) error {
	brd, err := setup.Open(cfg, msg)
	if err != nil {
		return fmt.Errorf("could not setup board: %w", err)
	}
	defer brd.Core.Close()

	fw, err := brd.Core.FirmwareVersion()
	if err != nil {
		return fmt.Errorf("could not read firmware version: %w", err)
	}
	msg.Infof("board %q: firmware 0x%08x", cfg.Board.Addr, fw)

	if cfg.DB.Host != "" {
		err = restore(ctx, cfg, brd.Core)
		if err != nil {
			return fmt.Errorf("could not restore configuration: %w", err)
		}
	}

	mon := &monitor{
		core:   brd.Core,
		msg:    msg,
		period: cfg.Diag.Period,
		redial: brd.Redial,
	}

	if cfg.Redis.Addr != "" {
		pub, err := publish.Dial(cfg.Redis.Addr)
		if err != nil {
			return fmt.Errorf("could not connect to redis: %w", err)
		}
		defer pub.Close()
		mon.pub = pub
	}

	if cfg.Mail.Host != "" {
		alr, err := alert.New(alert.Config{
			Host:      cfg.Mail.Host,
			Port:      cfg.Mail.Port,
			User:      cfg.Mail.User,
			Pass:      cfg.Mail.Pass,
			From:      cfg.Mail.From,
			To:        cfg.Mail.To,
			MaxAlerts: cfg.Mail.MaxAlerts,
		})
		if err != nil {
			return fmt.Errorf("could not create alerter: %w", err)
		}
		mon.alert = alr
	}

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		return llrf.Serve(ctx, cfg.Server.Addr, brd.Core)
	})
	grp.Go(func() error {
		return mon.run(ctx)
	})

	err = grp.Wait()
	if err != nil {
		return fmt.Errorf("could not run llrf server: %w", err)
	}
	return nil
}

func restore(ctx context.Context, cfg config.Config, core *llrf.Core) error {
	db, err := confdb.Open(confdb.Config{
		Host: cfg.DB.Host,
		Name: cfg.DB.Name,
		User: cfg.DB.User,
		Pass: cfg.DB.Pass,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	for i := 0; i < core.Flavor().Cavities(); i++ {
		err = confdb.Restore(ctx, db, core, llrf.Cavity(i))
		if err != nil {
			return fmt.Errorf("could not restore cavity %v: %w", llrf.Cavity(i), err)
		}
	}
	return nil
}
