// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package setup builds an LLRF core from a configuration, for the
// LLRF commands.
package setup // import "github.com/go-lpc/llrf/internal/setup"

import (
	"fmt"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/llrf"
	"github.com/go-lpc/llrf/bringup"
	"github.com/go-lpc/llrf/internal/config"
	"github.com/go-lpc/llrf/sigmap"
	"github.com/go-lpc/llrf/transport"
)

// Local is the board address selecting the memory-mapped transport,
// for processes running on the board itself.
const Local = "local"

// Board is a core together with the transport it drives.
type Board struct {
	Core *llrf.Core
	Link *transport.Net // nil for a local board
}

// Redial re-establishes a dropped link to the board agent.
func (b *Board) Redial() error {
	if b.Link == nil {
		return nil
	}
	return b.Link.Redial()
}

// Options returns the core options described by cfg.
func Options(cfg config.Config, msg log.MsgStream) ([]llrf.Option, error) {
	flavor, err := sigmap.ParseFlavor(cfg.Board.Flavor)
	if err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	opts := []llrf.Option{
		llrf.WithFlavor(flavor),
		llrf.WithFDLDir(cfg.FDL.Dir),
		llrf.WithFDLDelay(cfg.FDL.Delay),
		llrf.WithPollMax(cfg.FDL.PollMax),
	}
	if msg != nil {
		opts = append(opts, llrf.WithMsgStream(msg))
	}
	return opts, nil
}

// Open creates the transport described by cfg and a core driving it.
//
// A local board is brought up over SMBus first when cfg.Board.SMBus is
// a valid adapter number. Remote boards are brought up by their agent.
func Open(cfg config.Config, msg log.MsgStream, opts ...llrf.Option) (*Board, error) {
	base, err := Options(cfg, msg)
	if err != nil {
		return nil, err
	}
	opts = append(base, opts...)

	var (
		tr   transport.Transport
		link *transport.Net
	)
	switch cfg.Board.Addr {
	case Local:
		mem, err := transport.OpenMem(cfg.Board.DevMem)
		if err != nil {
			return nil, fmt.Errorf("setup: could not open board memory: %w", err)
		}
		tr = mem
		if cfg.Board.SMBus >= 0 {
			var bopts []bringup.Option
			if msg != nil {
				bopts = append(bopts, bringup.WithMsgStream(msg))
			}
			bup, err := bringup.Open(cfg.Board.SMBus, bopts...)
			if err != nil {
				_ = mem.Close()
				return nil, fmt.Errorf("setup: could not open bring-up bus: %w", err)
			}
			defer bup.Close()
			opts = append(opts, llrf.WithBringUp(bup))
		}
	default:
		link, err = transport.Dial(cfg.Board.Addr, cfg.Board.Timeout)
		if err != nil {
			return nil, fmt.Errorf("setup: could not dial board agent: %w", err)
		}
		tr = link
	}

	core, err := llrf.New(tr, opts...)
	if err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("setup: could not create core: %w", err)
	}

	return &Board{Core: core, Link: link}, nil
}
