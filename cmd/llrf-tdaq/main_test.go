// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/go-daq/tdaq"
	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/llrf"
	"github.com/go-lpc/llrf/internal/config"
	"github.com/go-lpc/llrf/internal/fakefpga"
	"github.com/go-lpc/llrf/internal/setup"
	"github.com/go-lpc/llrf/sigmap"
)

func TestNode(t *testing.T) {
	msg := tlog.NewMsgStream("llrf-tdaq", tlog.LvlError, io.Discard)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tctx := tdaq.Context{Ctx: ctx, Msg: msg}
	fpga := fakefpga.New(0)
	fpga.SetDiag(0, 150, 1<<uint(sigmap.Arc))

	dev := node{
		open: func(cfg config.Config, msg tlog.MsgStream, opts ...llrf.Option) (*setup.Board, error) {
			core, err := llrf.New(fpga,
				llrf.WithMsgStream(msg),
				llrf.WithFlavor(sigmap.Diags),
			)
			if err != nil {
				return nil, err
			}
			return &setup.Board{Core: core}, nil
		},
	}

	var (
		resp tdaq.Frame
		req  tdaq.Frame
	)

	err := dev.OnStart(tctx, &resp, req)
	if err == nil {
		t.Fatalf("expected an error starting an unconfigured node")
	}

	for _, tc := range []struct {
		name string
		f    func(tdaq.Context, *tdaq.Frame, tdaq.Frame) error
	}{
		{"/config", dev.OnConfig},
		{"/init", dev.OnInit},
		{"/reset", dev.OnReset},
		{"/start", dev.OnStart},
	} {
		err := tc.f(tctx, &resp, req)
		if err != nil {
			t.Fatalf("could not run %s: %+v", tc.name, err)
		}
	}

	dev.acquire(tctx)
	if got, want := dev.n, 2; got != want {
		t.Fatalf("invalid number of frames: got=%d, want=%d", got, want)
	}

	var dst tdaq.Frame
	err = dev.diags(tctx, &dst)
	if err != nil {
		t.Fatalf("could not fetch diagnostics frame: %+v", err)
	}

	var frm frame
	err = json.Unmarshal(dst.Body, &frm)
	if err != nil {
		t.Fatalf("could not decode frame: %+v", err)
	}
	if got, want := frm.Cavity, "A"; got != want {
		t.Fatalf("invalid cavity: got=%q, want=%q", got, want)
	}
	if got, want := frm.Values[sigmap.InputName(sigmap.Arc)], 1.0; got != want {
		t.Fatalf("invalid arc interlock: got=%v, want=%v", got, want)
	}

	for _, tc := range []struct {
		name string
		f    func(tdaq.Context, *tdaq.Frame, tdaq.Frame) error
	}{
		{"/stop", dev.OnStop},
		{"/quit", dev.OnQuit},
		{"/quit", dev.OnQuit},
	} {
		err := tc.f(tctx, &resp, req)
		if err != nil {
			t.Fatalf("could not run %s: %+v", tc.name, err)
		}
	}
}
