// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/llrf"
	"github.com/go-lpc/llrf/internal/fakefpga"
)

func TestCapture(t *testing.T) {
	msg := tlog.NewMsgStream("llrf-fdl", tlog.LvlError, io.Discard)
	dev := fakefpga.New(2048)
	core, err := llrf.New(dev, llrf.WithMsgStream(msg), llrf.WithPollMax(time.Millisecond))
	if err != nil {
		t.Fatalf("could not create core: %+v", err)
	}
	defer core.Close()

	oname := filepath.Join(t.TempDir(), "out.bin")

	dev.FailOnRAM(0)
	err = capture(core, msg, oname, false)
	if err == nil {
		t.Fatalf("expected a capture error")
	}
	if got, want := core.FDLState(), llrf.FDLFailed; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}

	err = capture(core, msg, oname, false)
	if err == nil {
		t.Fatalf("expected a latched capture error")
	}

	dev.SetLinkDown(false)
	err = capture(core, msg, oname, true)
	if err != nil {
		t.Fatalf("could not run capture: %+v", err)
	}

	raw, err := os.ReadFile(oname)
	if err != nil {
		t.Fatalf("could not read capture: %+v", err)
	}
	if got, want := len(raw), 2048*4; got != want {
		t.Fatalf("invalid capture size: got=%d, want=%d", got, want)
	}
}
