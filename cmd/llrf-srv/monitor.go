// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"time"

	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/llrf"
	"github.com/go-lpc/llrf/transport"
)

type publisher interface {
	Publish(snap llrf.Snapshot) error
}

type checker interface {
	Check(snap llrf.Snapshot) error
}

// monitor acquires diagnostic snapshots of every cavity at a fixed
// period and hands them to the publisher and the alerter.
type monitor struct {
	core   *llrf.Core
	msg    tlog.MsgStream
	period time.Duration
	redial func() error

	pub   publisher // may be nil
	alert checker   // may be nil
}

func (mon *monitor) run(ctx context.Context) error {
	if mon.period <= 0 {
		mon.period = time.Second
	}
	tck := time.NewTicker(mon.period)
	defer tck.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tck.C:
			mon.tick()
		}
	}
}

func (mon *monitor) tick() {
	for i := 0; i < mon.core.Flavor().Cavities(); i++ {
		cav := llrf.Cavity(i)
		snap, err := mon.core.Acquire(cav)
		if err != nil {
			mon.msg.Warnf("could not acquire diagnostics of cavity %v: %+v", cav, err)
			if errors.Is(err, transport.ErrUnavailable) && mon.redial != nil {
				if err := mon.redial(); err != nil {
					mon.msg.Errorf("could not redial board: %+v", err)
				}
			}
			return
		}

		if mon.pub != nil {
			err = mon.pub.Publish(snap)
			if err != nil {
				mon.msg.Warnf("could not publish diagnostics of cavity %v: %+v", cav, err)
			}
		}
		if mon.alert != nil {
			err = mon.alert.Check(snap)
			if err != nil {
				mon.msg.Warnf("could not check interlocks of cavity %v: %+v", cav, err)
			}
		}
	}
}
