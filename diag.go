// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package llrf

import (
	"time"

	"github.com/go-lpc/llrf/sigmap"
)

// Snapshot is a consistent set of diagnostic values of a cavity,
// captured between two latch handshakes.
type Snapshot struct {
	Cavity Cavity
	Values map[string]float64
	Start  time.Time
	End    time.Time
}

func (snap Snapshot) clone() Snapshot {
	o := snap
	o.Values = make(map[string]float64, len(snap.Values))
	for k, v := range snap.Values {
		o.Values[k] = v
	}
	return o
}

// Snapshot runs a diagnostic cycle on cavity cav and returns the
// captured values, derived amplitudes and phases included.
//
// If any access of the cycle fails, the whole cycle is discarded and
// the previous snapshot stays visible through Last.
func (c *Core) Snapshot(cav Cavity) (map[string]float64, error) {
	snap, err := c.acquire(cav)
	if err != nil {
		return nil, err
	}
	return snap.Values, nil
}

// Acquire runs a diagnostic cycle on cavity cav like Snapshot and
// returns the whole snapshot of that cycle, time stamps included.
func (c *Core) Acquire(cav Cavity) (Snapshot, error) {
	return c.acquire(cav)
}

// Last returns a copy of the last successful snapshot of cavity cav.
func (c *Core) Last(cav Cavity) Snapshot {
	if c.checkCavity("last snapshot", cav) != nil {
		return Snapshot{Cavity: cav}
	}
	var snap Snapshot
	_ = c.bus.tx(func(*board) {
		snap = c.snaps[cav].clone()
	})
	return snap
}

func (c *Core) acquire(cav Cavity) (Snapshot, error) {
	const op = "acquire diagnostics"
	if err := c.checkCavity(op, cav); err != nil {
		return Snapshot{}, err
	}

	var (
		snap = Snapshot{
			Cavity: cav,
			Values: make(map[string]float64, len(c.diags)+len(c.pairs)),
		}
		words = make(map[uint32]uint32)
	)

	err := c.bus.tx(func(brd *board) {
		snap.Start = c.cfg.now()
		brd.latch(cav)

		status := statusAddr(c.sel)
		for _, d := range c.diags {
			addr := d.Addr
			if d.Kind == sigmap.InterlockInput {
				addr = status
			}
			w, ok := words[addr]
			if !ok {
				w = brd.readDiag(cav, addr)
				if brd.err != nil {
					return
				}
				words[addr] = w
			}
			snap.Values[d.Name] = d.Decode(w)
		}
		snap.End = c.cfg.now()

		for _, d := range c.pairs {
			snap.Values[d.Name] = derive(d, snap.Values[d.I], snap.Values[d.Q])
		}
		c.snaps[cav] = snap.clone()
	})
	if err != nil {
		c.msg.Warnf("diagnostics[%v]: snapshot discarded: %+v", cav, err)
		return Snapshot{}, newError(SnapshotFailed, op, err)
	}
	return snap, nil
}

// Tripped returns the interlock sources reported as tripped by a
// snapshot.
func Tripped(values map[string]float64) []sigmap.Source {
	var o []sigmap.Source
	for i := 0; i < sigmap.NumSources; i++ {
		src := sigmap.Source(i)
		if values[sigmap.InputName(src)] != 0 {
			o = append(o, src)
		}
	}
	return o
}
