// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package llrf

import (
	"fmt"

	"github.com/go-lpc/llrf/internal/regs"
	"github.com/go-lpc/llrf/sigmap"
)

// Rows is the packed interlock matrix of a cavity: one 6-bit disable
// mask per interlock source, indexed by sigmap.Source.
type Rows [sigmap.NumSources]uint8

// shadow is the host mirror of the interlock matrix of a cavity.
// A row is authoritative only once loaded from (or written to) the board.
type shadow struct {
	rows   Rows
	loaded [sigmap.NumSources]bool
}

func rowAddr(src sigmap.Source) uint32 {
	return regs.InterlockBase + uint32(src)
}

func checkItck(op string, src sigmap.Source, r sigmap.Reaction) error {
	if int(src) >= sigmap.NumSources {
		return newError(OutOfRange, op, fmt.Errorf("invalid interlock source %d", src))
	}
	if int(r) >= sigmap.NumReactions {
		return newError(OutOfRange, op, fmt.Errorf("invalid interlock reaction %d", r))
	}
	return nil
}

// loadRow reads the packed row of src into the shadow.
func (sh *shadow) loadRow(brd *board, cav Cavity, src sigmap.Source) {
	w := brd.readSetting(cav, rowAddr(src))
	if brd.err != nil {
		return
	}
	sh.rows[src] = uint8(w & regs.InterlockMask)
	sh.loaded[src] = true
}

// GetDisable reads the interlock row of src from the board and returns
// whether reaction r is disabled for it.
func (c *Core) GetDisable(cav Cavity, src sigmap.Source, r sigmap.Reaction) (bool, error) {
	op := "get " + sigmap.DisableName(src, r)
	if err := checkItck(op, src, r); err != nil {
		return false, err
	}
	if err := c.checkCavity(op, cav); err != nil {
		return false, err
	}

	var v bool
	err := c.bus.tx(func(brd *board) {
		sh := &c.itck[cav]
		sh.loadRow(brd, cav, src)
		v = (sh.rows[src]>>r)&1 == 1
	})
	if err != nil {
		return false, classify(op, err)
	}
	return v, nil
}

// SetDisable sets (or clears) the disable bit of reaction r for the
// interlock source src, then writes the whole recomposed row.
// The other five bits of the row are preserved: the row is loaded from
// the board before its first mutation.
func (c *Core) SetDisable(cav Cavity, src sigmap.Source, r sigmap.Reaction, v bool) error {
	op := "set " + sigmap.DisableName(src, r)
	if err := checkItck(op, src, r); err != nil {
		return err
	}
	if err := c.checkCavity(op, cav); err != nil {
		return err
	}

	var row uint8
	err := c.bus.tx(func(brd *board) {
		sh := &c.itck[cav]
		if !sh.loaded[src] {
			sh.loadRow(brd, cav, src)
			if brd.err != nil {
				return
			}
		}
		if v {
			sh.rows[src] |= 1 << r
		} else {
			sh.rows[src] &^= 1 << r
		}
		row = sh.rows[src]
		brd.writeSetting(cav, rowAddr(src), uint32(row))
		if brd.err != nil {
			// the board may not hold the shadow row: reload before
			// the next mutation.
			sh.loaded[src] = false
		}
	})
	if err != nil {
		return classify(op, err)
	}
	c.msg.Debugf("interlock[%v] %v row=0b%06b", cav, src, row)
	return nil
}

// UpdateAll rewrites all the interlock rows of cavity cav from the
// shadow. Rows never seen by the core are loaded from the board first.
func (c *Core) UpdateAll(cav Cavity) error {
	const op = "update interlock rows"
	if err := c.checkCavity(op, cav); err != nil {
		return err
	}

	err := c.bus.tx(func(brd *board) {
		c.updateAll(brd, cav)
	})
	if err != nil {
		return classify(op, err)
	}
	return nil
}

func (c *Core) updateAll(brd *board, cav Cavity) {
	sh := &c.itck[cav]
	for i := range sh.rows {
		src := sigmap.Source(i)
		if !sh.loaded[i] {
			sh.loadRow(brd, cav, src)
		}
	}
	for i, row := range sh.rows {
		brd.writeSetting(cav, rowAddr(sigmap.Source(i)), uint32(row))
	}
	if brd.err != nil {
		sh.loaded = [sigmap.NumSources]bool{}
	}
}

// Rows returns the interlock matrix of cavity cav as mirrored by the
// host. Rows never seen by the core are loaded from the board.
func (c *Core) Rows(cav Cavity) (Rows, error) {
	const op = "dump interlock rows"
	if err := c.checkCavity(op, cav); err != nil {
		return Rows{}, err
	}

	var rows Rows
	err := c.bus.tx(func(brd *board) {
		sh := &c.itck[cav]
		for i := range sh.rows {
			if !sh.loaded[i] {
				sh.loadRow(brd, cav, sigmap.Source(i))
			}
		}
		rows = sh.rows
	})
	if err != nil {
		return Rows{}, classify(op, err)
	}
	return rows, nil
}

// Restore replays a saved interlock matrix into the shadow of cavity
// cav and writes it to the board.
func (c *Core) Restore(cav Cavity, rows Rows) error {
	const op = "restore interlock rows"
	if err := c.checkCavity(op, cav); err != nil {
		return err
	}

	err := c.bus.tx(func(brd *board) {
		sh := &c.itck[cav]
		for i, row := range rows {
			sh.rows[i] = row & regs.InterlockMask
			sh.loaded[i] = true
		}
		c.updateAll(brd, cav)
	})
	if err != nil {
		return classify(op, err)
	}
	c.msg.Infof("interlock[%v] restored", cav)
	return nil
}
