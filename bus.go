// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package llrf

import (
	"fmt"
	"sync"

	"github.com/go-lpc/llrf/codec"
	"github.com/go-lpc/llrf/internal/regs"
	"github.com/go-lpc/llrf/transport"
)

// board is a group of transactions on the locked transport.
// The first failure sticks: later accesses of the group are no-ops.
type board struct {
	tr  transport.Transport
	err error
}

func (brd *board) write(win transport.Window, v uint32) {
	if brd.err != nil {
		return
	}
	brd.err = brd.tr.Write(win, v)
	if brd.err != nil {
		brd.err = fmt.Errorf("could not write 0x%x to %v: %w", v, win, brd.err)
	}
}

func (brd *board) read(win transport.Window) uint32 {
	if brd.err != nil {
		return 0
	}
	v, err := brd.tr.Read(win)
	if err != nil {
		brd.err = fmt.Errorf("could not read %v: %w", win, err)
		return 0
	}
	return v
}

// writeSetting sends the payload p to the settings address addr.
func (brd *board) writeSetting(cav Cavity, addr, p uint32) {
	brd.write(cav.windows().SettingsWrite, codec.Frame(addr, p))
}

// readSetting performs an address-then-read on the settings read window.
func (brd *board) readSetting(cav Cavity, addr uint32) uint32 {
	win := cav.windows().SettingsRead
	brd.write(win, addr&regs.AddrMask)
	return brd.read(win)
}

// readDiag performs an address-then-read on the diagnostics window.
func (brd *board) readDiag(cav Cavity, addr uint32) uint32 {
	win := cav.windows().Diagnostics
	brd.write(win, addr&regs.AddrMask)
	return brd.read(win)
}

// latch runs the arm/release handshake freezing the diagnostic buffers.
func (brd *board) latch(cav Cavity) {
	win := cav.windows().Diagnostics
	brd.write(win, codec.Arm)
	brd.write(win, codec.Release)
}

// pulse asserts then de-asserts the settings address addr.
func (brd *board) pulse(cav Cavity, addr uint32) {
	brd.writeSetting(cav, addr, 1)
	brd.writeSetting(cav, addr, 0)
}

func (brd *board) customWrite(regno, v uint32) {
	if brd.err != nil {
		return
	}
	brd.err = brd.tr.CustomWrite(regno, v)
	if brd.err != nil {
		brd.err = fmt.Errorf("could not write 0x%x to side-band register 0x%x: %w", v, regno, brd.err)
	}
}

func (brd *board) customRead(regno uint32) uint32 {
	if brd.err != nil {
		return 0
	}
	v, err := brd.tr.CustomRead(regno)
	if err != nil {
		brd.err = fmt.Errorf("could not read side-band register 0x%x: %w", regno, err)
		return 0
	}
	return v
}

func (brd *board) readRAM(p []byte, off int64) int {
	if brd.err != nil {
		return 0
	}
	n, err := brd.tr.ReadRAM(p, off)
	if err != nil {
		brd.err = err
	}
	return n
}

// bus serializes every transaction group issued to the transport.
// Address-then-read pairs and whole diagnostic cycles run under a
// single lock so no other caller can interleave with them.
type bus struct {
	mu  sync.Mutex
	brd board
}

func newBus(tr transport.Transport) *bus {
	return &bus{brd: board{tr: tr}}
}

// tx runs f with exclusive access to the board.
// It returns the first transport failure of the group.
func (b *bus) tx(f func(brd *board)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.brd.err = nil
	f(&b.brd)
	err := b.brd.err
	b.brd.err = nil
	return err
}

func (b *bus) close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.brd.tr.Close()
}
