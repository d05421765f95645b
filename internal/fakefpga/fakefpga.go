// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakefpga provides an in-memory LLRF board implementing
// transport.Transport, for tests.
//
// The fake decodes settings-write frames into per-cavity register
// files, honors the windowed-read and latch protocols and simulates
// the FDL capture handshake on the side-band registers.
package fakefpga // import "github.com/go-lpc/llrf/internal/fakefpga"

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/go-lpc/llrf/codec"
	"github.com/go-lpc/llrf/internal/regs"
	"github.com/go-lpc/llrf/transport"
)

// Access is a single transaction seen by the fake board.
type Access struct {
	Op    string // write, read, custom-write, custom-read or read-ram
	Win   transport.Window
	Regno uint32
	V     uint32
}

func (a Access) String() string {
	switch a.Op {
	case "custom-write", "custom-read":
		return fmt.Sprintf("%s(reg=0x%x, 0x%x)", a.Op, a.Regno, a.V)
	case "read-ram":
		return fmt.Sprintf("%s(off=%d, n=%d)", a.Op, a.Regno, a.V)
	}
	return fmt.Sprintf("%s(%v, 0x%x)", a.Op, a.Win, a.V)
}

type cavity struct {
	settings map[uint32]uint32
	rdAddr   uint32
	lastWr   uint32

	live    map[uint32]uint32
	latched map[uint32]uint32
	dgAddr  uint32
	arms    int
}

func newCavity() cavity {
	return cavity{
		settings: make(map[uint32]uint32),
		live:     make(map[uint32]uint32),
		latched:  make(map[uint32]uint32),
	}
}

// FPGA is a fake LLRF board.
type FPGA struct {
	mu   sync.Mutex
	cavs [2]cavity
	side [regs.SideBandLen]uint32

	ram      []byte
	words    int
	fullIn   int // RAM-full polls left before the RAM reports full
	overIn   int // transfer-over polls left before the transfer completes
	polls    int
	drift    bool
	log      []Access
	down     bool
	closed   bool
	failIn   int // calls left before the link drops, <0 when disabled
	ramFails int // read-ram calls left before the link drops, <0 when disabled
}

// New returns a fake board whose capture RAM holds words 32-bit words
// once a recording completes.
func New(words int) *FPGA {
	if words <= 0 || words > regs.FDLMaxWords {
		words = 1024
	}
	return &FPGA{
		cavs:     [2]cavity{newCavity(), newCavity()},
		words:    words,
		failIn:   -1,
		ramFails: -1,
	}
}

// SetPolls sets the number of status polls the board needs before it
// reports a full RAM or a completed transfer.
func (f *FPGA) SetPolls(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls = n
}

// SetDiag sets the live value of diagnostic address addr of cavity cav.
// The value becomes visible after the next latch.
func (f *FPGA) SetDiag(cav int, addr, w uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cavs[cav].live[addr] = w
}

// SetDrift makes every diagnostics read alter all live values, as a
// running board does.
func (f *FPGA) SetDrift(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drift = v
}

// Arms returns the number of latch arms seen for cavity cav.
func (f *FPGA) Arms(cav int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cavs[cav].arms
}

// Setting returns the payload stored at settings address addr of
// cavity cav.
func (f *FPGA) Setting(cav int, addr uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cavs[cav].settings[addr]
}

// SetSetting stores the payload p at settings address addr of cavity cav,
// bypassing the link.
func (f *FPGA) SetSetting(cav int, addr, p uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cavs[cav].settings[addr] = p & regs.PayloadMask
}

// SideBand returns the side-band register regno.
func (f *FPGA) SideBand(regno uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.side[regno]
}

// SetSideBand stores v into the side-band register regno.
func (f *FPGA) SetSideBand(regno, v uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.side[regno] = v
}

// SetLinkDown brings the link down (or back up).
func (f *FPGA) SetLinkDown(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = v
}

// FailAfter drops the link after n more successful calls.
func (f *FPGA) FailAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failIn = n
}

// FailOnRAM drops the link after n more successful capture RAM reads.
func (f *FPGA) FailOnRAM(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ramFails = n
}

// Log returns a copy of the transactions seen so far.
func (f *FPGA) Log() []Access {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := make([]Access, len(f.log))
	copy(o, f.log)
	return o
}

// ResetLog clears the transaction log.
func (f *FPGA) ResetLog() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = f.log[:0]
}

func (f *FPGA) check(op string) error {
	if f.closed || f.down {
		return &transport.LinkError{Op: op}
	}
	if f.failIn == 0 {
		f.down = true
		f.failIn = -1
		return &transport.LinkError{Op: op}
	}
	if f.failIn > 0 {
		f.failIn--
	}
	return nil
}

func cavOf(win transport.Window) int {
	switch win {
	case transport.SettingsWriteB, transport.SettingsReadB, transport.DiagnosticsB:
		return 1
	}
	return 0
}

func (f *FPGA) Write(win transport.Window, v uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check("write"); err != nil {
		return err
	}
	if !win.Valid() {
		return fmt.Errorf("fakefpga: invalid window %v", win)
	}
	f.log = append(f.log, Access{Op: "write", Win: win, V: v})

	cav := &f.cavs[cavOf(win)]
	switch win {
	case transport.SettingsWriteA, transport.SettingsWriteB:
		addr, p := codec.Unframe(v)
		cav.settings[addr] = p
		cav.lastWr = v
	case transport.SettingsReadA, transport.SettingsReadB:
		cav.rdAddr = v & regs.AddrMask
	case transport.DiagnosticsA, transport.DiagnosticsB:
		if v&regs.LatchArm != 0 {
			for k := range cav.latched {
				delete(cav.latched, k)
			}
			for k, w := range cav.live {
				cav.latched[k] = w
			}
			cav.arms++
			return nil
		}
		cav.dgAddr = v & regs.AddrMask
	}
	return nil
}

func (f *FPGA) Read(win transport.Window) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check("read"); err != nil {
		return 0, err
	}
	if !win.Valid() {
		return 0, fmt.Errorf("fakefpga: invalid window %v", win)
	}

	var (
		cav = &f.cavs[cavOf(win)]
		v   uint32
	)
	switch win {
	case transport.SettingsWriteA, transport.SettingsWriteB:
		v = cav.lastWr
	case transport.SettingsReadA, transport.SettingsReadB:
		v = cav.settings[cav.rdAddr] & regs.WordMask
	case transport.DiagnosticsA, transport.DiagnosticsB:
		v = cav.latched[cav.dgAddr]
		if f.drift {
			for k := range cav.live {
				cav.live[k]++
			}
		}
	}
	f.log = append(f.log, Access{Op: "read", Win: win, V: v})
	return v, nil
}

func (f *FPGA) CustomWrite(regno, v uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check("custom-write"); err != nil {
		return err
	}
	if regno >= regs.SideBandLen {
		return fmt.Errorf("fakefpga: invalid side-band register %d", regno)
	}
	f.log = append(f.log, Access{Op: "custom-write", Regno: regno, V: v})
	f.side[regno] = v

	switch regno {
	case regs.FDLRAMInit:
		if v != 0 {
			f.ram = nil
			f.side[regs.FDLRAMFull] = 0
			f.side[regs.FDLTransferOver] = 0
			f.side[regs.FDLWordCount] = 0
		}
	case regs.FDLStart:
		if v != 0 {
			f.record()
			f.fullIn = f.polls
		}
	case regs.FDLTransfer:
		if v != 0 {
			f.overIn = f.polls
		}
	}
	return nil
}

// record fills the capture RAM with a recognizable pattern.
func (f *FPGA) record() {
	f.ram = make([]byte, 4*f.words)
	delay := f.side[regs.FDLDelay]
	for i := 0; i < f.words; i++ {
		binary.LittleEndian.PutUint32(f.ram[4*i:], delay<<16|uint32(i)&0xffff)
	}
	f.side[regs.FDLWordCount] = uint32(f.words)
}

func (f *FPGA) CustomRead(regno uint32) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check("custom-read"); err != nil {
		return 0, err
	}
	if regno >= regs.SideBandLen {
		return 0, fmt.Errorf("fakefpga: invalid side-band register %d", regno)
	}

	switch regno {
	case regs.FDLRAMFull:
		if f.ram != nil && f.side[regs.FDLStart] != 0 {
			if f.fullIn > 0 {
				f.fullIn--
			} else {
				f.side[regno] = regs.RAMFull
			}
		}
	case regs.FDLTransferOver:
		if f.side[regs.FDLTransfer] != 0 {
			if f.overIn > 0 {
				f.overIn--
			} else {
				f.side[regno] = regs.RAMTransferOver
			}
		}
	}

	v := f.side[regno]
	f.log = append(f.log, Access{Op: "custom-read", Regno: regno, V: v})
	return v, nil
}

func (f *FPGA) ReadRAM(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check("read-ram"); err != nil {
		return 0, err
	}
	if f.ramFails == 0 {
		f.down = true
		f.ramFails = -1
		return 0, &transport.LinkError{Op: "read-ram"}
	}
	if f.ramFails > 0 {
		f.ramFails--
	}

	f.log = append(f.log, Access{Op: "read-ram", Regno: uint32(off), V: uint32(len(p))})
	if off < 0 {
		return 0, fmt.Errorf("fakefpga: invalid RAM offset %d", off)
	}
	if off >= int64(len(f.ram)) {
		return 0, io.EOF
	}
	n := copy(p, f.ram[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// RAM returns a copy of the capture RAM content.
func (f *FPGA) RAM() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := make([]byte, len(f.ram))
	copy(o, f.ram)
	return o
}

func (f *FPGA) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var (
	_ transport.Transport = (*FPGA)(nil)
)
