// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package llrf

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/llrf/codec"
	"github.com/go-lpc/llrf/internal/regs"
	"github.com/go-lpc/llrf/sigmap"
	"github.com/go-lpc/llrf/transport"
)

// Cavity identifies one of the RF cavities driven by the board.
type Cavity int

const (
	CavA Cavity = 0
	CavB Cavity = 1
)

func (cav Cavity) String() string {
	switch cav {
	case CavA:
		return "A"
	case CavB:
		return "B"
	}
	return fmt.Sprintf("Cavity(%d)", int(cav))
}

func (cav Cavity) windows() transport.Windows {
	return transport.CavityWindows(int(cav))
}

// ParseCavity parses a cavity name ("A", "B", "0" or "1").
func ParseCavity(s string) (Cavity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "A", "0":
		return CavA, nil
	case "B", "1":
		return CavB, nil
	}
	return 0, fmt.Errorf("llrf: invalid cavity %q", s)
}

// ValueKind is the type of a value read from a signal.
type ValueKind uint8

const (
	FloatValue ValueKind = iota
	BoolValue
	IntValue
)

// Value is a signal value: a float, a bool or an int depending on the
// encoding of the signal.
type Value struct {
	Kind  ValueKind
	Float float64
	Bool  bool
	Int   int64
}

func valueOf(enc codec.Encoding, v float64) Value {
	switch enc {
	case codec.Boolean, codec.BitField:
		return Value{Kind: BoolValue, Bool: v != 0, Float: v}
	case codec.Direct:
		return Value{Kind: IntValue, Int: int64(v), Float: v}
	}
	return Value{Kind: FloatValue, Float: v}
}

// Interface returns the value as a float64, a bool or an int64.
func (v Value) Interface() interface{} {
	switch v.Kind {
	case BoolValue:
		return v.Bool
	case IntValue:
		return v.Int
	}
	return v.Float
}

func (v Value) String() string {
	return fmt.Sprint(v.Interface())
}

// Core owns the transport to the board, the interlock matrix mirror,
// the diagnostic snapshots and the FDL capture state machine.
//
// A Core spawns no goroutine: every operation runs on the caller's
// goroutine. Concurrent callers are serialized on the transport.
type Core struct {
	cfg  config
	smap *sigmap.Map
	msg  log.MsgStream
	bus  *bus

	// guarded by bus.mu
	itck  [2]shadow
	sel   int
	snaps [2]Snapshot

	diags []sigmap.Descriptor // register backed diagnostics, in table order
	pairs []sigmap.Descriptor // derived diagnostics

	fdl fdlJob
}

// New creates a new core driving the board through tr.
// The bring-up collaborator, if any, is initialized first.
func New(tr transport.Transport, opts ...Option) (*Core, error) {
	if tr == nil {
		return nil, errors.New("llrf: nil transport")
	}

	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.msg == nil {
		cfg.msg = defaultMsgStream()
	}
	if cfg.smap == nil {
		cfg.smap = sigmap.Default(cfg.flavor)
	}
	cfg.flavor = cfg.smap.Flavor()

	if cfg.bringup != nil {
		err := cfg.bringup.Initialize()
		if err != nil {
			return nil, fmt.Errorf("llrf: could not bring up board: %w", err)
		}
	}

	c := &Core{
		cfg:  cfg,
		smap: cfg.smap,
		msg:  cfg.msg,
		bus:  newBus(tr),
	}
	for _, d := range c.smap.Descriptors() {
		switch {
		case d.Derived():
			c.pairs = append(c.pairs, d)
		case d.Kind == sigmap.Diagnostic, d.Kind == sigmap.InterlockInput:
			c.diags = append(c.diags, d)
		}
	}
	for i := range c.snaps {
		c.snaps[i].Cavity = Cavity(i)
	}
	c.msg.Infof("core for %v board (%d signals)", cfg.flavor, c.smap.Len())

	return c, nil
}

// Close closes the underlying transport.
func (c *Core) Close() error {
	err := c.bus.close()
	if err != nil {
		return fmt.Errorf("llrf: could not close transport: %w", err)
	}
	return nil
}

// Map returns the signal map of the core.
func (c *Core) Map() *sigmap.Map { return c.smap }

// Flavor returns the board flavor.
func (c *Core) Flavor() sigmap.Flavor { return c.cfg.flavor }

func (c *Core) checkCavity(op string, cav Cavity) error {
	if cav < 0 || int(cav) >= c.cfg.flavor.Cavities() {
		return newError(OutOfRange, op, fmt.Errorf("invalid cavity %v for %v board", cav, c.cfg.flavor))
	}
	return nil
}

func (c *Core) lookup(op, name string, cav Cavity) (sigmap.Descriptor, error) {
	d, err := c.smap.Lookup(name)
	if err != nil {
		return d, newError(UnknownSignal, op, err)
	}
	if d.Space != sigmap.SideBand {
		err = c.checkCavity(op, cav)
		if err != nil {
			return d, err
		}
	}
	return d, nil
}

// Read returns the current value of the signal name of cavity cav.
// Side-band signals ignore cav.
func (c *Core) Read(name string, cav Cavity) (Value, error) {
	op := "read " + name
	d, err := c.lookup(op, name, cav)
	if err != nil {
		return Value{}, err
	}

	switch {
	case d.Derived():
		var i, q float64
		di, _ := c.smap.Lookup(d.I)
		dq, _ := c.smap.Lookup(d.Q)
		err = c.bus.tx(func(brd *board) {
			i = di.Decode(brd.readDiag(cav, di.Addr))
			q = dq.Decode(brd.readDiag(cav, dq.Addr))
		})
		if err != nil {
			return Value{}, classify(op, err)
		}
		return valueOf(d.Enc, derive(d, i, q)), nil

	case d.Kind == sigmap.InterlockDisableBit:
		v, err := c.GetDisable(cav, d.Source, d.Reaction)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: BoolValue, Bool: v, Float: b2f(v)}, nil
	}

	var w uint32
	err = c.bus.tx(func(brd *board) {
		switch d.Space {
		case sigmap.Settings:
			w = brd.readSetting(cav, d.Addr)
		case sigmap.Diagnostics:
			addr := d.Addr
			if d.Kind == sigmap.InterlockInput {
				addr = statusAddr(c.sel)
			}
			w = brd.readDiag(cav, addr)
		case sigmap.SideBand:
			w = brd.customRead(d.Addr)
		}
	})
	if err != nil {
		return Value{}, classify(op, err)
	}
	return valueOf(d.Enc, d.Decode(w)), nil
}

// Write encodes v and writes it to the signal name of cavity cav.
// Values outside the documented bounds are rejected before encoding.
func (c *Core) Write(name string, cav Cavity, v float64) error {
	op := "write " + name
	d, err := c.lookup(op, name, cav)
	if err != nil {
		return err
	}
	if !d.Writable() || d.Derived() {
		return newError(UnknownSignal, op, fmt.Errorf("signal %q is not writable", d.Name))
	}
	err = d.Validate(v)
	if err != nil {
		return newError(OutOfRange, op, err)
	}

	switch d.Kind {
	case sigmap.InterlockDisableBit:
		return c.SetDisable(cav, d.Source, d.Reaction, v != 0)
	}

	p := d.Encode(v)
	err = c.bus.tx(func(brd *board) {
		switch d.Space {
		case sigmap.Settings:
			brd.writeSetting(cav, d.Addr, p)
		case sigmap.SideBand:
			brd.customWrite(d.Addr, p)
		}
	})
	if err != nil {
		return classify(op, err)
	}
	c.msg.Debugf("%s[%v] = %v (0x%x)", d.Name, cav, v, p)
	return nil
}

// pulse asserts then de-asserts the named setting.
func (c *Core) pulse(name string, cav Cavity) error {
	op := "pulse " + name
	d, err := c.lookup(op, name, cav)
	if err != nil {
		return err
	}
	err = c.bus.tx(func(brd *board) {
		brd.pulse(cav, d.Addr)
	})
	if err != nil {
		return classify(op, err)
	}
	c.msg.Infof("%s[%v]", name, cav)
	return nil
}

// ResetTuning resets the tuning loop of cavity cav.
func (c *Core) ResetTuning(cav Cavity) error {
	return c.pulse("ResetTuning", cav)
}

// ResetInterlocks clears the latched interlocks of cavity cav.
func (c *Core) ResetInterlocks(cav Cavity) error {
	return c.pulse("ResetInterlocksCav", cav)
}

// ResetManualInterlock clears the manual interlock of cavity cav.
func (c *Core) ResetManualInterlock(cav Cavity) error {
	return c.pulse("ResetManualInterlock", cav)
}

// FirmwareVersion returns the firmware version word of the board.
func (c *Core) FirmwareVersion() (uint32, error) {
	const op = "read firmware version"
	var v uint32
	err := c.bus.tx(func(brd *board) {
		v = brd.customRead(regs.FwVersion)
	})
	if err != nil {
		return 0, classify(op, err)
	}
	return v, nil
}

// SetInterlockSelector selects which latched interlock status word is
// returned by the diagnostics: 0 for the live status, n in [1, 7] for
// the n-th latched one.
func (c *Core) SetInterlockSelector(n int) error {
	if n < 0 || n > regs.MaxInterlockSelector {
		return newError(OutOfRange, "set interlock selector",
			fmt.Errorf("selector %d not in [0, %d]", n, regs.MaxInterlockSelector),
		)
	}
	_ = c.bus.tx(func(*board) { c.sel = n })
	return nil
}

// InterlockSelector returns the current interlock status selector.
func (c *Core) InterlockSelector() int {
	var n int
	_ = c.bus.tx(func(*board) { n = c.sel })
	return n
}

func statusAddr(sel int) uint32 {
	if sel == 0 {
		return regs.DiagInterlockStatus
	}
	return regs.DiagInterlockLatch + uint32(sel)
}

func derive(d sigmap.Descriptor, i, q float64) float64 {
	if d.Phase {
		return codec.Phase(i, q)
	}
	return codec.Amplitude(i, q)
}

func b2f(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
