// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bringup powers up and calibrates the ancillary mezzanine
// cards of an LLRF board (clock synthesizer, ADC and DAC mezzanines)
// over SMBus, before the FPGA registers are accessed.
package bringup // import "github.com/go-lpc/llrf/bringup"

import (
	"fmt"
	"os"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/jpillora/backoff"
)

// Bus is an SMBus adapter.
type Bus interface {
	ReadReg(addr, reg uint8) (uint8, error)
	WriteReg(addr, reg, v uint8) error
	Close() error
}

// Reg is a register write.
type Reg struct {
	Reg uint8
	Val uint8
}

// Status describes the status register a device reports readiness in:
// the device is ready once (value & Mask) == Want.
type Status struct {
	Reg  uint8
	Mask uint8
	Want uint8
}

// Device is an SMBus device of the board brought up in sequence.
type Device struct {
	Name  string
	Addr  uint8
	Init  []Reg   // register writes, in order
	Ready *Status // nil if the device has no readiness report
}

// Devices is the default bring-up sequence: clock synthesizer first,
// then the mezzanine power switches and the converters PLLs.
var Devices = []Device{
	{
		Name: "clock",
		Addr: 0x70,
		Init: []Reg{
			{230, 0x10}, // disable outputs
			{241, 0xe5}, // pause lock-of-loss
			{27, 0x70},
			{28, 0x16},
			{29, 0x90},
			{30, 0xb0},
			{49, 0x00},
			{246, 0x02}, // soft reset
			{241, 0x65}, // restart lock-of-loss
			{230, 0x00}, // enable outputs
		},
		Ready: &Status{Reg: 218, Mask: 0x15, Want: 0x00},
	},
	{
		Name: "mezzanine-power",
		Addr: 0x20,
		Init: []Reg{
			{6, 0x00}, // port 0 as outputs
			{2, 0x0f}, // enable ADC and DAC rails
		},
		Ready: &Status{Reg: 1, Mask: 0x0f, Want: 0x0f},
	},
	{
		Name: "adc",
		Addr: 0x4c,
		Init: []Reg{
			{0x00, 0x80}, // reset
			{0x01, 0x03},
			{0x02, 0x00},
		},
		Ready: &Status{Reg: 0x10, Mask: 0x01, Want: 0x01},
	},
	{
		Name: "dac",
		Addr: 0x4e,
		Init: []Reg{
			{0x00, 0x80}, // reset
			{0x0d, 0x01}, // PLL enable
		},
		Ready: &Status{Reg: 0x0e, Mask: 0x01, Want: 0x01},
	},
}

// Board runs the bring-up sequence of an LLRF board.
type Board struct {
	bus  Bus
	msg  log.MsgStream
	devs []Device

	timeout time.Duration
	sleep   func(time.Duration)
	now     func() time.Time
}

// Option configures a Board.
type Option func(*Board)

// WithDevices replaces the default bring-up sequence.
func WithDevices(devs []Device) Option {
	return func(b *Board) {
		b.devs = devs
	}
}

// WithTimeout sets how long each device may take to report ready.
func WithTimeout(d time.Duration) Option {
	return func(b *Board) {
		b.timeout = d
	}
}

// WithMsgStream sets the message stream used for logging.
func WithMsgStream(msg log.MsgStream) Option {
	return func(b *Board) {
		b.msg = msg
	}
}

// New returns a bring-up sequencer driving the devices on bus.
func New(bus Bus, opts ...Option) *Board {
	b := &Board{
		bus:     bus,
		msg:     log.NewMsgStream("bringup", log.LvlInfo, os.Stdout),
		devs:    Devices,
		timeout: 2 * time.Second,
		sleep:   time.Sleep,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Initialize configures every device in sequence and waits for each one
// to report ready before moving to the next one.
func (b *Board) Initialize() error {
	for _, dev := range b.devs {
		err := b.init(dev)
		if err != nil {
			return fmt.Errorf("bringup: could not initialize %s (0x%02x): %w", dev.Name, dev.Addr, err)
		}
		b.msg.Infof("%s (0x%02x): ready", dev.Name, dev.Addr)
	}
	return nil
}

func (b *Board) init(dev Device) error {
	for _, r := range dev.Init {
		err := b.bus.WriteReg(dev.Addr, r.Reg, r.Val)
		if err != nil {
			return fmt.Errorf("could not write 0x%02x to reg %d: %w", r.Val, r.Reg, err)
		}
	}
	if dev.Ready == nil {
		return nil
	}

	var (
		st       = dev.Ready
		deadline = b.now().Add(b.timeout)
		bkf      = &backoff.Backoff{
			Min:    1 * time.Millisecond,
			Max:    50 * time.Millisecond,
			Factor: 2,
		}
	)
	for {
		v, err := b.bus.ReadReg(dev.Addr, st.Reg)
		if err != nil {
			return fmt.Errorf("could not read status reg %d: %w", st.Reg, err)
		}
		if v&st.Mask == st.Want {
			return nil
		}
		if b.now().After(deadline) {
			return fmt.Errorf("device not ready after %v (status=0x%02x)", b.timeout, v)
		}
		b.sleep(bkf.Duration())
	}
}

// Close closes the underlying bus.
func (b *Board) Close() error {
	return b.bus.Close()
}
