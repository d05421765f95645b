// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bringup

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-daq/tdaq/log"
)

type access struct {
	addr, reg, v uint8
}

// fakeBus reports a device ready after a given number of status reads.
type fakeBus struct {
	writes []access
	regs   map[[2]uint8]uint8
	polls  map[uint8]int // status reads left before ready, per device
	ready  map[uint8]Status
	fail   error
	closed bool
}

func newFakeBus(devs []Device, polls int) *fakeBus {
	bus := &fakeBus{
		regs:  make(map[[2]uint8]uint8),
		polls: make(map[uint8]int),
		ready: make(map[uint8]Status),
	}
	for _, dev := range devs {
		if dev.Ready != nil {
			bus.polls[dev.Addr] = polls
			bus.ready[dev.Addr] = *dev.Ready
		}
	}
	return bus
}

func (bus *fakeBus) WriteReg(addr, reg, v uint8) error {
	if bus.fail != nil {
		return bus.fail
	}
	bus.writes = append(bus.writes, access{addr, reg, v})
	bus.regs[[2]uint8{addr, reg}] = v
	return nil
}

func (bus *fakeBus) ReadReg(addr, reg uint8) (uint8, error) {
	if bus.fail != nil {
		return 0, bus.fail
	}
	st, ok := bus.ready[addr]
	if !ok || st.Reg != reg {
		return bus.regs[[2]uint8{addr, reg}], nil
	}
	if bus.polls[addr] > 0 {
		bus.polls[addr]--
		return ^st.Want & st.Mask, nil
	}
	return st.Want, nil
}

func (bus *fakeBus) Close() error {
	bus.closed = true
	return nil
}

func newTestBoard(bus Bus, opts ...Option) *Board {
	b := New(bus, append([]Option{
		WithMsgStream(log.NewMsgStream("bringup", log.LvlError, io.Discard)),
	}, opts...)...)
	b.sleep = func(time.Duration) {}
	return b
}

func TestInitialize(t *testing.T) {
	bus := newFakeBus(Devices, 3)
	b := newTestBoard(bus)

	err := b.Initialize()
	if err != nil {
		t.Fatalf("could not bring up board: %+v", err)
	}

	var want []access
	for _, dev := range Devices {
		for _, r := range dev.Init {
			want = append(want, access{dev.Addr, r.Reg, r.Val})
		}
	}
	if !reflect.DeepEqual(bus.writes, want) {
		t.Fatalf("invalid write sequence:\ngot= %v\nwant=%v", bus.writes, want)
	}
	for addr, n := range bus.polls {
		if n != 0 {
			t.Fatalf("device 0x%02x not polled until ready", addr)
		}
	}

	err = b.Close()
	if err != nil || !bus.closed {
		t.Fatalf("could not close bus: %+v", err)
	}
}

func TestInitializeOrder(t *testing.T) {
	// the second device must not be configured before the first is ready.
	devs := []Device{
		{Name: "pll", Addr: 1, Init: []Reg{{1, 1}}, Ready: &Status{Reg: 9, Mask: 1, Want: 1}},
		{Name: "dac", Addr: 2, Init: []Reg{{2, 2}}},
	}
	bus := newFakeBus(devs, 100)
	b := newTestBoard(bus, WithDevices(devs), WithTimeout(time.Hour))

	var (
		sleeps int
		order  []string
	)
	b.sleep = func(time.Duration) {
		sleeps++
		order = append(order, fmt.Sprintf("sleep:%d", len(bus.writes)))
	}

	err := b.Initialize()
	if err != nil {
		t.Fatalf("could not bring up board: %+v", err)
	}
	if sleeps != 100 {
		t.Fatalf("invalid number of polls: got=%d, want=100", sleeps)
	}
	for _, o := range order {
		if o != "sleep:1" {
			t.Fatalf("device configured while waiting for the previous one: %q", o)
		}
	}
}

func TestInitializeErrors(t *testing.T) {
	devs := []Device{
		{Name: "pll", Addr: 1, Init: []Reg{{1, 1}}, Ready: &Status{Reg: 9, Mask: 1, Want: 1}},
	}

	t.Run("timeout", func(t *testing.T) {
		bus := newFakeBus(devs, 1<<30)
		b := newTestBoard(bus, WithDevices(devs), WithTimeout(time.Second))
		now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		b.now = func() time.Time {
			now = now.Add(100 * time.Millisecond)
			return now
		}
		err := b.Initialize()
		if err == nil {
			t.Fatalf("expected an error")
		}
		if !strings.Contains(err.Error(), "not ready") {
			t.Fatalf("invalid error: %+v", err)
		}
	})

	t.Run("bus", func(t *testing.T) {
		bus := newFakeBus(devs, 0)
		bus.fail = errors.New("nack")
		b := newTestBoard(bus, WithDevices(devs))
		err := b.Initialize()
		if err == nil {
			t.Fatalf("expected an error")
		}
		if !errors.Is(err, bus.fail) {
			t.Fatalf("invalid error: %+v", err)
		}
	})
}
