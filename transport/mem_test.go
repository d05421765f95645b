// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/go-lpc/llrf/internal/mmap"
	"github.com/go-lpc/llrf/internal/regs"
)

func newTestMem() (*Mem, []byte, []byte) {
	var (
		reg = make([]byte, regs.RegSpan)
		ram = make([]byte, 1024)
	)
	for i := range ram {
		ram[i] = byte(i)
	}
	return NewMem(mmap.HandleFrom(reg), mmap.HandleFrom(ram)), reg, ram
}

func TestMem(t *testing.T) {
	mem, reg, _ := newTestMem()
	defer mem.Close()

	for _, tc := range []struct {
		win Window
		v   uint32
	}{
		{SettingsWriteA, 0x4001fff},
		{SettingsReadA, 2},
		{DiagnosticsA, 1 << 16},
		{SettingsWriteB, 0xdeadbeef},
		{SettingsReadB, 150},
		{DiagnosticsB, 0},
	} {
		t.Run(tc.win.String(), func(t *testing.T) {
			err := mem.Write(tc.win, tc.v)
			if err != nil {
				t.Fatalf("could not write: %+v", err)
			}
			if got, want := binary.LittleEndian.Uint32(reg[tc.win:]), tc.v; got != want {
				t.Fatalf("invalid raw word: got=0x%x, want=0x%x", got, want)
			}
			got, err := mem.Read(tc.win)
			if err != nil {
				t.Fatalf("could not read: %+v", err)
			}
			if got != tc.v {
				t.Fatalf("invalid word: got=0x%x, want=0x%x", got, tc.v)
			}
		})
	}

	err := mem.Write(Window(0x00c), 1)
	if err == nil {
		t.Fatalf("expected an error on invalid window")
	}
}

func TestMemSideBand(t *testing.T) {
	mem, reg, _ := newTestMem()
	defer mem.Close()

	err := mem.CustomWrite(regs.FDLDelay, 42)
	if err != nil {
		t.Fatalf("could not write side-band: %+v", err)
	}
	if got, want := binary.LittleEndian.Uint32(reg[regs.SideBandBase+4*regs.FDLDelay:]), uint32(42); got != want {
		t.Fatalf("invalid side-band word: got=%d, want=%d", got, want)
	}

	v, err := mem.CustomRead(regs.FDLDelay)
	if err != nil {
		t.Fatalf("could not read side-band: %+v", err)
	}
	if v != 42 {
		t.Fatalf("invalid side-band value: got=%d, want=42", v)
	}

	_, err = mem.CustomRead(regs.SideBandLen)
	if err == nil {
		t.Fatalf("expected an error on invalid side-band register")
	}
}

func TestMemRAM(t *testing.T) {
	mem, _, ram := newTestMem()
	defer mem.Close()

	p := make([]byte, 16)
	n, err := mem.ReadRAM(p, 32)
	if err != nil {
		t.Fatalf("could not read RAM: %+v", err)
	}
	if n != len(p) || p[0] != ram[32] || p[15] != ram[47] {
		t.Fatalf("invalid RAM content: n=%d, p=%v", n, p)
	}

	n, err = mem.ReadRAM(p, int64(len(ram)-4))
	if !errors.Is(err, io.EOF) || n != 4 {
		t.Fatalf("invalid short RAM read: n=%d, err=%+v", n, err)
	}
}

func TestMemClosed(t *testing.T) {
	mem, _, _ := newTestMem()
	err := mem.Close()
	if err != nil {
		t.Fatalf("could not close: %+v", err)
	}

	err = mem.Write(SettingsWriteA, 1)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("invalid error: %+v", err)
	}
	_, err = mem.Read(SettingsReadA)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("invalid error: %+v", err)
	}
	_, err = mem.ReadRAM(make([]byte, 4), 0)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("invalid error: %+v", err)
	}

	err = mem.Close()
	if err != nil {
		t.Fatalf("could not close twice: %+v", err)
	}
}

func TestCavityWindows(t *testing.T) {
	a := CavityWindows(0)
	b := CavityWindows(1)
	if a.SettingsWrite != SettingsWriteA || a.SettingsRead != SettingsReadA || a.Diagnostics != DiagnosticsA {
		t.Fatalf("invalid cavity A windows: %+v", a)
	}
	if b.SettingsWrite != SettingsWriteB || b.SettingsRead != SettingsReadB || b.Diagnostics != DiagnosticsB {
		t.Fatalf("invalid cavity B windows: %+v", b)
	}
}
