// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transport moves raw 32-bit words between the host and the
// LLRF board.
//
// A transport is a pure bit pipe: it neither retries nor caches, and
// calls are observed by the board in issue order.
package transport // import "github.com/go-lpc/llrf/transport"

import (
	"errors"
	"fmt"

	"github.com/go-lpc/llrf/internal/regs"
)

// ErrUnavailable reports that the link to the board is down.
var ErrUnavailable = errors.New("transport: unavailable")

// Window is the byte offset of a word window inside the register span.
type Window uint32

const (
	SettingsWriteA Window = regs.SettingsWriteA
	SettingsReadA  Window = regs.SettingsReadA
	DiagnosticsA   Window = regs.DiagnosticsA
	SettingsWriteB Window = regs.SettingsWriteB
	SettingsReadB  Window = regs.SettingsReadB
	DiagnosticsB   Window = regs.DiagnosticsB
)

func (w Window) String() string {
	switch w {
	case SettingsWriteA:
		return "settings-write[A]"
	case SettingsReadA:
		return "settings-read[A]"
	case DiagnosticsA:
		return "diagnostics[A]"
	case SettingsWriteB:
		return "settings-write[B]"
	case SettingsReadB:
		return "settings-read[B]"
	case DiagnosticsB:
		return "diagnostics[B]"
	}
	return fmt.Sprintf("Window(0x%x)", uint32(w))
}

// Valid reports whether w is one of the board windows.
func (w Window) Valid() bool {
	switch w {
	case SettingsWriteA, SettingsReadA, DiagnosticsA,
		SettingsWriteB, SettingsReadB, DiagnosticsB:
		return true
	}
	return false
}

// Windows is the set of word windows serving one cavity.
type Windows struct {
	SettingsWrite Window
	SettingsRead  Window
	Diagnostics   Window
}

// CavityWindows returns the windows of cavity cav (0 for A, 1 for B).
func CavityWindows(cav int) Windows {
	if cav == 1 {
		return Windows{SettingsWriteB, SettingsReadB, DiagnosticsB}
	}
	return Windows{SettingsWriteA, SettingsReadA, DiagnosticsA}
}

// Transport is a raw word pipe to the board.
type Transport interface {
	// Write stores v into the window win.
	Write(win Window, v uint32) error
	// Read loads the word held by the window win.
	Read(win Window) (uint32, error)

	// CustomWrite stores v into the side-band register regno.
	CustomWrite(regno, v uint32) error
	// CustomRead loads the side-band register regno.
	CustomRead(regno uint32) (uint32, error)

	// ReadRAM reads the FDL capture RAM with io.ReaderAt semantics.
	ReadRAM(p []byte, off int64) (int, error)

	Close() error
}

// LinkError reports a failed transaction on the board link.
// LinkErrors match ErrUnavailable.
type LinkError struct {
	Op  string
	Err error
}

func (e *LinkError) Error() string {
	if e.Err == nil {
		return "transport: " + e.Op + ": link unavailable"
	}
	return "transport: " + e.Op + ": " + e.Err.Error()
}

func (e *LinkError) Unwrap() error { return e.Err }

func (e *LinkError) Is(target error) bool { return target == ErrUnavailable }

func checkRegno(regno uint32) error {
	if regno >= regs.SideBandLen {
		return fmt.Errorf("transport: invalid side-band register %d", regno)
	}
	return nil
}
