// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regs holds the memory map of the LLRF board: window offsets,
// side-band register numbers and FDL handshake values.
package regs // import "github.com/go-lpc/llrf/internal/regs"

// physical location of the register span and of the FDL capture RAM.
const (
	RegBase = 0xff200000
	RegSpan = 0x00001000

	RAMBase = 0xc0000000
	RAMSpan = 0x00100000
)

// Word windows, as byte offsets inside the register span.
// Each window is a single 32-bit word; the signal address is
// carried in the data word.
const (
	SettingsWriteA = 0x000
	SettingsReadA  = 0x004
	DiagnosticsA   = 0x008

	SettingsWriteB = 0x010
	SettingsReadB  = 0x014
	DiagnosticsB   = 0x018

	SideBandBase = 0x100 // side-band register n lives at SideBandBase+4*n
	SideBandLen  = 64
)

// Settings-write frame layout.
const (
	AddrShift   = 17
	AddrMask    = 0x7fff
	PayloadMask = 0x1ffff
	WordMask    = 0xffff

	LatchArm     = 1 << 16
	LatchRelease = 0 << 16
)

// Interlock (FIM) rows inside the settings space of each cavity.
const (
	InterlockBase = 7
	InterlockRows = 12
	InterlockBits = 6
	InterlockMask = 1<<InterlockBits - 1
)

// Diagnostic addresses carrying packed status words.
const (
	DiagInterlockStatus = 150 // interlock inputs, selector 0
	DiagInterlockLatch  = 100 // interlock inputs, selector n at 100+n
	DiagOutputStatus    = 152

	MaxInterlockSelector = 7
)

// Side-band register numbers.
const (
	FDLRAMInit      = 0x10
	FDLDelay        = 0x11
	FDLStart        = 0x12
	FDLRAMFull      = 0x13
	FDLTransfer     = 0x14
	FDLTransferOver = 0x15
	FDLWordCount    = 0x16

	FwVersion = 0x00
)

// FDL handshake values.
const (
	RAMTransferOver = 0x00000001
	RAMFull         = 0x00000001
	FDLMaxWords     = RAMSpan / 4
)
