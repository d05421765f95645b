// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package codec converts physical quantities to and from LLRF register
// words, and builds the address-tagged frames written to the settings
// windows.
//
// Register words are 16 bits wide on read. Write payloads are 17 bits
// wide and are carried in the low bits of a frame whose upper 15 bits
// hold the signal address.
package codec // import "github.com/go-lpc/llrf/codec"

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-lpc/llrf/internal/regs"
)

// Encoding describes how a register word maps to a physical value.
type Encoding uint8

const (
	Direct          Encoding = iota // raw register value
	Milivolts                       // legacy analog scaling
	MilivoltsSimple                 // signed 16-bit, full scale 1000 mV
	Angle                           // signed 16-bit, full scale 180 degrees
	Percentage                      // full scale 100 %
	Boolean                         // zero or one
	BitField                        // a single bit of a packed word
	Gain                            // fixed point, 14 fractional bits
)

const (
	fullScale = 32767
	wrap      = 65536

	// analog scaling applied by older firmware revisions.
	legacyScale = 1.6467602581

	// GainScale is the fixed-point unit of the Gain encoding.
	GainScale = 1 << 14
)

var encNames = [...]string{
	Direct:          "direct",
	Milivolts:       "milivolts",
	MilivoltsSimple: "milivolts-simple",
	Angle:           "angle",
	Percentage:      "percentage",
	Boolean:         "boolean",
	BitField:        "bitfield",
	Gain:            "gain",
}

func (enc Encoding) String() string {
	if int(enc) < len(encNames) {
		return encNames[enc]
	}
	return fmt.Sprintf("Encoding(%d)", uint8(enc))
}

// ParseEncoding returns the encoding named s.
func ParseEncoding(s string) (Encoding, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range encNames {
		if name == s {
			return Encoding(i), nil
		}
	}
	return 0, fmt.Errorf("codec: unknown encoding %q", s)
}

// Encode converts the physical value v into a 17-bit register payload.
// pos is only used by the BitField encoding.
func Encode(enc Encoding, v float64, pos uint) uint32 {
	switch enc {
	case Direct:
		return clamp(v)
	case Milivolts:
		return signed(trunc(v * fullScale / legacyScale / 1000))
	case MilivoltsSimple:
		return signed(trunc(v * fullScale / 1000))
	case Angle:
		switch {
		case v < 0:
			return signed(trunc(v * fullScale / 180))
		case v <= 180:
			return clamp(trunc(v * fullScale / 180))
		default:
			return signed(trunc((v - 360) * fullScale / 180))
		}
	case Percentage:
		return clamp(trunc(v * fullScale / 100))
	case Boolean:
		if v != 0 {
			return 1
		}
		return 0
	case BitField:
		if v != 0 {
			return 1 << pos
		}
		return 0
	case Gain:
		return clamp(trunc(v * GainScale))
	}
	panic(fmt.Errorf("codec: invalid encoding %v", enc))
}

// Decode converts the register word w into its physical value.
// Only the 16 low bits of w are considered.
// pos is only used by the BitField encoding.
func Decode(enc Encoding, w uint32, pos uint) float64 {
	w &= regs.WordMask
	switch enc {
	case Direct:
		return float64(w)
	case Milivolts:
		return float64(w) * 1000 / fullScale * legacyScale
	case MilivoltsSimple:
		if w < 32768 {
			return float64(w) * 1000 / fullScale
		}
		return (float64(w) - wrap) * 1000 / fullScale
	case Angle:
		if w > 32767 {
			return (float64(w) - wrap) * 180 / fullScale
		}
		return float64(w) * 180 / fullScale
	case Percentage:
		return float64(w) * 100 / fullScale
	case Boolean:
		if w != 0 {
			return 1
		}
		return 0
	case BitField:
		return float64((w >> pos) & 0x1)
	case Gain:
		return float64(w) / GainScale
	}
	panic(fmt.Errorf("codec: invalid encoding %v", enc))
}

// Quantum returns the physical value of one least significant bit.
func Quantum(enc Encoding) float64 {
	switch enc {
	case Milivolts:
		return 1000.0 / fullScale * legacyScale
	case MilivoltsSimple:
		return 1000.0 / fullScale
	case Angle:
		return 180.0 / fullScale
	case Percentage:
		return 100.0 / fullScale
	case Gain:
		return 1.0 / GainScale
	}
	return 1
}

// Latch handshake words written to a diagnostics window.
const (
	Arm     uint32 = regs.LatchArm
	Release uint32 = regs.LatchRelease
)

// Frame builds the settings-write word for the 15-bit address addr
// and the 17-bit payload p.
func Frame(addr, p uint32) uint32 {
	return (addr&regs.AddrMask)<<regs.AddrShift | p&regs.PayloadMask
}

// Unframe splits a settings-write word into its address and payload.
func Unframe(w uint32) (addr, p uint32) {
	return (w >> regs.AddrShift) & regs.AddrMask, w & regs.PayloadMask
}

// Amplitude returns the amplitude of the (i,q) pair.
func Amplitude(i, q float64) float64 {
	return math.Hypot(i, q)
}

// Phase returns the phase of the (i,q) pair, in degrees.
func Phase(i, q float64) float64 {
	return math.Atan2(q, i) * 180 / math.Pi
}

func trunc(v float64) float64 {
	return float64(int64(v))
}

func signed(v float64) uint32 {
	if v < 0 {
		v += wrap
	}
	if v < 0 {
		return 0
	}
	return uint32(v) & regs.WordMask
}

func clamp(v float64) uint32 {
	switch {
	case v <= 0:
		return 0
	case v >= regs.PayloadMask:
		return regs.PayloadMask
	}
	return uint32(v)
}
