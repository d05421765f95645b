// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sigmap holds the static catalog of LLRF signals: every
// firmware register exposed by name, with its address space, address,
// encoding, unit and advisory range.
//
// The catalog is built from the embedded signals.csv table.
// Interlock disable bits and interlock status inputs are expanded from
// the Source and Reaction enumerations.
package sigmap // import "github.com/go-lpc/llrf/sigmap"

import (
	"bufio"
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/go-lpc/llrf/codec"
	"github.com/go-lpc/llrf/internal/regs"
)

var (
	// ErrUnknown is returned when a signal name is not in the catalog.
	ErrUnknown = errors.New("sigmap: unknown signal")

	// ErrOutOfRange is returned when a value lies outside the
	// documented bounds of a signal.
	ErrOutOfRange = errors.New("sigmap: value out of range")
)

//go:embed signals.csv
var table []byte

// Kind classifies signals.
type Kind uint8

const (
	Setting Kind = iota
	Diagnostic
	InterlockInput
	InterlockDisableBit
	FdlControl
)

func (k Kind) String() string {
	switch k {
	case Setting:
		return "setting"
	case Diagnostic:
		return "diagnostic"
	case InterlockInput:
		return "interlock-input"
	case InterlockDisableBit:
		return "interlock-disable-bit"
	case FdlControl:
		return "fdl-control"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Space is the logical address space of a signal.
// Settings and Diagnostics are per cavity, SideBand is board wide.
type Space uint8

const (
	Settings Space = iota
	Diagnostics
	SideBand
)

func (s Space) String() string {
	switch s {
	case Settings:
		return "settings"
	case Diagnostics:
		return "diagnostics"
	case SideBand:
		return "side-band"
	}
	return fmt.Sprintf("Space(%d)", uint8(s))
}

// Flavor identifies a board firmware.
type Flavor uint8

const (
	Loops Flavor = iota // single cavity loops board
	Diags               // two cavities diagnostics board
)

func (f Flavor) String() string {
	switch f {
	case Loops:
		return "loops"
	case Diags:
		return "diags"
	}
	return fmt.Sprintf("Flavor(%d)", uint8(f))
}

// Cavities returns the number of cavities driven by a board of flavor f.
func (f Flavor) Cavities() int {
	if f == Diags {
		return 2
	}
	return 1
}

// ParseFlavor returns the flavor named s.
func ParseFlavor(s string) (Flavor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "loops":
		return Loops, nil
	case "diags":
		return Diags, nil
	}
	return 0, fmt.Errorf("sigmap: unknown flavor %q", s)
}

// Descriptor describes a single signal.
type Descriptor struct {
	Name  string
	Kind  Kind
	Space Space
	Addr  uint32
	Enc   codec.Encoding
	Bit   uint // bit position for codec.BitField
	Unit  string
	Min   float64
	Max   float64

	Source   Source   // for interlock inputs and disable bits
	Reaction Reaction // for interlock disable bits

	// I and Q name the diagnostics a derived amplitude or phase is
	// computed from. Both are empty for register backed signals.
	I, Q  string
	Phase bool // derived phase (degrees) rather than amplitude
}

// Derived reports whether d is computed from an (I,Q) pair instead of
// being read from a register.
func (d Descriptor) Derived() bool { return d.I != "" }

// Writable reports whether d may be written by the host.
func (d Descriptor) Writable() bool {
	switch d.Kind {
	case Setting, InterlockDisableBit, FdlControl:
		return true
	}
	return false
}

// Validate checks v against the documented bounds of d.
func (d Descriptor) Validate(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s=%v", ErrOutOfRange, d.Name, v)
	}
	if d.Min == 0 && d.Max == 0 {
		return nil
	}
	if v < d.Min || d.Max < v {
		return fmt.Errorf("%w: %s=%v not in [%v, %v]", ErrOutOfRange, d.Name, v, d.Min, d.Max)
	}
	return nil
}

// Encode converts v into the register payload of d.
func (d Descriptor) Encode(v float64) uint32 {
	return codec.Encode(d.Enc, v, d.Bit)
}

// Decode converts the register word w into the physical value of d.
func (d Descriptor) Decode(w uint32) float64 {
	return codec.Decode(d.Enc, w, d.Bit)
}

// Canonical returns the canonical name of a signal.
// Both flavors expose register 24 under a different name.
func Canonical(name string) string {
	switch name {
	case "VoltageRateIncrease":
		return "VoltageIncreaseRate"
	}
	return name
}

// Map is an immutable catalog of signals for a given board flavor.
type Map struct {
	flavor Flavor
	descs  []Descriptor
	names  map[string]int
}

var defaults [2]*Map

func init() {
	for _, f := range []Flavor{Loops, Diags} {
		m, err := Parse(bytes.NewReader(table), f)
		if err != nil {
			panic(err)
		}
		defaults[f] = m
	}
}

// Default returns the built-in catalog for the flavor f.
func Default(f Flavor) *Map {
	if int(f) >= len(defaults) {
		panic(fmt.Errorf("sigmap: invalid flavor %v", f))
	}
	return defaults[f]
}

// Parse builds the catalog for the flavor f out of the table r.
func Parse(r io.Reader, f Flavor) (*Map, error) {
	var (
		m = &Map{
			flavor: f,
			names:  make(map[string]int),
		}
		sc    = bufio.NewScanner(r)
		line  int
		pairs [][4]string
	)

	for sc.Scan() {
		line++
		txt := strings.TrimSpace(sc.Text())
		if txt == "" || strings.HasPrefix(txt, "#") {
			continue
		}
		toks := strings.Split(txt, ";")
		for i := range toks {
			toks[i] = strings.TrimSpace(toks[i])
		}

		switch toks[0] {
		case "setting", "diag", "fdl":
			if len(toks) != 8 {
				return nil, fmt.Errorf("sigmap: invalid table line:%d: %q", line, txt)
			}
			ok, err := hasFlavor(toks[7], f)
			if err != nil {
				return nil, fmt.Errorf("sigmap: invalid flavors line:%d: %w", line, err)
			}
			if !ok {
				continue
			}
			d, err := parseDescr(toks)
			if err != nil {
				return nil, fmt.Errorf("sigmap: invalid table line:%d: %w", line, err)
			}
			err = m.add(d)
			if err != nil {
				return nil, fmt.Errorf("sigmap: invalid table line:%d: %w", line, err)
			}

		case "pair":
			if len(toks) != 6 {
				return nil, fmt.Errorf("sigmap: invalid pair line:%d: %q", line, txt)
			}
			ok, err := hasFlavor(toks[5], f)
			if err != nil {
				return nil, fmt.Errorf("sigmap: invalid flavors line:%d: %w", line, err)
			}
			if !ok {
				continue
			}
			pairs = append(pairs, [4]string{toks[1], toks[2], toks[3], toks[4]})

		default:
			return nil, fmt.Errorf("sigmap: invalid signal kind %q line:%d", toks[0], line)
		}
	}
	err := sc.Err()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("sigmap: could not scan signal table: %w", err)
	}

	err = m.genInterlocks()
	if err != nil {
		return nil, err
	}

	for _, p := range pairs {
		err = m.addPair(p)
		if err != nil {
			return nil, err
		}
	}

	return m, nil
}

func hasFlavor(s string, f Flavor) (bool, error) {
	if s == "*" {
		return true, nil
	}
	for _, tok := range strings.Split(s, ",") {
		v, err := ParseFlavor(tok)
		if err != nil {
			return false, err
		}
		if v == f {
			return true, nil
		}
	}
	return false, nil
}

func parseDescr(toks []string) (Descriptor, error) {
	var d Descriptor
	d.Name = Canonical(toks[1])
	switch toks[0] {
	case "setting":
		d.Kind = Setting
		d.Space = Settings
	case "diag":
		d.Kind = Diagnostic
		d.Space = Diagnostics
	case "fdl":
		d.Kind = FdlControl
		d.Space = SideBand
	}

	addr, err := strconv.ParseUint(toks[2], 0, 32)
	if err != nil {
		return d, fmt.Errorf("could not parse address %q: %w", toks[2], err)
	}
	if addr > regs.AddrMask {
		return d, fmt.Errorf("address 0x%x of %q overflows 15 bits", addr, d.Name)
	}
	d.Addr = uint32(addr)

	enc := toks[3]
	if strings.HasPrefix(enc, "bitfield:") {
		pos, err := strconv.ParseUint(strings.TrimPrefix(enc, "bitfield:"), 10, 8)
		if err != nil || pos > 15 {
			return d, fmt.Errorf("invalid bit position %q", enc)
		}
		d.Bit = uint(pos)
		enc = "bitfield"
	}
	d.Enc, err = codec.ParseEncoding(enc)
	if err != nil {
		return d, err
	}

	d.Unit = toks[4]
	d.Min, err = strconv.ParseFloat(toks[5], 64)
	if err != nil {
		return d, fmt.Errorf("could not parse min %q: %w", toks[5], err)
	}
	d.Max, err = strconv.ParseFloat(toks[6], 64)
	if err != nil {
		return d, fmt.Errorf("could not parse max %q: %w", toks[6], err)
	}
	if d.Max < d.Min {
		return d, fmt.Errorf("invalid range [%v, %v] for %q", d.Min, d.Max, d.Name)
	}

	if d.Space == Settings && regs.InterlockBase <= d.Addr && d.Addr < regs.InterlockBase+regs.InterlockRows {
		return d, fmt.Errorf("setting %q overlaps interlock row %d", d.Name, d.Addr)
	}

	return d, nil
}

func (m *Map) add(d Descriptor) error {
	if _, dup := m.names[d.Name]; dup {
		return fmt.Errorf("duplicate signal %q", d.Name)
	}
	m.names[d.Name] = len(m.descs)
	m.descs = append(m.descs, d)
	return nil
}

func (m *Map) genInterlocks() error {
	for i := 0; i < NumSources; i++ {
		src := Source(i)
		for j := 0; j < NumReactions; j++ {
			r := Reaction(j)
			err := m.add(Descriptor{
				Name:     DisableName(src, r),
				Kind:     InterlockDisableBit,
				Space:    Settings,
				Addr:     regs.InterlockBase + uint32(i),
				Enc:      codec.BitField,
				Bit:      uint(r),
				Max:      1,
				Source:   src,
				Reaction: r,
			})
			if err != nil {
				return fmt.Errorf("sigmap: could not add interlock bit: %w", err)
			}
		}
	}

	for i := 0; i < NumSources; i++ {
		src := Source(i)
		err := m.add(Descriptor{
			Name:   InputName(src),
			Kind:   InterlockInput,
			Space:  Diagnostics,
			Addr:   regs.DiagInterlockStatus,
			Enc:    codec.BitField,
			Bit:    uint(i),
			Max:    1,
			Source: src,
		})
		if err != nil {
			return fmt.Errorf("sigmap: could not add interlock input: %w", err)
		}
	}
	return nil
}

func (m *Map) addPair(p [4]string) error {
	for _, name := range p[2:] {
		i, ok := m.names[name]
		if !ok {
			return fmt.Errorf("sigmap: derived pair %q refers to unknown signal %q", p[0], name)
		}
		if m.descs[i].Kind != Diagnostic {
			return fmt.Errorf("sigmap: derived pair %q refers to non-diagnostic %q", p[0], name)
		}
	}

	amp := Descriptor{
		Name:  p[0],
		Kind:  Diagnostic,
		Space: Diagnostics,
		Enc:   codec.MilivoltsSimple,
		Unit:  "mV",
		I:     p[2],
		Q:     p[3],
	}
	ph := Descriptor{
		Name:  p[1],
		Kind:  Diagnostic,
		Space: Diagnostics,
		Enc:   codec.Angle,
		Unit:  "deg",
		I:     p[2],
		Q:     p[3],
		Phase: true,
	}
	for _, d := range []Descriptor{amp, ph} {
		err := m.add(d)
		if err != nil {
			return fmt.Errorf("sigmap: could not add derived pair: %w", err)
		}
	}
	return nil
}

// Flavor returns the board flavor of the catalog.
func (m *Map) Flavor() Flavor { return m.flavor }

// Len returns the number of signals in the catalog.
func (m *Map) Len() int { return len(m.descs) }

// Lookup returns the descriptor of the signal named name.
func (m *Map) Lookup(name string) (Descriptor, error) {
	i, ok := m.names[Canonical(name)]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w %q", ErrUnknown, name)
	}
	return m.descs[i], nil
}

// ByKind returns all the descriptors of kind k, in table order.
func (m *Map) ByKind(k Kind) []Descriptor {
	var o []Descriptor
	for _, d := range m.descs {
		if d.Kind == k {
			o = append(o, d)
		}
	}
	return o
}

// Names returns the sorted list of signal names.
func (m *Map) Names() []string {
	o := make([]string, 0, len(m.descs))
	for _, d := range m.descs {
		o = append(o, d.Name)
	}
	sort.Strings(o)
	return o
}

// Descriptors returns all the descriptors, in table order.
func (m *Map) Descriptors() []Descriptor {
	o := make([]Descriptor, len(m.descs))
	copy(o, m.descs)
	return o
}
