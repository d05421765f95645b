// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sigmap

import (
	"fmt"
	"strings"
)

// Source is a fast interlock module input.
type Source uint8

const (
	RvTet1 Source = iota
	RvTet2
	RvCircIn
	FwLoad
	FwHybLoad
	RvCav
	Arc
	Vacuum
	Manual
	EndSwUp
	EndSwDown
	Mps

	NumSources = int(Mps) + 1
)

// Reaction is a fast interlock module output, identified by its bit
// position inside a packed interlock row.
type Reaction uint8

const (
	DacsOffLoopsStby Reaction = iota
	PinDiodeSwitch
	FdlTrg
	PlcTxOff
	ReactMps
	Diag

	NumReactions = int(Diag) + 1
)

var srcNames = [NumSources]string{
	RvTet1:    "Rvtet1",
	RvTet2:    "Rvtet2",
	RvCircIn:  "Rvcircin",
	FwLoad:    "Fwload",
	FwHybLoad: "Fwhybload",
	RvCav:     "Rvcav",
	Arc:       "Arc",
	Vacuum:    "Vacuum",
	Manual:    "Manual",
	EndSwUp:   "Endswup",
	EndSwDown: "Endswdown",
	Mps:       "Mps",
}

var reactNames = [NumReactions]string{
	DacsOffLoopsStby: "Dacsoffloopsstby",
	PinDiodeSwitch:   "Pindiodeswitch",
	FdlTrg:           "Fdltrg",
	PlcTxOff:         "Plctxoff",
	ReactMps:         "Mps",
	Diag:             "Diag",
}

func (src Source) String() string {
	if int(src) < NumSources {
		return srcNames[src]
	}
	return fmt.Sprintf("Source(%d)", uint8(src))
}

func (r Reaction) String() string {
	if int(r) < NumReactions {
		return reactNames[r]
	}
	return fmt.Sprintf("Reaction(%d)", uint8(r))
}

// ParseSource returns the interlock source named s, case insensitively.
func ParseSource(s string) (Source, error) {
	for i, name := range srcNames {
		if strings.EqualFold(name, s) {
			return Source(i), nil
		}
	}
	return 0, fmt.Errorf("sigmap: unknown interlock source %q", s)
}

// ParseReaction returns the interlock reaction named s, case insensitively.
func ParseReaction(s string) (Reaction, error) {
	for i, name := range reactNames {
		if strings.EqualFold(name, s) {
			return Reaction(i), nil
		}
	}
	return 0, fmt.Errorf("sigmap: unknown interlock reaction %q", s)
}

// DisableName returns the name of the disable bit of reaction r for
// interlock source src.
func DisableName(src Source, r Reaction) string {
	return "Disitck" + src.String() + r.String()
}

// InputName returns the name of the status input of interlock source src.
func InputName(src Source) string {
	return "Diag_Itck" + src.String()
}
