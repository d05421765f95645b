// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package llrf is the control-plane core of an FPGA based low-level RF
// controller.
//
// A Core exposes every firmware register of the board as a named
// signal (see package sigmap), maintains the host mirror of the fast
// interlock matrix, runs the latched diagnostic acquisition cycle and
// drives the fast data logger offload.
//
// Every accessor is a lookup, codec and transport pipeline:
//
//	core, err := llrf.New(tr, llrf.WithFlavor(sigmap.Diags))
//	err = core.Write("PhaseShiftCav", llrf.CavA, 45)
//	v, err := core.Read("PhaseShiftCav", llrf.CavA)
package llrf // import "github.com/go-lpc/llrf"

import (
	"fmt"
	"runtime/debug"
)

// Version returns the version of llrf and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	const root = "github.com/go-lpc/llrf"
	if b.Main.Path == root {
		return b.Main.Version, b.Main.Sum
	}
	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			switch {
			case m.Replace.Version != "" && m.Replace.Path != "":
				return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
			case m.Replace.Version != "":
				return m.Replace.Version, m.Replace.Sum
			case m.Replace.Path != "":
				return m.Replace.Path, m.Replace.Sum
			default:
				return m.Version + "*", ""
			}
		}
		return m.Version, m.Sum
	}
	return "", ""
}
