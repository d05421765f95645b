// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bringup

import (
	"fmt"

	"github.com/go-daq/smbus"
)

// Open opens the SMBus adapter /dev/i2c-<bus> and returns a bring-up
// sequencer for the devices attached to it.
func Open(bus int, opts ...Option) (*Board, error) {
	conn, err := smbus.Open(bus, Devices[0].Addr)
	if err != nil {
		return nil, fmt.Errorf("bringup: could not open SMBus %d: %w", bus, err)
	}
	return New(conn, opts...), nil
}

var _ Bus = (*smbus.Conn)(nil)
