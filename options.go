// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package llrf

import (
	"os"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/llrf/sigmap"
)

const (
	// DefaultFDLDir is the default directory of FDL capture files.
	DefaultFDLDir = "/tmp"

	// maxPoll bounds the sleep between two FDL status polls.
	maxPoll = 100 * time.Millisecond
	minPoll = 1 * time.Millisecond
)

// Initializer brings up the board ancillary cards.
// Initialize must complete before any register access.
type Initializer interface {
	Initialize() error
}

type config struct {
	flavor sigmap.Flavor
	smap   *sigmap.Map
	msg    log.MsgStream

	bringup Initializer

	fdl struct {
		dir   string
		delay uint32
		poll  time.Duration // upper bound of the poll backoff
	}

	now func() time.Time
}

func newConfig() config {
	var cfg config
	cfg.flavor = sigmap.Loops
	cfg.fdl.dir = DefaultFDLDir
	cfg.fdl.poll = maxPoll
	cfg.now = time.Now
	return cfg
}

// Option configures a Core.
type Option func(*config)

// WithFlavor selects the board firmware flavor.
func WithFlavor(f sigmap.Flavor) Option {
	return func(cfg *config) {
		cfg.flavor = f
	}
}

// WithMap replaces the built-in signal map.
// The flavor of the core is the one of m.
func WithMap(m *sigmap.Map) Option {
	return func(cfg *config) {
		cfg.smap = m
	}
}

// WithMsgStream sets the message stream used for logging.
func WithMsgStream(msg log.MsgStream) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithFDLDir sets the directory where FDL captures are written when no
// explicit path is given.
func WithFDLDir(dir string) Option {
	return func(cfg *config) {
		cfg.fdl.dir = dir
	}
}

// WithFDLDelay sets the FDL pre-trigger delay word.
func WithFDLDelay(delay uint32) Option {
	return func(cfg *config) {
		cfg.fdl.delay = delay
	}
}

// WithPollMax sets the upper bound of the FDL poll backoff.
// Values above 100ms are clamped.
func WithPollMax(d time.Duration) Option {
	return func(cfg *config) {
		switch {
		case d <= 0:
			d = maxPoll
		case d < minPoll:
			d = minPoll
		case d > maxPoll:
			d = maxPoll
		}
		cfg.fdl.poll = d
	}
}

// WithBringUp sets the board bring-up collaborator.
// Its Initialize method is run by New before anything else.
func WithBringUp(b Initializer) Option {
	return func(cfg *config) {
		cfg.bringup = b
	}
}

func defaultMsgStream() log.MsgStream {
	return log.NewMsgStream("llrf", log.LvlInfo, os.Stdout)
}
