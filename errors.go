// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package llrf

import (
	"errors"
	"fmt"

	"github.com/go-lpc/llrf/sigmap"
	"github.com/go-lpc/llrf/transport"
)

// Kind classifies the errors returned by a Core.
type Kind uint8

const (
	TransportUnavailable Kind = iota + 1 // link to the board is down
	UnknownSignal                        // name not in the signal map
	OutOfRange                           // value outside documented bounds
	SnapshotFailed                       // diagnostic cycle discarded
	FdlError                             // FDL capture latched in error
)

func (k Kind) String() string {
	switch k {
	case TransportUnavailable:
		return "transport unavailable"
	case UnknownSignal:
		return "unknown signal"
	case OutOfRange:
		return "out of range"
	case SnapshotFailed:
		return "snapshot failed"
	case FdlError:
		return "fdl error"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Sentinel errors, one per Kind, for use with errors.Is.
var (
	ErrTransportUnavailable = errors.New("llrf: transport unavailable")
	ErrUnknownSignal        = errors.New("llrf: unknown signal")
	ErrOutOfRange           = errors.New("llrf: out of range")
	ErrSnapshotFailed       = errors.New("llrf: snapshot failed")
	ErrFdl                  = errors.New("llrf: fdl error")
)

func (k Kind) sentinel() error {
	switch k {
	case TransportUnavailable:
		return ErrTransportUnavailable
	case UnknownSignal:
		return ErrUnknownSignal
	case OutOfRange:
		return ErrOutOfRange
	case SnapshotFailed:
		return ErrSnapshotFailed
	case FdlError:
		return ErrFdl
	}
	return nil
}

// Error is the error type returned by Core operations.
type Error struct {
	Kind Kind
	Op   string // operation, usually "<verb> <signal>"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("llrf: %s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("llrf: %s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// KindOf returns the kind of err, or zero if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func newError(k Kind, op string, err error) error {
	return &Error{Kind: k, Op: op, Err: err}
}

// classify wraps a failure of op with the matching error kind.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, transport.ErrUnavailable):
		return newError(TransportUnavailable, op, err)
	case errors.Is(err, sigmap.ErrUnknown):
		return newError(UnknownSignal, op, err)
	case errors.Is(err, sigmap.ErrOutOfRange):
		return newError(OutOfRange, op, err)
	}
	return fmt.Errorf("llrf: could not %s: %w", op, err)
}
