// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// DefaultTimeout bounds a single request/response exchange with the
// board agent.
const DefaultTimeout = 5 * time.Second

// Net is a transport to the board agent over TCP.
//
// Any I/O error marks the link down: the failing call and all later
// calls return ErrUnavailable until Redial succeeds.
type Net struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	lnk  *link
	down bool
}

// Dial connects to the board agent listening at addr.
// The default port is used when addr has none.
func Dial(addr string, timeout time.Duration) (*Net, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, DefaultPort)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Net{addr: addr, timeout: timeout}
	err := c.Redial()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Addr returns the address of the board agent.
func (c *Net) Addr() string { return c.addr }

// Redial re-establishes the link to the board agent.
func (c *Net) Redial() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lnk != nil {
		_ = c.lnk.conn.Close()
		c.lnk = nil
	}

	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		c.down = true
		return &LinkError{Op: "dial", Err: fmt.Errorf("could not dial %q: %w", c.addr, err)}
	}
	c.lnk = newLink(conn)
	c.down = false
	return nil
}

// roundtrip sends a request and decodes the reply status.
// reply is called with the link decoder on success.
func (c *Net) roundtrip(op string, code, a, b uint32, reply func(lnk *link) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.down || c.lnk == nil {
		return &LinkError{Op: op}
	}

	lnk := c.lnk
	fail := func(err error) error {
		c.down = true
		_ = lnk.conn.Close()
		return &LinkError{Op: op, Err: err}
	}

	err := lnk.conn.SetDeadline(time.Now().Add(c.timeout))
	if err != nil {
		return fail(err)
	}

	lnk.enc.WriteU32(code)
	lnk.enc.WriteU32(a)
	lnk.enc.WriteU32(b)
	err = lnk.flush()
	if err != nil {
		return fail(fmt.Errorf("could not send request: %w", err))
	}

	status := lnk.dec.ReadU32()
	if err := lnk.readErr(); err != nil {
		return fail(fmt.Errorf("could not read reply: %w", err))
	}

	switch status {
	case statusOK:
		err = reply(lnk)
		if e := lnk.readErr(); e != nil {
			return fail(fmt.Errorf("could not read reply payload: %w", e))
		}
		return err
	case statusEOF:
		return io.EOF
	case statusErr, statusLink:
		msg := lnk.dec.ReadStr()
		if err := lnk.readErr(); err != nil {
			return fail(fmt.Errorf("could not read error reply: %w", err))
		}
		if status == statusLink {
			return &LinkError{Op: op, Err: errors.New("board: " + msg)}
		}
		return fmt.Errorf("transport: %s: board: %s", op, msg)
	default:
		return fail(fmt.Errorf("invalid reply status %d", status))
	}
}

func noReply(*link) error { return nil }

func (c *Net) Write(win Window, v uint32) error {
	return c.roundtrip("write", opWrite, uint32(win), v, noReply)
}

func (c *Net) Read(win Window) (uint32, error) {
	var v uint32
	err := c.roundtrip("read", opRead, uint32(win), 0, func(lnk *link) error {
		v = lnk.dec.ReadU32()
		return nil
	})
	return v, err
}

func (c *Net) CustomWrite(regno, v uint32) error {
	return c.roundtrip("custom-write", opCustomWrite, regno, v, noReply)
}

func (c *Net) CustomRead(regno uint32) (uint32, error) {
	var v uint32
	err := c.roundtrip("custom-read", opCustomRead, regno, 0, func(lnk *link) error {
		v = lnk.dec.ReadU32()
		return nil
	})
	return v, err
}

// ReadRAM reads the capture RAM in chunks of at most 64 KiB.
func (c *Net) ReadRAM(p []byte, off int64) (int, error) {
	var n int
	for n < len(p) {
		sz := len(p) - n
		if sz > maxChunk {
			sz = maxChunk
		}
		var m int
		err := c.roundtrip("read-ram", opReadRAM, uint32(off)+uint32(n), uint32(sz), func(lnk *link) error {
			m = copy(p[n:], lnk.dec.ReadStr())
			return nil
		})
		n += m
		if err != nil {
			return n, err
		}
		if m < sz {
			return n, io.EOF
		}
	}
	return n, nil
}

// Close closes the link to the board agent.
func (c *Net) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.down = true
	if c.lnk == nil {
		return nil
	}
	err := c.lnk.conn.Close()
	c.lnk = nil
	if err != nil {
		return fmt.Errorf("transport: could not close link to %q: %w", c.addr, err)
	}
	return nil
}

var (
	_ Transport = (*Net)(nil)
)
