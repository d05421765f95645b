// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/go-daq/tdaq/log"
)

// Serve runs the board agent: it accepts links on l and executes their
// requests against tr. Links are served one at a time.
// Serve returns when ctx is done or when l fails.
func Serve(ctx context.Context, l net.Listener, tr Transport, msg log.MsgStream) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = l.Close()
		case <-done:
		}
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("transport: could not accept link: %w", err)
			}
		}
		msg.Infof("link from %v", conn.RemoteAddr())
		err = serveLink(newLink(conn), tr)
		if err != nil {
			msg.Warnf("link from %v: %+v", conn.RemoteAddr(), err)
		}
		_ = conn.Close()
	}
}

func serveLink(lnk *link, tr Transport) error {
	ram := make([]byte, maxChunk)
	for {
		var (
			op = lnk.dec.ReadU32()
			a  = lnk.dec.ReadU32()
			b  = lnk.dec.ReadU32()
		)
		if err := lnk.readErr(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("could not read request: %w", err)
		}

		var err error
		switch op {
		case opWrite:
			err = reply(lnk, tr.Write(Window(a), b))
		case opRead:
			var v uint32
			v, err = tr.Read(Window(a))
			err = reply(lnk, err, v)
		case opCustomWrite:
			err = reply(lnk, tr.CustomWrite(a, b))
		case opCustomRead:
			var v uint32
			v, err = tr.CustomRead(a)
			err = reply(lnk, err, v)
		case opReadRAM:
			if b > maxChunk {
				b = maxChunk
			}
			n, e := tr.ReadRAM(ram[:b], int64(a))
			switch {
			case errors.Is(e, io.EOF) && n == 0:
				lnk.enc.WriteU32(statusEOF)
				err = lnk.flush()
			case errors.Is(e, io.EOF):
				err = replyRAM(lnk, nil, ram[:n])
			default:
				err = replyRAM(lnk, e, ram[:n])
			}
		default:
			err = reply(lnk, fmt.Errorf("invalid opcode %d", op))
		}
		if err != nil {
			return fmt.Errorf("could not send reply: %w", err)
		}
	}
}

func status(err error) uint32 {
	switch {
	case err == nil:
		return statusOK
	case errors.Is(err, ErrUnavailable):
		return statusLink
	}
	return statusErr
}

func reply(lnk *link, err error, vs ...uint32) error {
	lnk.enc.WriteU32(status(err))
	if err != nil {
		lnk.enc.WriteStr(err.Error())
		return lnk.flush()
	}
	for _, v := range vs {
		lnk.enc.WriteU32(v)
	}
	return lnk.flush()
}

func replyRAM(lnk *link, err error, p []byte) error {
	lnk.enc.WriteU32(status(err))
	if err != nil {
		lnk.enc.WriteStr(err.Error())
		return lnk.flush()
	}
	lnk.enc.WriteStr(string(p))
	return lnk.flush()
}
