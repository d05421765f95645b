// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"bufio"
	"io"
	"net"

	"github.com/go-daq/tdaq"
)

// DefaultPort is the TCP port of the board agent.
const DefaultPort = "9842"

// board link opcodes.
const (
	opWrite uint32 = iota + 1
	opRead
	opCustomWrite
	opCustomRead
	opReadRAM
)

// board link reply status.
const (
	statusOK   uint32 = 0
	statusErr  uint32 = 1 // request rejected
	statusLink uint32 = 2 // board-side transport unavailable
	statusEOF  uint32 = 3 // read past the end of the capture RAM
)

// maxChunk is the largest capture RAM chunk moved by a single request.
const maxChunk = 64 * 1024

type errReader struct {
	r   io.Reader
	err error
}

func (r *errReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	n, err := r.r.Read(p)
	if err != nil {
		r.err = err
	}
	return n, err
}

// link is one end of a framed board link.
type link struct {
	conn net.Conn
	bw   *bufio.Writer
	er   *errReader
	enc  *tdaq.Encoder
	dec  *tdaq.Decoder
}

func newLink(conn net.Conn) *link {
	lnk := &link{
		conn: conn,
		bw:   bufio.NewWriter(conn),
		er:   &errReader{r: bufio.NewReader(conn)},
	}
	lnk.enc = tdaq.NewEncoder(lnk.bw)
	lnk.dec = tdaq.NewDecoder(lnk.er)
	return lnk
}

func (lnk *link) flush() error {
	return lnk.bw.Flush()
}

func (lnk *link) readErr() error {
	return lnk.er.err
}
