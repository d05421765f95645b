// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package llrf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-lpc/llrf/internal/regs"
	"github.com/jpillora/backoff"
	uuid "github.com/satori/go.uuid"
)

// FDLState is the state of the fast data logger capture.
type FDLState uint8

const (
	FDLIdle FDLState = iota
	FDLRecording
	FDLTransferring
	FDLComplete
	FDLFailed
)

func (st FDLState) String() string {
	switch st {
	case FDLIdle:
		return "idle"
	case FDLRecording:
		return "recording"
	case FDLTransferring:
		return "transferring"
	case FDLComplete:
		return "complete"
	case FDLFailed:
		return "error"
	}
	return fmt.Sprintf("FDLState(%d)", uint8(st))
}

type fdlJob struct {
	mu    sync.Mutex
	state FDLState
	id    uuid.UUID
	path  string
	err   error
}

func (job *fdlJob) set(st FDLState) {
	job.mu.Lock()
	job.state = st
	job.mu.Unlock()
}

// FDLState returns the state of the FDL capture.
func (c *Core) FDLState() FDLState {
	c.fdl.mu.Lock()
	defer c.fdl.mu.Unlock()
	return c.fdl.state
}

// FDLFileName returns the default name of a capture file started at t.
func FDLFileName(t time.Time) string {
	return t.Format("2006_01_02__15_04_05") + "_diags_data.bin"
}

// RunFDL records a capture on the board and transfers it to the file
// path, created exclusively. An empty path selects a time-stamped file
// in the FDL directory.
//
// RunFDL blocks until the capture is complete or failed.
// After a failure at any step, the output file is removed and RunFDL
// keeps failing until ResetFDL is called.
func (c *Core) RunFDL(path string) error {
	const op = "run fdl"

	c.fdl.mu.Lock()
	switch c.fdl.state {
	case FDLIdle:
	case FDLFailed:
		err := c.fdl.err
		c.fdl.mu.Unlock()
		return newError(FdlError, op, fmt.Errorf("capture latched in error, reset needed: %w", err))
	default:
		st := c.fdl.state
		c.fdl.mu.Unlock()
		return newError(FdlError, op, fmt.Errorf("capture already %v", st))
	}
	if path == "" {
		path = filepath.Join(c.cfg.fdl.dir, FDLFileName(c.cfg.now()))
	}
	c.fdl.state = FDLRecording
	c.fdl.id = uuid.NewV4()
	c.fdl.path = path
	c.fdl.err = nil
	id := c.fdl.id
	c.fdl.mu.Unlock()

	err := c.runFDL(id, path)
	if err != nil {
		c.msg.Errorf("fdl[%v]: capture failed: %+v", id, err)
		c.fdl.mu.Lock()
		c.fdl.state = FDLFailed
		c.fdl.err = err
		c.fdl.mu.Unlock()
		return newError(FdlError, op, err)
	}
	return nil
}

func (c *Core) runFDL(id uuid.UUID, path string) (err error) {
	delay := c.cfg.fdl.delay
	c.msg.Infof("fdl[%v]: recording (delay=%d)...", id, delay)

	err = c.bus.tx(func(brd *board) {
		brd.customWrite(regs.FDLRAMInit, 1)
		brd.customWrite(regs.FDLRAMInit, 0)
		brd.customWrite(regs.FDLDelay, delay)
		brd.customWrite(regs.FDLStart, 1)
	})
	if err != nil {
		return fmt.Errorf("could not start recording: %w", err)
	}

	err = c.poll(regs.FDLRAMFull, regs.RAMFull)
	if err != nil {
		return fmt.Errorf("could not wait for full capture RAM: %w", err)
	}

	var words uint32
	err = c.bus.tx(func(brd *board) {
		brd.customWrite(regs.FDLStart, 0)
		words = brd.customRead(regs.FDLWordCount)
		brd.customWrite(regs.FDLTransfer, 1)
	})
	if err != nil {
		return fmt.Errorf("could not start transfer: %w", err)
	}
	if words == 0 || words > regs.FDLMaxWords {
		words = regs.FDLMaxWords
	}
	c.fdl.set(FDLTransferring)
	c.msg.Infof("fdl[%v]: transferring %d words to %q...", id, words, path)

	err = c.transfer(path, int64(words)*4)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	err = c.poll(regs.FDLTransferOver, regs.RAMTransferOver)
	if err != nil {
		return fmt.Errorf("could not wait for end of transfer: %w", err)
	}
	c.fdl.set(FDLComplete)
	c.msg.Infof("fdl[%v]: capture complete", id)

	err = c.bus.tx(func(brd *board) {
		brd.customWrite(regs.FDLTransfer, 0)
		brd.customWrite(regs.FDLRAMInit, 1)
		brd.customWrite(regs.FDLRAMInit, 0)
	})
	if err != nil {
		return fmt.Errorf("could not reset capture RAM: %w", err)
	}
	c.fdl.set(FDLIdle)

	return nil
}

// transfer streams size bytes of the capture RAM into the file path.
// The file is removed on failure.
func (c *Core) transfer(path string, size int64) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("could not create capture file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(path)
		}
	}()

	var (
		w   = bufio.NewWriterSize(f, 1<<16)
		buf = make([]byte, 1<<16)
		off int64
	)
	for off < size {
		p := buf
		if rem := size - off; rem < int64(len(p)) {
			p = p[:rem]
		}
		var n int
		err = c.bus.tx(func(brd *board) {
			n = brd.readRAM(p, off)
		})
		if n > 0 {
			if _, e := w.Write(p[:n]); e != nil {
				return fmt.Errorf("could not write capture file: %w", e)
			}
			off += int64(n)
		}
		switch {
		case errors.Is(err, io.EOF):
			err = nil
			size = off
		case err != nil:
			return fmt.Errorf("could not read capture RAM at 0x%x: %w", off, err)
		}
	}

	err = w.Flush()
	if err != nil {
		return fmt.Errorf("could not flush capture file: %w", err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close capture file: %w", err)
	}
	return nil
}

// poll reads the side-band register regno until it holds want.
// Polls are spaced by an exponential backoff bounded by the configured
// maximum. There is no bound on the total wait.
func (c *Core) poll(regno, want uint32) error {
	bkf := &backoff.Backoff{
		Min:    minPoll,
		Max:    c.cfg.fdl.poll,
		Factor: 2,
	}
	for {
		var v uint32
		err := c.bus.tx(func(brd *board) {
			v = brd.customRead(regno)
		})
		if err != nil {
			return err
		}
		if v == want {
			return nil
		}
		time.Sleep(bkf.Duration())
	}
}

// ResetFDL returns the capture state machine to idle after a completed
// or failed capture, and resets the capture RAM.
func (c *Core) ResetFDL() error {
	const op = "reset fdl"

	c.fdl.mu.Lock()
	defer c.fdl.mu.Unlock()

	switch c.fdl.state {
	case FDLRecording, FDLTransferring:
		return newError(FdlError, op, fmt.Errorf("capture %v", c.fdl.state))
	}

	err := c.bus.tx(func(brd *board) {
		brd.customWrite(regs.FDLStart, 0)
		brd.customWrite(regs.FDLTransfer, 0)
		brd.customWrite(regs.FDLRAMInit, 1)
		brd.customWrite(regs.FDLRAMInit, 0)
	})
	if err != nil {
		return classify(op, err)
	}
	c.fdl.state = FDLIdle
	c.fdl.err = nil
	return nil
}
