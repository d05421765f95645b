// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/go-lpc/llrf/internal/mmap"
	"github.com/go-lpc/llrf/internal/regs"
)

type rwer interface {
	io.ReaderAt
	io.WriterAt
}

// Mem is a transport over the memory-mapped register span of the
// board, as seen from the SoC running the board agent.
// Mem is not safe for concurrent use.
type Mem struct {
	reg rwer
	ram io.ReaderAt

	fd   *os.File
	hdls []*mmap.Handle

	closed bool
	buf    [4]byte
}

// NewMem returns a transport over the register span reg and the FDL
// capture RAM ram.
func NewMem(reg rwer, ram io.ReaderAt) *Mem {
	return &Mem{reg: reg, ram: ram}
}

// OpenMem maps the register span and the capture RAM from devmem,
// usually /dev/mem.
func OpenMem(devmem string) (*Mem, error) {
	fd, err := os.OpenFile(devmem, os.O_RDWR|os.O_SYNC, 0666)
	if err != nil {
		return nil, fmt.Errorf("transport: could not open %q: %w", devmem, err)
	}

	reg, err := mmap.Map(fd, regs.RegBase, regs.RegSpan)
	if err != nil {
		_ = fd.Close()
		return nil, fmt.Errorf("transport: could not map register span: %w", err)
	}

	ram, err := mmap.Map(fd, regs.RAMBase, regs.RAMSpan)
	if err != nil {
		_ = reg.Close()
		_ = fd.Close()
		return nil, fmt.Errorf("transport: could not map capture RAM: %w", err)
	}

	mem := NewMem(reg, ram)
	mem.fd = fd
	mem.hdls = []*mmap.Handle{reg, ram}
	return mem, nil
}

func (mem *Mem) readU32(op string, off int64) (uint32, error) {
	if mem.closed {
		return 0, &LinkError{Op: op}
	}
	_, err := mem.reg.ReadAt(mem.buf[:4], off)
	if err != nil {
		return 0, &LinkError{Op: op, Err: fmt.Errorf("could not read register 0x%x: %w", off, err)}
	}
	return binary.LittleEndian.Uint32(mem.buf[:4]), nil
}

func (mem *Mem) writeU32(op string, off int64, v uint32) error {
	if mem.closed {
		return &LinkError{Op: op}
	}
	binary.LittleEndian.PutUint32(mem.buf[:4], v)
	_, err := mem.reg.WriteAt(mem.buf[:4], off)
	if err != nil {
		return &LinkError{Op: op, Err: fmt.Errorf("could not write register 0x%x: %w", off, err)}
	}
	return nil
}

func (mem *Mem) Write(win Window, v uint32) error {
	if !win.Valid() {
		return fmt.Errorf("transport: invalid window %v", win)
	}
	return mem.writeU32("write", int64(win), v)
}

func (mem *Mem) Read(win Window) (uint32, error) {
	if !win.Valid() {
		return 0, fmt.Errorf("transport: invalid window %v", win)
	}
	return mem.readU32("read", int64(win))
}

func (mem *Mem) CustomWrite(regno, v uint32) error {
	if err := checkRegno(regno); err != nil {
		return err
	}
	return mem.writeU32("custom-write", regs.SideBandBase+4*int64(regno), v)
}

func (mem *Mem) CustomRead(regno uint32) (uint32, error) {
	if err := checkRegno(regno); err != nil {
		return 0, err
	}
	return mem.readU32("custom-read", regs.SideBandBase+4*int64(regno))
}

func (mem *Mem) ReadRAM(p []byte, off int64) (int, error) {
	if mem.closed {
		return 0, &LinkError{Op: "read-ram"}
	}
	n, err := mem.ram.ReadAt(p, off)
	switch {
	case err == io.EOF:
		return n, err
	case err != nil:
		return n, &LinkError{Op: "read-ram", Err: err}
	}
	return n, nil
}

// Close releases the mapped windows.
// Any later call fails with ErrUnavailable.
func (mem *Mem) Close() error {
	if mem.closed {
		return nil
	}
	mem.closed = true

	var err error
	for _, h := range mem.hdls {
		if e := h.Close(); e != nil && err == nil {
			err = fmt.Errorf("transport: could not unmap window: %w", e)
		}
	}
	mem.hdls = nil

	if mem.fd != nil {
		if e := mem.fd.Close(); e != nil && err == nil {
			err = fmt.Errorf("transport: could not close device mem file: %w", e)
		}
		mem.fd = nil
	}
	return err
}

var (
	_ Transport = (*Mem)(nil)
)
