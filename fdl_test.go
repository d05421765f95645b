// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package llrf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-lpc/llrf/internal/regs"
)

func fdlPattern(words int, delay uint32) []byte {
	o := make([]byte, 4*words)
	for i := 0; i < words; i++ {
		binary.LittleEndian.PutUint32(o[4*i:], delay<<16|uint32(i)&0xffff)
	}
	return o
}

func TestFDL(t *testing.T) {
	const (
		words = 40000 // more than two chunks
		delay = 5
	)
	tmp := t.TempDir()
	c, dev := newTestCore(t, words, WithFDLDir(tmp), WithFDLDelay(delay))
	c.cfg.now = func() time.Time {
		return time.Date(2020, 12, 24, 13, 14, 15, 0, time.UTC)
	}
	dev.SetPolls(3)

	if got, want := c.FDLState(), FDLIdle; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}

	err := c.RunFDL("")
	if err != nil {
		t.Fatalf("could not run FDL capture: %+v", err)
	}
	if got, want := c.FDLState(), FDLIdle; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}

	fname := filepath.Join(tmp, "2020_12_24__13_14_15_diags_data.bin")
	got, err := os.ReadFile(fname)
	if err != nil {
		t.Fatalf("could not read capture file: %+v", err)
	}
	if want := fdlPattern(words, delay); !bytes.Equal(got, want) {
		t.Fatalf("invalid capture content (len=%d, want=%d)", len(got), len(want))
	}

	accs := dev.Log()
	for i, want := range []struct {
		regno, v uint32
	}{
		{regs.FDLRAMInit, 1},
		{regs.FDLRAMInit, 0},
		{regs.FDLDelay, delay},
		{regs.FDLStart, 1},
	} {
		acc := accs[i]
		if acc.Op != "custom-write" || acc.Regno != want.regno || acc.V != want.v {
			t.Fatalf("invalid access %d: got=%v, want=custom-write(reg=0x%x, 0x%x)", i, acc, want.regno, want.v)
		}
	}

	var (
		fullPolls int
		overPolls int
	)
	for _, acc := range accs {
		if acc.Op != "custom-read" {
			continue
		}
		switch acc.Regno {
		case regs.FDLRAMFull:
			fullPolls++
		case regs.FDLTransferOver:
			overPolls++
		}
	}
	if got, want := fullPolls, 4; got != want {
		t.Fatalf("invalid number of RAM-full polls: got=%d, want=%d", got, want)
	}
	if got, want := overPolls, 4; got != want {
		t.Fatalf("invalid number of transfer-over polls: got=%d, want=%d", got, want)
	}
	if got := dev.SideBand(regs.FDLTransfer); got != 0 {
		t.Fatalf("transfer command not released: 0x%x", got)
	}

	// an existing file is never overwritten.
	err = c.RunFDL(fname)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !errors.Is(err, ErrFdl) {
		t.Fatalf("invalid error: %+v", err)
	}
	if got, want := c.FDLState(), FDLFailed; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	raw, err := os.ReadFile(fname)
	if err != nil || !bytes.Equal(raw, got) {
		t.Fatalf("existing capture file modified (err=%v)", err)
	}
}

func TestFDLLinkDown(t *testing.T) {
	const words = 65536
	tmp := t.TempDir()
	c, dev := newTestCore(t, words, WithFDLDir(tmp))
	dev.FailOnRAM(2)

	fname := filepath.Join(tmp, "capture.bin")
	err := c.RunFDL(fname)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if got, want := KindOf(err), FdlError; got != want {
		t.Fatalf("invalid error kind: got=%v, want=%v (err=%+v)", got, want, err)
	}
	if got, want := c.FDLState(), FDLFailed; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	if _, err := os.Stat(fname); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial capture file not removed: %v", err)
	}

	dev.SetLinkDown(false)

	err = c.RunFDL(filepath.Join(tmp, "other.bin"))
	if got, want := KindOf(err), FdlError; got != want {
		t.Fatalf("invalid error kind: got=%v, want=%v (err=%+v)", got, want, err)
	}
	if _, err := os.Stat(filepath.Join(tmp, "other.bin")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("capture ran while latched in error")
	}

	err = c.ResetFDL()
	if err != nil {
		t.Fatalf("could not reset FDL: %+v", err)
	}
	if got, want := c.FDLState(), FDLIdle; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}

	err = c.RunFDL(fname)
	if err != nil {
		t.Fatalf("could not run FDL capture after reset: %+v", err)
	}
	fi, err := os.Stat(fname)
	if err != nil {
		t.Fatalf("could not stat capture file: %+v", err)
	}
	if got, want := fi.Size(), int64(4*words); got != want {
		t.Fatalf("invalid capture size: got=%d, want=%d", got, want)
	}
}

func TestFDLResetRAMFailure(t *testing.T) {
	const words = 4096
	tmp := t.TempDir()
	c, dev := newTestCore(t, words, WithFDLDir(tmp))
	dev.SetPolls(2)

	dev.ResetLog()
	err := c.RunFDL(filepath.Join(tmp, "ref.bin"))
	if err != nil {
		t.Fatalf("could not run reference capture: %+v", err)
	}
	n := len(dev.Log())

	// drop the link on the first write of the final RAM reset.
	dev.FailAfter(n - 3)

	fname := filepath.Join(tmp, "capture.bin")
	err = c.RunFDL(fname)
	if got, want := KindOf(err), FdlError; got != want {
		t.Fatalf("invalid error kind: got=%v, want=%v (err=%+v)", got, want, err)
	}
	if got, want := c.FDLState(), FDLFailed; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	if _, err := os.Stat(fname); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("capture file not removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmp, "ref.bin")); err != nil {
		t.Fatalf("reference capture file removed: %v", err)
	}
}

func TestFDLStartFailure(t *testing.T) {
	tmp := t.TempDir()
	c, dev := newTestCore(t, 0, WithFDLDir(tmp))
	dev.SetLinkDown(true)

	err := c.RunFDL("")
	if got, want := KindOf(err), FdlError; got != want {
		t.Fatalf("invalid error kind: got=%v, want=%v (err=%+v)", got, want, err)
	}
	files, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Fatalf("unexpected files: %v", files)
	}

	// resetting needs the link.
	err = c.ResetFDL()
	if got, want := KindOf(err), TransportUnavailable; got != want {
		t.Fatalf("invalid error kind: got=%v, want=%v (err=%+v)", got, want, err)
	}
	if got, want := c.FDLState(), FDLFailed; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
}

func TestFDLStateString(t *testing.T) {
	for _, tc := range []struct {
		st   FDLState
		want string
	}{
		{FDLIdle, "idle"},
		{FDLRecording, "recording"},
		{FDLTransferring, "transferring"},
		{FDLComplete, "complete"},
		{FDLFailed, "error"},
		{FDLState(42), "FDLState(42)"},
	} {
		if got := tc.st.String(); got != tc.want {
			t.Fatalf("invalid string: got=%q, want=%q", got, tc.want)
		}
	}
}
