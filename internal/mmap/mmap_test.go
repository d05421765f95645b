// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmap

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestHandle(t *testing.T) {
	t.Run("nil-handle", func(t *testing.T) {
		var h *Handle

		_, err := h.ReadAt(nil, 0)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid read-at error: %+v", err)
		}

		_, err = h.WriteAt(nil, 0)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid write-at error: %+v", err)
		}

		err = h.Close()
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid close error: %+v", err)
		}
	})
	t.Run("nil-data", func(t *testing.T) {
		var h Handle

		_, err := h.ReadAt(nil, 0)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid read-at error: %+v", err)
		}

		_, err = h.WriteAt(nil, 0)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid write-at error: %+v", err)
		}

		err = h.Close()
		if err != nil {
			t.Fatalf("error closing nil-data handle: %+v", err)
		}
	})
}

func TestHandleFrom(t *testing.T) {
	h := HandleFrom([]byte{0, 1, 2, 3})

	if got, want := h.Len(), 4; got != want {
		t.Fatalf("invalid len: got=%d, want=%d", got, want)
	}

	if got, want := h.At(1), byte(1); got != want {
		t.Fatalf("invalid value: got=%d, want=%d", got, want)
	}

	_, err := h.WriteAt(nil, -1)
	if got, want := err.Error(), "mmap: invalid WriteAt offset -1"; got != want {
		t.Fatalf("invalid error: %+v", err)
	}

	_, err = h.ReadAt(nil, -1)
	if got, want := err.Error(), "mmap: invalid ReadAt offset -1"; got != want {
		t.Fatalf("invalid error: %+v", err)
	}

	_, err = h.ReadAt(make([]byte, 8), 0)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("invalid short read error: %+v", err)
	}

	_, err = h.WriteAt(make([]byte, 8), 0)
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("invalid short write error: %+v", err)
	}

	err = h.Close()
	if err != nil {
		t.Fatalf("could not close handle: %+v", err)
	}
}

func TestMap(t *testing.T) {
	tmp := t.TempDir()
	fname := filepath.Join(tmp, "dev-mem")
	err := os.WriteFile(fname, make([]byte, 4096), 0644)
	if err != nil {
		t.Fatalf("could not create fake dev-mem: %+v", err)
	}

	f, err := os.OpenFile(fname, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("could not open fake dev-mem: %+v", err)
	}
	defer f.Close()

	h, err := Map(f, 0, 4096)
	if err != nil {
		t.Fatalf("could not mmap fake dev-mem: %+v", err)
	}
	defer h.Close()

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], 0x4001fff)
	_, err = h.WriteAt(buf[:], 0x10)
	if err != nil {
		t.Fatalf("could not write word: %+v", err)
	}

	err = h.Close()
	if err != nil {
		t.Fatalf("could not unmap: %+v", err)
	}

	raw, err := os.ReadFile(fname)
	if err != nil {
		t.Fatalf("could not read back fake dev-mem: %+v", err)
	}
	if got, want := binary.LittleEndian.Uint32(raw[0x10:]), uint32(0x4001fff); got != want {
		t.Fatalf("invalid word: got=0x%x, want=0x%x", got, want)
	}
}
