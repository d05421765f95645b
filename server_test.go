// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package llrf

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"path/filepath"
	"strings"
	"testing"
)

func TestServerFail(t *testing.T) {
	c, _ := newTestCore(t, 0)
	err := Serve(context.Background(), ":invalid", c)
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestServer(t *testing.T) {
	tmp := t.TempDir()
	c, dev := newTestCore(t, 128, WithFDLDir(tmp))

	srv, err := newServer("localhost:0", c)
	if err != nil {
		t.Fatalf("could not create server: %+v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- srv.serve(ctx)
	}()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("server failed: %+v", err)
		}
	}()

	conn, err := net.Dial("tcp", srv.addr())
	if err != nil {
		t.Fatalf("could not dial server: %+v", err)
	}
	defer conn.Close()

	var (
		enc = json.NewEncoder(conn)
		dec = json.NewDecoder(conn)
	)

	type reply struct {
		Msg   string          `json:"msg"`
		Value json.RawMessage `json:"value"`
	}

	send := func(name string, args interface{}) reply {
		t.Helper()
		req := struct {
			Name string      `json:"name"`
			Args interface{} `json:"args,omitempty"`
		}{name, args}
		err := enc.Encode(req)
		if err != nil {
			t.Fatalf("could not send %q: %+v", name, err)
		}
		var rep reply
		err = dec.Decode(&rep)
		if err != nil {
			t.Fatalf("could not decode %q reply: %+v", name, err)
		}
		return rep
	}

	type A = map[string]interface{}

	for _, tc := range []struct {
		name string
		args interface{}
		err  string
	}{
		{"write", A{"name": "PhaseShiftCav", "value": 45}, ""},
		{"set-disable", A{"source": "rvtet1", "reaction": "mps", "disable": true}, ""},
		{"selector", A{"selector": 2}, ""},
		{"reset-tuning", nil, ""},
		{"reset-interlocks", A{"cavity": "A"}, ""},
		{"reset-manual-interlock", nil, ""},
		{"update-interlocks", nil, ""},
		{"fdl", A{"path": filepath.Join(tmp, "fdl.bin")}, ""},
		{"fdl-reset", nil, ""},
		{"write", A{"name": "NoSuchSignal", "value": 1}, "unknown signal"},
		{"write", A{"name": "PhaseShiftCav", "value": 400}, "out of range"},
		{"read", A{"name": "PhaseShiftCav", "cavity": "C"}, "invalid cavity"},
		{"set-disable", A{"source": "nope", "reaction": "mps"}, "unknown interlock source"},
		{"selector", A{"selector": 9}, "out of range"},
		{"launch", nil, "unknown command"},
	} {
		rep := send(tc.name, tc.args)
		switch {
		case tc.err == "" && rep.Msg != "ok":
			t.Fatalf("%s(%v): unexpected error: %s", tc.name, tc.args, rep.Msg)
		case tc.err != "" && !strings.Contains(rep.Msg, tc.err):
			t.Fatalf("%s(%v): invalid error: got=%q, want=%q", tc.name, tc.args, rep.Msg, tc.err)
		}
	}

	if got, want := dev.Setting(0, 7), uint32(0b010000); got != want {
		t.Fatalf("invalid interlock row: got=0b%06b, want=0b%06b", got, want)
	}
	if got, want := c.InterlockSelector(), 2; got != want {
		t.Fatalf("invalid selector: got=%d, want=%d", got, want)
	}

	rep := send("read", A{"name": "PhaseShiftCav"})
	var phase float64
	if err := json.Unmarshal(rep.Value, &phase); err != nil {
		t.Fatalf("could not decode read value %q: %+v", rep.Value, err)
	}
	if math.Abs(phase-45) > 0.006 {
		t.Fatalf("invalid phase: got=%v, want=45", phase)
	}

	rep = send("get-disable", A{"source": "Rvtet1", "reaction": "Mps"})
	var disabled bool
	if err := json.Unmarshal(rep.Value, &disabled); err != nil || !disabled {
		t.Fatalf("invalid disable bit: %q (err=%v)", rep.Value, err)
	}

	rep = send("snapshot", A{"cavity": "A"})
	var snap map[string]float64
	if err := json.Unmarshal(rep.Value, &snap); err != nil {
		t.Fatalf("could not decode snapshot: %+v", err)
	}
	if _, ok := snap["AmpControl"]; !ok {
		t.Fatalf("missing derived amplitude from snapshot")
	}

	rep = send("fdl-state", nil)
	var state string
	if err := json.Unmarshal(rep.Value, &state); err != nil || state != "idle" {
		t.Fatalf("invalid fdl state: %q (err=%v)", rep.Value, err)
	}

	rep = send("names", nil)
	var names []string
	if err := json.Unmarshal(rep.Value, &names); err != nil {
		t.Fatalf("could not decode names: %+v", err)
	}
	if got, want := len(names), c.Map().Len(); got != want {
		t.Fatalf("invalid number of names: got=%d, want=%d", got, want)
	}
}
