// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package confdb

import (
	"context"
	"database/sql/driver"
	"io"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/llrf"
	"github.com/go-lpc/llrf/internal/fakedb"
	"github.com/go-lpc/llrf/internal/fakefpga"
	"github.com/go-lpc/llrf/sigmap"
)

func init() {
	drvName = "fakedb"
}

func openDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Host: "localhost", Name: "llrf", User: "llrf"})
	if err != nil {
		t.Fatalf("could not open confdb: %+v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDSN(t *testing.T) {
	for _, tc := range []struct {
		cfg  Config
		want string
	}{
		{
			cfg:  Config{Host: "192.168.0.10:3306", Name: "llrf", User: "rf", Pass: "pa55"},
			want: "rf:pa55@tcp(192.168.0.10:3306)/llrf",
		},
		{
			cfg:  Config{Host: "db:3306", Name: "cfg", User: "llrf"},
			want: "llrf@tcp(db:3306)/cfg",
		},
	} {
		t.Run(tc.want, func(t *testing.T) {
			got := dsn(tc.cfg)
			for _, want := range []string{tc.want, "parseTime=true"} {
				if !strings.Contains(got, want) {
					t.Fatalf("invalid DSN %q: missing %q", got, want)
				}
			}
		})
	}
}

func TestLastSettings(t *testing.T) {
	db := openDB(t)

	_, err := fakedb.Run(context.Background(), []fakedb.Rows{{
		Names: []string{"name", "value"},
		Values: [][]driver.Value{
			{"GainTetrode1", 0.5},
			{"PhaseShiftCav", 45.0},
		},
	}}, func(ctx context.Context) error {
		got, err := db.LastSettings(ctx, "loops", 0)
		if err != nil {
			t.Fatalf("could not retrieve settings: %+v", err)
		}
		want := []Setting{
			{"GainTetrode1", 0.5},
			{"PhaseShiftCav", 45},
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid settings:\ngot= %v\nwant=%v", got, want)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestLastInterlocks(t *testing.T) {
	db := openDB(t)

	_, err := fakedb.Run(context.Background(), []fakedb.Rows{{
		Names: []string{"source", "row"},
		Values: [][]driver.Value{
			{int64(0), int64(0b110000)},
			{int64(3), int64(0b000001)},
		},
	}}, func(ctx context.Context) error {
		got, err := db.LastInterlocks(ctx, "loops", 0)
		if err != nil {
			t.Fatalf("could not retrieve interlocks: %+v", err)
		}
		if want := []uint8{0b110000, 0, 0, 1}; !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid rows: got=%v, want=%v", got, want)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func newCore(t *testing.T) (*llrf.Core, *fakefpga.FPGA) {
	t.Helper()
	dev := fakefpga.New(0)
	core, err := llrf.New(dev, llrf.WithMsgStream(log.NewMsgStream("llrf", log.LvlError, io.Discard)))
	if err != nil {
		t.Fatalf("could not create core: %+v", err)
	}
	t.Cleanup(func() { _ = core.Close() })
	return core, dev
}

func TestRestore(t *testing.T) {
	db := openDB(t)
	core, dev := newCore(t)

	_, err := fakedb.Run(context.Background(), []fakedb.Rows{
		{
			Names: []string{"name", "value"},
			Values: [][]driver.Value{
				{"GainTetrode1", 0.5},
				{"NoLongerInFirmware", 1.0},
				{"PhaseShiftCav", -90.0},
				{"ResetTuning", 1.0},
			},
		},
		{
			Names: []string{"source", "row"},
			Values: [][]driver.Value{
				{int64(sigmap.RvTet1), int64(0b110000)},
				{int64(sigmap.Mps), int64(0b000011)},
			},
		},
	}, func(ctx context.Context) error {
		return Restore(ctx, db, core, llrf.CavA)
	})
	if err != nil {
		t.Fatalf("could not restore configuration: %+v", err)
	}

	if got, want := dev.Setting(0, 25), uint32(8192); got != want {
		t.Fatalf("invalid gain: got=%d, want=%d", got, want)
	}
	if got, want := dev.Setting(0, 2), uint32(49153); got != want {
		t.Fatalf("invalid phase: got=%d, want=%d", got, want)
	}
	if got := dev.Setting(0, 78); got != 0 {
		t.Fatalf("reset replayed: 0x%x", got)
	}
	if got, want := dev.Setting(0, 7), uint32(0b110000); got != want {
		t.Fatalf("invalid row 0: got=0b%06b, want=0b%06b", got, want)
	}
	if got, want := dev.Setting(0, 7+uint32(sigmap.Mps)), uint32(0b000011); got != want {
		t.Fatalf("invalid row 11: got=0b%06b, want=0b%06b", got, want)
	}
}

func TestSnapshot(t *testing.T) {
	db := openDB(t)
	core, dev := newCore(t)
	dev.SetSetting(0, 25, 8192)
	dev.SetSetting(0, 7, 0b000101)

	execs, err := fakedb.Run(context.Background(), nil, func(ctx context.Context) error {
		return Snapshot(ctx, db, core, llrf.CavA)
	})
	if err != nil {
		t.Fatalf("could not save configuration: %+v", err)
	}

	var (
		nset  int
		nrows int
		gain  = math.NaN()
		row0  = -1
	)
	for _, x := range execs {
		switch {
		case strings.HasPrefix(x.Query, "INSERT INTO settings"):
			nset++
			if x.Args[3] == "GainTetrode1" {
				gain = x.Args[4].(float64)
			}
		case strings.HasPrefix(x.Query, "INSERT INTO interlocks"):
			nrows++
			if x.Args[3] == int64(0) {
				row0 = int(x.Args[4].(int64))
			}
		}
	}

	if got, want := nset, len(core.Map().ByKind(sigmap.Setting))-3; got != want {
		t.Fatalf("invalid number of saved settings: got=%d, want=%d", got, want)
	}
	if got, want := nrows, sigmap.NumSources; got != want {
		t.Fatalf("invalid number of saved rows: got=%d, want=%d", got, want)
	}
	if gain != 0.5 {
		t.Fatalf("invalid saved gain: %v", gain)
	}
	if row0 != 0b000101 {
		t.Fatalf("invalid saved row: 0b%06b", row0)
	}
}
