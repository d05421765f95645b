// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package confdb

import (
	"context"
	"fmt"
	"time"

	"github.com/go-lpc/llrf"
	"github.com/go-lpc/llrf/sigmap"
)

// Snapshot reads the current configuration of cavity cav from core and
// stores it in db.
// Pulse-like settings (resets) are not saved.
func Snapshot(ctx context.Context, db *DB, core *llrf.Core, cav llrf.Cavity) error {
	var settings []Setting
	for _, d := range core.Map().ByKind(sigmap.Setting) {
		if isPulse(d.Name) {
			continue
		}
		v, err := core.Read(d.Name, cav)
		if err != nil {
			return fmt.Errorf("confdb: could not read %q: %w", d.Name, err)
		}
		settings = append(settings, Setting{Name: d.Name, Value: v.Float})
	}

	rows, err := core.Rows(cav)
	if err != nil {
		return fmt.Errorf("confdb: could not read interlock matrix: %w", err)
	}

	return db.Save(ctx, time.Now().UTC(), core.Flavor().String(), int(cav), settings, rows[:])
}

// Restore replays the last configuration of cavity cav saved in db
// into core.
// Settings unknown to the signal map of core are skipped.
func Restore(ctx context.Context, db *DB, core *llrf.Core, cav llrf.Cavity) error {
	flavor := core.Flavor().String()

	settings, err := db.LastSettings(ctx, flavor, int(cav))
	if err != nil {
		return err
	}
	for _, s := range settings {
		if isPulse(s.Name) {
			continue
		}
		err = core.Write(s.Name, cav, s.Value)
		switch {
		case err == nil:
		case llrf.KindOf(err) == llrf.UnknownSignal:
			continue
		default:
			return fmt.Errorf("confdb: could not restore %q: %w", s.Name, err)
		}
	}

	saved, err := db.LastInterlocks(ctx, flavor, int(cav))
	if err != nil {
		return err
	}
	if len(saved) == 0 {
		return nil
	}
	if len(saved) > sigmap.NumSources {
		return fmt.Errorf("confdb: invalid interlock matrix (%d rows)", len(saved))
	}

	rows, err := core.Rows(cav)
	if err != nil {
		return fmt.Errorf("confdb: could not read interlock matrix: %w", err)
	}
	copy(rows[:], saved)
	err = core.Restore(cav, rows)
	if err != nil {
		return fmt.Errorf("confdb: could not restore interlock matrix: %w", err)
	}
	return nil
}

func isPulse(name string) bool {
	switch name {
	case "ResetTuning", "ResetManualInterlock", "ResetInterlocksCav":
		return true
	}
	return false
}
