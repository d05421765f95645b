// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package confdb holds types to save and restore the configuration of
// LLRF boards: setting values and interlock matrices, stored in a MySQL
// database.
//
// The database holds two tables:
//
//	settings(datetime, flavor, cavity, name, value)
//	interlocks(datetime, flavor, cavity, source, row)
//
// A configuration is the set of rows sharing the most recent datetime
// for a given flavor and cavity.
package confdb // import "github.com/go-lpc/llrf/confdb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

var drvName = "mysql"

const timeout = 5 * time.Second

// Setting is a saved setting value.
type Setting struct {
	Name  string
	Value float64
}

// DB exposes convenience methods to save and retrieve board
// configurations.
type DB struct {
	db   *sql.DB
	name string
}

// Config describes how to reach the configuration database.
type Config struct {
	Host string // host:port of the MySQL server
	Name string // database name
	User string
	Pass string
}

// Open opens a connection to the configuration database described by cfg.
func Open(cfg Config) (*DB, error) {
	db, err := sql.Open(drvName, dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("confdb: could not open %q db: %w", cfg.Name, err)
	}

	err = ping(db, cfg.Name)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: cfg.Name}, nil
}

func dsn(cfg Config) string {
	o := mysql.NewConfig()
	o.User = cfg.User
	o.Passwd = cfg.Pass
	o.Net = "tcp"
	o.Addr = cfg.Host
	o.DBName = cfg.Name
	o.ParseTime = true
	return o.FormatDSN()
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("confdb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// LastSettings returns the most recently saved settings of cavity cav
// of a board of the given flavor.
func (db *DB) LastSettings(ctx context.Context, flavor string, cav int) ([]Setting, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT name, value FROM settings
WHERE flavor=? AND cavity=? AND datetime=(
	SELECT MAX(datetime) FROM settings WHERE flavor=? AND cavity=?
)
ORDER BY name
`,
		flavor, cav, flavor, cav,
	)
	if err != nil {
		return nil, fmt.Errorf("confdb: could not query settings: %w", err)
	}
	defer rows.Close()

	var o []Setting
	for rows.Next() {
		var s Setting
		err = rows.Scan(&s.Name, &s.Value)
		if err != nil {
			return nil, fmt.Errorf("confdb: could not scan row %d for settings: %w", len(o), err)
		}
		o = append(o, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("confdb: could not scan db for settings: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("confdb: context error while retrieving settings: %w", err)
	}

	return o, nil
}

// LastInterlocks returns the most recently saved interlock matrix of
// cavity cav, one packed row per interlock source.
func (db *DB) LastInterlocks(ctx context.Context, flavor string, cav int) ([]uint8, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT source, row FROM interlocks
WHERE flavor=? AND cavity=? AND datetime=(
	SELECT MAX(datetime) FROM interlocks WHERE flavor=? AND cavity=?
)
ORDER BY source
`,
		flavor, cav, flavor, cav,
	)
	if err != nil {
		return nil, fmt.Errorf("confdb: could not query interlocks: %w", err)
	}
	defer rows.Close()

	var o []uint8
	for rows.Next() {
		var (
			src int
			row uint8
		)
		err = rows.Scan(&src, &row)
		if err != nil {
			return nil, fmt.Errorf("confdb: could not scan interlock row: %w", err)
		}
		if src < 0 || src > 255 {
			return nil, fmt.Errorf("confdb: invalid interlock source %d", src)
		}
		if src >= len(o) {
			o = append(o, make([]uint8, src+1-len(o))...)
		}
		o[src] = row
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("confdb: could not scan db for interlocks: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("confdb: context error while retrieving interlocks: %w", err)
	}

	return o, nil
}

// Save stores a configuration of cavity cav, stamped with t.
func (db *DB) Save(ctx context.Context, t time.Time, flavor string, cav int, settings []Setting, rows []uint8) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("confdb: could not start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, s := range settings {
		_, err = tx.ExecContext(
			ctx,
			"INSERT INTO settings (datetime, flavor, cavity, name, value) VALUES (?, ?, ?, ?, ?)",
			t, flavor, cav, s.Name, s.Value,
		)
		if err != nil {
			return fmt.Errorf("confdb: could not insert setting %q: %w", s.Name, err)
		}
	}

	for src, row := range rows {
		_, err = tx.ExecContext(
			ctx,
			"INSERT INTO interlocks (datetime, flavor, cavity, source, row) VALUES (?, ?, ?, ?, ?)",
			t, flavor, cav, src, row,
		)
		if err != nil {
			return fmt.Errorf("confdb: could not insert interlock row %d: %w", src, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("confdb: could not commit configuration: %w", err)
	}
	return nil
}
