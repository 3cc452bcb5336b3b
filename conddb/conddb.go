// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb holds types to record run conditions of the readout
// pipelines: run numbers, their state, and the per-run counters.
package conddb // import "github.com/go-daq/readout/conddb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const host = "localhost"

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// RunState tracks where a run is in its lifecycle.
type RunState string

const (
	RunStarted RunState = "started"
	RunStopped RunState = "stopped"
)

// Run is one row of the runs table.
type Run struct {
	Number   uint32
	State    RunState
	Started  time.Time
	Stopped  time.Time
	Payloads int64
	Requests int64
}

// DB exposes convenience methods to record and retrieve run
// conditions from the readout database.
type DB struct {
	db   *sql.DB
	name string
}

// Open opens a connection to the readout database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q: %w", dbname, err)
	}
	return nil
}

// Close closes the connection to the database.
func (db *DB) Close() error { return db.db.Close() }

// LastRun retrieves the most recent run number.
func (db *DB) LastRun(ctx context.Context) (uint32, error) {
	rows, err := db.db.QueryContext(ctx,
		`select number from runs order by number desc limit 1`,
	)
	if err != nil {
		return 0, fmt.Errorf("conddb: could not query last run: %w", err)
	}
	defer rows.Close()

	var run uint32
	for rows.Next() {
		err = rows.Scan(&run)
		if err != nil {
			return 0, fmt.Errorf("conddb: could not scan last run: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("conddb: could not iterate runs: %w", err)
	}

	return run, nil
}

// BeginRun records the start of run number.
func (db *DB) BeginRun(ctx context.Context, number uint32) error {
	_, err := db.db.ExecContext(ctx,
		`insert into runs (number, state, started) values (?, ?, ?)`,
		number, RunStarted, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("conddb: could not record start of run %d: %w", number, err)
	}
	return nil
}

// EndRun records the end of run number together with its counters.
func (db *DB) EndRun(ctx context.Context, number uint32, payloads, requests int64) error {
	_, err := db.db.ExecContext(ctx,
		`update runs set state = ?, stopped = ?, payloads = ?, requests = ? where number = ?`,
		RunStopped, time.Now().UTC(), payloads, requests, number,
	)
	if err != nil {
		return fmt.Errorf("conddb: could not record end of run %d: %w", number, err)
	}
	return nil
}
