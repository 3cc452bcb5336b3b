// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakedb holds types to fake an in-memory DB.
package fakedb // import "github.com/go-daq/readout/internal/fakedb"

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"sync"
)

var query struct {
	mu   sync.Mutex
	rows Rows
}

// Run installs rows as the reply to every query issued from f.
func Run(ctx context.Context, rows Rows, f func(ctx context.Context) error) error {
	query.mu.Lock()
	defer query.mu.Unlock()
	query.rows = rows

	return f(ctx)
}

func init() {
	sql.Register("fakedb", &Driver{})
}

// Driver is the fake database/sql driver.
type Driver struct{}

// Open returns a new connection to the database.
func (drv *Driver) Open(name string) (driver.Conn, error) {
	return &Conn{}, nil
}

// Conn is a fake connection: every statement succeeds.
type Conn struct{}

// Prepare returns a prepared statement, bound to this connection.
func (c *Conn) Prepare(q string) (driver.Stmt, error) {
	return &Stmt{}, nil
}

// Close marks this connection as no longer in use.
func (c *Conn) Close() error { return nil }

// Begin is not supported: it returns driver.ErrSkip.
func (c *Conn) Begin() (driver.Tx, error) {
	return nil, driver.ErrSkip
}

// Stmt is a fake prepared statement.
type Stmt struct{}

// Close closes the statement.
func (st *Stmt) Close() error { return nil }

// NumInput returns the number of placeholder parameters.
func (st *Stmt) NumInput() int { return -1 }

// Exec pretends to execute a statement.
func (st *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return result{}, nil
}

// Query executes a query returning the rows installed by Run.
func (st *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	rows := query.rows
	return &rows, nil
}

type result struct{}

func (result) LastInsertId() (int64, error) { return 0, nil }
func (result) RowsAffected() (int64, error) { return 1, nil }

// Rows is the canned reply to a query.
type Rows struct {
	Names  []string
	Values [][]driver.Value

	pos int
}

// Columns returns the names of the columns.
func (rows *Rows) Columns() []string { return rows.Names }

// Close closes the rows iterator.
func (rows *Rows) Close() error { return nil }

// Next populates dest with the next row of data.
func (rows *Rows) Next(dest []driver.Value) error {
	if rows.pos >= len(rows.Values) {
		return io.EOF
	}
	copy(dest, rows.Values[rows.pos])
	rows.pos++
	return nil
}
