/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package bulkcopy

import (
	"context"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/schema"
)

// Copier loads a staged table in one atomic unit over a connection it opens
// for that purpose, and reports how many rows were written. Implementations
// lock the target table for the duration of the load and leave triggers
// enabled. An empty table is a no-op.
type Copier interface {
	Copy(ctx context.Context, t *Table) (int64, error)
}

// CopierFunc adapts a function to Copier.
type CopierFunc func(ctx context.Context, t *Table) (int64, error)

func (f CopierFunc) Copy(ctx context.Context, t *Table) (int64, error) { return f(ctx, t) }

// ForDialect picks the native bulk path for db's dialect. dsn is the driver
// connection string used to open the dedicated connection; without it the
// multi-row INSERT path over db is used.
func ForDialect(db *bun.DB, dsn string) Copier {
	if dsn != "" {
		switch db.Dialect().Name() {
		case dialect.PG:
			return NewPgxCopier(dsn)
		case dialect.MySQL:
			return NewMySQLCopier(dsn)
		}
	}
	return NewInsertCopier(db)
}

// InsertCopier writes the whole table with one multi-row INSERT on a
// connection checked out of db's pool and held until the load ends.
type InsertCopier struct {
	db *bun.DB
}

func NewInsertCopier(db *bun.DB) *InsertCopier {
	return &InsertCopier{db: db}
}

func (c *InsertCopier) Copy(ctx context.Context, t *Table) (n int64, err error) {
	if t.Len() == 0 {
		return 0, nil
	}
	query := InsertSQL(c.db.Formatter(), t)

	conn, err := c.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("bulkcopy: acquire connection: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	if c.db.Dialect().Name() == dialect.SQLite {
		return copySQLite(ctx, conn, t, query)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("bulkcopy: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if c.db.Dialect().Name() == dialect.PG {
		if _, err = tx.ExecContext(ctx, "LOCK TABLE "+t.SQLName+" IN SHARE ROW EXCLUSIVE MODE"); err != nil {
			return 0, fmt.Errorf("bulkcopy: lock %s: %w", t.Name, err)
		}
	}
	if n, err = execInsert(ctx, tx, t, query); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("bulkcopy: commit: %w", err)
	}
	return n, nil
}

// copySQLite takes the database write lock up front with BEGIN IMMEDIATE,
// which database/sql transactions cannot express.
func copySQLite(ctx context.Context, conn bun.Conn, t *Table, query string) (int64, error) {
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return 0, fmt.Errorf("bulkcopy: begin: %w", err)
	}
	n, err := execInsert(ctx, conn, t, query)
	if err == nil {
		if _, err = conn.ExecContext(ctx, "COMMIT"); err != nil {
			err = fmt.Errorf("bulkcopy: commit: %w", err)
		}
	}
	if err != nil {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
		return 0, err
	}
	return n, nil
}

func execInsert(ctx context.Context, db bun.IConn, t *Table, query string) (int64, error) {
	res, err := db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("bulkcopy: insert into %s: %w", t.Name, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		return n, nil
	}
	return int64(t.Len()), nil
}

// InsertSQL renders "INSERT INTO t (cols) VALUES (...), (...)" with values
// inlined by the dialect's formatter.
func InsertSQL(fmter schema.Formatter, t *Table) string {
	b := make([]byte, 0, 64+len(t.Rows)*len(t.Columns)*16)
	b = append(b, "INSERT INTO "...)
	b = append(b, t.SQLName...)
	b = append(b, " ("...)
	b = append(b, strings.Join(t.QuotedColumns, ", ")...)
	b = append(b, ") VALUES "...)
	for i, row := range t.Rows {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '(')
		for j, v := range row {
			if j > 0 {
				b = append(b, ", "...)
			}
			b = schema.Append(fmter, b, v)
		}
		b = append(b, ')')
	}
	return string(b)
}
