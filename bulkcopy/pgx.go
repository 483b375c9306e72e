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

	"github.com/jackc/pgx/v5"
)

// PgxCopier streams rows with the PostgreSQL binary COPY protocol on a fresh
// pgx connection. The load runs in its own transaction holding a SHARE ROW
// EXCLUSIVE lock, which blocks concurrent writers but not readers. COPY fires
// row triggers.
type PgxCopier struct {
	dsn string
}

func NewPgxCopier(dsn string) *PgxCopier {
	return &PgxCopier{dsn: dsn}
}

func (c *PgxCopier) Copy(ctx context.Context, t *Table) (n int64, err error) {
	if t.Len() == 0 {
		return 0, nil
	}
	conn, err := pgx.Connect(ctx, c.dsn)
	if err != nil {
		return 0, fmt.Errorf("bulkcopy: connect: %w", err)
	}
	defer func() { _ = conn.Close(context.WithoutCancel(ctx)) }()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("bulkcopy: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	ident := pgx.Identifier(t.Ident())
	if _, err = tx.Exec(ctx, "LOCK TABLE "+ident.Sanitize()+" IN SHARE ROW EXCLUSIVE MODE"); err != nil {
		return 0, fmt.Errorf("bulkcopy: lock %s: %w", t.Name, err)
	}
	if n, err = tx.CopyFrom(ctx, ident, t.Columns, pgx.CopyFromRows(t.Rows)); err != nil {
		return 0, fmt.Errorf("bulkcopy: copy into %s: %w", t.Name, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("bulkcopy: commit: %w", err)
	}
	return n, nil
}
