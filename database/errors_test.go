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

package database

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsDuplicateKey(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"mysql 1062", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '1' for key 'PRIMARY'"}, true},
		{"mysql other", &mysql.MySQLError{Number: 1048, Message: "Column cannot be null"}, false},
		{"pgx 23505", &pgconn.PgError{Code: "23505"}, true},
		{"pgx wrapped", fmt.Errorf("copy: %w", &pgconn.PgError{Code: "23505"}), true},
		{"pgx 23503", &pgconn.PgError{Code: "23503"}, false},
		{"lib/pq 23505", &pq.Error{Code: "23505"}, true},
		{"sqlite", errors.New("constraint failed: UNIQUE constraint failed: items.id (1555)"), true},
		{"pg text", errors.New("ERROR: duplicate key value violates unique constraint \"items_pkey\" (SQLSTATE 23505)"), true},
		{"unrelated", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDuplicateKey(tt.err))
		})
	}
}

func TestIsSqlErrorKinds(t *testing.T) {
	is, kind := IsSqlError(sql.ErrNoRows)
	assert.True(t, is)
	assert.Equal(t, NoRowsErr, kind)

	is, kind = IsSqlError(&pgconn.PgError{Code: "42P01"})
	assert.True(t, is)
	assert.Equal(t, NoTableErr, kind)

	is, kind = IsSqlError(&mysql.MySQLError{Number: 1452})
	assert.True(t, is)
	assert.Equal(t, ForeignKeyViolationErr, kind)

	is, kind = IsSqlError(errors.New("no such column: nope"))
	assert.True(t, is)
	assert.Equal(t, NoColumnErr, kind)
	assert.Equal(t, "no column", kind.String())

	is, _ = IsSqlError(errors.New("i/o timeout"))
	assert.False(t, is)
}
