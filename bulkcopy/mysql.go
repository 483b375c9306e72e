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
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

const mysqlTimeLayout = "2006-01-02 15:04:05.999999"

// MySQLCopier feeds the table to LOAD DATA LOCAL INFILE through a registered
// reader handler, on a dedicated connection holding LOCK TABLES ... WRITE.
// Rows that collide with an existing key are skipped by the server with a
// warning, as LOCAL loads imply IGNORE.
type MySQLCopier struct {
	dsn string
}

func NewMySQLCopier(dsn string) *MySQLCopier {
	return &MySQLCopier{dsn: dsn}
}

func (c *MySQLCopier) Copy(ctx context.Context, t *Table) (n int64, err error) {
	if t.Len() == 0 {
		return 0, nil
	}
	cfg, err := mysql.ParseDSN(c.dsn)
	if err != nil {
		return 0, fmt.Errorf("bulkcopy: parse dsn: %w", err)
	}
	payload := EncodeTSV(t, cfg.Loc)

	db, err := sql.Open("mysql", c.dsn)
	if err != nil {
		return 0, fmt.Errorf("bulkcopy: open: %w", err)
	}
	defer db.Close()

	conn, err := db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("bulkcopy: connect: %w", err)
	}
	defer conn.Close()

	handler := "bulkcopy_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	mysql.RegisterReaderHandler(handler, func() io.Reader { return bytes.NewReader(payload) })
	defer mysql.DeregisterReaderHandler(handler)

	bg := context.WithoutCancel(ctx)
	if _, err = conn.ExecContext(ctx, "SET autocommit=0"); err != nil {
		return 0, fmt.Errorf("bulkcopy: disable autocommit: %w", err)
	}
	if _, err = conn.ExecContext(ctx, "LOCK TABLES "+t.SQLName+" WRITE"); err != nil {
		return 0, fmt.Errorf("bulkcopy: lock %s: %w", t.Name, err)
	}
	defer func() { _, _ = conn.ExecContext(bg, "UNLOCK TABLES") }()

	query := fmt.Sprintf("LOAD DATA LOCAL INFILE 'Reader::%s' INTO TABLE %s CHARACTER SET utf8mb4 (%s)",
		handler, t.SQLName, strings.Join(t.QuotedColumns, ", "))
	res, err := conn.ExecContext(ctx, query)
	if err != nil {
		_, _ = conn.ExecContext(bg, "ROLLBACK")
		return 0, fmt.Errorf("bulkcopy: load into %s: %w", t.Name, err)
	}
	if _, err = conn.ExecContext(ctx, "COMMIT"); err != nil {
		_, _ = conn.ExecContext(bg, "ROLLBACK")
		return 0, fmt.Errorf("bulkcopy: commit: %w", err)
	}
	if n, err = res.RowsAffected(); err != nil {
		return int64(t.Len()), nil
	}
	return n, nil
}

// EncodeTSV renders rows in the format LOAD DATA reads by default: fields
// separated by tabs, lines ended by newlines, backslash escapes and \N for
// NULL. Times are written in loc.
func EncodeTSV(t *Table, loc *time.Location) []byte {
	if loc == nil {
		loc = time.UTC
	}
	var buf bytes.Buffer
	for _, row := range t.Rows {
		for i, v := range row {
			if i > 0 {
				buf.WriteByte('\t')
			}
			writeTSVValue(&buf, v, loc)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func writeTSVValue(buf *bytes.Buffer, v any, loc *time.Location) {
	switch x := v.(type) {
	case nil:
		buf.WriteString(`\N`)
	case bool:
		if x {
			buf.WriteByte('1')
		} else {
			buf.WriteByte('0')
		}
	case int64:
		buf.WriteString(strconv.FormatInt(x, 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(x, 10))
	case float64:
		buf.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	case string:
		writeEscaped(buf, x)
	case []byte:
		writeEscaped(buf, string(x))
	case time.Time:
		buf.WriteString(x.In(loc).Format(mysqlTimeLayout))
	default:
		writeEscaped(buf, fmt.Sprint(x))
	}
}

func writeEscaped(buf *bytes.Buffer, s string) {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			buf.WriteString(`\\`)
		case '\t':
			buf.WriteString(`\t`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case 0:
			buf.WriteString(`\0`)
		default:
			buf.WriteByte(c)
		}
	}
}
