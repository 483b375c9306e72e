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
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/uptrace/bun/schema"
)

var ErrUnknownColumn = errors.New("bulkcopy: unknown column")

// Table is an in-memory copy of rows ready to be loaded. Rows[i][j] holds the
// value of Columns[j] normalized to a driver value: nil, bool, int64, uint64,
// float64, string, []byte or time.Time.
type Table struct {
	// Name is the unquoted table name as bun knows it, possibly "schema.table".
	Name string
	// SQLName is Name quoted for the dialect the table was staged with.
	SQLName string
	Columns []string
	// QuotedColumns holds Columns quoted for the same dialect.
	QuotedColumns []string
	Rows          [][]any
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Ident splits Name into its schema and table parts.
func (t *Table) Ident() []string {
	return strings.Split(t.Name, ".")
}

// Stage copies entities into a Table mirroring the persisted layout of table.
// columns narrows the staged columns; by default every persisted column is
// used. A column whose value is zero in every row and which the database can
// fill itself (autoincrement, identity, or a default) is left out so the
// database assigns it. Rows that mix zero and set values of such a column
// should be split with Partition first. Nil entities are skipped.
func Stage[T any](table *schema.Table, entities []*T, columns ...string) (*Table, error) {
	fields, err := stageFields(table, columns)
	if err != nil {
		return nil, err
	}

	structs := make([]reflect.Value, 0, len(entities))
	for _, e := range entities {
		if e != nil {
			structs = append(structs, reflect.ValueOf(e).Elem())
		}
	}

	kept := fields[:0:0]
	for _, f := range fields {
		if dbFillable(f) && allZero(f, structs) {
			continue
		}
		kept = append(kept, f)
	}

	t := &Table{
		Name:          table.Name,
		SQLName:       string(table.SQLName),
		Columns:       make([]string, len(kept)),
		QuotedColumns: make([]string, len(kept)),
		Rows:          make([][]any, 0, len(structs)),
	}
	for i, f := range kept {
		t.Columns[i] = f.Name
		t.QuotedColumns[i] = string(f.SQLName)
	}
	for _, strct := range structs {
		row := make([]any, len(kept))
		for i, f := range kept {
			if row[i], err = fieldValue(f, strct); err != nil {
				return nil, fmt.Errorf("bulkcopy: column %s: %w", f.Name, err)
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// Partition groups entities by the set of database-fillable columns they
// leave zero, in order of first appearance. Staging each group on its own
// omits those columns for every row of the group, so the database fills them
// instead of receiving NULL. Nil entities are dropped.
func Partition[T any](table *schema.Table, entities []*T, columns ...string) ([][]*T, error) {
	fields, err := stageFields(table, columns)
	if err != nil {
		return nil, err
	}
	var fillable []*schema.Field
	for _, f := range fields {
		if dbFillable(f) {
			fillable = append(fillable, f)
		}
	}

	var groups [][]*T
	index := make(map[string]int)
	key := make([]byte, len(fillable))
	for _, e := range entities {
		if e == nil {
			continue
		}
		strct := reflect.ValueOf(e).Elem()
		for i, f := range fillable {
			key[i] = '1'
			if f.HasZeroValue(strct) {
				key[i] = '0'
			}
		}
		g, ok := index[string(key)]
		if !ok {
			g = len(groups)
			index[string(key)] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], e)
	}
	return groups, nil
}

func stageFields(table *schema.Table, columns []string) ([]*schema.Field, error) {
	if len(columns) == 0 {
		return table.Fields, nil
	}
	persisted := make(map[string]*schema.Field, len(table.Fields))
	for _, f := range table.Fields {
		persisted[f.Name] = f
	}
	fields := make([]*schema.Field, 0, len(columns))
	for _, c := range columns {
		f, ok := persisted[c]
		if !ok {
			return nil, fmt.Errorf("%w %q on %s", ErrUnknownColumn, c, table.Name)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func dbFillable(f *schema.Field) bool {
	return f.AutoIncrement || f.Identity || f.SQLDefault != ""
}

func allZero(f *schema.Field, structs []reflect.Value) bool {
	for _, s := range structs {
		if !f.HasZeroValue(s) {
			return false
		}
	}
	return true
}

func fieldValue(f *schema.Field, strct reflect.Value) (any, error) {
	fv, err := strct.FieldByIndexErr(f.Index)
	if err != nil {
		// nil embedded pointer
		return nil, nil
	}
	if f.NullZero && f.IsZero != nil && f.IsZero(fv) {
		return nil, nil
	}
	return normalize(fv)
}

var (
	valuerType = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
	timeType   = reflect.TypeOf(time.Time{})
)

// normalize reduces v to a value every supported driver and bun itself can
// encode. Composite values without a driver.Valuer are stored as JSON, the
// same representation bun uses for them.
func normalize(v reflect.Value) (any, error) {
	if (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface || v.Kind() == reflect.Map ||
		v.Kind() == reflect.Slice) && v.IsNil() {
		return nil, nil
	}
	if v.Type().Implements(valuerType) {
		return v.Interface().(driver.Valuer).Value()
	}
	if v.CanAddr() && v.Addr().Type().Implements(valuerType) {
		return v.Addr().Interface().(driver.Valuer).Value()
	}
	if v.Type() == timeType {
		return v.Interface(), nil
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		return normalize(v.Elem())
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.String:
		return v.String(), nil
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Bytes(), nil
		}
	}
	b, err := json.Marshal(v.Interface())
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
