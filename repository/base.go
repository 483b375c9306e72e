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

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tomoncle/bunrepo/bulkcopy"
	"github.com/tomoncle/bunrepo/database"
	"github.com/tomoncle/bunrepo/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

var uuidType = reflect.TypeOf(uuid.UUID{})

type baseRepositoryImpl[T Entity[ID], ID comparable] struct {
	db            *bun.DB
	table         *schema.Table
	pk            *schema.Field
	sortable      map[string]struct{}
	incrementable map[string]struct{}
	stageColumns  []string
	bulk          database.BulkConfig
	copier        bulkcopy.Copier
	logger        database.Logger
	metrics       *bulkMetrics
}

// NewRepository returns a generic repository for model T backed by db. The
// model must map to a table with exactly one primary key column.
//
// Without WithCopier, BulkSave uses the native bulk path of the dialect
// (COPY on Postgres, LOAD DATA on MySQL) on a separate connection when db is
// the connection opened by database.InitDB, whose DSN is known. Any other db
// loads through multi-row INSERTs on a connection taken from its own pool.
func NewRepository[T Entity[ID], ID comparable](db *bun.DB, opts ...Option) (Repository[T, ID], error) {
	return newBaseRepository[T, ID](db, opts...)
}

func newBaseRepository[T Entity[ID], ID comparable](db *bun.DB, opts ...Option) (*baseRepositoryImpl[T, ID], error) {
	if db == nil {
		return nil, errors.New("repository: nil database")
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	table := db.Table(reflect.TypeFor[T]())
	if len(table.PKs) != 1 {
		return nil, fmt.Errorf("%w: %s has %d", ErrNoPrimaryKey, table.Name, len(table.PKs))
	}

	r := &baseRepositoryImpl[T, ID]{
		db:           db,
		table:        table,
		pk:           table.PKs[0],
		stageColumns: o.stageColumns,
		bulk:         o.bulk.WithDefaults(),
		copier:       o.copier,
		logger:       o.logger,
	}

	var err error
	if r.sortable, err = columnSet(table, o.sortable, table.Fields); err != nil {
		return nil, err
	}
	if r.incrementable, err = columnSet(table, o.incrementable, numericFields(table)); err != nil {
		return nil, err
	}
	if _, err = columnSet(table, o.stageColumns, nil); err != nil {
		return nil, err
	}

	if r.copier == nil {
		r.copier = defaultCopier(db)
	}
	if r.logger == nil {
		r.logger = database.GetLogger()
	}
	reg := o.registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r.metrics = newBulkMetrics(reg)
	return r, nil
}

func defaultCopier(db *bun.DB) bulkcopy.Copier {
	if db == database.GetDB() {
		return bulkcopy.ForDialect(db, database.GetDSN())
	}
	return bulkcopy.NewInsertCopier(db)
}

// columnSet checks names against the persisted columns of table. With no
// names, the set is built from fallback.
func columnSet(table *schema.Table, names []string, fallback []*schema.Field) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	if len(names) == 0 {
		for _, f := range fallback {
			set[f.Name] = struct{}{}
		}
		return set, nil
	}
	for _, name := range names {
		if !hasColumn(table, name) {
			return nil, fmt.Errorf("%w %q on %s", ErrUnknownColumn, name, table.Name)
		}
		set[name] = struct{}{}
	}
	return set, nil
}

func hasColumn(table *schema.Table, name string) bool {
	for _, f := range table.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func numericFields(table *schema.Table) []*schema.Field {
	var fields []*schema.Field
	for _, f := range table.DataFields {
		if isNumericKind(f.IndirectType.Kind()) {
			fields = append(fields, f)
		}
	}
	return fields
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func (r *baseRepositoryImpl[T, ID]) Table() *schema.Table { return r.table }

func (r *baseRepositoryImpl[T, ID]) Dialect() schema.Dialect { return r.db.Dialect() }

func (r *baseRepositoryImpl[T, ID]) NewSelect() *bun.SelectQuery { return r.db.NewSelect() }

func (r *baseRepositoryImpl[T, ID]) NewInsert() *bun.InsertQuery { return r.db.NewInsert() }

func (r *baseRepositoryImpl[T, ID]) NewUpdate() *bun.UpdateQuery { return r.db.NewUpdate() }

func (r *baseRepositoryImpl[T, ID]) NewDelete() *bun.DeleteQuery { return r.db.NewDelete() }

func (r *baseRepositoryImpl[T, ID]) Add(ctx context.Context, entity *T) (*T, error) {
	return r.add(ctx, r.db, entity)
}

func (r *baseRepositoryImpl[T, ID]) AddWithTx(ctx context.Context, tx bun.Tx, entity *T) (*T, error) {
	return r.add(ctx, tx, entity)
}

func (r *baseRepositoryImpl[T, ID]) add(ctx context.Context, db bun.IDB, entity *T) (*T, error) {
	if entity == nil {
		return nil, errors.New("repository: nil entity")
	}
	r.assignUUID(entity)
	if _, err := db.NewInsert().Model(entity).Exec(ctx); err != nil {
		return nil, fmt.Errorf("repository: insert into %s: %w", r.table.Name, err)
	}
	return entity, nil
}

// assignUUID fills a zero uuid.UUID primary key with a random one.
func (r *baseRepositoryImpl[T, ID]) assignUUID(entity *T) {
	if r.pk.StructField.Type != uuidType {
		return
	}
	fv := r.pk.Value(reflect.ValueOf(entity).Elem())
	if fv.Interface().(uuid.UUID) == uuid.Nil {
		fv.Set(reflect.ValueOf(uuid.New()))
	}
}

func (r *baseRepositoryImpl[T, ID]) Update(ctx context.Context, entity *T) (bool, error) {
	return r.update(ctx, r.db, entity)
}

func (r *baseRepositoryImpl[T, ID]) UpdateWithTx(ctx context.Context, tx bun.Tx, entity *T) (bool, error) {
	return r.update(ctx, tx, entity)
}

func (r *baseRepositoryImpl[T, ID]) update(ctx context.Context, db bun.IDB, entity *T) (bool, error) {
	if entity == nil {
		return false, errors.New("repository: nil entity")
	}
	res, err := db.NewUpdate().Model(entity).WherePK().Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("repository: update %s: %w", r.table.Name, err)
	}
	return affected(res), nil
}

func (r *baseRepositoryImpl[T, ID]) Delete(ctx context.Context, entity *T) (bool, error) {
	return r.delete(ctx, r.db, entity)
}

func (r *baseRepositoryImpl[T, ID]) DeleteWithTx(ctx context.Context, tx bun.Tx, entity *T) (bool, error) {
	return r.delete(ctx, tx, entity)
}

func (r *baseRepositoryImpl[T, ID]) delete(ctx context.Context, db bun.IDB, entity *T) (bool, error) {
	if entity == nil {
		return false, errors.New("repository: nil entity")
	}
	res, err := db.NewDelete().Model(entity).WherePK().Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("repository: delete from %s: %w", r.table.Name, err)
	}
	return affected(res), nil
}

func affected(res sql.Result) bool {
	n, err := res.RowsAffected()
	return err == nil && n > 0
}

func (r *baseRepositoryImpl[T, ID]) Get(ctx context.Context, id ID) (*T, error) {
	entity := new(T)
	err := r.db.NewSelect().Model(entity).Where("? = ?", bun.Ident(r.pk.Name), id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get from %s: %w", r.table.Name, err)
	}
	return entity, nil
}

func (r *baseRepositoryImpl[T, ID]) GetMany(ctx context.Context, ids []ID) ([]*T, error) {
	entities := make([]*T, 0, len(ids))
	if len(ids) == 0 {
		return entities, nil
	}
	err := r.db.NewSelect().Model(&entities).Where("? IN (?)", bun.Ident(r.pk.Name), bun.In(ids)).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: get many from %s: %w", r.table.Name, err)
	}
	return entities, nil
}

func (r *baseRepositoryImpl[T, ID]) List(ctx context.Context) ([]*T, error) {
	entities := make([]*T, 0)
	if err := r.db.NewSelect().Model(&entities).Scan(ctx); err != nil {
		return nil, fmt.Errorf("repository: list %s: %w", r.table.Name, err)
	}
	return entities, nil
}

func (r *baseRepositoryImpl[T, ID]) Count(ctx context.Context) (int, error) {
	n, err := r.db.NewSelect().Model((*T)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("repository: count %s: %w", r.table.Name, err)
	}
	return n, nil
}

func (r *baseRepositoryImpl[T, ID]) ListPage(ctx context.Context, limit int, orderBy string, direction types.SortDirection, page int) ([]*T, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPage, limit)
	}
	order := types.Order{Column: orderBy, Direction: direction}
	if err := r.checkOrder(order); err != nil {
		return nil, err
	}
	entities := make([]*T, 0, limit)
	err := r.db.NewSelect().
		Model(&entities).
		OrderExpr("? ?", bun.Ident(order.Column), bun.Safe(order.Direction.String())).
		Offset(types.Offset(limit, page)).
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: list page of %s: %w", r.table.Name, err)
	}
	return entities, nil
}

func (r *baseRepositoryImpl[T, ID]) checkOrder(order types.Order) error {
	if _, ok := r.sortable[order.Column]; !ok {
		return fmt.Errorf("%w %q: not sortable on %s", ErrUnknownColumn, order.Column, r.table.Name)
	}
	if !order.Direction.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidSort, order.Direction.Number())
	}
	return nil
}

func (r *baseRepositoryImpl[T, ID]) Page(ctx context.Context, pageRequest *types.PageRequest) (*types.Pagination[T], error) {
	if pageRequest == nil {
		pageRequest = types.NewDefaultPageRequest(1, types.DefaultPageSize)
	}
	for _, order := range pageRequest.GetOrders() {
		if err := r.checkOrder(order); err != nil {
			return nil, err
		}
	}

	var entities []*T
	query := r.db.NewSelect().Model(&entities)
	if filter := pageRequest.GetFilter(); filter != nil && filter.Schema != "" {
		query = query.Where(filter.Schema, filter.Args...)
	}
	pagination := types.NewDefaultPagination[T](pageRequest.GetPage(), pageRequest.GetPageSize())
	total, err := query.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: count %s: %w", r.table.Name, err)
	}
	if total == 0 {
		return pagination, nil
	}
	for _, order := range pageRequest.GetOrders() {
		query = query.OrderExpr("? ?", bun.Ident(order.Column), bun.Safe(order.Direction.String()))
	}
	err = query.
		Offset(pageRequest.GetOffset()).
		Limit(pageRequest.GetPageSize()).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: page %s: %w", r.table.Name, err)
	}
	pagination.Total = total
	pagination.Items = entities
	return pagination, nil
}

func (r *baseRepositoryImpl[T, ID]) Increment(ctx context.Context, id ID, columns map[string]any) error {
	if len(columns) == 0 {
		return nil
	}
	names := make([]string, 0, len(columns))
	for name, v := range columns {
		if _, ok := r.incrementable[name]; !ok {
			return fmt.Errorf("%w %q: not incrementable on %s", ErrUnknownColumn, name, r.table.Name)
		}
		if v == nil || !isNumericKind(reflect.TypeOf(v).Kind()) {
			return fmt.Errorf("%w: %s=%v", ErrInvalidIncrement, name, v)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	query := r.db.NewUpdate().Model((*T)(nil))
	for _, name := range names {
		query = query.Set("? = ? + ?", bun.Ident(name), bun.Ident(name), columns[name])
	}
	if _, err := query.Where("? = ?", bun.Ident(r.pk.Name), id).Exec(ctx); err != nil {
		return fmt.Errorf("repository: increment %s: %w", r.table.Name, err)
	}
	return nil
}
