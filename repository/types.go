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
	"errors"

	"github.com/tomoncle/bunrepo/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

var (
	ErrUnknownColumn            = errors.New("repository: unknown column")
	ErrInvalidSort              = errors.New("repository: invalid sort direction")
	ErrInvalidIncrement         = errors.New("repository: increment value is not numeric")
	ErrInvalidPage              = errors.New("repository: page size must be positive")
	ErrConflictRetriesExhausted = errors.New("repository: duplicate key retries exhausted")
	ErrNoPrimaryKey             = errors.New("repository: model must have exactly one primary key")
)

// Entity is implemented by bun models with a value receiver. GetID returns
// the primary key, which is the only thing identity is compared by.
type Entity[ID comparable] interface {
	GetID() ID
}

// CrudRepository defines single-row operations by identifier.
type CrudRepository[T Entity[ID], ID comparable] interface {
	// Add inserts entity and backfills database-assigned columns. A zero
	// uuid.UUID identifier is replaced with a random one first.
	Add(ctx context.Context, entity *T) (*T, error)

	// Update writes every column of the row matching entity's identifier and
	// reports whether a row was affected.
	Update(ctx context.Context, entity *T) (bool, error)

	// Delete removes the row matching entity's identifier and reports whether
	// a row was affected.
	Delete(ctx context.Context, entity *T) (bool, error)

	// Get returns nil and no error when no row matches.
	Get(ctx context.Context, id ID) (*T, error)

	GetMany(ctx context.Context, ids []ID) ([]*T, error)

	List(ctx context.Context) ([]*T, error)

	Count(ctx context.Context) (int, error)

	// Increment adds each value to its column in one UPDATE. Columns must be
	// incrementable and values numeric. A missing row is not an error.
	Increment(ctx context.Context, id ID, columns map[string]any) error
}

// TransactionRepository defines CRUD operations executed within a
// caller-owned transaction.
type TransactionRepository[T Entity[ID], ID comparable] interface {
	AddWithTx(ctx context.Context, tx bun.Tx, entity *T) (*T, error)
	UpdateWithTx(ctx context.Context, tx bun.Tx, entity *T) (bool, error)
	DeleteWithTx(ctx context.Context, tx bun.Tx, entity *T) (bool, error)
}

// PageQueryRepository defines paged listing.
type PageQueryRepository[T Entity[ID], ID comparable] interface {
	// ListPage returns page (1-based) of limit rows ordered by orderBy.
	ListPage(ctx context.Context, limit int, orderBy string, sort types.SortDirection, page int) ([]*T, error)

	// Page returns one page together with the total row count.
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)
}

// BulkRepository loads many rows at once through a bulkcopy.Copier.
type BulkRepository[T Entity[ID], ID comparable] interface {
	// BulkSave loads entities chunk by chunk. With checkOld, rows whose
	// identifier already exists are left alone. It reports whether any chunk
	// was loaded. Chunks loaded before an error stay committed.
	BulkSave(ctx context.Context, entities []*T, checkOld bool) (bool, error)
}

// Repository combines CRUD, pagination, transactional and bulk operations
// and exposes Bun query builders for advanced use cases.
type Repository[T Entity[ID], ID comparable] interface {
	CrudRepository[T, ID]
	PageQueryRepository[T, ID]
	TransactionRepository[T, ID]
	BulkRepository[T, ID]
	Table() *schema.Table
	Dialect() schema.Dialect
	NewSelect() *bun.SelectQuery
	NewInsert() *bun.InsertQuery
	NewUpdate() *bun.UpdateQuery
	NewDelete() *bun.DeleteQuery
}

// FindFunc narrows q, which is already bound to a []*T model, by filter.
type FindFunc[T any, F any] func(ctx context.Context, q *bun.SelectQuery, filter F) (*bun.SelectQuery, error)

// FilterRepository adds filter-driven lookups to Repository.
type FilterRepository[T Entity[ID], ID comparable, F any] interface {
	Repository[T, ID]

	// Find returns the rows matching filter. returnColumns restricts the
	// selected columns; none selects all of them.
	Find(ctx context.Context, filter F, returnColumns ...string) ([]*T, error)

	// GetOne returns the first matching row or nil.
	GetOne(ctx context.Context, filter F) (*T, error)
}
