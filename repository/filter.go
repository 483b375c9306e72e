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
	"fmt"

	"github.com/tomoncle/bunrepo/types"
	"github.com/uptrace/bun"
)

type filterRepositoryImpl[T Entity[ID], ID comparable, F any] struct {
	Repository[T, ID]
	find FindFunc[T, F]
}

// NewFilterRepository wraps repo with lookups driven by find. A nil find
// matches every row.
func NewFilterRepository[T Entity[ID], ID comparable, F any](repo Repository[T, ID], find FindFunc[T, F]) FilterRepository[T, ID, F] {
	if find == nil {
		find = func(_ context.Context, q *bun.SelectQuery, _ F) (*bun.SelectQuery, error) { return q, nil }
	}
	return &filterRepositoryImpl[T, ID, F]{Repository: repo, find: find}
}

// NewQueryFilterRepository returns a filter repository whose filter is a raw
// WHERE schema with bound arguments. A nil filter matches every row.
func NewQueryFilterRepository[T Entity[ID], ID comparable](repo Repository[T, ID]) FilterRepository[T, ID, *types.QueryFilter] {
	return NewFilterRepository[T, ID](repo, func(_ context.Context, q *bun.SelectQuery, filter *types.QueryFilter) (*bun.SelectQuery, error) {
		if filter == nil || filter.Schema == "" {
			return q, nil
		}
		return q.Where(filter.Schema, filter.Args...), nil
	})
}

func (r *filterRepositoryImpl[T, ID, F]) Find(ctx context.Context, filter F, returnColumns ...string) ([]*T, error) {
	return r.query(ctx, filter, 0, returnColumns)
}

func (r *filterRepositoryImpl[T, ID, F]) GetOne(ctx context.Context, filter F) (*T, error) {
	entities, err := r.query(ctx, filter, 1, nil)
	if err != nil || len(entities) == 0 {
		return nil, err
	}
	return entities[0], nil
}

func (r *filterRepositoryImpl[T, ID, F]) query(ctx context.Context, filter F, limit int, columns []string) ([]*T, error) {
	table := r.Table()
	for _, c := range columns {
		if !hasColumn(table, c) {
			return nil, fmt.Errorf("%w %q on %s", ErrUnknownColumn, c, table.Name)
		}
	}

	entities := make([]*T, 0)
	q := r.NewSelect().Model(&entities)
	if len(columns) > 0 {
		q = q.Column(columns...)
	}
	q, err := r.find(ctx, q, filter)
	if err != nil {
		return nil, fmt.Errorf("repository: find on %s: %w", table.Name, err)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err = q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("repository: find on %s: %w", table.Name, err)
	}
	return entities, nil
}
