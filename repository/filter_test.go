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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/bunrepo/types"
	"github.com/uptrace/bun"
)

type stockFilter struct {
	MinStock int
	Prefix   string
}

func findByStock(_ context.Context, q *bun.SelectQuery, f stockFilter) (*bun.SelectQuery, error) {
	if f.MinStock < 0 {
		return nil, errors.New("negative stock")
	}
	q = q.Where("stock >= ?", f.MinStock)
	if f.Prefix != "" {
		q = q.Where("name LIKE ?", f.Prefix+"%")
	}
	return q.Order("name"), nil
}

func TestFilterRepositoryFind(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db,
		&product{ID: 1, Name: "bolt", Stock: 5, Price: 0.1},
		&product{ID: 2, Name: "nut", Stock: 1, Price: 0.05},
		&product{ID: 3, Name: "bracket", Stock: 9, Price: 2},
	)
	repo := NewFilterRepository[product, int64](newProductRepo(t, db), findByStock)

	found, err := repo.Find(ctx, stockFilter{MinStock: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"bolt", "bracket"}, names(found))

	narrow, err := repo.Find(ctx, stockFilter{MinStock: 0, Prefix: "br"}, "id", "name")
	require.NoError(t, err)
	require.Len(t, narrow, 1)
	assert.Equal(t, int64(3), narrow[0].ID)
	assert.Zero(t, narrow[0].Stock)

	one, err := repo.GetOne(ctx, stockFilter{MinStock: 2})
	require.NoError(t, err)
	require.NotNil(t, one)
	assert.Equal(t, "bolt", one.Name)

	none, err := repo.GetOne(ctx, stockFilter{MinStock: 100})
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = repo.Find(ctx, stockFilter{}, "id", "secret")
	assert.ErrorIs(t, err, ErrUnknownColumn)

	_, err = repo.Find(ctx, stockFilter{MinStock: -1})
	assert.ErrorContains(t, err, "negative stock")

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestQueryFilterRepository(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, &product{ID: 1, Name: "bolt", Stock: 5}, &product{ID: 2, Name: "nut", Stock: 1})
	repo := NewQueryFilterRepository[product, int64](newProductRepo(t, db))

	found, err := repo.Find(ctx, types.NewQueryFilter("name = ?", "nut"))
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(found))

	all, err := repo.Find(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
