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

package cache

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/bunrepo/database"
	"github.com/tomoncle/bunrepo/repository"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type sku struct {
	bun.BaseModel `bun:"table:skus"`

	Code  string `bun:"code,pk"`
	Label string `bun:"label,notnull"`
	Stock int    `bun:"stock,notnull"`
}

func (s sku) GetID() string { return s.Code }

func newCachedRepo(t *testing.T, ttl time.Duration) (*Repository[sku, string], *bun.DB) {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.NewCreateTable().Model((*sku)(nil)).Exec(context.Background())
	require.NoError(t, err)

	repo, err := repository.NewRepository[sku, string](db,
		repository.WithRegisterer(prometheus.NewRegistry()),
		repository.WithLogger(database.NopLogger{}))
	require.NoError(t, err)
	return New(repo, 16, ttl), db
}

func TestGetServesFromCache(t *testing.T) {
	ctx := context.Background()
	repo, db := newCachedRepo(t, time.Minute)
	_, err := repo.Add(ctx, &sku{Code: "A1", Label: "anchor", Stock: 1})
	require.NoError(t, err)

	first, err := repo.Get(ctx, "A1")
	require.NoError(t, err)
	require.NotNil(t, first)

	_, err = db.NewUpdate().Model((*sku)(nil)).Set("label = ?", "changed behind").Where("code = ?", "A1").Exec(ctx)
	require.NoError(t, err)

	second, err := repo.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "anchor", second.Label)

	second.Label = "mutated by caller"
	third, err := repo.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "anchor", third.Label)

	hits, misses, size := repo.Stats()
	assert.Equal(t, uint64(2), hits)
	assert.Equal(t, uint64(1), misses)
	assert.Equal(t, 1, size)
}

func TestMissingRowsAreNotCached(t *testing.T) {
	ctx := context.Background()
	repo, _ := newCachedRepo(t, time.Minute)

	got, err := repo.Get(ctx, "none")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = repo.Add(ctx, &sku{Code: "none", Label: "now here"})
	require.NoError(t, err)
	got, err = repo.Get(ctx, "none")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "now here", got.Label)
}

func TestWritesEvict(t *testing.T) {
	ctx := context.Background()
	repo, _ := newCachedRepo(t, 0)
	_, err := repo.Add(ctx, &sku{Code: "B2", Label: "bracket", Stock: 4})
	require.NoError(t, err)

	cached, err := repo.Get(ctx, "B2")
	require.NoError(t, err)

	require.NoError(t, repo.Increment(ctx, "B2", map[string]any{"stock": 3}))
	got, err := repo.Get(ctx, "B2")
	require.NoError(t, err)
	assert.Equal(t, 7, got.Stock)

	got.Label = "bracket v2"
	ok, err := repo.Update(ctx, got)
	require.NoError(t, err)
	require.True(t, ok)
	got, err = repo.Get(ctx, "B2")
	require.NoError(t, err)
	assert.Equal(t, "bracket v2", got.Label)

	ok, err = repo.Delete(ctx, cached)
	require.NoError(t, err)
	require.True(t, ok)
	got, err = repo.Get(ctx, "B2")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBulkSavePurges(t *testing.T) {
	ctx := context.Background()
	repo, _ := newCachedRepo(t, 0)
	_, err := repo.Add(ctx, &sku{Code: "C3", Label: "clip"})
	require.NoError(t, err)
	_, err = repo.Get(ctx, "C3")
	require.NoError(t, err)

	changed, err := repo.BulkSave(ctx, []*sku{{Code: "C3", Label: "clip"}, {Code: "D4", Label: "dowel"}}, true)
	require.NoError(t, err)
	assert.True(t, changed)

	_, _, size := repo.Stats()
	assert.Zero(t, size)
}
