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
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/bunrepo/bulkcopy"
	"github.com/tomoncle/bunrepo/database"
	"github.com/uptrace/bun"
)

// countingCopier forwards to next and records the staged tables it saw.
type countingCopier struct {
	next   bulkcopy.Copier
	tables []*bulkcopy.Table
}

func (c *countingCopier) Copy(ctx context.Context, t *bulkcopy.Table) (int64, error) {
	c.tables = append(c.tables, t)
	return c.next.Copy(ctx, t)
}

func (c *countingCopier) calls() int { return len(c.tables) }

func fastBulk(chunkSize int) database.BulkConfig {
	return database.BulkConfig{
		ChunkSize:       chunkSize,
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func productsWithIDs(ids ...int64) []*product {
	out := make([]*product, len(ids))
	for i, id := range ids {
		out[i] = &product{ID: id, Name: fmt.Sprintf("new-%d", id), Stock: int(id)}
	}
	return out
}

func newBulkRepo(t *testing.T, db *bun.DB, chunkSize int) (*baseRepositoryImpl[product, int64], *countingCopier) {
	t.Helper()
	copier := &countingCopier{next: bulkcopy.NewInsertCopier(db)}
	repo := newProductRepo(t, db, WithBulkConfig(fastBulk(chunkSize)), WithCopier(copier))
	return repo, copier
}

func TestBulkSaveLoadsOnlyTheDelta(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, &product{ID: 2, Name: "existing"}, &product{ID: 5, Name: "existing"})
	repo, copier := newBulkRepo(t, db, 3)

	changed, err := repo.BulkSave(ctx, productsWithIDs(1, 2, 3, 4, 5, 6, 7), true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 3, copier.calls())
	assert.Equal(t, 2, copier.tables[0].Len())
	assert.Equal(t, 2, copier.tables[1].Len())
	assert.Equal(t, 1, copier.tables[2].Len())

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 7)

	kept, err := repo.Get(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "existing", kept.Name)

	assert.Equal(t, float64(5), testutil.ToFloat64(repo.metrics.rows.WithLabelValues("products")))
}

func TestBulkSaveSkipsWhenEverythingExists(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo, copier := newBulkRepo(t, db, 2)

	changed, err := repo.BulkSave(ctx, productsWithIDs(1, 2, 3), true)
	require.NoError(t, err)
	require.True(t, changed)
	calls := copier.calls()

	changed, err = repo.BulkSave(ctx, productsWithIDs(1, 2, 3), true)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, calls, copier.calls())
	assert.Equal(t, float64(2), testutil.ToFloat64(repo.metrics.chunks.WithLabelValues("products", "skipped")))
}

func TestBulkSaveResultIsOrOfChunks(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, &product{ID: 1, Name: "existing"}, &product{ID: 2, Name: "existing"})
	repo, copier := newBulkRepo(t, db, 2)

	changed, err := repo.BulkSave(ctx, productsWithIDs(1, 2, 3, 4), true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, copier.calls())

	changed, err = repo.BulkSave(ctx, nil, true)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestBulkSaveDropsRepeatedIdentifiers(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo, copier := newBulkRepo(t, db, 2)

	input := productsWithIDs(1, 1, 2, 2)
	input = append(input, nil, &product{Name: "auto-a"}, &product{Name: "auto-b"})
	changed, err := repo.BulkSave(ctx, input, false)
	require.NoError(t, err)
	assert.True(t, changed)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	last := copier.tables[len(copier.tables)-1]
	assert.NotContains(t, last.Columns, "id")
}

func TestBulkSaveRetriesDuplicateKeyWithFreshSnapshot(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, &product{ID: 2, Name: "existing"})
	repo, copier := newBulkRepo(t, db, 10)

	changed, err := repo.BulkSave(ctx, productsWithIDs(1, 2, 3), false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, copier.calls())

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3}, ids(all))
	assert.Equal(t, float64(1), testutil.ToFloat64(repo.metrics.retries.WithLabelValues("products")))
}

func TestBulkSaveConflictRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	calls := 0
	conflict := bulkcopy.CopierFunc(func(context.Context, *bulkcopy.Table) (int64, error) {
		calls++
		return 0, &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
	})
	repo := newProductRepo(t, db, WithBulkConfig(fastBulk(10)), WithCopier(conflict))

	changed, err := repo.BulkSave(ctx, productsWithIDs(1, 2), true)
	assert.False(t, changed)
	require.ErrorIs(t, err, ErrConflictRetriesExhausted)
	var pgErr *pgconn.PgError
	assert.ErrorAs(t, err, &pgErr)
	assert.Equal(t, 3, calls)
}

func TestBulkSaveStopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	boom := errors.New("boom")
	insert := bulkcopy.NewInsertCopier(db)
	calls := 0
	flaky := bulkcopy.CopierFunc(func(ctx context.Context, t *bulkcopy.Table) (int64, error) {
		calls++
		if calls == 2 {
			return 0, boom
		}
		return insert.Copy(ctx, t)
	})
	repo := newProductRepo(t, db, WithBulkConfig(fastBulk(1)), WithCopier(flaky))

	changed, err := repo.BulkSave(ctx, productsWithIDs(1, 2, 3), true)
	assert.True(t, changed)
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrConflictRetriesExhausted)
	assert.Equal(t, 2, calls)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBulkSaveHonoursCancellation(t *testing.T) {
	db := newTestDB(t)
	repo, copier := newBulkRepo(t, db, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	changed, err := repo.BulkSave(ctx, productsWithIDs(1), true)
	assert.False(t, changed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, copier.calls())
}

func TestBulkSaveStageColumns(t *testing.T) {
	ctx := context.Background()
	var staged *bulkcopy.Table
	record := bulkcopy.CopierFunc(func(_ context.Context, t *bulkcopy.Table) (int64, error) {
		staged = t
		return int64(t.Len()), nil
	})
	repo := newProductRepo(t, newTestDB(t), WithStageColumns("id", "name"), WithCopier(record))

	changed, err := repo.BulkSave(ctx, productsWithIDs(8), true)
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotNil(t, staged)
	assert.Equal(t, []string{"id", "name"}, staged.Columns)
	assert.Equal(t, [][]any{{int64(8), "new-8"}}, staged.Rows)
}

type event struct {
	bun.BaseModel `bun:"table:events"`

	ID   int64     `bun:"id,pk,autoincrement"`
	Name string    `bun:"name,notnull"`
	At   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (e event) GetID() int64 { return e.ID }

func TestBulkSaveMixedDefaultsInOneChunk(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	_, err := db.NewCreateTable().Model((*event)(nil)).Exec(ctx)
	require.NoError(t, err)

	copier := &countingCopier{next: bulkcopy.NewInsertCopier(db)}
	repo, err := newBaseRepository[event, int64](db, testOptions(WithBulkConfig(fastBulk(10)), WithCopier(copier))...)
	require.NoError(t, err)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	changed, err := repo.BulkSave(ctx, []*event{
		{Name: "a", At: at},
		{Name: "b"},
		{ID: 10, Name: "c"},
		{ID: 11, Name: "d", At: at},
		{Name: "e"},
	}, true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 4, copier.calls())
	assert.Equal(t, float64(5), testutil.ToFloat64(repo.metrics.rows.WithLabelValues("events")))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for _, e := range all {
		assert.False(t, e.At.IsZero(), e.Name)
		if e.Name == "a" || e.Name == "d" {
			assert.True(t, at.Equal(e.At), e.Name)
		}
	}
}
