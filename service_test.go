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

package bunrepo

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/bunrepo/database"
	"github.com/tomoncle/bunrepo/repository"
	"github.com/tomoncle/bunrepo/types"
	"github.com/uptrace/bun"
)

type order struct {
	bun.BaseModel `bun:"table:orders"`

	ID  int64  `bun:"id,pk,autoincrement"`
	Ref string `bun:"ref,notnull"`
	Qty int    `bun:"qty,notnull"`
}

func (o order) GetID() int64 { return o.ID }

func TestServiceWithoutDatabase(t *testing.T) {
	svc := NewService[order, int64]()
	_, err := svc.Get(context.Background(), 1)
	assert.ErrorIs(t, err, ErrDatabaseNotInitialized)
}

func TestServiceOverGlobalDatabase(t *testing.T) {
	ctx := context.Background()
	database.RegisterModel[order](1)

	cfg := &database.Config{
		ConnectionConfig:  *database.DefaultConnectionConfig(),
		DataMigrateConfig: database.DataMigrateConfig{EnableMigrateOnStartup: true},
	}
	cfg.ConnectionConfig.Type = "sqlite"
	cfg.ConnectionConfig.DBName = filepath.Join(t.TempDir(), "service")
	cfg.ConnectionConfig.HealthCheckInterval = 0
	_, err := database.InitDB(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.CloseDB() })

	svc := NewService[order, int64](repository.WithRegisterer(prometheus.NewRegistry()))

	saved, err := svc.Save(ctx, &order{Ref: "A-1", Qty: 1})
	require.NoError(t, err)
	require.NotZero(t, saved.ID)

	changed, err := svc.BulkSave(ctx, []*order{
		{ID: saved.ID, Ref: "A-1", Qty: 1},
		{ID: 100, Ref: "B-1", Qty: 2},
		{ID: 101, Ref: "B-2", Qty: 3},
	}, true)
	require.NoError(t, err)
	assert.True(t, changed)

	n, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, svc.Increment(ctx, 100, map[string]any{"qty": 10}))
	got, err := svc.Get(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 12, got.Qty)

	found, err := svc.List(ctx, types.NewQueryFilter("ref LIKE ?", "B-%"))
	require.NoError(t, err)
	assert.Len(t, found, 2)

	page, err := svc.Page(ctx, types.NewPageRequest(1, 2, nil, types.Desc("qty")))
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "B-1", page.Items[0].Ref)

	_, err = svc.UpdateBuilder().Model((*order)(nil)).Set("ref = ?", "A-2").Where("id = ?", saved.ID).Exec(ctx)
	require.NoError(t, err)
	got, err = svc.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "A-2", got.Ref)

	ok, err := svc.Delete(ctx, got)
	require.NoError(t, err)
	assert.True(t, ok)
}
