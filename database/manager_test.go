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
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type widget struct {
	bun.BaseModel `bun:"table:widgets"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name,notnull"`
}

type gadget struct {
	bun.BaseModel `bun:"table:gadgets"`

	ID string `bun:"id,pk"`
}

func TestBuildDSN(t *testing.T) {
	dsn, err := BuildDSN(&ConnectionConfig{
		Type: "postgresql", Host: "db", Port: 5432, Username: "app", Password: "p@ss",
		DBName: "inventory", ConnectTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "postgres://app:p%40ss@db:5432/inventory?connect_timeout=5&sslmode=disable", dsn)

	dsn, err = BuildDSN(&ConnectionConfig{Type: "mysql", Host: "db", Port: 3306, Username: "root", DBName: "inv"})
	require.NoError(t, err)
	assert.Contains(t, dsn, "root:@tcp(db:3306)/inv?charset=utf8mb4&parseTime=True")

	dsn, err = BuildDSN(&ConnectionConfig{Type: "sqlite3", DBName: "local"})
	require.NoError(t, err)
	assert.Equal(t, "local.db", dsn)

	_, err = BuildDSN(&ConnectionConfig{Type: "oracle"})
	assert.Error(t, err)
}

func TestInitDBSqliteCreatesRegisteredTables(t *testing.T) {
	defaultRegistry.reset()
	t.Cleanup(defaultRegistry.reset)
	RegisterModel[gadget](2)
	RegisterModel[widget](1)

	cfg := &Config{
		ConnectionConfig: *DefaultConnectionConfig(),
		DataMigrateConfig: DataMigrateConfig{EnableMigrateOnStartup: true},
	}
	cfg.ConnectionConfig.Type = "sqlite"
	cfg.ConnectionConfig.DBName = filepath.Join(t.TempDir(), "init")
	cfg.ConnectionConfig.HealthCheckInterval = 0

	db, err := InitDB(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = CloseDB() })

	assert.Same(t, db, GetDB())
	assert.Equal(t, cfg.ConnectionConfig.DBName+".db", GetDSN())
	assert.Equal(t, DefaultBulkConfig(), GetBulkConfig())

	ctx := context.Background()
	_, err = db.NewInsert().Model(&widget{Name: "a"}).Exec(ctx)
	require.NoError(t, err)
	_, err = db.NewInsert().Model(&gadget{ID: "g1"}).Exec(ctx)
	require.NoError(t, err)

	status := GetHealthStatus(ctx)
	assert.True(t, status.Healthy)
	assert.GreaterOrEqual(t, GetDatabaseStats().OpenConns, 1)
}

func TestRegisteredModelsOrderedByPriority(t *testing.T) {
	defaultRegistry.reset()
	t.Cleanup(defaultRegistry.reset)
	RegisterModel[gadget](5)
	RegisterModel[widget](1)

	instances := RegisteredModelInstances()
	require.Len(t, instances, 2)
	assert.IsType(t, (*widget)(nil), instances[0])
	assert.IsType(t, (*gadget)(nil), instances[1])
}

func TestCreateFromConfigRejectsUnknownType(t *testing.T) {
	_, err := NewDatabaseFactory().CreateFromConfig(&ConnectionConfig{Type: "oracle"})
	assert.ErrorContains(t, err, "unsupported database type")
}

func TestDefaultLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})

	log := NewLogrusLogger(l)
	log.Info("chunk loaded", "table", "items", "rows", 3, "dangling")
	out := buf.String()
	assert.Contains(t, out, "chunk loaded")
	assert.Contains(t, out, "table=items")
	assert.Contains(t, out, "rows=3")
	assert.Contains(t, out, "!BADKEY=dangling")

	buf.Reset()
	log.SetLevel(LogLevelError)
	log.Warn("hidden")
	assert.Empty(t, buf.String())
}

func TestSlowQueryHookLogsThroughLogger(t *testing.T) {
	rec := &recordingLogger{}
	hook := NewSlowQueryHook(time.Millisecond, rec)
	hook.AfterQuery(context.Background(), &bun.QueryEvent{
		Query:     "SELECT 1",
		StartTime: time.Now().Add(-time.Second),
	})
	require.Len(t, rec.warns, 1)
	assert.Equal(t, "Slow query detected", rec.warns[0])

	hook.AfterQuery(context.Background(), &bun.QueryEvent{Query: "SELECT 1", StartTime: time.Now()})
	assert.Len(t, rec.warns, 1)
}

type recordingLogger struct {
	NopLogger
	warns []string
}

func (r *recordingLogger) Warn(msg string, _ ...interface{}) { r.warns = append(r.warns, msg) }
