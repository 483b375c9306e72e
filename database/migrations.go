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
	"context"
	"fmt"
	"os"

	"github.com/uptrace/bun"
)

// MigrationManager creates the tables of registered models. It does not
// alter existing tables.
type MigrationManager struct {
	db     *bun.DB
	logger Logger
}

func NewMigrationManager(db *bun.DB, logger Logger) *MigrationManager {
	if logger == nil {
		logger = GetLogger()
	}
	return &MigrationManager{db: db, logger: logger}
}

// RunMigrations creates every registered model's table in priority order,
// inside one transaction where the dialect allows transactional DDL.
func (mm *MigrationManager) RunMigrations(ctx context.Context) error {
	if mm.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if _, ok := os.LookupEnv("BUNDEBUG_MIGRATION"); !ok {
		EnableBunSqlSilent(true)
		defer EnableBunSqlSilent(false)
	}

	models := RegisteredModelInstances()
	err := mm.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return CreateTables(ctx, tx, models...)
	})
	if err != nil {
		return err
	}
	mm.logger.Info("Database migrations completed", "tables", len(models))
	return nil
}

// CreateTables issues CREATE TABLE IF NOT EXISTS for each model.
func CreateTables(ctx context.Context, db bun.IDB, models ...interface{}) error {
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table %T: %w", model, err)
		}
	}
	return nil
}
