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
	"errors"
	"sync"

	"github.com/tomoncle/bunrepo/database"
	"github.com/tomoncle/bunrepo/repository"
	"github.com/tomoncle/bunrepo/types"
	"github.com/uptrace/bun"
)

var ErrDatabaseNotInitialized = errors.New("bunrepo: database not initialized")

type Service[T repository.Entity[ID], ID comparable] interface {
	// Get returns a single entity by its identifier, or nil.
	Get(ctx context.Context, id ID) (*T, error)

	// GetMany returns the entities whose identifiers are in ids.
	GetMany(ctx context.Context, ids []ID) ([]*T, error)

	// All returns all entities.
	All(ctx context.Context) ([]*T, error)

	// List returns entities that match the provided filter.
	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)

	// Find returns entities that match filter, selecting only columns if any.
	Find(ctx context.Context, filter *types.QueryFilter, columns ...string) ([]*T, error)

	// Page returns a paginated list of entities.
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)

	// ListPage returns one ordered page without a total count.
	ListPage(ctx context.Context, limit int, orderBy string, sort types.SortDirection, page int) ([]*T, error)

	Count(ctx context.Context) (int, error)

	// Save inserts one entity and returns it with generated columns filled.
	Save(ctx context.Context, model *T) (*T, error)

	// BulkSave loads many entities at once, skipping stored ones if checkOld.
	BulkSave(ctx context.Context, models []*T, checkOld bool) (bool, error)

	// Update modifies an existing entity.
	Update(ctx context.Context, model *T) (bool, error)

	// Increment adds to numeric columns of one row.
	Increment(ctx context.Context, id ID, columns map[string]any) error

	// Delete removes an entity.
	Delete(ctx context.Context, model *T) (bool, error)

	// SaveWithTx inserts an entity within an existing transaction.
	SaveWithTx(ctx context.Context, tx bun.Tx, model *T) (*T, error)

	// UpdateWithTx updates an entity within a transaction.
	UpdateWithTx(ctx context.Context, tx bun.Tx, model *T) (bool, error)

	// DeleteWithTx removes an entity within a transaction.
	DeleteWithTx(ctx context.Context, tx bun.Tx, model *T) (bool, error)

	// SelectBuilder returns a Bun select query builder.
	SelectBuilder() *bun.SelectQuery

	// InsertBuilder returns a Bun insert query builder.
	InsertBuilder() *bun.InsertQuery

	// UpdateBuilder returns a Bun update query builder, also usable for
	// other models.
	UpdateBuilder() *bun.UpdateQuery

	// DeleteBuilder returns a Bun delete query builder.
	DeleteBuilder() *bun.DeleteQuery
}

type baseServiceImpl[T repository.Entity[ID], ID comparable] struct {
	opts []repository.Option
	mu   sync.Mutex
	repo repository.FilterRepository[T, ID, *types.QueryFilter]
}

// NewService returns a Service backed by the global database connection. The
// repository is built on first use with the global bulk configuration, so
// BulkSave takes the native bulk path of the dialect; opts are applied after
// those defaults.
func NewService[T repository.Entity[ID], ID comparable](opts ...repository.Option) Service[T, ID] {
	return &baseServiceImpl[T, ID]{opts: opts}
}

func (s *baseServiceImpl[T, ID]) baseRepo() (repository.FilterRepository[T, ID, *types.QueryFilter], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.repo != nil {
		return s.repo, nil
	}
	db := database.GetDB()
	if db == nil {
		return nil, ErrDatabaseNotInitialized
	}
	opts := append([]repository.Option{
		repository.WithBulkConfig(database.GetBulkConfig()),
		repository.WithLogger(database.GetLogger()),
	}, s.opts...)
	repo, err := repository.NewRepository[T, ID](db, opts...)
	if err != nil {
		return nil, err
	}
	s.repo = repository.NewQueryFilterRepository[T, ID](repo)
	return s.repo, nil
}

func (s *baseServiceImpl[T, ID]) Get(ctx context.Context, id ID) (*T, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.Get(ctx, id)
}

func (s *baseServiceImpl[T, ID]) GetMany(ctx context.Context, ids []ID) ([]*T, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.GetMany(ctx, ids)
}

func (s *baseServiceImpl[T, ID]) All(ctx context.Context) ([]*T, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.List(ctx)
}

func (s *baseServiceImpl[T, ID]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	return s.Find(ctx, filter)
}

func (s *baseServiceImpl[T, ID]) Find(ctx context.Context, filter *types.QueryFilter, columns ...string) ([]*T, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.Find(ctx, filter, columns...)
}

func (s *baseServiceImpl[T, ID]) Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.Page(ctx, page)
}

func (s *baseServiceImpl[T, ID]) ListPage(ctx context.Context, limit int, orderBy string, sort types.SortDirection, page int) ([]*T, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.ListPage(ctx, limit, orderBy, sort, page)
}

func (s *baseServiceImpl[T, ID]) Count(ctx context.Context) (int, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return 0, err
	}
	return repo.Count(ctx)
}

func (s *baseServiceImpl[T, ID]) Save(ctx context.Context, model *T) (*T, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.Add(ctx, model)
}

func (s *baseServiceImpl[T, ID]) BulkSave(ctx context.Context, models []*T, checkOld bool) (bool, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return false, err
	}
	return repo.BulkSave(ctx, models, checkOld)
}

func (s *baseServiceImpl[T, ID]) Update(ctx context.Context, model *T) (bool, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return false, err
	}
	return repo.Update(ctx, model)
}

func (s *baseServiceImpl[T, ID]) Increment(ctx context.Context, id ID, columns map[string]any) error {
	repo, err := s.baseRepo()
	if err != nil {
		return err
	}
	return repo.Increment(ctx, id, columns)
}

func (s *baseServiceImpl[T, ID]) Delete(ctx context.Context, model *T) (bool, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return false, err
	}
	return repo.Delete(ctx, model)
}

func (s *baseServiceImpl[T, ID]) SaveWithTx(ctx context.Context, tx bun.Tx, model *T) (*T, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.AddWithTx(ctx, tx, model)
}

func (s *baseServiceImpl[T, ID]) UpdateWithTx(ctx context.Context, tx bun.Tx, model *T) (bool, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return false, err
	}
	return repo.UpdateWithTx(ctx, tx, model)
}

func (s *baseServiceImpl[T, ID]) DeleteWithTx(ctx context.Context, tx bun.Tx, model *T) (bool, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return false, err
	}
	return repo.DeleteWithTx(ctx, tx, model)
}

func (s *baseServiceImpl[T, ID]) SelectBuilder() *bun.SelectQuery {
	return database.GetDB().NewSelect()
}

func (s *baseServiceImpl[T, ID]) InsertBuilder() *bun.InsertQuery {
	return database.GetDB().NewInsert()
}

func (s *baseServiceImpl[T, ID]) UpdateBuilder() *bun.UpdateQuery {
	return database.GetDB().NewUpdate()
}

func (s *baseServiceImpl[T, ID]) DeleteBuilder() *bun.DeleteQuery {
	return database.GetDB().NewDelete()
}
