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

// Package cache keeps recently read rows of a repository in memory.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/tomoncle/bunrepo/repository"
	"github.com/uptrace/bun"
)

const DefaultSize = 1024

// Repository serves Get from an expiring LRU and falls through to the
// wrapped repository on a miss. Absent rows are not cached. Writes made
// through the decorator evict the affected identifier; writes made around it
// are only seen once the entry expires.
type Repository[T repository.Entity[ID], ID comparable] struct {
	repository.Repository[T, ID]

	entries *expirable.LRU[ID, T]
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// New wraps repo with a cache of size entries living for ttl. ttl <= 0 keeps
// entries until they are evicted by size.
func New[T repository.Entity[ID], ID comparable](repo repository.Repository[T, ID], size int, ttl time.Duration) *Repository[T, ID] {
	if size <= 0 {
		size = DefaultSize
	}
	return &Repository[T, ID]{
		Repository: repo,
		entries:    expirable.NewLRU[ID, T](size, nil, ttl),
	}
}

// Get returns a copy of the cached row, so callers may modify it freely.
func (c *Repository[T, ID]) Get(ctx context.Context, id ID) (*T, error) {
	if e, ok := c.entries.Get(id); ok {
		c.hits.Add(1)
		return &e, nil
	}
	c.misses.Add(1)
	e, err := c.Repository.Get(ctx, id)
	if err != nil || e == nil {
		return e, err
	}
	c.entries.Add(id, *e)
	return e, nil
}

func (c *Repository[T, ID]) Update(ctx context.Context, entity *T) (bool, error) {
	defer c.evict(entity)
	return c.Repository.Update(ctx, entity)
}

func (c *Repository[T, ID]) UpdateWithTx(ctx context.Context, tx bun.Tx, entity *T) (bool, error) {
	defer c.evict(entity)
	return c.Repository.UpdateWithTx(ctx, tx, entity)
}

func (c *Repository[T, ID]) Delete(ctx context.Context, entity *T) (bool, error) {
	defer c.evict(entity)
	return c.Repository.Delete(ctx, entity)
}

func (c *Repository[T, ID]) DeleteWithTx(ctx context.Context, tx bun.Tx, entity *T) (bool, error) {
	defer c.evict(entity)
	return c.Repository.DeleteWithTx(ctx, tx, entity)
}

func (c *Repository[T, ID]) Increment(ctx context.Context, id ID, columns map[string]any) error {
	defer c.entries.Remove(id)
	return c.Repository.Increment(ctx, id, columns)
}

// BulkSave drops the whole cache when anything was loaded.
func (c *Repository[T, ID]) BulkSave(ctx context.Context, entities []*T, checkOld bool) (bool, error) {
	changed, err := c.Repository.BulkSave(ctx, entities, checkOld)
	if changed {
		c.entries.Purge()
	}
	return changed, err
}

func (c *Repository[T, ID]) evict(entity *T) {
	if entity != nil {
		c.entries.Remove((*entity).GetID())
	}
}

// Stats reports cache hits, misses and the current entry count.
func (c *Repository[T, ID]) Stats() (hits, misses uint64, size int) {
	return c.hits.Load(), c.misses.Load(), c.entries.Len()
}

// Purge drops every cached row.
func (c *Repository[T, ID]) Purge() {
	c.entries.Purge()
}
