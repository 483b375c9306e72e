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
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tomoncle/bunrepo/bulkcopy"
	"github.com/tomoncle/bunrepo/database"
	"github.com/tomoncle/bunrepo/utils"
	"github.com/uptrace/bun"
)

type chunkOutcome int

const (
	chunkSkipped chunkOutcome = iota
	chunkLoaded
	chunkConflict
	chunkFailed
)

func (o chunkOutcome) String() string {
	switch o {
	case chunkLoaded:
		return "loaded"
	case chunkConflict:
		return "conflict"
	case chunkFailed:
		return "failed"
	default:
		return "skipped"
	}
}

type chunkResult struct {
	outcome chunkOutcome
	rows    int64
	err     error
}

func (r *baseRepositoryImpl[T, ID]) BulkSave(ctx context.Context, entities []*T, checkOld bool) (bool, error) {
	start := time.Now()
	defer func() {
		r.metrics.duration.WithLabelValues(r.table.Name).Observe(time.Since(start).Seconds())
	}()

	seen := make(map[ID]struct{}, len(entities))
	changed := false
	for i, chunk := range utils.Chunk(entities, r.bulk.ChunkSize) {
		chunk = r.dedupe(chunk, seen)
		if len(chunk) == 0 {
			r.metrics.chunks.WithLabelValues(r.table.Name, chunkSkipped.String()).Inc()
			continue
		}
		res, err := r.saveChunkWithRetry(ctx, i, chunk, checkOld)
		r.metrics.chunks.WithLabelValues(r.table.Name, res.outcome.String()).Inc()
		if res.rows > 0 {
			changed = true
			r.metrics.rows.WithLabelValues(r.table.Name).Add(float64(res.rows))
		}
		if err != nil {
			return changed, err
		}
		if res.outcome == chunkLoaded {
			changed = true
			r.logger.Debug("Bulk chunk loaded", "table", r.table.Name, "chunk", i, "rows", res.rows)
		}
	}
	return changed, nil
}

// dedupe drops nil entries and identifiers seen earlier in the same call.
// Zero identifiers are left for the database to assign and always kept.
func (r *baseRepositoryImpl[T, ID]) dedupe(chunk []*T, seen map[ID]struct{}) []*T {
	var zero ID
	out := make([]*T, 0, len(chunk))
	for _, e := range chunk {
		if e == nil {
			continue
		}
		id := (*e).GetID()
		if id != zero {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
		}
		out = append(out, e)
	}
	return out
}

// saveChunkWithRetry runs saveChunk until it stops reporting a duplicate
// key or the attempts run out. Retries always refresh the snapshot.
func (r *baseRepositoryImpl[T, ID]) saveChunkWithRetry(ctx context.Context, index int, chunk []*T, checkOld bool) (chunkResult, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.bulk.InitialInterval
	b.MaxInterval = r.bulk.MaxInterval
	b.MaxElapsedTime = 0
	attempts := max(r.bulk.MaxAttempts, 1)
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	attempt := 0
	var loaded int64
	var res chunkResult
	operation := func() error {
		attempt++
		res = r.saveChunk(ctx, chunk, checkOld || attempt > 1)
		loaded += res.rows
		res.rows = loaded
		switch res.outcome {
		case chunkConflict:
			return res.err
		case chunkFailed:
			return backoff.Permanent(res.err)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		r.metrics.retries.WithLabelValues(r.table.Name).Inc()
		r.logger.Warn("Duplicate key during bulk load, retrying",
			"table", r.table.Name, "chunk", index, "attempt", attempt,
			"max_attempts", attempts, "wait", wait, "error", err)
	}

	err := backoff.RetryNotify(operation, policy, notify)
	switch {
	case err == nil:
		if attempt > 1 {
			r.logger.Info("Duplicate key resolved after retry",
				"table", r.table.Name, "chunk", index, "attempts", attempt, "outcome", res.outcome.String())
		}
		return res, nil
	case res.outcome == chunkConflict && ctx.Err() == nil:
		r.logger.Error("Duplicate key retries exhausted",
			"table", r.table.Name, "chunk", index, "attempts", attempt, "error", res.err)
		return res, fmt.Errorf("%w: %s chunk %d after %d attempts: %w",
			ErrConflictRetriesExhausted, r.table.Name, index, attempt, res.err)
	default:
		res.outcome = chunkFailed
		return res, fmt.Errorf("repository: bulk save %s chunk %d: %w", r.table.Name, index, err)
	}
}

// saveChunk reconciles one chunk against the table and loads the delta.
func (r *baseRepositoryImpl[T, ID]) saveChunk(ctx context.Context, chunk []*T, checkOld bool) chunkResult {
	delta := chunk
	if checkOld {
		existing, err := r.existingIDs(ctx, chunk)
		if err != nil {
			return chunkResult{outcome: chunkFailed, err: err}
		}
		if len(existing) > 0 {
			delta = make([]*T, 0, len(chunk))
			for _, e := range chunk {
				if _, ok := existing[(*e).GetID()]; !ok {
					delta = append(delta, e)
				}
			}
		}
	}
	if len(delta) == 0 {
		return chunkResult{outcome: chunkSkipped}
	}

	groups, err := bulkcopy.Partition(r.table, delta, r.stageColumns...)
	if err != nil {
		return chunkResult{outcome: chunkFailed, err: err}
	}
	var loaded int64
	for _, group := range groups {
		staged, err := bulkcopy.Stage(r.table, group, r.stageColumns...)
		if err != nil {
			return chunkResult{outcome: chunkFailed, rows: loaded, err: err}
		}
		n, err := r.copier.Copy(ctx, staged)
		loaded += n
		if err != nil {
			if database.IsDuplicateKey(err) {
				return chunkResult{outcome: chunkConflict, rows: loaded, err: err}
			}
			return chunkResult{outcome: chunkFailed, rows: loaded, err: err}
		}
	}
	return chunkResult{outcome: chunkLoaded, rows: loaded}
}

// existingIDs returns the identifiers among chunk that are already stored.
func (r *baseRepositoryImpl[T, ID]) existingIDs(ctx context.Context, chunk []*T) (map[ID]struct{}, error) {
	var zero ID
	keys := make([]ID, 0, len(chunk))
	for _, e := range chunk {
		if id := (*e).GetID(); id != zero {
			keys = append(keys, id)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	var ids []ID
	err := r.db.NewSelect().
		Model((*T)(nil)).
		Column(r.pk.Name).
		Where("? IN (?)", bun.Ident(r.pk.Name), bun.In(keys)).
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("repository: snapshot %s: %w", r.table.Name, err)
	}
	existing := make(map[ID]struct{}, len(ids))
	for _, id := range ids {
		existing[id] = struct{}{}
	}
	return existing, nil
}
