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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tomoncle/bunrepo/bulkcopy"
	"github.com/tomoncle/bunrepo/database"
)

type options struct {
	sortable      []string
	incrementable []string
	stageColumns  []string
	bulk          database.BulkConfig
	logger        database.Logger
	copier        bulkcopy.Copier
	registerer    prometheus.Registerer
}

// Option configures a repository built by NewRepository.
type Option func(*options)

// WithSortableColumns limits the columns ListPage and Page may order by.
func WithSortableColumns(columns ...string) Option {
	return func(o *options) { o.sortable = columns }
}

// WithIncrementableColumns limits the columns Increment may touch.
func WithIncrementableColumns(columns ...string) Option {
	return func(o *options) { o.incrementable = columns }
}

// WithStageColumns limits the columns BulkSave writes.
func WithStageColumns(columns ...string) Option {
	return func(o *options) { o.stageColumns = columns }
}

// WithBulkConfig sets chunking and retry for BulkSave. Unset fields keep
// their defaults.
func WithBulkConfig(cfg database.BulkConfig) Option {
	return func(o *options) { o.bulk = cfg }
}

func WithLogger(logger database.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCopier replaces the bulk loader, by default a multi-row INSERT over
// the repository's database.
func WithCopier(copier bulkcopy.Copier) Option {
	return func(o *options) {
		if copier != nil {
			o.copier = copier
		}
	}
}

// WithRegisterer registers bulk metrics with reg instead of the default
// registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		if reg != nil {
			o.registerer = reg
		}
	}
}
