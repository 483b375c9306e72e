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
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type bulkMetrics struct {
	chunks   *prometheus.CounterVec
	rows     *prometheus.CounterVec
	retries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newBulkMetrics(reg prometheus.Registerer) *bulkMetrics {
	m := &bulkMetrics{
		chunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bunrepo_bulk_chunks_total",
				Help: "Bulk save chunks by outcome",
			},
			[]string{"table", "outcome"},
		),
		rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bunrepo_bulk_rows_loaded_total",
				Help: "Rows written by bulk loads",
			},
			[]string{"table"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bunrepo_bulk_retries_total",
				Help: "Chunk retries after a duplicate key",
			},
			[]string{"table"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bunrepo_bulk_save_duration_seconds",
				Help:    "BulkSave duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"table"},
		),
	}
	m.chunks = register(reg, m.chunks)
	m.rows = register(reg, m.rows)
	m.retries = register(reg, m.retries)
	m.duration = register(reg, m.duration)
	return m
}

// register returns the collector already registered under the same name when
// several repositories share a registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}
