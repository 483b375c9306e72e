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
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/uptrace/bun"
)

var querySilent atomic.Bool

// EnableBunSqlSilent mutes the query log hooks, e.g. while creating tables.
func EnableBunSqlSilent(b bool) {
	querySilent.Store(b)
}

var operationColors = map[string]*color.Color{
	"SELECT": color.New(color.FgGreen),
	"INSERT": color.New(color.FgBlue),
	"UPDATE": color.New(color.FgYellow),
	"DELETE": color.New(color.FgMagenta),
}

func operationColor(op string) *color.Color {
	if c, ok := operationColors[op]; ok {
		return c
	}
	return color.New(color.FgRed)
}

// QueryLogHook prints every failed query, or every query when verbose, with
// the SQL colored by operation. The env variable, when set, overrides
// enabled/verbose the way BUNDEBUG does: "0" off, "1" errors, "2" all.
type QueryLogHook struct {
	envName string
	enabled bool
	verbose bool
	writer  io.Writer
}

var _ bun.QueryHook = (*QueryLogHook)(nil)

func NewQueryLogHook(envName string, verbose bool, w io.Writer) *QueryLogHook {
	if w == nil {
		w = os.Stdout
	}
	return &QueryLogHook{envName: envName, enabled: true, verbose: verbose, writer: w}
}

func (h *QueryLogHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *QueryLogHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if querySilent.Load() {
		return
	}
	enabled, verbose := h.enabled, h.verbose
	if env, ok := os.LookupEnv(h.envName); ok && h.envName != "" {
		enabled = env != "" && env != "0"
		verbose = env == "2"
	}
	if !enabled {
		return
	}
	if !verbose {
		switch {
		case event.Err == nil, errors.Is(event.Err, sql.ErrNoRows), errors.Is(event.Err, sql.ErrTxDone):
			return
		}
	}

	now := time.Now()
	line := fmt.Sprintf("%s %s %12s  %s",
		now.Format("2006-01-02 15:04:05.000"),
		color.CyanString("[BUN]"),
		now.Sub(event.StartTime).Round(time.Microsecond),
		operationColor(event.Operation()).Sprint(event.Query),
	)
	if event.Err != nil {
		line += "\t" + color.New(color.BgRed).Sprintf(" %T: %v ", event.Err, event.Err)
	}
	_, _ = fmt.Fprintln(h.writer, line)
}

// SlowQueryHook reports successful queries slower than the threshold through
// Logger.
type SlowQueryHook struct {
	threshold time.Duration
	logger    Logger
}

var _ bun.QueryHook = (*SlowQueryHook)(nil)

func NewSlowQueryHook(threshold time.Duration, logger Logger) *SlowQueryHook {
	return &SlowQueryHook{threshold: threshold, logger: logger}
}

func (h *SlowQueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *SlowQueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if querySilent.Load() || event.Err != nil || h.logger == nil {
		return
	}
	if d := time.Since(event.StartTime); d > h.threshold {
		h.logger.Warn("Slow query detected",
			"duration", d.Round(time.Microsecond),
			"threshold", h.threshold,
			"operation", event.Operation(),
			"query", event.Query,
		)
	}
}
