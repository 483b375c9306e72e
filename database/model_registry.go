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
	"sort"
	"sync"
)

var defaultRegistry = &modelRegistry{}

// SQLModel is a bun model known to the migration manager. Instance returns a
// struct pointer; lower Priority values are created first.
type SQLModel interface {
	Instance() interface{}
	Priority() int
}

type modelRegistry struct {
	mu     sync.RWMutex
	models []SQLModel
}

func (r *modelRegistry) register(model SQLModel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = append(r.models, model)
}

// sorted returns a copy ordered by priority; registration order breaks ties.
func (r *modelRegistry) sorted() []SQLModel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SQLModel, len(r.models))
	copy(out, r.models)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority() < out[j].Priority()
	})
	return out
}

func (r *modelRegistry) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = nil
}

type modelAdapter struct {
	instance interface{}
	priority int
}

func (a *modelAdapter) Instance() interface{} { return a.instance }

func (a *modelAdapter) Priority() int { return a.priority }

// NewModelAdapter wraps a struct pointer and priority into an SQLModel.
func NewModelAdapter(instance interface{}, priority int) SQLModel {
	return &modelAdapter{instance: instance, priority: priority}
}

// RegisteredModel adds a model to the default registry.
func RegisteredModel(model SQLModel) {
	defaultRegistry.register(model)
}

// RegisterModel registers *T with the given priority.
func RegisterModel[T any](priority int) {
	RegisteredModel(NewModelAdapter((*T)(nil), priority))
}

func GetRegisteredModels() []SQLModel {
	return defaultRegistry.sorted()
}

func RegisteredModelInstances() []interface{} {
	models := GetRegisteredModels()
	out := make([]interface{}, len(models))
	for i, m := range models {
		out[i] = m.Instance()
	}
	return out
}
