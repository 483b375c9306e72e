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

package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSON stores V as a JSON text column. Because it is a driver.Valuer, the
// bulk staging buffer resolves it to text like any other column.
type JSON[V any] struct {
	V V
}

func NewJSON[V any](v V) JSON[V] { return JSON[V]{V: v} }

// Value implements driver.Valuer.
func (j JSON[V]) Value() (driver.Value, error) {
	b, err := json.Marshal(j.V)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner. NULL leaves the zero value.
func (j *JSON[V]) Scan(value interface{}) error {
	var zero V
	j.V = zero
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, &j.V)
	case string:
		return json.Unmarshal([]byte(v), &j.V)
	default:
		return fmt.Errorf("types.JSON: unsupported scan type %T", value)
	}
}

// JsonObject is a convenience alias for JSON object columns.
type JsonObject = JSON[map[string]interface{}]
