/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package domain

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	gojsonschema "github.com/xeipuuv/gojsonschema"
)

//go:embed schema/menu.schema.json
var menuSchemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func menuSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(menuSchemaJSON))
	})
	return schema, schemaErr
}

// ValidateJSON checks raw bytes against the menu wire shape.
func ValidateJSON(data []byte) error {
	s, err := menuSchema()
	if err != nil {
		return fmt.Errorf("load menu schema: %w", err)
	}
	res, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validate menu: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("menu does not match schema: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// DecodeJSON validates data and decodes it into a normalized Menu.
func DecodeJSON(data []byte) (Menu, error) {
	if err := ValidateJSON(data); err != nil {
		return Menu{}, err
	}
	var m Menu
	if err := json.Unmarshal(data, &m); err != nil {
		return Menu{}, fmt.Errorf("decode menu: %w", err)
	}
	return m.Normalize(), nil
}
