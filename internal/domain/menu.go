/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package domain holds the editable menu document and the pure operations over it.
//
// A Menu is treated as an immutable value: every operation returns a new Menu and never
// writes into slices or pointers reachable from its input. Unchanged categories may share
// their Items backing array with the previous value, which is safe because no operation
// mutates an Items slice in place.
package domain

// Menu is the in-memory representation of a business's menu.
// Order of Categories and of Items within a category is the display order.
type Menu struct {
	BusinessName string `json:"business_name"`
	// BusinessType is assigned by the parser (restaurant, salon, barber, ...) and
	// carried through unchanged so publish and render requests echo it back.
	BusinessType string     `json:"business_type,omitempty"`
	Tagline      *string    `json:"tagline"`
	Categories   []Category `json:"categories"`
}

// Category is an ordered group of items. Name may be empty while being edited.
type Category struct {
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

// Item is a single menu position. Price is free-form text and may carry a currency.
type Item struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Price       string  `json:"price"`
}

// Field names an editable item field.
type Field string

const (
	FieldName        Field = "name"
	FieldDescription Field = "description"
	FieldPrice       Field = "price"
)

// Valid reports whether f is one of the editable item fields.
func (f Field) Valid() bool {
	switch f {
	case FieldName, FieldDescription, FieldPrice:
		return true
	}
	return false
}

// NewMenu returns an empty menu for the given business.
func NewMenu(businessName string) Menu {
	return Menu{BusinessName: businessName, Categories: []Category{}}
}

// Normalize fills absent sequences with empty ones so a decoded document always
// satisfies the structural invariants (categories and items are never nil).
func (m Menu) Normalize() Menu {
	out := m
	out.Categories = make([]Category, len(m.Categories))
	for i, c := range m.Categories {
		if c.Items == nil {
			c.Items = []Item{}
		}
		out.Categories[i] = c
	}
	return out
}

// Clone returns a deep copy that shares no memory with m.
func (m Menu) Clone() Menu {
	out := Menu{BusinessName: m.BusinessName, BusinessType: m.BusinessType, Tagline: cloneString(m.Tagline)}
	out.Categories = make([]Category, len(m.Categories))
	for i, c := range m.Categories {
		items := make([]Item, len(c.Items))
		for j, it := range c.Items {
			items[j] = Item{Name: it.Name, Description: cloneString(it.Description), Price: it.Price}
		}
		out.Categories[i] = Category{Name: c.Name, Items: items}
	}
	return out
}

// ItemCount returns the total number of items across categories.
func (m Menu) ItemCount() int {
	n := 0
	for _, c := range m.Categories {
		n += len(c.Items)
	}
	return n
}

// TaglineText returns the tagline or "" when absent.
func (m Menu) TaglineText() string {
	if m.Tagline == nil {
		return ""
	}
	return *m.Tagline
}

// DescriptionText returns the description or "" when absent.
func (it Item) DescriptionText() string {
	if it.Description == nil {
		return ""
	}
	return *it.Description
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// optional maps "" to nil, anything else to a fresh pointer.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
