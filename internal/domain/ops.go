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

import "fmt"

// SetBusinessName returns m with the business name replaced.
func SetBusinessName(m Menu, value string) Menu {
	out := m
	out.BusinessName = value
	return out
}

// SetTagline returns m with the tagline replaced. nil or "" clears it.
func SetTagline(m Menu, value *string) Menu {
	out := m
	if value == nil {
		out.Tagline = nil
	} else {
		out.Tagline = optional(*value)
	}
	return out
}

// AddCategory appends an unnamed category holding one blank item.
func AddCategory(m Menu) Menu {
	out := m
	out.Categories = make([]Category, 0, len(m.Categories)+1)
	out.Categories = append(out.Categories, m.Categories...)
	out.Categories = append(out.Categories, Category{Name: "", Items: []Item{{}}})
	return out
}

// RemoveCategory drops the category at index. Out-of-range indices leave m unchanged.
func RemoveCategory(m Menu, index int) Menu {
	if index < 0 || index >= len(m.Categories) {
		return m
	}
	out := m
	out.Categories = make([]Category, 0, len(m.Categories)-1)
	out.Categories = append(out.Categories, m.Categories[:index]...)
	out.Categories = append(out.Categories, m.Categories[index+1:]...)
	return out
}

// RenameCategory sets the name of the category at index.
func RenameCategory(m Menu, index int, name string) Menu {
	mustIndex("category", index, len(m.Categories))
	out := m
	out.Categories = copyCategories(m.Categories)
	out.Categories[index].Name = name
	return out
}

// MoveCategory moves the category at from so that it ends up at position to.
func MoveCategory(m Menu, from, to int) Menu {
	mustIndex("category", from, len(m.Categories))
	mustIndex("category", to, len(m.Categories))
	if from == to {
		return m
	}
	out := m
	out.Categories = move(m.Categories, from, to)
	return out
}

// AddItem appends a blank item to the category at catIndex.
func AddItem(m Menu, catIndex int) Menu {
	mustIndex("category", catIndex, len(m.Categories))
	return withItems(m, catIndex, func(items []Item) []Item {
		out := make([]Item, 0, len(items)+1)
		out = append(out, items...)
		return append(out, Item{})
	})
}

// RemoveItem drops one item from a category.
func RemoveItem(m Menu, catIndex, itemIndex int) Menu {
	mustIndex("category", catIndex, len(m.Categories))
	mustIndex("item", itemIndex, len(m.Categories[catIndex].Items))
	return withItems(m, catIndex, func(items []Item) []Item {
		out := make([]Item, 0, len(items)-1)
		out = append(out, items[:itemIndex]...)
		return append(out, items[itemIndex+1:]...)
	})
}

// SetItemField sets one field of an item. An empty description becomes absent;
// name and price keep the raw value, including "".
func SetItemField(m Menu, catIndex, itemIndex int, field Field, value string) Menu {
	mustIndex("category", catIndex, len(m.Categories))
	mustIndex("item", itemIndex, len(m.Categories[catIndex].Items))
	if !field.Valid() {
		panic(fmt.Sprintf("domain: unknown item field %q", field))
	}
	return withItems(m, catIndex, func(items []Item) []Item {
		out := append([]Item(nil), items...)
		it := out[itemIndex]
		switch field {
		case FieldName:
			it.Name = value
		case FieldDescription:
			it.Description = optional(value)
		case FieldPrice:
			it.Price = value
		}
		out[itemIndex] = it
		return out
	})
}

// MoveItem reorders items within one category.
func MoveItem(m Menu, catIndex, from, to int) Menu {
	mustIndex("category", catIndex, len(m.Categories))
	n := len(m.Categories[catIndex].Items)
	mustIndex("item", from, n)
	mustIndex("item", to, n)
	if from == to {
		return m
	}
	return withItems(m, catIndex, func(items []Item) []Item {
		return move(items, from, to)
	})
}

func withItems(m Menu, catIndex int, fn func([]Item) []Item) Menu {
	out := m
	out.Categories = copyCategories(m.Categories)
	out.Categories[catIndex].Items = fn(m.Categories[catIndex].Items)
	return out
}

func copyCategories(in []Category) []Category {
	return append(make([]Category, 0, len(in)), in...)
}

// move returns a new slice with the element at from relocated to to.
func move[T any](in []T, from, to int) []T {
	out := make([]T, 0, len(in))
	out = append(out, in[:from]...)
	out = append(out, in[from+1:]...)
	out = append(out[:to], append([]T{in[from]}, out[to:]...)...)
	return out
}

// Indices come from the rendered sequence, so a bad one is a caller defect.
func mustIndex(kind string, i, n int) {
	if i < 0 || i >= n {
		panic(fmt.Sprintf("domain: %s index %d out of range [0,%d)", kind, i, n))
	}
}
