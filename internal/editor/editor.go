/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package editor adapts list input (drag-and-drop, keyboard moves, field
// edits) to the menu document operations. Rows are identified by the IDs
// "cat-<i>" and "item-<c>-<i>" derived from their current position.
package editor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"menuwizard/internal/domain"
)

// ErrIndex is returned when an index does not address a row of the current document.
var ErrIndex = errors.New("editor: index out of range")

// Store holds the document being edited.
type Store interface {
	Menu() (domain.Menu, bool)
	Update(op func(domain.Menu) domain.Menu) error
}

// CategoryID is the drag ID of the category at index i.
func CategoryID(i int) string { return "cat-" + strconv.Itoa(i) }

// ItemID is the drag ID of item i in category c.
func ItemID(c, i int) string { return fmt.Sprintf("item-%d-%d", c, i) }

// Ref is a parsed drag ID. Item is -1 for categories.
type Ref struct {
	Cat  int
	Item int
}

func (r Ref) IsItem() bool { return r.Item >= 0 }

// ParseID decodes a drag ID.
func ParseID(id string) (Ref, bool) {
	switch {
	case strings.HasPrefix(id, "cat-"):
		i, err := strconv.Atoi(id[len("cat-"):])
		if err != nil || i < 0 {
			return Ref{}, false
		}
		return Ref{Cat: i, Item: -1}, true
	case strings.HasPrefix(id, "item-"):
		parts := strings.Split(id[len("item-"):], "-")
		if len(parts) != 2 {
			return Ref{}, false
		}
		c, err1 := strconv.Atoi(parts[0])
		i, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || c < 0 || i < 0 {
			return Ref{}, false
		}
		return Ref{Cat: c, Item: i}, true
	}
	return Ref{}, false
}

// Editor applies list input to a Store.
type Editor struct {
	store Store
}

func New(s Store) *Editor { return &Editor{store: s} }

// DragEnd handles the end of a drag gesture. Dropping nowhere, onto itself,
// onto a row of another kind or onto an item of another category does nothing.
func (e *Editor) DragEnd(active, over string) error {
	if over == "" || active == over {
		return nil
	}
	a, ok1 := ParseID(active)
	o, ok2 := ParseID(over)
	if !ok1 || !ok2 || a.IsItem() != o.IsItem() {
		return nil
	}
	m, ok := e.store.Menu()
	if !ok {
		return nil
	}
	if !a.IsItem() {
		if a.Cat >= len(m.Categories) || o.Cat >= len(m.Categories) {
			return nil
		}
		return e.store.Update(func(m domain.Menu) domain.Menu { return domain.MoveCategory(m, a.Cat, o.Cat) })
	}
	if a.Cat != o.Cat || a.Cat >= len(m.Categories) {
		return nil
	}
	n := len(m.Categories[a.Cat].Items)
	if a.Item >= n || o.Item >= n {
		return nil
	}
	return e.store.Update(func(m domain.Menu) domain.Menu { return domain.MoveItem(m, a.Cat, a.Item, o.Item) })
}

// MoveCategory shifts a category by delta positions (keyboard reordering),
// clamped to the list bounds.
func (e *Editor) MoveCategory(i, delta int) error {
	m, err := e.checkCategory(i)
	if err != nil {
		return err
	}
	to := clamp(i+delta, len(m.Categories))
	if to == i {
		return nil
	}
	return e.store.Update(func(m domain.Menu) domain.Menu { return domain.MoveCategory(m, i, to) })
}

// MoveItem shifts an item by delta positions within its category.
func (e *Editor) MoveItem(c, i, delta int) error {
	m, err := e.checkItem(c, i)
	if err != nil {
		return err
	}
	to := clamp(i+delta, len(m.Categories[c].Items))
	if to == i {
		return nil
	}
	return e.store.Update(func(m domain.Menu) domain.Menu { return domain.MoveItem(m, c, i, to) })
}

// MoveCategoryTo moves a category to an absolute position.
func (e *Editor) MoveCategoryTo(from, to int) error {
	m, err := e.checkCategory(from)
	if err != nil {
		return err
	}
	if to < 0 || to >= len(m.Categories) {
		return fmt.Errorf("%w: category %d", ErrIndex, to)
	}
	return e.store.Update(func(m domain.Menu) domain.Menu { return domain.MoveCategory(m, from, to) })
}

// MoveItemTo moves an item to an absolute position within its category.
func (e *Editor) MoveItemTo(c, from, to int) error {
	m, err := e.checkItem(c, from)
	if err != nil {
		return err
	}
	if to < 0 || to >= len(m.Categories[c].Items) {
		return fmt.Errorf("%w: item %d", ErrIndex, to)
	}
	return e.store.Update(func(m domain.Menu) domain.Menu { return domain.MoveItem(m, c, from, to) })
}

func (e *Editor) SetBusinessName(name string) error {
	return e.store.Update(func(m domain.Menu) domain.Menu { return domain.SetBusinessName(m, name) })
}

// SetTagline sets the tagline; an empty value clears it.
func (e *Editor) SetTagline(value string) error {
	return e.store.Update(func(m domain.Menu) domain.Menu { return domain.SetTagline(m, &value) })
}

func (e *Editor) AddCategory() error {
	return e.store.Update(domain.AddCategory)
}

func (e *Editor) RemoveCategory(i int) error {
	if _, err := e.checkCategory(i); err != nil {
		return err
	}
	return e.store.Update(func(m domain.Menu) domain.Menu { return domain.RemoveCategory(m, i) })
}

func (e *Editor) RenameCategory(i int, name string) error {
	if _, err := e.checkCategory(i); err != nil {
		return err
	}
	return e.store.Update(func(m domain.Menu) domain.Menu { return domain.RenameCategory(m, i, name) })
}

func (e *Editor) AddItem(c int) error {
	if _, err := e.checkCategory(c); err != nil {
		return err
	}
	return e.store.Update(func(m domain.Menu) domain.Menu { return domain.AddItem(m, c) })
}

func (e *Editor) RemoveItem(c, i int) error {
	if _, err := e.checkItem(c, i); err != nil {
		return err
	}
	return e.store.Update(func(m domain.Menu) domain.Menu { return domain.RemoveItem(m, c, i) })
}

// SetItemField edits one field of an item. Unknown field names are rejected.
func (e *Editor) SetItemField(c, i int, field domain.Field, value string) error {
	if !field.Valid() {
		return fmt.Errorf("editor: unknown item field %q", field)
	}
	if _, err := e.checkItem(c, i); err != nil {
		return err
	}
	return e.store.Update(func(m domain.Menu) domain.Menu { return domain.SetItemField(m, c, i, field, value) })
}

func (e *Editor) checkCategory(i int) (domain.Menu, error) {
	m, ok := e.store.Menu()
	if !ok {
		return m, errors.New("editor: no document")
	}
	if i < 0 || i >= len(m.Categories) {
		return m, fmt.Errorf("%w: category %d (have %d)", ErrIndex, i, len(m.Categories))
	}
	return m, nil
}

func (e *Editor) checkItem(c, i int) (domain.Menu, error) {
	m, err := e.checkCategory(c)
	if err != nil {
		return m, err
	}
	if n := len(m.Categories[c].Items); i < 0 || i >= n {
		return m, fmt.Errorf("%w: item %d in category %d (have %d)", ErrIndex, i, c, n)
	}
	return m, nil
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
