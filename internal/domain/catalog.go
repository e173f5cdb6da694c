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

// MenuType is the kind of menu chosen on the first wizard step.
type MenuType string

const (
	MenuRestaurant MenuType = "restaurant"
	MenuServices   MenuType = "services"
	MenuDrinks     MenuType = "drinks"

	// MenuPriceList is what the backend assumes when no type was chosen.
	MenuPriceList MenuType = "price_list"
)

// MenuTypeInfo describes a selectable menu type.
type MenuTypeInfo struct {
	ID          MenuType
	Label       string
	Description string
}

// MenuTypes lists the types offered on the first step, in display order.
var MenuTypes = []MenuTypeInfo{
	{ID: MenuRestaurant, Label: "Menu Restauracji", Description: "Klasyczne menu z kategoriami dań"},
	{ID: MenuServices, Label: "Cennik Usług", Description: "Cennik dla salonu, warsztatu itp."},
	{ID: MenuDrinks, Label: "Karta Drinków", Description: "Menu z koktajlami i napojami"},
}

// ValidMenuType reports whether t is one of the selectable types.
func ValidMenuType(t MenuType) bool {
	for _, mt := range MenuTypes {
		if mt.ID == t {
			return true
		}
	}
	return false
}

// Template is the id of a visual style. It never alters document content.
type Template string

const (
	TemplateClean   Template = "clean"
	TemplateElegant Template = "elegant"
	TemplateNeon    Template = "neon"
	TemplateRustic  Template = "rustic"
	TemplatePastel  Template = "pastel"

	DefaultTemplate = TemplateClean
)

// TemplateInfo describes a selectable template.
type TemplateInfo struct {
	ID    Template
	Label string
}

// Templates lists the template selector in display order.
var Templates = []TemplateInfo{
	{ID: TemplateClean, Label: "Clean"},
	{ID: TemplateElegant, Label: "Elegant"},
	{ID: TemplateNeon, Label: "Neon"},
	{ID: TemplateRustic, Label: "Rustic"},
	{ID: TemplatePastel, Label: "Pastel"},
}

// ValidTemplate reports whether t is a known template id.
func ValidTemplate(t Template) bool {
	for _, ti := range Templates {
		if ti.ID == t {
			return true
		}
	}
	return false
}
