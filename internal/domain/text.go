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

import "strings"

// FormatText renders the menu as plain text, one "--- Category ---" header per
// category followed by "Name (description) - price" lines. Categories are
// separated by a blank line. Business name and tagline are not included.
func FormatText(m Menu) string {
	var b strings.Builder
	for i, c := range m.Categories {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("--- ")
		b.WriteString(c.Name)
		b.WriteString(" ---")
		for _, it := range c.Items {
			b.WriteString("\n")
			b.WriteString(it.Name)
			if d := it.DescriptionText(); d != "" {
				b.WriteString(" (")
				b.WriteString(d)
				b.WriteString(")")
			}
			b.WriteString(" - ")
			b.WriteString(it.Price)
		}
	}
	return b.String()
}
