/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import "strings"

// Published is the result of a publish call.
type Published struct {
	Slug string `json:"slug"`
	URL  string `json:"url"`
}

// Checkout is the result of creating a checkout session. URL is empty when
// the slug is already paid.
type Checkout struct {
	URL         string `json:"url,omitempty"`
	AlreadyPaid bool   `json:"already_paid,omitempty"`
}

// MenuStatus is the payment status of a published menu.
type MenuStatus struct {
	Slug         string `json:"slug"`
	IsPaid       bool   `json:"is_paid"`
	BusinessName string `json:"business_name"`
}

// File is a binary response body with its declared content type.
type File struct {
	Data        []byte
	ContentType string
}

// IsPDF reports whether the server returned a PDF rather than the HTML fallback.
func (f File) IsPDF() bool { return strings.Contains(strings.ToLower(f.ContentType), "pdf") }

// DownloadName is the file name a downloaded menu is saved under.
func (f File) DownloadName() string {
	if f.IsPDF() {
		return "menu.pdf"
	}
	return "menu.html"
}

type menuRequest struct {
	Menu     any    `json:"menu"`
	Template string `json:"template"`
}

type parseRequest struct {
	Text         string `json:"text"`
	BusinessName string `json:"business_name"`
	MenuType     string `json:"menu_type"`
}

type checkoutRequest struct {
	Slug string `json:"slug"`
}

type detailBody struct {
	Detail any `json:"detail"`
}
