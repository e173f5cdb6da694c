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

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"menuwizard/internal/domain"
)

const bellaJSON = `{"business_name":"Bella","business_type":"restaurant","tagline":null,"categories":[{"name":"Pizza","items":[{"name":"Pizza Margherita","description":null,"price":"28 zł"}]}]}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "tok", 0)
}

func TestParseTextSendsPayload(t *testing.T) {
	var got map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/parse" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Errorf("missing request id")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, bellaJSON)
	})
	m, err := c.ParseText(context.Background(), "Pizza Margherita - 28 zł", "Bella", domain.MenuRestaurant)
	if err != nil {
		t.Fatalf("ParseText: %v", err)
	}
	want := map[string]string{"text": "Pizza Margherita - 28 zł", "business_name": "Bella", "menu_type": "restaurant"}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("payload %s = %q, want %q", k, got[k], v)
		}
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected payload keys: %v", got)
	}
	if m.BusinessName != "Bella" || len(m.Categories) != 1 || m.Categories[0].Items[0].Price != "28 zł" {
		t.Fatalf("unexpected menu: %+v", m)
	}
}

func TestParseTextFailures(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})
	_, err := c.ParseText(context.Background(), "x", "", domain.MenuRestaurant)
	if !errors.Is(err, ErrRejected) || err.Error() != MsgParseText {
		t.Fatalf("want rejected parse error, got %v", err)
	}
	var be *Error
	if !errors.As(err, &be) || be.Status != http.StatusInternalServerError {
		t.Fatalf("status not recorded: %#v", err)
	}

	bad := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"business_name":"x","categories":"nope"}`)
	})
	_, err = bad.ParseText(context.Background(), "x", "", domain.MenuRestaurant)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("want malformed error, got %v", err)
	}
}

func TestConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()
	c := NewClient(base, "", 0)
	_, err := c.MenuStatus(context.Background(), "abc")
	if !errors.Is(err, ErrConnection) || err.Error() != MsgConnection {
		t.Fatalf("want connection error, got %v", err)
	}
	if Message(err) != MsgConnection {
		t.Fatalf("Message mismatch")
	}
}

func TestParsePhoto(t *testing.T) {
	var fields map[string]string
	var fileCT string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/parse-photo" {
			t.Errorf("path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("multipart: %v", err)
		}
		fields = map[string]string{
			"business_name": r.FormValue("business_name"),
			"menu_type":     r.FormValue("menu_type"),
		}
		_, fh, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file: %v", err)
		} else {
			fileCT = fh.Header.Get("Content-Type")
		}
		_, _ = io.WriteString(w, bellaJSON)
	})
	_, err := c.ParsePhoto(context.Background(), Photo{Filename: "menu.jpg", ContentType: "image/jpeg", Data: []byte("jpg")}, "", "")
	if err != nil {
		t.Fatalf("ParsePhoto: %v", err)
	}
	if fields["business_name"] != "Moja Firma" || fields["menu_type"] != "price_list" {
		t.Fatalf("defaults not applied: %v", fields)
	}
	if fileCT != "image/jpeg" {
		t.Fatalf("file content type %q", fileCT)
	}
}

func TestParsePhotoUnreadable(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	})
	p := Photo{Filename: "x.png", ContentType: "image/png", Data: []byte{1}}
	_, err := c.ParsePhoto(context.Background(), p, "Bella", domain.MenuRestaurant)
	if !errors.Is(err, ErrUnreadable) || err.Error() != MsgUnreadable {
		t.Fatalf("want unreadable, got %v", err)
	}
	_, err = c.ParsePhoto(context.Background(), p, "Bella", domain.MenuRestaurant)
	if !errors.Is(err, ErrRejected) || err.Error() != "Błąd serwera: 502" {
		t.Fatalf("want generic rejection, got %v", err)
	}
}

func TestParsePhotoValidatesBeforeSending(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected")
	})
	_, err := c.ParsePhoto(context.Background(), Photo{ContentType: "application/pdf", Data: []byte{1}}, "", "")
	if !errors.Is(err, ErrValidation) || err.Error() != MsgUnsupportedType {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestPreviewAndDownload(t *testing.T) {
	var req struct {
		Menu     domain.Menu `json:"menu"`
		Template string      `json:"template"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch r.URL.Path {
		case "/api/preview":
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "<h1>Bella</h1>")
		case "/api/download-pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = io.WriteString(w, "%PDF-1.4")
		}
	})
	m := domain.NewMenu("Bella")
	html, err := c.Preview(context.Background(), m, domain.TemplateNeon)
	if err != nil || html != "<h1>Bella</h1>" {
		t.Fatalf("Preview = %q, %v", html, err)
	}
	if req.Template != "neon" || req.Menu.BusinessName != "Bella" {
		t.Fatalf("unexpected request: %+v", req)
	}
	f, err := c.DownloadPDF(context.Background(), m, domain.TemplateClean)
	if err != nil {
		t.Fatalf("DownloadPDF: %v", err)
	}
	if !f.IsPDF() || f.DownloadName() != "menu.pdf" || string(f.Data) != "%PDF-1.4" {
		t.Fatalf("unexpected file: %+v", f)
	}
	if (File{ContentType: "text/html; charset=utf-8"}).DownloadName() != "menu.html" {
		t.Fatalf("html fallback name")
	}
}

func TestPublishQRAndStatus(t *testing.T) {
	var qrURL string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/publish":
			_, _ = io.WriteString(w, `{"slug":"bella-1","url":"http://x/menu/bella-1"}`)
		case r.URL.Path == "/api/qr":
			qrURL = r.URL.Query().Get("url")
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
		case strings.HasPrefix(r.URL.Path, "/api/menu-status/"):
			_, _ = io.WriteString(w, `{"slug":"bella-1","is_paid":true,"business_name":"Bella"}`)
		}
	})
	p, err := c.Publish(context.Background(), domain.NewMenu("Bella"), domain.TemplateClean)
	if err != nil || p.Slug != "bella-1" {
		t.Fatalf("Publish = %+v, %v", p, err)
	}
	qr, err := c.QRCode(context.Background(), p.URL+"?a=1&b=2")
	if err != nil || qr.ContentType != "image/png" || len(qr.Data) != 4 {
		t.Fatalf("QRCode = %+v, %v", qr, err)
	}
	if qrURL != p.URL+"?a=1&b=2" {
		t.Fatalf("qr url not escaped correctly: %q", qrURL)
	}
	st, err := c.MenuStatus(context.Background(), "bella-1")
	if err != nil || !st.IsPaid || st.BusinessName != "Bella" {
		t.Fatalf("MenuStatus = %+v, %v", st, err)
	}
	if got := c.MenuURL("bella-1"); !strings.HasSuffix(got, "/menu/bella-1") || strings.Contains(got, "//menu") {
		t.Fatalf("MenuURL = %q", got)
	}
}

func TestCreateCheckout(t *testing.T) {
	status := http.StatusOK
	body := `{"url":"https://pay.example/s/1"}`
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
	co, err := c.CreateCheckout(context.Background(), "bella-1")
	if err != nil || co.URL != "https://pay.example/s/1" || co.AlreadyPaid {
		t.Fatalf("CreateCheckout = %+v, %v", co, err)
	}

	body = `{"already_paid":true}`
	co, err = c.CreateCheckout(context.Background(), "bella-1")
	if err != nil || !co.AlreadyPaid {
		t.Fatalf("already paid = %+v, %v", co, err)
	}

	status, body = http.StatusServiceUnavailable, `{"detail":"Płatności nie są skonfigurowane"}`
	_, err = c.CreateCheckout(context.Background(), "bella-1")
	var be *Error
	if !errors.As(err, &be) || be.Status != 503 || be.Detail != "Płatności nie są skonfigurowane" || err.Error() != be.Detail {
		t.Fatalf("detail not surfaced: %#v", err)
	}

	status, body = http.StatusInternalServerError, `oops`
	_, err = c.CreateCheckout(context.Background(), "bella-1")
	if err == nil || err.Error() != "Błąd serwera: 500" {
		t.Fatalf("want generic message, got %v", err)
	}
}
