/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package blob

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestStorePutGetRevoke(t *testing.T) {
	s := NewStore()
	data := []byte{1, 2, 3}
	h := s.Put(data, "image/png")
	data[0] = 9
	if !strings.HasPrefix(h.URL, "blob:") || h.ID == "" {
		t.Fatalf("unexpected handle: %+v", h)
	}
	it, err := s.Get(h.ID)
	if err != nil || it.Data[0] != 1 || it.ContentType != "image/png" {
		t.Fatalf("Get = %+v, %v", it, err)
	}
	s.Revoke(h.ID)
	s.Revoke(h.ID)
	if _, err := s.Get(h.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound after revoke, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("store not empty")
	}
}

func TestServerRoutes(t *testing.T) {
	s := NewStore()
	srv := NewServer(s)
	h := s.Put([]byte("qr"), "image/png")
	s.SetPreview("<h1>Bella</h1>")

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/blob/"+h.ID, nil))
	if w.Code != http.StatusOK || w.Body.String() != "qr" || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("blob: code=%d body=%q ct=%q", w.Code, w.Body.String(), w.Header().Get("Content-Type"))
	}

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/preview", nil))
	if w.Code != http.StatusOK || w.Body.String() != "<h1>Bella</h1>" {
		t.Fatalf("preview: code=%d body=%q", w.Code, w.Body.String())
	}

	s.Revoke(h.ID)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/blob/"+h.ID, nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("revoked blob: code=%d", w.Code)
	}
}

func TestServerStart(t *testing.T) {
	s := NewStore()
	srv := NewServer(s)
	base, err := srv.Start("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()
	h := s.Put([]byte("hello"), "text/plain")
	if h.URL != base+"/blob/"+h.ID {
		t.Fatalf("handle URL %q not under %q", h.URL, base)
	}
	resp, err := http.Get(h.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if string(b) != "hello" {
		t.Fatalf("body = %q", b)
	}
}
