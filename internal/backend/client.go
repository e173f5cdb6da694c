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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"menuwizard/internal/domain"
	applog "menuwizard/internal/log"

	"github.com/google/uuid"
)

// DefaultTimeout bounds a single request. Parsing with the AI backend is slow.
const DefaultTimeout = 60 * time.Second

// Client talks to the menu backend. Every method is a single request with no
// retry; failures come back as *Error.
type Client struct {
	BaseURL string
	Token   string // bearer token, optional
	client  *http.Client
}

// NewClient creates a new backend client. baseURL may include a trailing slash; it will be normalized.
// A non-positive timeout selects DefaultTimeout.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// SetHTTPClient replaces the underlying HTTP client (custom transport, TLS settings).
func (c *Client) SetHTTPClient(h *http.Client) {
	if h != nil {
		c.client = h
	}
}

// MenuURL is the public page of a published menu.
func (c *Client) MenuURL(slug string) string {
	return c.BaseURL + "/menu/" + url.PathEscape(slug)
}

// ParseText sends free-form menu text for AI parsing.
func (c *Client) ParseText(ctx context.Context, text, businessName string, menuType domain.MenuType) (domain.Menu, error) {
	const op = "parse"
	body, err := json.Marshal(parseRequest{Text: text, BusinessName: businessName, MenuType: string(menuType)})
	if err != nil {
		return domain.Menu{}, err
	}
	resp, err := c.do(ctx, op, http.MethodPost, "/api/parse", "application/json", bytes.NewReader(body))
	if err != nil {
		return domain.Menu{}, err
	}
	defer resp.Body.Close()
	if !ok(resp) {
		return domain.Menu{}, c.fail(op, statusErr(op, resp.StatusCode, MsgParseText))
	}
	return c.decodeMenu(op, resp.Body)
}

// ParsePhoto uploads a photo of a menu for AI parsing. The photo is validated
// before anything is sent.
func (c *Client) ParsePhoto(ctx context.Context, p Photo, businessName string, menuType domain.MenuType) (domain.Menu, error) {
	const op = "parse-photo"
	if err := ValidateUpload(int64(len(p.Data)), p.ContentType); err != nil {
		return domain.Menu{}, err
	}
	if strings.TrimSpace(businessName) == "" {
		businessName = "Moja Firma"
	}
	if menuType == "" {
		menuType = domain.MenuPriceList
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	name := p.Filename
	if name == "" {
		name = "menu"
	}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	ct := p.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	fw, err := mw.CreatePart(h)
	if err != nil {
		return domain.Menu{}, err
	}
	if _, err := fw.Write(p.Data); err != nil {
		return domain.Menu{}, err
	}
	if err := mw.WriteField("business_name", businessName); err != nil {
		return domain.Menu{}, err
	}
	if err := mw.WriteField("menu_type", string(menuType)); err != nil {
		return domain.Menu{}, err
	}
	if err := mw.Close(); err != nil {
		return domain.Menu{}, err
	}

	resp, err := c.do(ctx, op, http.MethodPost, "/api/parse-photo", mw.FormDataContentType(), &buf)
	if err != nil {
		return domain.Menu{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusBadRequest {
		return domain.Menu{}, c.fail(op, &Error{Op: op, Kind: KindUnreadable, Status: resp.StatusCode, Message: MsgUnreadable})
	}
	if !ok(resp) {
		return domain.Menu{}, c.fail(op, statusErr(op, resp.StatusCode, ""))
	}
	return c.decodeMenu(op, resp.Body)
}

// Preview renders the menu with a template and returns the HTML markup.
func (c *Client) Preview(ctx context.Context, m domain.Menu, tmpl domain.Template) (string, error) {
	f, err := c.postMenu(ctx, "preview", "/api/preview", m, tmpl)
	if err != nil {
		return "", err
	}
	return string(f.Data), nil
}

// DownloadPDF fetches the watermarked export. The server may fall back to
// HTML; check File.IsPDF.
func (c *Client) DownloadPDF(ctx context.Context, m domain.Menu, tmpl domain.Template) (File, error) {
	return c.postMenu(ctx, "download-pdf", "/api/download-pdf", m, tmpl)
}

// Publish stores the menu server-side and returns its slug and public URL.
func (c *Client) Publish(ctx context.Context, m domain.Menu, tmpl domain.Template) (Published, error) {
	const op = "publish"
	f, err := c.postMenu(ctx, op, "/api/publish", m, tmpl)
	if err != nil {
		return Published{}, err
	}
	var p Published
	if err := json.Unmarshal(f.Data, &p); err != nil {
		return Published{}, c.fail(op, malformedErr(op, err))
	}
	if p.Slug == "" {
		return Published{}, c.fail(op, malformedErr(op, errors.New("empty slug")))
	}
	return p, nil
}

// QRCode returns a QR image encoding the given URL.
func (c *Client) QRCode(ctx context.Context, target string) (File, error) {
	const op = "qr"
	resp, err := c.do(ctx, op, http.MethodGet, "/api/qr?url="+url.QueryEscape(target), "", nil)
	if err != nil {
		return File{}, err
	}
	defer resp.Body.Close()
	return c.readFile(op, resp)
}

// CreateCheckout opens a payment session for a published slug. Rejections
// carry the server's detail message when there is one.
func (c *Client) CreateCheckout(ctx context.Context, slug string) (Checkout, error) {
	const op = "create-checkout"
	body, err := json.Marshal(checkoutRequest{Slug: slug})
	if err != nil {
		return Checkout{}, err
	}
	resp, err := c.do(ctx, op, http.MethodPost, "/api/create-checkout", "application/json", bytes.NewReader(body))
	if err != nil {
		return Checkout{}, err
	}
	defer resp.Body.Close()
	if !ok(resp) {
		var d detailBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&d)
		e := statusErr(op, resp.StatusCode, "")
		if s, isStr := d.Detail.(string); isStr && s != "" {
			e.Detail = s
			e.Message = s
		}
		return Checkout{}, c.fail(op, e)
	}
	var out Checkout
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Checkout{}, c.fail(op, malformedErr(op, err))
	}
	return out, nil
}

// MenuStatus reports whether a published menu has been paid for.
func (c *Client) MenuStatus(ctx context.Context, slug string) (MenuStatus, error) {
	const op = "menu-status"
	resp, err := c.do(ctx, op, http.MethodGet, "/api/menu-status/"+url.PathEscape(slug), "", nil)
	if err != nil {
		return MenuStatus{}, err
	}
	defer resp.Body.Close()
	if !ok(resp) {
		return MenuStatus{}, c.fail(op, statusErr(op, resp.StatusCode, ""))
	}
	var st MenuStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return MenuStatus{}, c.fail(op, malformedErr(op, err))
	}
	return st, nil
}

func (c *Client) postMenu(ctx context.Context, op, path string, m domain.Menu, tmpl domain.Template) (File, error) {
	body, err := json.Marshal(menuRequest{Menu: m.Normalize(), Template: string(tmpl)})
	if err != nil {
		return File{}, err
	}
	resp, err := c.do(ctx, op, http.MethodPost, path, "application/json", bytes.NewReader(body))
	if err != nil {
		return File{}, err
	}
	defer resp.Body.Close()
	return c.readFile(op, resp)
}

func (c *Client) readFile(op string, resp *http.Response) (File, error) {
	if !ok(resp) {
		return File{}, c.fail(op, statusErr(op, resp.StatusCode, ""))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return File{}, c.fail(op, connErr(op, err))
	}
	return File{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

func (c *Client) decodeMenu(op string, r io.Reader) (domain.Menu, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return domain.Menu{}, c.fail(op, connErr(op, err))
	}
	m, err := domain.DecodeJSON(data)
	if err != nil {
		return domain.Menu{}, c.fail(op, malformedErr(op, err))
	}
	return m, nil
}

// do sends one request. Transport failures are returned as connection errors.
func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader) (*http.Response, error) {
	reqID := uuid.NewString()
	l := c.logger(op).With(slog.String("request_id", reqID))
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, connErr(op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-Request-ID", reqID)
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	l.Debug("request", slog.String("method", method), slog.String("path", req.URL.Path))
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		l.Warn("request failed", slog.String("error", err.Error()))
		return nil, connErr(op, err)
	}
	l.Debug("response", slog.Int("status", resp.StatusCode), slog.Duration("took", time.Since(start)))
	return resp, nil
}

func (c *Client) fail(op string, e *Error) *Error {
	attrs := []any{slog.String("kind", e.Kind.String())}
	if e.Status != 0 {
		attrs = append(attrs, slog.Int("status", e.Status))
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("error", e.Err.Error()))
	}
	c.logger(op).Warn("backend call failed", attrs...)
	return e
}

func (c *Client) logger(op string) *slog.Logger {
	return applog.WithOperation(applog.WithComponent("backend"), op)
}

func ok(resp *http.Response) bool { return resp.StatusCode >= 200 && resp.StatusCode < 300 }
