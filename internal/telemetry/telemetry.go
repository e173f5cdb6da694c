/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package telemetry provides a tiny, privacy‑respecting, opt‑in event sender
// for anonymous usage metrics and optional crash uploads.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	applog "menuwizard/internal/log"
	"menuwizard/internal/version"

	"github.com/google/uuid"
)

// Event names sent by the wizard. Properties never carry menu content.
const (
	EventMenuParsed       = "menu_parsed"
	EventMenuPublished    = "menu_published"
	EventCheckoutStarted  = "checkout_started"
	EventPaymentConfirmed = "payment_confirmed"
)

// Sink receives usage events. *Client implements it.
type Sink interface {
	Event(name string, props map[string]any)
}

// Config holds runtime configuration for telemetry and crash uploads.
// All telemetry is strictly opt‑in and disabled by default.
//
// Environment variables (read by FromEnv):
// - MW_TELEMETRY_OPT_IN: "1", "true", "yes" to enable metrics
// - MW_TELEMETRY_URL: URL to POST JSON events to (e.g., https://example.com/telemetry)
// - MW_CRASH_UPLOAD_URL: URL to POST crash reports to
// - MW_TELEMETRY_TIMEOUT_MS: optional request timeout, default 1500ms
// - MW_TELEMETRY_DEBUG: if set, logs event send attempts
//
// If no URLs are set, events are dropped (no‑ops), even if opt‑in is true.
type Config struct {
	OptIn        bool
	EventsURL    string
	CrashURL     string
	Timeout      time.Duration
	DebugLogging bool
}

func FromEnv() Config {
	optIn := parseBool(os.Getenv("MW_TELEMETRY_OPT_IN"))
	cfg := Config{
		OptIn:        optIn,
		EventsURL:    strings.TrimSpace(os.Getenv("MW_TELEMETRY_URL")),
		CrashURL:     strings.TrimSpace(os.Getenv("MW_CRASH_UPLOAD_URL")),
		Timeout:      1500 * time.Millisecond,
		DebugLogging: os.Getenv("MW_TELEMETRY_DEBUG") != "",
	}
	if ms := strings.TrimSpace(os.Getenv("MW_TELEMETRY_TIMEOUT_MS")); ms != "" {
		if v, err := time.ParseDuration(ms + "ms"); err == nil {
			cfg.Timeout = v
		}
	}
	return cfg
}

func parseBool(v string) bool {
	s := strings.ToLower(strings.TrimSpace(v))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// maxBatch bounds how many queued events go out in one POST.
const maxBatch = 16

// Client sends events asynchronously in small batches and drops them on any
// error. Enqueueing never blocks; a full queue drops the event.
type Client struct {
	cfg     Config
	session string
	log     *slog.Logger
	cli     *http.Client
	q       chan event
	pending atomic.Int64
	once    sync.Once
	closed  chan struct{}
}

type event struct {
	Name    string         `json:"name"`
	Session string         `json:"session"`
	TS      string         `json:"ts"`
	Version string         `json:"version"`
	OS      string         `json:"os"`
	Arch    string         `json:"arch"`
	Props   map[string]any `json:"props,omitempty"`
}

type batch struct {
	Events []event `json:"events"`
}

var defaultClient *Client
var defaultOnce sync.Once

// InitDefault initializes the package‑level default client from env when first used.
func InitDefault() {
	defaultOnce.Do(func() {
		NewDefault(FromEnv())
	})
}

// NewDefault creates and installs the default client with cfg.
func NewDefault(cfg Config) {
	defaultClient = New(cfg)
}

// SetDefault installs c as the package-level client, so crash uploads follow
// the same opt-in as the caller's events.
func SetDefault(c *Client) {
	defaultOnce.Do(func() {})
	defaultClient = c
}

// New constructs a client and starts its sender.
func New(cfg Config) *Client {
	c := &Client{
		cfg:     cfg,
		session: uuid.NewString(),
		log:     applog.WithComponent("telemetry"),
		cli:     &http.Client{Timeout: cfg.Timeout},
		q:       make(chan event, 64),
		closed:  make(chan struct{}),
	}
	go c.loop()
	return c
}

// Enabled reports whether anonymous telemetry is enabled and an endpoint is configured.
func (c *Client) Enabled() bool { return c != nil && c.cfg.OptIn && c.cfg.EventsURL != "" }

// Enabled reports whether the package-level client is enabled.
func Enabled() bool {
	InitDefault()
	return defaultClient.Enabled()
}

// Event queues a usage event. Props must not carry menu content.
func (c *Client) Event(name string, props map[string]any) {
	if !c.Enabled() || name == "" {
		return
	}
	e := event{
		Name:    name,
		Session: c.session,
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		Version: version.String(),
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
	}
	if len(props) > 0 {
		e.Props = make(map[string]any, len(props))
		for k, v := range props {
			e.Props[k] = v
		}
	}
	c.pending.Add(1)
	select {
	case c.q <- e:
	default:
		c.pending.Add(-1)
	}
}

// MenuParsed records a successful parse; source is "text" or "photo".
func MenuParsed(s Sink, source string) {
	if s != nil {
		s.Event(EventMenuParsed, map[string]any{"source": source})
	}
}

// MenuPublished records a publish with the chosen template.
func MenuPublished(s Sink, template string) {
	if s != nil {
		s.Event(EventMenuPublished, map[string]any{"template": template})
	}
}

func CheckoutStarted(s Sink) {
	if s != nil {
		s.Event(EventCheckoutStarted, nil)
	}
}

func PaymentConfirmed(s Sink) {
	if s != nil {
		s.Event(EventPaymentConfirmed, nil)
	}
}

// Flush waits until queued events have been sent, ctx ends, or a short
// deadline passes.
func (c *Client) Flush(ctx context.Context) {
	if c == nil {
		return
	}
	deadline := time.Now().Add(2 * time.Second)
	for c.pending.Load() > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Close stops the sender. Unsent events are dropped.
func (c *Client) Close() { c.once.Do(func() { close(c.closed) }) }

func (c *Client) loop() {
	for {
		select {
		case <-c.closed:
			return
		case e := <-c.q:
			b := []event{e}
		drain:
			for len(b) < maxBatch {
				select {
				case next := <-c.q:
					b = append(b, next)
				default:
					break drain
				}
			}
			c.send(b)
			c.pending.Add(-int64(len(b)))
		}
	}
}

func (c *Client) send(events []event) {
	buf, err := json.Marshal(batch{Events: events})
	if err != nil {
		return
	}
	if err := c.post(c.cfg.EventsURL, "application/json", buf); err != nil {
		if c.cfg.DebugLogging {
			c.log.Debug("telemetry send failed", slog.Int("events", len(events)), slog.Any("err", err))
		}
		return
	}
	if c.cfg.DebugLogging {
		c.log.Debug("telemetry sent", slog.Int("events", len(events)))
	}
}

func (c *Client) post(url, contentType string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Session-ID", c.session)
	resp, err := c.cli.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telemetry: status %d", resp.StatusCode)
	}
	return nil
}

// UploadCrash posts a crash report to the crash URL when opted in. It runs
// synchronously, bounded by the client timeout, because the process exits
// right after a crash.
func (c *Client) UploadCrash(report []byte) {
	if c == nil || !c.cfg.OptIn || c.cfg.CrashURL == "" {
		return
	}
	if err := c.post(c.cfg.CrashURL, "text/plain; charset=utf-8", report); err != nil {
		if c.cfg.DebugLogging {
			c.log.Debug("crash upload failed", slog.Any("err", err))
		}
		return
	}
	if c.cfg.DebugLogging {
		c.log.Debug("crash report uploaded")
	}
}

// UploadCrash uses the package-level client.
func UploadCrash(report []byte) { InitDefault(); defaultClient.UploadCrash(report) }
