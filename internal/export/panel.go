/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package export implements the Style step: a live preview kept in sync with
// the template, free and premium downloads, publishing (memoized until the
// template changes), the QR overlay and link sharing. Every action resolves
// to a transient notification; only a failed preview shows inline.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"menuwizard/internal/backend"
	"menuwizard/internal/blob"
	"menuwizard/internal/domain"
	applog "menuwizard/internal/log"
	"menuwizard/internal/storage"
	"menuwizard/internal/telemetry"

	"golang.org/x/sync/singleflight"
)

// Notification texts.
const (
	MsgDownloadStarted  = "Pobieranie rozpoczęte!"
	MsgDownloadFailed   = "Błąd pobierania. Spróbuj ponownie."
	MsgPaymentsDisabled = "Płatności nie są jeszcze skonfigurowane. Użyj darmowego pobierania."
	MsgPaymentFailed    = "Błąd płatności. Spróbuj ponownie."
	MsgQRFailed         = "Błąd generowania kodu QR."
	MsgLinkPublished    = "Menu opublikowane! Link skopiowany."
	MsgLinkCopyFailed   = "Nie udało się skopiować linku."
	MsgLinkCopied       = "Link skopiowany!"

	// PreviewErrorMarkup replaces the preview when it cannot be loaded.
	PreviewErrorMarkup = `<p style="color:red;padding:2rem;">Błąd ładowania podglądu</p>`

	QRFileName = "menu-qr.png"
)

// ErrBusy is returned when the same action is already running.
var ErrBusy = errors.New("export: action already in progress")

// ErrNotPublished is returned by actions that need a prior publish.
var ErrNotPublished = errors.New("export: menu not published")

// Service is the part of the backend the panel calls.
type Service interface {
	Preview(ctx context.Context, m domain.Menu, tmpl domain.Template) (string, error)
	DownloadPDF(ctx context.Context, m domain.Menu, tmpl domain.Template) (backend.File, error)
	Publish(ctx context.Context, m domain.Menu, tmpl domain.Template) (backend.Published, error)
	QRCode(ctx context.Context, url string) (backend.File, error)
	CreateCheckout(ctx context.Context, slug string) (backend.Checkout, error)
}

// Saver stores a downloaded file and returns where it went.
type Saver interface {
	Save(name string, data []byte) (string, error)
}

// Navigator opens an external URL (the payment page).
type Navigator interface {
	Open(url string) error
}

// Clipboard receives shared links.
type Clipboard interface {
	WriteText(s string) error
}

// Recorder keeps the local history of published menus.
type Recorder interface {
	RecordPublished(ctx context.Context, r storage.PublishRecord) error
	MarkPaid(ctx context.Context, slug string, paid bool) error
}

// Resources holds revocable local handles.
type Resources interface {
	Put(data []byte, contentType string) blob.Handle
	Get(id string) (blob.Item, error)
	Revoke(id string)
	SetPreview(html string)
}

// Options wires a Panel. Service, Saver and Resources are required.
type Options struct {
	Service   Service
	Saver     Saver
	Navigator Navigator
	Clipboard Clipboard
	Recorder  Recorder
	Resources Resources
	Toasts    *Toasts
	Events    telemetry.Sink
	Template  domain.Template
	// Published seeds the memoized publish of an earlier session.
	Published *backend.Published
	Paid      bool
}

// QR is the overlay state of a generated QR image.
type QR struct {
	Handle blob.Handle
	URL    string // the published menu URL it encodes
	Open   bool
}

// State is a read-only copy of the panel for rendering.
type State struct {
	Template       domain.Template
	Preview        string
	PreviewLoading bool
	PreviewFailed  bool
	Published      *backend.Published
	Paid           bool
	QR             *QR
	Busy           []string
}

// PremiumResult tells what a premium download did.
type PremiumResult struct {
	CheckoutURL string // set when the user was sent to the payment page
	Path        string // set when the file was downloaded directly
}

// Panel is the Style step for one document. A new Panel is created each
// time the wizard enters Style; the document is never modified here.
type Panel struct {
	opts Options
	menu domain.Menu
	log  *slog.Logger
	sf   singleflight.Group

	mu        sync.Mutex
	template  domain.Template
	published *backend.Published
	paid      bool
	qr        *QR
	// gen changes with the template; a publish started under an older
	// generation is not cached.
	gen uint64

	previewSeq     uint64
	previewApplied uint64
	preview        string
	previewFailed  bool

	busy     map[string]bool
	onChange func()
}

// NewPanel creates the panel for m.
func NewPanel(m domain.Menu, opts Options) *Panel {
	if opts.Toasts == nil {
		opts.Toasts = NewToasts()
	}
	tmpl := opts.Template
	if !domain.ValidTemplate(tmpl) {
		tmpl = domain.DefaultTemplate
	}
	p := &Panel{
		opts:     opts,
		menu:     m.Normalize(),
		log:      applog.WithComponent("export"),
		template: tmpl,
		paid:     opts.Paid,
		busy:     make(map[string]bool),
	}
	if opts.Published != nil && opts.Published.Slug != "" {
		pub := *opts.Published
		p.published = &pub
	}
	return p
}

// Toasts returns the panel's notifications.
func (p *Panel) Toasts() *Toasts { return p.opts.Toasts }

// OnChange registers a callback invoked after every state change.
func (p *Panel) OnChange(fn func()) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// State returns the current panel state.
func (p *Panel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := State{
		Template:       p.template,
		Preview:        p.preview,
		PreviewLoading: p.previewApplied < p.previewSeq,
		PreviewFailed:  p.previewFailed,
		Paid:           p.paid,
	}
	if p.published != nil {
		pub := *p.published
		st.Published = &pub
	}
	if p.qr != nil {
		qr := *p.qr
		st.QR = &qr
	}
	for k, v := range p.busy {
		if v {
			st.Busy = append(st.Busy, k)
		}
	}
	return st
}

// Published returns the memoized publish result, or nil.
func (p *Panel) Published() *backend.Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.published == nil {
		return nil
	}
	pub := *p.published
	return &pub
}

// SetTemplate selects a template. A different template drops the cached
// publish, the paid flag and the QR image; call RefreshPreview afterwards.
func (p *Panel) SetTemplate(t domain.Template) error {
	if !domain.ValidTemplate(t) {
		return fmt.Errorf("export: unknown template %q", t)
	}
	p.mu.Lock()
	if t == p.template {
		p.mu.Unlock()
		return nil
	}
	p.template = t
	p.gen++
	p.published = nil
	p.paid = false
	p.releaseQRLocked()
	p.mu.Unlock()
	p.log.Debug("template changed", slog.String("template", string(t)))
	p.changed()
	return nil
}

// RefreshPreview renders the current document and template. Responses older
// than the latest applied one are dropped. On failure the preview becomes
// PreviewErrorMarkup and the error is returned.
func (p *Panel) RefreshPreview(ctx context.Context) (string, error) {
	p.mu.Lock()
	p.previewSeq++
	seq := p.previewSeq
	tmpl := p.template
	p.mu.Unlock()
	p.changed()

	html, err := p.opts.Service.Preview(ctx, p.menu, tmpl)
	failed := err != nil
	if failed {
		p.log.Warn("preview failed", slog.String("template", string(tmpl)), slog.Any("err", err))
		html = PreviewErrorMarkup
	}

	p.mu.Lock()
	if seq <= p.previewApplied {
		cur := p.preview
		p.mu.Unlock()
		p.log.Debug("dropping stale preview", slog.Uint64("seq", seq))
		return cur, err
	}
	p.previewApplied = seq
	p.preview = html
	p.previewFailed = failed
	p.mu.Unlock()
	if p.opts.Resources != nil {
		p.opts.Resources.SetPreview(html)
	}
	p.changed()
	return html, err
}

// Download fetches the watermarked file and saves it. No publish is needed.
func (p *Panel) Download(ctx context.Context) (string, error) {
	if !p.acquire("download") {
		return "", ErrBusy
	}
	defer p.release("download")
	path, err := p.download(ctx)
	if err != nil {
		p.toast(ToastError, MsgDownloadFailed)
		return "", err
	}
	p.toast(ToastSuccess, MsgDownloadStarted)
	return path, nil
}

func (p *Panel) download(ctx context.Context) (string, error) {
	tmpl := p.currentTemplate()
	f, err := p.opts.Service.DownloadPDF(ctx, p.menu, tmpl)
	if err != nil {
		p.log.Warn("download failed", slog.Any("err", err))
		return "", err
	}
	path, err := p.opts.Saver.Save(f.DownloadName(), f.Data)
	if err != nil {
		p.log.Warn("saving download failed", slog.Any("err", err))
		return "", err
	}
	p.log.Info("menu downloaded", slog.String("path", path), slog.Bool("pdf", f.IsPDF()))
	return path, nil
}

// PremiumDownload publishes (once), opens a checkout session and either
// sends the user to the payment page or, when the slug is already paid,
// downloads directly.
func (p *Panel) PremiumDownload(ctx context.Context) (PremiumResult, error) {
	if !p.acquire("premium") {
		return PremiumResult{}, ErrBusy
	}
	defer p.release("premium")

	res, err := p.premium(ctx)
	if err != nil {
		if paymentsDisabled(err) {
			p.toast(ToastError, MsgPaymentsDisabled)
		} else {
			p.toast(ToastError, MsgPaymentFailed)
		}
		return PremiumResult{}, err
	}
	return res, nil
}

func (p *Panel) premium(ctx context.Context) (PremiumResult, error) {
	pub, err := p.EnsurePublished(ctx)
	if err != nil {
		return PremiumResult{}, err
	}
	telemetry.CheckoutStarted(p.opts.Events)
	co, err := p.opts.Service.CreateCheckout(ctx, pub.Slug)
	if err != nil {
		p.log.Warn("checkout failed", slog.String("slug", pub.Slug), slog.Any("err", err))
		return PremiumResult{}, err
	}
	if co.AlreadyPaid {
		p.markPaid(ctx, pub.Slug)
		path, err := p.download(ctx)
		if err != nil {
			return PremiumResult{}, err
		}
		p.toast(ToastSuccess, MsgDownloadStarted)
		return PremiumResult{Path: path}, nil
	}
	if co.URL == "" {
		return PremiumResult{}, errors.New("export: checkout returned neither url nor already_paid")
	}
	if p.opts.Navigator != nil {
		if err := p.opts.Navigator.Open(co.URL); err != nil {
			return PremiumResult{}, fmt.Errorf("open checkout: %w", err)
		}
	}
	return PremiumResult{CheckoutURL: co.URL}, nil
}

// paymentsDisabled matches a 503 or the server's "not configured" detail.
func paymentsDisabled(err error) bool {
	var be *backend.Error
	if errors.As(err, &be) && be.Status == 503 {
		return true
	}
	return strings.Contains(err.Error(), "503") || strings.Contains(err.Error(), "skonfigurowane")
}

// ShowQR publishes (once), fetches the QR image for the published URL and
// opens the overlay. A previous QR handle is released.
func (p *Panel) ShowQR(ctx context.Context) (QR, error) {
	if !p.acquire("qr") {
		return QR{}, ErrBusy
	}
	defer p.release("qr")

	qr, err := p.showQR(ctx)
	if err != nil {
		p.toast(ToastError, MsgQRFailed)
		return QR{}, err
	}
	return qr, nil
}

func (p *Panel) showQR(ctx context.Context) (QR, error) {
	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()
	pub, err := p.EnsurePublished(ctx)
	if err != nil {
		return QR{}, err
	}
	f, err := p.opts.Service.QRCode(ctx, pub.URL)
	if err != nil {
		p.log.Warn("qr failed", slog.Any("err", err))
		return QR{}, err
	}
	ct := f.ContentType
	if ct == "" {
		ct = "image/png"
	}
	h := p.opts.Resources.Put(f.Data, ct)
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		p.opts.Resources.Revoke(h.ID)
		return QR{}, errors.New("export: template changed while generating the QR code")
	}
	p.releaseQRLocked()
	p.qr = &QR{Handle: h, URL: pub.URL, Open: true}
	qr := *p.qr
	p.mu.Unlock()
	p.changed()
	return qr, nil
}

// CloseQR hides the overlay. The image stays available until replaced.
func (p *Panel) CloseQR() {
	p.mu.Lock()
	if p.qr != nil {
		p.qr.Open = false
	}
	p.mu.Unlock()
	p.changed()
}

// SaveQR writes the current QR image as menu-qr.png.
func (p *Panel) SaveQR() (string, error) {
	p.mu.Lock()
	qr := p.qr
	p.mu.Unlock()
	if qr == nil {
		return "", errors.New("export: no QR code")
	}
	it, err := p.opts.Resources.Get(qr.Handle.ID)
	if err != nil {
		return "", err
	}
	return p.opts.Saver.Save(QRFileName, it.Data)
}

// CopyLink publishes (once) and copies the public URL.
func (p *Panel) CopyLink(ctx context.Context) (string, error) {
	pub, err := p.EnsurePublished(ctx)
	if err == nil {
		err = p.copy(pub.URL)
	}
	if err != nil {
		p.toast(ToastError, MsgLinkCopyFailed)
		return "", err
	}
	p.toast(ToastSuccess, MsgLinkPublished)
	return pub.URL, nil
}

// CopyPublishedLink copies the already published URL from the QR overlay.
func (p *Panel) CopyPublishedLink() error {
	pub := p.Published()
	if pub == nil {
		return ErrNotPublished
	}
	if err := p.copy(pub.URL); err != nil {
		p.toast(ToastError, MsgLinkCopyFailed)
		return err
	}
	p.toast(ToastSuccess, MsgLinkCopied)
	return nil
}

func (p *Panel) copy(s string) error {
	if p.opts.Clipboard == nil {
		return errors.New("export: no clipboard")
	}
	return p.opts.Clipboard.WriteText(s)
}

// EnsurePublished returns the cached publish result or publishes now.
// Concurrent callers share one request.
func (p *Panel) EnsurePublished(ctx context.Context) (backend.Published, error) {
	p.mu.Lock()
	if p.published != nil {
		pub := *p.published
		p.mu.Unlock()
		return pub, nil
	}
	gen, tmpl := p.gen, p.template
	p.mu.Unlock()

	v, err, _ := p.sf.Do(fmt.Sprintf("publish-%d", gen), func() (any, error) {
		return p.opts.Service.Publish(ctx, p.menu, tmpl)
	})
	if err != nil {
		p.log.Warn("publish failed", slog.Any("err", err))
		return backend.Published{}, err
	}
	pub := v.(backend.Published)

	p.mu.Lock()
	first := false
	if gen == p.gen && p.published == nil {
		cp := pub
		p.published = &cp
		first = true
	}
	p.mu.Unlock()
	if first {
		p.log.Info("menu published", slog.String("slug", pub.Slug), slog.String("template", string(tmpl)))
		telemetry.MenuPublished(p.opts.Events, string(tmpl))
		if p.opts.Recorder != nil {
			rec := storage.PublishRecord{Slug: pub.Slug, URL: pub.URL, Template: string(tmpl), BusinessName: p.menu.BusinessName}
			if err := p.opts.Recorder.RecordPublished(ctx, rec); err != nil {
				p.log.Warn("recording publish failed", slog.Any("err", err))
			}
		}
		p.changed()
	}
	return pub, nil
}

// Close releases the QR handle and pending notifications.
func (p *Panel) Close() {
	p.mu.Lock()
	p.releaseQRLocked()
	p.mu.Unlock()
	p.opts.Toasts.Close()
}

func (p *Panel) markPaid(ctx context.Context, slug string) {
	p.mu.Lock()
	if p.published != nil && p.published.Slug == slug {
		p.paid = true
	}
	p.mu.Unlock()
	telemetry.PaymentConfirmed(p.opts.Events)
	if p.opts.Recorder != nil {
		if err := p.opts.Recorder.MarkPaid(ctx, slug, true); err != nil {
			p.log.Warn("recording payment failed", slog.Any("err", err))
		}
	}
	p.changed()
}

func (p *Panel) releaseQRLocked() {
	if p.qr != nil && p.opts.Resources != nil {
		p.opts.Resources.Revoke(p.qr.Handle.ID)
	}
	p.qr = nil
}

func (p *Panel) currentTemplate() domain.Template {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.template
}

func (p *Panel) acquire(action string) bool {
	p.mu.Lock()
	if p.busy[action] {
		p.mu.Unlock()
		return false
	}
	p.busy[action] = true
	p.mu.Unlock()
	p.changed()
	return true
}

func (p *Panel) release(action string) {
	p.mu.Lock()
	delete(p.busy, action)
	p.mu.Unlock()
	p.changed()
}

func (p *Panel) toast(kind ToastKind, msg string) {
	p.opts.Toasts.Post(kind, msg)
}

func (p *Panel) changed() {
	p.mu.Lock()
	fn := p.onChange
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}
