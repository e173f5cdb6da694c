/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package export

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"menuwizard/internal/backend"
	"menuwizard/internal/blob"
	"menuwizard/internal/domain"
	"menuwizard/internal/storage"
)

type fakeService struct {
	mu          sync.Mutex
	publishes   int32
	publishErr  error
	publishGate chan struct{}
	checkout    backend.Checkout
	checkoutErr error
	previewFn   func(tmpl domain.Template) (string, error)
	qrErr       error
	qrURLs      []string
	downloads   int
}

func (f *fakeService) Preview(_ context.Context, _ domain.Menu, tmpl domain.Template) (string, error) {
	if f.previewFn != nil {
		return f.previewFn(tmpl)
	}
	return "<html>" + string(tmpl) + "</html>", nil
}

func (f *fakeService) DownloadPDF(_ context.Context, _ domain.Menu, _ domain.Template) (backend.File, error) {
	f.mu.Lock()
	f.downloads++
	f.mu.Unlock()
	return backend.File{Data: []byte("%PDF"), ContentType: "application/pdf"}, nil
}

func (f *fakeService) Publish(_ context.Context, _ domain.Menu, tmpl domain.Template) (backend.Published, error) {
	n := atomic.AddInt32(&f.publishes, 1)
	if f.publishGate != nil {
		<-f.publishGate
	}
	if f.publishErr != nil {
		return backend.Published{}, f.publishErr
	}
	slug := string(tmpl) + "-" + string(rune('0'+n))
	return backend.Published{Slug: slug, URL: "https://menu.example/m/" + slug}, nil
}

func (f *fakeService) QRCode(_ context.Context, url string) (backend.File, error) {
	if f.qrErr != nil {
		return backend.File{}, f.qrErr
	}
	f.mu.Lock()
	f.qrURLs = append(f.qrURLs, url)
	f.mu.Unlock()
	return backend.File{Data: []byte("png:" + url), ContentType: "image/png"}, nil
}

func (f *fakeService) CreateCheckout(_ context.Context, _ string) (backend.Checkout, error) {
	return f.checkout, f.checkoutErr
}

type memSaver struct {
	files map[string][]byte
}

func (s *memSaver) Save(name string, data []byte) (string, error) {
	if s.files == nil {
		s.files = map[string][]byte{}
	}
	s.files[name] = data
	return "/downloads/" + name, nil
}

type fakeNav struct{ opened []string }

func (n *fakeNav) Open(url string) error { n.opened = append(n.opened, url); return nil }

type fakeClip struct {
	text string
	err  error
}

func (c *fakeClip) WriteText(s string) error {
	if c.err != nil {
		return c.err
	}
	c.text = s
	return nil
}

type fakeRecorder struct {
	records []storage.PublishRecord
	paid    []string
}

func (r *fakeRecorder) RecordPublished(_ context.Context, rec storage.PublishRecord) error {
	r.records = append(r.records, rec)
	return nil
}

func (r *fakeRecorder) MarkPaid(_ context.Context, slug string, _ bool) error {
	r.paid = append(r.paid, slug)
	return nil
}

type fakeEvents struct{ names []string }

func (e *fakeEvents) Event(name string, _ map[string]any) { e.names = append(e.names, name) }

type fixture struct {
	svc    *fakeService
	saver  *memSaver
	nav    *fakeNav
	clip   *fakeClip
	rec    *fakeRecorder
	events *fakeEvents
	blobs  *blob.Store
	toasts *Toasts
	panel  *Panel
}

func newFixture(t *testing.T, svc *fakeService) *fixture {
	t.Helper()
	f := &fixture{
		svc:    svc,
		saver:  &memSaver{},
		nav:    &fakeNav{},
		clip:   &fakeClip{},
		rec:    &fakeRecorder{},
		events: &fakeEvents{},
		blobs:  blob.NewStore(),
		toasts: NewToasts(),
	}
	f.toasts.afterFunc = func(time.Duration, func()) *time.Timer { return time.NewTimer(time.Hour) }
	m := domain.NewMenu("Pizzeria Roma")
	m = domain.AddCategory(m)
	f.panel = NewPanel(m, Options{
		Service:   svc,
		Saver:     f.saver,
		Navigator: f.nav,
		Clipboard: f.clip,
		Recorder:  f.rec,
		Resources: f.blobs,
		Toasts:    f.toasts,
		Events:    f.events,
	})
	t.Cleanup(f.panel.Close)
	return f
}

func (f *fixture) lastToast(t *testing.T) Toast {
	t.Helper()
	active := f.toasts.Active()
	if len(active) == 0 {
		t.Fatalf("no toast posted")
	}
	return active[len(active)-1]
}

func TestPublishIsMemoized(t *testing.T) {
	f := newFixture(t, &fakeService{})
	ctx := context.Background()
	if _, err := f.panel.CopyLink(ctx); err != nil {
		t.Fatalf("copy link: %v", err)
	}
	if _, err := f.panel.ShowQR(ctx); err != nil {
		t.Fatalf("show qr: %v", err)
	}
	if got := atomic.LoadInt32(&f.svc.publishes); got != 1 {
		t.Fatalf("publish requests = %d, want 1", got)
	}
	if f.clip.text != f.svc.qrURLs[0] {
		t.Fatalf("clipboard %q, qr for %q", f.clip.text, f.svc.qrURLs[0])
	}
	if got := f.lastToast(t); got.Message != MsgLinkPublished || got.Kind != ToastSuccess {
		t.Fatalf("toast = %+v", got)
	}
	if len(f.rec.records) != 1 || f.rec.records[0].BusinessName != "Pizzeria Roma" {
		t.Fatalf("records = %+v", f.rec.records)
	}
	if len(f.events.names) != 1 || f.events.names[0] != "menu_published" {
		t.Fatalf("events = %v", f.events.names)
	}
}

func TestConcurrentPublishSharesRequest(t *testing.T) {
	svc := &fakeService{publishGate: make(chan struct{})}
	f := newFixture(t, svc)
	var wg sync.WaitGroup
	slugs := make([]string, 2)
	for i := range slugs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pub, err := f.panel.EnsurePublished(context.Background())
			if err != nil {
				t.Errorf("publish: %v", err)
				return
			}
			slugs[i] = pub.Slug
		}(i)
	}
	// Give both callers time to join the in-flight call.
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&svc.publishes) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(svc.publishGate)
	wg.Wait()
	if got := atomic.LoadInt32(&svc.publishes); got != 1 {
		t.Fatalf("publish requests = %d, want 1", got)
	}
	if slugs[0] != slugs[1] {
		t.Fatalf("slugs differ: %v", slugs)
	}
}

func TestTemplateChangeInvalidatesPublish(t *testing.T) {
	f := newFixture(t, &fakeService{})
	ctx := context.Background()
	qr, err := f.panel.ShowQR(ctx)
	if err != nil {
		t.Fatalf("show qr: %v", err)
	}
	first := f.panel.Published()
	if first == nil {
		t.Fatal("expected published state")
	}
	if err := f.panel.SetTemplate(domain.Template("neon")); err != nil {
		t.Fatalf("set template: %v", err)
	}
	st := f.panel.State()
	if st.Published != nil || st.QR != nil || st.Paid {
		t.Fatalf("state not invalidated: %+v", st)
	}
	if _, err := f.blobs.Get(qr.Handle.ID); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("old qr handle still resolvable: %v", err)
	}
	pub, err := f.panel.EnsurePublished(ctx)
	if err != nil {
		t.Fatalf("republish: %v", err)
	}
	if pub.Slug == first.Slug {
		t.Fatalf("expected a new slug, got %q again", pub.Slug)
	}
	if got := atomic.LoadInt32(&f.svc.publishes); got != 2 {
		t.Fatalf("publish requests = %d, want 2", got)
	}
}

func TestSetTemplateSameOrUnknown(t *testing.T) {
	f := newFixture(t, &fakeService{})
	if _, err := f.panel.EnsurePublished(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := f.panel.SetTemplate(domain.DefaultTemplate); err != nil {
		t.Fatal(err)
	}
	if f.panel.Published() == nil {
		t.Fatal("same template must keep the publish")
	}
	if err := f.panel.SetTemplate("comic-sans"); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestPremiumRedirectsToCheckout(t *testing.T) {
	svc := &fakeService{checkout: backend.Checkout{URL: "https://pay.example/s/1"}}
	f := newFixture(t, svc)
	res, err := f.panel.PremiumDownload(context.Background())
	if err != nil {
		t.Fatalf("premium: %v", err)
	}
	if res.CheckoutURL != svc.checkout.URL || len(f.nav.opened) != 1 {
		t.Fatalf("res=%+v opened=%v", res, f.nav.opened)
	}
	if f.panel.State().Paid {
		t.Fatal("not paid yet")
	}
	if svc.downloads != 0 {
		t.Fatal("no download expected before payment")
	}
}

func TestPremiumAlreadyPaidDownloads(t *testing.T) {
	svc := &fakeService{checkout: backend.Checkout{AlreadyPaid: true}}
	f := newFixture(t, svc)
	res, err := f.panel.PremiumDownload(context.Background())
	if err != nil {
		t.Fatalf("premium: %v", err)
	}
	if res.Path != "/downloads/menu.pdf" || len(f.nav.opened) != 0 {
		t.Fatalf("res=%+v opened=%v", res, f.nav.opened)
	}
	if !f.panel.State().Paid {
		t.Fatal("expected paid")
	}
	if len(f.rec.paid) != 1 {
		t.Fatalf("mark paid calls = %v", f.rec.paid)
	}
	if got := strings.Join(f.events.names, ","); got != "menu_published,checkout_started,payment_confirmed" {
		t.Fatalf("events = %s", got)
	}
	if got := f.lastToast(t); got.Message != MsgDownloadStarted {
		t.Fatalf("toast = %+v", got)
	}
}

func TestPremiumErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"unavailable", &backend.Error{Kind: backend.KindRejected, Status: 503, Message: "Płatności niedostępne"}, MsgPaymentsDisabled},
		{"detail", &backend.Error{Kind: backend.KindRejected, Status: 400, Message: "Płatności nie są skonfigurowane"}, MsgPaymentsDisabled},
		{"other", &backend.Error{Kind: backend.KindRejected, Status: 500, Message: "Błąd serwera: 500"}, MsgPaymentFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, &fakeService{checkoutErr: tc.err})
			if _, err := f.panel.PremiumDownload(context.Background()); err == nil {
				t.Fatal("expected error")
			}
			if got := f.lastToast(t); got.Message != tc.want || got.Kind != ToastError {
				t.Fatalf("toast = %+v, want %q", got, tc.want)
			}
		})
	}
}

func TestDownloadSavesAndToasts(t *testing.T) {
	f := newFixture(t, &fakeService{})
	path, err := f.panel.Download(context.Background())
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if path != "/downloads/menu.pdf" || string(f.saver.files["menu.pdf"]) != "%PDF" {
		t.Fatalf("path=%q files=%v", path, f.saver.files)
	}
	if atomic.LoadInt32(&f.svc.publishes) != 0 {
		t.Fatal("free download must not publish")
	}
	if got := f.lastToast(t); got.Message != MsgDownloadStarted {
		t.Fatalf("toast = %+v", got)
	}
}

func TestPreviewFailureShowsMarkup(t *testing.T) {
	f := newFixture(t, &fakeService{previewFn: func(domain.Template) (string, error) {
		return "", errors.New("down")
	}})
	html, err := f.panel.RefreshPreview(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if html != PreviewErrorMarkup || f.blobs.Preview() != PreviewErrorMarkup {
		t.Fatalf("html = %q", html)
	}
	st := f.panel.State()
	if !st.PreviewFailed || st.PreviewLoading {
		t.Fatalf("state = %+v", st)
	}
}

func TestStalePreviewIsDropped(t *testing.T) {
	slow := make(chan struct{})
	started := make(chan struct{})
	svc := &fakeService{previewFn: func(tmpl domain.Template) (string, error) {
		if tmpl == domain.DefaultTemplate {
			close(started)
			<-slow
		}
		return "<p>" + string(tmpl) + "</p>", nil
	}}
	f := newFixture(t, svc)
	done := make(chan string)
	go func() {
		html, _ := f.panel.RefreshPreview(context.Background())
		done <- html
	}()
	<-started
	if err := f.panel.SetTemplate("neon"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.panel.RefreshPreview(context.Background()); err != nil {
		t.Fatal(err)
	}
	close(slow)
	if got := <-done; got != "<p>neon</p>" {
		t.Fatalf("stale call returned %q", got)
	}
	st := f.panel.State()
	if st.Preview != "<p>neon</p>" || st.PreviewLoading {
		t.Fatalf("state = %+v", st)
	}
}

func TestStaleFailedPreviewKeepsNewerResult(t *testing.T) {
	slow := make(chan struct{})
	started := make(chan struct{})
	svc := &fakeService{previewFn: func(tmpl domain.Template) (string, error) {
		if tmpl == domain.DefaultTemplate {
			close(started)
			<-slow
			return "", errors.New("timeout")
		}
		return "<p>" + string(tmpl) + "</p>", nil
	}}
	f := newFixture(t, svc)
	done := make(chan error)
	go func() {
		_, err := f.panel.RefreshPreview(context.Background())
		done <- err
	}()
	<-started
	if err := f.panel.SetTemplate("neon"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.panel.RefreshPreview(context.Background()); err != nil {
		t.Fatal(err)
	}
	close(slow)
	if err := <-done; err == nil {
		t.Fatal("stale call should still report its own error")
	}
	st := f.panel.State()
	if st.PreviewFailed || st.PreviewLoading || st.Preview != "<p>neon</p>" || f.blobs.Preview() != "<p>neon</p>" {
		t.Fatalf("stale failure leaked into state: %+v", st)
	}
}

func TestQRFailureAndSave(t *testing.T) {
	f := newFixture(t, &fakeService{qrErr: errors.New("boom")})
	if _, err := f.panel.ShowQR(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if got := f.lastToast(t); got.Message != MsgQRFailed {
		t.Fatalf("toast = %+v", got)
	}
	if _, err := f.panel.SaveQR(); err == nil {
		t.Fatal("save without QR must fail")
	}

	f = newFixture(t, &fakeService{})
	qr, err := f.panel.ShowQR(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !qr.Open || !strings.HasPrefix(qr.Handle.URL, "blob:") {
		t.Fatalf("qr = %+v", qr)
	}
	f.panel.CloseQR()
	if f.panel.State().QR.Open {
		t.Fatal("overlay still open")
	}
	path, err := f.panel.SaveQR()
	if err != nil || path != "/downloads/"+QRFileName {
		t.Fatalf("save qr: %q %v", path, err)
	}
	if err := f.panel.CopyPublishedLink(); err != nil {
		t.Fatal(err)
	}
	if got := f.lastToast(t); got.Message != MsgLinkCopied {
		t.Fatalf("toast = %+v", got)
	}
}

func TestCopyLinkClipboardFailure(t *testing.T) {
	f := newFixture(t, &fakeService{})
	f.clip.err = errors.New("no display")
	if _, err := f.panel.CopyLink(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if got := f.lastToast(t); got.Message != MsgLinkCopyFailed {
		t.Fatalf("toast = %+v", got)
	}
	if err := (&Panel{opts: Options{Toasts: NewToasts()}, busy: map[string]bool{}}).CopyPublishedLink(); !errors.Is(err, ErrNotPublished) {
		t.Fatalf("err = %v", err)
	}
}

func TestSeededPublishSkipsRequest(t *testing.T) {
	svc := &fakeService{}
	p := NewPanel(domain.NewMenu("X"), Options{
		Service:   svc,
		Saver:     &memSaver{},
		Resources: blob.NewStore(),
		Published: &backend.Published{Slug: "abc", URL: "https://menu.example/m/abc"},
		Paid:      true,
	})
	defer p.Close()
	pub, err := p.EnsurePublished(context.Background())
	if err != nil || pub.Slug != "abc" {
		t.Fatalf("pub=%+v err=%v", pub, err)
	}
	if atomic.LoadInt32(&svc.publishes) != 0 || !p.State().Paid {
		t.Fatal("seeded state not used")
	}
}

func TestToastsExpire(t *testing.T) {
	ts := NewToasts()
	var fire []func()
	ts.afterFunc = func(_ time.Duration, fn func()) *time.Timer {
		fire = append(fire, fn)
		return time.NewTimer(time.Hour)
	}
	var seen int
	ts.OnChange(func(items []Toast) { seen = len(items) })
	ts.Post(ToastInfo, "a")
	ts.Post(ToastError, "b")
	if seen != 2 {
		t.Fatalf("seen = %d", seen)
	}
	fire[0]()
	active := ts.Active()
	if len(active) != 1 || active[0].Message != "b" {
		t.Fatalf("active = %+v", active)
	}
	ts.Dismiss(999)
	fire[1]()
	if len(ts.Active()) != 0 || seen != 0 {
		t.Fatalf("active = %+v seen=%d", ts.Active(), seen)
	}
	ts.Close()
}
