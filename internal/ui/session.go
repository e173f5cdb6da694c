/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"menuwizard/internal/backend"
	"menuwizard/internal/blob"
	"menuwizard/internal/domain"
	"menuwizard/internal/editor"
	"menuwizard/internal/export"
	applog "menuwizard/internal/log"
	"menuwizard/internal/payment"
	"menuwizard/internal/storage"
	"menuwizard/internal/telemetry"
	"menuwizard/internal/wizard"
)

// Backend is everything a session asks of the remote service. *backend.Client
// implements it.
type Backend interface {
	wizard.Parser
	export.Service
	payment.StatusFetcher
}

// Deps are the collaborators shared by the desktop UI and the CLI.
type Deps struct {
	Backend   Backend
	Downloads storage.Downloads
	History   *storage.History // optional
	Blobs     *blob.Store
	Events    telemetry.Sink
	Clipboard export.Clipboard
	Navigator export.Navigator
	// Template is used for sessions that have not chosen one yet.
	Template domain.Template
	// Zero values fall back to the payment package defaults.
	PollInterval time.Duration
	PollAttempts int
}

// Session is one wizard run persisted in a directory.
type Session struct {
	Handle *storage.DraftHandle
	Wizard *wizard.Controller
	Editor *editor.Editor

	deps Deps
	log  *slog.Logger

	mu    sync.Mutex
	panel *export.Panel
}

// OpenSession restores the session stored in dir or starts a new one there.
func OpenSession(dir string, deps Deps) (*Session, error) {
	if deps.Backend == nil {
		return nil, errors.New("session: backend is required")
	}
	if deps.Blobs == nil {
		deps.Blobs = blob.NewStore()
	}
	l := applog.WithComponent("session")
	var (
		h   *storage.DraftHandle
		ctl *wizard.Controller
		err error
	)
	if exists(storage.DraftPath(dir)) {
		h, err = storage.OpenDraft(dir)
		if err != nil {
			return nil, err
		}
		ctl, err = wizard.Restore(deps.Backend, h.Draft)
		if err != nil {
			return nil, fmt.Errorf("restore session: %w", err)
		}
		l.Debug("session restored", slog.String("dir", dir), slog.String("step", h.Draft.Step))
	} else {
		ctl = wizard.New(deps.Backend)
		if domain.ValidTemplate(deps.Template) {
			_ = ctl.SetTemplate(deps.Template)
		}
		h, err = storage.InitDraft(dir, ctl.Draft())
		if err != nil {
			return nil, err
		}
		l.Debug("session created", slog.String("dir", dir))
	}
	ctl.Events = deps.Events
	return &Session{Handle: h, Wizard: ctl, Editor: editor.New(ctl), deps: deps, log: l}, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Save persists the wizard state.
func (s *Session) Save() error {
	s.Handle.Draft = s.Wizard.Draft()
	if err := storage.SaveDraft(s.Handle); err != nil {
		s.log.Warn("saving session failed", slog.Any("err", err))
		return err
	}
	return nil
}

// CurrentHandle refreshes the handle from the wizard; used by crash recovery.
func (s *Session) CurrentHandle() *storage.DraftHandle {
	s.Handle.Draft = s.Wizard.Draft()
	return s.Handle
}

// Panel returns the Style-step panel, creating it on first use. It is seeded
// with the publish result stored in the session when the template matches,
// and writes publish and template changes back into the wizard.
func (s *Session) Panel() (*export.Panel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panel != nil {
		return s.panel, nil
	}
	if s.Wizard.Step() != wizard.StepStyle {
		return nil, fmt.Errorf("%w: the export panel is only available at the style step", wizard.ErrInvalidTransition)
	}
	m, _ := s.Wizard.Menu()
	tmpl := s.Wizard.Template()
	opts := export.Options{
		Service:   s.deps.Backend,
		Saver:     s.deps.Downloads,
		Navigator: s.deps.Navigator,
		Clipboard: s.deps.Clipboard,
		Resources: s.deps.Blobs,
		Events:    s.deps.Events,
		Template:  tmpl,
	}
	if s.deps.History != nil {
		opts.Recorder = s.deps.History
	}
	if pub := s.Wizard.Published(); pub != nil && pub.Template == string(tmpl) {
		opts.Published = &backend.Published{Slug: pub.Slug, URL: pub.URL}
		opts.Paid = pub.Paid
	}
	p := export.NewPanel(m, opts)
	p.OnChange(func() { s.syncFromPanel(p) })
	s.panel = p
	return p, nil
}

func (s *Session) syncFromPanel(p *export.Panel) {
	st := p.State()
	if st.Template != s.Wizard.Template() {
		_ = s.Wizard.SetTemplate(st.Template)
	}
	if st.Published == nil {
		s.Wizard.SetPublished(nil)
		return
	}
	s.Wizard.SetPublished(&storage.Published{
		Slug:     st.Published.Slug,
		URL:      st.Published.URL,
		Template: string(st.Template),
		Paid:     st.Paid,
	})
}

// ClosePanel drops the panel, e.g. when leaving the Style step.
func (s *Session) ClosePanel() {
	s.mu.Lock()
	p := s.panel
	s.panel = nil
	s.mu.Unlock()
	if p != nil {
		p.Close()
	}
}

// PollPayment checks the payment of the published menu, marking the local
// history and the session paid on success.
func (s *Session) PollPayment(ctx context.Context, onStatus func(backend.MenuStatus)) (payment.Result, error) {
	pub := s.Wizard.Published()
	if pub == nil {
		return payment.Result{}, export.ErrNotPublished
	}
	poller := payment.NewPoller(s.deps.Backend)
	poller.OnStatus = onStatus
	if s.deps.PollInterval > 0 {
		poller.Interval = s.deps.PollInterval
	}
	if s.deps.PollAttempts > 0 {
		poller.MaxAttempts = s.deps.PollAttempts
	}
	res, err := poller.Poll(ctx, pub.Slug)
	if err != nil && ctx.Err() == nil && res.Attempts > 0 {
		// a failed check ends the poll with the last known, unpaid state
		s.log.Warn("payment status check stopped", slog.Int("attempts", res.Attempts), slog.Any("err", err))
		return res, nil
	}
	if err != nil || !res.Paid {
		return res, err
	}
	pub.Paid = true
	s.Wizard.SetPublished(pub)
	if s.deps.History != nil {
		if err := s.deps.History.MarkPaid(ctx, pub.Slug, true); err != nil {
			s.log.Warn("recording payment failed", slog.Any("err", err))
		}
	}
	telemetry.PaymentConfirmed(s.deps.Events)
	return res, nil
}

// previewStatus describes the panel's applied preview. It reads panel state
// rather than the result of one refresh, which may have been dropped as stale.
func previewStatus(st export.State) string {
	switch {
	case st.PreviewLoading:
		return "Ładowanie podglądu..."
	case st.PreviewFailed:
		return "Błąd ładowania podglądu"
	default:
		return "Podgląd gotowy (" + string(st.Template) + ")"
	}
}

// Close saves the session and releases the panel.
func (s *Session) Close() error {
	s.ClosePanel()
	return s.Save()
}
