/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package wizard drives the four-step menu creation flow:
// Type -> Content -> Edit -> Style. It owns the menu document and routes
// actions to the parser backend and to the document operations.
package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"menuwizard/internal/backend"
	"menuwizard/internal/domain"
	applog "menuwizard/internal/log"
	"menuwizard/internal/storage"
	"menuwizard/internal/telemetry"
	"menuwizard/internal/undo"
)

// Step is a wizard state.
type Step int

const (
	StepType Step = iota + 1
	StepContent
	StepEdit
	StepStyle
)

func (s Step) String() string {
	switch s {
	case StepType:
		return "type"
	case StepContent:
		return "content"
	case StepEdit:
		return "edit"
	case StepStyle:
		return "style"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// Number is the 1-based position shown to the user.
func (s Step) Number() int { return int(s) }

// ParseStep is the inverse of Step.String.
func ParseStep(s string) (Step, error) {
	for _, st := range []Step{StepType, StepContent, StepEdit, StepStyle} {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown wizard step %q", s)
}

// Loading messages shown while the parser works.
const (
	LoadingText  = "AI analizuje Twoje menu..."
	LoadingPhoto = "AI odczytuje Twoje menu ze zdjęcia..."
)

var (
	ErrInvalidTransition = errors.New("wizard: invalid transition")
	ErrNotEditable       = errors.New("wizard: document is only editable in the edit step")
	ErrBusy              = errors.New("wizard: a parse request is already in flight")
	ErrUnknownType       = errors.New("wizard: unknown menu type")
	ErrUnknownTemplate   = errors.New("wizard: unknown template")
)

// Parser is the part of the backend the wizard needs.
type Parser interface {
	ParseText(ctx context.Context, text, businessName string, menuType domain.MenuType) (domain.Menu, error)
	ParsePhoto(ctx context.Context, p backend.Photo, businessName string, menuType domain.MenuType) (domain.Menu, error)
}

// View is a read-only copy of the controller state for rendering.
type View struct {
	Step           Step
	MenuType       domain.MenuType
	BusinessName   string
	RawText        string
	Template       domain.Template
	Loading        bool
	LoadingMessage string
	Error          string
	HasMenu        bool
	CanUndo        bool
	CanRedo        bool
}

// Controller is the wizard state machine. It is safe for concurrent use;
// parse calls run without holding the lock.
type Controller struct {
	// Events receives usage events; nil disables them.
	Events telemetry.Sink

	parser  Parser
	history *undo.Manager
	now     func() time.Time
	log     *slog.Logger

	mu           sync.Mutex
	step         Step
	menuType     domain.MenuType
	businessName string
	rawText      string
	template     domain.Template
	menu         domain.Menu
	hasMenu      bool
	loading      bool
	loadingMsg   string
	errMsg       string
	published    *storage.Published
	// gen changes whenever the session moves away from Content, so a parse
	// response arriving afterwards is dropped.
	gen      uint64
	onChange func()
}

// New returns a controller at the Type step.
func New(p Parser) *Controller {
	return &Controller{
		parser:   p,
		history:  undo.NewManager(undo.Config{}),
		now:      time.Now,
		log:      applog.WithComponent("wizard"),
		step:     StepType,
		template: domain.DefaultTemplate,
	}
}

// OnChange registers a callback invoked after every state change, outside the lock.
func (c *Controller) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// View returns the current state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return View{
		Step:           c.step,
		MenuType:       c.menuType,
		BusinessName:   c.businessName,
		RawText:        c.rawText,
		Template:       c.template,
		Loading:        c.loading,
		LoadingMessage: c.loadingMsg,
		Error:          c.errMsg,
		HasMenu:        c.hasMenu,
		CanUndo:        c.history.CanUndo(),
		CanRedo:        c.history.CanRedo(),
	}
}

// Step returns the current step.
func (c *Controller) Step() Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

// Menu returns the held document and whether one exists.
func (c *Controller) Menu() (domain.Menu, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.menu, c.hasMenu
}

// Template returns the selected template.
func (c *Controller) Template() domain.Template {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.template
}

// SelectType chooses the menu type and moves to Content.
func (c *Controller) SelectType(t domain.MenuType) error {
	if !domain.ValidMenuType(t) {
		return fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	c.mu.Lock()
	if cur := c.step; cur != StepType {
		c.mu.Unlock()
		return fmt.Errorf("%w: select type in %s", ErrInvalidTransition, cur)
	}
	c.menuType = t
	c.step = StepContent
	c.errMsg = ""
	c.mu.Unlock()
	c.log.Debug("menu type selected", slog.String("type", string(t)))
	c.changed()
	return nil
}

// SetBusinessName updates the Content step's business name input.
func (c *Controller) SetBusinessName(name string) {
	c.mu.Lock()
	c.businessName = name
	c.mu.Unlock()
	c.changed()
}

// SetRawText updates the Content step's text input.
func (c *Controller) SetRawText(text string) {
	c.mu.Lock()
	c.rawText = text
	c.mu.Unlock()
	c.changed()
}

// SubmitText parses the raw text. Blank text is ignored. On success the
// wizard moves to Edit with the parsed document; on failure it stays in
// Content with the error message set, and the error is returned.
func (c *Controller) SubmitText(ctx context.Context) error {
	c.mu.Lock()
	text := c.rawText
	c.mu.Unlock()
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return c.parse(ctx, LoadingText, "text", func(ctx context.Context, name string, t domain.MenuType) (domain.Menu, error) {
		return c.parser.ParseText(ctx, text, name, t)
	}, false)
}

// SubmitPhoto validates and uploads a photo for parsing. A rejected file
// sets the error without sending anything. After a successful parse the raw
// text is replaced by a plain-text rendering of the result.
func (c *Controller) SubmitPhoto(ctx context.Context, p backend.Photo) error {
	if err := backend.ValidateUpload(int64(len(p.Data)), p.ContentType); err != nil {
		c.mu.Lock()
		if c.step == StepContent {
			c.errMsg = backend.Message(err)
		}
		c.mu.Unlock()
		c.changed()
		return err
	}
	return c.parse(ctx, LoadingPhoto, "photo", func(ctx context.Context, name string, t domain.MenuType) (domain.Menu, error) {
		return c.parser.ParsePhoto(ctx, p, name, t)
	}, true)
}

func (c *Controller) parse(ctx context.Context, msg, source string, call func(context.Context, string, domain.MenuType) (domain.Menu, error), fillText bool) error {
	c.mu.Lock()
	if cur := c.step; cur != StepContent {
		c.mu.Unlock()
		return fmt.Errorf("%w: parse in %s", ErrInvalidTransition, cur)
	}
	if c.loading {
		c.mu.Unlock()
		return ErrBusy
	}
	c.loading = true
	c.loadingMsg = msg
	c.errMsg = ""
	gen := c.gen
	name, t := c.businessName, c.menuType
	c.mu.Unlock()
	c.changed()

	m, err := call(ctx, name, t)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.log.Debug("dropping stale parse response", slog.String("source", source))
		return nil
	}
	c.loading = false
	c.loadingMsg = ""
	if err != nil {
		c.errMsg = backend.Message(err)
		c.mu.Unlock()
		c.log.Warn("parse failed", slog.String("source", source), slog.Any("err", err))
		c.changed()
		return err
	}
	m = m.Normalize()
	if m.BusinessType == "" {
		m.BusinessType = string(t)
	}
	c.menu = m
	c.hasMenu = true
	if fillText {
		c.rawText = domain.FormatText(m)
	}
	c.history.Clear()
	c.published = nil
	c.step = StepEdit
	c.mu.Unlock()
	c.log.Info("menu parsed", slog.String("source", source), slog.Int("categories", len(m.Categories)), slog.Int("items", m.ItemCount()))
	telemetry.MenuParsed(c.Events, source)
	c.changed()
	return nil
}

// Confirm moves from Edit to Style.
func (c *Controller) Confirm() error {
	return c.transition(StepEdit, StepStyle)
}

// EditData goes back from Style to Edit keeping the document. Any memoized
// publish is dropped since the document may change.
func (c *Controller) EditData() error {
	return c.transition(StepStyle, StepEdit)
}

func (c *Controller) transition(from, to Step) error {
	c.mu.Lock()
	if c.step != from {
		cur := c.step
		c.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s from %s", ErrInvalidTransition, from, to, cur)
	}
	if to == StepStyle && !c.hasMenu {
		c.mu.Unlock()
		return fmt.Errorf("%w: no document", ErrInvalidTransition)
	}
	c.leaveLocked()
	c.step = to
	c.mu.Unlock()
	c.changed()
	return nil
}

// Back returns to the previous step. It is a no-op at Type.
func (c *Controller) Back() {
	c.mu.Lock()
	if c.step == StepType {
		c.mu.Unlock()
		return
	}
	c.leaveLocked()
	c.step--
	c.mu.Unlock()
	c.changed()
}

// leaveLocked resets per-step transient state when leaving the current step.
func (c *Controller) leaveLocked() {
	if c.step == StepContent {
		c.gen++
		c.loading = false
		c.loadingMsg = ""
	}
	if c.step == StepStyle {
		c.published = nil
	}
	c.errMsg = ""
}

// Reset discards the session and starts over at Type.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.gen++
	c.step = StepType
	c.menuType = ""
	c.businessName = ""
	c.rawText = ""
	c.template = domain.DefaultTemplate
	c.menu = domain.Menu{}
	c.hasMenu = false
	c.loading = false
	c.loadingMsg = ""
	c.errMsg = ""
	c.published = nil
	c.history.Clear()
	c.mu.Unlock()
	c.changed()
}

// Update applies a document operation. Only allowed in Edit; the previous
// document is recorded for undo.
func (c *Controller) Update(op func(domain.Menu) domain.Menu) error {
	c.mu.Lock()
	if c.step != StepEdit || !c.hasMenu {
		c.mu.Unlock()
		return ErrNotEditable
	}
	prev := c.menu
	next := op(prev)
	if snap, err := c.snapshot(prev); err == nil {
		c.history.Push(snap)
	} else {
		c.log.Warn("history snapshot failed", slog.Any("err", err))
	}
	c.menu = next
	c.mu.Unlock()
	c.changed()
	return nil
}

// Undo reverts the last edit. Returns false when there is nothing to undo.
func (c *Controller) Undo() (bool, error) {
	return c.travel(c.history.Undo)
}

// Redo re-applies the last undone edit.
func (c *Controller) Redo() (bool, error) {
	return c.travel(c.history.Redo)
}

func (c *Controller) travel(fn func(undo.Snapshot) (undo.Snapshot, bool)) (bool, error) {
	c.mu.Lock()
	if c.step != StepEdit || !c.hasMenu {
		c.mu.Unlock()
		return false, ErrNotEditable
	}
	cur, err := c.snapshot(c.menu)
	if err != nil {
		c.mu.Unlock()
		return false, err
	}
	s, ok := fn(cur)
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	m, err := domain.DecodeJSON(s.Doc)
	if err != nil {
		c.mu.Unlock()
		return false, fmt.Errorf("restore history snapshot: %w", err)
	}
	c.menu = m
	c.mu.Unlock()
	c.changed()
	return true, nil
}

func (c *Controller) snapshot(m domain.Menu) (undo.Snapshot, error) {
	b, err := json.Marshal(m.Normalize())
	if err != nil {
		return undo.Snapshot{}, err
	}
	return undo.Snapshot{Doc: b, TS: c.now()}, nil
}

// SetTemplate selects the rendering template.
func (c *Controller) SetTemplate(t domain.Template) error {
	if !domain.ValidTemplate(t) {
		return fmt.Errorf("%w: %q", ErrUnknownTemplate, t)
	}
	c.mu.Lock()
	c.template = t
	c.mu.Unlock()
	c.changed()
	return nil
}

// SetPublished records the publish result of the Style step, or clears it.
func (c *Controller) SetPublished(p *storage.Published) {
	c.mu.Lock()
	if p != nil {
		cp := *p
		p = &cp
	}
	c.published = p
	c.mu.Unlock()
}

// Published returns the memoized publish result, if any.
func (c *Controller) Published() *storage.Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.published == nil {
		return nil
	}
	cp := *c.published
	return &cp
}

// Draft captures the session for persistence.
func (c *Controller) Draft() storage.Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := storage.Draft{
		Step:         c.step.String(),
		MenuType:     string(c.menuType),
		BusinessName: c.businessName,
		RawText:      c.rawText,
		Template:     string(c.template),
		History:      c.history.State(),
	}
	if c.hasMenu {
		m := c.menu.Clone()
		d.Menu = &m
	}
	if c.published != nil {
		cp := *c.published
		d.Published = &cp
	}
	return d
}

// Restore builds a controller from a persisted session.
func Restore(p Parser, d storage.Draft) (*Controller, error) {
	c := New(p)
	step, err := ParseStep(d.Step)
	if err != nil {
		return nil, err
	}
	if (step == StepEdit || step == StepStyle) && d.Menu == nil {
		return nil, fmt.Errorf("session at %s has no menu", step)
	}
	c.step = step
	c.menuType = domain.MenuType(d.MenuType)
	c.businessName = d.BusinessName
	c.rawText = d.RawText
	if d.Template != "" {
		if !domain.ValidTemplate(domain.Template(d.Template)) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, d.Template)
		}
		c.template = domain.Template(d.Template)
	}
	if d.Menu != nil {
		c.menu = d.Menu.Normalize()
		c.hasMenu = true
	}
	c.history.Restore(d.History)
	if d.Published != nil {
		cp := *d.Published
		c.published = &cp
	}
	return c, nil
}

func (c *Controller) changed() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}
