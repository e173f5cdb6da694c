/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"menuwizard/internal/backend"
	"menuwizard/internal/blob"
	"menuwizard/internal/config"
	"menuwizard/internal/domain"
	"menuwizard/internal/export"
	"menuwizard/internal/payment"
	"menuwizard/internal/storage"
	"menuwizard/internal/telemetry"
	"menuwizard/internal/ui"
	"menuwizard/internal/wizard"
)

type command func(c *cli, args []string) int

var commands = map[string]command{
	"parse":    cmdParse,
	"show":     cmdShow,
	"edit":     cmdEdit,
	"confirm":  cmdConfirm,
	"back":     cmdBack,
	"preview":  cmdPreview,
	"download": cmdDownload,
	"qr":       cmdQR,
	"link":     cmdLink,
	"status":   cmdStatus,
	"menus":    cmdMenus,
	"ui":       cmdUI,
	"login":    cmdLogin,
	"logout":   cmdLogout,
	"config":   cmdConfig,
}

// stdin is replaced in tests.
var stdin io.Reader = os.Stdin

func newFlags(c *cli, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	return fs
}

func cmdParse(c *cli, args []string) int {
	if len(args) < 1 {
		return c.usageErr("parse requires <dir>")
	}
	fs := newFlags(c, "parse")
	typ := fs.String("type", string(domain.MenuRestaurant), "menu type: restaurant|services|drinks")
	name := fs.String("name", "", "business name")
	text := fs.String("text", "", "menu text, '-' reads stdin")
	photo := fs.String("photo", "", "path to a menu photo (JPG, PNG, WEBP, HEIC)")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	if (*text == "") == (*photo == "") {
		return c.usageErr("parse requires exactly one of -text or -photo")
	}
	ctx := context.Background()
	s, err := c.openSession(ctx, args[0])
	if err != nil {
		return c.fail(err)
	}
	if s.Wizard.Step() != wizard.StepType {
		s.ClosePanel()
		s.Wizard.Reset()
	}
	if err := s.Wizard.SelectType(domain.MenuType(*typ)); err != nil {
		return c.fail(err)
	}
	s.Wizard.SetBusinessName(*name)
	if *photo != "" {
		p, err := backend.LoadPhoto(*photo)
		if err != nil {
			return c.fail(err)
		}
		_, _ = fmt.Fprintln(c.errOut, wizard.LoadingPhoto)
		err = s.Wizard.SubmitPhoto(ctx, p)
		if err != nil {
			return c.fail(err)
		}
	} else {
		body := *text
		if body == "-" {
			b, err := io.ReadAll(stdin)
			if err != nil {
				return c.fail(err)
			}
			body = string(b)
		}
		s.Wizard.SetRawText(body)
		_, _ = fmt.Fprintln(c.errOut, wizard.LoadingText)
		if err := s.Wizard.SubmitText(ctx); err != nil {
			return c.fail(err)
		}
	}
	m, ok := s.Wizard.Menu()
	if !ok || s.Wizard.Step() != wizard.StepEdit {
		_, _ = fmt.Fprintln(c.errOut, "Nothing to parse: the menu text is empty.")
		return 1
	}
	_, _ = fmt.Fprintf(c.out, "Parsed %d categories, %d items.\n", len(m.Categories), m.ItemCount())
	printMenu(c.out, m)
	return 0
}

func cmdShow(c *cli, args []string) int {
	if len(args) < 1 {
		return c.usageErr("show requires <dir>")
	}
	s, err := c.openSession(context.Background(), args[0])
	if err != nil {
		return c.fail(err)
	}
	v := s.Wizard.View()
	_, _ = fmt.Fprintf(c.out, "Step: %s (%d/4)\n", v.Step, v.Step.Number())
	if v.MenuType != "" {
		_, _ = fmt.Fprintf(c.out, "Type: %s\n", v.MenuType)
	}
	_, _ = fmt.Fprintf(c.out, "Template: %s\n", v.Template)
	if pub := s.Wizard.Published(); pub != nil {
		paid := "free"
		if pub.Paid {
			paid = "paid"
		}
		_, _ = fmt.Fprintf(c.out, "Published: %s (%s)\n", pub.URL, paid)
	}
	if m, ok := s.Wizard.Menu(); ok {
		_, _ = fmt.Fprintln(c.out)
		printMenu(c.out, m)
	}
	return 0
}

func printMenu(w io.Writer, m domain.Menu) {
	_, _ = fmt.Fprintln(w, m.BusinessName)
	if t := m.TaglineText(); t != "" {
		_, _ = fmt.Fprintf(w, "  %s\n", t)
	}
	for ci, cat := range m.Categories {
		_, _ = fmt.Fprintf(w, "[%d] %s\n", ci, cat.Name)
		for ii, it := range cat.Items {
			line := fmt.Sprintf("    [%d] %s", ii, it.Name)
			if d := it.DescriptionText(); d != "" {
				line += " (" + d + ")"
			}
			if it.Price != "" {
				line += " - " + it.Price
			}
			_, _ = fmt.Fprintln(w, line)
		}
	}
}

const editOps = `edit ops (indices as printed by 'show'):
  set-name NAME | set-tagline TEXT | add-category | remove-category C | rename-category C NAME
  move-category FROM TO | add-item C | remove-item C I | set-item C I name|description|price VALUE
  move-item C FROM TO | drag ACTIVE_ID OVER_ID | undo | redo`

func cmdEdit(c *cli, args []string) int {
	if len(args) < 2 {
		return c.usageErr("edit requires <dir> <op>\n" + editOps)
	}
	s, err := c.openSession(context.Background(), args[0])
	if err != nil {
		return c.fail(err)
	}
	op, rest := args[1], args[2:]
	n, err := ints(rest, opArity[op])
	if err != nil {
		return c.usageErr(err.Error() + "\n" + editOps)
	}
	ed := s.Editor
	switch op {
	case "set-name":
		err = needArgs(rest, 1, func() error { return ed.SetBusinessName(rest[0]) })
	case "set-tagline":
		err = needArgs(rest, 1, func() error { return ed.SetTagline(rest[0]) })
	case "add-category":
		err = ed.AddCategory()
	case "remove-category":
		err = ed.RemoveCategory(n[0])
	case "rename-category":
		err = needArgs(rest, 2, func() error { return ed.RenameCategory(n[0], rest[1]) })
	case "move-category":
		err = ed.MoveCategoryTo(n[0], n[1])
	case "add-item":
		err = ed.AddItem(n[0])
	case "remove-item":
		err = ed.RemoveItem(n[0], n[1])
	case "set-item":
		err = needArgs(rest, 4, func() error { return ed.SetItemField(n[0], n[1], domain.Field(rest[2]), rest[3]) })
	case "move-item":
		err = ed.MoveItemTo(n[0], n[1], n[2])
	case "drag":
		err = needArgs(rest, 2, func() error { return ed.DragEnd(rest[0], rest[1]) })
	case "undo", "redo":
		travel := s.Wizard.Undo
		if op == "redo" {
			travel = s.Wizard.Redo
		}
		var moved bool
		moved, err = travel()
		if err == nil && !moved {
			_, _ = fmt.Fprintf(c.errOut, "Nothing to %s.\n", op)
		}
	default:
		return c.usageErr(fmt.Sprintf("unknown edit op %q\n%s", op, editOps))
	}
	if err != nil {
		return c.fail(err)
	}
	m, _ := s.Wizard.Menu()
	printMenu(c.out, m)
	return 0
}

// opArity is how many leading integer arguments an edit op takes.
var opArity = map[string]int{
	"remove-category": 1,
	"rename-category": 1,
	"move-category":   2,
	"add-item":        1,
	"remove-item":     2,
	"set-item":        2,
	"move-item":       3,
}

func ints(args []string, n int) ([]int, error) {
	if len(args) < n {
		return nil, fmt.Errorf("expected %d index arguments, got %d", n, len(args))
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		v, err := strconv.Atoi(args[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %q is not an index", i+1, args[i])
		}
		out[i] = v
	}
	return out, nil
}

func needArgs(args []string, n int, fn func() error) error {
	if len(args) < n {
		return fmt.Errorf("expected %d arguments, got %d", n, len(args))
	}
	return fn()
}

func cmdConfirm(c *cli, args []string) int {
	if len(args) < 1 {
		return c.usageErr("confirm requires <dir>")
	}
	s, err := c.openSession(context.Background(), args[0])
	if err != nil {
		return c.fail(err)
	}
	if err := s.Wizard.Confirm(); err != nil {
		return c.fail(err)
	}
	_, _ = fmt.Fprintf(c.out, "Step: %s\n", s.Wizard.Step())
	return 0
}

func cmdBack(c *cli, args []string) int {
	if len(args) < 1 {
		return c.usageErr("back requires <dir>")
	}
	s, err := c.openSession(context.Background(), args[0])
	if err != nil {
		return c.fail(err)
	}
	if s.Wizard.Step() == wizard.StepStyle {
		s.ClosePanel()
	}
	s.Wizard.Back()
	_, _ = fmt.Fprintf(c.out, "Step: %s\n", s.Wizard.Step())
	return 0
}

func (c *cli) openPanel(ctx context.Context, dir string) (*export.Panel, error) {
	s, err := c.openSession(ctx, dir)
	if err != nil {
		return nil, err
	}
	return s.Panel()
}

func (c *cli) printToasts(p *export.Panel) {
	for _, t := range p.Toasts().Active() {
		w := c.out
		if t.Kind == export.ToastError {
			w = c.errOut
		}
		_, _ = fmt.Fprintln(w, t.Message)
	}
}

func cmdPreview(c *cli, args []string) int {
	if len(args) < 1 {
		return c.usageErr("preview requires <dir>")
	}
	fs := newFlags(c, "preview")
	tmpl := fs.String("template", "", "template: clean|elegant|neon|rustic|pastel")
	serve := fs.String("serve", "", "serve the preview on ADDR (e.g. 127.0.0.1:8090) until interrupted")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	ctx := context.Background()
	p, err := c.openPanel(ctx, args[0])
	if err != nil {
		return c.fail(err)
	}
	if *tmpl != "" {
		if err := p.SetTemplate(domain.Template(*tmpl)); err != nil {
			return c.fail(err)
		}
	}
	html, err := p.RefreshPreview(ctx)
	if *serve == "" {
		_, _ = fmt.Fprintln(c.out, html)
		if err != nil {
			return c.fail(err)
		}
		return 0
	}
	if err != nil {
		c.log.Warn("serving preview error markup", slog.Any("err", err))
	}
	srv := blob.NewServer(c.blobs)
	base, err := srv.Start(*serve)
	if err != nil {
		return c.fail(err)
	}
	_, _ = fmt.Fprintf(c.out, "Preview at %s/preview (Ctrl+C to stop)\n", base)
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)
	return 0
}

func cmdDownload(c *cli, args []string) int {
	if len(args) < 1 {
		return c.usageErr("download requires <dir>")
	}
	fs := newFlags(c, "download")
	premium := fs.Bool("premium", false, "download without watermark (opens a checkout unless already paid)")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	ctx := context.Background()
	p, err := c.openPanel(ctx, args[0])
	if err != nil {
		return c.fail(err)
	}
	if !*premium {
		path, err := p.Download(ctx)
		c.printToasts(p)
		if err != nil {
			return 1
		}
		_, _ = fmt.Fprintln(c.out, "Saved to", path)
		return 0
	}
	res, err := p.PremiumDownload(ctx)
	c.printToasts(p)
	if err != nil {
		return 1
	}
	if res.Path != "" {
		_, _ = fmt.Fprintln(c.out, "Saved to", res.Path)
		return 0
	}
	if pub := p.Published(); pub != nil {
		_, _ = fmt.Fprintf(c.out, "After paying run: menuwizard status %s\n", pub.Slug)
	}
	return 0
}

func cmdQR(c *cli, args []string) int {
	if len(args) < 1 {
		return c.usageErr("qr requires <dir>")
	}
	ctx := context.Background()
	p, err := c.openPanel(ctx, args[0])
	if err != nil {
		return c.fail(err)
	}
	q, err := p.ShowQR(ctx)
	if err != nil {
		c.printToasts(p)
		return 1
	}
	path, err := p.SaveQR()
	if err != nil {
		return c.fail(err)
	}
	_, _ = fmt.Fprintln(c.out, "Menu:", q.URL)
	_, _ = fmt.Fprintln(c.out, "QR code saved to", path)
	return 0
}

func cmdLink(c *cli, args []string) int {
	if len(args) < 1 {
		return c.usageErr("link requires <dir>")
	}
	ctx := context.Background()
	p, err := c.openPanel(ctx, args[0])
	if err != nil {
		return c.fail(err)
	}
	_, err = p.CopyLink(ctx)
	c.printToasts(p)
	if pub := p.Published(); pub != nil {
		_, _ = fmt.Fprintln(c.out, pub.URL)
	}
	if err != nil {
		return 1
	}
	return 0
}

func cmdStatus(c *cli, args []string) int {
	if len(args) < 1 || args[0] == "" {
		_, _ = fmt.Fprintln(c.errOut, "Brak danych menu.")
		return 2
	}
	slug := args[0]
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	api := c.api()
	poller := payment.NewPoller(api)
	poller.Interval = c.cfg.Poll.Interval()
	poller.MaxAttempts = c.cfg.Poll.Attempts()
	_, _ = fmt.Fprintln(c.errOut, "Potwierdzanie płatności...")
	res, err := poller.Poll(ctx, slug)
	if err != nil {
		if ctx.Err() != nil {
			return c.fail(err)
		}
		// a failed check ends the poll with the last known, unpaid state
		c.log.Warn("payment status check stopped", slog.String("slug", slug), slog.Int("attempts", res.Attempts), slog.Any("err", err))
	}
	if !res.Paid {
		_, _ = fmt.Fprintln(c.out, "Płatność jest w trakcie przetwarzania. Twoje menu zostanie zaktualizowane automatycznie.")
		_, _ = fmt.Fprintln(c.out, api.MenuURL(slug))
		return 0
	}
	_, _ = fmt.Fprintf(c.out, "Dziękujemy za zakup! Twoje menu %s jest teraz bez znaku wodnego.\n", res.Status.BusinessName)
	_, _ = fmt.Fprintln(c.out, api.MenuURL(slug))
	if h, err := c.openHistory(ctx); err == nil {
		if err := h.MarkPaid(ctx, slug, true); err != nil && !errors.Is(err, storage.ErrUnknownSlug) {
			c.log.Warn("recording payment failed")
		}
	}
	telemetry.PaymentConfirmed(c.eventSink())
	return 0
}

func cmdMenus(c *cli, args []string) int {
	fs := newFlags(c, "menus")
	search := fs.String("search", "", "only menus whose business name or slug contains this text")
	limit := fs.Int("limit", 50, "maximum number of search results")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ctx := context.Background()
	h, err := c.openHistory(ctx)
	if err != nil {
		return c.fail(err)
	}
	var recs []storage.PublishRecord
	if *search != "" {
		recs, err = h.Search(ctx, *search, *limit)
	} else {
		recs, err = h.List(ctx)
	}
	if err != nil {
		return c.fail(err)
	}
	if len(recs) == 0 {
		if *search != "" {
			_, _ = fmt.Fprintf(c.out, "No published menus match %q.\n", *search)
			return 0
		}
		_, _ = fmt.Fprintln(c.out, "No published menus yet.")
		return 0
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SLUG\tBUSINESS\tTEMPLATE\tPAID\tPUBLISHED\tURL")
	for _, r := range recs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n", r.Slug, r.BusinessName, r.Template, r.Paid,
			r.PublishedAt.Local().Format("2006-01-02 15:04"), r.URL)
	}
	_ = tw.Flush()
	return 0
}

func cmdUI(c *cli, args []string) int {
	var dir string
	if len(args) >= 1 {
		dir = args[0]
	} else {
		cfgDir, err := config.Dir()
		if err != nil {
			return c.fail(err)
		}
		dir = filepath.Join(cfgDir, "session")
	}
	deps := c.deps(context.Background())
	deps.Navigator, deps.Clipboard = nil, nil
	if err := ui.Run(dir, deps); err != nil {
		_, _ = fmt.Fprintln(c.errOut, "Error:", err)
		return 1
	}
	return 0
}

func cmdLogin(c *cli, args []string) int {
	fs := newFlags(c, "login")
	tok := fs.String("token", "", "backend token; read from stdin when empty")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	token := strings.TrimSpace(*tok)
	if token == "" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return c.fail(err)
		}
		token = strings.TrimSpace(string(b))
	}
	if token == "" {
		return c.usageErr("login requires a token (-token T or on stdin)")
	}
	if err := config.SetToken(token); err != nil {
		return c.fail(fmt.Errorf("store token: %w", err))
	}
	c.token = token
	c.log.Info("backend token stored")
	_, _ = fmt.Fprintln(c.out, "Token saved in the system keyring.")
	return 0
}

func cmdLogout(c *cli, _ []string) int {
	if err := config.DeleteToken(); err != nil {
		return c.fail(fmt.Errorf("remove token: %w", err))
	}
	c.token = ""
	_, _ = fmt.Fprintln(c.out, "Token removed.")
	return 0
}

// cmdConfig handles "config init", which writes a fresh config file.
func cmdConfig(c *cli, args []string) int {
	if len(args) < 1 || args[0] != "init" {
		return c.usageErr("config requires: init")
	}
	fs := newFlags(c, "config init")
	apiURL := fs.String("api", "", "backend base URL")
	tmpl := fs.String("template", "", "default template")
	downloads := fs.String("downloads", "", "downloads directory")
	force := fs.Bool("force", false, "overwrite an existing config file")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	path, err := config.ConfigPath()
	if err != nil {
		return c.fail(err)
	}
	if _, err := os.Stat(path); err == nil && !*force {
		_, _ = fmt.Fprintf(c.errOut, "Config already exists at %s (use -force to overwrite).\n", path)
		return 1
	}
	cfg := config.Defaults()
	if *apiURL != "" {
		cfg.Backend.BaseURL = strings.TrimRight(*apiURL, "/")
	}
	if *tmpl != "" {
		if !domain.ValidTemplate(domain.Template(*tmpl)) {
			return c.usageErr(fmt.Sprintf("unknown template %q", *tmpl))
		}
		cfg.General.DefaultTemplate = *tmpl
	}
	if *downloads != "" {
		cfg.General.DownloadsDir = *downloads
	}
	if err := config.Save(cfg, ""); err != nil {
		return c.fail(fmt.Errorf("write config: %w", err))
	}
	_, _ = fmt.Fprintf(c.out, "Wrote %s\n", path)
	return 0
}
