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
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/atotto/clipboard"

	"menuwizard/internal/backend"
	"menuwizard/internal/blob"
	"menuwizard/internal/config"
	"menuwizard/internal/crash"
	"menuwizard/internal/domain"
	applog "menuwizard/internal/log"
	"menuwizard/internal/storage"
	"menuwizard/internal/telemetry"
	"menuwizard/internal/ui"
	"menuwizard/internal/version"
)

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Menu Wizard: turn a text or photo menu into a styled, shareable menu")
	_, _ = fmt.Fprintf(w, "Version: %s\n", version.String())
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  menuwizard version|-v|--version                       Show version")
	_, _ = fmt.Fprintln(w, "  menuwizard parse <dir> -type T [-name N] -text S|-photo F  Start a session and parse the menu")
	_, _ = fmt.Fprintln(w, "  menuwizard show <dir>                                  Print the session and its menu")
	_, _ = fmt.Fprintln(w, "  menuwizard edit <dir> <op> [args]                      Edit the menu (run 'edit' for ops)")
	_, _ = fmt.Fprintln(w, "  menuwizard confirm <dir>                               Accept the data and go to styling")
	_, _ = fmt.Fprintln(w, "  menuwizard back <dir>                                  Go one step back")
	_, _ = fmt.Fprintln(w, "  menuwizard preview <dir> [-template T] [-serve ADDR]   Render the preview (or serve it)")
	_, _ = fmt.Fprintln(w, "  menuwizard download <dir> [-premium]                   Download the menu")
	_, _ = fmt.Fprintln(w, "  menuwizard qr <dir>                                    Publish and save the QR code")
	_, _ = fmt.Fprintln(w, "  menuwizard link <dir>                                  Publish and copy the menu link")
	_, _ = fmt.Fprintln(w, "  menuwizard status <slug>                               Wait for the payment of a menu")
	_, _ = fmt.Fprintln(w, "  menuwizard menus [-search TEXT] [-limit N]             List or search published menus")
	_, _ = fmt.Fprintln(w, "  menuwizard ui [<dir>]                                  Launch desktop UI (build with -tags fyne)")
	_, _ = fmt.Fprintln(w, "  menuwizard login [-token T]                            Store the backend token in the system keyring")
	_, _ = fmt.Fprintln(w, "  menuwizard logout                                      Remove the stored backend token")
	_, _ = fmt.Fprintln(w, "  menuwizard config init [-api URL] [-template T] [-downloads DIR] [-force]  Write a config file")
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// cli carries the process-wide dependencies of one invocation.
type cli struct {
	cfg    config.AppConfig
	token  string
	out    io.Writer
	errOut io.Writer
	log    *slog.Logger

	client  *backend.Client
	history *storage.History
	blobs   *blob.Store
	events  *telemetry.Client
	session *ui.Session
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stdout)
		return 0
	}
	switch args[0] {
	case "version", "--version", "-v":
		_, _ = fmt.Fprintln(stdout, "Menu Wizard")
		_, _ = fmt.Fprintln(stdout, version.String())
		return 0
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	}

	cfg, token, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	applog.Init(applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
		Console:   stderr,
	})
	c := &cli{cfg: cfg, token: token, out: stdout, errOut: stderr, log: applog.WithComponent("cli")}
	defer c.close()
	defer crash.RecoverWith(c.currentHandle)

	c.log.Debug("start", slog.String("cmd", args[0]), slog.Int("args", len(args)))
	cmd, ok := commands[args[0]]
	if !ok {
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return 2
	}
	return cmd(c, args[1:])
}

func (c *cli) currentHandle() *storage.DraftHandle {
	if c.session == nil {
		return nil
	}
	return c.session.CurrentHandle()
}

func (c *cli) api() *backend.Client {
	if c.client != nil {
		return c.client
	}
	timeout := c.cfg.Backend.Timeout()
	c.client = backend.NewClient(c.cfg.Backend.BaseURL, c.token, timeout)
	if c.cfg.Backend.TLSInsecure {
		c.log.Warn("TLS verification disabled for backend", slog.String("url", c.cfg.Backend.BaseURL))
		c.client.SetHTTPClient(&http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}, //nolint:gosec // opt-in for self-signed dev backends
		})
	}
	return c.client
}

// openHistory is best effort for commands that only record into it.
func (c *cli) openHistory(ctx context.Context) (*storage.History, error) {
	if c.history != nil {
		return c.history, nil
	}
	dsn, err := c.cfg.HistoryDSN()
	if err != nil {
		return nil, err
	}
	h, err := storage.OpenHistory(ctx, dsn)
	if err != nil {
		return nil, err
	}
	c.history = h
	return h, nil
}

func (c *cli) eventSink() *telemetry.Client {
	if c.events == nil {
		tcfg := telemetry.FromEnv()
		tcfg.OptIn = c.cfg.General.TelemetryOptIn
		c.events = telemetry.New(tcfg)
		telemetry.SetDefault(c.events)
	}
	return c.events
}

func (c *cli) deps(ctx context.Context) ui.Deps {
	if c.blobs == nil {
		c.blobs = blob.NewStore()
	}
	d := ui.Deps{
		Backend:      c.api(),
		Downloads:    storage.Downloads{Dir: c.cfg.DownloadsDir()},
		Blobs:        c.blobs,
		Events:       c.eventSink(),
		Clipboard:    systemClipboard{},
		Navigator:    printNavigator{w: c.out},
		Template:     domain.Template(c.cfg.General.DefaultTemplate),
		PollInterval: c.cfg.Poll.Interval(),
		PollAttempts: c.cfg.Poll.Attempts(),
	}
	if h, err := c.openHistory(ctx); err != nil {
		c.log.Warn("published history unavailable", slog.Any("err", err))
	} else {
		d.History = h
	}
	return d
}

func (c *cli) openSession(ctx context.Context, dir string) (*ui.Session, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	s, err := ui.OpenSession(abs, c.deps(ctx))
	if err != nil {
		return nil, err
	}
	c.session = s
	return s, nil
}

func (c *cli) close() {
	if c.session != nil {
		if err := c.session.Close(); err != nil {
			c.log.Error("saving session failed", slog.Any("err", err))
		}
	}
	if c.history != nil {
		_ = c.history.Close()
	}
	if c.events != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		c.events.Flush(ctx)
		cancel()
		c.events.Close()
	}
}

func (c *cli) fail(err error) int {
	c.log.Error("command failed", slog.Any("err", err))
	msg := err.Error()
	var be *backend.Error
	if errors.As(err, &be) {
		msg = be.Message
	}
	_, _ = fmt.Fprintln(c.errOut, "Error:", msg)
	return 1
}

func (c *cli) usageErr(msg string) int {
	_, _ = fmt.Fprintln(c.errOut, msg)
	usage(c.errOut)
	return 2
}

// systemClipboard copies links with the OS clipboard.
type systemClipboard struct{}

func (systemClipboard) WriteText(s string) error { return clipboard.WriteAll(s) }

// printNavigator cannot open a browser from the terminal; it prints the URL.
type printNavigator struct{ w io.Writer }

func (n printNavigator) Open(url string) error {
	_, err := fmt.Fprintln(n.w, "Open to pay:", url)
	return err
}
