/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	applog "menuwizard/internal/log"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// HistoryFileName is the default SQLite history file under the config dir.
const HistoryFileName = "history.sqlite"

// ErrUnknownSlug is returned when a slug has no history entry.
var ErrUnknownSlug = errors.New("storage: unknown slug")

// fixed width so text ordering matches time ordering
const tsLayout = "2006-01-02T15:04:05.000000Z"

// PublishRecord is one published menu.
type PublishRecord struct {
	Slug         string
	URL          string
	Template     string
	BusinessName string
	Paid         bool
	PublishedAt  time.Time
}

// History records published menus locally so the user can find their
// links and payment state again.
type History struct {
	db       *sql.DB
	postgres bool
	log      *slog.Logger
}

// OpenHistory opens the history store. A postgres:// or postgresql:// DSN
// selects Postgres via pgx; anything else is a SQLite file path.
func OpenHistory(ctx context.Context, dsn string) (*History, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "history_open")
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("history dsn is required")
	}
	h := &History{log: l}
	var db *sql.DB
	var err error
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		h.postgres = true
		db, err = sql.Open("pgx", dsn)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(dsn), 0o755); mkErr != nil {
			return nil, fmt.Errorf("create history dir: %w", mkErr)
		}
		uri := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", filepath.ToSlash(dsn))
		db, err = sql.Open("sqlite", uri)
		if err == nil {
			db.SetMaxOpenConns(1)
			db.SetMaxIdleConns(1)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	h.db = db

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history: %w", err)
	}
	if !h.postgres {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			l.Warn("enable WAL failed", slog.Any("err", err))
		}
	}
	if err := h.migrateHistory(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	l.Debug("history ready", slog.Bool("postgres", h.postgres))
	return h, nil
}

func (h *History) Close() error { return h.db.Close() }

// RecordPublished inserts or refreshes a published menu. The paid flag of an
// existing entry is kept.
func (h *History) RecordPublished(ctx context.Context, r PublishRecord) error {
	if r.Slug == "" {
		return errors.New("history: empty slug")
	}
	at := r.PublishedAt
	if at.IsZero() {
		at = time.Now()
	}
	now := time.Now().UTC().Format(tsLayout)
	_, err := h.db.ExecContext(ctx, h.rebind(`INSERT INTO published_menus
		(slug, url, template, business_name, business_name_lc, paid, published_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (slug) DO UPDATE SET
			url = excluded.url,
			template = excluded.template,
			business_name = excluded.business_name,
			business_name_lc = excluded.business_name_lc,
			published_at = excluded.published_at,
			updated_at = excluded.updated_at`),
		r.Slug, r.URL, r.Template, r.BusinessName, strings.ToLower(r.BusinessName), r.Paid, at.UTC().Format(tsLayout), now)
	if err != nil {
		return fmt.Errorf("record published %s: %w", r.Slug, err)
	}
	return nil
}

// MarkPaid sets the payment flag of a recorded slug.
func (h *History) MarkPaid(ctx context.Context, slug string, paid bool) error {
	res, err := h.db.ExecContext(ctx, h.rebind(`UPDATE published_menus SET paid = ?, updated_at = ? WHERE slug = ?`),
		paid, time.Now().UTC().Format(tsLayout), slug)
	if err != nil {
		return fmt.Errorf("mark paid %s: %w", slug, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSlug, slug)
	}
	return nil
}

// Get returns the entry for slug.
func (h *History) Get(ctx context.Context, slug string) (PublishRecord, error) {
	row := h.db.QueryRowContext(ctx, h.rebind(`SELECT slug, url, template, business_name, paid, published_at
		FROM published_menus WHERE slug = ?`), slug)
	r, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return PublishRecord{}, fmt.Errorf("%w: %s", ErrUnknownSlug, slug)
	}
	return r, err
}

// List returns all entries, most recently published first.
func (h *History) List(ctx context.Context) ([]PublishRecord, error) {
	return h.query(ctx, "list", `SELECT slug, url, template, business_name, paid, published_at
		FROM published_menus ORDER BY published_at DESC, slug`)
}

// Search returns entries whose business name or slug contains text, most
// recently published first. Matching ignores case, including non-ASCII letters.
func (h *History) Search(ctx context.Context, text string, limit int) ([]PublishRecord, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return h.List(ctx)
	}
	if limit <= 0 {
		limit = 50
	}
	pat := likeContains(strings.ToLower(text))
	return h.query(ctx, "search", `SELECT slug, url, template, business_name, paid, published_at
		FROM published_menus
		WHERE business_name_lc LIKE ? ESCAPE '\' OR LOWER(slug) LIKE ? ESCAPE '\'
		ORDER BY published_at DESC, slug LIMIT ?`, pat, pat, limit)
}

func (h *History) query(ctx context.Context, op, q string, args ...any) ([]PublishRecord, error) {
	rows, err := h.db.QueryContext(ctx, h.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("%s history: %w", op, err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			h.log.Warn("rows close", slog.String("op", op), slog.Any("err", err))
		}
	}()
	var out []PublishRecord
	for rows.Next() {
		r, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// likeContains builds a LIKE pattern matching s literally anywhere.
func likeContains(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return "%" + r.Replace(s) + "%"
}

func scanRecord(scan func(dest ...any) error) (PublishRecord, error) {
	var r PublishRecord
	var at string
	if err := scan(&r.Slug, &r.URL, &r.Template, &r.BusinessName, &r.Paid, &at); err != nil {
		return PublishRecord{}, err
	}
	t, err := time.Parse(tsLayout, at)
	if err != nil {
		return PublishRecord{}, fmt.Errorf("parse published_at %q: %w", at, err)
	}
	r.PublishedAt = t
	return r, nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (h *History) rebind(q string) string {
	if !h.postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
