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
	"strings"
	"time"

	"menuwizard/internal/version"
)

// historySchemaVersion is the schema the history store migrates to.
const historySchemaVersion = 3

type historyMigration struct {
	stmts []string
	// fill runs after stmts inside the same transaction.
	fill func(ctx context.Context, tx *sql.Tx, h *History) error
}

// historyMigrations[i] upgrades the schema from version i to i+1.
var historyMigrations = []historyMigration{
	{stmts: []string{
		`CREATE TABLE IF NOT EXISTS published_menus (
			slug          TEXT PRIMARY KEY,
			url           TEXT NOT NULL,
			template      TEXT NOT NULL,
			business_name TEXT NOT NULL,
			paid          BOOLEAN NOT NULL DEFAULT FALSE,
			published_at  TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		)`,
	}},
	{stmts: []string{
		`CREATE INDEX IF NOT EXISTS idx_published_menus_published_at ON published_menus(published_at)`,
		`CREATE INDEX IF NOT EXISTS idx_published_menus_business ON published_menus(business_name)`,
	}},
	// SQLite LOWER() folds ASCII only, so search runs against names
	// lowercased in Go.
	{stmts: []string{
		`ALTER TABLE published_menus ADD COLUMN business_name_lc TEXT NOT NULL DEFAULT ''`,
		`CREATE INDEX IF NOT EXISTS idx_published_menus_business_lc ON published_menus(business_name_lc)`,
	}, fill: backfillLowerNames},
}

func backfillLowerNames(ctx context.Context, tx *sql.Tx, h *History) error {
	rows, err := tx.QueryContext(ctx, `SELECT slug, business_name FROM published_menus`)
	if err != nil {
		return err
	}
	names := map[string]string{}
	for rows.Next() {
		var slug, name string
		if err := rows.Scan(&slug, &name); err != nil {
			_ = rows.Close()
			return err
		}
		names[slug] = name
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for slug, name := range names {
		if _, err := tx.ExecContext(ctx, h.rebind(`UPDATE published_menus SET business_name_lc = ? WHERE slug = ?`),
			strings.ToLower(name), slug); err != nil {
			return err
		}
	}
	return nil
}

// migrateHistory creates the single-row version table if needed and applies
// pending migrations, each in its own transaction. A newer schema written by
// a later release is left alone.
func (h *History) migrateHistory(ctx context.Context) error {
	return h.migrateTo(ctx, historySchemaVersion)
}

func (h *History) migrateTo(ctx context.Context, target int) error {
	if _, err := h.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS history_version (
		id          INTEGER PRIMARY KEY CHECK(id=1),
		schema      INTEGER NOT NULL,
		app         TEXT,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create version table: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	var cur int
	err := h.db.QueryRowContext(ctx, `SELECT schema FROM history_version WHERE id=1`).Scan(&cur)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := h.db.ExecContext(ctx, h.rebind(`INSERT INTO history_version (id, schema, app, created_at, updated_at) VALUES (1, 0, ?, ?, ?)`),
			version.String(), now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	}
	if cur > historySchemaVersion {
		h.log.Warn("history schema is newer than this build", "schema", cur, "supported", historySchemaVersion)
		return nil
	}
	for ; cur < target; cur++ {
		next := cur + 1
		m := historyMigrations[cur]
		tx, err := h.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", next, err)
		}
		for _, q := range m.stmts {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d stmt failed: %w", next, err)
			}
		}
		if m.fill != nil {
			if err := m.fill(ctx, tx, h); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d fill failed: %w", next, err)
			}
		}
		if _, err := tx.ExecContext(ctx, h.rebind(`UPDATE history_version SET schema=?, app=?, updated_at=? WHERE id=1`),
			next, version.String(), time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d update version: %w", next, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d commit: %w", next, err)
		}
		h.log.Debug("history migrated", "schema", next)
	}
	return nil
}

// SchemaVersion reports the applied history schema version.
func (h *History) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := h.db.QueryRowContext(ctx, `SELECT schema FROM history_version WHERE id=1`).Scan(&v)
	return v, err
}
