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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"menuwizard/internal/domain"
	"menuwizard/internal/undo"
)

const (
	DraftFileName  = "session.json"
	BackupsDirName = "backups"
	// DraftVersion is bumped when the draft layout changes incompatibly.
	DraftVersion = 1
	maxBackups   = 20
)

// Published is the memoized publish result kept with a draft so later
// commands reuse it instead of publishing again.
type Published struct {
	Slug     string `json:"slug"`
	URL      string `json:"url"`
	Template string `json:"template"`
	Paid     bool   `json:"paid,omitempty"`
}

// Draft is the persisted wizard session. Nothing in it reaches the server
// until the menu is published.
type Draft struct {
	Version      int          `json:"version"`
	Step         string       `json:"step"`
	MenuType     string       `json:"menu_type,omitempty"`
	BusinessName string       `json:"business_name,omitempty"`
	RawText      string       `json:"raw_text,omitempty"`
	Template     string       `json:"template,omitempty"`
	Menu         *domain.Menu `json:"menu,omitempty"`
	History      undo.State   `json:"history"`
	Published    *Published   `json:"published,omitempty"`
	SavedAt      time.Time    `json:"saved_at"`
}

// DraftHandle keeps track of a draft loaded/saved from disk.
// Root is the session directory containing session.json and backups/.
type DraftHandle struct {
	Root  string
	Path  string
	Draft Draft
}

// DraftPath returns the session file location under root.
func DraftPath(root string) string { return filepath.Join(root, DraftFileName) }

// InitDraft creates the session directory (if needed) and writes the draft.
func InitDraft(root string, d Draft) (*DraftHandle, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("root path is required")
	}
	if err := os.MkdirAll(filepath.Join(root, BackupsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	h := &DraftHandle{Root: root, Path: DraftPath(root), Draft: d}
	if err := SaveDraft(h); err != nil {
		return nil, err
	}
	return h, nil
}

// OpenDraft loads the session from root. A missing, unparsable or invalid
// session file falls back to the latest backup.
func OpenDraft(root string) (*DraftHandle, error) {
	path := DraftPath(root)
	b, err := os.ReadFile(path)
	if err != nil {
		d, berr := openFromLatestBackup(root)
		if berr != nil {
			return nil, fmt.Errorf("open session: %w; backup attempt: %v", err, berr)
		}
		return &DraftHandle{Root: root, Path: path, Draft: d}, nil
	}
	d, derr := decodeDraft(b)
	if derr != nil {
		bd, berr := openFromLatestBackup(root)
		if berr != nil {
			return nil, fmt.Errorf("parse session: %w; backup attempt: %v", derr, berr)
		}
		return &DraftHandle{Root: root, Path: path, Draft: bd}, nil
	}
	return &DraftHandle{Root: root, Path: path, Draft: d}, nil
}

// SaveDraft writes the draft with transactional semantics and a timestamped
// backup of the previous file (if present).
func SaveDraft(h *DraftHandle) error {
	if h == nil {
		return errors.New("nil DraftHandle")
	}
	if h.Root == "" || h.Path == "" {
		return errors.New("invalid DraftHandle: missing paths")
	}
	h.Draft.Version = DraftVersion
	h.Draft.SavedAt = time.Now().UTC()
	data, err := json.MarshalIndent(h.Draft, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	data = append(data, '\n')

	bdir := filepath.Join(h.Root, BackupsDirName)
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return fmt.Errorf("ensure backups dir: %w", err)
	}
	if _, statErr := os.Stat(h.Path); statErr == nil {
		stamp := time.Now().Format("20060102-150405")
		bpath := filepath.Join(bdir, fmt.Sprintf("%s.%s.bak", DraftFileName, stamp))
		if cerr := copyFile(h.Path, bpath); cerr != nil {
			return fmt.Errorf("backup current session: %w", cerr)
		}
		pruneBackups(bdir)
	}

	dir := filepath.Dir(h.Path)
	temp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d-%d", DraftFileName, os.Getpid(), rand.Int()))
	if werr := writeFileSync(temp, data); werr != nil {
		return fmt.Errorf("write temp session: %w", werr)
	}
	// On Windows, replace by removing destination first if needed
	if _, err := os.Stat(h.Path); err == nil {
		_ = os.Remove(h.Path)
	}
	if rerr := os.Rename(temp, h.Path); rerr != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("replace session: %w", rerr)
	}
	return nil
}

// AutosaveCrashSnapshot writes the in-memory draft next to the backups
// without touching session.json. Used when recovering from a panic.
func AutosaveCrashSnapshot(h *DraftHandle) (string, error) {
	if h == nil || h.Root == "" {
		return "", errors.New("invalid DraftHandle")
	}
	data, err := json.MarshalIndent(h.Draft, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	bdir := filepath.Join(h.Root, BackupsDirName)
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(bdir, fmt.Sprintf("%s.crash-%s.json", DraftFileName, time.Now().Format("20060102-150405")))
	if err := writeFileSync(path, data); err != nil {
		return "", err
	}
	return path, nil
}

func decodeDraft(b []byte) (Draft, error) {
	var raw struct {
		Draft
		Menu json.RawMessage `json:"menu"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return Draft{}, err
	}
	d := raw.Draft
	if d.Version > DraftVersion {
		return Draft{}, fmt.Errorf("session version %d is newer than supported %d", d.Version, DraftVersion)
	}
	if len(raw.Menu) > 0 && string(raw.Menu) != "null" {
		m, err := domain.DecodeJSON(raw.Menu)
		if err != nil {
			return Draft{}, fmt.Errorf("session menu: %w", err)
		}
		d.Menu = &m
	}
	return d, nil
}

// writeFileSync writes data to a file, ensures it is flushed to disk.
func writeFileSync(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// copyFile copies a file from src to dst (overwrites dst if exists).
func copyFile(src, dst string) (err error) {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sf.Close(); err == nil {
			err = cerr
		}
	}()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	df, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := df.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := io.Copy(df, sf); err != nil {
		return err
	}
	return df.Sync()
}

func listBackups(bdir string) ([]string, error) {
	ents, err := os.ReadDir(bdir)
	if err != nil {
		return nil, fmt.Errorf("read backups dir: %w", err)
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if strings.HasPrefix(name, DraftFileName+".") && strings.HasSuffix(name, ".bak") {
			out = append(out, filepath.Join(bdir, name))
		}
	}
	sort.Strings(out) // timestamp in name yields lexicographic order
	return out, nil
}

func pruneBackups(bdir string) {
	list, err := listBackups(bdir)
	if err != nil || len(list) <= maxBackups {
		return
	}
	for _, p := range list[:len(list)-maxBackups] {
		_ = os.Remove(p)
	}
}

// openFromLatestBackup tries the timestamped backups newest first.
func openFromLatestBackup(root string) (Draft, error) {
	list, err := listBackups(filepath.Join(root, BackupsDirName))
	if err != nil {
		return Draft{}, err
	}
	if len(list) == 0 {
		return Draft{}, errors.New("no backups found")
	}
	var lastErr error
	for i := len(list) - 1; i >= 0; i-- {
		b, err := os.ReadFile(list[i])
		if err != nil {
			lastErr = err
			continue
		}
		d, err := decodeDraft(b)
		if err != nil {
			lastErr = fmt.Errorf("parse backup %s: %w", filepath.Base(list[i]), err)
			continue
		}
		return d, nil
	}
	return Draft{}, lastErr
}
