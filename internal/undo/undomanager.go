/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package undo keeps the edit history of a menu document as a pair of
// snapshot stacks. Snapshots are opaque serialized documents.
package undo

import (
	"encoding/json"
	"sync"
	"time"
)

// Snapshot is a serialized document captured before a mutation.
// Size is estimated as len(Doc).
type Snapshot struct {
	Doc json.RawMessage `json:"doc"`
	TS  time.Time       `json:"ts"`
}

// Config controls memory and depth caps and coalescing behavior.
type Config struct {
	// MaxBytes is a soft cap; older entries are pruned when exceeded.
	MaxBytes int
	// MaxDepth limits the number of undo steps kept (0 means unlimited).
	MaxDepth int
	// MinInterval coalesces pushes arriving within the interval of the previous
	// one, so a burst of keystrokes in one field becomes a single step.
	MinInterval time.Duration
}

// State is the persisted form of a Manager.
type State struct {
	Undo []Snapshot `json:"undo,omitempty"`
	Redo []Snapshot `json:"redo,omitempty"`
}

// Manager provides an in-memory undo/redo history with size safeguards.
// It is safe for concurrent use.
type Manager struct {
	cfg        Config
	mu         sync.Mutex
	undo       []Snapshot
	redo       []Snapshot
	lastPush   time.Time
	totalBytes int
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 4 * 1024 * 1024
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 100
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 500 * time.Millisecond
	}
	return &Manager{cfg: cfg}
}

// Push records the document as it was before a mutation and clears redo.
// A push within MinInterval of the previous one extends that step: the older
// snapshot is kept so one undo reverts the whole burst.
func (m *Manager) Push(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropRedoLocked()
	if n := len(m.undo); n > 0 && !m.lastPush.IsZero() && s.TS.Sub(m.lastPush) < m.cfg.MinInterval {
		m.lastPush = s.TS
		return
	}
	m.undo = append(m.undo, s)
	m.totalBytes += len(s.Doc)
	m.lastPush = s.TS
	m.enforceCapsLocked()
}

// Undo pops the most recent snapshot; current is kept for Redo.
func (m *Manager) Undo(current Snapshot) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.undo)
	if n == 0 {
		return Snapshot{}, false
	}
	s := m.undo[n-1]
	m.undo = m.undo[:n-1]
	m.totalBytes -= len(s.Doc)
	m.redo = append(m.redo, current)
	m.totalBytes += len(current.Doc)
	m.lastPush = time.Time{}
	return s, true
}

// Redo pops the most recently undone snapshot; current goes back on the undo stack.
func (m *Manager) Redo(current Snapshot) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.redo)
	if n == 0 {
		return Snapshot{}, false
	}
	s := m.redo[n-1]
	m.redo = m.redo[:n-1]
	m.totalBytes -= len(s.Doc)
	m.undo = append(m.undo, current)
	m.totalBytes += len(current.Doc)
	m.lastPush = time.Time{}
	m.enforceCapsLocked()
	return s, true
}

func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo) > 0
}

func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redo) > 0
}

// Clear drops the whole history.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.undo, m.redo = nil, nil
	m.totalBytes = 0
	m.lastPush = time.Time{}
}

// Stats returns current sizes for diagnostics.
func (m *Manager) Stats() (totalBytes int, undoDepth int, redoDepth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalBytes, len(m.undo), len(m.redo)
}

// State copies the stacks for persistence.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{Undo: append([]Snapshot(nil), m.undo...), Redo: append([]Snapshot(nil), m.redo...)}
}

// Restore replaces the stacks with a persisted state. Caps apply.
func (m *Manager) Restore(st State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.undo = append([]Snapshot(nil), st.Undo...)
	m.redo = append([]Snapshot(nil), st.Redo...)
	m.totalBytes = 0
	for _, s := range m.undo {
		m.totalBytes += len(s.Doc)
	}
	for _, s := range m.redo {
		m.totalBytes += len(s.Doc)
	}
	m.lastPush = time.Time{}
	m.enforceCapsLocked()
}

func (m *Manager) dropRedoLocked() {
	for _, s := range m.redo {
		m.totalBytes -= len(s.Doc)
	}
	m.redo = nil
}

func (m *Manager) enforceCapsLocked() {
	if len(m.undo) > m.cfg.MaxDepth {
		toDrop := len(m.undo) - m.cfg.MaxDepth
		for i := 0; i < toDrop; i++ {
			m.totalBytes -= len(m.undo[i].Doc)
		}
		m.undo = append([]Snapshot{}, m.undo[toDrop:]...)
	}
	// oldest undo entries go first; redo is never pruned
	for m.totalBytes > m.cfg.MaxBytes && len(m.undo) > 1 {
		m.totalBytes -= len(m.undo[0].Doc)
		m.undo = m.undo[1:]
	}
}
