/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package undo

import (
	"encoding/json"
	"testing"
	"time"
)

func snap(doc string, ts time.Time) Snapshot {
	return Snapshot{Doc: json.RawMessage(`"` + doc + `"`), TS: ts}
}

func TestUndoRedoBasic(t *testing.T) {
	m := NewManager(Config{MinInterval: 10 * time.Millisecond})
	t0 := time.Now()
	m.Push(snap("a", t0))
	m.Push(snap("b", t0.Add(20*time.Millisecond)))
	if _, u, r := m.Stats(); u != 2 || r != 0 {
		t.Fatalf("expected 2 undo steps, got undo=%d redo=%d", u, r)
	}
	s, ok := m.Undo(snap("c", t0))
	if !ok || string(s.Doc) != `"b"` {
		t.Fatalf("undo expected b, got ok=%v doc=%s", ok, s.Doc)
	}
	s, ok = m.Redo(snap("b", t0))
	if !ok || string(s.Doc) != `"c"` {
		t.Fatalf("redo expected c, got ok=%v doc=%s", ok, s.Doc)
	}
	if !m.CanUndo() || m.CanRedo() {
		t.Fatalf("unexpected can-undo/redo after redo")
	}
}

func TestPushClearsRedo(t *testing.T) {
	m := NewManager(Config{MinInterval: time.Millisecond})
	t0 := time.Now()
	m.Push(snap("a", t0))
	if _, ok := m.Undo(snap("b", t0)); !ok {
		t.Fatalf("undo failed")
	}
	m.Push(snap("a", t0.Add(time.Second)))
	if m.CanRedo() {
		t.Fatalf("redo should be cleared by a new push")
	}
}

func TestCoalesceKeepsOldest(t *testing.T) {
	m := NewManager(Config{MinInterval: 50 * time.Millisecond})
	t0 := time.Now()
	m.Push(snap("1", t0))
	m.Push(snap("2", t0.Add(10*time.Millisecond)))
	m.Push(snap("3", t0.Add(40*time.Millisecond)))
	if _, u, _ := m.Stats(); u != 1 {
		t.Fatalf("expected coalesced to 1 snapshot, got %d", u)
	}
	s, ok := m.Undo(snap("4", t0))
	if !ok || string(s.Doc) != `"1"` {
		t.Fatalf("expected the pre-burst snapshot, got ok=%v doc=%s", ok, s.Doc)
	}
}

func TestCaps(t *testing.T) {
	m := NewManager(Config{MaxDepth: 2, MinInterval: time.Millisecond})
	t0 := time.Now()
	for i := 0; i < 10; i++ {
		m.Push(snap("xxxxx", t0.Add(time.Duration(i)*time.Second)))
	}
	if _, u, _ := m.Stats(); u != 2 {
		t.Fatalf("expected MaxDepth cap to limit to 2, got %d", u)
	}

	b := NewManager(Config{MaxBytes: 20, MinInterval: time.Millisecond})
	for i := 0; i < 10; i++ {
		b.Push(snap("xxxxx", t0.Add(time.Duration(i)*time.Second)))
	}
	tb, u, _ := b.Stats()
	if tb > 20 || u != 2 {
		t.Fatalf("expected byte cap to prune, got bytes=%d depth=%d", tb, u)
	}
}

func TestStateRestore(t *testing.T) {
	m := NewManager(Config{MinInterval: time.Millisecond})
	t0 := time.Now()
	m.Push(snap("a", t0))
	m.Push(snap("b", t0.Add(time.Second)))
	m.Undo(snap("c", t0))

	data, err := json.Marshal(m.State())
	if err != nil {
		t.Fatal(err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatal(err)
	}
	r := NewManager(Config{})
	r.Restore(st)
	if _, u, rd := r.Stats(); u != 1 || rd != 1 {
		t.Fatalf("restored depth undo=%d redo=%d", u, rd)
	}
	s, ok := r.Redo(snap("b", t0))
	if !ok || string(s.Doc) != `"c"` {
		t.Fatalf("restored redo mismatch: %s", s.Doc)
	}
	r.Clear()
	if tb, u, rd := r.Stats(); tb != 0 || u != 0 || rd != 0 {
		t.Fatalf("clear left state behind")
	}
}
