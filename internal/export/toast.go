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
	"sync"
	"time"
)

// ToastTTL is how long a notification stays visible.
const ToastTTL = 3 * time.Second

// ToastKind colours a notification.
type ToastKind int

const (
	ToastInfo ToastKind = iota
	ToastSuccess
	ToastError
)

// Toast is a transient notification.
type Toast struct {
	ID      uint64
	Kind    ToastKind
	Message string
}

// Toasts holds the visible notifications; each one dismisses itself after TTL.
type Toasts struct {
	TTL time.Duration

	mu       sync.Mutex
	next     uint64
	items    []Toast
	timers   map[uint64]*time.Timer
	onChange func([]Toast)
	// afterFunc is time.AfterFunc outside tests.
	afterFunc func(time.Duration, func()) *time.Timer
}

func NewToasts() *Toasts {
	return &Toasts{TTL: ToastTTL, timers: make(map[uint64]*time.Timer), afterFunc: time.AfterFunc}
}

// OnChange registers a callback receiving the visible toasts after each change.
func (t *Toasts) OnChange(fn func([]Toast)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Post shows a notification and schedules its dismissal.
func (t *Toasts) Post(kind ToastKind, msg string) Toast {
	t.mu.Lock()
	t.next++
	toast := Toast{ID: t.next, Kind: kind, Message: msg}
	t.items = append(t.items, toast)
	ttl := t.TTL
	if ttl <= 0 {
		ttl = ToastTTL
	}
	id := toast.ID
	t.timers[id] = t.afterFunc(ttl, func() { t.Dismiss(id) })
	t.mu.Unlock()
	t.changed()
	return toast
}

// Dismiss removes a notification early. Unknown IDs are ignored.
func (t *Toasts) Dismiss(id uint64) {
	t.mu.Lock()
	if tm, ok := t.timers[id]; ok {
		tm.Stop()
		delete(t.timers, id)
	}
	found := false
	out := t.items[:0]
	for _, it := range t.items {
		if it.ID == id {
			found = true
			continue
		}
		out = append(out, it)
	}
	t.items = out
	t.mu.Unlock()
	if found {
		t.changed()
	}
}

// Active returns the visible notifications, oldest first.
func (t *Toasts) Active() []Toast {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Toast(nil), t.items...)
}

// Close stops pending timers and clears everything.
func (t *Toasts) Close() {
	t.mu.Lock()
	for id, tm := range t.timers {
		tm.Stop()
		delete(t.timers, id)
	}
	t.items = nil
	t.mu.Unlock()
}

func (t *Toasts) changed() {
	t.mu.Lock()
	fn := t.onChange
	items := append([]Toast(nil), t.items...)
	t.mu.Unlock()
	if fn != nil {
		fn(items)
	}
}
