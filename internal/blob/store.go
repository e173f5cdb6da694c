/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package blob keeps locally addressable, revocable binary resources
// (QR images, downloaded files) and the current preview markup, and can
// serve them over a loopback HTTP server.
package blob

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown or revoked handles.
var ErrNotFound = errors.New("blob: not found")

// Handle addresses a stored resource. URL is only reachable while a Server
// is running; before that it is a "blob:" reference.
type Handle struct {
	ID  string
	URL string
}

// Item is a stored resource.
type Item struct {
	Data        []byte
	ContentType string
}

// Store holds resources in memory until revoked.
type Store struct {
	mu      sync.RWMutex
	items   map[string]Item
	base    string
	preview string
}

func NewStore() *Store { return &Store{items: make(map[string]Item)} }

// Put stores a copy of data and returns its handle.
func (s *Store) Put(data []byte, contentType string) Handle {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = Item{Data: append([]byte(nil), data...), ContentType: contentType}
	return Handle{ID: id, URL: s.urlLocked(id)}
}

// Get returns the resource behind id.
func (s *Store) Get(id string) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return it, nil
}

// Revoke releases a resource. Revoking twice is harmless.
func (s *Store) Revoke(id string) {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
}

// Len reports how many resources are held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// SetPreview replaces the preview markup served at /preview.
func (s *Store) SetPreview(html string) {
	s.mu.Lock()
	s.preview = html
	s.mu.Unlock()
}

// Preview returns the current preview markup.
func (s *Store) Preview() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.preview
}

// URL returns the address of id under the current base.
func (s *Store) URL(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.urlLocked(id)
}

func (s *Store) setBase(base string) {
	s.mu.Lock()
	s.base = base
	s.mu.Unlock()
}

func (s *Store) urlLocked(id string) string {
	if s.base == "" {
		return "blob:" + id
	}
	return s.base + "/blob/" + id
}
