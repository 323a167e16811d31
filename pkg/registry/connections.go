/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package registry tracks which probe ids currently own a live connection.
package registry

import (
	"sort"
	"sync"
)

// Conn is the part of a session the registry needs: a stable identity and a
// way to force the transport shut.
type Conn interface {
	ID() string
	Close() error
}

// Registry maps probe ids to their live connection.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func New() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Bind makes conn the live connection for probeID and returns the connection
// it displaced, if any. The displaced connection is not closed here.
func (r *Registry) Bind(probeID string, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.conns[probeID]
	r.conns[probeID] = conn

	if prev != nil && prev.ID() == conn.ID() {
		return nil
	}

	return prev
}

// Unbind removes probeID only while conn still owns it, and reports whether
// it did. A session evicted by a newer login therefore cannot unregister its
// replacement.
func (r *Registry) Unbind(probeID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.conns[probeID]
	if !ok || cur.ID() != conn.ID() {
		return false
	}

	delete(r.conns, probeID)

	return true
}

func (r *Registry) Lookup(probeID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[probeID]

	return c, ok
}

func (r *Registry) IsConnected(probeID string) bool {
	_, ok := r.Lookup(probeID)

	return ok
}

// Connected returns the bound probe ids, sorted.
func (r *Registry) Connected() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}
