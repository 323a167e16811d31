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

// Package presence keeps the hub's three-tier view of probe state.
//
// The hot tier holds each probe's current entry and the warm tier the entry
// it replaced. Registration writes land directly in warm. The cold tier is an
// append-only, bounded history per probe that only the sweep and explicit
// archival write to; reads never consult it.
package presence

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// DefaultHistoryLimit is how many cold records are kept per probe.
const DefaultHistoryLimit = 30

// Tier selects a slot in the store.
type Tier int

const (
	TierHot Tier = iota
	TierWarm
	TierCold
)

func (t Tier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierWarm:
		return "warm"
	case TierCold:
		return "cold"
	default:
		return "unknown"
	}
}

func (t Tier) valid() bool {
	return t >= TierHot && t <= TierCold
}

// Entry is one stamped presence record.
type Entry struct {
	Data     map[string]any `json:"data"`
	Stamp    time.Time      `json:"stamp"`
	Mutation uint64         `json:"mutation"`
}

// Stats summarizes the store's occupancy.
type Stats struct {
	Hot          int    `json:"hot"`
	Warm         int    `json:"warm"`
	ColdProbes   int    `json:"cold_probes"`
	ColdRecords  int    `json:"cold_records"`
	LastMutation uint64 `json:"last_mutation"`
	HistoryLimit int    `json:"history_limit"`
}

// Store is safe for concurrent use. A single mutex covers every tier and the
// mutation counter, so the counter orders all writes totally.
type Store struct {
	mu           sync.Mutex
	hot          map[string]Entry
	warm         map[string]Entry
	cold         map[string]*ring
	mutation     uint64
	historyLimit int
	now          func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp entries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithHistoryLimit changes how many cold records are retained per probe.
// Non-positive values keep the default.
func WithHistoryLimit(limit int) Option {
	return func(s *Store) {
		if limit > 0 {
			s.historyLimit = limit
		}
	}
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		hot:          make(map[string]Entry),
		warm:         make(map[string]Entry),
		cold:         make(map[string]*ring),
		historyLimit: DefaultHistoryLimit,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Write stamps data with the next mutation number and stores it in tier.
//
// A hot write first moves any existing hot entry into warm, replacing what
// warm held. A warm write leaves hot untouched. A cold write appends to the
// probe's history and drops the oldest record once the limit is reached.
// Any other tier is a programming error and panics before the counter moves.
func (s *Store) Write(probeID string, data map[string]any, tier Tier) Entry {
	if !tier.valid() {
		panic("presence: write to unknown tier " + strconv.Itoa(int(tier)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.mutation++

	entry := Entry{
		Data:     cloneMap(data),
		Stamp:    s.now(),
		Mutation: s.mutation,
	}

	switch tier {
	case TierHot:
		if prev, ok := s.hot[probeID]; ok {
			s.warm[probeID] = prev
		}

		s.hot[probeID] = entry
	case TierWarm:
		s.warm[probeID] = entry
	case TierCold:
		s.appendColdLocked(probeID, entry)
	}

	return entry.clone()
}

// Read returns the hot entry when prefer is TierHot and one exists, else the
// warm entry. The bool is false when neither tier holds the probe.
func (s *Store) Read(probeID string, prefer Tier) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prefer == TierHot {
		if e, ok := s.hot[probeID]; ok {
			return e.clone(), true
		}
	}

	if e, ok := s.warm[probeID]; ok {
		return e.clone(), true
	}

	return Entry{}, false
}

// SweepToCold appends every warm entry to its probe's history and empties the
// warm tier. It returns the number of entries moved.
func (s *Store) SweepToCold() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	moved := len(s.warm)

	for id, e := range s.warm {
		s.appendColdLocked(id, e)
	}

	s.warm = make(map[string]Entry)

	return moved
}

// History returns the cold records for probeID, oldest first.
func (s *Store) History(probeID string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.cold[probeID]
	if !ok {
		return nil
	}

	out := r.snapshot()
	for i := range out {
		out[i] = out[i].clone()
	}

	return out
}

// HotIDs returns the ids holding a hot entry, sorted.
func (s *Store) HotIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedKeys(s.hot, nil)
}

// ProbeIDs returns the sorted union of ids present in the hot or warm tier.
func (s *Store) ProbeIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedKeys(s.hot, s.warm)
}

// Mutation returns the most recently issued mutation number.
func (s *Store) Mutation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutation
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Hot:          len(s.hot),
		Warm:         len(s.warm),
		ColdProbes:   len(s.cold),
		LastMutation: s.mutation,
		HistoryLimit: s.historyLimit,
	}

	for _, r := range s.cold {
		st.ColdRecords += r.size
	}

	return st
}

func (s *Store) appendColdLocked(probeID string, e Entry) {
	r, ok := s.cold[probeID]
	if !ok {
		r = newRing(s.historyLimit)
		s.cold[probeID] = r
	}

	r.push(e)
}

func sortedKeys(a, b map[string]Entry) []string {
	ids := make([]string, 0, len(a)+len(b))

	for id := range a {
		ids = append(ids, id)
	}

	for id := range b {
		if _, dup := a[id]; !dup {
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)

	return ids
}
