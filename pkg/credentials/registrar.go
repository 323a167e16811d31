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

// Package credentials mints probe identities and answers which secret a
// probe id was issued.
package credentials

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/carverauto/probehub/pkg/hashutil"
	"github.com/carverauto/probehub/pkg/presence"
	"github.com/carverauto/probehub/pkg/wire"
)

var (
	// ErrIDSpaceExhausted is returned when repeated draws keep colliding with
	// existing probe ids.
	ErrIDSpaceExhausted = errors.New("could not allocate an unused probe id")
	errDigitsOutOfRange = errors.New("digit count out of range")
)

const (
	ProbeIDPrefix = "probe_"
	SecretPrefix  = "key_"

	// FieldSecret and FieldRegisteredAt are the keys of a registration entry.
	FieldSecret       = presence.FieldSecret
	FieldRegisteredAt = "registeredAt"

	probeIDDigits   = 6
	maxDigits       = 32
	maxMintAttempts = 16
)

// Credential is a freshly issued probe identity.
type Credential struct {
	ProbeID string
	Secret  string
}

// Generator produces candidate identifiers. The default draws decimal digits
// from crypto/rand.
type Generator interface {
	NewProbeID() (string, error)
	NewSecret() (string, error)
}

type randomGenerator struct {
	random       io.Reader
	secretDigits int
}

// NewRandomGenerator returns a Generator that reads from random, or from
// crypto/rand when random is nil.
func NewRandomGenerator(random io.Reader, secretDigits int) (Generator, error) {
	if secretDigits < 1 || secretDigits > maxDigits {
		return nil, fmt.Errorf("%w: %d", errDigitsOutOfRange, secretDigits)
	}

	if random == nil {
		random = rand.Reader
	}

	return &randomGenerator{random: random, secretDigits: secretDigits}, nil
}

// NewProbeID returns probe_ followed by six digits without a leading zero.
func (g *randomGenerator) NewProbeID() (string, error) {
	n, err := rand.Int(g.random, big.NewInt(900000))
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s%d", ProbeIDPrefix, 100000+n.Int64()), nil
}

func (g *randomGenerator) NewSecret() (string, error) {
	digits, err := randomDigits(g.random, g.secretDigits)
	if err != nil {
		return "", err
	}

	return SecretPrefix + digits, nil
}

func randomDigits(random io.Reader, count int) (string, error) {
	var b strings.Builder

	b.Grow(count)

	ten := big.NewInt(10)

	for i := 0; i < count; i++ {
		d, err := rand.Int(random, ten)
		if err != nil {
			return "", err
		}

		b.WriteByte(byte('0' + d.Int64()))
	}

	return b.String(), nil
}

// Registrar issues credentials into the presence store and keeps its own
// ledger of every secret it minted. Registration entries live in the warm
// tier, which the sweep empties and hot writes overwrite, so the ledger is
// what makes a credential outlive its warm entry.
type Registrar struct {
	store *presence.Store
	gen   Generator
	now   func() time.Time

	mu     sync.RWMutex
	ledger map[string]ledgerEntry
}

type ledgerEntry struct {
	secret       string
	registeredAt time.Time
}

// Option configures a Registrar.
type Option func(*Registrar)

// WithGenerator replaces the identifier source.
func WithGenerator(gen Generator) Option {
	return func(r *Registrar) {
		if gen != nil {
			r.gen = gen
		}
	}
}

// WithClock overrides the registration timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Registrar) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistrar returns a Registrar writing to store. secretDigits sets the
// length of generated secrets when no generator is supplied.
func NewRegistrar(store *presence.Store, secretDigits int, opts ...Option) (*Registrar, error) {
	r := &Registrar{
		store:  store,
		now:    time.Now,
		ledger: make(map[string]ledgerEntry),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.gen == nil {
		gen, err := NewRandomGenerator(nil, secretDigits)
		if err != nil {
			return nil, err
		}

		r.gen = gen
	}

	return r, nil
}

// Register mints an unused probe id and secret, writes the registration entry
// to the warm tier and records the secret in the ledger.
func (r *Registrar) Register() (Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var id string

	for attempt := 0; ; attempt++ {
		if attempt == maxMintAttempts {
			return Credential{}, ErrIDSpaceExhausted
		}

		candidate, err := r.gen.NewProbeID()
		if err != nil {
			return Credential{}, fmt.Errorf("failed to generate probe id: %w", err)
		}

		if r.inUseLocked(candidate) {
			continue
		}

		id = candidate

		break
	}

	secret, err := r.gen.NewSecret()
	if err != nil {
		return Credential{}, fmt.Errorf("failed to generate secret: %w", err)
	}

	now := r.now()

	r.store.Write(id, map[string]any{
		FieldSecret:       secret,
		FieldRegisteredAt: wire.Stamp(now),
	}, presence.TierWarm)

	r.ledger[id] = ledgerEntry{secret: secret, registeredAt: now}

	return Credential{ProbeID: id, Secret: secret}, nil
}

func (r *Registrar) inUseLocked(id string) bool {
	if _, ok := r.ledger[id]; ok {
		return true
	}

	_, ok := r.store.Read(id, presence.TierHot)

	return ok
}

// StoredSecret returns the secret on file for probeID: the warm entry's
// secret field when present, otherwise the ledger's copy.
func (r *Registrar) StoredSecret(probeID string) (string, bool) {
	if e, ok := r.store.Read(probeID, presence.TierWarm); ok {
		if s, ok := e.Data[FieldSecret].(string); ok && s != "" {
			return s, true
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.ledger[probeID]

	return e.secret, ok
}

// Verify reports whether secret is exactly the one on file for probeID.
func (r *Registrar) Verify(probeID, secret string) bool {
	stored, ok := r.StoredSecret(probeID)
	if !ok {
		return false
	}

	return hashutil.EqualSecret(stored, secret)
}

// Count returns how many credentials have been issued.
func (r *Registrar) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.ledger)
}

// RegisteredAt reports when probeID was issued. It keeps answering after the
// sweep has moved the registration entry out of the warm tier.
func (r *Registrar) RegisteredAt(probeID string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.ledger[probeID]

	return e.registeredAt, ok
}

// ProbeIDs returns every issued probe id, sorted.
func (r *Registrar) ProbeIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.ledger))
	for id := range r.ledger {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}
