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

package credentials

import (
	"bytes"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/probehub/pkg/presence"
)

var errGenerator = errors.New("entropy unavailable")

// sequenceGenerator hands out the configured ids and secrets in order.
type sequenceGenerator struct {
	ids     []string
	secrets []string
	err     error
}

func (g *sequenceGenerator) NewProbeID() (string, error) {
	if g.err != nil {
		return "", g.err
	}

	id := g.ids[0]
	if len(g.ids) > 1 {
		g.ids = g.ids[1:]
	}

	return id, nil
}

func (g *sequenceGenerator) NewSecret() (string, error) {
	s := g.secrets[0]
	if len(g.secrets) > 1 {
		g.secrets = g.secrets[1:]
	}

	return s, nil
}

func TestRegisterWritesWarmEntry(t *testing.T) {
	t.Parallel()

	now := time.Unix(1718000000, 0)
	store := presence.NewStore()

	r, err := NewRegistrar(store, 6,
		WithGenerator(&sequenceGenerator{ids: []string{"probe_123456"}, secrets: []string{"key_654321"}}),
		WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	cred, err := r.Register()
	require.NoError(t, err)
	assert.Equal(t, Credential{ProbeID: "probe_123456", Secret: "key_654321"}, cred)

	_, ok := store.Read("probe_123456", presence.TierHot)
	require.True(t, ok, "warm entry is visible through a hot-preferring read")

	warm, ok := store.Read("probe_123456", presence.TierWarm)
	require.True(t, ok)
	assert.Equal(t, "key_654321", warm.Data[FieldSecret])
	assert.InDelta(t, 1718000000.0, warm.Data[FieldRegisteredAt], 0)
	assert.Equal(t, []string{"probe_123456"}, store.ProbeIDs())
	assert.Equal(t, 1, r.Count())
}

func TestVerify(t *testing.T) {
	t.Parallel()

	store := presence.NewStore()

	r, err := NewRegistrar(store, 6,
		WithGenerator(&sequenceGenerator{ids: []string{"probe_123456"}, secrets: []string{"key_654321"}}))
	require.NoError(t, err)

	_, err = r.Register()
	require.NoError(t, err)

	assert.True(t, r.Verify("probe_123456", "key_654321"))
	assert.False(t, r.Verify("probe_123456", "key_000000"))
	assert.False(t, r.Verify("probe_999999", "key_654321"))
	assert.False(t, r.Verify("probe_123456", ""))
}

func TestVerifySurvivesSweepAndDemotion(t *testing.T) {
	t.Parallel()

	store := presence.NewStore()

	r, err := NewRegistrar(store, 6,
		WithGenerator(&sequenceGenerator{ids: []string{"probe_1"}, secrets: []string{"key_1"}}))
	require.NoError(t, err)

	_, err = r.Register()
	require.NoError(t, err)

	store.Write("probe_1", map[string]any{"status": "connected", "secret": "key_1"}, presence.TierHot)
	store.Write("probe_1", map[string]any{"last_pulse": 1.0}, presence.TierHot)
	store.Write("probe_1", map[string]any{"last_pulse": 2.0}, presence.TierHot)

	warm, ok := store.Read("probe_1", presence.TierWarm)
	require.True(t, ok)
	assert.NotContains(t, warm.Data, FieldSecret)

	assert.True(t, r.Verify("probe_1", "key_1"))

	store.SweepToCold()

	assert.True(t, r.Verify("probe_1", "key_1"))
	assert.False(t, r.Verify("probe_1", "key_2"))
}

func TestLedgerOutlivesSweep(t *testing.T) {
	t.Parallel()

	now := time.Unix(1718000000, 0)
	store := presence.NewStore()

	r, err := NewRegistrar(store, 6,
		WithGenerator(&sequenceGenerator{ids: []string{"probe_2", "probe_1"}, secrets: []string{"key_1"}}),
		WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	_, err = r.Register()
	require.NoError(t, err)

	_, err = r.Register()
	require.NoError(t, err)

	store.SweepToCold()
	assert.Empty(t, store.ProbeIDs())

	assert.Equal(t, []string{"probe_1", "probe_2"}, r.ProbeIDs())

	at, ok := r.RegisteredAt("probe_1")
	require.True(t, ok)
	assert.True(t, now.Equal(at))

	_, ok = r.RegisteredAt("probe_3")
	assert.False(t, ok)
}

func TestRegisterRetriesOnCollision(t *testing.T) {
	t.Parallel()

	store := presence.NewStore()
	store.Write("probe_111111", map[string]any{"status": "connected"}, presence.TierHot)

	gen := &sequenceGenerator{
		ids:     []string{"probe_111111", "probe_222222", "probe_222222", "probe_333333"},
		secrets: []string{"key_a", "key_b"},
	}

	r, err := NewRegistrar(store, 6, WithGenerator(gen))
	require.NoError(t, err)

	first, err := r.Register()
	require.NoError(t, err)
	assert.Equal(t, "probe_222222", first.ProbeID)

	second, err := r.Register()
	require.NoError(t, err)
	assert.Equal(t, "probe_333333", second.ProbeID)
}

func TestRegisterGivesUpWhenExhausted(t *testing.T) {
	t.Parallel()

	store := presence.NewStore()
	store.Write("probe_111111", nil, presence.TierWarm)

	r, err := NewRegistrar(store, 6,
		WithGenerator(&sequenceGenerator{ids: []string{"probe_111111"}, secrets: []string{"key"}}))
	require.NoError(t, err)

	_, err = r.Register()
	require.ErrorIs(t, err, ErrIDSpaceExhausted)
}

func TestRegisterPropagatesGeneratorError(t *testing.T) {
	t.Parallel()

	r, err := NewRegistrar(presence.NewStore(), 6, WithGenerator(&sequenceGenerator{err: errGenerator}))
	require.NoError(t, err)

	_, err = r.Register()
	require.ErrorIs(t, err, errGenerator)
}

func TestRandomGeneratorFormat(t *testing.T) {
	t.Parallel()

	gen, err := NewRandomGenerator(nil, 12)
	require.NoError(t, err)

	idPattern := regexp.MustCompile(`^probe_[1-9][0-9]{5}$`)
	secretPattern := regexp.MustCompile(`^key_[0-9]{12}$`)

	for i := 0; i < 50; i++ {
		id, err := gen.NewProbeID()
		require.NoError(t, err)
		assert.Regexp(t, idPattern, id)

		secret, err := gen.NewSecret()
		require.NoError(t, err)
		assert.Regexp(t, secretPattern, secret)
	}
}

func TestRandomGeneratorErrors(t *testing.T) {
	t.Parallel()

	_, err := NewRandomGenerator(nil, 0)
	require.ErrorIs(t, err, errDigitsOutOfRange)

	gen, err := NewRandomGenerator(bytes.NewReader(nil), 6)
	require.NoError(t, err)

	_, err = gen.NewProbeID()
	require.Error(t, err)

	_, err = gen.NewSecret()
	require.Error(t, err)

	_, err = NewRegistrar(presence.NewStore(), 99)
	require.Error(t, err)
}
