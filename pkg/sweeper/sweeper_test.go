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

package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/probehub/pkg/logger"
	"github.com/carverauto/probehub/pkg/models"
	"github.com/carverauto/probehub/pkg/presence"
	"github.com/carverauto/probehub/pkg/wire"
)

var errPublish = errors.New("publish failed")

//nolint:gochecknoglobals // fixed test epoch
var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ProbeEventData
	err    error
}

func (r *recordingPublisher) PublishProbeEvent(_ context.Context, e models.ProbeEventData) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, e)

	return r.err
}

func (r *recordingPublisher) kinds() []models.ProbeEventKind {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.ProbeEventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}

	return out
}

func testConfig() *models.HubConfig {
	return &models.HubConfig{
		SweepInterval:  models.Duration(30 * time.Second),
		StaleThreshold: models.Duration(90 * time.Second),
	}
}

func TestRunCycleMarksSilentProbeStale(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	clock := NewMockClock(ctrl)

	storeNow := epoch
	store := presence.NewStore(presence.WithClock(func() time.Time { return storeNow }))

	store.Write("probe_123456", map[string]any{presence.FieldStatus: presence.StatusConnected}, presence.TierHot)
	store.Write("probe_123456", map[string]any{presence.FieldLastPulse: wire.Stamp(epoch.Add(5 * time.Second))}, presence.TierHot)

	now := epoch.Add(5*time.Second + 91*time.Second)
	clock.EXPECT().Now().Return(now)

	pub := &recordingPublisher{}
	s := New(store, testConfig(), clock, logger.NewTestLogger(), WithEventPublisher(pub))

	res := s.RunCycle(context.Background())
	assert.Equal(t, Result{Marked: 1, Archived: 1}, res)

	hot, ok := store.Read("probe_123456", presence.TierHot)
	require.True(t, ok)
	assert.Equal(t, presence.StatusStale, hot.Data[presence.FieldStatus])
	assert.Equal(t, wire.Stamp(now), hot.Data[presence.FieldStaleTime])

	_, ok = store.Read("probe_123456", presence.TierWarm)
	assert.False(t, ok, "warm tier is emptied by the sweep")

	history := store.History("probe_123456")
	require.Len(t, history, 1)
	assert.Contains(t, history[0].Data, presence.FieldLastPulse)

	require.Equal(t, []models.ProbeEventKind{models.ProbeStale}, pub.kinds())
	require.NotNil(t, pub.events[0].LastPulse)
	assert.True(t, epoch.Add(5*time.Second).Equal(*pub.events[0].LastPulse))
}

func TestRunCycleThresholds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    map[string]any
		elapsed time.Duration
		stale   bool
	}{
		{
			name:    "recent pulse",
			data:    map[string]any{presence.FieldLastPulse: wire.Stamp(epoch)},
			elapsed: 60 * time.Second,
		},
		{
			name:    "exactly at threshold",
			data:    map[string]any{presence.FieldLastPulse: wire.Stamp(epoch)},
			elapsed: 90 * time.Second,
		},
		{
			name:    "old pulse",
			data:    map[string]any{presence.FieldLastPulse: wire.Stamp(epoch)},
			elapsed: 91 * time.Second,
			stale:   true,
		},
		{
			name:    "no pulse uses stamp",
			data:    map[string]any{presence.FieldStatus: presence.StatusConnected},
			elapsed: 120 * time.Second,
			stale:   true,
		},
		{
			name:    "metrics only uses stamp",
			data:    map[string]any{presence.FieldMetrics: map[string]any{"cpu": int64(1)}},
			elapsed: 30 * time.Second,
		},
		{
			name:    "already stale",
			data:    map[string]any{presence.FieldStatus: presence.StatusStale},
			elapsed: time.Hour,
		},
		{
			name:    "disconnected",
			data:    map[string]any{presence.FieldStatus: presence.StatusDisconnected},
			elapsed: time.Hour,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			clock := NewMockClock(ctrl)
			clock.EXPECT().Now().Return(epoch.Add(tt.elapsed))

			store := presence.NewStore(presence.WithClock(func() time.Time { return epoch }))
			store.Write("probe_1", tt.data, presence.TierHot)

			res := New(store, testConfig(), clock, logger.NewTestLogger()).RunCycle(context.Background())

			hot, ok := store.Read("probe_1", presence.TierHot)
			require.True(t, ok)

			if tt.stale {
				assert.Equal(t, 1, res.Marked)
				assert.Equal(t, presence.StatusStale, hot.Data[presence.FieldStatus])

				return
			}

			assert.Zero(t, res.Marked)
			assert.Equal(t, tt.data, hot.Data)
		})
	}
}

func TestRunCycleArchivesRegistrations(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	clock := NewMockClock(ctrl)
	clock.EXPECT().Now().Return(epoch)

	store := presence.NewStore()
	store.Write("probe_1", map[string]any{"secret": "key_1"}, presence.TierWarm)
	store.Write("probe_2", map[string]any{"secret": "key_2"}, presence.TierWarm)

	res := New(store, testConfig(), clock, logger.NewTestLogger()).RunCycle(context.Background())
	assert.Equal(t, Result{Archived: 2}, res)
	assert.Zero(t, store.Stats().Warm)
	assert.Len(t, store.History("probe_2"), 1)
}

func TestRunCycleRecoversPanic(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	clock := NewMockClock(ctrl)
	clock.EXPECT().Now().DoAndReturn(func() time.Time { panic("clock exploded") })

	store := presence.NewStore()
	store.Write("probe_1", map[string]any{}, presence.TierWarm)

	s := New(store, testConfig(), clock, logger.NewTestLogger())

	assert.NotPanics(t, func() {
		assert.Equal(t, Result{}, s.RunCycle(context.Background()))
	})
	assert.Equal(t, 1, store.Stats().Warm)
}

func TestRunCyclePublishFailureIsLogged(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	clock := NewMockClock(ctrl)
	clock.EXPECT().Now().Return(epoch.Add(time.Hour))

	store := presence.NewStore(presence.WithClock(func() time.Time { return epoch }))
	store.Write("probe_1", map[string]any{}, presence.TierHot)

	pub := &recordingPublisher{err: errPublish}
	res := New(store, testConfig(), clock, logger.NewTestLogger(), WithEventPublisher(pub)).RunCycle(context.Background())

	assert.Equal(t, 1, res.Marked)
	assert.Len(t, pub.kinds(), 1)
}

func TestStartRunsCycleOnTick(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	clock := NewMockClock(ctrl)
	ticker := NewMockTicker(ctrl)

	ticks := make(chan time.Time)

	clock.EXPECT().Ticker(30 * time.Second).Return(ticker)
	clock.EXPECT().Now().Return(epoch.Add(time.Hour)).AnyTimes()
	ticker.EXPECT().Chan().Return((<-chan time.Time)(ticks)).AnyTimes()
	ticker.EXPECT().Stop()

	store := presence.NewStore(presence.WithClock(func() time.Time { return epoch }))
	store.Write("probe_1", map[string]any{presence.FieldStatus: presence.StatusConnected}, presence.TierHot)

	s := New(store, testConfig(), clock, logger.NewTestLogger())
	assert.Equal(t, "presence-sweeper", s.Name())

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	require.ErrorIs(t, s.Start(ctx), errSweeperRunning)

	ticks <- epoch.Add(time.Hour)

	require.Eventually(t, func() bool {
		hot, ok := store.Read("probe_1", presence.TierHot)
		return ok && hot.Data[presence.FieldStatus] == presence.StatusStale
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop(ctx))
	require.ErrorIs(t, s.Stop(ctx), errSweeperNotRunning)
}
