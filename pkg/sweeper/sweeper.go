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

// Package sweeper periodically marks silent probes stale and compacts the
// warm tier into cold history.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/carverauto/probehub/pkg/logger"
	"github.com/carverauto/probehub/pkg/models"
	"github.com/carverauto/probehub/pkg/presence"
	"github.com/carverauto/probehub/pkg/wire"
)

const (
	serviceName    = "presence-sweeper"
	publishTimeout = 5 * time.Second
)

var (
	errSweeperRunning    = errors.New("sweeper already running")
	errSweeperNotRunning = errors.New("sweeper not running")
)

// Result summarizes one sweep cycle.
type Result struct {
	Marked   int
	Archived int
}

// Sweeper owns the periodic staleness pass over the presence store.
type Sweeper struct {
	store     *presence.Store
	clock     Clock
	interval  time.Duration
	threshold time.Duration
	events    EventPublisher
	logger    logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Sweeper)

// WithEventPublisher reports each stale mark to p.
func WithEventPublisher(p EventPublisher) Option {
	return func(s *Sweeper) {
		s.events = p
	}
}

// New builds a sweeper for store. A nil clock uses wall time.
func New(store *presence.Store, cfg *models.HubConfig, clock Clock, log logger.Logger, opts ...Option) *Sweeper {
	if clock == nil {
		clock = realClock{}
	}

	s := &Sweeper{
		store:     store,
		clock:     clock,
		interval:  cfg.SweepInterval.Std(),
		threshold: cfg.StaleThreshold.Std(),
		logger:    log,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (*Sweeper) Name() string {
	return serviceName
}

// Start launches the sweep loop. The first cycle runs one interval after
// Start.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return errSweeperRunning
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	ticker := s.clock.Ticker(s.interval)

	go s.loop(ctx, ticker, s.done)

	s.logger.Info().
		Dur("interval", s.interval).
		Dur("stale_threshold", s.threshold).
		Msg("Presence sweeper started")

	return nil
}

// Stop ends the loop and waits for an in-flight cycle to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if done == nil {
		return errSweeperNotRunning
	}

	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) loop(ctx context.Context, ticker Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.RunCycle(ctx)
		}
	}
}

// RunCycle marks every hot entry whose last sign of life is older than the
// stale threshold, then moves the warm tier into cold history. A panic inside
// the cycle is logged and swallowed so the next tick still runs.
func (s *Sweeper) RunCycle(ctx context.Context) (res Result) {
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			recordSweepFailure(ctx)
			s.logger.Error().Err(fmt.Errorf("sweep panic: %v", r)).Msg("Sweep cycle failed")

			res = Result{}
		}
	}()

	now := s.clock.Now()

	for _, probeID := range s.store.HotIDs() {
		entry, ok := s.store.Read(probeID, presence.TierHot)
		if !ok || !s.isStale(entry, now) {
			continue
		}

		lastSeen := livenessTime(entry)

		s.store.Write(probeID, map[string]any{
			presence.FieldStatus:    presence.StatusStale,
			presence.FieldStaleTime: wire.Stamp(now),
		}, presence.TierHot)

		res.Marked++

		s.logger.Info().
			Str("probe_id", probeID).
			Time("last_seen", lastSeen).
			Msg("Probe marked stale")

		s.publishStale(ctx, probeID, now, lastSeen)
	}

	res.Archived = s.store.SweepToCold()

	elapsed := time.Since(started)
	recordSweep(ctx, res.Marked, res.Archived, elapsed)

	s.logger.Debug().
		Int("marked_stale", res.Marked).
		Int("archived", res.Archived).
		Dur("elapsed", elapsed).
		Msg("Sweep cycle complete")

	return res
}

func (s *Sweeper) isStale(entry presence.Entry, now time.Time) bool {
	switch entry.Data[presence.FieldStatus] {
	case presence.StatusStale, presence.StatusDisconnected:
		return false
	}

	return now.Sub(livenessTime(entry)) > s.threshold
}

// livenessTime is the probe's last pulse when the hot entry carries one, and
// the entry's own stamp otherwise.
func livenessTime(entry presence.Entry) time.Time {
	if pulse, ok := wire.Payload(entry.Data).Float(presence.FieldLastPulse); ok {
		return wire.StampTime(pulse)
	}

	return entry.Stamp
}

func (s *Sweeper) publishStale(ctx context.Context, probeID string, now, lastSeen time.Time) {
	if s.events == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err := s.events.PublishProbeEvent(ctx, models.ProbeEventData{
		ProbeID:   probeID,
		Kind:      models.ProbeStale,
		Timestamp: now,
		LastPulse: &lastSeen,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("probe_id", probeID).Msg("Failed to publish stale event")
	}
}
