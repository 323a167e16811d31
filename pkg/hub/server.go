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

// Package hub accepts probe connections and runs one session per connection.
package hub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/carverauto/probehub/pkg/logger"
	"github.com/carverauto/probehub/pkg/models"
	"github.com/carverauto/probehub/pkg/presence"
	"github.com/carverauto/probehub/pkg/registry"
)

const (
	serviceName         = "probe-hub"
	defaultWriteTimeout = 10 * time.Second
	publishTimeout      = 5 * time.Second
	acceptRetryDelay    = 100 * time.Millisecond
)

// Server owns the probe listener and every session spawned from it.
type Server struct {
	addr         string
	idleTimeout  time.Duration
	writeTimeout time.Duration

	store  *presence.Store
	conns  *registry.Registry
	creds  CredentialVerifier
	events EventPublisher
	logger logger.Logger
	now    func() time.Time

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	sessions map[*session]struct{}
	stopped  bool
	wg       sync.WaitGroup
}

type Option func(*Server)

// WithEventPublisher sends presence transitions to p.
func WithEventPublisher(p EventPublisher) Option {
	return func(s *Server) {
		if p != nil {
			s.events = p
		}
	}
}

// WithClock overrides the time source used for presence stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithWriteTimeout bounds how long a single reply may block.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.writeTimeout = d
	}
}

// NewServer wires a hub server to its shared state. cfg must already be
// validated.
func NewServer(
	cfg *models.HubConfig,
	store *presence.Store,
	conns *registry.Registry,
	creds CredentialVerifier,
	log logger.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		addr:         cfg.ProbeListenAddr,
		idleTimeout:  cfg.IdleTimeout.Std(),
		writeTimeout: defaultWriteTimeout,
		store:        store,
		conns:        conns,
		creds:        creds,
		events:       NopPublisher(),
		logger:       log,
		now:          time.Now,
		sessions:     make(map[*session]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (*Server) Name() string {
	return serviceName
}

// Start binds the probe listener and begins accepting in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errServerStarted
	}

	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	ctx, cancel := context.WithCancel(ctx)

	s.listener = ln
	s.cancel = cancel

	s.wg.Add(1)

	go s.acceptLoop(ctx, ln)

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Probe listener started")

	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Stop closes the listener and every open session, then waits for the
// session goroutines to finish their teardown or for ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener

	if ln == nil {
		s.mu.Unlock()

		return errServerNotStarted
	}

	cancel := s.cancel
	s.stopped = true

	open := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	cancel()

	err := ln.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	for _, sess := range open {
		_ = sess.Close()
	}

	done := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Int("sessions_closed", len(open)).Msg("Probe listener stopped")
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}

	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}

			s.logger.Warn().Err(err).Msg("Failed to accept probe connection")

			select {
			case <-ctx.Done():
				return
			case <-time.After(acceptRetryDelay):
			}

			continue
		}

		s.wg.Add(1)

		go func() {
			defer s.wg.Done()

			s.ServeConn(ctx, conn)
		}()
	}
}

// ServeConn runs a probe session on conn until the connection ends. It
// blocks, and always closes conn before returning.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	sess := newSession(s, conn)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()

		_ = conn.Close()

		return
	}

	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
	}()

	recordSessionDelta(ctx, 1)
	defer recordSessionDelta(context.WithoutCancel(ctx), -1)

	sess.run(ctx)
}

func (s *Server) publish(ctx context.Context, event models.ProbeEventData) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.events.PublishProbeEvent(ctx, event); err != nil {
		s.logger.Warn().
			Err(err).
			Str("probe_id", event.ProbeID).
			Str("kind", string(event.Kind)).
			Msg("Failed to publish probe event")
	}
}
