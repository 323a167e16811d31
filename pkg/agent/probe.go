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

// Package agent implements the probe side of the hub protocol: it keeps a
// connection open, authenticates, and reports pulses and host metrics.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/probehub/pkg/logger"
	"github.com/carverauto/probehub/pkg/models"
	"github.com/carverauto/probehub/pkg/wire"
)

// Probe maintains a session with the hub until its context ends.
type Probe struct {
	hubAddr     string
	probeID     string
	secret      string
	registerURL string
	apiKey      string

	pulseInterval   time.Duration
	metricsInterval time.Duration
	reconnectDelay  time.Duration
	dialTimeout     time.Duration

	collector  Collector
	httpClient *http.Client
	logger     logger.Logger
	now        func() time.Time
}

type Option func(*Probe)

// WithCollector replaces the host metrics collector.
func WithCollector(c Collector) Option {
	return func(p *Probe) {
		p.collector = c
	}
}

// WithHTTPClient sets the client used for self-registration.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Probe) {
		p.httpClient = c
	}
}

// NewProbe builds a probe from a validated config.
func NewProbe(cfg *models.ProbeConfig, log logger.Logger, opts ...Option) *Probe {
	p := &Probe{
		hubAddr:         cfg.HubAddr,
		probeID:         cfg.ProbeID,
		secret:          cfg.Secret,
		registerURL:     cfg.RegisterURL,
		apiKey:          cfg.APIKey,
		pulseInterval:   cfg.PulseInterval.Std(),
		metricsInterval: cfg.MetricsInterval.Std(),
		reconnectDelay:  cfg.ReconnectDelay.Std(),
		dialTimeout:     cfg.DialTimeout.Std(),
		logger:          log,
		now:             time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.collector == nil {
		p.collector = NewHostCollector(log, "/")
	}

	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: p.dialTimeout}
	}

	return p
}

// ProbeID returns the identity in use, which is empty until registration
// succeeds when none was configured.
func (p *Probe) ProbeID() string {
	return p.probeID
}

// Run connects, authenticates and reports until ctx is cancelled, redialing
// after every lost connection. It returns nil on cancellation and a
// *RejectedError when the hub refuses the credentials.
func (p *Probe) Run(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := p.connectOnce(ctx, attempt)
		if ctx.Err() != nil {
			return nil
		}

		var rejected *RejectedError
		if errors.As(err, &rejected) && rejected.Handshake {
			return err
		}

		p.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", p.reconnectDelay).
			Msg("Hub link lost, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.reconnectDelay):
		}
	}
}

func (p *Probe) connectOnce(ctx context.Context, attempt int) error {
	if err := p.ensureCredentials(ctx); err != nil {
		return err
	}

	p.logger.Debug().Int("attempt", attempt).Str("hub_addr", p.hubAddr).Msg("Connecting to hub")

	dialer := net.Dialer{Timeout: p.dialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", p.hubAddr)
	if err != nil {
		return fmt.Errorf("failed to dial hub: %w", err)
	}
	defer func() { _ = conn.Close() }()

	reader := wire.NewFrameReader(conn)

	if err := p.handshake(conn, reader); err != nil {
		return err
	}

	return p.stream(ctx, conn, reader)
}

// ensureCredentials registers with the control API when no credential was
// configured. The hub port in the reply replaces the configured one.
func (p *Probe) ensureCredentials(ctx context.Context) error {
	if p.probeID != "" {
		return nil
	}

	resp, err := RegisterProbe(ctx, p.httpClient, p.registerURL, p.apiKey)
	if err != nil {
		return err
	}

	p.probeID = resp.ProbeID
	p.secret = resp.Secret

	if resp.Port > 0 {
		if host, _, err := net.SplitHostPort(p.hubAddr); err == nil {
			p.hubAddr = net.JoinHostPort(host, strconv.Itoa(resp.Port))
		}
	}

	p.logger.Info().Str("probe_id", p.probeID).Str("hub_addr", p.hubAddr).Msg("Registered with hub")

	return nil
}

func (p *Probe) handshake(conn net.Conn, reader *wire.FrameReader) error {
	if err := p.send(conn, wire.OpHello, wire.Payload{"probe_id": p.probeID, "secret": p.secret}); err != nil {
		return err
	}

	_ = conn.SetReadDeadline(time.Now().Add(p.dialTimeout))

	frame, err := reader.Next()
	if err != nil {
		return fmt.Errorf("failed to read handshake reply: %w", err)
	}

	_ = conn.SetReadDeadline(time.Time{})

	switch frame.Op {
	case wire.OpAck:
		p.logger.Info().
			Str("probe_id", p.probeID).
			Bool("welcome", frame.Payload.Bool("welcome")).
			Msg("Link established")

		return nil
	case wire.OpReject:
		return &RejectedError{Reason: frame.Payload.String("reason"), Handshake: true}
	default:
		return fmt.Errorf("%w: %s during handshake", errUnexpectedReply, frame.Op)
	}
}

// stream runs the send and receive halves of an authenticated session until
// either fails or ctx ends.
func (p *Probe) stream(ctx context.Context, conn net.Conn, reader *wire.FrameReader) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.sendLoop(gctx, conn)
	})

	g.Go(func() error {
		return p.readLoop(reader)
	})

	g.Go(func() error {
		<-gctx.Done()

		return conn.Close()
	})

	return g.Wait()
}

func (p *Probe) sendLoop(ctx context.Context, conn net.Conn) error {
	pulse := time.NewTicker(p.pulseInterval)
	defer pulse.Stop()

	metrics := time.NewTicker(p.metricsInterval)
	defer metrics.Stop()

	if err := p.sendMetrics(ctx, conn); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pulse.C:
			err := p.send(conn, wire.OpPulse, wire.Payload{
				"pulse_time": wire.Stamp(p.now()),
				"probe_id":   p.probeID,
			})
			if err != nil {
				return err
			}
		case <-metrics.C:
			if err := p.sendMetrics(ctx, conn); err != nil {
				return err
			}
		}
	}
}

func (p *Probe) sendMetrics(ctx context.Context, conn net.Conn) error {
	metrics, err := p.collector.Collect(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Metrics collection failed")

		return nil
	}

	err = p.send(conn, wire.OpMetrics, wire.Payload{"metrics": metrics, "probe_id": p.probeID})
	if errors.Is(err, wire.ErrPayloadTooLarge) {
		p.logger.Warn().Err(err).Msg("Metrics set too large, skipped")

		return nil
	}

	return err
}

func (p *Probe) readLoop(reader *wire.FrameReader) error {
	for {
		frame, err := reader.Next()
		if err != nil {
			return fmt.Errorf("hub connection closed: %w", err)
		}

		switch frame.Op {
		case wire.OpAck:
			if changed, ok := frame.Payload["changed"].(bool); ok {
				p.logger.Debug().Bool("changed", changed).Msg("Metrics acknowledged")
			}
		case wire.OpReject:
			return &RejectedError{Reason: frame.Payload.String("reason")}
		default:
			p.logger.Warn().Str("opcode", frame.Op.String()).Msg("Ignoring unexpected frame from hub")
		}
	}
}

func (p *Probe) send(conn net.Conn, op wire.Opcode, payload wire.Payload) error {
	if p.dialTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(p.dialTimeout))
	}

	if err := wire.WriteFrame(conn, op, payload); err != nil {
		return fmt.Errorf("failed to send %s: %w", op, err)
	}

	return nil
}
