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

package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carverauto/probehub/pkg/hashutil"
	"github.com/carverauto/probehub/pkg/models"
	"github.com/carverauto/probehub/pkg/presence"
	"github.com/carverauto/probehub/pkg/wire"
)

type sessionState int

const (
	stateUnauthenticated sessionState = iota
	stateAuthenticated
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateUnauthenticated:
		return "unauthenticated"
	case stateAuthenticated:
		return "authenticated"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// session is the per-connection state machine. Everything except Close runs
// on the session's own goroutine.
type session struct {
	id     string
	srv    *Server
	conn   net.Conn
	reader *wire.FrameReader
	log    zerolog.Logger

	state   sessionState
	probeID string

	closeOnce    sync.Once
	teardownOnce sync.Once
}

func newSession(srv *Server, conn net.Conn) *session {
	id := uuid.New().String()

	return &session{
		id:     id,
		srv:    srv,
		conn:   conn,
		reader: wire.NewFrameReader(conn),
		log: srv.logger.With().
			Str("session_id", id).
			Str("remote_addr", conn.RemoteAddr().String()).
			Logger(),
	}
}

// ID satisfies registry.Conn.
func (s *session) ID() string {
	return s.id
}

// Close shuts the transport. It is safe to call from any goroutine, any
// number of times; the blocked read then fails and the session tears down.
func (s *session) Close() error {
	var err error

	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})

	return err
}

func (s *session) run(ctx context.Context) {
	defer s.teardown(ctx)

	s.log.Debug().Msg("Probe connection opened")

	for {
		if s.srv.idleTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.srv.idleTimeout))
		}

		frame, err := s.reader.Next()
		if err != nil {
			s.logReadError(err)

			return
		}

		recordFrame(ctx, frame.Op)

		if err := s.handle(ctx, frame); err != nil {
			s.log.Debug().Err(err).Str("opcode", frame.Op.String()).Msg("Closing probe session")

			return
		}
	}
}

func (s *session) logReadError(err error) {
	var netErr net.Error

	switch {
	case errors.Is(err, wire.ErrCodec):
		s.log.Warn().Err(err).Msg("Malformed frame, dropping connection")
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		s.log.Debug().Msg("Probe connection closed")
	case errors.As(err, &netErr) && netErr.Timeout():
		s.log.Info().Dur("idle_timeout", s.srv.idleTimeout).Msg("Probe idle, dropping connection")
	default:
		s.log.Warn().Err(err).Msg("Probe connection read failed")
	}
}

func (s *session) handle(ctx context.Context, frame wire.Frame) error {
	switch s.state {
	case stateUnauthenticated:
		if frame.Op != wire.OpHello {
			return s.violation(ctx, frame.Op, "frame before HELLO")
		}

		return s.handleHello(ctx, frame.Payload)
	case stateAuthenticated:
		switch frame.Op {
		case wire.OpPulse:
			return s.handlePulse()
		case wire.OpMetrics:
			return s.handleMetrics(ctx, frame.Payload)
		case wire.OpHello:
			return s.violation(ctx, frame.Op, "repeated HELLO")
		default:
			return s.violation(ctx, frame.Op, "opcode not accepted from probes")
		}
	default:
		return net.ErrClosed
	}
}

func (s *session) handleHello(ctx context.Context, payload wire.Payload) error {
	probeID := payload.String("probe_id")
	secret := payload.String("secret")

	if probeID == "" || !s.srv.creds.Verify(probeID, secret) {
		recordAuthFailure(ctx)
		s.log.Warn().Str("probe_id", probeID).Msg("Rejected probe credentials")

		if err := s.send(wire.OpReject, wire.Payload{"reason": ReasonInvalidCredentials}); err != nil {
			return errors.Join(ErrInvalidCredentials, err)
		}

		return ErrInvalidCredentials
	}

	now := s.srv.now()

	s.probeID = probeID
	s.state = stateAuthenticated
	s.log = s.log.With().Str("probe_id", probeID).Logger()

	if prev := s.srv.conns.Bind(probeID, s); prev != nil {
		recordEviction(ctx)
		s.log.Info().Str("evicted_session_id", prev.ID()).Msg("Probe authenticated again, closing previous connection")

		_ = prev.Close()

		s.srv.publish(ctx, models.ProbeEventData{
			ProbeID:   probeID,
			Kind:      models.ProbeEvicted,
			Timestamp: now,
			SessionID: prev.ID(),
		})
	}

	s.srv.store.Write(probeID, map[string]any{
		presence.FieldStatus: presence.StatusConnected,
		presence.FieldSecret: secret,
	}, presence.TierHot)

	s.srv.publish(ctx, models.ProbeEventData{
		ProbeID:    probeID,
		Kind:       models.ProbeConnected,
		Timestamp:  now,
		RemoteAddr: s.conn.RemoteAddr().String(),
		SessionID:  s.id,
	})

	s.log.Info().Msg("Probe authenticated")

	return s.send(wire.OpAck, wire.Payload{"welcome": true, "stamp": wire.Stamp(now)})
}

func (s *session) handlePulse() error {
	s.srv.store.Write(s.probeID, map[string]any{
		presence.FieldLastPulse: wire.Stamp(s.srv.now()),
	}, presence.TierHot)

	return s.send(wire.OpAck, wire.Payload{"pulse_echo": true})
}

func (s *session) handleMetrics(ctx context.Context, payload wire.Payload) error {
	metrics, ok := payload.Map(presence.FieldMetrics)
	if !ok {
		return s.violation(ctx, wire.OpMetrics, "metrics is not a mapping")
	}

	if !finite(metrics) {
		return s.violation(ctx, wire.OpMetrics, "metrics carry NaN or infinity")
	}

	prev, hadPrev := s.srv.store.Read(s.probeID, presence.TierHot)

	var prevMetrics map[string]any
	if hadPrev {
		prevMetrics, _ = prev.Data[presence.FieldMetrics].(map[string]any)
	}

	oldSum, err := hashutil.FingerprintMetrics(prevMetrics)
	if err != nil {
		return err
	}

	newSum, err := hashutil.FingerprintMetrics(metrics)
	if err != nil {
		return err
	}

	changed := oldSum != newSum

	if changed {
		recordMetricsChanged(ctx)

		if hadPrev {
			s.srv.store.Write(s.probeID, prev.Data, presence.TierCold)
		}
	}

	s.srv.store.Write(s.probeID, map[string]any{
		presence.FieldMetrics:    metrics,
		presence.FieldLastUpdate: wire.Stamp(s.srv.now()),
	}, presence.TierHot)

	s.log.Debug().Bool("changed", changed).Str("fingerprint", newSum.String()).Msg("Metrics received")

	return s.send(wire.OpAck, wire.Payload{"changed": changed})
}

// finite reports whether v holds no NaN or infinite float at any depth.
func finite(v any) bool {
	switch val := v.(type) {
	case float64:
		return !math.IsNaN(val) && !math.IsInf(val, 0)
	case map[string]any:
		for _, item := range val {
			if !finite(item) {
				return false
			}
		}
	case []any:
		for _, item := range val {
			if !finite(item) {
				return false
			}
		}
	}

	return true
}

// violation answers with a single REJECT and ends the session.
func (s *session) violation(ctx context.Context, op wire.Opcode, detail string) error {
	recordViolation(ctx)
	s.log.Warn().Str("opcode", op.String()).Str("state", s.state.String()).Msg("Protocol violation: " + detail)

	if err := s.send(wire.OpReject, wire.Payload{"reason": ReasonProtocolViolation}); err != nil {
		return errors.Join(ErrProtocolViolation, err)
	}

	return fmt.Errorf("%w: %s", ErrProtocolViolation, detail)
}

func (s *session) send(op wire.Opcode, payload wire.Payload) error {
	if s.srv.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.srv.writeTimeout))
	}

	if err := wire.WriteFrame(s.conn, op, payload); err != nil {
		return fmt.Errorf("failed to send %s: %w", op, err)
	}

	return nil
}

// teardown runs once per session whatever ended it. Only the session that
// still owns the probe's registry slot writes the disconnect marker.
func (s *session) teardown(ctx context.Context) {
	s.teardownOnce.Do(func() {
		_ = s.Close()

		wasAuthenticated := s.state == stateAuthenticated
		s.state = stateClosed

		if !wasAuthenticated {
			return
		}

		if !s.srv.conns.Unbind(s.probeID, s) {
			s.log.Debug().Msg("Session was replaced, leaving presence untouched")

			return
		}

		now := s.srv.now()

		s.srv.store.Write(s.probeID, map[string]any{
			presence.FieldStatus:         presence.StatusDisconnected,
			presence.FieldDisconnectTime: wire.Stamp(now),
		}, presence.TierHot)

		s.srv.publish(ctx, models.ProbeEventData{
			ProbeID:    s.probeID,
			Kind:       models.ProbeDisconnected,
			Timestamp:  now,
			RemoteAddr: s.conn.RemoteAddr().String(),
			SessionID:  s.id,
		})

		s.log.Info().Msg("Probe disconnected")
	})
}
