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

// Package api serves the hub's HTTP control surface: probe listing,
// credential minting and store introspection.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/carverauto/probehub/pkg/credentials"
	srHttp "github.com/carverauto/probehub/pkg/http"
	"github.com/carverauto/probehub/pkg/logger"
	"github.com/carverauto/probehub/pkg/models"
	"github.com/carverauto/probehub/pkg/presence"
)

const (
	serviceName = "control-api"

	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultIdleTimeout  = 60 * time.Second
	publishTimeout      = 5 * time.Second

	redactedValue = "********"
)

var (
	errServerStarted    = errors.New("api server already started")
	errServerNotStarted = errors.New("api server not started")
)

// Registrar mints probe credentials and remembers every id it issued.
type Registrar interface {
	Register() (credentials.Credential, error)
	Count() int
	ProbeIDs() []string
	RegisteredAt(probeID string) (time.Time, bool)
}

// ConnectionView answers which probes hold a live connection.
type ConnectionView interface {
	IsConnected(probeID string) bool
	Connected() []string
	Count() int
}

// EventPublisher receives registration events.
type EventPublisher interface {
	PublishProbeEvent(ctx context.Context, event models.ProbeEventData) error
}

// APIServer is the control API.
type APIServer struct {
	router  *mux.Router
	handler http.Handler

	addr           string
	advertisedPort int
	apiKey         string
	cors           models.CORSConfig

	store     *presence.Store
	conns     ConnectionView
	registrar Registrar
	events    EventPublisher
	logger    logger.Logger
	now       func() time.Time

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	served   chan struct{}
}

// NewAPIServer builds the router. cfg must already be validated.
func NewAPIServer(
	cfg *models.HubConfig,
	store *presence.Store,
	conns ConnectionView,
	registrar Registrar,
	log logger.Logger,
	options ...func(server *APIServer),
) *APIServer {
	s := &APIServer{
		router:         mux.NewRouter(),
		addr:           cfg.APIListenAddr,
		advertisedPort: cfg.AdvertisedProbePort,
		apiKey:         cfg.APIKey,
		cors:           cfg.CORS,
		store:          store,
		conns:          conns,
		registrar:      registrar,
		logger:         log,
		now:            time.Now,
	}

	for _, o := range options {
		o(s)
	}

	s.setupRoutes()

	return s
}

// WithEventPublisher reports each registration to p.
func WithEventPublisher(p EventPublisher) func(server *APIServer) {
	return func(server *APIServer) {
		server.events = p
	}
}

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) func(server *APIServer) {
	return func(server *APIServer) {
		server.now = now
	}
}

// setupRoutes configures the HTTP routes for the API server.
func (s *APIServer) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(srHttp.APIKeyMiddlewareWithOptions(srHttp.APIKeyOptions{
		APIKey:          s.apiKey,
		LogUnauthorized: true,
		Logger:          s.logger,
	}))

	api.HandleFunc("/probes", s.listProbes).Methods(http.MethodGet)
	api.HandleFunc("/probes/{id}", s.getProbe).Methods(http.MethodGet)
	api.HandleFunc("/probes/{id}/history", s.getProbeHistory).Methods(http.MethodGet)
	api.HandleFunc("/register", s.registerProbe).Methods(http.MethodPost)
	api.HandleFunc("/status", s.getStatus).Methods(http.MethodGet)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, "Not found", http.StatusNotFound)
	})

	s.router.NotFoundHandler = notFound
	s.router.MethodNotAllowedHandler = notFound

	s.handler = srHttp.CommonMiddleware(s.router, s.cors, s.logger)
}

// Handler returns the fully wrapped HTTP handler.
func (s *APIServer) Handler() http.Handler {
	return s.handler
}

func (*APIServer) Name() string {
	return serviceName
}

// Start binds the API listener and serves in the background.
func (s *APIServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return errServerStarted
	}

	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	s.srv = srv
	s.listener = ln
	s.served = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)

		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Control API stopped unexpectedly")
		}
	}(s.served)

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Control API started")

	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *APIServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Stop gracefully shuts the HTTP server down.
func (s *APIServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, served := s.srv, s.served
	s.mu.Unlock()

	if srv == nil {
		return errServerNotStarted
	}

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down control API: %w", err)
	}

	<-served

	return nil
}

func (s *APIServer) publish(ctx context.Context, event models.ProbeEventData) {
	if s.events == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.events.PublishProbeEvent(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("probe_id", event.ProbeID).Msg("Failed to publish registration event")
	}
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
		writeError(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(append(body, '\n')); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")

	w.WriteHeader(statusCode)

	errResponse := models.ErrorResponse{
		Message: message,
		Status:  statusCode,
	}

	if err := json.NewEncoder(w).Encode(errResponse); err != nil {
		http.Error(w, "Failed to encode error response", http.StatusInternalServerError)
	}
}
