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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/probehub/pkg/credentials"
	"github.com/carverauto/probehub/pkg/logger"
	"github.com/carverauto/probehub/pkg/models"
	"github.com/carverauto/probehub/pkg/presence"
	"github.com/carverauto/probehub/pkg/registry"
)

var errMint = errors.New("mint failed")

type fixedGenerator struct {
	mu   sync.Mutex
	next int
}

func (g *fixedGenerator) NewProbeID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.next++

	return fmt.Sprintf("probe_%06d", 123455+g.next), nil
}

func (g *fixedGenerator) NewSecret() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return fmt.Sprintf("key_%06d", 654320+g.next), nil
}

type fakeConn struct{ id string }

func (c *fakeConn) ID() string { return c.id }

func (*fakeConn) Close() error { return nil }

type failingRegistrar struct{ err error }

func (f failingRegistrar) Register() (credentials.Credential, error) {
	return credentials.Credential{}, f.err
}

func (failingRegistrar) Count() int { return 0 }

func (failingRegistrar) ProbeIDs() []string { return nil }

func (failingRegistrar) RegisteredAt(string) (time.Time, bool) { return time.Time{}, false }

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ProbeEventData
}

func (r *recordingPublisher) PublishProbeEvent(_ context.Context, e models.ProbeEventData) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, e)

	return nil
}

type testAPI struct {
	srv   *APIServer
	store *presence.Store
	conns *registry.Registry
	creds *credentials.Registrar
	pub   *recordingPublisher
}

func newTestAPI(t *testing.T, cfg *models.HubConfig) *testAPI {
	t.Helper()

	if cfg == nil {
		cfg = &models.HubConfig{}
	}

	require.NoError(t, cfg.Validate())

	store := presence.NewStore()
	conns := registry.New()

	creds, err := credentials.NewRegistrar(store, cfg.SecretDigits, credentials.WithGenerator(&fixedGenerator{}))
	require.NoError(t, err)

	pub := &recordingPublisher{}

	return &testAPI{
		srv:   NewAPIServer(cfg, store, conns, creds, logger.NewTestLogger(), WithEventPublisher(pub)),
		store: store,
		conns: conns,
		creds: creds,
		pub:   pub,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, http.NoBody)
	for k, v := range header {
		req.Header[k] = v
	}

	rr := httptest.NewRecorder()
	a.srv.Handler().ServeHTTP(rr, req)

	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())

	return out
}

func TestRegisterProbe(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, &models.HubConfig{AdvertisedProbePort: 7777, SecretDigits: 6})

	rr := a.do(t, http.MethodPost, "/api/register", nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	resp := decode[models.RegisterResponse](t, rr)
	assert.Equal(t, models.RegisterResponse{ProbeID: "probe_123456", Secret: "key_654321", Port: 7777}, resp)

	warm, ok := a.store.Read("probe_123456", presence.TierWarm)
	require.True(t, ok)
	assert.Equal(t, "key_654321", warm.Data[presence.FieldSecret])
	assert.Contains(t, warm.Data, credentials.FieldRegisteredAt)

	require.Len(t, a.pub.events, 1)
	assert.Equal(t, models.ProbeRegistered, a.pub.events[0].Kind)
	assert.Equal(t, "probe_123456", a.pub.events[0].ProbeID)
}

func TestRegisterProbeFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "id space exhausted", err: credentials.ErrIDSpaceExhausted, want: http.StatusServiceUnavailable},
		{name: "generator failure", err: errMint, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &models.HubConfig{}
			require.NoError(t, cfg.Validate())

			srv := NewAPIServer(cfg, presence.NewStore(), registry.New(), failingRegistrar{err: tt.err}, logger.NewTestLogger())

			rr := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/register", http.NoBody))

			assert.Equal(t, tt.want, rr.Code)
			assert.Equal(t, tt.want, decode[models.ErrorResponse](t, rr).Status)
		})
	}
}

func TestListProbesReportsConnectedAndRegistered(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)

	first, err := a.creds.Register()
	require.NoError(t, err)

	second, err := a.creds.Register()
	require.NoError(t, err)

	a.conns.Bind(first.ProbeID, &fakeConn{id: "session-1"})
	a.store.Write(first.ProbeID, map[string]any{
		presence.FieldStatus: presence.StatusConnected,
		presence.FieldSecret: first.Secret,
	}, presence.TierHot)

	rr := a.do(t, http.MethodGet, "/api/probes", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decode[models.ProbeListResponse](t, rr)
	require.Len(t, resp.Probes, 2)

	byID := map[string]models.ProbeStatus{}
	for _, p := range resp.Probes {
		byID[p.ProbeID] = p
	}

	assert.True(t, byID[first.ProbeID].Connected)
	assert.Equal(t, presence.StatusConnected, byID[first.ProbeID].Data[presence.FieldStatus])
	assert.False(t, byID[second.ProbeID].Connected)

	for _, p := range resp.Probes {
		assert.Equal(t, redactedValue, p.Data[presence.FieldSecret], "secret must be masked for %s", p.ProbeID)
	}

	assert.NotContains(t, rr.Body.String(), first.Secret)
	assert.NotContains(t, rr.Body.String(), second.Secret)
}

func TestListProbesKeepsRegisteredProbesAfterSweep(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)

	cred, err := a.creds.Register()
	require.NoError(t, err)

	require.Equal(t, 1, a.store.SweepToCold())

	rr := a.do(t, http.MethodGet, "/api/probes", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decode[models.ProbeListResponse](t, rr)
	require.Len(t, resp.Probes, 1)
	assert.Equal(t, cred.ProbeID, resp.Probes[0].ProbeID)
	assert.False(t, resp.Probes[0].Connected)
	assert.Contains(t, resp.Probes[0].Data, credentials.FieldRegisteredAt)
	assert.NotContains(t, rr.Body.String(), cred.Secret)

	rr = a.do(t, http.MethodGet, "/api/probes/"+cred.ProbeID, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = a.do(t, http.MethodGet, "/api/probes/"+cred.ProbeID+"/history", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, decode[models.ProbeHistoryResponse](t, rr).History, 1)
}

func TestNonFiniteMetricsAreServedAsNull(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)

	a.store.Write("probe_1", map[string]any{
		presence.FieldMetrics: map[string]any{
			"cpu":  math.NaN(),
			"load": []any{1.5, math.Inf(1)},
			"disk": map[string]any{"used": math.Inf(-1)},
		},
	}, presence.TierHot)
	a.store.Write("probe_1", map[string]any{presence.FieldMetrics: map[string]any{"cpu": math.NaN()}}, presence.TierCold)
	a.store.Write("probe_2", map[string]any{presence.FieldStatus: presence.StatusConnected}, presence.TierHot)

	rr := a.do(t, http.MethodGet, "/api/probes", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Len(t, decode[models.ProbeListResponse](t, rr).Probes, 2)

	rr = a.do(t, http.MethodGet, "/api/probes/probe_1", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	status := decode[models.ProbeStatus](t, rr)
	metrics, ok := status.Data[presence.FieldMetrics].(map[string]any)
	require.True(t, ok)
	assert.Nil(t, metrics["cpu"])
	assert.Equal(t, []any{1.5, nil}, metrics["load"])
	assert.Equal(t, map[string]any{"used": nil}, metrics["disk"])

	rr = a.do(t, http.MethodGet, "/api/probes/probe_1/history", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestListProbesEmpty(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)

	rr := a.do(t, http.MethodGet, "/api/probes", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"probes":[]}`, rr.Body.String())
}

func TestGetProbe(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)

	cred, err := a.creds.Register()
	require.NoError(t, err)

	rr := a.do(t, http.MethodGet, "/api/probes/"+cred.ProbeID, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	status := decode[models.ProbeStatus](t, rr)
	assert.Equal(t, cred.ProbeID, status.ProbeID)
	assert.False(t, status.Connected)

	rr = a.do(t, http.MethodGet, "/api/probes/probe_000000", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetProbeHistory(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)

	a.store.Write("probe_1", map[string]any{"metrics": map[string]any{"cpu": int64(10)}, "secret": "key_1"}, presence.TierCold)
	a.store.Write("probe_1", map[string]any{"metrics": map[string]any{"cpu": int64(20)}}, presence.TierCold)

	rr := a.do(t, http.MethodGet, "/api/probes/probe_1/history", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decode[models.ProbeHistoryResponse](t, rr)
	assert.Equal(t, "probe_1", resp.ProbeID)
	require.Len(t, resp.History, 2)
	assert.Equal(t, redactedValue, resp.History[0].Data["secret"])
	assert.Less(t, resp.History[0].Mutation, resp.History[1].Mutation)

	a.store.Write("probe_2", map[string]any{}, presence.TierHot)

	rr = a.do(t, http.MethodGet, "/api/probes/probe_2/history", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[models.ProbeHistoryResponse](t, rr).History)

	rr = a.do(t, http.MethodGet, "/api/probes/probe_3/history", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetStatus(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)

	cred, err := a.creds.Register()
	require.NoError(t, err)

	a.conns.Bind(cred.ProbeID, &fakeConn{id: "s"})
	a.store.Write(cred.ProbeID, map[string]any{presence.FieldStatus: presence.StatusConnected}, presence.TierHot)

	rr := a.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	status := decode[models.HubStatus](t, rr)
	assert.Equal(t, 1, status.HotEntries)
	assert.Equal(t, 1, status.WarmEntries)
	assert.Equal(t, 1, status.LiveConnections)
	assert.Equal(t, []string{cred.ProbeID}, status.ConnectedProbes)
	assert.Equal(t, 1, status.RegisteredProbes)
	assert.Equal(t, presence.DefaultHistoryLimit, status.HistoryLimit)
	assert.Equal(t, uint64(2), status.LastMutation)
}

func TestUnknownRoutesReturnNotFound(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)

	tests := []struct {
		method string
		path   string
	}{
		{method: http.MethodGet, path: "/"},
		{method: http.MethodGet, path: "/api/nothing"},
		{method: http.MethodPost, path: "/api/probes"},
		{method: http.MethodGet, path: "/api/register"},
		{method: http.MethodDelete, path: "/api/probes/probe_1"},
		{method: http.MethodPut, path: "/health"},
	}

	for _, tt := range tests {
		rr := a.do(t, tt.method, tt.path, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code, "%s %s", tt.method, tt.path)
		assert.Equal(t, http.StatusNotFound, decode[models.ErrorResponse](t, rr).Status)
	}
}

func TestAPIKeyProtectsAPIRoutes(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, &models.HubConfig{APIKey: "s3cret"})

	assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodGet, "/api/probes", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodPost, "/api/register", nil).Code)
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/probes", http.Header{"X-Api-Key": {"s3cret"}}).Code)
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/health", nil).Code)
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, &models.HubConfig{APIListenAddr: "127.0.0.1:0"})

	assert.Equal(t, "control-api", a.srv.Name())
	require.ErrorIs(t, a.srv.Stop(context.Background()), errServerNotStarted)

	require.NoError(t, a.srv.Start(context.Background()))
	require.ErrorIs(t, a.srv.Start(context.Background()), errServerStarted)

	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Post("http://"+a.srv.Addr().String()+"/api/register", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)

	_ = resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, a.srv.Stop(ctx))

	_, err = client.Get("http://" + a.srv.Addr().String() + "/health")
	assert.Error(t, err)
}
