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

package agent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/probehub/pkg/agent"
	"github.com/carverauto/probehub/pkg/credentials"
	"github.com/carverauto/probehub/pkg/hub"
	"github.com/carverauto/probehub/pkg/logger"
	"github.com/carverauto/probehub/pkg/models"
	"github.com/carverauto/probehub/pkg/presence"
	"github.com/carverauto/probehub/pkg/registry"
)

type cpuCollector struct{}

func (cpuCollector) Collect(context.Context) (map[string]any, error) {
	return map[string]any{"cpu": int64(42), "os_realm": "linux"}, nil
}

func TestProbeAgainstHub(t *testing.T) {
	t.Parallel()

	store := presence.NewStore()
	conns := registry.New()

	registrar, err := credentials.NewRegistrar(store, models.DefaultSecretDigits)
	require.NoError(t, err)

	cred, err := registrar.Register()
	require.NoError(t, err)

	hubCfg := &models.HubConfig{ProbeListenAddr: "127.0.0.1:0"}
	require.NoError(t, hubCfg.Validate())

	srv := hub.NewServer(hubCfg, store, conns, registrar, logger.NewTestLogger())
	require.NoError(t, srv.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = srv.Stop(ctx)
	})

	probeCfg := &models.ProbeConfig{
		HubAddr:         srv.Addr().String(),
		ProbeID:         cred.ProbeID,
		Secret:          cred.Secret,
		PulseInterval:   models.Duration(time.Hour),
		MetricsInterval: models.Duration(time.Hour),
	}
	require.NoError(t, probeCfg.Validate())

	probe := agent.NewProbe(probeCfg, logger.NewTestLogger(), agent.WithCollector(cpuCollector{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- probe.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		entry, ok := store.Read(cred.ProbeID, presence.TierHot)
		if !ok {
			return false
		}

		metrics, _ := entry.Data[presence.FieldMetrics].(map[string]any)

		return metrics["cpu"] == int64(42)
	}, 5*time.Second, 10*time.Millisecond)

	// The welcome entry was demoted when the first metrics landed.
	welcome, ok := store.Read(cred.ProbeID, presence.TierWarm)
	require.True(t, ok)
	assert.Equal(t, presence.StatusConnected, welcome.Data[presence.FieldStatus])
	assert.Equal(t, cred.Secret, welcome.Data[presence.FieldSecret])

	assert.True(t, conns.IsConnected(cred.ProbeID))

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "probe did not stop")
	}

	require.Eventually(t, func() bool {
		entry, ok := store.Read(cred.ProbeID, presence.TierHot)

		return ok && entry.Data[presence.FieldStatus] == presence.StatusDisconnected
	}, 5*time.Second, 10*time.Millisecond)
}

func TestProbeWithUnknownCredentialStops(t *testing.T) {
	t.Parallel()

	store := presence.NewStore()

	registrar, err := credentials.NewRegistrar(store, models.DefaultSecretDigits)
	require.NoError(t, err)

	hubCfg := &models.HubConfig{ProbeListenAddr: "127.0.0.1:0"}
	require.NoError(t, hubCfg.Validate())

	srv := hub.NewServer(hubCfg, store, registry.New(), registrar, logger.NewTestLogger())
	require.NoError(t, srv.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = srv.Stop(ctx)
	})

	probeCfg := &models.ProbeConfig{
		HubAddr: srv.Addr().String(),
		ProbeID: "probe_999999",
		Secret:  "key_000000",
	}
	require.NoError(t, probeCfg.Validate())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = agent.NewProbe(probeCfg, logger.NewTestLogger(), agent.WithCollector(cpuCollector{})).Run(ctx)

	var rejected *agent.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, hub.ReasonInvalidCredentials, rejected.Reason)
	assert.Empty(t, store.HotIDs())
}
