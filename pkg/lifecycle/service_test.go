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

package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/probehub/pkg/logger"
)

var errBoom = errors.New("boom")

type fakeService struct {
	name     string
	startErr error
	stopErr  error

	mu      sync.Mutex
	started bool
	stopped bool
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.startErr != nil {
		return f.startErr
	}

	f.started = true

	return nil
}

func (f *fakeService) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stopped = true

	return f.stopErr
}

func (f *fakeService) state() (started, stopped bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.started, f.stopped
}

func TestRunServicesStopsOnCancel(t *testing.T) {
	t.Parallel()

	a := &fakeService{name: "a"}
	b := &fakeService{name: "b"}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() {
		done <- RunServices(ctx, &ServerOptions{Services: []Service{a, b}, Logger: logger.NewTestLogger()})
	}()

	require.Eventually(t, func() bool {
		started, _ := b.state()
		return started
	}, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunServices did not return after cancellation")
	}

	for _, svc := range []*fakeService{a, b} {
		_, stopped := svc.state()
		assert.True(t, stopped, svc.name)
	}
}

func TestRunServicesStartFailureStopsStarted(t *testing.T) {
	t.Parallel()

	a := &fakeService{name: "a"}
	b := &fakeService{name: "b", startErr: errBoom}
	c := &fakeService{name: "c"}

	err := RunServices(context.Background(), &ServerOptions{Services: []Service{a, b, c}})
	require.ErrorIs(t, err, errBoom)

	_, stopped := a.state()
	assert.True(t, stopped)

	started, _ := c.state()
	assert.False(t, started)
}

func TestRunServicesReportsStopErrors(t *testing.T) {
	t.Parallel()

	a := &fakeService{name: "a", stopErr: errBoom}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunServices(ctx, &ServerOptions{Services: []Service{a}})
	require.ErrorIs(t, err, errBoom)
}

func TestRunServicesRequiresServices(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, RunServices(context.Background(), nil), errNoServices)
}

func TestCreateComponentLogger(t *testing.T) {
	t.Parallel()

	log, err := CreateComponentLogger(context.Background(), "hub", &logger.Config{Level: "warn", Output: "stderr"})
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, log.WithComponent("x").GetLevel())

	log.SetDebug(true)
	assert.Equal(t, zerolog.DebugLevel, log.WithComponent("x").GetLevel())

	_, err = CreateComponentLogger(context.Background(), "hub", &logger.Config{Level: "nope"})
	require.Error(t, err)
}
