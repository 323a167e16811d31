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
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/probehub/pkg/logger"
)

const defaultShutdownTimeout = 10 * time.Second

var errNoServices = errors.New("no services to run")

// Service is a component whose Start returns once it is running in the
// background and whose Stop blocks until it has wound down.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// ServerOptions describes what RunServices manages.
type ServerOptions struct {
	Services        []Service
	ShutdownTimeout time.Duration
	Logger          logger.Logger
}

// RunServices starts each service in order, blocks until ctx is cancelled or
// the process receives SIGINT/SIGTERM, then stops all services concurrently.
// If a service fails to start, the ones already running are stopped and the
// start error is returned.
func RunServices(ctx context.Context, opts *ServerOptions) error {
	if opts == nil || len(opts.Services) == 0 {
		return errNoServices
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := make([]Service, 0, len(opts.Services))

	for _, svc := range opts.Services {
		if err := svc.Start(ctx); err != nil {
			stopErr := stopServices(context.WithoutCancel(ctx), timeout, started, log)

			return errors.Join(fmt.Errorf("failed to start %s: %w", svc.Name(), err), stopErr)
		}

		log.Info().Str("service", svc.Name()).Msg("Service started")

		started = append(started, svc)
	}

	<-ctx.Done()

	log.Info().Msg("Shutdown requested, stopping services")

	return stopServices(context.WithoutCancel(ctx), timeout, started, log)
}

func stopServices(parent context.Context, timeout time.Duration, services []Service, log logger.Logger) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	var g errgroup.Group

	for _, svc := range services {
		g.Go(func() error {
			if err := svc.Stop(ctx); err != nil {
				log.Error().Err(err).Str("service", svc.Name()).Msg("Failed to stop service")

				return fmt.Errorf("failed to stop %s: %w", svc.Name(), err)
			}

			return nil
		})
	}

	return g.Wait()
}
