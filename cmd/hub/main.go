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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/carverauto/probehub/pkg/api"
	"github.com/carverauto/probehub/pkg/config"
	"github.com/carverauto/probehub/pkg/credentials"
	"github.com/carverauto/probehub/pkg/hub"
	"github.com/carverauto/probehub/pkg/lifecycle"
	"github.com/carverauto/probehub/pkg/logger"
	"github.com/carverauto/probehub/pkg/models"
	"github.com/carverauto/probehub/pkg/natsutil"
	"github.com/carverauto/probehub/pkg/presence"
	"github.com/carverauto/probehub/pkg/registry"
	"github.com/carverauto/probehub/pkg/sweeper"
	"github.com/carverauto/probehub/pkg/version"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/probehub/hub.json", "Path to hub config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetFullVersion())

		return nil
	}

	ctx := context.Background()

	var cfg models.HubConfig

	if err := config.NewConfig(nil).LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = logger.DefaultConfig()
	}

	hubLogger, err := lifecycle.CreateComponentLogger(ctx, "hub", logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() {
		if err := lifecycle.ShutdownLogger(context.Background()); err != nil {
			log.Printf("Failed to shutdown logger: %v", err)
		}
	}()

	if cfg.Metrics != nil {
		_, err := logger.InitializeMetrics(ctx, logger.MetricsConfig{
			ServiceName:    "probehub-hub",
			ServiceVersion: version.GetVersion(),
			OTel:           cfg.Metrics,
		})
		if err != nil && !errors.Is(err, logger.ErrOTelMetricsDisabled) {
			hubLogger.Warn().Err(err).Msg("Metrics exporter unavailable, continuing without it")
		}
	}

	store := presence.NewStore(presence.WithHistoryLimit(cfg.HistoryLimit))
	conns := registry.New()

	registrar, err := credentials.NewRegistrar(store, cfg.SecretDigits)
	if err != nil {
		return fmt.Errorf("failed to create registrar: %w", err)
	}

	var (
		hubOpts     []hub.Option
		sweeperOpts []sweeper.Option
		apiOpts     []func(*api.APIServer)
	)

	if cfg.Events.Enabled() {
		publisher, nc, err := natsutil.ConnectWithEventPublisher(ctx, cfg.Events, hubLogger)
		if err != nil {
			return fmt.Errorf("failed to connect event publisher: %w", err)
		}
		defer nc.Close()

		hubOpts = append(hubOpts, hub.WithEventPublisher(publisher))
		sweeperOpts = append(sweeperOpts, sweeper.WithEventPublisher(publisher))
		apiOpts = append(apiOpts, api.WithEventPublisher(publisher))
	}

	probeServer := hub.NewServer(&cfg, store, conns, registrar, hubLogger, hubOpts...)
	presenceSweeper := sweeper.New(store, &cfg, nil, hubLogger, sweeperOpts...)
	apiServer := api.NewAPIServer(&cfg, store, conns, registrar, hubLogger, apiOpts...)

	hubLogger.Info().
		Str("version", version.GetFullVersion()).
		Str("probe_listen_addr", cfg.ProbeListenAddr).
		Str("api_listen_addr", cfg.APIListenAddr).
		Msg("Starting probe hub")

	return lifecycle.RunServices(ctx, &lifecycle.ServerOptions{
		Services: []lifecycle.Service{probeServer, presenceSweeper, apiServer},
		Logger:   hubLogger,
	})
}
