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

// Package models holds the configuration, API and event types shared by the
// hub, the probe agent and their binaries.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/probehub/pkg/logger"
)

var (
	errInvalidDuration   = errors.New("invalid duration")
	errProbeIDRequired   = errors.New("probe_id is required when secret is set")
	errSecretRequired    = errors.New("secret is required when probe_id is set")
	errNoCredentialPath  = errors.New("either probe_id/secret or register_url is required")
	errHubAddrRequired   = errors.New("hub_addr is required")
	errSecretDigitsRange = errors.New("secret_digits must be between 6 and 32")
	errNegativeDuration  = errors.New("durations must not be negative")
)

const (
	DefaultProbeListenAddr     = ":7777"
	DefaultAPIListenAddr       = ":8080"
	DefaultAdvertisedProbePort = 7777
	DefaultSweepInterval       = 30 * time.Second
	DefaultStaleThreshold      = 90 * time.Second
	DefaultSecretDigits        = 12
	DefaultPulseInterval       = 15 * time.Second
	DefaultMetricsInterval     = 60 * time.Second
	DefaultReconnectDelay      = 5 * time.Second
	DefaultDialTimeout         = 10 * time.Second
	DefaultEventStream         = "probe-events"
	DefaultEventSubjectPrefix  = "events.probe"

	minSecretDigits = 6
	maxSecretDigits = 32
)

// Duration is a time.Duration that reads as either a Go duration string
// ("30s") or a number of nanoseconds in JSON and environment variables.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		// parse numeric as nanoseconds
		*d = Duration(time.Duration(value))
		return nil
	case string:
		return d.UnmarshalText([]byte(value))
	default:
		return errInvalidDuration
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: %w", errInvalidDuration, err)
	}

	*d = Duration(dur)

	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// EventsConfig enables presence events on a NATS JetStream stream.
type EventsConfig struct {
	NATSURL       string `json:"nats_url"`
	Domain        string `json:"domain,omitempty"`
	StreamName    string `json:"stream_name"`
	SubjectPrefix string `json:"subject_prefix"`
}

// Enabled reports whether a NATS server is configured.
func (c *EventsConfig) Enabled() bool {
	return c != nil && c.NATSURL != ""
}

// CORSConfig controls which browser origins may call the control API.
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins,omitempty"`
	AllowCredentials bool     `json:"allow_credentials,omitempty"`
}

// HubConfig configures the probe hub service.
type HubConfig struct {
	ProbeListenAddr     string             `json:"probe_listen_addr"`
	APIListenAddr       string             `json:"api_listen_addr"`
	AdvertisedProbePort int                `json:"advertised_probe_port"`
	SweepInterval       Duration           `json:"sweep_interval"`
	StaleThreshold      Duration           `json:"stale_threshold"`
	IdleTimeout         Duration           `json:"idle_timeout"`
	HistoryLimit        int                `json:"history_limit"`
	SecretDigits        int                `json:"secret_digits"`
	APIKey              string             `json:"api_key,omitempty"`
	CORS                CORSConfig         `json:"cors,omitempty"`
	Events              *EventsConfig      `json:"events,omitempty"`
	Metrics             *logger.OTelConfig `json:"metrics,omitempty"`
	Logging             *logger.Config     `json:"logging,omitempty"`
}

// Validate fills in defaults and rejects impossible settings.
func (c *HubConfig) Validate() error {
	if c.ProbeListenAddr == "" {
		c.ProbeListenAddr = DefaultProbeListenAddr
	}

	if c.APIListenAddr == "" {
		c.APIListenAddr = DefaultAPIListenAddr
	}

	if c.AdvertisedProbePort == 0 {
		c.AdvertisedProbePort = DefaultAdvertisedProbePort
	}

	if c.SweepInterval < 0 || c.StaleThreshold < 0 || c.IdleTimeout < 0 {
		return errNegativeDuration
	}

	if c.SweepInterval == 0 {
		c.SweepInterval = Duration(DefaultSweepInterval)
	}

	if c.StaleThreshold == 0 {
		c.StaleThreshold = Duration(DefaultStaleThreshold)
	}

	if c.SecretDigits == 0 {
		c.SecretDigits = DefaultSecretDigits
	}

	if c.SecretDigits < minSecretDigits || c.SecretDigits > maxSecretDigits {
		return errSecretDigitsRange
	}

	if c.Events.Enabled() {
		if c.Events.StreamName == "" {
			c.Events.StreamName = DefaultEventStream
		}

		if c.Events.SubjectPrefix == "" {
			c.Events.SubjectPrefix = DefaultEventSubjectPrefix
		}
	}

	return nil
}

// ProbeConfig configures the probe agent.
type ProbeConfig struct {
	HubAddr         string         `json:"hub_addr"`
	ProbeID         string         `json:"probe_id"`
	Secret          string         `json:"secret"`
	RegisterURL     string         `json:"register_url,omitempty"`
	APIKey          string         `json:"api_key,omitempty"`
	PulseInterval   Duration       `json:"pulse_interval"`
	MetricsInterval Duration       `json:"metrics_interval"`
	ReconnectDelay  Duration       `json:"reconnect_delay"`
	DialTimeout     Duration       `json:"dial_timeout"`
	Logging         *logger.Config `json:"logging,omitempty"`
}

// Validate fills in defaults and checks that the probe can authenticate.
func (c *ProbeConfig) Validate() error {
	if c.HubAddr == "" {
		return errHubAddrRequired
	}

	switch {
	case c.ProbeID != "" && c.Secret == "":
		return errSecretRequired
	case c.ProbeID == "" && c.Secret != "":
		return errProbeIDRequired
	case c.ProbeID == "" && c.RegisterURL == "":
		return errNoCredentialPath
	}

	if c.PulseInterval < 0 || c.MetricsInterval < 0 || c.ReconnectDelay < 0 || c.DialTimeout < 0 {
		return errNegativeDuration
	}

	if c.PulseInterval == 0 {
		c.PulseInterval = Duration(DefaultPulseInterval)
	}

	if c.MetricsInterval == 0 {
		c.MetricsInterval = Duration(DefaultMetricsInterval)
	}

	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = Duration(DefaultReconnectDelay)
	}

	if c.DialTimeout == 0 {
		c.DialTimeout = Duration(DefaultDialTimeout)
	}

	return nil
}
