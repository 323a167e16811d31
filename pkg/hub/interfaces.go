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

//go:generate mockgen -destination=mock_hub.go -package=hub github.com/carverauto/probehub/pkg/hub EventPublisher

import (
	"context"

	"github.com/carverauto/probehub/pkg/models"
)

// EventPublisher receives presence transitions. Implementations must be safe
// for concurrent use; errors are logged by the caller and otherwise ignored.
type EventPublisher interface {
	PublishProbeEvent(ctx context.Context, event models.ProbeEventData) error
}

// CredentialVerifier checks a probe's claimed secret.
type CredentialVerifier interface {
	Verify(probeID, secret string) bool
}

type nopPublisher struct{}

func (nopPublisher) PublishProbeEvent(context.Context, models.ProbeEventData) error { return nil }

// NopPublisher returns an EventPublisher that drops every event.
func NopPublisher() EventPublisher { return nopPublisher{} }
