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

import "errors"

var (
	// ErrInvalidCredentials is returned when a HELLO names an unknown probe
	// or carries the wrong secret.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrProtocolViolation is returned when a probe sends a frame that is not
	// allowed in the session's current state.
	ErrProtocolViolation = errors.New("protocol violation")

	errServerStarted    = errors.New("server already started")
	errServerNotStarted = errors.New("server not started")
)

// Reject reasons carried in REJECT frames.
const (
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonProtocolViolation  = "protocol_violation"
)
