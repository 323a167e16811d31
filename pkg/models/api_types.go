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

package models

import "time"

// ProbeStatus is one row of the probe listing.
type ProbeStatus struct {
	ProbeID   string         `json:"probeId"`
	Data      map[string]any `json:"data"`
	Connected bool           `json:"connected"`
}

// ProbeListResponse is the body of GET /api/probes.
type ProbeListResponse struct {
	Probes []ProbeStatus `json:"probes"`
}

// RegisterResponse is the body of POST /api/register and carries the only
// copy of the minted secret the operator will see.
type RegisterResponse struct {
	ProbeID string `json:"probeId"`
	Secret  string `json:"secret"`
	Port    int    `json:"port"`
}

// HistoryRecord is one archived presence entry.
type HistoryRecord struct {
	Data     map[string]any `json:"data"`
	Stamp    time.Time      `json:"stamp"`
	Mutation uint64         `json:"mutation"`
}

// ProbeHistoryResponse is the body of GET /api/probes/{id}/history.
type ProbeHistoryResponse struct {
	ProbeID string          `json:"probeId"`
	History []HistoryRecord `json:"history"`
}

// HubStatus is the body of GET /api/status.
type HubStatus struct {
	HotEntries       int      `json:"hot_entries"`
	WarmEntries      int      `json:"warm_entries"`
	ColdProbes       int      `json:"cold_probes"`
	ColdRecords      int      `json:"cold_records"`
	HistoryLimit     int      `json:"history_limit"`
	LastMutation     uint64   `json:"last_mutation"`
	LiveConnections  int      `json:"live_connections"`
	ConnectedProbes  []string `json:"connected_probes"`
	RegisteredProbes int      `json:"registered_probes"`
}

// ErrorResponse is the JSON body of every failed API call.
type ErrorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}
