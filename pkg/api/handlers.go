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
	"errors"
	"math"
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/carverauto/probehub/pkg/credentials"
	"github.com/carverauto/probehub/pkg/models"
	"github.com/carverauto/probehub/pkg/presence"
	"github.com/carverauto/probehub/pkg/wire"
)

func (*APIServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

// listProbes reports every probe with a hot or warm entry plus every issued
// credential, so registered probes stay listed after the sweep empties warm.
func (s *APIServer) listProbes(w http.ResponseWriter, _ *http.Request) {
	ids := mergeIDs(s.store.ProbeIDs(), s.registrar.ProbeIDs())
	probes := make([]models.ProbeStatus, 0, len(ids))

	for _, id := range ids {
		status, ok := s.probeStatus(id)
		if !ok {
			continue
		}

		probes = append(probes, status)
	}

	s.writeJSON(w, http.StatusOK, models.ProbeListResponse{Probes: probes})
}

func (s *APIServer) getProbe(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	status, ok := s.probeStatus(id)
	if !ok {
		writeError(w, "Probe not found", http.StatusNotFound)

		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

func (s *APIServer) getProbeHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	entries := s.store.History(id)
	if entries == nil {
		if _, known := s.probeStatus(id); !known {
			writeError(w, "Probe not found", http.StatusNotFound)

			return
		}
	}

	records := make([]models.HistoryRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, models.HistoryRecord{
			Data:     redact(e.Data),
			Stamp:    e.Stamp,
			Mutation: e.Mutation,
		})
	}

	s.writeJSON(w, http.StatusOK, models.ProbeHistoryResponse{ProbeID: id, History: records})
}

// registerProbe mints a credential. The response is the only place the
// secret is ever shown.
func (s *APIServer) registerProbe(w http.ResponseWriter, r *http.Request) {
	cred, err := s.registrar.Register()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to register probe")

		status := http.StatusInternalServerError
		if errors.Is(err, credentials.ErrIDSpaceExhausted) {
			status = http.StatusServiceUnavailable
		}

		writeError(w, "Failed to register probe", status)

		return
	}

	s.logger.Info().Str("probe_id", cred.ProbeID).Msg("Probe registered")

	s.publish(r.Context(), models.ProbeEventData{
		ProbeID:    cred.ProbeID,
		Kind:       models.ProbeRegistered,
		Timestamp:  s.now(),
		RemoteAddr: r.RemoteAddr,
	})

	s.writeJSON(w, http.StatusCreated, models.RegisterResponse{
		ProbeID: cred.ProbeID,
		Secret:  cred.Secret,
		Port:    s.advertisedPort,
	})
}

func (s *APIServer) getStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.store.Stats()

	s.writeJSON(w, http.StatusOK, models.HubStatus{
		HotEntries:       st.Hot,
		WarmEntries:      st.Warm,
		ColdProbes:       st.ColdProbes,
		ColdRecords:      st.ColdRecords,
		HistoryLimit:     st.HistoryLimit,
		LastMutation:     st.LastMutation,
		LiveConnections:  s.conns.Count(),
		ConnectedProbes:  s.conns.Connected(),
		RegisteredProbes: s.registrar.Count(),
	})
}

func (s *APIServer) probeStatus(id string) (models.ProbeStatus, bool) {
	entry, ok := s.store.Read(id, presence.TierHot)
	if !ok {
		at, registered := s.registrar.RegisteredAt(id)
		if !registered {
			return models.ProbeStatus{}, false
		}

		entry.Data = map[string]any{credentials.FieldRegisteredAt: wire.Stamp(at)}
	}

	return models.ProbeStatus{
		ProbeID:   id,
		Data:      redact(entry.Data),
		Connected: s.conns.IsConnected(id),
	}, true
}

// redact masks the shared secret and replaces NaN and infinities, which JSON
// cannot carry, with null. data is always a private copy handed out by the
// store, so it is modified in place.
func redact(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}

	if _, ok := data[presence.FieldSecret]; ok {
		data[presence.FieldSecret] = redactedValue
	}

	for k, v := range data {
		data[k] = jsonSafe(v)
	}

	return data
}

func jsonSafe(v any) any {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
	case float32:
		if math.IsNaN(float64(val)) || math.IsInf(float64(val), 0) {
			return nil
		}
	case map[string]any:
		for k, item := range val {
			val[k] = jsonSafe(item)
		}
	case []any:
		for i, item := range val {
			val[i] = jsonSafe(item)
		}
	}

	return v
}

// mergeIDs returns the sorted union of two id lists.
func mergeIDs(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	ids := make([]string, 0, len(a)+len(b))

	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if _, dup := seen[id]; dup {
				continue
			}

			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)

	return ids
}
