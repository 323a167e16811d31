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

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/carverauto/probehub/pkg/models"
)

const maxRegisterBody = 64 << 10

// RegisterProbe asks the hub's control API for a fresh credential.
func RegisterProbe(ctx context.Context, client *http.Client, url, apiKey string) (models.RegisterResponse, error) {
	var out models.RegisterResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, http.NoBody)
	if err != nil {
		return out, fmt.Errorf("failed to build registration request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return out, fmt.Errorf("failed to reach registration endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRegisterBody))
	if err != nil {
		return out, fmt.Errorf("failed to read registration response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		var apiErr models.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return out, fmt.Errorf("%w: %d %s", errRegisterStatus, resp.StatusCode, apiErr.Message)
		}

		return out, fmt.Errorf("%w: %d", errRegisterStatus, resp.StatusCode)
	}

	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("failed to decode registration response: %w", err)
	}

	if out.ProbeID == "" || out.Secret == "" {
		return out, errRegisterIncomplete
	}

	return out, nil
}
