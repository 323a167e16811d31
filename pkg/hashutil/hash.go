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

// Package hashutil holds the hashing and comparison helpers the hub uses for
// change detection and credential checks.
package hashutil

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/carverauto/probehub/pkg/wire"
)

// Fingerprint is a BLAKE3-256 digest of a metric set.
type Fingerprint [32]byte

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// FingerprintMetrics hashes the deterministic CBOR encoding of metrics. Map
// keys are sorted by the encoding, so key order never changes the result. A
// nil map hashes the same as an empty one.
func FingerprintMetrics(metrics map[string]any) (Fingerprint, error) {
	if metrics == nil {
		metrics = map[string]any{}
	}

	raw, err := wire.Marshal(metrics)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("failed to encode metrics for fingerprint: %w", err)
	}

	return Fingerprint(blake3.Sum256(raw)), nil
}

// EqualSecret compares two shared secrets in constant time with respect to
// their contents.
func EqualSecret(expected, actual string) bool {
	if expected == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) == 1
}
