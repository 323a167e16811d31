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

package wire

import "time"

// String returns the string stored under key, or "" when it is absent or
// not a string.
func (p Payload) String(key string) string {
	s, _ := p[key].(string)

	return s
}

// Bool returns the bool stored under key.
func (p Payload) Bool(key string) bool {
	b, _ := p[key].(bool)

	return b
}

// Float returns the number stored under key as a float64. Integers decode
// as int64, so both forms are accepted.
func (p Payload) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// Map returns the nested mapping stored under key.
func (p Payload) Map(key string) (map[string]any, bool) {
	switch v := p[key].(type) {
	case map[string]any:
		return v, true
	case Payload:
		return v, true
	default:
		return nil, false
	}
}

// Stamp converts t to the fractional Unix seconds used for timestamps inside
// payloads.
func Stamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// StampTime is the inverse of Stamp.
func StampTime(sec float64) time.Time {
	return time.Unix(0, int64(sec*float64(time.Second)))
}
