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
	"errors"
	"fmt"
)

var (
	errUnexpectedReply    = errors.New("unexpected reply from hub")
	errRegisterStatus     = errors.New("registration failed")
	errRegisterIncomplete = errors.New("registration response missing credentials")
)

// RejectedError reports a REJECT frame from the hub. Handshake is true when
// the hub refused the credentials, which retrying cannot fix.
type RejectedError struct {
	Reason    string
	Handshake bool
}

func (e *RejectedError) Error() string {
	if e.Handshake {
		return fmt.Sprintf("hub rejected handshake: %s", e.Reason)
	}

	return fmt.Sprintf("hub rejected session: %s", e.Reason)
}
