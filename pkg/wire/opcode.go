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

// Package wire implements the framed binary protocol spoken between probes
// and the hub.
package wire

import "strconv"

// Opcode identifies the kind of frame on the wire.
type Opcode byte

const (
	OpHello   Opcode = 1
	OpPulse   Opcode = 2
	OpMetrics Opcode = 3
	OpAck     Opcode = 4
	OpReject  Opcode = 5
)

func (o Opcode) String() string {
	switch o {
	case OpHello:
		return "HELLO"
	case OpPulse:
		return "PULSE"
	case OpMetrics:
		return "METRICS"
	case OpAck:
		return "ACK"
	case OpReject:
		return "REJECT"
	default:
		return "OPCODE(" + strconv.Itoa(int(o)) + ")"
	}
}

// Known reports whether o is one of the protocol's defined opcodes.
func (o Opcode) Known() bool {
	return o >= OpHello && o <= OpReject
}
