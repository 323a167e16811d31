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

import (
	"errors"
	"fmt"
)

var (
	// ErrCodec is matched by every CodecError via errors.Is.
	ErrCodec = errors.New("malformed frame")
	// ErrPayloadTooLarge is returned by Encode when the compressed payload
	// does not fit the 16-bit length field.
	ErrPayloadTooLarge = errors.New("payload exceeds frame size limit")

	errDecompressedTooLarge = errors.New("decompressed payload exceeds limit")
)

// CodecError reports a frame whose payload could not be decompressed or
// deserialized. A stream that produced one cannot be resynchronized.
type CodecError struct {
	Op  Opcode
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("wire: malformed %s frame: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

func (*CodecError) Is(target error) bool {
	return target == ErrCodec
}
