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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zlib"
)

const (
	// HeaderSize is the opcode byte plus the big-endian payload length.
	HeaderSize = 3
	// MaxPayloadSize is the largest compressed payload a frame can carry.
	MaxPayloadSize = math.MaxUint16
	// MaxDecompressedSize bounds how far a single payload may inflate.
	MaxDecompressedSize = 1 << 20

	compressionLevel = 6
)

// Payload is the structured mapping carried by every frame.
type Payload map[string]any

//nolint:gochecknoglobals // encoder modes are immutable after init
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	// Core Deterministic Encoding sorts map keys, so equal payloads always
	// produce identical bytes.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("wire: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		IntDec:          cbor.IntDecConvertSigned,
		MaxNestedLevels: 32,
	}.DecMode()
	if err != nil {
		panic("wire: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal serializes v with the protocol's deterministic CBOR settings.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Encode builds a complete frame for op carrying payload.
func Encode(op Opcode, payload Payload) ([]byte, error) {
	if payload == nil {
		payload = Payload{}
	}

	raw, err := encMode.Marshal(map[string]any(payload))
	if err != nil {
		return nil, fmt.Errorf("wire: failed to serialize %s payload: %w", op, err)
	}

	var compressed bytes.Buffer

	zw, err := zlib.NewWriterLevel(&compressed, compressionLevel)
	if err != nil {
		return nil, fmt.Errorf("wire: failed to create compressor: %w", err)
	}

	if _, err = zw.Write(raw); err != nil {
		return nil, fmt.Errorf("wire: failed to compress %s payload: %w", op, err)
	}

	if err = zw.Close(); err != nil {
		return nil, fmt.Errorf("wire: failed to compress %s payload: %w", op, err)
	}

	if compressed.Len() > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %s payload is %d bytes", ErrPayloadTooLarge, op, compressed.Len())
	}

	frame := make([]byte, HeaderSize+compressed.Len())
	frame[0] = byte(op)
	binary.BigEndian.PutUint16(frame[1:HeaderSize], uint16(compressed.Len()))
	copy(frame[HeaderSize:], compressed.Bytes())

	return frame, nil
}

// Decode parses the first frame in buf. When buf does not yet hold a whole
// frame it returns n == 0 and a nil error, and the caller should retry once
// more bytes arrive. On success n is the number of bytes the frame occupied.
func Decode(buf []byte) (op Opcode, payload Payload, n int, err error) {
	if len(buf) < HeaderSize {
		return 0, nil, 0, nil
	}

	length := int(binary.BigEndian.Uint16(buf[1:HeaderSize]))
	if len(buf) < HeaderSize+length {
		return 0, nil, 0, nil
	}

	op = Opcode(buf[0])

	payload, err = decodePayload(buf[HeaderSize : HeaderSize+length])
	if err != nil {
		return op, nil, 0, &CodecError{Op: op, Err: err}
	}

	return op, payload, HeaderSize + length, nil
}

func decodePayload(body []byte) (Payload, error) {
	zr, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer func() { _ = zr.Close() }()

	raw, err := io.ReadAll(io.LimitReader(zr, MaxDecompressedSize+1))
	if err != nil {
		return nil, err
	}

	if len(raw) > MaxDecompressedSize {
		return nil, errDecompressedTooLarge
	}

	var payload Payload
	if err := decMode.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}

	if payload == nil {
		payload = Payload{}
	}

	return payload, nil
}
