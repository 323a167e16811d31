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
	"io"
)

const readChunkSize = 2048

// Frame is one decoded protocol message.
type Frame struct {
	Op      Opcode
	Payload Payload
}

// FrameReader accumulates bytes from a stream and hands back whole frames.
// It is not safe for concurrent use.
type FrameReader struct {
	r     io.Reader
	buf   []byte
	chunk []byte
	err   error
}

// NewFrameReader returns a FrameReader reading from r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		r:     r,
		chunk: make([]byte, readChunkSize),
	}
}

// Next blocks until a complete frame is buffered and returns it. Frames that
// arrived in the same read are served from the buffer without touching the
// underlying reader. A *CodecError is terminal. Read errors are returned
// unwrapped so callers can match io.EOF; a stream that ends halfway through
// a frame yields io.ErrUnexpectedEOF.
func (fr *FrameReader) Next() (Frame, error) {
	for {
		op, payload, n, err := Decode(fr.buf)
		if err != nil {
			return Frame{}, err
		}

		if n > 0 {
			fr.buf = fr.buf[n:]

			return Frame{Op: op, Payload: payload}, nil
		}

		if fr.err != nil {
			if errors.Is(fr.err, io.EOF) && len(fr.buf) > 0 {
				return Frame{}, io.ErrUnexpectedEOF
			}

			return Frame{}, fr.err
		}

		read, err := fr.r.Read(fr.chunk)
		if read > 0 {
			fr.buf = append(fr.buf, fr.chunk[:read]...)
		}

		if err != nil {
			fr.err = err
		}
	}
}

// Buffered reports how many bytes are held waiting for a complete frame.
func (fr *FrameReader) Buffered() int {
	return len(fr.buf)
}

// WriteFrame encodes a frame and writes it to w in one call.
func WriteFrame(w io.Writer, op Opcode, payload Payload) error {
	frame, err := Encode(op, payload)
	if err != nil {
		return err
	}

	_, err = w.Write(frame)

	return err
}
