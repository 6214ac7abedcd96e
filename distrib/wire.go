// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package distrib implements the telemetry distribution service: a
// bounded, authenticated set of monitoring clients served over TCP.
//
// Wire format: every message is a 5-byte header followed by the
// payload. The header is one type byte and a big-endian uint32 payload
// length. Payloads are capped at MaxPayloadSize.
package distrib

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MessageType identifies a wire message.
type MessageType byte

const (
	// MsgAuth carries the client credential; it must be the first
	// message on a new connection.
	MsgAuth MessageType = 0x01
	// MsgAuthOK acknowledges a successful handshake.
	MsgAuthOK MessageType = 0x02
	// MsgData carries a telemetry report or a client command.
	MsgData MessageType = 0x03
	// MsgPing is a server liveness probe.
	MsgPing MessageType = 0x04
	// MsgPong is the client's reply to MsgPing.
	MsgPong MessageType = 0x05
)

func (t MessageType) String() string {
	switch t {
	case MsgAuth:
		return "Auth"
	case MsgAuthOK:
		return "AuthOK"
	case MsgData:
		return "Data"
	case MsgPing:
		return "Ping"
	case MsgPong:
		return "Pong"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", byte(t))
	}
}

const (
	headerSize = 5

	// MaxPayloadSize bounds a single message payload.
	MaxPayloadSize = 64 * 1024
)

// Message is one decoded wire message.
type Message struct {
	Type    MessageType
	Payload []byte
}

// WriteMessage encodes and writes one message.
func WriteMessage(w io.Writer, msgType MessageType, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	buf := make([]byte, headerSize+len(payload))
	buf[0] = byte(msgType)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[headerSize:], payload)

	_, err := w.Write(buf)
	return err
}

// ReadMessage reads exactly one message. It blocks until the full
// message arrives or the reader fails.
func ReadMessage(r io.Reader) (Message, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, err
	}

	msgType := MessageType(header[0])
	switch msgType {
	case MsgAuth, MsgAuthOK, MsgData, MsgPing, MsgPong:
	default:
		return Message{}, fmt.Errorf("%w: unknown type 0x%02X", ErrInvalidMessage, header[0])
	}

	length := binary.BigEndian.Uint32(header[1:5])
	if length > MaxPayloadSize {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, err
	}

	return Message{Type: msgType, Payload: payload}, nil
}
