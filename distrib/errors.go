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

package distrib

import "errors"

var (
	// ErrCapacityExceeded is returned by Registry.Add when the registry
	// already holds the configured maximum number of sessions. New
	// connections are refused; existing sessions are never evicted to
	// make room.
	ErrCapacityExceeded = errors.New("distrib: client capacity exceeded")

	// ErrClientNotFound is returned when a session id is not registered.
	ErrClientNotFound = errors.New("distrib: client not found")

	// ErrAlreadyRunning is returned by Server.Start when the server is
	// already serving.
	ErrAlreadyRunning = errors.New("distrib: server already running")

	// ErrNotRunning is returned by operations that require a started
	// server.
	ErrNotRunning = errors.New("distrib: server not running")

	// ErrSessionClosed is returned when sending on a closed session.
	ErrSessionClosed = errors.New("distrib: session closed")

	// ErrAuthFailed is returned when a client's credential is rejected.
	ErrAuthFailed = errors.New("distrib: authentication failed")

	// ErrInvalidMessage is returned for a malformed wire message.
	ErrInvalidMessage = errors.New("distrib: invalid message")

	// ErrPayloadTooLarge is returned when a message payload exceeds
	// MaxPayloadSize in either direction.
	ErrPayloadTooLarge = errors.New("distrib: payload too large")
)
