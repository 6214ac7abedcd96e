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

import (
	"net"
	"sync"
	"time"
)

// timeNow is swapped out by tests that need a deterministic clock.
var timeNow = time.Now

// Session is one authenticated client connection. Writes are
// serialized on the session mutex; the transport is closed exactly
// once no matter how many paths race to remove it.
type Session struct {
	id         string
	remoteAddr string

	mu           sync.Mutex
	conn         net.Conn
	lastActivity time.Time
	closed       bool

	writeTimeout time.Duration
	closeOnce    sync.Once
}

func newSession(id string, conn net.Conn, writeTimeout time.Duration) *Session {
	return &Session{
		id:           id,
		remoteAddr:   conn.RemoteAddr().String(),
		conn:         conn,
		lastActivity: timeNow(),
		writeTimeout: writeTimeout,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the client's remote address.
func (s *Session) RemoteAddr() string {
	return s.remoteAddr
}

// Send writes one message to the client.
func (s *Session) Send(msgType MessageType, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(timeNow().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	return WriteMessage(s.conn, msgType, payload)
}

// Touch refreshes the activity timestamp. Called on every inbound
// message, pong included.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = timeNow()
	s.mu.Unlock()
}

// LastActivity returns the time of the most recent inbound message.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Close shuts the transport down exactly once. Safe to call from the
// read loop, the heartbeat loop, and Stop concurrently.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		err = s.conn.Close()
	})
	return err
}
