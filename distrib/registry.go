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
	"log/slog"
	"sync"
)

// DefaultMaxClients bounds the registry when no explicit limit is set.
const DefaultMaxClients = 10

// Registry holds the authenticated sessions under a single mutex. The
// lock covers only the map; no transport I/O ever happens while it is
// held.
type Registry struct {
	logger *slog.Logger

	mu         sync.Mutex
	sessions   map[string]*Session
	maxClients int
}

// NewRegistry builds a registry bounded at maxClients. A non-positive
// limit falls back to DefaultMaxClients.
func NewRegistry(maxClients int, logger *slog.Logger) *Registry {
	if maxClients <= 0 {
		maxClients = DefaultMaxClients
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:     logger,
		sessions:   make(map[string]*Session, maxClients),
		maxClients: maxClients,
	}
}

// Add registers a session. It fails with ErrCapacityExceeded when the
// registry is full; the caller owns closing the refused connection.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.maxClients {
		return ErrCapacityExceeded
	}
	r.sessions[s.id] = s
	return nil
}

// Remove unregisters and closes a session. Removing an unknown id is a
// no-op, so racing removal paths are safe.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if ok {
		s.Close()
		r.logger.Debug("client removed", slog.String("client", id))
	}
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// IDs returns the registered session ids.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// snapshot copies the current session set so callers can do transport
// I/O without holding the registry lock.
func (r *Registry) snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Broadcast sends one message to every registered session and returns
// the number of successful deliveries. Sessions whose send fails are
// removed.
func (r *Registry) Broadcast(msgType MessageType, payload []byte) int {
	sessions := r.snapshot()

	var failed []string
	sent := 0
	for _, s := range sessions {
		if err := s.Send(msgType, payload); err != nil {
			r.logger.Warn("broadcast send failed",
				slog.String("client", s.id),
				slog.String("error", err.Error()))
			failed = append(failed, s.id)
			continue
		}
		sent++
	}

	for _, id := range failed {
		r.Remove(id)
	}
	return sent
}

// SendTo delivers one message to one client. A transport failure
// removes the session.
func (r *Registry) SendTo(id string, msgType MessageType, payload []byte) error {
	s, ok := r.Get(id)
	if !ok {
		return ErrClientNotFound
	}
	if err := s.Send(msgType, payload); err != nil {
		r.Remove(id)
		return err
	}
	return nil
}

// Touch refreshes the activity timestamp of a session if registered.
func (r *Registry) Touch(id string) {
	if s, ok := r.Get(id); ok {
		s.Touch()
	}
}

// CloseAll removes and closes every session.
func (r *Registry) CloseAll() {
	for _, s := range r.snapshot() {
		r.Remove(s.id)
	}
}
