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
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ClientMessage is one inbound payload from an authenticated client,
// delivered on the server's message channel.
type ClientMessage struct {
	ClientID string
	Payload  string
}

// Server accepts monitoring clients, authenticates them, and keeps
// them alive with heartbeats. Telemetry goes out through Broadcast;
// client traffic comes back on the Messages channel.
type Server struct {
	cfg      *serverConfig
	registry *Registry
	logger   *slog.Logger

	mu       sync.Mutex
	running  bool
	listener net.Listener
	pending  map[net.Conn]struct{}
	done     chan struct{}
	wg       sync.WaitGroup

	messages  chan ClientMessage
	idCounter uint64
}

// NewServer builds a distribution server. The heartbeat interval must
// be shorter than the client timeout so a live client is always probed
// before it can be judged stale.
func NewServer(opts ...ServerOption) (*Server, error) {
	cfg := defaultServerConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.heartbeatInterval >= cfg.clientTimeout {
		return nil, fmt.Errorf("distrib: heartbeat interval %v must be below client timeout %v",
			cfg.heartbeatInterval, cfg.clientTimeout)
	}

	return &Server{
		cfg:      cfg,
		registry: NewRegistry(cfg.maxClients, cfg.logger),
		logger:   cfg.logger,
		pending:  make(map[net.Conn]struct{}),
		messages: make(chan ClientMessage, cfg.messageBuffer),
	}, nil
}

// Start binds addr and launches the accept and heartbeat loops. It
// returns once the listener is live.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("distrib: listen %s: %w", addr, err)
	}

	s.listener = listener
	s.done = make(chan struct{})
	s.running = true

	s.wg.Add(2)
	go s.acceptLoop(listener)
	go s.heartbeatLoop()

	s.logger.Info("distribution server started",
		slog.String("addr", listener.Addr().String()),
		slog.Int("max_clients", s.cfg.maxClients))
	return nil
}

// Stop shuts the server down: closes the listener, signals both loops,
// waits for them, then drains every session. Idempotent.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.done)
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()

	listener.Close()
	// Closing every connection unblocks the handshake and read loops
	// before the join: registered sessions through the registry,
	// connections still mid-handshake directly.
	s.mu.Lock()
	for conn := range s.pending {
		conn.Close()
	}
	s.mu.Unlock()
	s.registry.CloseAll()
	s.wg.Wait()

	s.logger.Info("distribution server stopped")
	return nil
}

// Running reports whether the server is serving.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Addr returns the bound listener address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ClientCount returns the number of authenticated sessions.
func (s *Server) ClientCount() int {
	return s.registry.Count()
}

// Clients returns the authenticated session ids.
func (s *Server) Clients() []string {
	return s.registry.IDs()
}

// Broadcast delivers payload to every session and returns the number
// of successful sends.
func (s *Server) Broadcast(payload []byte) int {
	return s.registry.Broadcast(MsgData, payload)
}

// SendTo delivers payload to one session.
func (s *Server) SendTo(clientID string, payload []byte) error {
	if !s.Running() {
		return ErrNotRunning
	}
	return s.registry.SendTo(clientID, MsgData, payload)
}

// Messages returns the inbound client message channel.
func (s *Server) Messages() <-chan ClientMessage {
	return s.messages
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.logger.Warn("accept failed", slog.String("error", err.Error()))
			continue
		}

		// Refuse before the handshake so a full house costs a rejected
		// client nothing but a dial.
		if s.registry.Count() >= s.cfg.maxClients {
			s.logger.Warn("connection refused at capacity",
				slog.String("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}

		s.trackPending(conn)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// handleConn runs the auth handshake and, on success, the session read
// loop. Any failure before registration closes the socket and leaves
// no trace in the registry.
func (s *Server) handleConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()

	// Pending covers the handshake window; once the session is
	// registered the registry owns closing the connection.
	defer s.untrackPending(conn)

	conn.SetReadDeadline(timeNow().Add(s.cfg.authTimeout))
	msg, err := ReadMessage(conn)
	if err != nil {
		s.logger.Warn("handshake read failed",
			slog.String("remote", remote),
			slog.String("error", err.Error()))
		conn.Close()
		return
	}
	if msg.Type != MsgAuth {
		s.logger.Warn("handshake expected auth",
			slog.String("remote", remote),
			slog.String("got", msg.Type.String()))
		conn.Close()
		return
	}

	if s.cfg.authenticator != nil {
		if err := s.cfg.authenticator.Authenticate(msg.Payload); err != nil {
			s.logger.Warn("authentication rejected",
				slog.String("remote", remote),
				slog.String("error", err.Error()))
			conn.Close()
			return
		}
	}

	conn.SetReadDeadline(time.Time{})

	session := newSession(s.nextClientID(remote), conn, s.cfg.writeTimeout)
	if err := s.registry.Add(session); err != nil {
		s.logger.Warn("registration refused",
			slog.String("remote", remote),
			slog.String("error", err.Error()))
		conn.Close()
		return
	}

	if err := session.Send(MsgAuthOK, nil); err != nil {
		s.registry.Remove(session.ID())
		return
	}
	s.untrackPending(conn)

	s.logger.Info("client connected",
		slog.String("client", session.ID()),
		slog.Int("clients", s.registry.Count()))

	s.readLoop(session, conn)
}

// readLoop consumes client messages until the connection or the
// server goes away. Every inbound message refreshes the activity
// timestamp.
func (s *Server) readLoop(session *Session, conn net.Conn) {
	defer func() {
		s.registry.Remove(session.ID())
		s.logger.Info("client disconnected", slog.String("client", session.ID()))
	}()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		conn.SetReadDeadline(timeNow().Add(s.cfg.heartbeatInterval))
		msg, err := ReadMessage(conn)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// Quiet client; the heartbeat loop decides staleness.
				continue
			}
			return
		}

		session.Touch()

		switch msg.Type {
		case MsgPong:
			// Activity refresh is the whole point.
		case MsgData:
			s.deliver(session.ID(), msg.Payload)
		default:
			s.logger.Debug("unexpected client message",
				slog.String("client", session.ID()),
				slog.String("type", msg.Type.String()))
		}
	}
}

// deliver screens a payload and hands it to the message channel. A
// full channel drops the message rather than stalling the read loop.
func (s *Server) deliver(clientID string, payload []byte) {
	text := string(payload)
	if s.cfg.validator != nil {
		if !s.cfg.validator.Validate(text) {
			s.logger.Warn("payload rejected by validator",
				slog.String("client", clientID))
			return
		}
		text = s.cfg.validator.Sanitize(text)
	}

	select {
	case s.messages <- ClientMessage{ClientID: clientID, Payload: text}:
	default:
		s.logger.Warn("message channel full, dropping",
			slog.String("client", clientID))
	}
}

func (s *Server) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep evicts sessions idle beyond the client timeout and pings the
// rest. Ping failures queue the session for removal the same way
// broadcast failures do.
func (s *Server) sweep() {
	now := timeNow()
	for _, session := range s.registry.snapshot() {
		if now.Sub(session.LastActivity()) > s.cfg.clientTimeout {
			s.logger.Info("evicting stale client",
				slog.String("client", session.ID()),
				slog.Duration("idle", now.Sub(session.LastActivity())))
			s.registry.Remove(session.ID())
			continue
		}
		if err := session.Send(MsgPing, nil); err != nil {
			s.logger.Warn("heartbeat failed",
				slog.String("client", session.ID()),
				slog.String("error", err.Error()))
			s.registry.Remove(session.ID())
		}
	}
}

func (s *Server) trackPending(conn net.Conn) {
	s.mu.Lock()
	s.pending[conn] = struct{}{}
	s.mu.Unlock()
}

// untrackPending is idempotent; the handshake exit path and the
// registration handoff can both call it for the same connection.
func (s *Server) untrackPending(conn net.Conn) {
	s.mu.Lock()
	delete(s.pending, conn)
	s.mu.Unlock()
}

func (s *Server) nextClientID(remote string) string {
	n := atomic.AddUint64(&s.idCounter, 1)
	return fmt.Sprintf("%s#%d@%d", remote, n, timeNow().UnixMilli())
}
