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
	"time"
)

const (
	// DefaultHeartbeatInterval is how often the server pings clients.
	// It must stay below DefaultClientTimeout so an alive client is
	// always probed before it can be judged stale.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultClientTimeout is the idle span after which a client is
	// evicted.
	DefaultClientTimeout = 60 * time.Second

	// DefaultAuthTimeout bounds the handshake on a new connection.
	DefaultAuthTimeout = 10 * time.Second

	// DefaultWriteTimeout bounds every outbound message.
	DefaultWriteTimeout = 5 * time.Second

	defaultMessageBuffer = 64
)

// Authenticator decides whether a client credential is acceptable.
type Authenticator interface {
	Authenticate(credential []byte) error
}

// Validator screens inbound client payloads before they reach the
// rest of the system.
type Validator interface {
	Validate(input string) bool
	Sanitize(input string) string
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	maxClients        int
	heartbeatInterval time.Duration
	clientTimeout     time.Duration
	authTimeout       time.Duration
	writeTimeout      time.Duration
	messageBuffer     int
	authenticator     Authenticator
	validator         Validator
	logger            *slog.Logger
}

func defaultServerConfig() *serverConfig {
	return &serverConfig{
		maxClients:        DefaultMaxClients,
		heartbeatInterval: DefaultHeartbeatInterval,
		clientTimeout:     DefaultClientTimeout,
		authTimeout:       DefaultAuthTimeout,
		writeTimeout:      DefaultWriteTimeout,
		messageBuffer:     defaultMessageBuffer,
		logger:            slog.Default(),
	}
}

// WithMaxClients bounds the number of concurrent sessions.
func WithMaxClients(n int) ServerOption {
	return func(c *serverConfig) {
		if n > 0 {
			c.maxClients = n
		}
	}
}

// WithHeartbeatInterval sets the ping cadence.
func WithHeartbeatInterval(d time.Duration) ServerOption {
	return func(c *serverConfig) {
		if d > 0 {
			c.heartbeatInterval = d
		}
	}
}

// WithClientTimeout sets the idle span after which a client is evicted.
func WithClientTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) {
		if d > 0 {
			c.clientTimeout = d
		}
	}
}

// WithAuthTimeout bounds the auth handshake on a new connection.
func WithAuthTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) {
		if d > 0 {
			c.authTimeout = d
		}
	}
}

// WithWriteTimeout bounds every outbound message.
func WithWriteTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// WithAuthenticator sets the credential checker for the handshake.
// Without one, every credential is accepted.
func WithAuthenticator(a Authenticator) ServerOption {
	return func(c *serverConfig) {
		c.authenticator = a
	}
}

// WithValidator sets the inbound payload screen. Without one, payloads
// pass through untouched.
func WithValidator(v Validator) ServerOption {
	return func(c *serverConfig) {
		c.validator = v
	}
}

// WithServerLogger sets the server logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(c *serverConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}
