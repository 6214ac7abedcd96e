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

package modbus

import (
	"log/slog"
	"time"
)

// Option is a functional option for configuring the client.
type Option func(*clientOptions)

type clientOptions struct {
	unitID  UnitID
	timeout time.Duration
	logger  *slog.Logger
}

func defaultOptions() *clientOptions {
	return &clientOptions{
		unitID:  1,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
}

// WithUnitID sets the unit ID for requests.
func WithUnitID(id UnitID) Option {
	return func(o *clientOptions) {
		o.unitID = id
	}
}

// WithTimeout bounds every socket operation, including the dial.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// SimOption is a functional option for configuring the simulator.
type SimOption func(*simOptions)

type simOptions struct {
	logger      *slog.Logger
	maxConns    int
	readTimeout time.Duration
}

func defaultSimOptions() *simOptions {
	return &simOptions{
		logger:      slog.Default(),
		maxConns:    100,
		readTimeout: 30 * time.Second,
	}
}

// WithSimLogger sets the logger for the simulator.
func WithSimLogger(logger *slog.Logger) SimOption {
	return func(o *simOptions) {
		o.logger = logger
	}
}

// WithSimMaxConnections sets the maximum number of concurrent
// connections the simulator accepts.
func WithSimMaxConnections(n int) SimOption {
	return func(o *simOptions) {
		o.maxConns = n
	}
}

// WithSimReadTimeout sets the read timeout for simulator connections.
func WithSimReadTimeout(d time.Duration) SimOption {
	return func(o *simOptions) {
		o.readTimeout = d
	}
}
