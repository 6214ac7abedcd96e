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

package sensors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/edgeo-scada/plantlink/modbus"
)

// Device describes one physical Modbus device for pool construction.
type Device struct {
	ID      string
	Address string // host:port
	UnitID  modbus.UnitID
}

// Pool owns one persistent connection per registered device plus the
// sensor address map. The pool's mutex guards only the device table;
// each connection serializes its own socket, so reads against distinct
// devices never contend while reads against the same device are strictly
// ordered.
type Pool struct {
	addrMap *AddressMap
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.RWMutex
	devices map[string]*poolDevice
	closed  bool
}

type poolDevice struct {
	client  *modbus.Client
	breaker *gobreaker.CircuitBreaker
}

// PoolOption configures a Pool.
type PoolOption func(*poolConfig)

type poolConfig struct {
	timeout time.Duration
	logger  *slog.Logger
}

// WithReadTimeout bounds every socket operation on the acquisition path.
func WithReadTimeout(d time.Duration) PoolOption {
	return func(c *poolConfig) {
		c.timeout = d
	}
}

// WithPoolLogger sets the pool logger.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(c *poolConfig) {
		c.logger = logger
	}
}

// NewPool builds a device pool. Connections are created disconnected;
// the first read against each device dials it.
func NewPool(devices []Device, addrMap *AddressMap, opts ...PoolOption) (*Pool, error) {
	if addrMap == nil {
		return nil, errors.New("sensors: nil address map")
	}

	cfg := &poolConfig{
		timeout: modbus.DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	p := &Pool{
		addrMap: addrMap,
		logger:  cfg.logger,
		timeout: cfg.timeout,
		devices: make(map[string]*poolDevice, len(devices)),
	}

	for _, d := range devices {
		if d.ID == "" {
			return nil, errors.New("sensors: empty device id")
		}
		if _, dup := p.devices[d.ID]; dup {
			return nil, fmt.Errorf("sensors: duplicate device id %q", d.ID)
		}
		client, err := modbus.NewClient(d.Address,
			modbus.WithUnitID(d.UnitID),
			modbus.WithTimeout(cfg.timeout),
			modbus.WithLogger(cfg.logger.With(slog.String("device", d.ID))),
		)
		if err != nil {
			return nil, fmt.Errorf("sensors: device %q: %w", d.ID, err)
		}
		p.devices[d.ID] = &poolDevice{
			client:  client,
			breaker: newDeviceBreaker(d.ID, cfg.logger),
		}
	}

	// Every mapped sensor must point at a registered device.
	for _, id := range addrMap.SensorIDs() {
		_, addr, err := addrMap.Resolve(id)
		if err != nil {
			return nil, err
		}
		if _, ok := p.devices[addr.DeviceID]; !ok {
			return nil, fmt.Errorf("sensors: sensor %q maps to unregistered device %q", id, addr.DeviceID)
		}
	}

	return p, nil
}

// newDeviceBreaker builds the per-device circuit breaker. It trips only
// after a sustained run of failures, so a single failed cycle still
// reconnects lazily on the next read; while open it fast-fails to
// offline instead of re-dialing an unreachable device every cycle.
func newDeviceBreaker(deviceID string, logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        deviceID,
		MaxRequests: 1,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("device breaker state change",
				slog.String("device", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
}

// Read resolves the sensor, lazily reconnects its device if needed,
// reads one input register, and converts it to engineering units.
func (p *Pool) Read(ctx context.Context, sensorID string) (Reading, error) {
	typ, addr, err := p.addrMap.Resolve(sensorID)
	if err != nil {
		return Reading{}, err
	}

	dev, err := p.device(addr.DeviceID)
	if err != nil {
		return Reading{}, err
	}

	result, err := dev.breaker.Execute(func() (interface{}, error) {
		// One reconnect attempt per read; no retry loop. A failure
		// reports offline for this cycle only.
		if !dev.client.IsConnected() {
			if err := dev.client.Connect(ctx); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDeviceOffline, err)
			}
		}
		values, err := dev.client.ReadInputRegisters(ctx, addr.Register, addr.Quantity)
		if err != nil {
			return nil, classifyReadError(err)
		}
		return values, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Reading{}, fmt.Errorf("%w: breaker open for device %q", ErrDeviceOffline, addr.DeviceID)
		}
		return Reading{}, err
	}

	values := result.([]uint16)
	if len(values) < 1 {
		return Reading{}, fmt.Errorf("%w: empty register response", ErrProtocol)
	}

	value, err := ConvertRaw(values[0], typ)
	if err != nil {
		return Reading{}, err
	}

	return Reading{
		SensorID:  sensorID,
		Type:      typ,
		Value:     value,
		Timestamp: time.Now().UTC(),
	}, nil
}

// classifyReadError maps modbus client failures onto the acquisition
// error taxonomy. Correlation and framing failures are protocol errors
// that leave the connection up; transport failures mean offline.
func classifyReadError(err error) error {
	switch {
	case errors.Is(err, modbus.ErrTxMismatch),
		errors.Is(err, modbus.ErrInvalidResponse),
		errors.Is(err, modbus.ErrInvalidFrame),
		errors.Is(err, modbus.ErrIncompleteFrame):
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	default:
		var mbErr *modbus.ModbusError
		if errors.As(err, &mbErr) {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		return fmt.Errorf("%w: %v", ErrDeviceOffline, err)
	}
}

// Online reports whether the device owning the sensor is connected.
func (p *Pool) Online(sensorID string) bool {
	_, addr, err := p.addrMap.Resolve(sensorID)
	if err != nil {
		return false
	}
	dev, err := p.device(addr.DeviceID)
	if err != nil {
		return false
	}
	return dev.client.IsConnected()
}

// Sensors returns the full configured sensor id set regardless of live
// connectivity.
func (p *Pool) Sensors() []string {
	return p.addrMap.SensorIDs()
}

// DeviceStates returns the connection state per device id.
func (p *Pool) DeviceStates() map[string]modbus.ConnectionState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	states := make(map[string]modbus.ConnectionState, len(p.devices))
	for id, dev := range p.devices {
		states[id] = dev.client.State()
	}
	return states
}

// Close closes every device connection exactly once. The pool is
// unusable afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	devices := make([]*poolDevice, 0, len(p.devices))
	for _, dev := range p.devices {
		devices = append(devices, dev)
	}
	p.mu.Unlock()

	var firstErr error
	for _, dev := range devices {
		if err := dev.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Pool) device(deviceID string) (*poolDevice, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, errors.New("sensors: pool closed")
	}
	dev, ok := p.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: device %q", ErrUnknownSensor, deviceID)
	}
	return dev, nil
}
