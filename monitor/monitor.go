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

// Package monitor wires the acquisition, processing, and distribution
// layers into one plant monitoring service. Everything is injected at
// construction; nothing in this package reaches for ambient state.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/edgeo-scada/plantlink/distrib"
	"github.com/edgeo-scada/plantlink/process"
	"github.com/edgeo-scada/plantlink/security"
	"github.com/edgeo-scada/plantlink/sensors"
)

// ReportEnvelope wraps a broadcast report with its integrity digest so
// clients can detect a corrupted or tampered payload.
type ReportEnvelope struct {
	Report json.RawMessage `json:"report"`
	Digest string          `json:"digest"`
}

// ErrAlreadyRunning is returned by Start on a running monitor.
var ErrAlreadyRunning = errors.New("monitor: already running")

// Distributor is the slice of the distribution server the monitor
// drives.
type Distributor interface {
	Start(addr string) error
	Stop() error
	Broadcast(payload []byte) int
	SendTo(clientID string, payload []byte) error
	Messages() <-chan distrib.ClientMessage
	ClientCount() int
}

// Config carries the monitor's construction parameters.
type Config struct {
	PlantID      string
	ListenAddr   string
	ScanInterval time.Duration
}

// DefaultScanInterval is the telemetry cycle period.
const DefaultScanInterval = 5 * time.Second

// Monitor runs the scan loop: read every configured sensor, process
// the readings into a report, and broadcast it. Faults stay scoped: an
// offline device drops only its own sensors from the cycle, and a
// failed client send evicts only that client.
type Monitor struct {
	cfg       Config
	reader    sensors.Reader
	processor process.Processor
	server    Distributor
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New builds a monitor from its collaborators.
func New(cfg Config, reader sensors.Reader, processor process.Processor, server Distributor, logger *slog.Logger) (*Monitor, error) {
	if cfg.PlantID == "" {
		return nil, errors.New("monitor: empty plant id")
	}
	if reader == nil || processor == nil || server == nil {
		return nil, errors.New("monitor: nil collaborator")
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:       cfg,
		reader:    reader,
		processor: processor,
		server:    server,
		logger:    logger,
	}, nil
}

// Start brings up the distribution server and launches the scan and
// client message loops.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrAlreadyRunning
	}

	if err := m.server.Start(m.cfg.ListenAddr); err != nil {
		return fmt.Errorf("monitor: start distribution server: %w", err)
	}

	m.done = make(chan struct{})
	m.running = true

	m.wg.Add(2)
	go m.scanLoop(ctx)
	go m.messageLoop()

	m.logger.Info("monitor started",
		slog.String("plant", m.cfg.PlantID),
		slog.Duration("scan_interval", m.cfg.ScanInterval))
	return nil
}

// Stop shuts the loops down, then the distribution server. Idempotent.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.done)
	m.mu.Unlock()

	m.wg.Wait()
	err := m.server.Stop()

	m.logger.Info("monitor stopped", slog.String("plant", m.cfg.PlantID))
	return err
}

// Running reports whether the monitor is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) scanLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()

	// First cycle immediately rather than one interval in.
	m.scan(ctx)

	for {
		select {
		case <-m.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scan(ctx)
		}
	}
}

// scan runs one telemetry cycle.
func (m *Monitor) scan(ctx context.Context) {
	var readings []sensors.Reading
	for _, id := range m.reader.Sensors() {
		reading, err := m.reader.Read(ctx, id)
		if err != nil {
			m.logger.Warn("sensor read failed",
				slog.String("sensor", id),
				slog.String("error", err.Error()))
			continue
		}
		readings = append(readings, reading)
	}

	report := m.processor.Process(m.cfg.PlantID, readings)
	for _, alert := range report.Alerts {
		m.logger.Warn("threshold exceeded",
			slog.String("sensor", alert.SensorID),
			slog.Float64("value", alert.Value),
			slog.Float64("limit", alert.Limit))
	}

	encoded, err := report.Encode()
	if err != nil {
		m.logger.Error("report encoding failed", slog.String("error", err.Error()))
		return
	}

	payload, err := json.Marshal(ReportEnvelope{
		Report: encoded,
		Digest: security.Hash(encoded),
	})
	if err != nil {
		m.logger.Error("report encoding failed", slog.String("error", err.Error()))
		return
	}

	sent := m.server.Broadcast(payload)
	m.logger.Debug("cycle complete",
		slog.Int("readings", len(readings)),
		slog.Int("alerts", len(report.Alerts)),
		slog.Int("clients", sent))
}

// messageLoop consumes inbound client messages. A "status" command is
// answered by unicast; anything else is logged and dropped.
func (m *Monitor) messageLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.done:
			return
		case msg := <-m.server.Messages():
			m.handleMessage(msg)
		}
	}
}

func (m *Monitor) handleMessage(msg distrib.ClientMessage) {
	switch strings.ToLower(strings.TrimSpace(msg.Payload)) {
	case "status":
		status, err := m.Status()
		if err != nil {
			m.logger.Error("status encoding failed", slog.String("error", err.Error()))
			return
		}
		if err := m.server.SendTo(msg.ClientID, status); err != nil {
			m.logger.Warn("status reply failed",
				slog.String("client", msg.ClientID),
				slog.String("error", err.Error()))
		}
	default:
		m.logger.Debug("unhandled client command",
			slog.String("client", msg.ClientID),
			slog.String("payload", msg.Payload))
	}
}

// Status returns the service status as JSON.
func (m *Monitor) Status() ([]byte, error) {
	online := make(map[string]bool)
	for _, id := range m.reader.Sensors() {
		online[id] = m.reader.Online(id)
	}

	status := struct {
		PlantID   string          `json:"plant_id"`
		Running   bool            `json:"running"`
		Clients   int             `json:"clients"`
		Sensors   map[string]bool `json:"sensors_online"`
		Stats     process.Stats   `json:"stats"`
		Timestamp time.Time       `json:"timestamp"`
	}{
		PlantID:   m.cfg.PlantID,
		Running:   m.Running(),
		Clients:   m.server.ClientCount(),
		Sensors:   online,
		Stats:     m.processor.Stats(),
		Timestamp: time.Now().UTC(),
	}
	return json.Marshal(status)
}
