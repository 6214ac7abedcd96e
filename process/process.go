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

// Package process turns raw sensor readings into the telemetry report
// distributed to monitoring clients: it screens invalid values,
// computes per-type averages, and raises threshold alerts.
package process

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/edgeo-scada/plantlink/sensors"
)

// Alert flags a reading that crossed its configured limit.
type Alert struct {
	SensorID  string       `json:"sensor_id"`
	Type      sensors.Type `json:"type"`
	Value     float64      `json:"value"`
	Limit     float64      `json:"limit"`
	Timestamp time.Time    `json:"timestamp"`
}

// Report is one processed telemetry cycle, serialized verbatim to
// every connected client.
type Report struct {
	PlantID   string             `json:"plant_id"`
	Timestamp time.Time          `json:"timestamp"`
	Readings  []sensors.Reading  `json:"readings"`
	Averages  map[string]float64 `json:"averages"`
	Alerts    []Alert            `json:"alerts,omitempty"`
}

// Stats counts processing outcomes across the processor's lifetime.
type Stats struct {
	CyclesTotal     int64 `json:"cycles_total"`
	ReadingsTotal   int64 `json:"readings_total"`
	ReadingsInvalid int64 `json:"readings_invalid"`
	AlertsTotal     int64 `json:"alerts_total"`
}

// Processor turns one cycle of readings into a report.
type Processor interface {
	Process(plantID string, readings []sensors.Reading) *Report
	Stats() Stats
}

// Thresholds holds the per-type alert limits. A zero limit disables
// alerting for that type.
type Thresholds struct {
	MaxTemperature float64
	MaxPressure    float64
	MaxRadiation   float64
}

// DefaultThresholds mirror typical plant operating limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxTemperature: 350.0,
		MaxPressure:    2200.0,
		MaxRadiation:   1.0,
	}
}

func (t Thresholds) limit(typ sensors.Type) (float64, bool) {
	switch typ {
	case sensors.Temperature:
		return t.MaxTemperature, t.MaxTemperature > 0
	case sensors.Pressure:
		return t.MaxPressure, t.MaxPressure > 0
	case sensors.Radiation:
		return t.MaxRadiation, t.MaxRadiation > 0
	default:
		return 0, false
	}
}

// ThresholdProcessor screens readings, averages them per type, and
// raises alerts against the configured limits.
type ThresholdProcessor struct {
	thresholds Thresholds

	mu    sync.Mutex
	stats Stats
}

// NewThresholdProcessor builds a processor with the given limits.
func NewThresholdProcessor(thresholds Thresholds) *ThresholdProcessor {
	return &ThresholdProcessor{thresholds: thresholds}
}

// Process builds the report for one cycle. Readings with an unknown
// type, a negative value, or a zero timestamp are dropped and counted
// as invalid.
func (p *ThresholdProcessor) Process(plantID string, readings []sensors.Reading) *Report {
	report := &Report{
		PlantID:   plantID,
		Timestamp: time.Now().UTC(),
		Averages:  make(map[string]float64),
	}

	sums := make(map[sensors.Type]float64)
	counts := make(map[sensors.Type]int)

	var invalid int64
	for _, r := range readings {
		if !validReading(r) {
			invalid++
			continue
		}
		report.Readings = append(report.Readings, r)
		sums[r.Type] += r.Value
		counts[r.Type]++

		if limit, ok := p.thresholds.limit(r.Type); ok && r.Value > limit {
			report.Alerts = append(report.Alerts, Alert{
				SensorID:  r.SensorID,
				Type:      r.Type,
				Value:     r.Value,
				Limit:     limit,
				Timestamp: r.Timestamp,
			})
		}
	}

	for typ, sum := range sums {
		report.Averages[string(typ)] = sum / float64(counts[typ])
	}

	p.mu.Lock()
	p.stats.CyclesTotal++
	p.stats.ReadingsTotal += int64(len(readings))
	p.stats.ReadingsInvalid += invalid
	p.stats.AlertsTotal += int64(len(report.Alerts))
	p.mu.Unlock()

	return report
}

// Stats returns a copy of the lifetime counters.
func (p *ThresholdProcessor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func validReading(r sensors.Reading) bool {
	switch r.Type {
	case sensors.Temperature, sensors.Pressure, sensors.Radiation:
	default:
		return false
	}
	if r.SensorID == "" || r.Value < 0 || r.Timestamp.IsZero() {
		return false
	}
	return true
}

// Encode serializes the report for the wire.
func (r *Report) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("process: encode report: %w", err)
	}
	return data, nil
}
