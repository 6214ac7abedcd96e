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

package process

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/edgeo-scada/plantlink/sensors"
)

func reading(id string, typ sensors.Type, value float64) sensors.Reading {
	return sensors.Reading{
		SensorID:  id,
		Type:      typ,
		Value:     value,
		Timestamp: time.Now().UTC(),
	}
}

func TestProcess_Averages(t *testing.T) {
	p := NewThresholdProcessor(DefaultThresholds())

	report := p.Process("unit-1", []sensors.Reading{
		reading("temp-1", sensors.Temperature, 300.0),
		reading("temp-2", sensors.Temperature, 320.0),
		reading("press-1", sensors.Pressure, 2100.0),
	})

	if report.PlantID != "unit-1" {
		t.Errorf("PlantID: expected unit-1, got %s", report.PlantID)
	}
	if len(report.Readings) != 3 {
		t.Errorf("Readings: expected 3, got %d", len(report.Readings))
	}
	if avg := report.Averages["temperature"]; avg != 310.0 {
		t.Errorf("Temperature average: expected 310.0, got %v", avg)
	}
	if avg := report.Averages["pressure"]; avg != 2100.0 {
		t.Errorf("Pressure average: expected 2100.0, got %v", avg)
	}
	if len(report.Alerts) != 0 {
		t.Errorf("Expected no alerts, got %d", len(report.Alerts))
	}
}

func TestProcess_Alerts(t *testing.T) {
	p := NewThresholdProcessor(Thresholds{
		MaxTemperature: 350.0,
		MaxRadiation:   1.0,
	})

	report := p.Process("unit-1", []sensors.Reading{
		reading("temp-1", sensors.Temperature, 351.5),
		reading("rad-1", sensors.Radiation, 0.5),
		reading("press-1", sensors.Pressure, 9999.0), // limit disabled
	})

	if len(report.Alerts) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(report.Alerts))
	}
	alert := report.Alerts[0]
	if alert.SensorID != "temp-1" {
		t.Errorf("Alert sensor: expected temp-1, got %s", alert.SensorID)
	}
	if alert.Value != 351.5 || alert.Limit != 350.0 {
		t.Errorf("Alert values: got %v over %v", alert.Value, alert.Limit)
	}
}

func TestProcess_FiltersInvalid(t *testing.T) {
	p := NewThresholdProcessor(DefaultThresholds())

	report := p.Process("unit-1", []sensors.Reading{
		reading("temp-1", sensors.Temperature, 300.0),
		{SensorID: "bad-type", Type: sensors.Type("vibration"), Value: 1, Timestamp: time.Now()},
		{SensorID: "", Type: sensors.Temperature, Value: 1, Timestamp: time.Now()},
		reading("neg", sensors.Temperature, -5.0),
		{SensorID: "no-ts", Type: sensors.Temperature, Value: 1},
	})

	if len(report.Readings) != 1 {
		t.Errorf("Readings: expected 1 valid, got %d", len(report.Readings))
	}

	stats := p.Stats()
	if stats.ReadingsInvalid != 4 {
		t.Errorf("ReadingsInvalid: expected 4, got %d", stats.ReadingsInvalid)
	}
	if stats.ReadingsTotal != 5 {
		t.Errorf("ReadingsTotal: expected 5, got %d", stats.ReadingsTotal)
	}
}

func TestProcess_Stats(t *testing.T) {
	p := NewThresholdProcessor(Thresholds{MaxTemperature: 100.0})

	p.Process("unit-1", []sensors.Reading{reading("t", sensors.Temperature, 150.0)})
	p.Process("unit-1", []sensors.Reading{reading("t", sensors.Temperature, 50.0)})

	stats := p.Stats()
	if stats.CyclesTotal != 2 {
		t.Errorf("CyclesTotal: expected 2, got %d", stats.CyclesTotal)
	}
	if stats.AlertsTotal != 1 {
		t.Errorf("AlertsTotal: expected 1, got %d", stats.AlertsTotal)
	}
}

func TestReportEncode(t *testing.T) {
	p := NewThresholdProcessor(DefaultThresholds())
	report := p.Process("unit-1", []sensors.Reading{
		reading("temp-1", sensors.Temperature, 350.0),
	})

	data, err := report.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var decoded Report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.PlantID != "unit-1" {
		t.Errorf("PlantID: expected unit-1, got %s", decoded.PlantID)
	}
	if len(decoded.Readings) != 1 || decoded.Readings[0].Value != 350.0 {
		t.Errorf("Readings round trip failed: %+v", decoded.Readings)
	}
}
