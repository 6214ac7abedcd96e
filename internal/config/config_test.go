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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.PlantID != "plant-1" {
		t.Errorf("PlantID: expected plant-1, got %s", cfg.PlantID)
	}
	if cfg.ScanInterval != 5*time.Second {
		t.Errorf("ScanInterval: expected 5s, got %v", cfg.ScanInterval)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port: expected 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxClients != 10 {
		t.Errorf("MaxClients: expected 10, got %d", cfg.Server.MaxClients)
	}
	if cfg.Server.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval: expected 30s, got %v", cfg.Server.HeartbeatInterval)
	}
	if cfg.Server.ClientTimeout != 60*time.Second {
		t.Errorf("ClientTimeout: expected 60s, got %v", cfg.Server.ClientTimeout)
	}
}

func TestLoadFile(t *testing.T) {
	content := `
plant_id: unit-7
scan_interval: 2s
devices:
  - id: reactor-1
    address: 10.0.0.5:502
    unit_id: 1
sensors:
  - id: temp-1
    type: temperature
    device: reactor-1
    register: 0
server:
  port: 9090
  max_clients: 5
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.PlantID != "unit-7" {
		t.Errorf("PlantID: expected unit-7, got %s", cfg.PlantID)
	}
	if cfg.ScanInterval != 2*time.Second {
		t.Errorf("ScanInterval: expected 2s, got %v", cfg.ScanInterval)
	}
	if cfg.Server.Port != 9090 || cfg.Server.MaxClients != 5 {
		t.Errorf("Server: unexpected %+v", cfg.Server)
	}
	if len(cfg.Devices) != 1 || cfg.Devices[0].Address != "10.0.0.5:502" {
		t.Errorf("Devices: unexpected %+v", cfg.Devices)
	}

	devices := cfg.PoolDevices()
	if len(devices) != 1 || devices[0].ID != "reactor-1" {
		t.Errorf("PoolDevices: unexpected %+v", devices)
	}
	entries := cfg.MapEntries()
	if len(entries) != 1 || entries[0].SensorID != "temp-1" {
		t.Errorf("MapEntries: unexpected %+v", entries)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing explicit config file")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PLANTLINK_PLANT_ID", "env-plant")
	t.Setenv("PLANTLINK_SERVER_PORT", "7070")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PlantID != "env-plant" {
		t.Errorf("PlantID: expected env-plant, got %s", cfg.PlantID)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Port: expected 7070, got %d", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		return cfg
	}

	cfg := base()
	cfg.Server.HeartbeatInterval = 2 * time.Minute
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for heartbeat above client timeout")
	}

	cfg = base()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for invalid port")
	}

	cfg = base()
	cfg.Sensors = []SensorConfig{{ID: "s", Type: "temperature", Device: "ghost"}}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for sensor referencing unknown device")
	}

	cfg = base()
	cfg.Devices = []DeviceConfig{
		{ID: "d", Address: "a:502"},
		{ID: "d", Address: "b:502"},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for duplicate device id")
	}
}
