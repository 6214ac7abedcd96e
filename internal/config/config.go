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

// Package config loads the service configuration from defaults, an
// optional YAML file, and PLANTLINK_-prefixed environment variables,
// in ascending precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/edgeo-scada/plantlink/modbus"
	"github.com/edgeo-scada/plantlink/sensors"
)

// DeviceConfig describes one Modbus device.
type DeviceConfig struct {
	ID      string `mapstructure:"id"`
	Address string `mapstructure:"address"`
	UnitID  uint8  `mapstructure:"unit_id"`
}

// SensorConfig maps one sensor onto a device register.
type SensorConfig struct {
	ID       string `mapstructure:"id"`
	Type     string `mapstructure:"type"`
	Device   string `mapstructure:"device"`
	Register uint16 `mapstructure:"register"`
}

// ThresholdConfig carries the alert limits. Zero disables a limit.
type ThresholdConfig struct {
	MaxTemperature float64 `mapstructure:"max_temperature"`
	MaxPressure    float64 `mapstructure:"max_pressure"`
	MaxRadiation   float64 `mapstructure:"max_radiation"`
}

// ServerConfig carries the distribution server settings.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	MaxClients        int           `mapstructure:"max_clients"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ClientTimeout     time.Duration `mapstructure:"client_timeout"`
	AuthToken         string        `mapstructure:"auth_token"`
}

// Config is the full service configuration.
type Config struct {
	PlantID      string          `mapstructure:"plant_id"`
	ScanInterval time.Duration   `mapstructure:"scan_interval"`
	ReadTimeout  time.Duration   `mapstructure:"read_timeout"`
	LogLevel     string          `mapstructure:"log_level"`
	Devices      []DeviceConfig  `mapstructure:"devices"`
	Sensors      []SensorConfig  `mapstructure:"sensors"`
	Thresholds   ThresholdConfig `mapstructure:"thresholds"`
	Server       ServerConfig    `mapstructure:"server"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("plant_id", "plant-1")
	v.SetDefault("scan_interval", "5s")
	v.SetDefault("read_timeout", "500ms")
	v.SetDefault("log_level", "info")
	v.SetDefault("thresholds.max_temperature", 350.0)
	v.SetDefault("thresholds.max_pressure", 2200.0)
	v.SetDefault("thresholds.max_radiation", 1.0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_clients", 10)
	v.SetDefault("server.heartbeat_interval", "30s")
	v.SetDefault("server.client_timeout", "60s")
}

// Load reads the configuration. An empty path loads defaults and
// environment only; a missing explicit file is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PLANTLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.PlantID == "" {
		return errors.New("config: plant_id is required")
	}
	if c.ScanInterval <= 0 {
		return errors.New("config: scan_interval must be positive")
	}
	if c.Server.HeartbeatInterval >= c.Server.ClientTimeout {
		return fmt.Errorf("config: heartbeat_interval %v must be below client_timeout %v",
			c.Server.HeartbeatInterval, c.Server.ClientTimeout)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}

	deviceIDs := make(map[string]struct{}, len(c.Devices))
	for _, d := range c.Devices {
		if d.ID == "" || d.Address == "" {
			return fmt.Errorf("config: device %q needs id and address", d.ID)
		}
		if _, dup := deviceIDs[d.ID]; dup {
			return fmt.Errorf("config: duplicate device id %q", d.ID)
		}
		deviceIDs[d.ID] = struct{}{}
	}

	for _, s := range c.Sensors {
		if _, ok := deviceIDs[s.Device]; !ok {
			return fmt.Errorf("config: sensor %q references unknown device %q", s.ID, s.Device)
		}
	}
	return nil
}

// PoolDevices converts the device list for pool construction.
func (c *Config) PoolDevices() []sensors.Device {
	devices := make([]sensors.Device, 0, len(c.Devices))
	for _, d := range c.Devices {
		devices = append(devices, sensors.Device{
			ID:      d.ID,
			Address: d.Address,
			UnitID:  modbus.UnitID(d.UnitID),
		})
	}
	return devices
}

// MapEntries converts the sensor list for address map construction.
func (c *Config) MapEntries() []sensors.MapEntry {
	entries := make([]sensors.MapEntry, 0, len(c.Sensors))
	for _, s := range c.Sensors {
		entries = append(entries, sensors.MapEntry{
			SensorID: s.ID,
			Type:     sensors.Type(s.Type),
			DeviceID: s.Device,
			Register: s.Register,
		})
	}
	return entries
}
