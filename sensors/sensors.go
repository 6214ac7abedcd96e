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

// Package sensors maps logical plant sensors onto Modbus devices and
// reads them through a pool of persistent device connections.
package sensors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Type identifies the kind of quantity a sensor measures.
type Type string

// Supported sensor types.
const (
	Temperature Type = "temperature" // °C
	Pressure    Type = "pressure"    // PSI
	Radiation   Type = "radiation"   // mSv/h
)

// Register base addresses per sensor type. The ranges are distinct and
// non-overlapping; the layout beyond the base is pool configuration.
const (
	TemperatureBaseAddress uint16 = 0x1000
	PressureBaseAddress    uint16 = 0x2000
	RadiationBaseAddress   uint16 = 0x3000
)

// scaling converts a raw 16-bit register value into engineering units.
type scaling struct {
	scale  float64
	offset float64
}

// scaleTable holds the per-type conversion. Temperature and pressure are
// transmitted in tenths, radiation in thousandths.
var scaleTable = map[Type]scaling{
	Temperature: {scale: 0.1},
	Pressure:    {scale: 0.1},
	Radiation:   {scale: 0.001},
}

// BaseAddress returns the register base address for a sensor type.
func BaseAddress(t Type) (uint16, error) {
	switch t {
	case Temperature:
		return TemperatureBaseAddress, nil
	case Pressure:
		return PressureBaseAddress, nil
	case Radiation:
		return RadiationBaseAddress, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSensorType, t)
	}
}

// ConvertRaw converts a raw register value to engineering units for the
// given sensor type.
func ConvertRaw(raw uint16, t Type) (float64, error) {
	s, ok := scaleTable[t]
	if !ok {
		return 0, fmt.Errorf("%w: no scale for type %q", ErrConversion, t)
	}
	return float64(raw)*s.scale + s.offset, nil
}

// Reading is one converted measurement from one sensor.
type Reading struct {
	SensorID  string    `json:"sensor_id"`
	Type      Type      `json:"type"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Errors returned by the acquisition layer.
var (
	// ErrUnknownSensor indicates a sensor id with no configured mapping.
	ErrUnknownSensor = errors.New("sensors: unknown sensor")

	// ErrUnknownSensorType indicates a sensor type outside the supported
	// set.
	ErrUnknownSensorType = errors.New("sensors: unknown sensor type")

	// ErrDeviceOffline indicates the owning device is unreachable for
	// this cycle. Non-fatal; the next read attempts a reconnect.
	ErrDeviceOffline = errors.New("sensors: device offline")

	// ErrProtocol indicates the exchange completed but the response did
	// not correlate or parse. The device connection stays up.
	ErrProtocol = errors.New("sensors: protocol error")

	// ErrConversion indicates a raw value with no configured scaling.
	ErrConversion = errors.New("sensors: conversion error")
)

// Address resolves a sensor to a concrete register read.
type Address struct {
	DeviceID string
	Register uint16 // absolute address: type base + configured offset
	Quantity uint16
}

// AddressMap is the fixed mapping from sensor id to device and register
// block. It never changes for the lifetime of the pool that owns it.
type AddressMap struct {
	entries map[string]mapped
}

type mapped struct {
	typ  Type
	addr Address
}

// MapEntry describes one sensor for NewAddressMap.
type MapEntry struct {
	SensorID string
	Type     Type
	DeviceID string
	Register uint16 // offset from the type's base address
}

// NewAddressMap builds the sensor address map. Duplicate sensor ids and
// unknown types are rejected.
func NewAddressMap(entries []MapEntry) (*AddressMap, error) {
	m := &AddressMap{entries: make(map[string]mapped, len(entries))}
	for _, e := range entries {
		if e.SensorID == "" {
			return nil, errors.New("sensors: empty sensor id")
		}
		if _, dup := m.entries[e.SensorID]; dup {
			return nil, fmt.Errorf("sensors: duplicate sensor id %q", e.SensorID)
		}
		base, err := BaseAddress(e.Type)
		if err != nil {
			return nil, err
		}
		m.entries[e.SensorID] = mapped{
			typ: e.Type,
			addr: Address{
				DeviceID: e.DeviceID,
				Register: base + e.Register,
				Quantity: 1,
			},
		}
	}
	return m, nil
}

// Resolve returns the sensor's type and register address.
func (m *AddressMap) Resolve(sensorID string) (Type, Address, error) {
	e, ok := m.entries[sensorID]
	if !ok {
		return "", Address{}, fmt.Errorf("%w: %q", ErrUnknownSensor, sensorID)
	}
	return e.typ, e.addr, nil
}

// SensorIDs returns every configured sensor id. The full configured set
// is reported regardless of live connectivity: a sensor can be offline
// without being unknown.
func (m *AddressMap) SensorIDs() []string {
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	return ids
}

// Reader is the sensor acquisition capability the orchestration layer
// depends on. The device pool implements it; tests substitute fakes.
type Reader interface {
	Read(ctx context.Context, sensorID string) (Reading, error)
	Online(sensorID string) bool
	Sensors() []string
}
