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

// Package modbus implements the Modbus TCP framing and device client used
// for field equipment telemetry. Input registers (FC04) carry sensor
// telemetry; holding registers (FC03/FC06) carry device configuration.
package modbus

import "time"

// UnitID represents the Modbus unit identifier (slave address).
type UnitID uint8

// FunctionCode represents a Modbus function code.
type FunctionCode uint8

// Function codes spoken by this module.
const (
	FuncReadHoldingRegisters FunctionCode = 0x03
	FuncReadInputRegisters   FunctionCode = 0x04
	FuncWriteSingleRegister  FunctionCode = 0x06
)

// String returns a readable name for the function code.
func (fc FunctionCode) String() string {
	switch fc {
	case FuncReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case FuncReadInputRegisters:
		return "ReadInputRegisters"
	case FuncWriteSingleRegister:
		return "WriteSingleRegister"
	default:
		return "Unknown"
	}
}

// Protocol constants.
const (
	// MaxQuantityRegisters is the maximum number of registers per read.
	MaxQuantityRegisters = 125

	// MBAPHeaderSize is the size of the MBAP header in bytes.
	MBAPHeaderSize = 7

	// ProtocolID is the Modbus protocol identifier (always 0 for TCP).
	ProtocolID = 0

	// DefaultTimeout bounds every socket operation on the acquisition
	// path so one unresponsive device cannot stall a scan cycle.
	DefaultTimeout = 500 * time.Millisecond

	// DefaultPort is the standard Modbus TCP port.
	DefaultPort = 502
)

// ConnectionState represents the state of a device connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

// String returns the string representation of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
