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
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Simulator is a Modbus TCP device simulator. It answers register reads
// (FC03/FC04) and configuration writes (FC06) from a RegisterBank, and
// stands in for field equipment during development and testing.
type Simulator struct {
	bank *RegisterBank
	opts *simOptions

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   int32
	wg       sync.WaitGroup
}

// NewSimulator creates a simulator serving the given register bank.
func NewSimulator(bank *RegisterBank, opts ...SimOption) *Simulator {
	options := defaultSimOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Simulator{
		bank:  bank,
		opts:  options,
		conns: make(map[net.Conn]struct{}),
	}
}

// ListenAndServe starts the simulator on the given address.
func (s *Simulator) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts device connections on the given listener.
func (s *Simulator) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.opts.logger.Info("simulator started", slog.String("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.closed) == 1 {
				return nil
			}
			s.opts.logger.Error("accept error", slog.String("error", err.Error()))
			continue
		}

		s.mu.Lock()
		if len(s.conns) >= s.opts.maxConns {
			s.mu.Unlock()
			s.opts.logger.Warn("max connections reached, rejecting",
				slog.String("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetNoDelay(true)
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Close shuts down the simulator and every open connection.
func (s *Simulator) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}

	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.opts.logger.Info("simulator stopped")
	return err
}

// Addr returns the simulator's listening address.
func (s *Simulator) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

func (s *Simulator) handleConn(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.opts.logger.Error("panic in connection handler",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}

		s.wg.Done()
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	s.opts.logger.Debug("connection accepted",
		slog.String("remote", conn.RemoteAddr().String()))

	for {
		if atomic.LoadInt32(&s.closed) == 1 {
			return
		}

		if s.opts.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.opts.readTimeout))
		}

		frame, err := ReadFrame(conn)
		if err != nil {
			if err != io.EOF && atomic.LoadInt32(&s.closed) == 0 {
				if netErr, ok := err.(net.Error); !ok || !netErr.Timeout() {
					s.opts.logger.Debug("read error",
						slog.String("remote", conn.RemoteAddr().String()),
						slog.String("error", err.Error()))
				}
			}
			return
		}

		response := s.processRequest(frame)

		if s.opts.readTimeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(s.opts.readTimeout))
		}

		if _, err := conn.Write(response.Encode()); err != nil {
			s.opts.logger.Debug("write error",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.String("error", err.Error()))
			return
		}
	}
}

func (s *Simulator) processRequest(req *Frame) *Frame {
	resp := &Frame{
		Header: MBAPHeader{
			TransactionID: req.Header.TransactionID,
			ProtocolID:    ProtocolID,
			UnitID:        req.Header.UnitID,
		},
	}

	if len(req.PDU) < 1 {
		resp.PDU = buildException(0, ExceptionIllegalFunction)
		return resp
	}

	fc := FunctionCode(req.PDU[0])

	s.opts.logger.Debug("processing request",
		slog.Uint64("tx_id", uint64(req.Header.TransactionID)),
		slog.String("func", fc.String()))

	var pdu []byte
	var err error

	switch fc {
	case FuncReadHoldingRegisters:
		pdu, err = s.handleRead(fc, req.PDU, s.bank.ReadHolding)
	case FuncReadInputRegisters:
		pdu, err = s.handleRead(fc, req.PDU, s.bank.ReadInput)
	case FuncWriteSingleRegister:
		pdu, err = s.handleWrite(req.PDU)
	default:
		pdu = buildException(fc, ExceptionIllegalFunction)
	}

	if err != nil {
		pdu = s.handleError(fc, err)
	}

	resp.PDU = pdu
	return resp
}

func buildException(fc FunctionCode, ec ExceptionCode) []byte {
	return []byte{byte(fc) | 0x80, byte(ec)}
}

func (s *Simulator) handleError(fc FunctionCode, err error) []byte {
	if modbusErr, ok := err.(*ModbusError); ok {
		return buildException(fc, modbusErr.ExceptionCode)
	}
	s.opts.logger.Error("handler error",
		slog.String("func", fc.String()),
		slog.String("error", err.Error()))
	return buildException(fc, ExceptionServerDeviceFailure)
}

func (s *Simulator) handleRead(fc FunctionCode, pdu []byte, read func(addr, qty uint16) ([]uint16, error)) ([]byte, error) {
	addr, qty, err := ParseReadRequestPDU(pdu)
	if err != nil {
		return buildException(fc, ExceptionIllegalDataValue), nil
	}

	if qty < 1 || qty > MaxQuantityRegisters {
		return buildException(fc, ExceptionIllegalDataValue), nil
	}
	if uint32(addr)+uint32(qty) > 65536 {
		return buildException(fc, ExceptionIllegalDataAddress), nil
	}

	values, err := read(addr, qty)
	if err != nil {
		return nil, err
	}

	return BuildRegistersResponsePDU(fc, values), nil
}

func (s *Simulator) handleWrite(pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return buildException(FuncWriteSingleRegister, ExceptionIllegalDataValue), nil
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	value := binary.BigEndian.Uint16(pdu[3:5])

	if err := s.bank.WriteHolding(addr, value); err != nil {
		return nil, err
	}

	// Echo request as response (copy to avoid sharing slice)
	resp := make([]byte, 5)
	copy(resp, pdu[:5])
	return resp, nil
}

// RegisterBank is the thread-safe register store behind a Simulator.
// Input registers model sensor telemetry; holding registers model device
// configuration.
type RegisterBank struct {
	mu          sync.RWMutex
	holdingRegs []uint16
	inputRegs   []uint16
}

// NewRegisterBank creates a register bank covering the full 16-bit
// address space.
func NewRegisterBank() *RegisterBank {
	return &RegisterBank{
		holdingRegs: make([]uint16, 65536),
		inputRegs:   make([]uint16, 65536),
	}
}

// ReadHolding reads qty holding registers starting at addr.
func (b *RegisterBank) ReadHolding(addr, qty uint16) ([]uint16, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if int(addr)+int(qty) > len(b.holdingRegs) {
		return nil, NewModbusError(FuncReadHoldingRegisters, ExceptionIllegalDataAddress)
	}

	// Index in int space: addr+qty can reach 65536, which wraps in
	// uint16 for a read ending at the last register.
	result := make([]uint16, qty)
	copy(result, b.holdingRegs[int(addr):int(addr)+int(qty)])
	return result, nil
}

// ReadInput reads qty input registers starting at addr.
func (b *RegisterBank) ReadInput(addr, qty uint16) ([]uint16, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if int(addr)+int(qty) > len(b.inputRegs) {
		return nil, NewModbusError(FuncReadInputRegisters, ExceptionIllegalDataAddress)
	}

	result := make([]uint16, qty)
	copy(result, b.inputRegs[int(addr):int(addr)+int(qty)])
	return result, nil
}

// WriteHolding writes a single holding register.
func (b *RegisterBank) WriteHolding(addr, value uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if int(addr) >= len(b.holdingRegs) {
		return NewModbusError(FuncWriteSingleRegister, ExceptionIllegalDataAddress)
	}

	b.holdingRegs[addr] = value
	return nil
}

// SetInput sets an input register value directly, as a sensor would.
func (b *RegisterBank) SetInput(addr, value uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(addr) < len(b.inputRegs) {
		b.inputRegs[addr] = value
	}
}

// SetHolding sets a holding register value directly.
func (b *RegisterBank) SetHolding(addr, value uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(addr) < len(b.holdingRegs) {
		b.holdingRegs[addr] = value
	}
}
