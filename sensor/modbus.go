package sensor

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/goburrow/modbus"
)

// ModbusMeter reads the pack current from a Modbus TCP power meter. The
// meter exposes a signed 32-bit milliampere value in two consecutive
// holding registers, big endian.
type ModbusMeter struct {
	handler *modbus.TCPClientHandler
	client  modbus.Client
	reg     uint16
}

// NewModbusMeter connects to the meter at endpoint (host:port).
func NewModbusMeter(endpoint string, unitID byte, currentReg uint16) (*ModbusMeter, error) {
	handler := modbus.NewTCPClientHandler(endpoint)
	handler.Timeout = 2 * time.Second
	handler.SlaveId = unitID
	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to modbus meter: %w", err)
	}
	return &ModbusMeter{
		handler: handler,
		client:  modbus.NewClient(handler),
		reg:     currentReg,
	}, nil
}

// ReadCurrent polls the current registers.
func (m *ModbusMeter) ReadCurrent() (float64, error) {
	raw, err := m.client.ReadHoldingRegisters(m.reg, 2)
	if err != nil {
		return 0, fmt.Errorf("modbus meter: %w", err)
	}
	if len(raw) < 4 {
		return 0, fmt.Errorf("modbus meter: short response (%d bytes)", len(raw))
	}
	mA := int32(binary.BigEndian.Uint32(raw))
	return float64(mA) / 1000.0, nil
}

// Close releases the TCP connection.
func (m *ModbusMeter) Close() error {
	return m.handler.Close()
}
