package sensor

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"
)

// SerialShunt reads a shunt monitor that streams one ASCII reading per
// line, the current in milliamperes. Common hall-sensor breakout firmware
// emits this format at 9600 baud.
type SerialShunt struct {
	port    *serial.Port
	scanner *bufio.Scanner
	lastA   float64
}

// NewSerialShunt opens the shunt monitor's serial device, e.g. /dev/ttyUSB0.
func NewSerialShunt(device string, baud int) (*SerialShunt, error) {
	if baud == 0 {
		baud = 9600
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: 100 * time.Millisecond,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial shunt: %w", err)
	}
	return &SerialShunt{port: port, scanner: bufio.NewScanner(port)}, nil
}

// ReadCurrent returns the most recent complete reading. If no new line
// arrived within the read timeout the previous value is reported, matching
// the sample-and-hold behavior of the ADC paths.
func (s *SerialShunt) ReadCurrent() (float64, error) {
	if s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		mA, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return s.lastA, fmt.Errorf("serial shunt: bad reading %q: %w", line, err)
		}
		s.lastA = mA / 1000.0
	} else if err := s.scanner.Err(); err != nil {
		return s.lastA, fmt.Errorf("serial shunt: %w", err)
	}
	return s.lastA, nil
}

// Close releases the serial device.
func (s *SerialShunt) Close() error {
	return s.port.Close()
}
