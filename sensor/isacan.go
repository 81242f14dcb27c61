package sensor

import (
	"encoding/binary"
	"sync"

	"bms-service/can"
)

// PGNShuntCurrent is the proprietary-B PGN an ISA-style CAN shunt
// broadcasts its current reading on: bytes 0-3 carry the signed current in
// milliamperes, big endian.
const PGNShuntCurrent = 0x00FF31

// IsaCan listens for a CAN current shunt on the chain bus. It implements
// can.Callback and CurrentSource; register it before the bus starts.
type IsaCan struct {
	mu    sync.Mutex
	lastA float64
	seen  bool
}

// NewIsaCan attaches the shunt listener to hw.
func NewIsaCan(hw can.Hardware) *IsaCan {
	s := &IsaCan{}
	hw.RegisterUserMessage(can.EncodeID(can.DefaultPriority, PGNShuntCurrent, 0))
	hw.AddCallback(s)
	return s
}

// HandleRx decodes shunt broadcasts, ignoring everything else.
func (s *IsaCan) HandleRx(f can.Frame) {
	if can.DecodeID(f.ID).PGN != PGNShuntCurrent || f.Len < 4 {
		return
	}
	mA := int32(binary.BigEndian.Uint32(f.Data[0:4]))
	s.mu.Lock()
	s.lastA = float64(mA) / 1000.0
	s.seen = true
	s.mu.Unlock()
}

// HandleClear resets the sample-and-hold after a bus restart.
func (s *IsaCan) HandleClear() {
	s.mu.Lock()
	s.lastA = 0
	s.seen = false
	s.mu.Unlock()
}

// ReadCurrent returns the last broadcast value, 0 A until the shunt has
// been heard.
func (s *IsaCan) ReadCurrent() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastA, nil
}

// Seen reports whether a shunt broadcast has arrived since the last bus
// restart.
func (s *IsaCan) Seen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen
}
