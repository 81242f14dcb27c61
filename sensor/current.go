// Package sensor provides the pack-current sources selectable through the
// idcmode parameter. The analog front end itself is out of scope; each
// source hides one external acquisition path behind the same interface.
package sensor

import "sync"

// CurrentSource reports the momentary pack current in amperes. Sign
// convention: positive current discharges the pack.
type CurrentSource interface {
	ReadCurrent() (float64, error)
}

// Sim is a settable current source used by the chain simulator and tests.
type Sim struct {
	mu  sync.Mutex
	idc float64
}

// NewSim returns a source reading 0 A.
func NewSim() *Sim {
	return &Sim{}
}

// SetCurrent updates the simulated pack current.
func (s *Sim) SetCurrent(amps float64) {
	s.mu.Lock()
	s.idc = amps
	s.mu.Unlock()
}

// ReadCurrent returns the simulated pack current.
func (s *Sim) ReadCurrent() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idc, nil
}
