package bms

import (
	"errors"
	"fmt"
	"sync"
)

// BalanceCommand is the per-cell balancing output.
type BalanceCommand uint8

const (
	BalanceNone BalanceCommand = iota
	BalanceDischarge
	BalanceChargePos
	BalanceChargeNeg
)

func (b BalanceCommand) String() string {
	switch b {
	case BalanceNone:
		return "None"
	case BalanceDischarge:
		return "Discharge"
	case BalanceChargePos:
		return "ChargePos"
	case BalanceChargeNeg:
		return "ChargeNeg"
	default:
		return "Unknown"
	}
}

// Diagnostic errors a cell source may report from SelfTest.
var (
	ErrMuxShort     = errors.New("bms: multiplexer short circuit")
	ErrBalancerFail = errors.New("bms: balance driver failure")
)

// CellSource abstracts the analog front end of one module: cell voltages,
// channel temperatures, balance outputs and diagnostics. Calibration and
// the switch electronics are outside this interface.
type CellSource interface {
	CellCount() int
	// ReadCell returns cell i's voltage in millivolts. Reverse-polarity
	// cells read negative.
	ReadCell(i int) (float64, error)
	// ReadTemps returns the minimum and maximum channel temperature in
	// degrees Celsius.
	ReadTemps() (float64, float64, error)
	// SetBalance drives cell i's balancing switch.
	SetBalance(i int, cmd BalanceCommand) error
	// SelfTest runs the mux and balance-driver diagnostics once.
	SelfTest() error
}

// SimCells is the software cell source used by the chain simulator and the
// tests: voltages and temperatures are set from the outside, balance
// commands are recorded, and faults can be injected.
type SimCells struct {
	mu       sync.Mutex
	voltages []float64
	tempMin  float64
	tempMax  float64
	balance  []BalanceCommand
	testErr  error
}

// NewSimCells creates a source with n cells at the given resting voltage.
func NewSimCells(n int, restMV float64) *SimCells {
	s := &SimCells{
		voltages: make([]float64, n),
		balance:  make([]BalanceCommand, n),
		tempMin:  20,
		tempMax:  25,
	}
	for i := range s.voltages {
		s.voltages[i] = restMV
	}
	return s
}

func (s *SimCells) CellCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.voltages)
}

func (s *SimCells) ReadCell(i int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.voltages) {
		return 0, fmt.Errorf("bms: no cell %d", i)
	}
	return s.voltages[i], nil
}

func (s *SimCells) ReadTemps() (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tempMin, s.tempMax, nil
}

func (s *SimCells) SetBalance(i int, cmd BalanceCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.balance) {
		return fmt.Errorf("bms: no cell %d", i)
	}
	s.balance[i] = cmd
	return nil
}

func (s *SimCells) SelfTest() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.testErr
}

// SetVoltage updates one simulated cell.
func (s *SimCells) SetVoltage(i int, mv float64) {
	s.mu.Lock()
	s.voltages[i] = mv
	s.mu.Unlock()
}

// SetTemps updates the simulated channel temperatures.
func (s *SimCells) SetTemps(min, max float64) {
	s.mu.Lock()
	s.tempMin, s.tempMax = min, max
	s.mu.Unlock()
}

// InjectTestFailure makes the next SelfTest calls return err.
func (s *SimCells) InjectTestFailure(err error) {
	s.mu.Lock()
	s.testErr = err
	s.mu.Unlock()
}

// Balance returns the recorded command for cell i.
func (s *SimCells) Balance(i int) BalanceCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance[i]
}
