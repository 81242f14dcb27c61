package bms

import (
	"sync"
	"time"

	"bms-service/can"
	"bms-service/sensor"
)

// dischargeSlope models the cell voltage drop per ampere-second. Crude but
// enough for the bench simulator to show SoC and balancing move.
const dischargeSlope = 0.003 // mV per As

// Simulation drives the simulated chain on the in-process bus: it applies
// the commanded pack current to every module's cells and executes the
// balance switches, so a chain without hardware behaves like a small pack.
type Simulation struct {
	bus *can.ChainBus

	mu       sync.Mutex
	modules  map[int]*SimCells
	currents map[int]*sensor.Sim
}

func NewSimulation(bus *can.ChainBus) *Simulation {
	return &Simulation{
		bus:      bus,
		modules:  make(map[int]*SimCells),
		currents: make(map[int]*sensor.Sim),
	}
}

// AddModule registers a module's cells with the simulator.
func (s *Simulation) AddModule(ordinal int, cells *SimCells) {
	s.mu.Lock()
	s.modules[ordinal] = cells
	s.mu.Unlock()
}

// AttachCurrent registers a module's simulated current sensor. The sensor
// at the lowest ordinal defines the pack current.
func (s *Simulation) AttachCurrent(ordinal int, src *sensor.Sim) {
	s.mu.Lock()
	s.currents[ordinal] = src
	s.mu.Unlock()
}

// SetPackCurrent sets every simulated sensor, positive discharging.
func (s *Simulation) SetPackCurrent(amps float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range s.currents {
		src.SetCurrent(amps)
	}
}

// Step advances the model by dt.
func (s *Simulation) Step(dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idc := 0.0
	lowest := -1
	for ord, src := range s.currents {
		if lowest < 0 || ord < lowest {
			lowest = ord
			if a, err := src.ReadCurrent(); err == nil {
				idc = a
			}
		}
	}

	drop := idc * dt.Seconds() * dischargeSlope
	for _, cells := range s.modules {
		count := cells.CellCount()
		for i := 0; i < count; i++ {
			mv, err := cells.ReadCell(i)
			if err != nil {
				continue
			}
			mv -= drop
			// Balance switches move roughly 1 A worth of charge.
			switch cells.Balance(i) {
			case BalanceDischarge:
				mv -= dt.Seconds() * dischargeSlope * 1000
			case BalanceChargePos, BalanceChargeNeg:
				mv += dt.Seconds() * dischargeSlope * 1000
			}
			cells.SetVoltage(i, mv)
		}
	}
}
