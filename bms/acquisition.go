package bms

import (
	"math"
	"time"

	"bms-service/bms/fsm"
	"bms-service/param"
)

// polarityLimit is the cell voltage below which a reversed cell is assumed
// rather than measurement noise.
const polarityLimit = -50 // mV

// idcFilterWeight is the exponential smoothing weight of the averaged
// current spot value.
const idcFilterWeight = 0.05

// acquisition is the per-node measurement state driven by the scheduler.
type acquisition struct {
	counter   uint64
	idcAvg    float64
	idleFor   time.Duration
	activeFor time.Duration
	voltages  []uint16
	uptime    time.Duration
}

func (a *acquisition) reset() {
	a.counter = 0
	a.idcAvg = 0
	a.idleFor = 0
	a.activeFor = 0
	a.voltages = nil
}

// Acquire is the fast scheduler task: read every cell, refresh the spot
// values, integrate charge and watch for hard faults and the idle
// condition. It does real work only in Run and Idle.
func (n *Node) Acquire(period time.Duration) {
	n.acq.uptime += period
	n.store.SetInt(param.Uptime, int(n.acq.uptime/time.Second))

	mode := n.Mode()
	if mode != fsm.ModeRun && mode != fsm.ModeIdle {
		return
	}

	count := n.cells.CellCount()
	if cap(n.acq.voltages) < count {
		n.acq.voltages = make([]uint16, count)
	}
	n.acq.voltages = n.acq.voltages[:count]

	var sum float64
	min, max := math.MaxFloat64, -math.MaxFloat64
	for i := 0; i < count; i++ {
		mv, err := n.cells.ReadCell(i)
		if err != nil {
			n.log.Warn("cell read failed", "cell", i, "error", err)
			continue
		}
		n.store.SetFloat(param.CellVoltage(i), mv)
		if mv < 0 {
			n.acq.voltages[i] = 0
		} else {
			n.acq.voltages[i] = uint16(mv)
		}
		sum += mv
		if mv < min {
			min = mv
		}
		if mv > max {
			max = mv
		}

		if mv < polarityLimit {
			n.fault(FaultCellPolarity)
			if n.sm != nil {
				n.sm.SendEvent(fsm.EvFault)
			}
			return
		}
		if mv > n.store.GetFloat(param.UCellMax) {
			n.fault(FaultCellOvervoltage)
			if n.sm != nil {
				n.sm.SendEvent(fsm.EvFault)
			}
			return
		}
	}

	// The mux and balance-driver diagnostics keep running during Run:
	// a short that develops after SelfTest must still latch.
	if mode == fsm.ModeRun {
		if err := n.RunSelfTest(); err != nil {
			if n.sm != nil {
				n.sm.SendEvent(fsm.EvFault)
			}
			return
		}
	}

	if count > 0 {
		n.store.SetFloat(param.UAvg, sum/float64(count))
		n.store.SetFloat(param.UMin, min)
		n.store.SetFloat(param.UMax, max)
		n.store.SetFloat(param.UDelta, max-min)
		n.store.SetFloat(param.UTotal, sum)
	}

	tmin, tmax, err := n.cells.ReadTemps()
	if err == nil {
		n.store.SetFloat(param.TempMin, tmin)
		n.store.SetFloat(param.TempMax, tmax)
	}

	idc := 0.0
	if n.current != nil {
		if a, err := n.current.ReadCurrent(); err == nil {
			idc = a
		} else {
			n.log.Warn("current read failed", "error", err)
		}
	}
	n.store.SetFloat(param.Idc, idc)
	n.acq.idcAvg += idcFilterWeight * (idc - n.acq.idcAvg)
	n.store.SetFloat(param.IdcAvg, n.acq.idcAvg)
	n.store.SetFloat(param.Power, sum/1000*idc)

	n.soc.accumulate(n.store, idc, period)
	n.watchIdle(mode, idc, period)

	n.acq.counter++
	n.store.SetInt(param.Counter, int(n.acq.counter))
}

// watchIdle drives the Run/Idle transitions off the current magnitude: a
// pack below idlecurrent for idlewait seconds is idle, any sustained draw
// wakes it again.
func (n *Node) watchIdle(mode int, idc float64, period time.Duration) {
	threshold := n.store.GetFloat(param.IdleCurrent) / 1000 // mA -> A
	wait := time.Duration(n.store.GetFloat(param.IdleWait) * float64(time.Second))

	if math.Abs(idc) < threshold {
		n.acq.idleFor += period
		n.acq.activeFor = 0
	} else {
		n.acq.idleFor = 0
		n.acq.activeFor += period
	}

	switch mode {
	case fsm.ModeRun:
		if wait > 0 && n.acq.idleFor >= wait {
			n.acq.idleFor = 0
			if n.sm != nil {
				n.sm.SendEvent(fsm.EvIdleDetected)
			}
		}
	case fsm.ModeIdle:
		if n.acq.activeFor >= period && math.Abs(idc) >= threshold {
			n.acq.activeFor = 0
			if n.sm != nil {
				n.sm.SendEvent(fsm.EvCurrentResumed)
			}
		}
	}
}

// Broadcast is the slow scheduler task: publish the module aggregates and
// cell detail frames, refresh the charge limits and, on the master, the
// pack-wide statistics. Balancing decisions ride on the same cadence.
func (n *Node) Broadcast() {
	if n.Addr() == 0 {
		return
	}
	mode := n.Mode()
	if mode != fsm.ModeRun && mode != fsm.ModeIdle {
		return
	}

	stats := moduleStats{
		UAvg:    uint16(n.store.Get(param.UAvg)),
		UMin:    uint16(n.store.Get(param.UMin)),
		UMax:    uint16(n.store.Get(param.UMax)),
		TempMin: int8(n.store.Get(param.TempMin)),
		TempMax: int8(n.store.Get(param.TempMax)),
	}
	n.send(PGNModuleStats, stats.encode())

	for first := 0; first < len(n.acq.voltages); first += 4 {
		n.send(PGNCellVoltages+uint32(first/4), encodeCellGroup(n.acq.voltages, first))
	}

	if mode == fsm.ModeRun {
		n.updateBalance()
	}

	n.soc.limits(n.store)

	if n.IsFirst() {
		n.broadcastPack(stats)
	}
}

// broadcastPack folds the roster into the pack-wide frame. The master's own
// module occupies aggregate slot 0.
func (n *Node) broadcastPack(own moduleStats) {
	n.store.SetInt(param.ModuleStat(0, param.StatUAvg), int(own.UAvg))
	n.store.SetInt(param.ModuleStat(0, param.StatUMin), int(own.UMin))
	n.store.SetInt(param.ModuleStat(0, param.StatUMax), int(own.UMax))
	n.store.SetInt(param.ModuleStat(0, param.StatTempMin), int(own.TempMin))
	n.store.SetInt(param.ModuleStat(0, param.StatTempMax), int(own.TempMax))

	totalMV := n.store.Get(param.UTotal)
	tempMax := n.store.Get(param.TempMax)
	n.mu.Lock()
	for _, m := range n.modules {
		totalMV += float64(m.Stats.UAvg) * float64(m.CellCount)
		if float64(m.Stats.TempMax) > tempMax {
			tempMax = float64(m.Stats.TempMax)
		}
	}
	n.mu.Unlock()

	pack := packStats{
		UTotal:       uint16(totalMV / 100), // mV -> 0.1 V
		Idc:          int16(n.store.Get(param.Idc) * 10),
		Soc:          uint8(n.store.Get(param.Soc)),
		TempMax:      int8(tempMax),
		ChargeLim:    uint8(n.store.Get(param.ChargeLim)),
		DischargeLim: uint8(n.store.Get(param.DischargeLim) / 2),
	}
	n.send(PGNPackStats, pack.encode())
}
