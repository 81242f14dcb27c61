package bms

import (
	"math"
	"testing"
	"time"

	"bms-service/can"
	"bms-service/param"
	"bms-service/sensor"
)

func TestAcquire_FillsSpotValues(t *testing.T) {
	bus := can.NewChainBus()
	n := newTestNode(t, bus, 0, 4)
	claim(t, n)
	n.OnModeChange(7)

	cells := n.cells.(*SimCells)
	cells.SetVoltage(0, 3600)
	cells.SetVoltage(1, 3700)
	cells.SetVoltage(2, 3800)
	cells.SetVoltage(3, 3700)
	cells.SetTemps(18, 31)
	n.current.(*sensor.Sim).SetCurrent(12.5)

	n.Acquire(100 * time.Millisecond)

	s := n.Store()
	checks := []struct {
		id   param.ID
		want float64
	}{
		{param.UAvg, 3700},
		{param.UMin, 3600},
		{param.UMax, 3800},
		{param.UDelta, 200},
		{param.UTotal, 14800},
		{param.TempMin, 18},
		{param.TempMax, 31},
		{param.Idc, 12.5},
	}
	for _, c := range checks {
		if got := s.Get(c.id); math.Abs(got-c.want) > 0.01 {
			t.Errorf("%v = %.2f, want %.2f", c.id, got, c.want)
		}
	}
	if got := s.Get(param.CellVoltage(2)); got != 3800 {
		t.Errorf("u2 = %.0f, want 3800", got)
	}
	if got := s.GetInt(param.Counter); got != 1 {
		t.Errorf("counter = %d, want 1", got)
	}
	if math.Abs(s.Get(param.Power)-14.8*12.5) > 0.1 {
		t.Errorf("power = %.1f, want %.1f", s.Get(param.Power), 14.8*12.5)
	}
}

func TestAcquire_SkipsOutsideRunAndIdle(t *testing.T) {
	bus := can.NewChainBus()
	n := newTestNode(t, bus, 0, 4)
	n.OnModeChange(0) // boot

	n.Acquire(100 * time.Millisecond)
	if got := n.Store().GetInt(param.Counter); got != 0 {
		t.Fatalf("counter = %d during boot, want 0", got)
	}
	// Uptime still runs.
	for i := 0; i < 10; i++ {
		n.Acquire(100 * time.Millisecond)
	}
	if got := n.Store().GetInt(param.Uptime); got != 1 {
		t.Fatalf("uptime = %d, want 1", got)
	}
}

func TestAcquire_ReversePolarityFaults(t *testing.T) {
	bus := can.NewChainBus()
	n := newTestNode(t, bus, 0, 4)
	claim(t, n)
	n.OnModeChange(7)

	n.cells.(*SimCells).SetVoltage(2, -400)
	n.Acquire(100 * time.Millisecond)

	if got := n.Faults().GetLastError(); got != FaultCellPolarity {
		t.Fatalf("fault = %v, want %v", got, FaultCellPolarity)
	}
}

func TestAcquire_OvervoltageFaults(t *testing.T) {
	bus := can.NewChainBus()
	n := newTestNode(t, bus, 0, 4)
	claim(t, n)
	n.OnModeChange(7)

	n.cells.(*SimCells).SetVoltage(0, 4250)
	n.Acquire(100 * time.Millisecond)

	if got := n.Faults().GetLastError(); got != FaultCellOvervoltage {
		t.Fatalf("fault = %v, want %v", got, FaultCellOvervoltage)
	}
	if got := n.Store().GetInt(param.ErrInfo); got != int(n.Addr()) {
		t.Fatalf("errinfo = %d, want %d", got, n.Addr())
	}
}

func TestBroadcast_ModuleStatsAndCellGroups(t *testing.T) {
	bus := can.NewChainBus()
	n := newTestNode(t, bus, 0, 6)
	claim(t, n)
	n.OnModeChange(7)

	cells := n.cells.(*SimCells)
	for i := 0; i < 6; i++ {
		cells.SetVoltage(i, 3600+float64(i)*10)
	}
	n.Acquire(100 * time.Millisecond)

	listener := bus.NewPort()
	rec := &frameRecorder{}
	for _, pgn := range []uint32{PGNModuleStats, PGNCellVoltages, PGNCellVoltages + 1, PGNPackStats} {
		listener.RegisterUserMessage(can.EncodeID(can.DefaultPriority, pgn, 0))
	}
	listener.AddCallback(rec)

	n.Broadcast()

	var stats *moduleStats
	groups := 0
	packSeen := false
	for _, f := range rec.frames {
		switch can.DecodeID(f.ID).PGN {
		case PGNModuleStats:
			s, ok := decodeModuleStats(f)
			if !ok {
				t.Fatal("short module stats frame")
			}
			stats = &s
		case PGNCellVoltages, PGNCellVoltages + 1:
			groups++
			cg, _ := decodeCellGroup(f)
			_ = cg
		case PGNPackStats:
			packSeen = true
		}
	}
	if stats == nil {
		t.Fatal("no module stats broadcast")
	}
	if stats.UMin != 3600 || stats.UMax != 3650 {
		t.Fatalf("stats = %+v", stats)
	}
	// 6 cells need two group frames; the second pads with 0xFFFF.
	if groups != 2 {
		t.Fatalf("cell group frames = %d, want 2", groups)
	}
	if !packSeen {
		t.Fatal("master sent no pack stats")
	}

	// The padding marker on the last group.
	for _, f := range rec.frames {
		if can.DecodeID(f.ID).PGN == PGNCellVoltages+1 {
			cg, _ := decodeCellGroup(f)
			if cg[2] != 0xFFFF || cg[3] != 0xFFFF {
				t.Fatalf("missing-cell padding = %04X %04X, want FFFF", cg[2], cg[3])
			}
		}
	}
}
