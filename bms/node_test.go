package bms

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"bms-service/bms/fsm"
	"bms-service/can"
	"bms-service/param"
	"bms-service/sensor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestNode(t *testing.T, bus *can.ChainBus, ordinal, cells int) *Node {
	t.Helper()
	store := param.NewStore()
	store.SetInt(param.NumChan, cells)
	return NewNode(NodeConfig{Ordinal: ordinal}, bus.NewPort(), store,
		NewSimCells(cells, 3700), sensor.NewSim(), NewRegister(), testLogger())
}

// claim drives the negotiation actions the way the mode machine would,
// without the real timers.
func claim(t *testing.T, n *Node) {
	t.Helper()
	n.BeginAddressClaim()
	if err := n.ClaimAddress(); err != nil {
		t.Fatalf("node %d: claim failed: %v", n.ordinal, err)
	}
}

func TestNegotiation_DistinctAddresses(t *testing.T) {
	bus := can.NewChainBus()
	nodes := []*Node{
		newTestNode(t, bus, 0, 12),
		newTestNode(t, bus, 1, 12),
		newTestNode(t, bus, 2, 8),
	}

	// The stagger delay serializes the claims in ordinal order.
	for _, n := range nodes {
		claim(t, n)
	}

	seen := make(map[uint8]bool)
	for _, n := range nodes {
		addr := n.Addr()
		if addr == 0 {
			t.Fatalf("node %d unaddressed", n.ordinal)
		}
		if seen[addr] {
			t.Fatalf("address %d claimed twice", addr)
		}
		seen[addr] = true
	}

	if nodes[0].Addr() != BaseAddress {
		t.Fatalf("head of chain got %d, want %d", nodes[0].Addr(), BaseAddress)
	}
	firsts := 0
	for _, n := range nodes {
		if n.IsFirst() {
			firsts++
		}
	}
	if firsts != 1 {
		t.Fatalf("%d nodes believe they are the master", firsts)
	}
	for _, n := range nodes {
		if n.HasConflict() {
			t.Fatalf("node %d reports a conflict", n.ordinal)
		}
	}
}

func TestNegotiation_LowerOrdinalWinsConflict(t *testing.T) {
	bus := can.NewChainBus()
	n := newTestNode(t, bus, 3, 12)
	claim(t, n)
	addr := n.Addr()

	// A module closer to the head asserts the same address.
	rival := bus.NewPort()
	frame := can.NewFrame(PGNAddressClaimed, addr, addressClaim{Ordinal: 1, CellCount: 12}.encode())
	if err := rival.Send(frame.ID, frame.Data[:frame.Len]); err != nil {
		t.Fatalf("rival claim: %v", err)
	}

	if !n.HasConflict() {
		t.Fatal("conflict not detected")
	}
	if n.Addr() != 0 {
		t.Fatalf("loser kept address %d", n.Addr())
	}

	// The retry must pick a different address.
	claim(t, n)
	if n.Addr() == addr || n.Addr() == 0 {
		t.Fatalf("retry claimed %d", n.Addr())
	}
}

func TestNegotiation_HigherOrdinalBacksOff(t *testing.T) {
	bus := can.NewChainBus()
	n := newTestNode(t, bus, 0, 12)
	claim(t, n)

	rival := bus.NewPort()
	rivalRx := &frameRecorder{}
	rival.RegisterUserMessage(can.EncodeID(can.DefaultPriority, PGNAddressClaimed, 0))
	rival.AddCallback(rivalRx)

	frame := can.NewFrame(PGNAddressClaimed, n.Addr(), addressClaim{Ordinal: 5, CellCount: 12}.encode())
	rival.Send(frame.ID, frame.Data[:frame.Len])

	if n.HasConflict() {
		t.Fatal("winner yielded its address")
	}
	if n.Addr() != BaseAddress {
		t.Fatalf("winner moved to %d", n.Addr())
	}
	// The winner re-asserts so the loser hears it and backs off.
	if len(rivalRx.frames) == 0 {
		t.Fatal("no re-assertion heard")
	}
}

func TestClaim_Exhaustion(t *testing.T) {
	bus := can.NewChainBus()
	n := newTestNode(t, bus, 0, 12)

	for i := 0; i < maxClaimAttempts; i++ {
		n.mu.Lock()
		n.claimAttempts++
		n.mu.Unlock()
	}
	n.BeginAddressClaim()
	if err := n.ClaimAddress(); err == nil {
		t.Fatal("claim succeeded past the retry budget")
	}
	if got := n.Faults().GetLastError(); got != FaultAddrExhausted {
		t.Fatalf("fault = %v, want %v", got, FaultAddrExhausted)
	}
}

func TestEnumeration_MasterCollectsRoster(t *testing.T) {
	bus := can.NewChainBus()
	master := newTestNode(t, bus, 0, 12)
	slave := newTestNode(t, bus, 1, 8)
	claim(t, master)
	claim(t, slave)

	master.RequestInfo()

	if !master.InfoComplete() {
		t.Fatal("roster incomplete after slave answered")
	}
	if err := master.InitAcquisition(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := master.Store().GetInt(param.ModNum); got != 2 {
		t.Fatalf("modnum = %d, want 2", got)
	}
	if got := master.Store().GetInt(param.TotalCells); got != 20 {
		t.Fatalf("totalcells = %d, want 20", got)
	}
}

func TestSelfTest_MapsDiagnosticsToFaults(t *testing.T) {
	bus := can.NewChainBus()
	n := newTestNode(t, bus, 0, 12)
	claim(t, n)

	n.cells.(*SimCells).InjectTestFailure(ErrMuxShort)
	if err := n.RunSelfTest(); err == nil {
		t.Fatal("self test passed with a shorted mux")
	}
	if got := n.Faults().GetLastError(); got != FaultMuxShort {
		t.Fatalf("fault = %v, want %v", got, FaultMuxShort)
	}
	if got := n.Faults().GetLastError(); got != FaultMuxShort {
		t.Fatal("latch consumed by read")
	}

	n.ClearFault()
	n.cells.(*SimCells).InjectTestFailure(ErrBalancerFail)
	n.RunSelfTest()
	if got := n.Faults().GetLastError(); got != FaultBalancerFail {
		t.Fatalf("fault = %v, want %v", got, FaultBalancerFail)
	}
}

func TestControl_ResetTargetsOneNode(t *testing.T) {
	bus := can.NewChainBus()
	a := newTestNode(t, bus, 0, 12)
	b := newTestNode(t, bus, 1, 12)
	claim(t, a)
	claim(t, b)

	saved := 0
	a.SetSaveHook(func() error { saved++; return nil })
	bSaved := 0
	b.SetSaveHook(func() error { bSaved++; return nil })

	operator := bus.NewPort()
	frame := can.NewFrame(PGNControl, 0, []byte{CtrlSaveParams, a.Addr()})
	operator.Send(frame.ID, frame.Data[:frame.Len])

	if saved != 1 || bSaved != 0 {
		t.Fatalf("save counts = %d/%d, want 1/0", saved, bSaved)
	}

	frame = can.NewFrame(PGNControl, 0, []byte{CtrlSaveParams, BroadcastAddr})
	operator.Send(frame.ID, frame.Data[:frame.Len])
	if saved != 2 || bSaved != 1 {
		t.Fatalf("broadcast save counts = %d/%d, want 2/1", saved, bSaved)
	}
}

func TestFaultBroadcast_MasterMirrorsPeer(t *testing.T) {
	bus := can.NewChainBus()
	master := newTestNode(t, bus, 0, 12)
	slave := newTestNode(t, bus, 1, 12)
	claim(t, master)
	claim(t, slave)

	slave.fault(FaultCellOvervoltage)
	slave.LatchFault()

	rec := master.Faults().Last()
	if rec.Code != FaultCellOvervoltage {
		t.Fatalf("master register = %v, want %v", rec.Code, FaultCellOvervoltage)
	}
	if rec.Node != slave.Addr() {
		t.Fatalf("origin = %d, want %d", rec.Node, slave.Addr())
	}
}

type frameRecorder struct {
	frames []can.Frame
}

func (r *frameRecorder) HandleRx(f can.Frame) { r.frames = append(r.frames, f) }
func (r *frameRecorder) HandleClear()         {}

func TestIdle_SleepTimeoutPowersDown(t *testing.T) {
	bus := can.NewChainBus()
	n := newTestNode(t, bus, 0, 12)
	// 0.0001 h is 360 ms; the timer arms when Idle is entered.
	n.Store().SetFloat(param.SleepTimeout, 0.0001)

	down := make(chan struct{}, 1)
	// The Idle self-transition can fire more than once before shutdown.
	n.SetPowerDownHook(func() {
		select {
		case down <- struct{}{}:
		default:
		}
	})

	sm := n.Machine()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sm.Run(ctx)

	waitMode(t, n, fsm.ModeRun, 5*time.Second)
	sm.SendEvent(fsm.EvIdleDetected)
	waitMode(t, n, fsm.ModeIdle, 3*time.Second)

	select {
	case <-down:
	case <-time.After(3 * time.Second):
		t.Fatal("power-down hook never fired")
	}
}

func TestEnumeration_MissingModulesLatchError(t *testing.T) {
	bus := can.NewChainBus()
	store := param.NewStore()
	store.SetInt(param.NumChan, 12)
	// Master expects a second module that never claims an address.
	n := NewNode(NodeConfig{Ordinal: 0, ExpectModules: 2}, bus.NewPort(), store,
		NewSimCells(12, 3700), sensor.NewSim(), NewRegister(), testLogger())

	sm := n.Machine()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sm.Run(ctx)

	waitMode(t, n, fsm.ModeError, 10*time.Second)

	if got := n.Faults().GetLastError(); got != FaultInfoTimeout {
		t.Fatalf("fault = %v, want %v", got, FaultInfoTimeout)
	}
}
