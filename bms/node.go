package bms

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bms-service/bms/fsm"
	"bms-service/can"
	"bms-service/param"
	"bms-service/sensor"
)

const (
	// claimStagger spaces the initial claims along the chain so the
	// module nearest the head wins the base address.
	claimStagger = 50 * time.Millisecond
	// claimBackoff is added per retry after a conflict.
	claimBackoff = 20 * time.Millisecond

	maxClaimAttempts = 8
	maxInfoAttempts  = 3
)

// remoteModule is what the master learns about one chain peer.
type remoteModule struct {
	Ordinal   uint8
	CellCount uint8
	TempCount uint8
	Stats     moduleStats
	LastSeen  time.Time
}

// Node is one BMS module on the chain: its parameter store, its cell
// source and its view of the other modules. It implements fsm.NodeActions
// for the mode machine and can.Callback for the bus.
type Node struct {
	ordinal int
	hw      can.Hardware
	store   *param.Store
	cells   CellSource
	current sensor.CurrentSource
	faults  *Register
	log     *slog.Logger

	sm *fsm.StateMachine

	// Hooks installed by the service, nil when the node runs bare.
	saveParams func() error
	powerDown  func()

	// Held while balancing can be active so a host suspend cannot leave
	// switches closed.
	inhibitor *SuspendInhibitor

	mu            sync.Mutex
	addr          uint8
	claimed       map[uint8]uint8 // chain address -> claimant ordinal
	conflict      bool
	claimAttempts int
	infoAttempts  int
	expectModules int
	modules       map[uint8]*remoteModule

	running bool
	mode    int

	acq acquisition
	soc socEstimator
}

// NodeConfig carries the static identity of a node.
type NodeConfig struct {
	// Ordinal is the module's position in the chain, 0 at the head.
	Ordinal int
	// ExpectModules is the chain length the master waits for during
	// enumeration. Zero accepts whatever claimed an address.
	ExpectModules int
}

// NewNode wires a node to its bus port and peripherals. The returned node
// is inert until its state machine runs and the scheduler ticks it.
func NewNode(cfg NodeConfig, hw can.Hardware, store *param.Store, cells CellSource, current sensor.CurrentSource, faults *Register, log *slog.Logger) *Node {
	n := &Node{
		ordinal:       cfg.Ordinal,
		hw:            hw,
		store:         store,
		cells:         cells,
		current:       current,
		faults:        faults,
		log:           log.With("node", cfg.Ordinal),
		claimed:       make(map[uint8]uint8),
		expectModules: cfg.ExpectModules,
		modules:       make(map[uint8]*remoteModule),
	}
	n.registerFilters()
	hw.AddCallback(n)
	return n
}

// Machine builds and attaches the node's state machine. Kept separate from
// NewNode so tests can drive NodeActions directly.
func (n *Node) Machine() *fsm.StateMachine {
	n.sm = fsm.New(n, n.log)
	return n.sm
}

// SetSaveHook installs the callback run on a save-parameters command.
func (n *Node) SetSaveHook(fn func() error) { n.saveParams = fn }

// SetPowerDownHook installs the callback run on sleep timeout.
func (n *Node) SetPowerDownHook(fn func()) { n.powerDown = fn }

func (n *Node) registerFilters() {
	for _, pgn := range []uint32{
		PGNAddressClaimed, PGNRequest, PGNModuleInfo, PGNModuleStats,
		PGNFault, PGNControl,
	} {
		n.hw.RegisterUserMessage(can.EncodeID(can.DefaultPriority, pgn, 0))
	}
}

// Addr returns the claimed chain address, 0 before negotiation completes.
func (n *Node) Addr() uint8 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.addr
}

// Store exposes the node's parameter table.
func (n *Node) Store() *param.Store { return n.store }

// Faults exposes the node's error register.
func (n *Node) Faults() *Register { return n.faults }

// Mode returns the last published operating mode.
func (n *Node) Mode() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mode
}

func (n *Node) send(pgn uint32, data []byte) {
	n.mu.Lock()
	src := n.addr
	n.mu.Unlock()
	if err := n.hw.Send(can.EncodeID(can.DefaultPriority, pgn, src), data); err != nil {
		n.log.Warn("tx dropped", "pgn", fmt.Sprintf("%05X", pgn), "error", err)
	}
}

// fault records a fault in the register. The register keeps the code so
// LatchFault can broadcast it when the mode machine reaches Error.
func (n *Node) fault(code FaultCode) {
	n.mu.Lock()
	addr := n.addr
	n.mu.Unlock()
	n.faults.Set(code, addr)
	n.store.SetInt(param.LastErr, int(code))
	n.store.SetInt(param.ErrInfo, int(addr))
}

// ----------------------------------------------------------------------
// fsm.NodeActions
// ----------------------------------------------------------------------

func (n *Node) HardwareCheck() error {
	want := n.store.GetInt(param.NumChan)
	have := n.cells.CellCount()
	if have < want {
		n.fault(FaultHardwareCheck)
		return fmt.Errorf("bms: %d cell channels wired, numchan=%d", have, want)
	}
	if _, _, err := n.cells.ReadTemps(); err != nil {
		n.fault(FaultHardwareCheck)
		return err
	}
	return nil
}

func (n *Node) BeginAddressClaim() {
	n.mu.Lock()
	n.conflict = false
	if n.addr != 0 {
		delete(n.claimed, n.addr)
		n.addr = 0
	}
	n.mu.Unlock()
	n.store.SetInt(param.ModAddr, 0)
}

func (n *Node) ClaimDelay() time.Duration {
	n.mu.Lock()
	attempt := n.claimAttempts
	n.mu.Unlock()
	return time.Duration(n.ordinal)*claimStagger + time.Duration(attempt)*claimBackoff
}

func (n *Node) ClaimAddress() error {
	n.mu.Lock()
	n.claimAttempts++
	if n.claimAttempts > maxClaimAttempts {
		n.mu.Unlock()
		n.fault(FaultAddrExhausted)
		return fmt.Errorf("bms: gave up claiming after %d attempts", maxClaimAttempts)
	}
	addr := BaseAddress
	for {
		if _, taken := n.claimed[addr]; !taken {
			break
		}
		addr++
		if addr == BroadcastAddr {
			n.mu.Unlock()
			n.fault(FaultAddrExhausted)
			return fmt.Errorf("bms: no free chain address")
		}
	}
	n.addr = addr
	n.claimed[addr] = uint8(n.ordinal)
	n.mu.Unlock()

	n.store.SetInt(param.ModAddr, int(addr))
	n.log.Info("claiming address", "addr", addr)
	n.send(PGNAddressClaimed, addressClaim{
		Ordinal:   uint8(n.ordinal),
		CellCount: uint8(n.cells.CellCount()),
	}.encode())
	return nil
}

func (n *Node) HasConflict() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conflict
}

func (n *Node) IsFirst() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.addr == BaseAddress
}

func (n *Node) RequestInfo() {
	n.mu.Lock()
	n.infoAttempts++
	n.mu.Unlock()
	n.send(PGNRequest, encodeRequest(PGNModuleInfo))
}

func (n *Node) InfoComplete() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.infoCompleteLocked()
}

func (n *Node) InfoRetriesExhausted() bool {
	n.mu.Lock()
	exhausted := n.infoAttempts >= maxInfoAttempts
	n.mu.Unlock()
	if exhausted {
		n.fault(FaultInfoTimeout)
	}
	return exhausted
}

func (n *Node) InitAcquisition() error {
	n.mu.Lock()
	total := n.cells.CellCount()
	for _, m := range n.modules {
		total += int(m.CellCount)
	}
	modnum := len(n.modules) + 1
	n.mu.Unlock()

	n.store.SetInt(param.ModNum, modnum)
	n.store.SetInt(param.TotalCells, total)
	n.acq.reset()
	return n.soc.init(n.store, n.cells)
}

func (n *Node) RunSelfTest() error {
	err := n.cells.SelfTest()
	switch {
	case err == nil:
		return nil
	case err == ErrMuxShort:
		n.fault(FaultMuxShort)
	case err == ErrBalancerFail:
		n.fault(FaultBalancerFail)
	default:
		n.fault(FaultSelfTest)
	}
	return err
}

func (n *Node) EnterRun() {
	n.mu.Lock()
	n.running = true
	n.mu.Unlock()
	if inh, err := NewSuspendInhibitor("BMS_BALANCE_INHIBITOR", "CELL_BALANCING", "block"); err != nil {
		n.log.Debug("suspend inhibitor unavailable", "error", err)
	} else {
		n.mu.Lock()
		n.inhibitor = inh
		n.mu.Unlock()
	}
}

func (n *Node) ExitRun() {
	n.mu.Lock()
	n.running = false
	inh := n.inhibitor
	n.inhibitor = nil
	n.mu.Unlock()
	if inh != nil {
		inh.Release()
	}
	// Never leave balance switches closed outside Run.
	for i := 0; i < n.cells.CellCount(); i++ {
		n.cells.SetBalance(i, BalanceNone)
		n.store.SetInt(param.CellCommand(i), int(BalanceNone))
	}
}

func (n *Node) EnterIdle() {
	n.log.Info("pack idle", "idc", n.store.Get(param.Idc))
}

func (n *Node) SleepAfter() time.Duration {
	return time.Duration(n.store.GetFloat(param.SleepTimeout) * float64(time.Hour))
}

func (n *Node) PowerDown() {
	n.log.Info("sleep timeout reached, powering down")
	if n.powerDown != nil {
		n.powerDown()
	}
}

func (n *Node) LatchFault() {
	rec := n.faults.Last()
	if rec.Code == FaultNone {
		// Fault entered without a recorded cause. Treat it as a failed
		// self test so the register is never empty in Error.
		rec = Record{Code: FaultSelfTest, Node: n.Addr()}
		n.faults.Set(rec.Code, rec.Node)
	}
	n.store.SetInt(param.LastErr, int(rec.Code))
	n.send(PGNFault, encodeFault(rec))
	n.log.Error("fault latched", "code", rec.Code.String(), "origin", rec.Node)
}

func (n *Node) ClearFault() {
	n.faults.Clear()
	n.store.SetInt(param.LastErr, int(FaultNone))
	n.store.SetInt(param.ErrInfo, 0)
	n.mu.Lock()
	n.claimAttempts = 0
	n.infoAttempts = 0
	n.mu.Unlock()
}

func (n *Node) OnModeChange(mode int) {
	n.mu.Lock()
	n.mode = mode
	n.mu.Unlock()
	n.store.SetInt(param.OpMode, mode)
}

// ----------------------------------------------------------------------
// can.Callback
// ----------------------------------------------------------------------

func (n *Node) HandleRx(f can.Frame) {
	h := can.DecodeID(f.ID)
	n.mu.Lock()
	self := n.addr
	n.mu.Unlock()
	if self != 0 && h.Source == self && h.PGN != PGNAddressClaimed {
		return // own broadcast echoed back
	}

	switch h.PGN {
	case PGNAddressClaimed:
		n.handleClaim(h, f)
	case PGNRequest:
		n.handleRequest(f)
	case PGNModuleInfo:
		n.handleModuleInfo(h, f)
	case PGNModuleStats:
		n.handleModuleStats(h, f)
	case PGNFault:
		n.handleFault(h, f)
	case PGNControl:
		n.handleControl(f)
	}
}

// HandleClear runs after a bus-off recovery. Claimed addresses stay valid
// per J1939, but the claim table of the peers may be stale, so the node
// re-asserts its own claim.
func (n *Node) HandleClear() {
	n.mu.Lock()
	addr := n.addr
	n.conflict = false
	n.mu.Unlock()
	if addr == 0 {
		return
	}
	n.log.Warn("bus recovered, re-asserting address claim", "addr", addr)
	n.send(PGNAddressClaimed, addressClaim{
		Ordinal:   uint8(n.ordinal),
		CellCount: uint8(n.cells.CellCount()),
	}.encode())
}

func (n *Node) handleClaim(h can.Header, f can.Frame) {
	claim, ok := decodeAddressClaim(f)
	if !ok || claim.Ordinal == uint8(n.ordinal) {
		return
	}
	n.mu.Lock()
	if h.Source == n.addr && n.addr != 0 {
		// Someone else claimed our address. The lower ordinal keeps it.
		if claim.Ordinal < uint8(n.ordinal) {
			n.conflict = true
			n.claimed[h.Source] = claim.Ordinal
			n.addr = 0
			n.mu.Unlock()
			n.log.Warn("address conflict lost", "addr", h.Source, "winner", claim.Ordinal)
			n.store.SetInt(param.ModAddr, 0)
			if n.sm != nil {
				n.sm.SendEvent(fsm.EvAddrConflict)
			}
			return
		}
		// We win; re-assert the claim so the loser backs off.
		n.mu.Unlock()
		n.send(PGNAddressClaimed, addressClaim{
			Ordinal:   uint8(n.ordinal),
			CellCount: uint8(n.cells.CellCount()),
		}.encode())
		return
	}
	n.claimed[h.Source] = claim.Ordinal
	n.mu.Unlock()
}

func (n *Node) handleRequest(f can.Frame) {
	pgn, ok := decodeRequest(f)
	if !ok || n.Addr() == 0 {
		return
	}
	switch pgn {
	case PGNModuleInfo:
		n.send(PGNModuleInfo, moduleInfo{
			Ordinal:   uint8(n.ordinal),
			CellCount: uint8(n.cells.CellCount()),
			TempCount: 2,
		}.encode())
	case PGNFault:
		n.send(PGNFault, encodeFault(n.faults.Last()))
	}
}

func (n *Node) handleModuleInfo(h can.Header, f can.Frame) {
	info, ok := decodeModuleInfo(f)
	if !ok {
		return
	}
	n.mu.Lock()
	if n.addr != BaseAddress {
		n.mu.Unlock()
		return // only the master keeps the roster
	}
	m := n.modules[h.Source]
	if m == nil {
		m = &remoteModule{}
		n.modules[h.Source] = m
	}
	m.Ordinal = info.Ordinal
	m.CellCount = info.CellCount
	m.TempCount = info.TempCount
	m.LastSeen = time.Now()
	complete := n.infoCompleteLocked()
	n.mu.Unlock()

	if complete && n.sm != nil {
		n.sm.SendEvent(fsm.EvInfoComplete)
	}
}

func (n *Node) infoCompleteLocked() bool {
	if n.expectModules > 0 {
		return len(n.modules)+1 >= n.expectModules
	}
	// Without a configured chain length, every other claimed address
	// must have answered.
	for addr := range n.claimed {
		if addr == n.addr {
			continue
		}
		if _, ok := n.modules[addr]; !ok {
			return false
		}
	}
	return true
}

func (n *Node) handleModuleStats(h can.Header, f can.Frame) {
	stats, ok := decodeModuleStats(f)
	if !ok {
		return
	}
	n.mu.Lock()
	m := n.modules[h.Source]
	if m != nil {
		m.Stats = stats
		m.LastSeen = time.Now()
	}
	master := n.addr == BaseAddress
	ord := -1
	if m != nil {
		ord = int(m.Ordinal)
	}
	n.mu.Unlock()

	if !master || ord < 0 || ord >= param.MaxModules {
		return
	}
	n.store.SetInt(param.ModuleStat(ord, param.StatUAvg), int(stats.UAvg))
	n.store.SetInt(param.ModuleStat(ord, param.StatUMin), int(stats.UMin))
	n.store.SetInt(param.ModuleStat(ord, param.StatUMax), int(stats.UMax))
	n.store.SetInt(param.ModuleStat(ord, param.StatTempMin), int(stats.TempMin))
	n.store.SetInt(param.ModuleStat(ord, param.StatTempMax), int(stats.TempMax))
}

// handleFault mirrors a peer's latched fault into the master's register so
// the whole pack reports a single last error with the faulting node's
// address attached.
func (n *Node) handleFault(h can.Header, f can.Frame) {
	rec, ok := decodeFault(f)
	if !ok || rec.Code == FaultNone {
		return
	}
	n.mu.Lock()
	master := n.addr == BaseAddress
	n.mu.Unlock()
	if !master {
		return
	}
	n.faults.Set(rec.Code, rec.Node)
	n.store.SetInt(param.LastErr, int(rec.Code))
	n.store.SetInt(param.ErrInfo, int(rec.Node))
	n.log.Error("peer fault", "code", rec.Code.String(), "origin", rec.Node)
}

func (n *Node) handleControl(f can.Frame) {
	if f.Len < 2 {
		return
	}
	target := f.Data[1]
	if target != BroadcastAddr && target != n.Addr() {
		return
	}
	switch f.Data[0] {
	case CtrlResetError:
		n.log.Info("operator reset received")
		if n.sm != nil {
			n.sm.SendEvent(fsm.EvOperatorReset)
		}
	case CtrlSaveParams:
		if n.saveParams != nil {
			if err := n.saveParams(); err != nil {
				n.log.Error("parameter save failed", "error", err)
			}
		}
	}
}
