package fsm

import (
	"context"
	"log/slog"
	"time"

	"github.com/librescoot/librefsm"
)

// Timing constants
const (
	timeBoot        = 100 * time.Millisecond
	timeClaimSettle = 250 * time.Millisecond
	timeInfoSend    = 50 * time.Millisecond
	timeRecvInfo    = 500 * time.Millisecond
)

// NodeActions is the interface to the node hardware and chain protocol.
// The FSM sequences these operations; their mechanics live in the node.
type NodeActions interface {
	// Boot / addressing
	HardwareCheck() error
	BeginAddressClaim()
	ClaimDelay() time.Duration
	ClaimAddress() error
	HasConflict() bool
	IsFirst() bool

	// Enumeration (master only)
	RequestInfo()
	InfoComplete() bool
	InfoRetriesExhausted() bool

	// Acquisition lifecycle
	InitAcquisition() error
	RunSelfTest() error
	EnterRun()
	ExitRun()
	EnterIdle()
	SleepAfter() time.Duration
	PowerDown()

	// Faults
	LatchFault()
	ClearFault()

	// Telemetry
	OnModeChange(mode int)
}

// fsmData holds the FSM-side state shared by the state callbacks.
type fsmData struct {
	actions NodeActions
	log     *slog.Logger
	ctx     context.Context
}

// StateMachine wraps librefsm.Machine for one BMS node.
type StateMachine struct {
	machine *librefsm.Machine
	data    *fsmData
	log     *slog.Logger
}

// New creates the node state machine. It does not start until Run.
func New(actions NodeActions, log *slog.Logger) *StateMachine {
	data := &fsmData{
		actions: actions,
		log:     log,
	}

	def := buildDefinition(data)

	machine, err := def.Build(
		librefsm.WithData(data),
		librefsm.WithLogger(log),
		librefsm.WithStateChangeCallback(func(from, to librefsm.StateID) {
			log.Info("mode transition", "from", from, "to", to)
			if mode := ModeValue(to); mode >= 0 {
				actions.OnModeChange(mode)
			}
		}),
	)
	if err != nil {
		log.Error("failed to build FSM", "error", err)
		return nil
	}

	return &StateMachine{
		machine: machine,
		data:    data,
		log:     log,
	}
}

// Run starts the FSM event loop and blocks until ctx is done.
func (sm *StateMachine) Run(ctx context.Context) {
	sm.log.Info("state machine started", "initial_state", StateBoot)
	sm.data.ctx = ctx

	if err := sm.machine.Start(ctx); err != nil {
		sm.log.Error("failed to start FSM", "error", err)
		return
	}

	<-ctx.Done()
	sm.machine.Stop()
	sm.log.Info("state machine stopping")
}

// SendEvent sends an event to the FSM.
func (sm *StateMachine) SendEvent(id librefsm.EventID) {
	sm.machine.Send(librefsm.Event{ID: id})
}

// State returns the current state.
func (sm *StateMachine) State() State {
	return sm.machine.CurrentState()
}

// IsInState checks if the FSM is in the given state or any of its children.
func (sm *StateMachine) IsInState(id State) bool {
	return sm.machine.IsInState(id)
}

// buildDefinition creates the librefsm definition for the node FSM.
func buildDefinition(data *fsmData) *librefsm.Definition {
	return librefsm.NewDefinition().

		// Operational is the parent of every non-error mode so a single
		// fault transition covers them all.
		State(StateOperational,
			librefsm.WithDefaultChild(StateBoot),
		).

		// Boot - hardware self-check, then unconditionally on to address
		// negotiation.
		State(StateBoot,
			librefsm.WithParent(StateOperational),
			librefsm.WithTimeout(timeBoot, EvBootDone),
			librefsm.WithOnEnter(func(c *librefsm.Context) error {
				d := c.Data.(*fsmData)
				if err := d.actions.HardwareCheck(); err != nil {
					d.log.Error("hardware check failed", "error", err)
					c.Send(librefsm.Event{ID: EvFault})
				}
				return nil
			}),
		).

		// GetAddr - listen for address-claimed broadcasts, staggered by
		// chain ordinal so the module nearest the head claims first.
		State(StateGetAddr,
			librefsm.WithParent(StateOperational),
			librefsm.WithOnEnter(func(c *librefsm.Context) error {
				d := c.Data.(*fsmData)
				d.actions.BeginAddressClaim()
				c.StartTimer("claim_delay", d.actions.ClaimDelay(), librefsm.Event{ID: EvClaimDelayElapsed})
				return nil
			}),
		).

		// SetAddr - claim the lowest free address and let the claim
		// settle on the bus before trusting it.
		State(StateSetAddr,
			librefsm.WithParent(StateOperational),
			librefsm.WithTimeout(timeClaimSettle, EvClaimSettled),
			librefsm.WithOnEnter(func(c *librefsm.Context) error {
				d := c.Data.(*fsmData)
				if err := d.actions.ClaimAddress(); err != nil {
					d.log.Error("address claim failed", "error", err)
					c.Send(librefsm.Event{ID: EvFault})
				}
				return nil
			}),
		).

		// Condition: a conflicting claim may have arrived while settling.
		ConditionState(StateCondClaimed,
			func(c *librefsm.Context) librefsm.StateID {
				d := c.Data.(*fsmData)
				if d.actions.HasConflict() {
					return StateGetAddr
				}
				return StateCondRole
			},
			librefsm.WithParent(StateOperational),
		).

		// Condition: only the first module of the chain enumerates the
		// others; slaves answer requests from any mode.
		ConditionState(StateCondRole,
			func(c *librefsm.Context) librefsm.StateID {
				d := c.Data.(*fsmData)
				if d.actions.IsFirst() {
					return StateReqInfo
				}
				return StateInit
			},
			librefsm.WithParent(StateOperational),
		).

		// ReqInfo - master broadcasts the module info request.
		State(StateReqInfo,
			librefsm.WithParent(StateOperational),
			librefsm.WithTimeout(timeInfoSend, EvInfoRequested),
			librefsm.WithOnEnter(func(c *librefsm.Context) error {
				d := c.Data.(*fsmData)
				d.actions.RequestInfo()
				return nil
			}),
		).

		// RecvInfo - collect responses until every claimed address has
		// answered or the window closes.
		State(StateRecvInfo,
			librefsm.WithParent(StateOperational),
			librefsm.WithTimeout(timeRecvInfo, EvInfoTimeout),
		).

		// Condition: decide between done, retry and giving up.
		ConditionState(StateCondInfo,
			func(c *librefsm.Context) librefsm.StateID {
				d := c.Data.(*fsmData)
				if d.actions.InfoComplete() {
					return StateInit
				}
				if d.actions.InfoRetriesExhausted() {
					return StateError
				}
				return StateReqInfo
			},
			librefsm.WithParent(StateOperational),
		).

		// Init - bring up the acquisition path.
		State(StateInit,
			librefsm.WithParent(StateOperational),
			librefsm.WithOnEnter(func(c *librefsm.Context) error {
				d := c.Data.(*fsmData)
				if err := d.actions.InitAcquisition(); err != nil {
					d.log.Error("acquisition init failed", "error", err)
					c.Send(librefsm.Event{ID: EvFault})
					return nil
				}
				c.Send(librefsm.Event{ID: EvInitDone})
				return nil
			}),
		).

		// SelfTest - ADC and balance-driver diagnostics, run once.
		State(StateSelfTest,
			librefsm.WithParent(StateOperational),
			librefsm.WithOnEnter(func(c *librefsm.Context) error {
				d := c.Data.(*fsmData)
				if err := d.actions.RunSelfTest(); err != nil {
					d.log.Error("self test failed", "error", err)
					c.Send(librefsm.Event{ID: EvSelfTestFailed})
					return nil
				}
				c.Send(librefsm.Event{ID: EvSelfTestPassed})
				return nil
			}),
		).

		// Run - the acquisition loop itself runs on the scheduler; the
		// FSM only gates it.
		State(StateRun,
			librefsm.WithParent(StateOperational),
			librefsm.WithOnEnter(func(c *librefsm.Context) error {
				c.Data.(*fsmData).actions.EnterRun()
				return nil
			}),
			librefsm.WithOnExit(func(c *librefsm.Context) error {
				c.Data.(*fsmData).actions.ExitRun()
				return nil
			}),
		).

		// Idle - acquisition-heavy work and balancing are suspended; a
		// configured sleep timeout powers the node down entirely.
		State(StateIdle,
			librefsm.WithParent(StateOperational),
			librefsm.WithOnEnter(func(c *librefsm.Context) error {
				d := c.Data.(*fsmData)
				d.actions.EnterIdle()
				if after := d.actions.SleepAfter(); after > 0 {
					c.StartTimer("sleep", after, librefsm.Event{ID: EvSleepTimeout})
				}
				return nil
			}),
		).

		// Error - latch the fault and wait for the operator.
		State(StateError,
			librefsm.WithOnEnter(func(c *librefsm.Context) error {
				c.Data.(*fsmData).actions.LatchFault()
				return nil
			}),
		).

		// ================================================================
		// Transitions
		// ================================================================

		Transition(StateOperational, EvFault, StateError).

		Transition(StateBoot, EvBootDone, StateGetAddr).

		Transition(StateGetAddr, EvClaimDelayElapsed, StateSetAddr).

		Transition(StateSetAddr, EvClaimSettled, StateCondClaimed).
		Transition(StateSetAddr, EvAddrConflict, StateGetAddr).

		Transition(StateReqInfo, EvInfoRequested, StateRecvInfo).

		Transition(StateRecvInfo, EvInfoComplete, StateInit).
		Transition(StateRecvInfo, EvInfoTimeout, StateCondInfo).

		Transition(StateInit, EvInitDone, StateSelfTest).

		Transition(StateSelfTest, EvSelfTestPassed, StateRun).
		Transition(StateSelfTest, EvSelfTestFailed, StateError).

		Transition(StateRun, EvIdleDetected, StateIdle).

		Transition(StateIdle, EvCurrentResumed, StateRun).
		Transition(StateIdle, EvSleepTimeout, StateIdle,
			librefsm.WithAction(func(c *librefsm.Context) error {
				c.Data.(*fsmData).actions.PowerDown()
				return nil
			}),
		).

		// Recovery is never automatic: only an operator reset leaves
		// Error, restarting the whole negotiation sequence.
		Transition(StateError, EvOperatorReset, StateBoot,
			librefsm.WithAction(func(c *librefsm.Context) error {
				c.Data.(*fsmData).actions.ClearFault()
				return nil
			}),
		).

		Initial(StateOperational)
}
