package fsm

import "github.com/librescoot/librefsm"

// Events driving the node FSM. Timeout events are raised by state timers,
// the rest arrive from the acquisition loop, the CAN handlers and the
// operator channel.
const (
	EvBootDone          librefsm.EventID = "boot_done"
	EvClaimDelayElapsed librefsm.EventID = "claim_delay_elapsed"
	EvClaimSettled      librefsm.EventID = "claim_settled"
	EvAddrConflict      librefsm.EventID = "addr_conflict"
	EvInfoRequested     librefsm.EventID = "info_requested"
	EvInfoTimeout       librefsm.EventID = "info_timeout"
	EvInfoComplete      librefsm.EventID = "info_complete"
	EvInitDone          librefsm.EventID = "init_done"
	EvSelfTestPassed    librefsm.EventID = "self_test_passed"
	EvSelfTestFailed    librefsm.EventID = "self_test_failed"
	EvIdleDetected      librefsm.EventID = "idle_detected"
	EvCurrentResumed    librefsm.EventID = "current_resumed"
	EvSleepTimeout      librefsm.EventID = "sleep_timeout"
	EvFault             librefsm.EventID = "fault"
	EvOperatorReset     librefsm.EventID = "operator_reset"
)
