package fsm

import "github.com/librescoot/librefsm"

// State represents a state in the node FSM.
type State = librefsm.StateID

// State constants. StateOperational is the parent of every mode except
// Error so the fault transition applies everywhere.
const (
	StateOperational State = "operational"
	StateBoot        State = "boot"
	StateGetAddr     State = "get_addr"
	StateSetAddr     State = "set_addr"
	StateCondClaimed State = "cond_claimed"
	StateCondRole    State = "cond_role"
	StateReqInfo     State = "req_info"
	StateRecvInfo    State = "recv_info"
	StateCondInfo    State = "cond_info"
	StateInit        State = "init"
	StateSelfTest    State = "self_test"
	StateRun         State = "run"
	StateIdle        State = "idle"
	StateError       State = "error"
)

// Operating mode numbers as published through the opmode spot value and
// over CAN. The order is fixed: Boot=0 through Error=9.
const (
	ModeBoot = iota
	ModeGetAddr
	ModeSetAddr
	ModeReqInfo
	ModeRecvInfo
	ModeInit
	ModeSelfTest
	ModeRun
	ModeIdle
	ModeError
)

// ModeValue maps a state to its operating mode number. Transient condition
// states and parents have no mode of their own and return -1.
func ModeValue(s State) int {
	switch s {
	case StateBoot:
		return ModeBoot
	case StateGetAddr:
		return ModeGetAddr
	case StateSetAddr:
		return ModeSetAddr
	case StateReqInfo:
		return ModeReqInfo
	case StateRecvInfo:
		return ModeRecvInfo
	case StateInit:
		return ModeInit
	case StateSelfTest:
		return ModeSelfTest
	case StateRun:
		return ModeRun
	case StateIdle:
		return ModeIdle
	case StateError:
		return ModeError
	default:
		return -1
	}
}
