package bms

import "sync"

// FaultCode enumerates the hard faults tracked by the error register. The
// numeric values are broadcast over CAN and shown on displays, keep them
// stable.
type FaultCode uint8

const (
	FaultNone FaultCode = iota
	FaultMuxShort
	FaultBalancerFail
	FaultCellPolarity
	FaultCellOvervoltage
	FaultAddrConflict
	FaultAddrExhausted
	FaultInfoTimeout
	FaultSelfTest
	FaultHardwareCheck
)

func (f FaultCode) String() string {
	switch f {
	case FaultNone:
		return "NONE"
	case FaultMuxShort:
		return "MUX_SHORT"
	case FaultBalancerFail:
		return "BALANCER_FAIL"
	case FaultCellPolarity:
		return "CELL_POLARITY"
	case FaultCellOvervoltage:
		return "CELL_OVERVOLTAGE"
	case FaultAddrConflict:
		return "ADDR_CONFLICT"
	case FaultAddrExhausted:
		return "ADDR_EXHAUSTED"
	case FaultInfoTimeout:
		return "INFO_TIMEOUT"
	case FaultSelfTest:
		return "SELF_TEST"
	case FaultHardwareCheck:
		return "HARDWARE_CHECK"
	default:
		return "UNKNOWN"
	}
}

// ShortCode returns the display abbreviation rendered next to the faulting
// node id on attached dashboards.
func (f FaultCode) ShortCode() string {
	switch f {
	case FaultMuxShort:
		return "MSH"
	case FaultBalancerFail:
		return "BAL"
	case FaultCellPolarity:
		return "CPOL"
	case FaultCellOvervoltage:
		return "COV"
	case FaultAddrConflict, FaultAddrExhausted:
		return "ADR"
	case FaultInfoTimeout:
		return "NFO"
	case FaultSelfTest, FaultHardwareCheck:
		return "TST"
	default:
		return ""
	}
}

// faultDescriptions back the operator-facing fault events.
var faultDescriptions = map[FaultCode]string{
	FaultMuxShort:        "Multiplexer short circuit",
	FaultBalancerFail:    "Balance driver failure",
	FaultCellPolarity:    "Cell reverse polarity",
	FaultCellOvervoltage: "Cell overvoltage",
	FaultAddrConflict:    "Address negotiation conflict",
	FaultAddrExhausted:   "No free chain address",
	FaultInfoTimeout:     "Module enumeration timeout",
	FaultSelfTest:        "Self test failure",
	FaultHardwareCheck:   "Boot hardware check failure",
}

// Describe returns the operator-facing description of a fault.
func (f FaultCode) Describe() string {
	if d, ok := faultDescriptions[f]; ok {
		return d
	}
	return f.String()
}

// Record is one latched fault with its originating node address.
type Record struct {
	Code FaultCode
	Node uint8
}

// Register is the central last-error register. One outstanding fault is
// tracked at a time, last-write-wins; recovery is only ever explicit.
type Register struct {
	mu       sync.Mutex
	last     Record
	handlers []func(Record, bool)
}

// NewRegister returns an empty register.
func NewRegister() *Register {
	return &Register{}
}

// Notify appends a handler invoked on every Set (active=true) and Clear
// (active=false). Handlers run on the caller's goroutine.
func (r *Register) Notify(fn func(rec Record, active bool)) {
	r.mu.Lock()
	r.handlers = append(r.handlers, fn)
	r.mu.Unlock()
}

// Set latches a fault, replacing any previous one.
func (r *Register) Set(code FaultCode, node uint8) {
	r.mu.Lock()
	rec := Record{Code: code, Node: node}
	r.last = rec
	handlers := r.handlers
	r.mu.Unlock()

	for _, fn := range handlers {
		fn(rec, true)
	}
}

// Clear resets the register to FaultNone.
func (r *Register) Clear() {
	r.mu.Lock()
	rec := r.last
	r.last = Record{}
	handlers := r.handlers
	r.mu.Unlock()

	if rec.Code == FaultNone {
		return
	}
	for _, fn := range handlers {
		fn(rec, false)
	}
}

// GetLastError returns the latched fault code. Repeated calls without an
// intervening fault or clear return the same value.
func (r *Register) GetLastError() FaultCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last.Code
}

// Last returns the full latched record.
func (r *Register) Last() Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
