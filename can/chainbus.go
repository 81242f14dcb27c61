package can

import (
	"errors"
	"sync"
)

// ErrTxOverflow is returned by Send when the simulated transmit FIFO is
// full, e.g. while the bus is in bus-off.
var ErrTxOverflow = errors.New("can: transmit FIFO full")

// ChainBus is an in-process bus joining the controllers of a module chain.
// Frames sent on one port are delivered synchronously to every other port
// whose acceptance filter admits them, in port attachment order.
type ChainBus struct {
	mu     sync.Mutex
	ports  []*Port
	busOff bool
}

// NewChainBus creates an empty bus.
func NewChainBus() *ChainBus {
	return &ChainBus{}
}

// NewPort attaches a controller to the bus.
func (b *ChainBus) NewPort() *Port {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := &Port{bus: b}
	b.ports = append(b.ports, p)
	return p
}

// BusOff simulates the bus entering the error state: all transmissions fail
// until Restart is called.
func (b *ChainBus) BusOff() {
	b.mu.Lock()
	b.busOff = true
	b.mu.Unlock()
}

// Restart brings the bus back from bus-off and notifies every handler so it
// can re-register filters and reset session state.
func (b *ChainBus) Restart() {
	b.mu.Lock()
	b.busOff = false
	ports := append([]*Port(nil), b.ports...)
	b.mu.Unlock()

	for _, p := range ports {
		p.callbacks.clear()
	}
}

func (b *ChainBus) send(from *Port, f Frame) error {
	b.mu.Lock()
	if b.busOff {
		b.mu.Unlock()
		return ErrTxOverflow
	}
	ports := append([]*Port(nil), b.ports...)
	b.mu.Unlock()

	for _, p := range ports {
		if p == from {
			continue
		}
		p.deliver(f)
	}
	return nil
}

// Port is one controller on the chain bus. It implements Hardware.
type Port struct {
	bus       *ChainBus
	mu        sync.Mutex
	filter    filterSet
	callbacks callbackList
}

// Send queues a frame for transmission. Payloads longer than 8 bytes are
// truncated, matching the classical CAN data field.
func (p *Port) Send(id uint32, data []byte) error {
	f := Frame{ID: id, Len: uint8(len(data))}
	if f.Len > 8 {
		f.Len = 8
	}
	copy(f.Data[:], data[:f.Len])
	return p.bus.send(p, f)
}

// RegisterUserMessage admits the given identifier through the acceptance
// filter. The source-address byte is treated as don't-care.
func (p *Port) RegisterUserMessage(id uint32) {
	p.mu.Lock()
	p.filter.register(id)
	p.mu.Unlock()
}

// AddCallback appends a handler to the dispatch list. Handlers run in
// registration order for every admitted frame.
func (p *Port) AddCallback(cb Callback) {
	p.mu.Lock()
	p.callbacks.add(cb)
	p.mu.Unlock()
}

func (p *Port) deliver(f Frame) {
	p.mu.Lock()
	admitted := p.filter.admits(f.ID)
	p.mu.Unlock()
	if !admitted {
		return
	}
	p.callbacks.dispatch(f)
}
