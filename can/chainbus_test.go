package can

import "testing"

type recorder struct {
	frames  []Frame
	cleared int
}

func (r *recorder) HandleRx(f Frame) { r.frames = append(r.frames, f) }
func (r *recorder) HandleClear()     { r.cleared++ }

func TestChainBus_DeliversToOtherPorts(t *testing.T) {
	bus := NewChainBus()
	a := bus.NewPort()
	b := bus.NewPort()

	rb := &recorder{}
	b.RegisterUserMessage(EncodeID(DefaultPriority, 0x00EE00, 0))
	b.AddCallback(rb)

	ra := &recorder{}
	a.RegisterUserMessage(EncodeID(DefaultPriority, 0x00EE00, 0))
	a.AddCallback(ra)

	id := EncodeID(DefaultPriority, 0x00EE00, 10)
	if err := a.Send(id, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if len(rb.frames) != 1 {
		t.Fatalf("Expected 1 frame at port b, got %d", len(rb.frames))
	}
	if rb.frames[0].ID != id || rb.frames[0].Len != 3 {
		t.Errorf("Unexpected frame: %v", rb.frames[0])
	}
	if len(ra.frames) != 0 {
		t.Errorf("Sender must not receive its own frame, got %d", len(ra.frames))
	}
}

func TestChainBus_FilterMasksSourceAddress(t *testing.T) {
	bus := NewChainBus()
	a := bus.NewPort()
	b := bus.NewPort()

	r := &recorder{}
	// Registered with source 0; frames from any source must be admitted.
	b.RegisterUserMessage(EncodeID(DefaultPriority, 0x00FF02, 0))
	b.AddCallback(r)

	a.Send(EncodeID(DefaultPriority, 0x00FF02, 12), []byte{0})
	a.Send(EncodeID(DefaultPriority, 0x00FF03, 12), []byte{0})

	if len(r.frames) != 1 {
		t.Fatalf("Expected exactly the matching PGN admitted, got %d frames", len(r.frames))
	}
	if DecodeID(r.frames[0].ID).PGN != 0x00FF02 {
		t.Errorf("Wrong frame admitted: %v", r.frames[0])
	}
}

func TestChainBus_CallbackOrderIsRegistrationOrder(t *testing.T) {
	bus := NewChainBus()
	a := bus.NewPort()
	b := bus.NewPort()

	var order []int
	first := callbackFunc{rx: func(Frame) { order = append(order, 1) }}
	second := callbackFunc{rx: func(Frame) { order = append(order, 2) }}
	b.RegisterUserMessage(EncodeID(DefaultPriority, 0x00FF10, 0))
	b.AddCallback(first)
	b.AddCallback(second)

	a.Send(EncodeID(DefaultPriority, 0x00FF10, 11), []byte{0xAA})

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("Expected dispatch order [1 2], got %v", order)
	}
}

func TestChainBus_BusOffAndRestart(t *testing.T) {
	bus := NewChainBus()
	a := bus.NewPort()
	b := bus.NewPort()

	r := &recorder{}
	b.RegisterUserMessage(EncodeID(DefaultPriority, 0x00FF02, 0))
	b.AddCallback(r)

	bus.BusOff()
	if err := a.Send(EncodeID(DefaultPriority, 0x00FF02, 10), []byte{1}); err != ErrTxOverflow {
		t.Errorf("Expected ErrTxOverflow during bus-off, got %v", err)
	}

	bus.Restart()
	if r.cleared != 1 {
		t.Errorf("Expected HandleClear after restart, got %d", r.cleared)
	}
	if err := a.Send(EncodeID(DefaultPriority, 0x00FF02, 10), []byte{1}); err != nil {
		t.Errorf("Send after restart failed: %v", err)
	}
	if len(r.frames) != 1 {
		t.Errorf("Expected 1 frame after restart, got %d", len(r.frames))
	}
}

// callbackFunc adapts bare functions to the Callback interface for tests.
type callbackFunc struct {
	rx func(Frame)
}

func (c callbackFunc) HandleRx(f Frame) { c.rx(f) }
func (c callbackFunc) HandleClear()     {}
