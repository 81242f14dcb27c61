package can

// Callback receives frames admitted by the acceptance filter. HandleClear is
// invoked when the bus recovers from bus-off so handlers can reset session
// state and re-register their filters.
type Callback interface {
	HandleRx(f Frame)
	HandleClear()
}

// Hardware abstracts a CAN controller attached to the chain bus. Send is
// best-effort: an error indicates the transmit FIFO rejected the frame, it
// does not confirm delivery.
type Hardware interface {
	Send(id uint32, data []byte) error
	RegisterUserMessage(id uint32)
	AddCallback(cb Callback)
}

// filterSet is the acceptance filter shared by the bus backends. Registered
// identifiers match with the source-address byte masked out, mirroring a
// hardware filter programmed with the source bits don't-care.
type filterSet struct {
	ids []uint32
}

func (fs *filterSet) register(id uint32) {
	masked := id &^ sourceMask
	for _, have := range fs.ids {
		if have == masked {
			return
		}
	}
	fs.ids = append(fs.ids, masked)
}

func (fs *filterSet) admits(id uint32) bool {
	masked := id &^ uint32(sourceMask)
	for _, have := range fs.ids {
		if have == masked {
			return true
		}
	}
	return false
}

// callbackList preserves registration order so dispatch is deterministic.
type callbackList struct {
	cbs []Callback
}

func (cl *callbackList) add(cb Callback) {
	cl.cbs = append(cl.cbs, cb)
}

func (cl *callbackList) dispatch(f Frame) {
	for _, cb := range cl.cbs {
		cb.HandleRx(f)
	}
}

func (cl *callbackList) clear() {
	for _, cb := range cl.cbs {
		cb.HandleClear()
	}
}
