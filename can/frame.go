package can

import "fmt"

// Frame represents a single extended-ID CAN frame. The BMS chain only ever
// uses 29-bit identifiers framed per the J1939 convention.
type Frame struct {
	ID   uint32
	Data [8]byte
	Len  uint8
}

// J1939 identifier layout: priority(3b)<<26 | PGN(18b)<<8 | source(8b).
const (
	priorityShift = 26
	priorityMask  = 0x7
	pgnShift      = 8
	pgnMask       = 0x3FFFF
	sourceMask    = 0xFF

	// DefaultPriority is used uniformly by this subsystem.
	DefaultPriority = 3
)

// Header holds the decoded fields of a 29-bit J1939 identifier.
type Header struct {
	Priority uint8
	PGN      uint32
	Source   uint8
}

// EncodeID builds a 29-bit extended identifier from J1939 header fields.
func EncodeID(priority uint8, pgn uint32, source uint8) uint32 {
	return uint32(priority&priorityMask)<<priorityShift |
		(pgn&pgnMask)<<pgnShift |
		uint32(source)
}

// DecodeID splits a 29-bit extended identifier into its J1939 header fields.
func DecodeID(id uint32) Header {
	return Header{
		Priority: uint8((id >> priorityShift) & priorityMask),
		PGN:      (id >> pgnShift) & pgnMask,
		Source:   uint8(id & sourceMask),
	}
}

// ID re-encodes the header into a 29-bit identifier.
func (h Header) ID() uint32 {
	return EncodeID(h.Priority, h.PGN, h.Source)
}

func (f Frame) String() string {
	h := DecodeID(f.ID)
	return fmt.Sprintf("pgn=%05X src=%02X len=%d data=% X", h.PGN, h.Source, f.Len, f.Data[:f.Len])
}

// NewFrame builds a frame addressed with the subsystem's default priority.
func NewFrame(pgn uint32, source uint8, data []byte) Frame {
	f := Frame{ID: EncodeID(DefaultPriority, pgn, source), Len: uint8(len(data))}
	if f.Len > 8 {
		f.Len = 8
	}
	copy(f.Data[:], data[:f.Len])
	return f
}
