package bms

import (
	"encoding/binary"

	"bms-service/can"
)

// Chain protocol PGNs. Address claim and request reuse the standard J1939
// parameter groups; the rest live in the proprietary-B range.
const (
	PGNAddressClaimed uint32 = 0x00EE00
	PGNRequest        uint32 = 0x00EA00
	PGNModuleInfo     uint32 = 0x00FF01
	PGNModuleStats    uint32 = 0x00FF02
	PGNPackStats      uint32 = 0x00FF03
	PGNFault          uint32 = 0x00FF04
	PGNControl        uint32 = 0x00FF05
	// PGNCellVoltages carries 4 cells per frame on four consecutive PGNs.
	PGNCellVoltages uint32 = 0x00FF10
)

// BaseAddress is the first chain address; the module holding it is the
// master by convention.
const BaseAddress uint8 = 10

// BroadcastAddr targets every node in a control frame.
const BroadcastAddr uint8 = 0xFF

// Control frame commands (PGNControl, byte 0).
const (
	CtrlResetError uint8 = 1
	CtrlSaveParams uint8 = 2
)

// addressClaim is the payload of PGNAddressClaimed.
type addressClaim struct {
	Ordinal   uint8
	CellCount uint8
}

func (m addressClaim) encode() []byte {
	return []byte{m.Ordinal, m.CellCount}
}

func decodeAddressClaim(f can.Frame) (addressClaim, bool) {
	if f.Len < 2 {
		return addressClaim{}, false
	}
	return addressClaim{Ordinal: f.Data[0], CellCount: f.Data[1]}, true
}

// moduleInfo answers the master's enumeration request.
type moduleInfo struct {
	Ordinal   uint8
	CellCount uint8
	TempCount uint8
}

func (m moduleInfo) encode() []byte {
	return []byte{m.Ordinal, m.CellCount, m.TempCount}
}

func decodeModuleInfo(f can.Frame) (moduleInfo, bool) {
	if f.Len < 3 {
		return moduleInfo{}, false
	}
	return moduleInfo{Ordinal: f.Data[0], CellCount: f.Data[1], TempCount: f.Data[2]}, true
}

// encodeRequest builds the J1939 request payload: the requested PGN in the
// first three bytes, little endian.
func encodeRequest(pgn uint32) []byte {
	return []byte{byte(pgn), byte(pgn >> 8), byte(pgn >> 16)}
}

func decodeRequest(f can.Frame) (uint32, bool) {
	if f.Len < 3 {
		return 0, false
	}
	return uint32(f.Data[0]) | uint32(f.Data[1])<<8 | uint32(f.Data[2])<<16, true
}

// moduleStats is one module's per-round aggregate broadcast.
type moduleStats struct {
	UAvg    uint16 // mV
	UMin    uint16 // mV
	UMax    uint16 // mV
	TempMin int8   // °C
	TempMax int8   // °C
}

func (m moduleStats) encode() []byte {
	var b [8]byte
	binary.LittleEndian.PutUint16(b[0:], m.UAvg)
	binary.LittleEndian.PutUint16(b[2:], m.UMin)
	binary.LittleEndian.PutUint16(b[4:], m.UMax)
	b[6] = byte(m.TempMin)
	b[7] = byte(m.TempMax)
	return b[:]
}

func decodeModuleStats(f can.Frame) (moduleStats, bool) {
	if f.Len < 8 {
		return moduleStats{}, false
	}
	return moduleStats{
		UAvg:    binary.LittleEndian.Uint16(f.Data[0:]),
		UMin:    binary.LittleEndian.Uint16(f.Data[2:]),
		UMax:    binary.LittleEndian.Uint16(f.Data[4:]),
		TempMin: int8(f.Data[6]),
		TempMax: int8(f.Data[7]),
	}, true
}

// packStats is the master's pack-wide broadcast.
type packStats struct {
	UTotal       uint16 // 0.1 V
	Idc          int16  // 0.1 A
	Soc          uint8  // %
	TempMax      int8   // °C
	ChargeLim    uint8  // A
	DischargeLim uint8  // 2 A units, full range 0..510 A
}

func (m packStats) encode() []byte {
	var b [8]byte
	binary.LittleEndian.PutUint16(b[0:], m.UTotal)
	binary.LittleEndian.PutUint16(b[2:], uint16(m.Idc))
	b[4] = m.Soc
	b[5] = byte(m.TempMax)
	b[6] = m.ChargeLim
	b[7] = m.DischargeLim
	return b[:]
}

func decodePackStats(f can.Frame) (packStats, bool) {
	if f.Len < 8 {
		return packStats{}, false
	}
	return packStats{
		UTotal:       binary.LittleEndian.Uint16(f.Data[0:]),
		Idc:          int16(binary.LittleEndian.Uint16(f.Data[2:])),
		Soc:          f.Data[4],
		TempMax:      int8(f.Data[5]),
		ChargeLim:    f.Data[6],
		DischargeLim: f.Data[7],
	}, true
}

// encodeCellGroup packs cells [first..first+3] of a module into one frame.
// Missing cells are sent as 0xFFFF.
func encodeCellGroup(voltages []uint16, first int) []byte {
	var b [8]byte
	for i := 0; i < 4; i++ {
		v := uint16(0xFFFF)
		if first+i < len(voltages) {
			v = voltages[first+i]
		}
		binary.LittleEndian.PutUint16(b[2*i:], v)
	}
	return b[:]
}

func decodeCellGroup(f can.Frame) ([4]uint16, bool) {
	var out [4]uint16
	if f.Len < 8 {
		return out, false
	}
	for i := 0; i < 4; i++ {
		out[i] = binary.LittleEndian.Uint16(f.Data[2*i:])
	}
	return out, true
}

// encodeFault broadcasts the latched error record.
func encodeFault(rec Record) []byte {
	return []byte{byte(rec.Code), rec.Node}
}

func decodeFault(f can.Frame) (Record, bool) {
	if f.Len < 2 {
		return Record{}, false
	}
	return Record{Code: FaultCode(f.Data[0]), Node: f.Data[1]}, true
}
