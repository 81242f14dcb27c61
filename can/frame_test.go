package can

import "testing"

func TestEncodeID_Layout(t *testing.T) {
	id := EncodeID(3, 0x00FECA, 0x4C)
	if id != 0x18FECA4C {
		t.Errorf("Expected ID 0x18FECA4C, got 0x%08X", id)
	}
}

func TestDecodeID_RoundTrip(t *testing.T) {
	cases := []Header{
		{Priority: 3, PGN: 0x00EE00, Source: 10},
		{Priority: 3, PGN: 0x00FEED, Source: 0x80},
		{Priority: 7, PGN: 0x3FFFF, Source: 0xFF},
		{Priority: 0, PGN: 0, Source: 0},
	}
	for _, h := range cases {
		got := DecodeID(h.ID())
		if got != h {
			t.Errorf("Round trip mismatch: sent %+v, got %+v", h, got)
		}
	}
}

func TestDecodeID_MasksPriorityOverflow(t *testing.T) {
	// Bits above the 29-bit identifier must not leak into the header.
	id := EncodeID(0xFF, 0x12345, 0x42)
	h := DecodeID(id)
	if h.Priority != 7 {
		t.Errorf("Expected priority clipped to 7, got %d", h.Priority)
	}
	if h.PGN != 0x12345 || h.Source != 0x42 {
		t.Errorf("PGN/source corrupted: %+v", h)
	}
}

func TestNewFrame_TruncatesPayload(t *testing.T) {
	f := NewFrame(0x00FF10, 11, make([]byte, 12))
	if f.Len != 8 {
		t.Errorf("Expected payload truncated to 8, got %d", f.Len)
	}
}
