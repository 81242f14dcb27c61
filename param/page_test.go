package param

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestPage_RoundTrip(t *testing.T) {
	src := NewStore()
	src.SetInt(NumChan, 14)
	src.SetInt(BalMode, 3)
	src.Set(IdleCurrent, 650)
	src.Set(UCell50Soc, 3610)

	page, err := src.MarshalPage(nil)
	if err != nil {
		t.Fatalf("MarshalPage failed: %v", err)
	}
	if len(page) != PageSize {
		t.Fatalf("Page size %d, want %d", len(page), PageSize)
	}

	dst := NewStore()
	if err := dst.UnmarshalPage(page, nil); err != nil {
		t.Fatalf("UnmarshalPage failed: %v", err)
	}

	for _, id := range []ID{NumChan, BalMode, IdleCurrent, UCell50Soc, Gain} {
		if got, want := dst.Get(id), src.Get(id); got != want {
			t.Errorf("%s: got %v, want %v", id, got, want)
		}
	}
}

func TestPage_UnknownIDLeftAtDefault(t *testing.T) {
	// Simulate loading a page written by a later revision that knew a
	// parameter this build does not have: its entry is simply skipped and
	// every parameter absent from the page holds its compiled default.
	src := NewStore()
	src.SetInt(Gain, 600) // gain is the first saved entry
	page, err := src.MarshalPage(nil)
	if err != nil {
		t.Fatalf("MarshalPage failed: %v", err)
	}
	// Overwrite the first entry's unique id with one not in the table.
	page[headerSize] = 0xFF
	page[headerSize+1] = 0x7F
	// Re-seal the page.
	reseal(t, page)

	dst := NewStore()
	if err := dst.UnmarshalPage(page, nil); err != nil {
		t.Fatalf("UnmarshalPage failed: %v", err)
	}
	if got := dst.GetInt(Gain); got != 587 {
		t.Errorf("Expected gain default 587, got %d", got)
	}
}

func TestPage_CorruptionDetected(t *testing.T) {
	s := NewStore()
	page, _ := s.MarshalPage(nil)
	page[headerSize+3] ^= 0x40

	if err := NewStore().UnmarshalPage(page, nil); err != ErrPageCorrupt {
		t.Errorf("Expected ErrPageCorrupt, got %v", err)
	}
}

func TestPage_WrongKeyRejected(t *testing.T) {
	s := NewStore()
	page, err := s.MarshalPage([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("MarshalPage failed: %v", err)
	}
	if err := NewStore().UnmarshalPage(page, []byte("fedcba9876543210")); err != ErrPageAuth {
		t.Errorf("Expected ErrPageAuth, got %v", err)
	}
}

func TestPage_FixedPointPrecision(t *testing.T) {
	// Q27.5 resolves 1/32; the table only holds integral-ish values but
	// fractional settings must survive within that resolution.
	s := NewStore()
	s.Set(NomCap, 102.5)
	page, _ := s.MarshalPage(nil)

	dst := NewStore()
	if err := dst.UnmarshalPage(page, nil); err != nil {
		t.Fatalf("UnmarshalPage failed: %v", err)
	}
	if got := dst.GetFloat(NomCap); got != 102.5 {
		t.Errorf("Expected 102.5, got %v", got)
	}
}

func TestSaveLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages", "param.bin")

	src := NewStore()
	src.SetInt(SleepTimeout, 5)
	if err := src.SaveFile(path, nil); err != nil {
		t.Fatalf("SaveFile failed: %v", err)
	}

	dst := NewStore()
	if err := dst.LoadFile(path, nil); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if got := dst.GetInt(SleepTimeout); got != 5 {
		t.Errorf("Expected sleeptimeout 5, got %d", got)
	}
}

func TestLoadFile_MissingIsFirstBoot(t *testing.T) {
	s := NewStore()
	if err := s.LoadFile(filepath.Join(t.TempDir(), "nope.bin"), nil); err != nil {
		t.Errorf("Missing page must not error, got %v", err)
	}
	if got := s.GetInt(NumChan); got != 12 {
		t.Errorf("Defaults expected on first boot, numchan=%d", got)
	}
}

func TestHex_RoundTrip(t *testing.T) {
	src := NewStore()
	src.SetInt(NumChan, 16)
	src.SetInt(TempSns, 3)

	var buf bytes.Buffer
	if err := src.ExportHex(&buf, nil); err != nil {
		t.Fatalf("ExportHex failed: %v", err)
	}

	dst := NewStore()
	if err := dst.ImportHex(bytes.NewReader(buf.Bytes()), nil); err != nil {
		t.Fatalf("ImportHex failed: %v", err)
	}
	if got := dst.GetInt(NumChan); got != 16 {
		t.Errorf("Expected numchan 16, got %d", got)
	}
	if got := dst.GetInt(TempSns); got != 3 {
		t.Errorf("Expected tempsns 3, got %d", got)
	}
}

// reseal recomputes the page checksum and tag after a test mutated the
// payload.
func reseal(t *testing.T, page []byte) {
	t.Helper()
	s := NewStore()
	if err := s.UnmarshalPage(page, nil); err == nil {
		return // still valid
	}
	// Rebuild crc + tag over the mutated payload.
	fresh, err := sealPayload(page[:payloadEnd], nil)
	if err != nil {
		t.Fatalf("reseal failed: %v", err)
	}
	copy(page, fresh)
}
