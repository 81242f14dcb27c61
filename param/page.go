package param

import (
	"crypto/aes"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/chmike/cmac-go"
)

// The parameter page mirrors the firmware's reserved flash block: a fixed
// size image, rewritten wholesale on every save, holding each saved
// parameter as (unique id, Q27.5 fixed-point value). Values are matched
// back strictly by id on load; ids missing from the page keep their
// compiled-in default, ids unknown to this build are skipped.
const (
	// PageSize matches the firmware's 1 KiB flash page.
	PageSize = 1024

	pageMagic   = 0x424D5350 // "PSMB"
	pageVersion = 1

	headerSize = 8  // magic + version + count
	entrySize  = 6  // id uint16 + value int32
	crcSize    = 4
	tagSize    = 16 // AES-CMAC

	payloadEnd = PageSize - crcSize - tagSize
	maxEntries = (payloadEnd - headerSize) / entrySize
	fracDigits = 5 // Q27.5, as stored by the original flash image
)

var (
	// ErrPageCorrupt is returned when the page checksum does not match.
	ErrPageCorrupt = errors.New("param: page checksum mismatch")
	// ErrPageAuth is returned when the page authentication tag does not
	// match the configured key.
	ErrPageAuth = errors.New("param: page authentication failed")
	// ErrPageFull is returned when the saved parameters no longer fit the
	// fixed page size.
	ErrPageFull = errors.New("param: too many saved parameters for one page")
)

// defaultPageKey authenticates pages when no device key is configured.
var defaultPageKey = []byte("bms-param-page-0")

func toFixed(v float64) int32 {
	if v >= 0 {
		return int32(v*(1<<fracDigits) + 0.5)
	}
	return int32(v*(1<<fracDigits) - 0.5)
}

func fromFixed(v int32) float64 {
	return float64(v) / (1 << fracDigits)
}

func pageTag(key, payload []byte) ([]byte, error) {
	if len(key) == 0 {
		key = defaultPageKey
	}
	mac, err := cmac.New(aes.NewCipher, key)
	if err != nil {
		return nil, fmt.Errorf("param: bad page key: %w", err)
	}
	mac.Write(payload)
	return mac.Sum(nil), nil
}

// MarshalPage serializes every saved parameter into a page image
// authenticated with key.
func (s *Store) MarshalPage(key []byte) ([]byte, error) {
	page := make([]byte, PageSize)

	count := 0
	off := headerSize
	for i := ID(0); i < numParams; i++ {
		if table[i].Kind != KindSaved {
			continue
		}
		if count >= maxEntries {
			return nil, ErrPageFull
		}
		binary.LittleEndian.PutUint16(page[off:], table[i].UniqueID)
		binary.LittleEndian.PutUint32(page[off+2:], uint32(toFixed(s.Get(i))))
		off += entrySize
		count++
	}

	binary.LittleEndian.PutUint32(page[0:], pageMagic)
	binary.LittleEndian.PutUint16(page[4:], pageVersion)
	binary.LittleEndian.PutUint16(page[6:], uint16(count))

	return sealPayload(page[:payloadEnd], key)
}

// sealPayload appends the checksum and authentication tag to a payload,
// producing a complete page image.
func sealPayload(payload, key []byte) ([]byte, error) {
	page := make([]byte, PageSize)
	copy(page, payload)
	binary.LittleEndian.PutUint32(page[payloadEnd:], crc32.ChecksumIEEE(page[:payloadEnd]))
	tag, err := pageTag(key, page[:payloadEnd])
	if err != nil {
		return nil, err
	}
	copy(page[payloadEnd+crcSize:], tag)
	return page, nil
}

// UnmarshalPage verifies a page image and applies its values. Parameters
// absent from the page keep the value they had; callers load onto a fresh
// store so absentees hold exactly their defaults.
func (s *Store) UnmarshalPage(page, key []byte) error {
	if len(page) != PageSize {
		return fmt.Errorf("param: page is %d bytes, want %d", len(page), PageSize)
	}
	if binary.LittleEndian.Uint32(page[0:]) != pageMagic {
		return ErrPageCorrupt
	}
	if crc32.ChecksumIEEE(page[:payloadEnd]) != binary.LittleEndian.Uint32(page[payloadEnd:]) {
		return ErrPageCorrupt
	}
	tag, err := pageTag(key, page[:payloadEnd])
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(tag, page[payloadEnd+crcSize:payloadEnd+crcSize+tagSize]) != 1 {
		return ErrPageAuth
	}

	count := int(binary.LittleEndian.Uint16(page[6:]))
	if count > maxEntries {
		return ErrPageCorrupt
	}

	byUnique := make(map[uint16]ID, numParams)
	for i := ID(0); i < numParams; i++ {
		if table[i].Kind == KindSaved {
			byUnique[table[i].UniqueID] = i
		}
	}

	off := headerSize
	for n := 0; n < count; n++ {
		uid := binary.LittleEndian.Uint16(page[off:])
		raw := int32(binary.LittleEndian.Uint32(page[off+2:]))
		off += entrySize

		id, ok := byUnique[uid]
		if !ok {
			continue // parameter removed in this revision
		}
		s.Set(id, fromFixed(raw))
	}
	return nil
}

// SaveFile writes the page image to path with an atomic replace.
func (s *Store) SaveFile(path string, key []byte) error {
	page, err := s.MarshalPage(key)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("param: create page dir: %w", err)
	}
	if err := os.WriteFile(tmp, page, 0o644); err != nil {
		return fmt.Errorf("param: write page: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("param: replace page: %w", err)
	}
	return nil
}

// LoadFile reads and applies a page image. A missing file is not an error,
// the store keeps its defaults (first boot).
func (s *Store) LoadFile(path string, key []byte) error {
	page, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("param: read page: %w", err)
	}
	return s.UnmarshalPage(page, key)
}
