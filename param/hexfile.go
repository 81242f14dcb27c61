package param

import (
	"fmt"
	"io"
	"os"

	"github.com/marcinbor85/gohex"
)

// FlashBase is the address of the parameter block inside an STM32 flash
// dump: the last 1 KiB page of a 64 KiB part.
const FlashBase = 0x0800FC00

// ExportHex writes the store's page image as an Intel HEX block at the
// firmware's flash address, so host tooling and device flashers exchange
// the same artifact.
func (s *Store) ExportHex(w io.Writer, key []byte) error {
	page, err := s.MarshalPage(key)
	if err != nil {
		return err
	}
	mem := gohex.NewMemory()
	if err := mem.AddBinary(FlashBase, page); err != nil {
		return fmt.Errorf("param: build hex image: %w", err)
	}
	if err := mem.DumpIntelHex(w, 16); err != nil {
		return fmt.Errorf("param: write hex image: %w", err)
	}
	return nil
}

// ImportHex parses an Intel HEX flash dump and applies the parameter page
// found at the firmware's flash address.
func (s *Store) ImportHex(r io.Reader, key []byte) error {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return fmt.Errorf("param: parse hex image: %w", err)
	}
	for _, seg := range mem.GetDataSegments() {
		start := uint32(FlashBase)
		if seg.Address > start || seg.Address+uint32(len(seg.Data)) < start+PageSize {
			continue
		}
		off := start - seg.Address
		return s.UnmarshalPage(seg.Data[off:off+PageSize], key)
	}
	return fmt.Errorf("param: no parameter block at 0x%08X in hex image", uint32(FlashBase))
}

// ImportHexFile is a convenience wrapper around ImportHex.
func (s *Store) ImportHexFile(path string, key []byte) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("param: open hex image: %w", err)
	}
	defer f.Close()
	return s.ImportHex(f, key)
}
