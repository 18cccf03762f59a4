//go:build linux

package macho_test

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/tripwire/crashcore/internal/macho"
)

// buildFakeMachO64 lays out a minimal 64-bit little-endian Mach-O header
// with one LC_SEGMENT_64 carrying one section, entirely within a Go byte
// slice in this process's own memory — macho.NewReader reads it back out
// through mobject exactly as it would a real loaded image.
func buildFakeMachO64(sectAddr, sectSize uint64) []byte {
	const (
		hdrSize = 32
		segHdr  = 72
		sectSz  = 80
	)
	buf := make([]byte, hdrSize+segHdr+sectSz)
	le := binary.LittleEndian

	le.PutUint32(buf[0:4], 0xFEEDFACF) // magic64
	le.PutUint32(buf[16:20], 1)        // ncmds
	le.PutUint32(buf[20:24], segHdr+sectSz)

	off := hdrSize
	le.PutUint32(buf[off:off+4], 0x19)           // LC_SEGMENT_64
	le.PutUint32(buf[off+4:off+8], segHdr+sectSz) // cmdsize
	copy(buf[off+8:off+24], []byte("__TEXT"))
	le.PutUint32(buf[off+64:off+68], 1) // nsects

	sOff := off + segHdr
	copy(buf[sOff:sOff+16], []byte("__text"))
	copy(buf[sOff+16:sOff+32], []byte("__TEXT"))
	le.PutUint64(buf[sOff+32:sOff+40], sectAddr)
	le.PutUint64(buf[sOff+40:sOff+48], sectSize)

	return buf
}

func TestNewReaderFindsSection(t *testing.T) {
	buf := buildFakeMachO64(0x1000, 0x200)
	addr := uintptr(unsafe.Pointer(&buf[0]))

	r, err := macho.NewReader(addr, 0x10)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	if !r.Pointer64() {
		t.Fatalf("Pointer64() = false, want true")
	}

	sec, ok := r.Section("__TEXT", "__text")
	if !ok {
		t.Fatalf("Section(__TEXT,__text) not found")
	}
	if sec.Addr != 0x1000+0x10 {
		t.Fatalf("Addr = %#x, want %#x", sec.Addr, 0x1010)
	}
	if sec.Size != 0x200 {
		t.Fatalf("Size = %#x, want 0x200", sec.Size)
	}
}

func TestNewReaderBadMagic(t *testing.T) {
	buf := make([]byte, 64)
	addr := uintptr(unsafe.Pointer(&buf[0]))

	if _, err := macho.NewReader(addr, 0); err == nil {
		t.Fatalf("NewReader with zeroed header: want error, got nil")
	}
}

func TestNewReaderMissingSection(t *testing.T) {
	buf := buildFakeMachO64(0x2000, 0x40)
	addr := uintptr(unsafe.Pointer(&buf[0]))

	r, err := macho.NewReader(addr, 0)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	if _, ok := r.Section("__DATA", "__const"); ok {
		t.Fatalf("Section(__DATA,__const) unexpectedly found")
	}
}
