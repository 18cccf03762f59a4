//go:build linux

package unwind

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/tripwire/crashcore/internal/mobject"
)

func TestDecodePermutationIsBijective(t *testing.T) {
	for regCount := 1; regCount <= 6; regCount++ {
		seen := map[[6]int]bool{}
		limit := permutationSpace(regCount)
		for p := uint32(0); p < limit; p++ {
			perm := decodePermutation(regCount, p)
			used := map[int]bool{}
			for i := 0; i < regCount; i++ {
				if perm[i] < 1 || perm[i] > 6 {
					t.Fatalf("regCount=%d perm=%d: slot %d = %d out of range", regCount, p, i, perm[i])
				}
				if used[perm[i]] {
					t.Fatalf("regCount=%d perm=%d: register %d used twice", regCount, p, perm[i])
				}
				used[perm[i]] = true
			}
			if seen[perm] {
				t.Fatalf("regCount=%d: permutation index %d collides with another", regCount, p)
			}
			seen[perm] = true
		}
	}
}

// buildUnwindInfo assembles a minimal __unwind_info with one first-level
// range backed by a regular (uncompressed) second-level page holding one
// entry, matching the real format's two-level layout closely enough to
// exercise lookupEncoding's binary search and page dispatch.
func buildUnwindInfo(fnOffset, nextFnOffset, encoding uint32) []byte {
	le := binary.LittleEndian
	buf := make([]byte, 68)

	// header (28 bytes): only indexSectionOffset/indexCount matter here.
	le.PutUint32(buf[20:24], 28) // indexSectionOffset
	le.PutUint32(buf[24:28], 2)  // indexCount

	// first-level index, two entries (12 bytes each) at offset 28.
	le.PutUint32(buf[28:32], fnOffset)
	le.PutUint32(buf[32:36], 52) // secondLevelPagesSectionOffset
	le.PutUint32(buf[36:40], 0)  // lsdaIndexArraySectionOffset

	le.PutUint32(buf[40:44], nextFnOffset)
	le.PutUint32(buf[44:48], 0)
	le.PutUint32(buf[48:52], 0)

	// regular second-level page at offset 52.
	le.PutUint32(buf[52:56], 2) // kind = regular
	le.PutUint16(buf[56:58], 8) // entryPageOffset
	le.PutUint16(buf[58:60], 1) // entryCount

	le.PutUint32(buf[60:64], fnOffset)
	le.PutUint32(buf[64:68], encoding)

	return buf
}

func TestLookupEncodingRegularPage(t *testing.T) {
	buf := buildUnwindInfo(0x1000, 0x1100, 0xDEADBEEF)
	obj, err := mobject.Init(uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if err != nil {
		t.Fatalf("mobject.Init: %v", err)
	}
	defer obj.Free()

	got, err := lookupEncoding(obj, binary.LittleEndian, 0x1050)
	if err != nil {
		t.Fatalf("lookupEncoding: %v", err)
	}
	if got != 0xDEADBEEF {
		t.Fatalf("encoding = %#x, want 0xDEADBEEF", got)
	}
}

func TestLookupEncodingOutOfRange(t *testing.T) {
	buf := buildUnwindInfo(0x1000, 0x1100, 0xDEADBEEF)
	obj, err := mobject.Init(uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if err != nil {
		t.Fatalf("mobject.Init: %v", err)
	}
	defer obj.Free()

	if _, err := lookupEncoding(obj, binary.LittleEndian, 0x500); err == nil {
		t.Fatalf("lookupEncoding before first range: want error, got nil")
	}
	if _, err := lookupEncoding(obj, binary.LittleEndian, 0x2000); err == nil {
		t.Fatalf("lookupEncoding past last range: want error, got nil")
	}
}
