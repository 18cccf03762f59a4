//go:build linux

package unwind

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/tripwire/crashcore/internal/crashkind"
	"github.com/tripwire/crashcore/internal/imagelist"
	"github.com/tripwire/crashcore/internal/regstate"
)

func TestFramePointerReaderWalksChain(t *testing.T) {
	ptrSize := int(regstate.PointerSize)

	// Build two synthetic frames in this process's own memory:
	// frame2 is the oldest (its saved FP/return address are zero, marking
	// stack bottom), frame1 points at frame2.
	frame2 := make([]byte, 2*ptrSize)
	frame1 := make([]byte, 2*ptrSize)

	frame2Addr := uintptr(unsafe.Pointer(&frame2[0]))
	writePtr(frame1[0:ptrSize], uint64(frame2Addr), ptrSize)
	writePtr(frame1[ptrSize:2*ptrSize], 0xDEADC0DE, ptrSize)
	// frame2's saved fp/return address stay zero (the default).

	var s regstate.State
	s.Set(regstate.FPReg, uint64(uintptr(unsafe.Pointer(&frame1[0]))))

	r := NewFramePointerReader()
	images := &imagelist.List{}

	next, err := r.Advance(&s, images)
	if err != nil {
		t.Fatalf("Advance(frame1): %v", err)
	}
	pc, err := next.Get(regstate.PCReg)
	if err != nil || pc != 0xDEADC0DE {
		t.Fatalf("pc = %#x, %v; want 0xDEADC0DE", pc, err)
	}
	fp, err := next.Get(regstate.FPReg)
	if err != nil || fp != uint64(frame2Addr) {
		t.Fatalf("fp = %#x, %v; want %#x", fp, err, frame2Addr)
	}

	_, err = r.Advance(next, images)
	if !crashkind.IsEOF(err) {
		t.Fatalf("Advance(frame2) = %v, want ErrEOF", err)
	}
}

func TestFramePointerReaderZeroFP(t *testing.T) {
	var s regstate.State
	s.Set(regstate.FPReg, 0)

	_, err := NewFramePointerReader().Advance(&s, &imagelist.List{})
	if !crashkind.IsEOF(err) {
		t.Fatalf("Advance with fp=0 = %v, want ErrEOF", err)
	}
}

func writePtr(b []byte, v uint64, ptrSize int) {
	if ptrSize == 8 {
		binary.LittleEndian.PutUint64(b, v)
	} else {
		binary.LittleEndian.PutUint32(b, uint32(v))
	}
}
