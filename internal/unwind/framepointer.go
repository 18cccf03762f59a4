package unwind

import (
	"encoding/binary"
	"fmt"

	"github.com/tripwire/crashcore/internal/crashkind"
	"github.com/tripwire/crashcore/internal/imagelist"
	"github.com/tripwire/crashcore/internal/mobject"
	"github.com/tripwire/crashcore/internal/regstate"
)

// FramePointerReader steps one frame by trusting the conventional
// "[saved-FP][return-address]" layout at the address the frame-pointer
// register holds. It is the last resort in the default reader chain
// (see cursor.go): no metadata lookup, just the calling convention.
//
// Grounded on delve's frame-pointer-first unwind step
// (other_examples/.../devilkun-delve__pkg-proc-stack.go.go).
type FramePointerReader struct{}

// NewFramePointerReader returns a ready-to-use FramePointerReader. It holds
// no state, so a single instance may be shared across cursors.
func NewFramePointerReader() *FramePointerReader { return &FramePointerReader{} }

// Advance reads the two pointer-sized words at [fp, fp+2*ptrSize) and
// derives the caller's frame pointer, stack pointer, and return address
// from them. It returns crashkind.ErrEOF when fp is zero or the saved
// return address is zero (both conventional stack-bottom markers).
func (r *FramePointerReader) Advance(in *regstate.State, _ *imagelist.List) (*regstate.State, error) {
	fp, err := in.Get(regstate.FPReg)
	if err != nil {
		return nil, fmt.Errorf("framepointer: no frame pointer in input state: %w", crashkind.ErrBadFrame)
	}
	if fp == 0 {
		return nil, fmt.Errorf("framepointer: fp is zero: %w", crashkind.ErrEOF)
	}

	ptrSize := uintptr(regstate.PointerSize)
	obj, err := mobject.Init(uintptr(fp), 2*ptrSize)
	if err != nil {
		return nil, fmt.Errorf("framepointer: map [fp,fp+%d) at %#x: %w", 2*ptrSize, fp, err)
	}
	defer obj.Free()

	buf := make([]byte, int(2*ptrSize))
	if err := obj.ReadBytes(0, buf); err != nil {
		return nil, fmt.Errorf("framepointer: read frame at %#x: %w", fp, err)
	}

	var savedFP, retAddr uint64
	if ptrSize == 8 {
		savedFP = binary.LittleEndian.Uint64(buf[0:8])
		retAddr = binary.LittleEndian.Uint64(buf[8:16])
	} else {
		savedFP = uint64(binary.LittleEndian.Uint32(buf[0:4]))
		retAddr = uint64(binary.LittleEndian.Uint32(buf[4:8]))
	}

	if retAddr == 0 {
		return nil, fmt.Errorf("framepointer: return address is zero: %w", crashkind.ErrEOF)
	}

	out := in.Clone()
	out.ClearVolatile()
	out.Set(regstate.FPReg, savedFP)
	out.Set(regstate.SPReg, uint64(fp)+uint64(2*ptrSize))
	out.Set(regstate.PCReg, retAddr)
	return &out, nil
}
