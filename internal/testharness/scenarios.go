package testharness

import (
	"encoding/binary"
	"unsafe"

	"github.com/tripwire/crashcore/internal/regstate"
	"github.com/tripwire/crashcore/internal/unwind"
)

// sentinelCalleeSavedReg picks a callee-saved register that isn't FP/SP/PC,
// so a scenario can plant a value in it and assert the value survives a
// step's ClearVolatile the way a real callee-saved register would.
func sentinelCalleeSavedReg() regstate.Reg {
	for _, r := range regstate.CalleeSaved() {
		if r != regstate.FPReg && r != regstate.SPReg && r != regstate.PCReg {
			return r
		}
	}
	panic("testharness: no non-FP/SP/PC callee-saved register on this architecture")
}

func writePtr(b []byte, v uint64) {
	if regstate.PointerSize == 8 {
		binary.LittleEndian.PutUint64(b, v)
	} else {
		binary.LittleEndian.PutUint32(b, uint32(v))
	}
}

// buildFrameChain lays out len(retAddrs)+1 synthetic [savedFP][returnAddr]
// frames in a single contiguous backing buffer, the last one left zeroed
// as the stack-bottom sentinel a frame-pointer walk stops at. A single
// allocation (rather than one make() per frame) guarantees the frames sit
// at strictly increasing addresses, the way a real downward-growing stack
// would present them to Cursor's monotonic-SP check — independent heap
// allocations carry no such ordering guarantee. Returns the innermost
// frame's address.
func buildFrameChain(retAddrs []uint64) uintptr {
	ptrSize := int(regstate.PointerSize)
	frameSize := 2 * ptrSize
	buf := make([]byte, (len(retAddrs)+1)*frameSize)
	base := uintptr(unsafe.Pointer(&buf[0]))

	for i, ret := range retAddrs {
		frame := buf[i*frameSize : (i+1)*frameSize]
		nextAddr := base + uintptr((i+1)*frameSize)
		writePtr(frame[0:ptrSize], uint64(nextAddr))
		writePtr(frame[ptrSize:frameSize], ret)
	}
	return base
}

// DefaultScenarios builds spec.md §8's scenarios 1-5: frame-pointer-chain
// walks covering a single step, a multi-frame chain, clean stack-bottom
// detection, a bad-frame termination when no reader can make progress, and
// callee-saved sentinel survival across a step. Scenario 6 (ObjC2
// symbolication) is not part of this table: internal/objc's own tests
// exercise the ObjC2 class decoder directly on synthetic in-memory class
// structures, without a Mach-O image or macho.Reader.
func DefaultScenarios() []Scenario {
	sentinel := sentinelCalleeSavedReg()
	const sentinelValue = 0x5151515151515151

	return []Scenario{
		{
			Name: "single-frame-pointer-step",
			Seed: func() regstate.State {
				fp := buildFrameChain([]uint64{0x1000})
				var s regstate.State
				s.Set(regstate.SPReg, 1)
				s.Set(regstate.FPReg, uint64(fp))
				return s
			},
			Readers:    []unwind.Reader{unwind.NewFramePointerReader()},
			WantFrames: []uint64{0x1000},
		},
		{
			Name: "multi-frame-walk",
			Seed: func() regstate.State {
				fp := buildFrameChain([]uint64{0x1000, 0x2000, 0x3000})
				var s regstate.State
				s.Set(regstate.SPReg, 1)
				s.Set(regstate.FPReg, uint64(fp))
				return s
			},
			Readers:    []unwind.Reader{unwind.NewFramePointerReader()},
			WantFrames: []uint64{0x1000, 0x2000, 0x3000},
		},
		{
			Name: "zero-fp-is-clean-eof",
			Seed: func() regstate.State {
				var s regstate.State
				s.Set(regstate.SPReg, 1)
				s.Set(regstate.FPReg, 0)
				return s
			},
			Readers:    []unwind.Reader{unwind.NewFramePointerReader()},
			WantFrames: nil,
		},
		{
			Name: "no-readers-match-is-bad-frame",
			Seed: func() regstate.State {
				var s regstate.State
				s.Set(regstate.SPReg, 1)
				return s
			},
			Readers:            []unwind.Reader{unwind.NewFramePointerReader()},
			WantFrames:         nil,
			WantTerminationErr: true,
		},
		{
			Name: "callee-saved-sentinel-survives-step",
			Seed: func() regstate.State {
				fp := buildFrameChain([]uint64{0x4000})
				var s regstate.State
				s.Set(regstate.SPReg, 1)
				s.Set(regstate.FPReg, uint64(fp))
				s.Set(sentinel, sentinelValue)
				return s
			},
			Readers:                 []unwind.Reader{unwind.NewFramePointerReader()},
			WantFrames:              []uint64{0x4000},
			RestoresCalleeRegisters: true,
			SentinelReg:             sentinel,
			SentinelValue:           sentinelValue,
		},
	}
}
