//go:build !amd64 && !386 && !arm

package regstate

import "unsafe"

// Only x86 (32- and 64-bit) and 32-bit ARM are in scope (spec.md §1
// Non-goals). On every other GOARCH this package still builds and defines
// a minimal, unambiguous numbering so callers can compile generically, but
// Current never captures real register values here.
const (
	genericReg0 Reg = 0
	genericSP   Reg = 1
	genericPC   Reg = 2
)

const (
	PCReg = genericPC
	SPReg = genericSP
	FPReg = genericSP
)

var calleeSaved = []Reg{genericSP, genericPC}

var toDWARF = map[Reg]int{genericReg0: 0, genericSP: 1, genericPC: 2}
var fromDWARF = map[int]Reg{0: genericReg0, 1: genericSP, 2: genericPC}

// PointerSize defaults to the size of a uintptr on this platform.
const PointerSize = unsafe.Sizeof(uintptr(0))

func captureAndCall(s *State, cb func(*State)) {
	cb(s)
}
