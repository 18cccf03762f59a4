//go:build arm

package regstate

// Logical register numbers for 32-bit ARM, equal to the standard ARM EABI
// DWARF register numbering (r0-r15 map directly to DWARF 0-15).
const (
	R0  Reg = 0
	R1  Reg = 1
	R2  Reg = 2
	R3  Reg = 3
	R4  Reg = 4
	R5  Reg = 5
	R6  Reg = 6
	R7  Reg = 7
	R8  Reg = 8
	R9  Reg = 9
	R10 Reg = 10
	R11 Reg = 11
	R12 Reg = 12
	R13 Reg = 13 // SP
	R14 Reg = 14 // LR
	R15 Reg = 15 // PC
)

const (
	PCReg = R15
	SPReg = R13
	FPReg = R11
)

// calleeSaved is the ARM EABI's callee-preserved register set, per
// spec.md §4.D: r4-r8, r10, r11, plus sp (r13), lr (r14) and pc (r15),
// which ClearVolatile keeps the same way the x86 tables keep their stack
// and instruction pointers.
var calleeSaved = []Reg{R4, R5, R6, R7, R8, R10, R11, R13, R14, R15}

var toDWARF = map[Reg]int{
	R0: 0, R1: 1, R2: 2, R3: 3, R4: 4, R5: 5, R6: 6, R7: 7,
	R8: 8, R9: 9, R10: 10, R11: 11, R12: 12, R13: 13, R14: 14, R15: 15,
}

var fromDWARF = map[int]Reg{
	0: R0, 1: R1, 2: R2, 3: R3, 4: R4, 5: R5, 6: R6, 7: R7,
	8: R8, 9: R9, 10: R10, 11: R11, 12: R12, 13: R13, 14: R14, 15: R15,
}

// PointerSize is the architecture's pointer width in bytes.
const PointerSize = 4
