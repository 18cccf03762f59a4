//go:build amd64

package regstate

// Logical register numbers for amd64. Chosen to equal the SysV x86-64 DWARF
// register numbering directly, so MapToDWARF/MapFromDWARF are identity
// lookups on this architecture; the 386 and 32-bit ARM numberings are
// identity mappings too (see regstate_386.go, regstate_arm.go).
const (
	RAX Reg = 0
	RDX Reg = 1
	RCX Reg = 2
	RBX Reg = 3
	RSI Reg = 4
	RDI Reg = 5
	RBP Reg = 6
	RSP Reg = 7
	R8  Reg = 8
	R9  Reg = 9
	R10 Reg = 10
	R11 Reg = 11
	R12 Reg = 12
	R13 Reg = 13
	R14 Reg = 14
	R15 Reg = 15
	RIP Reg = 16
)

// PCReg and SPReg let architecture-neutral code (the frame readers, the
// cursor) ask "which register is the program counter / stack pointer" on
// whatever GOARCH they're compiled for.
const (
	PCReg = RIP
	SPReg = RSP
	FPReg = RBP
)

// calleeSaved is the x86-64 SysV ABI's callee-preserved register set, per
// spec.md §4.D: rbx, r12-r15, rbp, rsp, rip.
var calleeSaved = []Reg{RBX, R12, R13, R14, R15, RBP, RSP, RIP}

var toDWARF = map[Reg]int{
	RAX: 0, RDX: 1, RCX: 2, RBX: 3, RSI: 4, RDI: 5, RBP: 6, RSP: 7,
	R8: 8, R9: 9, R10: 10, R11: 11, R12: 12, R13: 13, R14: 14, R15: 15,
	RIP: 16,
}

var fromDWARF = map[int]Reg{
	0: RAX, 1: RDX, 2: RCX, 3: RBX, 4: RSI, 5: RDI, 6: RBP, 7: RSP,
	8: R8, 9: R9, 10: R10, 11: R11, 12: R12, 13: R13, 14: R14, 15: R15,
	16: RIP,
}

// PointerSize is the architecture's pointer width in bytes.
const PointerSize = 8
