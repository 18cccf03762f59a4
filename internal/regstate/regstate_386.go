//go:build 386

package regstate

// Logical register numbers for 386, equal to the i386 DWARF register
// numbering: eax=0, ecx=1, edx=2, ebx=3, esp=4, ebp=5, esi=6, edi=7, eip=8.
const (
	EAX Reg = 0
	ECX Reg = 1
	EDX Reg = 2
	EBX Reg = 3
	ESP Reg = 4
	EBP Reg = 5
	ESI Reg = 6
	EDI Reg = 7
	EIP Reg = 8
)

const (
	PCReg = EIP
	SPReg = ESP
	FPReg = EBP
)

// calleeSaved is the i386 ABI's callee-preserved register set, per
// spec.md §4.D: ebx, esi, edi, ebp, esp, eip.
var calleeSaved = []Reg{EBX, ESI, EDI, EBP, ESP, EIP}

var toDWARF = map[Reg]int{
	EAX: 0, ECX: 1, EDX: 2, EBX: 3, ESP: 4, EBP: 5, ESI: 6, EDI: 7, EIP: 8,
}

var fromDWARF = map[int]Reg{
	0: EAX, 1: ECX, 2: EDX, 3: EBX, 4: ESP, 5: EBP, 6: ESI, 7: EDI, 8: EIP,
}

// PointerSize is the architecture's pointer width in bytes.
const PointerSize = 4
