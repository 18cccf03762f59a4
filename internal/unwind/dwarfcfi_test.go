//go:build amd64 && linux

package unwind

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/tripwire/crashcore/internal/mobject"
	"github.com/tripwire/crashcore/internal/regstate"
)

// buildEHFrame hand-assembles a minimal __eh_frame byte sequence: one CIE
// establishing "CFA = rsp+8, return address at CFA-8" (the state at entry
// to any x86-64 function before its prologue runs) and one FDE covering
// [0x1000, 0x1100) that adds no further instructions — i.e. a leaf
// function whose entire body keeps the entry-state unwind rule.
func buildEHFrame(pcBegin, pcRange uint64) []byte {
	le := binary.LittleEndian

	cieBody := []byte{
		1,          // version
		0,          // augmentation string: empty, NUL-terminated
		0x01,       // code_alignment_factor ULEB = 1
		0x78,       // data_alignment_factor SLEB = -8
		0x10,       // return_address_register ULEB = 16 (RIP)
		0x0C, 0x07, 0x08, // DW_CFA_def_cfa(reg=7 [rsp], offset=8)
		0x90, 0x01, // DW_CFA_offset(reg=16 [rip], factored offset=1 -> -8)
	}
	cie := make([]byte, 4+4+len(cieBody))
	le.PutUint32(cie[0:4], uint32(4+len(cieBody))) // length: id + body
	le.PutUint32(cie[4:8], 0)                      // CIE id
	copy(cie[8:], cieBody)

	fdeBody := make([]byte, 16)
	le.PutUint64(fdeBody[0:8], pcBegin)
	le.PutUint64(fdeBody[8:16], pcRange)

	fdeIDFieldOffset := uint32(len(cie) + 4)
	fde := make([]byte, 4+4+len(fdeBody))
	le.PutUint32(fde[0:4], uint32(4+len(fdeBody))) // length: id + body
	le.PutUint32(fde[4:8], fdeIDFieldOffset)        // CIE pointer
	copy(fde[8:], fdeBody)

	terminator := make([]byte, 4) // zero length: end of section

	out := append([]byte{}, cie...)
	out = append(out, fde...)
	out = append(out, terminator...)
	return out
}

func mapOwnBytes(t *testing.T, buf []byte) *mobject.Object {
	t.Helper()
	obj, err := mobject.Init(uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if err != nil {
		t.Fatalf("mobject.Init over test buffer: %v", err)
	}
	return obj
}

func TestFindFDEForPCAndRunCFI(t *testing.T) {
	buf := buildEHFrame(0x1000, 0x100)
	eh := mapOwnBytes(t, buf)
	defer eh.Free()

	fdeOff, cie, fde, err := findFDEForPC(eh, binary.LittleEndian, 8, 0x1010)
	if err != nil {
		t.Fatalf("findFDEForPC: %v", err)
	}
	if fdeOff == 0 {
		t.Fatalf("fdeOff = 0, want the FDE's record offset")
	}
	if cie.retAddrReg != 16 {
		t.Fatalf("retAddrReg = %d, want 16", cie.retAddrReg)
	}

	var frame [1]uint64
	frame[0] = 0xCAFEBABE
	spValue := uint64(uintptr(unsafe.Pointer(&frame[0])))

	var in regstate.State
	in.Set(regstate.RSP, spValue)

	out, err := runCFI(&in, cie, fde, 0x1010, 0)
	if err != nil {
		t.Fatalf("runCFI: %v", err)
	}

	gotSP, err := out.Get(regstate.SPReg)
	if err != nil {
		t.Fatalf("out SP: %v", err)
	}
	if gotSP != spValue+8 {
		t.Fatalf("SP = %#x, want %#x", gotSP, spValue+8)
	}

	gotPC, err := out.Get(regstate.PCReg)
	if err != nil {
		t.Fatalf("out PC: %v", err)
	}
	if gotPC != 0xCAFEBABE {
		t.Fatalf("PC = %#x, want 0xCAFEBABE", gotPC)
	}
}

func TestFindFDEForPCOutOfRange(t *testing.T) {
	buf := buildEHFrame(0x1000, 0x100)
	eh := mapOwnBytes(t, buf)
	defer eh.Free()

	if _, _, _, err := findFDEForPC(eh, binary.LittleEndian, 8, 0x5000); err == nil {
		t.Fatalf("findFDEForPC outside any FDE range: want error, got nil")
	}
}

func TestEvalDWARFExprLiteralsAndArithmetic(t *testing.T) {
	// DW_OP_constu 100, DW_OP_consts -58, DW_OP_plus => 42
	expr := []byte{0x10, 0x64, 0x11, 0x46, 0x22}
	var in regstate.State
	got, err := evalDWARFExpr(expr, &in)
	if err != nil {
		t.Fatalf("evalDWARFExpr: %v", err)
	}
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

func TestEvalDWARFExprRegAndMinus(t *testing.T) {
	// DW_OP_reg7 (rsp), DW_OP_lit10, DW_OP_minus => rsp - 10
	var in regstate.State
	in.Set(regstate.RSP, 1000)

	expr := []byte{0x57, 0x3A, 0x1C} // reg7, lit10, minus
	got, err := evalDWARFExpr(expr, &in)
	if err != nil {
		t.Fatalf("evalDWARFExpr: %v", err)
	}
	if got != 990 {
		t.Fatalf("got %d, want 990", got)
	}
}

func TestEvalDWARFExprBregAndDeref(t *testing.T) {
	var value uint64 = 0xDEADBEEFCAFEBABE
	addr := uintptr(unsafe.Pointer(&value))

	var in regstate.State
	in.Set(regstate.RSP, uint64(addr-8))

	// DW_OP_breg7(rsp) offset 8 -> addr, DW_OP_deref
	expr := []byte{0x77, 0x08, 0x06}
	got, err := evalDWARFExpr(expr, &in)
	if err != nil {
		t.Fatalf("evalDWARFExpr: %v", err)
	}
	if got != value {
		t.Fatalf("got %#x, want %#x", got, value)
	}
}

func TestRunCFIValExpressionRule(t *testing.T) {
	le := binary.LittleEndian

	cieBody := []byte{
		1,    // version
		0,    // augmentation string: empty
		0x01, // code_alignment_factor ULEB = 1
		0x78, // data_alignment_factor SLEB = -8
		0x10, // return_address_register ULEB = 16 (rip)
		0x0C, 0x07, 0x08, // DW_CFA_def_cfa(rsp, 8)
		0x90, 0x01, // DW_CFA_offset(rip, factored offset 1 -> -8)
		0x16, 0x03, 0x01, 0x35, // DW_CFA_val_expression(reg=3 [rbx], expr=[DW_OP_lit5])
	}
	cie := make([]byte, 4+4+len(cieBody))
	le.PutUint32(cie[0:4], uint32(4+len(cieBody)))
	le.PutUint32(cie[4:8], 0)
	copy(cie[8:], cieBody)

	fdeBody := make([]byte, 16)
	le.PutUint64(fdeBody[0:8], 0x2000)
	le.PutUint64(fdeBody[8:16], 0x100)

	fdeIDFieldOffset := uint32(len(cie) + 4)
	fde := make([]byte, 4+4+len(fdeBody))
	le.PutUint32(fde[0:4], uint32(4+len(fdeBody)))
	le.PutUint32(fde[4:8], fdeIDFieldOffset)
	copy(fde[8:], fdeBody)

	terminator := make([]byte, 4)

	buf := append([]byte{}, cie...)
	buf = append(buf, fde...)
	buf = append(buf, terminator...)

	eh := mapOwnBytes(t, buf)
	defer eh.Free()

	_, cieRec, fdeRec, err := findFDEForPC(eh, le, 8, 0x2010)
	if err != nil {
		t.Fatalf("findFDEForPC: %v", err)
	}

	var frame [1]uint64
	frame[0] = 0xFEEDFACE
	spValue := uint64(uintptr(unsafe.Pointer(&frame[0])))

	var in regstate.State
	in.Set(regstate.RSP, spValue)

	out, err := runCFI(&in, cieRec, fdeRec, 0x2010, 0)
	if err != nil {
		t.Fatalf("runCFI: %v", err)
	}

	got, err := out.Get(regstate.RBX)
	if err != nil {
		t.Fatalf("out RBX: %v", err)
	}
	if got != 5 {
		t.Fatalf("RBX = %d, want 5 (DW_CFA_val_expression of DW_OP_lit5)", got)
	}
}
