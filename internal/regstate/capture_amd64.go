//go:build amd64

package regstate

// rawCapture mirrors the fixed layout capture_amd64.s writes into: six
// callee-saved GPRs, SP, and PC, each a plain uint64 at a known offset.
// Kept separate from State so the assembly never needs to know State's
// internal layout (values/valid arrays) — only this flat, stable struct.
type rawCapture struct {
	bx, r12, r13, r14, r15, bp, sp, pc uint64
}

//go:noescape
func captureRegs(out *rawCapture)

func captureAndCall(s *State, cb func(*State)) {
	var raw rawCapture
	captureRegs(&raw)

	s.Set(RBX, raw.bx)
	s.Set(R12, raw.r12)
	s.Set(R13, raw.r13)
	s.Set(R14, raw.r14)
	s.Set(R15, raw.r15)
	s.Set(RBP, raw.bp)
	s.Set(RSP, raw.sp)
	s.Set(RIP, raw.pc)

	cb(s)
}
