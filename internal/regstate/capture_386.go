//go:build 386

package regstate

type rawCapture struct {
	bx, si, di, bp, sp, pc uint32
}

//go:noescape
func captureRegs(out *rawCapture)

func captureAndCall(s *State, cb func(*State)) {
	var raw rawCapture
	captureRegs(&raw)

	s.Set(EBX, uint64(raw.bx))
	s.Set(ESI, uint64(raw.si))
	s.Set(EDI, uint64(raw.di))
	s.Set(EBP, uint64(raw.bp))
	s.Set(ESP, uint64(raw.sp))
	s.Set(EIP, uint64(raw.pc))

	cb(s)
}
