//go:build arm

package regstate

type rawCapture struct {
	r4, r5, r6, r7, r8, r10, r11, sp, lr uint32
}

//go:noescape
func captureRegs(out *rawCapture)

func captureAndCall(s *State, cb func(*State)) {
	var raw rawCapture
	captureRegs(&raw)

	s.Set(R4, uint64(raw.r4))
	s.Set(R5, uint64(raw.r5))
	s.Set(R6, uint64(raw.r6))
	s.Set(R7, uint64(raw.r7))
	s.Set(R8, uint64(raw.r8))
	s.Set(R10, uint64(raw.r10))
	s.Set(R11, uint64(raw.r11))
	s.Set(R13, uint64(raw.sp))
	s.Set(R14, uint64(raw.lr))
	s.Set(R15, uint64(raw.lr)) // PC proxy: the caller's return address

	cb(s)
}
