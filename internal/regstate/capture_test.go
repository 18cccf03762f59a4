package regstate_test

import (
	"testing"

	"github.com/tripwire/crashcore/internal/regstate"
)

func TestCurrentCapturesValidSPAndPC(t *testing.T) {
	var sp, pc uint64
	regstate.Current(func(s *regstate.State) {
		var err error
		sp, err = s.Get(regstate.SPReg)
		if err != nil {
			t.Fatalf("Get(SPReg): %v", err)
		}
		pc, err = s.Get(regstate.PCReg)
		if err != nil {
			t.Fatalf("Get(PCReg): %v", err)
		}
	})
	if sp == 0 {
		t.Fatalf("captured SP is zero")
	}
	if pc == 0 {
		t.Fatalf("captured PC is zero")
	}
}
