package regstate_test

import (
	"errors"
	"testing"

	"github.com/tripwire/crashcore/internal/crashkind"
	"github.com/tripwire/crashcore/internal/regstate"
)

func TestGetUnsetIsNotFound(t *testing.T) {
	var s regstate.State
	if _, err := s.Get(regstate.PCReg); !errors.Is(err, crashkind.ErrNotFound) {
		t.Fatalf("Get(unset) = %v, want ErrNotFound", err)
	}
}

func TestSetThenGet(t *testing.T) {
	var s regstate.State
	s.Set(regstate.SPReg, 0xdeadbeef)
	got, err := s.Get(regstate.SPReg)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 0xdeadbeef {
		t.Fatalf("Get = %#x, want 0xdeadbeef", got)
	}
	if !s.Has(regstate.SPReg) {
		t.Fatalf("Has(SPReg) = false, want true")
	}
}

func TestClearVolatileKeepsOnlyCalleeSaved(t *testing.T) {
	var s regstate.State
	s.Set(regstate.SPReg, 1)
	s.Set(regstate.PCReg, 2)
	s.Set(regstate.Reg(0), 3) // register 0 (rax/eax/r0) is volatile on every architecture

	s.ClearVolatile()

	if !s.Has(regstate.SPReg) || !s.Has(regstate.PCReg) {
		t.Fatalf("ClearVolatile cleared a callee-saved register")
	}
	if s.Has(regstate.Reg(0)) {
		t.Fatalf("ClearVolatile kept volatile register 0")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	var s regstate.State
	s.Set(regstate.SPReg, 10)

	c := s.Clone()
	s.Set(regstate.SPReg, 20)

	got, _ := c.Get(regstate.SPReg)
	if got != 10 {
		t.Fatalf("clone observed mutation: got %d, want 10", got)
	}
}

func TestDWARFRoundTrip(t *testing.T) {
	n, ok := regstate.MapToDWARF(regstate.PCReg)
	if !ok {
		t.Fatalf("MapToDWARF(PCReg) not found")
	}
	r, ok := regstate.MapFromDWARF(n)
	if !ok || r != regstate.PCReg {
		t.Fatalf("MapFromDWARF(%d) = %v,%v want PCReg,true", n, r, ok)
	}
}
