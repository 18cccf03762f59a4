// Package regstate models an architecture-neutral snapshot of a thread's
// general-purpose registers: the record the unwinder reads from and writes
// to one frame at a time.
//
// A State never allocates after construction — it is a fixed array plus a
// validity bitmap, matching the "no heap allocation on the crash path"
// discipline SPEC_FULL.md §0 and spec.md §5 require. The per-architecture
// register numbering, DWARF-number mapping, and callee-saved set live in
// regstate_<GOARCH>.go; Current's actual register capture lives in
// capture_<GOARCH>.s, one small Plan9 assembly stub per architecture,
// following this corpus's convention of splitting OS/arch-specific code
// into per-target files (see SPEC_FULL.md §0).
package regstate

import (
	"fmt"

	"github.com/tripwire/crashcore/internal/crashkind"
)

// Reg is a logical register number, meaningful only together with the
// current architecture's numbering table (see regstate_<GOARCH>.go).
type Reg int

// maxRegs bounds every architecture's register file; amd64's 17 registers
// (RAX..RIP) are the largest set this module defines, leaving headroom.
const maxRegs = 34

// State is a fixed-size, architecture-neutral register snapshot plus a
// validity bitmap. The zero value has every register marked invalid.
type State struct {
	values [maxRegs]uint64
	valid  [maxRegs]bool
}

// Get returns the value of register r. It returns crashkind.ErrNotFound if
// r has never been set or was cleared by ClearVolatile.
func (s *State) Get(r Reg) (uint64, error) {
	if int(r) < 0 || int(r) >= maxRegs {
		return 0, fmt.Errorf("regstate: register %d out of range: %w", r, crashkind.ErrInvalidArg)
	}
	if !s.valid[r] {
		return 0, fmt.Errorf("regstate: register %d not valid: %w", r, crashkind.ErrNotFound)
	}
	return s.values[r], nil
}

// Set stores value into register r and marks it valid.
func (s *State) Set(r Reg, value uint64) {
	s.values[r] = value
	s.valid[r] = true
}

// Has reports whether register r currently holds a valid value.
func (s *State) Has(r Reg) bool {
	if int(r) < 0 || int(r) >= maxRegs {
		return false
	}
	return s.valid[r]
}

// Clone returns a copy of s. Frame readers call this to derive the output
// state from the input state without mutating the caller's copy; the copy
// is a plain value copy of a fixed array, not a heap allocation beyond the
// returned struct itself (which the caller typically keeps on its own
// stack via a local, not a pointer escape, for the inner unwind loop).
func (s *State) Clone() State { return *s }

// ClearVolatile retains only this architecture's callee-saved registers
// (see regstate_<GOARCH>.go's calleeSaved table), clearing every other
// register's valid bit. Volatile registers are cleared because after a
// call instruction their caller-side values are, by definition, unknowable
// (spec.md §4.D).
func (s *State) ClearVolatile() {
	var kept [maxRegs]bool
	for _, r := range calleeSaved {
		kept[r] = s.valid[r]
	}
	for r := 0; r < maxRegs; r++ {
		s.valid[r] = kept[r]
	}
}

// CalleeSaved returns this architecture's callee-saved register set (see
// regstate_<GOARCH>.go). Callers must treat the returned slice as read-only.
func CalleeSaved() []Reg { return calleeSaved }

// MapToDWARF returns the DWARF register number for logical register r, or
// (0, false) if r has no DWARF number on this architecture.
func MapToDWARF(r Reg) (int, bool) {
	n, ok := toDWARF[r]
	return n, ok
}

// MapFromDWARF returns the logical register corresponding to DWARF register
// number n, or (0, false) if no logical register maps to n.
func MapFromDWARF(n int) (Reg, bool) {
	r, ok := fromDWARF[n]
	return r, ok
}

// Current captures the calling thread's integer registers synchronously
// and invokes cb with them. captureAndCall (capture_<GOARCH>.go) calls a
// NOSPLIT assembly stub, captureRegs, that stores the registers as they
// stand at its CALL into a flat struct and returns; captureAndCall then
// copies them into the State and calls cb. The stub returns before cb
// runs, so the captured values are those of captureAndCall's frame at that
// call, not a single activation record shared with cb. On architectures
// without a stub (regstate_other.go) cb receives a State with no valid
// registers.
func Current(cb func(*State)) {
	var s State
	captureAndCall(&s, cb)
}
