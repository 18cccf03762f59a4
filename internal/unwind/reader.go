// Package unwind implements the frame-cursor stack walker: a chain of
// Readers that each know one way to step from the current frame's register
// state to the caller's, plus a Cursor that drives the chain frame by frame.
//
// Every Reader in this package only ever touches memory through
// internal/mobject and internal/macho. internal/regstate.State is passed
// and returned by value/pointer over fixed-size arrays throughout, but the
// readers do allocate: every mobject.Init copies the requested range into
// a new buffer, FramePointerReader makes a frame buffer per step, and
// DWARFCFIReader builds a CIE map and instruction slices per lookup. This
// mirrors delve's own frame-pointer-first, DWARF-fallback chain
// (other_examples/.../devilkun-delve__pkg-proc-stack.go.go), generalized
// to also consult Mach-O compact-unwind metadata ahead of DWARF.
package unwind

import (
	"github.com/tripwire/crashcore/internal/imagelist"
	"github.com/tripwire/crashcore/internal/regstate"
)

// Reader advances one frame: given the current frame's register state, it
// returns the register state of the caller's frame. Error values follow
// spec.md §7's kind vocabulary: crashkind.ErrNotFound means "this reader
// has no opinion about this frame, try the next one in the chain";
// crashkind.ErrEOF means "this is the bottom of the stack"; any other
// error aborts the unwind.
type Reader interface {
	Advance(in *regstate.State, images *imagelist.List) (*regstate.State, error)
}
