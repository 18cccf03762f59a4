package unwind

import (
	"fmt"

	"github.com/tripwire/crashcore/internal/crashkind"
	"github.com/tripwire/crashcore/internal/imagelist"
	"github.com/tripwire/crashcore/internal/regstate"
)

// maxDepth bounds a single unwind, per spec.md §4.F: a pathological or
// corrupt stack must never turn into an unbounded loop on the crash path.
const maxDepth = 512

// cursorState is the Cursor's own state machine, named the way spec.md
// §4.F describes it.
type cursorState int

const (
	stateInit cursorState = iota
	stateFirstFrame
	stateStepping
	stateTerminated
)

// Cursor drives a chain of Readers across a single stack, frame by frame,
// from an initial register snapshot. The default chain tries compact
// unwind first (O(1) per step), then DWARF CFI, then the frame-pointer
// convention as a last resort — the ordering spec.md's original design
// prefers.
type Cursor struct {
	state   cursorState
	current regstate.State
	images  *imagelist.List
	readers []Reader
	prevSP  uint64
	depth   int
}

// NewCursor builds a Cursor seeded with the given register snapshot, using
// the default reader chain (compact-unwind, DWARF CFI, frame-pointer).
func NewCursor(initial regstate.State, images *imagelist.List) *Cursor {
	dwarf := NewDWARFCFIReader()
	return NewCursorWithReaders(initial, images, []Reader{
		NewCompactUnwindReader(dwarf),
		dwarf,
		NewFramePointerReader(),
	})
}

// NewCursorWithReaders builds a Cursor with an explicit reader chain,
// letting the test harness (internal/testharness) exercise one reader in
// isolation.
func NewCursorWithReaders(initial regstate.State, images *imagelist.List, readers []Reader) *Cursor {
	return &Cursor{
		state:   stateInit,
		current: initial,
		images:  images,
		readers: readers,
	}
}

// Current returns the register state of the frame the cursor currently sits
// on. Valid any time after NewCursor, including before the first Next.
func (c *Cursor) Current() regstate.State { return c.current }

// Next advances the cursor to the caller's frame, trying each reader in
// the chain in order until one succeeds, returns crashkind.ErrEOF (stack
// bottom), or all return crashkind.ErrNotFound (treated as ErrBadFrame —
// no reader could make progress). Returns false once the walk has
// terminated; callers should stop calling Next after that.
func (c *Cursor) Next() (bool, error) {
	if c.state == stateTerminated {
		return false, nil
	}
	if c.state == stateInit {
		c.state = stateFirstFrame
		sp, err := c.current.Get(regstate.SPReg)
		if err != nil {
			c.state = stateTerminated
			return false, fmt.Errorf("unwind: initial state has no sp: %w", crashkind.ErrBadFrame)
		}
		c.prevSP = sp
		return true, nil
	}

	if c.depth >= maxDepth {
		c.state = stateTerminated
		return false, fmt.Errorf("unwind: exceeded max depth %d: %w", maxDepth, crashkind.ErrBadFrame)
	}

	var lastErr error
	for _, r := range c.readers {
		next, err := r.Advance(&c.current, c.images)
		if err == nil {
			newSP, spErr := next.Get(regstate.SPReg)
			if spErr == nil && newSP <= c.prevSP {
				c.state = stateTerminated
				return false, fmt.Errorf("unwind: non-monotonic sp (%#x -> %#x): %w", c.prevSP, newSP, crashkind.ErrBadFrame)
			}
			c.current = *next
			c.prevSP = newSP
			c.depth++
			c.state = stateStepping
			return true, nil
		}
		if crashkind.IsEOF(err) {
			c.state = stateTerminated
			return false, nil
		}
		if crashkind.IsNotFound(err) {
			lastErr = err
			continue
		}
		c.state = stateTerminated
		return false, err
	}

	c.state = stateTerminated
	if lastErr != nil {
		return false, fmt.Errorf("unwind: no reader could advance: %w", crashkind.ErrBadFrame)
	}
	return false, nil
}
