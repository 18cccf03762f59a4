// Package testharness drives table-driven frame-walk scenarios against a
// configured unwind.Reader chain, the way spec.md §6/§8 describes: each
// Scenario seeds a register state (optionally with a sentinel value in a
// callee-saved register), builds a
// synthetic frame (or chain of frames) a leaf would actually present to
// the unwinder, and asserts the cursor's walk visits the expected PCs,
// terminates the way the scenario expects, and — if
// RestoresCalleeRegisters is set — that a sentinel value placed in a
// callee-saved register before the walk still reads back unchanged
// afterward (regstate.State.ClearVolatile's whole reason to exist).
//
// Run accepts the minimal TestingT subset rather than *testing.T directly
// so the same table can be driven both from _test.go files and from
// cmd/unwindharness, a standalone binary that exercises the scenarios
// outside `go test` for manual debugging.
package testharness

import (
	"github.com/tripwire/crashcore/internal/imagelist"
	"github.com/tripwire/crashcore/internal/regstate"
	"github.com/tripwire/crashcore/internal/unwind"
)

// TestingT is the subset of *testing.T this package needs.
type TestingT interface {
	Helper()
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// Scenario is one frame-walk exercised against a configured reader chain.
type Scenario struct {
	// Name identifies the scenario in failure messages.
	Name string

	// Seed builds the initial register state a leaf function would
	// present to the unwinder: PC/SP/FP plus any sentinel register.
	Seed func() regstate.State

	// Images supplies the image list the reader chain may consult.
	// May be nil; an empty list is used if so.
	Images func() *imagelist.List

	// Readers is the chain Cursor drives, in order.
	Readers []unwind.Reader

	// WantFrames lists every PC the cursor is expected to visit, in
	// walk order, starting with the seed frame's own PC (if the seed set
	// one) through every frame a reader successfully steps to.
	WantFrames []uint64

	// WantTerminationErr, if true, requires the walk's final (false, err)
	// result to carry a non-nil error — e.g. a bad-frame or max-depth
	// condition rather than a clean ErrEOF stack-bottom.
	WantTerminationErr bool

	// SentinelReg/SentinelValue, together with RestoresCalleeRegisters,
	// assert that a value placed in a callee-saved register before the
	// walk survives every step unchanged.
	SentinelReg             regstate.Reg
	SentinelValue           uint64
	RestoresCalleeRegisters bool
}

// Run drives every scenario in table against a fresh Cursor, reporting
// any mismatch via t.Errorf and continuing to the next scenario (a single
// bad scenario must not hide failures in the rest of the table).
func Run(t TestingT, table []Scenario) {
	t.Helper()
	for _, sc := range table {
		runOne(t, sc)
	}
}

func runOne(t TestingT, sc Scenario) {
	t.Helper()

	seed := sc.Seed()
	images := &imagelist.List{}
	if sc.Images != nil {
		images = sc.Images()
	}

	c := unwind.NewCursorWithReaders(seed, images, sc.Readers)

	var got []uint64
	var lastErr error
	for {
		ok, err := c.Next()
		if !ok {
			lastErr = err
			break
		}
		if pc, pcErr := c.Current().Get(regstate.PCReg); pcErr == nil {
			got = append(got, pc)
		}
	}

	if !equalUint64(got, sc.WantFrames) {
		t.Errorf("%s: frames = %#x, want %#x", sc.Name, got, sc.WantFrames)
	}
	if sc.WantTerminationErr && lastErr == nil {
		t.Errorf("%s: walk terminated without error, want one", sc.Name)
	}
	if !sc.WantTerminationErr && lastErr != nil {
		t.Errorf("%s: walk terminated with error %v, want clean EOF", sc.Name, lastErr)
	}

	if sc.RestoresCalleeRegisters {
		final := c.Current()
		got, err := final.Get(sc.SentinelReg)
		if err != nil {
			t.Errorf("%s: sentinel register lost: %v", sc.Name, err)
		} else if got != sc.SentinelValue {
			t.Errorf("%s: sentinel register = %#x, want %#x", sc.Name, got, sc.SentinelValue)
		}
	}
}

func equalUint64(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
