//go:build !linux

package mobject

import "github.com/tripwire/crashcore/internal/crashkind"

// platformInit always fails on non-Linux platforms. The Mach vm_remap path
// this would need on Darwin is cgo-only and out of scope for this module
// (see SPEC_FULL.md §0); every exported symbol in this package still exists
// so callers can import it unconditionally and branch on the returned
// error, matching the real/stub split used throughout this module.
func platformInit(taskAddress, length uintptr) (*Object, error) {
	return nil, crashkind.ErrNotSupported
}
