// Package crashkind defines the error vocabulary shared by every subsystem
// on the crash-reporting path: the frame readers, the Mach-O reader, the
// ObjC parser, and the log writer all return one of these sentinel errors
// so that callers can branch on kind rather than on message text.
//
// Propagation policy (see the unwind and objc packages for the concrete
// cases): ErrNotFound means "not my format, try the next implementation";
// every other error aborts whatever operation produced it. Nothing in this
// package allocates.
package crashkind

import "errors"

// Sentinel errors returned across package boundaries on the crash path.
// Compare with errors.Is, never by string.
var (
	// ErrUnknown is returned when a failure has no more specific cause.
	ErrUnknown = errors.New("crashkind: unknown error")

	// ErrNotFound means the requested item (a section, a frame description,
	// a symbol) is absent. Frame readers treat it as "not my format, try the
	// next reader." The ObjC parser treats it as "no method covers this IP."
	ErrNotFound = errors.New("crashkind: not found")

	// ErrInvalidImage means a Mach-O header's magic is wrong, or its load
	// commands overrun the mapped header.
	ErrInvalidImage = errors.New("crashkind: invalid image")

	// ErrInvalidData means well-formed container, malformed payload: a bad
	// DWARF opcode, a corrupt unwind-info page, a class structure that
	// doesn't parse.
	ErrInvalidData = errors.New("crashkind: invalid data")

	// ErrAccess means the kernel refused a read for permission reasons.
	ErrAccess = errors.New("crashkind: access denied")

	// ErrNoMemory means a fixed-capacity buffer has no room left. Never
	// means "the allocator failed" — nothing on the crash path allocates.
	ErrNoMemory = errors.New("crashkind: no memory")

	// ErrOutOfRange means a requested address range does not lie wholly
	// inside a memory object, image, or section.
	ErrOutOfRange = errors.New("crashkind: out of range")

	// ErrEOF means a frame reader recognized the sentinel bottom-of-stack
	// frame. Not a failure: the cursor terminates cleanly.
	ErrEOF = errors.New("crashkind: stack bottom")

	// ErrBadFrame means the stack is corrupt: a frame pointer that doesn't
	// decrease, a CFA below the current SP, a loop. Aborts the unwind.
	ErrBadFrame = errors.New("crashkind: bad frame")

	// ErrInvalidArg means a caller-supplied argument (a register number, a
	// DWARF opcode, an address) is nonsensical for the operation requested.
	ErrInvalidArg = errors.New("crashkind: invalid argument")

	// ErrInternal covers unexpected kernel/OS failures that aren't one of
	// the above (an unexpected mmap errno, for instance).
	ErrInternal = errors.New("crashkind: internal error")

	// ErrNotSupported is returned by every OS-integration entry point on a
	// platform where this module has no real implementation (see the
	// per-GOOS split documented in SPEC_FULL.md §0).
	ErrNotSupported = errors.New("crashkind: not supported on this platform")
)

// IsEOF reports whether err wraps ErrEOF. A small helper so call sites that
// branch on kind frequently (the cursor's reader-chain loop) read as intent
// rather than repeated errors.Is boilerplate.
func IsEOF(err error) bool { return errors.Is(err, ErrEOF) }

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
