// Package mobject implements a read-only, bounds-checked window over a
// range of this process's own virtual memory — the "memory object"
// (mobject) of the crash-reporting core.
//
// The trick being modelled here, even though reader and target share one
// address space, is deliberately the same one the original Mach-based
// design used: never dereference a raw pointer that might point outside a
// mapped, readable region. A hardware fault while already handling a fault
// is not something Go can recover from safely (there is no portable,
// alloc-free, lock-free way to catch a second SIGSEGV from inside a signal
// path). So Init asks the kernel whether the range is mapped and readable
// by reading it through /proc/self/mem, and Remap only ever does bounds
// arithmetic against a range the kernel has already vouched for.
//
// Platform split: mobject_linux.go backs Init/Remap with a cached
// /proc/self/mem file descriptor and unix.Pread into a caller-owned
// buffer (procfs's mem file supports read/pread/llseek but not mmap);
// mobject_other.go stubs the same API with ErrNotSupported everywhere
// else, mirroring the real/stub split used throughout this module for OS
// integration points.
package mobject

import (
	"fmt"
	"unsafe"

	"github.com/tripwire/crashcore/internal/crashkind"
)

// Object is a read-only view over [taskAddress, taskAddress+length) of the
// current process's address space. The zero value is not usable; construct
// with Init.
type Object struct {
	taskAddress   uintptr
	mappedAddress unsafe.Pointer
	length        uintptr
	closer        func()
}

// Init establishes a view over [taskAddress, taskAddress+length) that
// remains valid until Free is called. It fails with crashkind.ErrNotFound
// if the range is unmapped, crashkind.ErrAccess if it is mapped but not
// readable, and crashkind.ErrInternal on any other kernel error.
func Init(taskAddress, length uintptr) (*Object, error) {
	if length == 0 {
		return nil, fmt.Errorf("mobject: zero-length object: %w", crashkind.ErrInvalidArg)
	}
	return platformInit(taskAddress, length)
}

// TaskAddress returns the lowest address covered by this object.
func (o *Object) TaskAddress() uintptr { return o.taskAddress }

// Length returns the number of bytes covered by this object.
func (o *Object) Length() uintptr { return o.length }

// Remap returns a reader-visible pointer to
// [TaskAddress()+offset, TaskAddress()+offset+length), or
// crashkind.ErrOutOfRange if that range does not lie wholly within the
// object, including when offset+length overflows. Remap never traps: an
// out-of-range request is always reported as an error, never dereferenced.
func (o *Object) Remap(offset, length uintptr) (unsafe.Pointer, error) {
	end := offset + length
	if end < offset { // overflow
		return nil, crashkind.ErrOutOfRange
	}
	if end > o.length {
		return nil, crashkind.ErrOutOfRange
	}
	return unsafe.Pointer(uintptr(o.mappedAddress) + offset), nil
}

// ReadBytes copies length bytes starting at offset into a caller-provided
// buffer. It is a thin convenience over Remap for call sites that want a
// Go []byte rather than an unsafe.Pointer; it still performs no allocation
// beyond what the caller's buffer already required.
func (o *Object) ReadBytes(offset uintptr, buf []byte) error {
	p, err := o.Remap(offset, uintptr(len(buf)))
	if err != nil {
		return err
	}
	src := unsafe.Slice((*byte)(p), len(buf))
	copy(buf, src)
	return nil
}

// Free releases the underlying mapping. The object must not be used after
// Free returns. Free is idempotent.
func (o *Object) Free() {
	if o.closer != nil {
		o.closer()
		o.closer = nil
	}
}
