//go:build linux

package mobject

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tripwire/crashcore/internal/crashkind"
)

// selfMem is the process-wide cached /proc/self/mem descriptor. Opened
// lazily on first use and never closed: it lives for the lifetime of the
// process, exactly like the pre-opened output fd the signal driver holds.
var (
	selfMemOnce sync.Once
	selfMemFile *os.File
	selfMemErr  error
)

func openSelfMem() (*os.File, error) {
	selfMemOnce.Do(func() {
		selfMemFile, selfMemErr = os.OpenFile("/proc/self/mem", os.O_RDONLY, 0)
	})
	return selfMemFile, selfMemErr
}

// platformInit reads [taskAddress, taskAddress+length) out of
// /proc/self/mem into a freshly allocated buffer via unix.Pread. Linux's
// procfs mem file implements read/pread/llseek but not mmap (there is no
// .mmap in proc_mem_operations), so this is the one primitive that
// actually works against it; a pread at an unmapped offset fails with EIO
// rather than succeeding, which is the bounds/permission check Init
// promises callers — there is no separate probe read and no reliance on
// signal-based fault recovery.
//
// The returned Object's mappedAddress points into this buffer, not into
// the original [taskAddress, taskAddress+length) range: reader and target
// are the same address space, but the bytes backing Remap are now a copy
// taken at Init time rather than a live view, so a caller must re-Init to
// observe a range that changes after Init returns (no caller in this
// module needs that — a frame's bytes are read once and immediately
// decoded).
func platformInit(taskAddress, length uintptr) (*Object, error) {
	f, err := openSelfMem()
	if err != nil {
		return nil, fmt.Errorf("mobject: open /proc/self/mem: %w", crashkind.ErrInternal)
	}

	buf := make([]byte, length)
	if err := preadFull(f, buf, int64(taskAddress)); err != nil {
		switch err {
		case unix.EIO, unix.EFAULT:
			return nil, fmt.Errorf("mobject: pread %#x+%#x: %w", taskAddress, length, crashkind.ErrNotFound)
		case unix.EACCES, unix.EPERM:
			return nil, fmt.Errorf("mobject: pread %#x+%#x: %w", taskAddress, length, crashkind.ErrAccess)
		default:
			return nil, fmt.Errorf("mobject: pread %#x+%#x: %v: %w", taskAddress, length, err, crashkind.ErrInternal)
		}
	}

	o := &Object{
		taskAddress:   taskAddress,
		mappedAddress: unsafe.Pointer(&buf[0]),
		length:        length,
	}
	o.closer = func() {}
	return o, nil
}

// preadFull reads len(buf) bytes at off via repeated unix.Pread calls,
// the way a short read from a pipe-backed fd would need retrying even
// though /proc/self/mem is regular-file-like. Returns the first error
// verbatim (the raw unix.Errno that unix.Pread reports, which the switch
// in platformInit compares directly) or unix.EIO if the kernel reports
// end-of-data before buf is full, which for /proc/self/mem means the
// range is not backed by anything readable.
func preadFull(f *os.File, buf []byte, off int64) error {
	for len(buf) > 0 {
		n, err := unix.Pread(int(f.Fd()), buf, off)
		if err != nil {
			return err
		}
		if n == 0 {
			return unix.EIO
		}
		buf = buf[n:]
		off += int64(n)
	}
	return nil
}
