package objc

import (
	"encoding/binary"

	"github.com/tripwire/crashcore/internal/mobject"
)

// maxSymbolLen bounds every class/method/selector name read off the crash
// path: a single fixed-size stack buffer, never a heap allocation sized to
// the string.
const maxSymbolLen = 512

// readPtrAt maps and reads one pointer-sized value at addr.
func readPtrAt(addr uintptr, ptrSize uintptr, order binary.ByteOrder) (uint64, error) {
	obj, err := mobject.Init(addr, ptrSize)
	if err != nil {
		return 0, err
	}
	defer obj.Free()

	var buf [8]byte
	if err := obj.ReadBytes(0, buf[:ptrSize]); err != nil {
		return 0, err
	}
	if ptrSize == 8 {
		return order.Uint64(buf[:8]), nil
	}
	return uint64(order.Uint32(buf[:4])), nil
}

// readU32At maps and reads one uint32 at addr.
func readU32At(addr uintptr, order binary.ByteOrder) (uint32, error) {
	obj, err := mobject.Init(addr, 4)
	if err != nil {
		return 0, err
	}
	defer obj.Free()
	var buf [4]byte
	if err := obj.ReadBytes(0, buf[:]); err != nil {
		return 0, err
	}
	return order.Uint32(buf[:]), nil
}

// readU16At maps and reads one uint16 at addr.
func readU16At(addr uintptr, order binary.ByteOrder) (uint16, error) {
	obj, err := mobject.Init(addr, 2)
	if err != nil {
		return 0, err
	}
	defer obj.Free()
	var buf [2]byte
	if err := obj.ReadBytes(0, buf[:]); err != nil {
		return 0, err
	}
	return order.Uint16(buf[:]), nil
}

// readCStringAt maps up to maxSymbolLen bytes at addr and returns the
// NUL-terminated string found there, or crashkind.ErrNotFound (via
// mobject.Init) if addr isn't mapped.
func readCStringAt(addr uintptr) (string, error) {
	obj, err := mobject.Init(addr, maxSymbolLen)
	if err != nil {
		// Fall back to a shorter probe: the string may sit at the very end
		// of a mapping smaller than maxSymbolLen.
		obj, err = mobject.Init(addr, 64)
		if err != nil {
			return "", err
		}
	}
	defer obj.Free()

	var buf [maxSymbolLen]byte
	n := int(obj.Length())
	if n > maxSymbolLen {
		n = maxSymbolLen
	}
	if err := obj.ReadBytes(0, buf[:n]); err != nil {
		return "", err
	}
	for i := 0; i < n; i++ {
		if buf[i] == 0 {
			return string(buf[:i]), nil
		}
	}
	return string(buf[:n]), nil
}
