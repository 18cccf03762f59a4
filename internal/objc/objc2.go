package objc

import (
	"encoding/binary"
	"fmt"

	"github.com/tripwire/crashcore/internal/crashkind"
	"github.com/tripwire/crashcore/internal/macho"
)

// Modern ("ObjC2") runtime field layout. Field offsets below are the
// commonly documented ones for the current runtime's class_rw_t/class_ro_t
// (see e.g. blacktop/go-macho's types/objc); Apple does not publish these
// as stable ABI and they have shifted across OS releases, so treat this as
// a representative, not byte-exact-to-any-specific-OS-version, decode.
const (
	// struct objc_class { isa, superclass Class; cache_t cache; Class_data_bits_t bits; }
	// cache_t is two pointer-sized words on every version this package
	// targets (buckets + a packed occupied/mask word). isa is the first
	// field, at offset 0 regardless of pointer width.
	classIsaOffset       = 0
	classBitsOffsetIn64 = 4 * 8
	classBitsOffsetIn32 = 4 * 4

	classDataMask = ^uintptr(3) // low 2 bits are flags, per this package's chosen convention

	rwRealized = 1 << 31 // class_rw_t.flags bit: class has been realized

	// class_ro_t layout, 64-bit pointers:
	roFlagsOff64    = 0
	roNameOff64     = 24
	roMethodsOff64  = 32
	roEntrySize64   = 72
	// class_ro_t layout, 32-bit pointers:
	roFlagsOff32   = 0
	roNameOff32    = 16
	roMethodsOff32 = 20
	roEntrySize32  = 40

	roFlagCopied = 1 << 3 // this package's chosen bit for "class_ro_t was duplicated into writable memory"

	// struct method_list_t { uint32_t entsize; uint32_t count; method_t first[]; }
	methodListT2CountOff = 4
	methodListT2BaseOff  = 8
	// struct method_t { SEL name; const char *types; IMP imp; } — absolute-
	// pointer method lists, the format this package decodes; relative
	// ("small") method lists are not decoded.
)

// parseObjC2 walks __DATA/__objc_classlist, resolving each class's
// class_rw_t -> class_ro_t -> method list chain. Returns ErrNotFound if the
// image carries no ObjC2 class list at all.
func (s *Session) parseObjC2(r *macho.Reader, slide uintptr, cb MethodCallback) error {
	sec, ok := r.Section("__DATA", "__objc_classlist")
	if !ok {
		sec, ok = r.Section("__DATA_CONST", "__objc_classlist")
	}
	if !ok {
		return fmt.Errorf("objc2: no __objc_classlist section: %w", crashkind.ErrNotFound)
	}

	order := r.ByteOrder()
	ptrSize := uintptr(4)
	if r.Pointer64() {
		ptrSize = 8
	}

	for off := uintptr(0); off+ptrSize <= sec.Size; off += ptrSize {
		classPtr, err := readPtrAt(sec.Addr+off, ptrSize, order)
		if err != nil || classPtr == 0 {
			continue
		}
		s.parseObjC2Class(uintptr(classPtr), ptrSize, order, slide, false, cb)

		// A class's +-prefixed (class) methods live on its metaclass, not
		// on the class itself: the metaclass is just another class_t whose
		// own class_rw_t/class_ro_t method list holds them, reached via the
		// class's isa pointer. The root metaclass's isa points back to
		// itself, but since that walk only happens here (not recursively
		// inside parseObjC2Class), one hop is all this ever takes.
		isaAddr, err := readPtrAt(uintptr(classPtr)+classIsaOffset, ptrSize, order)
		if err != nil || isaAddr == 0 {
			continue
		}
		s.parseObjC2Class(uintptr(isaAddr), ptrSize, order, slide, true, cb)
	}
	return nil
}

func (s *Session) parseObjC2Class(classAddr uintptr, ptrSize uintptr, order binary.ByteOrder, slide uintptr, isMeta bool, cb MethodCallback) {
	bitsOff := uintptr(classBitsOffsetIn64)
	if ptrSize == 4 {
		bitsOff = classBitsOffsetIn32
	}
	bits, err := readPtrAt(classAddr+bitsOff, ptrSize, order)
	if err != nil || bits == 0 {
		return
	}
	dataRW := uintptr(bits) & classDataMask

	if s.cache != nil {
		if cached, ok := s.cache.Lookup(dataRW); ok {
			s.emitMethods(cached.roAddr, cached.nameAddr, ptrSize, order, slide, isMeta, cb)
			return
		}
	}

	flags, err := readU32At(dataRW, order)
	if err != nil {
		return
	}
	if flags&rwRealized == 0 {
		return // not yet realized: no stable class_ro_t to read
	}

	roPtrOff := ptrSize // class_rw_t: uint32 flags, then padding, then `ro` at the next pointer slot
	roAddr, err := readPtrAt(dataRW+roPtrOff, ptrSize, order)
	if err != nil || roAddr == 0 {
		return
	}

	roFlagsOff, roNameOff, roMethodsOff := uintptr(roFlagsOff64), uintptr(roNameOff64), uintptr(roMethodsOff64)
	if ptrSize == 4 {
		roFlagsOff, roNameOff, roMethodsOff = roFlagsOff32, roNameOff32, roMethodsOff32
	}

	resolvedRO := uintptr(roAddr)
	roFlags, err := readU32At(resolvedRO+roFlagsOff, order)
	if err != nil {
		return
	}

	nameAddr, err := readPtrAt(resolvedRO+roNameOff, ptrSize, order)
	if err != nil || nameAddr == 0 {
		return
	}

	// A COPIED_RO class_ro_t may be relocated by the runtime between
	// calls, so only cache classes whose class_ro_t lives at a stable,
	// mapped-in-the-image address.
	if s.cache != nil && roFlags&roFlagCopied == 0 {
		s.cache.Insert(classROEntry{dataRW: dataRW, roAddr: resolvedRO + roMethodsOff, nameAddr: uintptr(nameAddr)})
	}
	s.emitMethods(resolvedRO+roMethodsOff, uintptr(nameAddr), ptrSize, order, slide, isMeta, cb)
}

func (s *Session) emitMethods(methodsFieldAddr, nameAddr uintptr, ptrSize uintptr, order binary.ByteOrder, slide uintptr, isMeta bool, cb MethodCallback) {
	className, err := readCStringAt(nameAddr)
	if err != nil {
		return
	}

	listPtr, err := readPtrAt(methodsFieldAddr, ptrSize, order)
	if err != nil || listPtr == 0 {
		return
	}

	count, err := readU32At(uintptr(listPtr)+methodListT2CountOff, order)
	if err != nil {
		return
	}
	entsize, err := readU32At(uintptr(listPtr), order)
	if err != nil {
		return
	}
	entsize &^= 0x3 // low bits: list-format flags this package doesn't interpret

	base := uintptr(listPtr) + methodListT2BaseOff
	for i := uint32(0); i < count; i++ {
		entry := base + uintptr(i)*uintptr(entsize)
		selAddr, err := readPtrAt(entry, ptrSize, order)
		if err != nil || selAddr == 0 {
			continue
		}
		impAddr, err := readPtrAt(entry+2*ptrSize, ptrSize, order)
		if err != nil || impAddr == 0 {
			continue
		}
		selName, err := readCStringAt(uintptr(selAddr))
		if err != nil {
			continue
		}
		cb(isMeta, className, selName, uintptr(impAddr)+slide)
	}
}
