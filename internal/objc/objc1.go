package objc

import (
	"encoding/binary"
	"fmt"

	"github.com/tripwire/crashcore/internal/crashkind"
	"github.com/tripwire/crashcore/internal/macho"
)

// Legacy ("ObjC1") runtime structure sizes and field offsets, fixed at
// 32-bit pointer width: this ABI only ever existed on i386 and ARMv6.
//
//	struct objc_module {
//	    unsigned long version;   // +0
//	    unsigned long size;      // +4
//	    char         *name;      // +8
//	    objc_symtab  *symtab;    // +12
//	};
const (
	moduleSymtabOff = 12
	moduleSize      = 16

	// struct objc_symtab { unsigned long sel_ref_cnt; SEL *refs;
	//                      unsigned short cls_def_cnt, cat_def_cnt; void *defs[]; }
	symtabClsCountOff = 8
	symtabCatCountOff = 10
	symtabDefsOff     = 12

	// struct objc_class (old ABI, class definitions only — categories that
	// follow the class defs in objc_symtab.defs are skipped, never walked,
	// per this package's contract):
	//   isa, super_class, name, version, info, instance_size, ivars,
	//   methodLists, cache, protocols — all pointer/long sized.
	classIsaOff         = 0
	classNameOff        = 8
	classInfoOff        = 16
	classMethodListsOff = 28

	clsNoMethodArray = 0x4000 // info bit: methodLists is a single list, not an array

	// struct objc_method_list { void *obsolete; int method_count; objc_method list[]; }
	methodListCountOff = 4
	methodListEntsOff  = 8
	// struct objc_method { SEL name; char *types; IMP imp; } — 3 pointers,
	// so each entry is 12 bytes wide on this 32-bit-only ABI.
	methodEntrySize = 12
)

// parseObjC1 walks the legacy __OBJC/__module_info section, if present. It
// returns crashkind.ErrNotFound if the image has no such section, matching
// the "not my format, try the next implementation" convention frame
// readers use.
func parseObjC1(r *macho.Reader, slide uintptr, cb MethodCallback) error {
	sec, ok := r.Section("__OBJC", "__module_info")
	if !ok {
		return fmt.Errorf("objc1: no __module_info section: %w", crashkind.ErrNotFound)
	}
	order := r.ByteOrder()
	const ptrSize = 4 // ObjC1 only ever shipped on 32-bit targets.

	for off := uintptr(0); off+moduleSize <= sec.Size; off += moduleSize {
		modAddr := sec.Addr + off
		symtabPtr, err := readPtrAt(modAddr+moduleSymtabOff, ptrSize, order)
		if err != nil || symtabPtr == 0 {
			continue
		}
		if err := parseObjC1Symtab(uintptr(symtabPtr), order, slide, cb); err != nil {
			return err
		}
	}
	return nil
}

func parseObjC1Symtab(symtabAddr uintptr, order binary.ByteOrder, slide uintptr, cb MethodCallback) error {
	clsCount, err := readU16At(symtabAddr+symtabClsCountOff, order)
	if err != nil {
		return nil
	}

	defsAddr := symtabAddr + symtabDefsOff
	for i := uint16(0); i < clsCount; i++ {
		classPtr, err := readPtrAt(defsAddr+uintptr(i)*4, 4, order)
		if err != nil || classPtr == 0 {
			continue
		}
		parseObjC1Class(uintptr(classPtr), order, slide, false, cb)

		// A class's +-prefixed (class) methods live on its metaclass, not
		// on the class itself, reached via the class's isa pointer — same
		// one-hop convention as the ObjC2 walk. The root metaclass's isa
		// points back to itself, but since this walk only happens here
		// (not recursively inside parseObjC1Class), that's harmless.
		isaAddr, err := readPtrAt(uintptr(classPtr)+classIsaOff, 4, order)
		if err != nil || isaAddr == 0 {
			continue
		}
		parseObjC1Class(uintptr(isaAddr), order, slide, true, cb)
	}
	return nil
}

func parseObjC1Class(classAddr uintptr, order binary.ByteOrder, slide uintptr, isMeta bool, cb MethodCallback) {
	nameAddr, err := readPtrAt(classAddr+classNameOff, 4, order)
	if err != nil || nameAddr == 0 {
		return
	}
	className, err := readCStringAt(uintptr(nameAddr))
	if err != nil {
		return
	}

	info, err := readU32At(classAddr+classInfoOff, order)
	if err != nil {
		return
	}
	methodListsAddr, err := readPtrAt(classAddr+classMethodListsOff, 4, order)
	if err != nil || methodListsAddr == 0 {
		return
	}

	if info&clsNoMethodArray != 0 {
		walkObjC1MethodList(uintptr(methodListsAddr), order, slide, className, isMeta, cb)
		return
	}

	// methodLists points at a NUL-terminated array of method-list pointers.
	for i := 0; i < 4096; i++ {
		entryAddr := uintptr(methodListsAddr) + uintptr(i)*4
		listPtr, err := readPtrAt(entryAddr, 4, order)
		if err != nil || listPtr == 0 {
			return
		}
		walkObjC1MethodList(uintptr(listPtr), order, slide, className, isMeta, cb)
	}
}

func walkObjC1MethodList(listAddr uintptr, order binary.ByteOrder, slide uintptr, className string, isMeta bool, cb MethodCallback) {
	count, err := readU32At(listAddr+methodListCountOff, order)
	if err != nil {
		return
	}
	base := listAddr + methodListEntsOff
	for i := uint32(0); i < count; i++ {
		entry := base + uintptr(i)*methodEntrySize
		selAddr, err := readPtrAt(entry, 4, order)
		if err != nil || selAddr == 0 {
			continue
		}
		impAddr, err := readPtrAt(entry+8, 4, order)
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
