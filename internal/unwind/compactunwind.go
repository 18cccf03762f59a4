package unwind

import (
	"encoding/binary"
	"fmt"

	"github.com/tripwire/crashcore/internal/crashkind"
	"github.com/tripwire/crashcore/internal/imagelist"
	"github.com/tripwire/crashcore/internal/mobject"
	"github.com/tripwire/crashcore/internal/regstate"
)

// Compact-unwind encoding mode bits (top byte of the 32-bit encoding word),
// shared by the i386 and x86_64 compact-unwind schemes this reader targets
// (spec.md §1 scopes this module to x86-32/x86-64/32-bit ARM; ARM's legacy
// compact-unwind format is a frame-based-only subset of the same shape and
// is handled by the frame-based path below).
const (
	modeMask     = 0x0F000000
	modeRBPFrame = 0x01000000
	modeStackImm = 0x02000000
	modeStackInd = 0x03000000
	modeDWARF    = 0x04000000
)

const (
	frameOffsetMask  = 0x00FF0000
	frameOffsetShift = 16
	frameRegsMask    = 0x00007FFF

	framelessRegCountMask  = 0x00001C00
	framelessRegCountShift = 10
	framelessPermMask      = 0x000003FF
	framelessStackSzMask   = 0x00FF0000
	framelessStackSzShift  = 16

	dwarfOffsetMask = 0x00FFFFFF
)

// calleeSavedOrder is the order compact-unwind's frameless permutation
// assigns registers 1-6 to, for the architecture's callee-saved set. It is
// populated once in init() from regstate's own calleeSaved table, matching
// the "precompute, no allocation on the hot path" discipline this corpus's
// fixed-capacity caches use (a64145ea_calvinalkan-agent-task's slotcache).
var calleeSavedOrder [6]regstate.Reg

func init() {
	// The compact-unwind frameless permutation always lists exactly the
	// non-BP/SP/PC callee-saved registers, in increasing DWARF-number
	// order, as registers 1..6. We derive that subset generically so this
	// file doesn't hardcode per-arch register names.
	n := 0
	for _, r := range exportedCalleeSaved() {
		if r == regstate.SPReg || r == regstate.PCReg || r == regstate.FPReg {
			continue
		}
		if n < len(calleeSavedOrder) {
			calleeSavedOrder[n] = r
			n++
		}
	}
}

// permutationTable[regCount][permutationIndex] holds the decoded register
// order for that (regCount, permutation) pair, computed once here rather
// than re-derived on every frame step.
var permutationTable [7]map[uint32][6]int

func init() {
	for regCount := 1; regCount <= 6; regCount++ {
		permutationTable[regCount] = make(map[uint32][6]int)
		limit := permutationSpace(regCount)
		for p := uint32(0); p < limit; p++ {
			permutationTable[regCount][p] = decodePermutation(regCount, p)
		}
	}
}

func permutationSpace(regCount int) uint32 {
	// Number of ways to choose an ordered sequence of regCount items out of
	// 6, i.e. the falling factorial 6*5*...*(6-regCount+1).
	space := uint32(1)
	for i := 0; i < regCount; i++ {
		space *= uint32(6 - i)
	}
	return space
}

// decodePermutation reproduces Mach-O compact-unwind's Lehmer-code-style
// permutation decode exactly (the divisor sequence is specific to each
// regCount, not a uniform slice — see libunwind's CompactUnwinder.hpp,
// the reference this is transcribed from since no pack example carries it
// verbatim).
func decodePermutation(regCount int, permutation uint32) [6]int {
	var idx [6]uint32
	p := permutation
	switch regCount {
	case 6:
		idx[0] = p / 120
		p -= idx[0] * 120
		idx[1] = p / 24
		p -= idx[1] * 24
		idx[2] = p / 6
		p -= idx[2] * 6
		idx[3] = p / 2
		p -= idx[3] * 2
		idx[4] = p
	case 5:
		idx[0] = p / 120
		p -= idx[0] * 120
		idx[1] = p / 24
		p -= idx[1] * 24
		idx[2] = p / 6
		p -= idx[2] * 6
		idx[3] = p / 2
		p -= idx[3] * 2
		idx[4] = p
	case 4:
		idx[0] = p / 60
		p -= idx[0] * 60
		idx[1] = p / 12
		p -= idx[1] * 12
		idx[2] = p / 3
		p -= idx[2] * 3
		idx[3] = p
	case 3:
		idx[0] = p / 20
		p -= idx[0] * 20
		idx[1] = p / 4
		p -= idx[1] * 4
		idx[2] = p
	case 2:
		idx[0] = p / 5
		p -= idx[0] * 5
		idx[1] = p
	case 1:
		idx[0] = p
	}

	var perm [6]int
	var used [7]bool
	for i := 0; i < regCount; i++ {
		renum := uint32(0)
		for u := 1; u <= 6; u++ {
			if used[u] {
				continue
			}
			if renum == idx[i] {
				perm[i] = u
				used[u] = true
				break
			}
			renum++
		}
	}
	return perm
}

// CompactUnwindReader steps one frame using Mach-O's compact-unwind
// encoding (__unwind_info), a two-level (first-level index, second-level
// page) lookup from IP to a 32-bit encoding word, shaped like PE's
// .pdata/.xdata tables (other_examples/.../saferwall-pe__exception.go.go).
// It hands off to a DWARFCFIReader when an entry's mode bits select DWARF,
// and otherwise restores registers directly per the decoded encoding.
type CompactUnwindReader struct {
	dwarf *DWARFCFIReader
}

// NewCompactUnwindReader returns a CompactUnwindReader that delegates
// DWARF-mode entries to dwarf.
func NewCompactUnwindReader(dwarf *DWARFCFIReader) *CompactUnwindReader {
	return &CompactUnwindReader{dwarf: dwarf}
}

func (c *CompactUnwindReader) Advance(in *regstate.State, images *imagelist.List) (*regstate.State, error) {
	pc, err := in.Get(regstate.PCReg)
	if err != nil {
		return nil, fmt.Errorf("compactunwind: no pc in input state: %w", crashkind.ErrBadFrame)
	}
	img, ok := images.FindByAddress(uintptr(pc))
	if !ok {
		return nil, fmt.Errorf("compactunwind: no image contains pc %#x: %w", pc, crashkind.ErrNotFound)
	}
	r, err := imageReader(img)
	if err != nil {
		return nil, fmt.Errorf("compactunwind: mach-o reader for %s: %w", img.Path, err)
	}
	ui, err := r.MapSection("__TEXT", "__unwind_info")
	if err != nil {
		return nil, fmt.Errorf("compactunwind: %s has no __unwind_info: %w", img.Path, crashkind.ErrNotFound)
	}
	defer ui.Free()

	unslidPC := uint32(uintptr(pc) - img.Slide)
	encoding, err := lookupEncoding(ui, r.ByteOrder(), unslidPC)
	if err != nil {
		return nil, err
	}

	switch encoding & modeMask {
	case modeRBPFrame:
		return c.advanceFrameBased(in, encoding)
	case modeStackImm, modeStackInd:
		return c.advanceFrameless(in, encoding)
	case modeDWARF:
		fdeOffset := encoding & dwarfOffsetMask
		return c.dwarf.AdvanceAtFDEOffset(in, img, fdeOffset)
	default:
		return nil, fmt.Errorf("compactunwind: unrecognized mode %#x: %w", encoding&modeMask, crashkind.ErrNotSupported)
	}
}

// advanceFrameBased restores callee-saved registers saved at fixed,
// negative offsets from the frame pointer, then defers to the
// frame-pointer restore tail for FP/SP/PC, matching real Mach-O
// RBP-frame-mode semantics.
func (c *CompactUnwindReader) advanceFrameBased(in *regstate.State, encoding uint32) (*regstate.State, error) {
	fp, err := in.Get(regstate.FPReg)
	if err != nil {
		return nil, fmt.Errorf("compactunwind: no frame pointer: %w", crashkind.ErrBadFrame)
	}
	if fp == 0 {
		return nil, fmt.Errorf("compactunwind: fp is zero: %w", crashkind.ErrEOF)
	}

	savedOffset := (encoding & frameOffsetMask) >> frameOffsetShift
	regsWord := encoding & frameRegsMask
	ptrSize := uintptr(regstate.PointerSize)

	out := in.Clone()
	out.ClearVolatile()

	base := uintptr(fp) - uintptr(savedOffset)*ptrSize
	for slot := 0; slot < 5; slot++ {
		sel := (regsWord >> uint(slot*3)) & 0x7
		if sel == 0 {
			continue
		}
		reg, ok := frameRegisterForSelector(sel)
		if !ok {
			continue
		}
		addr := base + uintptr(slot)*ptrSize
		v, err := readPointerAt(addr, ptrSize)
		if err != nil {
			continue
		}
		out.Set(reg, v)
	}

	return (&FramePointerReader{}).Advance(&out, nil)
}

// advanceFrameless restores the callee-saved registers the encoding's
// permutation names, from a stack-offset base, then computes SP/PC/FP
// directly (there is no frame-pointer chain to defer to: frameless
// functions never set one up).
func (c *CompactUnwindReader) advanceFrameless(in *regstate.State, encoding uint32) (*regstate.State, error) {
	regCount := int((encoding & framelessRegCountMask) >> framelessRegCountShift)
	permutation := encoding & framelessPermMask
	stackSize := (encoding & framelessStackSzMask) >> framelessStackSzShift

	sp, err := in.Get(regstate.SPReg)
	if err != nil {
		return nil, fmt.Errorf("compactunwind: no sp: %w", crashkind.ErrBadFrame)
	}

	ptrSize := uintptr(regstate.PointerSize)
	frameSize := uintptr(stackSize) * ptrSize

	out := in.Clone()
	out.ClearVolatile()

	if regCount > 0 {
		order, ok := permutationTable[regCount][permutation]
		if !ok {
			return nil, fmt.Errorf("compactunwind: permutation %d out of range for regCount %d: %w", permutation, regCount, crashkind.ErrInvalidData)
		}
		// Saved registers sit just above the return address, in increasing
		// address order matching the permutation's left-to-right order.
		base := uintptr(sp) + frameSize - ptrSize*uintptr(regCount+1)
		for i := 0; i < regCount; i++ {
			slotNum := order[i]
			if slotNum == 0 || slotNum > 6 {
				continue
			}
			reg := calleeSavedOrder[slotNum-1]
			addr := base + uintptr(i)*ptrSize
			v, err := readPointerAt(addr, ptrSize)
			if err != nil {
				continue
			}
			out.Set(reg, v)
		}
	}

	retAddrAddr := uintptr(sp) + frameSize - ptrSize
	retAddr, err := readPointerAt(retAddrAddr, ptrSize)
	if err != nil {
		return nil, fmt.Errorf("compactunwind: read return address: %w", err)
	}
	if retAddr == 0 {
		return nil, fmt.Errorf("compactunwind: return address is zero: %w", crashkind.ErrEOF)
	}

	out.Set(regstate.SPReg, uint64(uintptr(sp)+frameSize))
	out.Set(regstate.PCReg, retAddr)
	return &out, nil
}

func frameRegisterForSelector(sel uint32) (regstate.Reg, bool) {
	if sel == 0 || sel > 6 {
		return 0, false
	}
	return calleeSavedOrder[sel-1], true
}

func readPointerAt(addr, ptrSize uintptr) (uint64, error) {
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
		return binary.LittleEndian.Uint64(buf[:8]), nil
	}
	return uint64(binary.LittleEndian.Uint32(buf[:4])), nil
}

// lookupEncoding performs the two-level __unwind_info lookup: the
// first-level index (sorted by function offset) selects a page, whose
// header says whether it is a regular (uncompressed) or compressed
// second-level page; either way the result is a 32-bit encoding word.
func lookupEncoding(ui *mobject.Object, order binary.ByteOrder, unslidPC uint32) (uint32, error) {
	var hdr [28]byte
	if err := ui.ReadBytes(0, hdr[:]); err != nil {
		return 0, err
	}
	indexOff := order.Uint32(hdr[20:24])
	indexCount := order.Uint32(hdr[24:28])
	if indexCount == 0 {
		return 0, fmt.Errorf("compactunwind: empty first-level index: %w", crashkind.ErrNotFound)
	}

	const firstLevelEntrySize = 12
	lo, hi := uint32(0), indexCount-1
	var entryIdx uint32
	found := false
	for lo <= hi {
		mid := lo + (hi-lo)/2
		var entry [firstLevelEntrySize]byte
		if err := ui.ReadBytes(uintptr(indexOff+mid*firstLevelEntrySize), entry[:]); err != nil {
			return 0, err
		}
		fnOff := order.Uint32(entry[0:4])
		if fnOff <= unslidPC {
			entryIdx = mid
			found = true
			if mid == hi {
				break
			}
			lo = mid + 1
		} else {
			if mid == 0 {
				break
			}
			hi = mid - 1
		}
	}
	if !found {
		return 0, fmt.Errorf("compactunwind: pc %#x before first indexed function: %w", unslidPC, crashkind.ErrNotFound)
	}

	var entry, nextEntry [firstLevelEntrySize]byte
	if err := ui.ReadBytes(uintptr(indexOff+entryIdx*firstLevelEntrySize), entry[:]); err != nil {
		return 0, err
	}
	if entryIdx+1 >= indexCount {
		return 0, fmt.Errorf("compactunwind: pc %#x past last indexed range: %w", unslidPC, crashkind.ErrNotFound)
	}
	if err := ui.ReadBytes(uintptr(indexOff+(entryIdx+1)*firstLevelEntrySize), nextEntry[:]); err != nil {
		return 0, err
	}
	fnOff := order.Uint32(entry[0:4])
	secondLevelOff := order.Uint32(entry[4:8])
	nextFnOff := order.Uint32(nextEntry[0:4])
	if unslidPC >= nextFnOff {
		return 0, fmt.Errorf("compactunwind: pc %#x past indexed range: %w", unslidPC, crashkind.ErrNotFound)
	}
	if secondLevelOff == 0 {
		return 0, fmt.Errorf("compactunwind: range [%#x,%#x) has no second-level page: %w", fnOff, nextFnOff, crashkind.ErrNotFound)
	}

	var kindBuf [4]byte
	if err := ui.ReadBytes(uintptr(secondLevelOff), kindBuf[:]); err != nil {
		return 0, err
	}
	kind := order.Uint32(kindBuf[:])

	switch kind {
	case 2: // regular
		return lookupRegularPage(ui, order, secondLevelOff, unslidPC)
	case 3: // compressed
		return lookupCompressedPage(ui, order, secondLevelOff, fnOff, unslidPC)
	default:
		return 0, fmt.Errorf("compactunwind: unknown second-level page kind %d: %w", kind, crashkind.ErrInvalidData)
	}
}

func lookupRegularPage(ui *mobject.Object, order binary.ByteOrder, pageOff, unslidPC uint32) (uint32, error) {
	var hdr [8]byte
	if err := ui.ReadBytes(uintptr(pageOff), hdr[:]); err != nil {
		return 0, err
	}
	entryPageOffset := order.Uint16(hdr[4:6])
	entryCount := order.Uint16(hdr[6:8])

	const entrySize = 8
	base := pageOff + uint32(entryPageOffset)
	var best uint32
	foundEncoding := uint32(0)
	found := false
	for i := uint16(0); i < entryCount; i++ {
		var e [entrySize]byte
		if err := ui.ReadBytes(uintptr(base+uint32(i)*entrySize), e[:]); err != nil {
			return 0, err
		}
		fnOff := order.Uint32(e[0:4])
		if fnOff <= unslidPC && (!found || fnOff >= best) {
			best = fnOff
			foundEncoding = order.Uint32(e[4:8])
			found = true
		}
	}
	if !found {
		return 0, fmt.Errorf("compactunwind: pc %#x not in regular page: %w", unslidPC, crashkind.ErrNotFound)
	}
	return foundEncoding, nil
}

func lookupCompressedPage(ui *mobject.Object, order binary.ByteOrder, pageOff, firstFnOff, unslidPC uint32) (uint32, error) {
	var hdr [12]byte
	if err := ui.ReadBytes(uintptr(pageOff), hdr[:]); err != nil {
		return 0, err
	}
	entryPageOffset := order.Uint16(hdr[4:6])
	entryCount := order.Uint16(hdr[6:8])
	encodingsPageOffset := order.Uint16(hdr[8:10])

	const entrySize = 4
	base := pageOff + uint32(entryPageOffset)
	var bestFnOff uint32
	var bestEncIdx uint32
	found := false
	for i := uint16(0); i < entryCount; i++ {
		var e [entrySize]byte
		if err := ui.ReadBytes(uintptr(base+uint32(i)*entrySize), e[:]); err != nil {
			return 0, err
		}
		word := order.Uint32(e[:])
		relFnOff := word & 0x00FFFFFF
		encIdx := word >> 24
		fnOff := firstFnOff + relFnOff
		if fnOff <= unslidPC && (!found || fnOff >= bestFnOff) {
			bestFnOff = fnOff
			bestEncIdx = encIdx
			found = true
		}
	}
	if !found {
		return 0, fmt.Errorf("compactunwind: pc %#x not in compressed page: %w", unslidPC, crashkind.ErrNotFound)
	}

	encOff := pageOff + uint32(encodingsPageOffset) + bestEncIdx*4
	var encBuf [4]byte
	if err := ui.ReadBytes(uintptr(encOff), encBuf[:]); err != nil {
		return 0, err
	}
	return order.Uint32(encBuf[:]), nil
}

// exportedCalleeSaved gives this file the architecture's callee-saved
// register set without importing regstate's unexported table directly.
func exportedCalleeSaved() []regstate.Reg {
	return regstate.CalleeSaved()
}
