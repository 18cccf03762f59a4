package unwind

import (
	"encoding/binary"
	"fmt"

	"github.com/tripwire/crashcore/internal/crashkind"
	"github.com/tripwire/crashcore/internal/imagelist"
	"github.com/tripwire/crashcore/internal/macho"
	"github.com/tripwire/crashcore/internal/mobject"
	"github.com/tripwire/crashcore/internal/regstate"
)

// maxDwarfReg bounds the register-rule table: every architecture this
// module supports (spec.md §1) numbers its DWARF registers well under this.
const maxDwarfReg = 48

// maxCFIOperands bounds the fixed-size stack evalDWARFExpr uses to
// evaluate a DW_CFA_expression/def_cfa_expression/val_expression
// operand's DWARF expression; no slice append runs on this path
// (spec.md §7). DWARF expressions this unwinder actually encounters
// (register-biased address computations) run a handful of operations
// deep, so 16 is generous headroom over a hard cap rather than a tight
// fit.
const maxCFIOperands = 16

type ruleKind uint8

const (
	ruleUndefined ruleKind = iota
	ruleSameValue
	ruleOffsetN   // value at CFA+offset
	ruleValOffsetN // value is CFA+offset
	ruleRegisterR  // value is in another register
	ruleExpression    // value is *(eval(expr)): DW_CFA_expression
	ruleValExpression // value is eval(expr): DW_CFA_val_expression
)

type cfiRule struct {
	kind   ruleKind
	offset int64
	reg    int
	expr   []byte // set only for ruleExpression/ruleValExpression
}

type cfaRule struct {
	register int
	offset   int64
	expr     []byte // set only for a DW_CFA_def_cfa_expression CFA rule
}

type cfiTable struct {
	cfa   cfaRule
	rules [maxDwarfReg]cfiRule
}

// cieInfo holds the parts of a parsed CIE this unwinder needs.
type cieInfo struct {
	codeAlignment uint64
	dataAlignment int64
	retAddrReg    int
	fdePtrEncoding byte // from augmentation 'R', defaults to absptr
	hasAugZ       bool
	initialInstrs []byte
}

// DWARFCFIReader steps one frame by running the CFI (Call Frame
// Information) virtual machine described by an image's __eh_frame section.
// It is consulted either directly by the cursor (scanning __eh_frame for
// the FDE covering the current IP) or via an explicit FDE offset handed to
// it by CompactUnwindReader when a compact-unwind entry's encoding selects
// UNWIND_*_MODE_DWARF.
type DWARFCFIReader struct{}

// NewDWARFCFIReader returns a ready-to-use DWARFCFIReader.
func NewDWARFCFIReader() *DWARFCFIReader { return &DWARFCFIReader{} }

// Advance scans the current image's __eh_frame for the FDE covering the
// input state's PC and steps through it.
func (d *DWARFCFIReader) Advance(in *regstate.State, images *imagelist.List) (*regstate.State, error) {
	pc, err := in.Get(regstate.PCReg)
	if err != nil {
		return nil, fmt.Errorf("dwarfcfi: no pc in input state: %w", crashkind.ErrBadFrame)
	}
	img, ok := images.FindByAddress(uintptr(pc))
	if !ok {
		return nil, fmt.Errorf("dwarfcfi: no image contains pc %#x: %w", pc, crashkind.ErrNotFound)
	}
	r, err := imageReader(img)
	if err != nil {
		return nil, fmt.Errorf("dwarfcfi: mach-o reader for %s: %w", img.Path, err)
	}
	eh, err := r.MapSection("__TEXT", "__eh_frame")
	if err != nil {
		return nil, fmt.Errorf("dwarfcfi: %s has no __eh_frame: %w", img.Path, crashkind.ErrNotFound)
	}
	defer eh.Free()

	fdeOff, cie, fde, err := findFDEForPC(eh, r.ByteOrder(), uintptr(regstate.PointerSize), uintptr(pc)-img.Slide)
	if err != nil {
		return nil, err
	}
	_ = fdeOff
	return runCFI(in, cie, fde, uintptr(pc)-img.Slide, img.Slide)
}

// AdvanceAtFDEOffset steps through the FDE located at a known byte offset
// into the image's __eh_frame section, skipping the linear scan. This is
// the path CompactUnwindReader takes when an encoding's mode bits say
// "DWARF" and already carry the FDE's offset.
func (d *DWARFCFIReader) AdvanceAtFDEOffset(in *regstate.State, img *imagelist.Image, fdeOffset uint32) (*regstate.State, error) {
	r, err := imageReader(img)
	if err != nil {
		return nil, fmt.Errorf("dwarfcfi: mach-o reader for %s: %w", img.Path, err)
	}
	eh, err := r.MapSection("__TEXT", "__eh_frame")
	if err != nil {
		return nil, fmt.Errorf("dwarfcfi: %s has no __eh_frame: %w", img.Path, crashkind.ErrNotFound)
	}
	defer eh.Free()

	cie, fde, err := parseFDEAt(eh, r.ByteOrder(), uintptr(regstate.PointerSize), uintptr(fdeOffset))
	if err != nil {
		return nil, err
	}
	pc, err := in.Get(regstate.PCReg)
	if err != nil {
		return nil, fmt.Errorf("dwarfcfi: no pc in input state: %w", crashkind.ErrBadFrame)
	}
	return runCFI(in, cie, fde, uintptr(pc)-img.Slide, img.Slide)
}

type fdeInfo struct {
	pcBegin    uintptr
	pcRange    uintptr
	instrBytes []byte
}

// findFDEForPC linearly scans __eh_frame's CIE/FDE records for the FDE
// whose [pcBegin, pcBegin+pcRange) contains unslidPC. Entries are length-
// prefixed, so the scan is O(section size) but touches no record outside
// what each length field vouches for.
func findFDEForPC(eh *mobject.Object, order binary.ByteOrder, ptrSize, unslidPC uintptr) (uintptr, *cieInfo, *fdeInfo, error) {
	off := uintptr(0)
	cies := map[uintptr]*cieInfo{}

	for off+4 <= eh.Length() {
		recStart := off
		var lenBuf [4]byte
		if err := eh.ReadBytes(off, lenBuf[:]); err != nil {
			return 0, nil, nil, fmt.Errorf("dwarfcfi: read record length: %w", err)
		}
		length := uintptr(order.Uint32(lenBuf[:]))
		off += 4
		if length == 0 {
			break // terminator entry
		}
		if length == 0xFFFFFFFF {
			return 0, nil, nil, fmt.Errorf("dwarfcfi: 64-bit DWARF extended length unsupported: %w", crashkind.ErrNotSupported)
		}
		recEnd := off + length
		if recEnd > eh.Length() {
			return 0, nil, nil, fmt.Errorf("dwarfcfi: record overruns section: %w", crashkind.ErrInvalidData)
		}

		var idBuf [4]byte
		if err := eh.ReadBytes(off, idBuf[:]); err != nil {
			return 0, nil, nil, err
		}
		id := order.Uint32(idBuf[:])

		if id == 0 {
			cie, err := parseCIE(eh, order, off+4, recEnd)
			if err != nil {
				return 0, nil, nil, err
			}
			cies[recStart] = cie
		} else {
			cieStart := off - uintptr(id)
			cie, ok := cies[cieStart]
			if !ok {
				var err error
				cie, err = parseCIE(eh, order, cieStart+4, recEnd) // best-effort: assume contiguous header
				if err != nil {
					return 0, nil, nil, fmt.Errorf("dwarfcfi: FDE references unparsed CIE: %w", crashkind.ErrInvalidData)
				}
				cies[cieStart] = cie
			}
			fde, err := parseFDEBody(eh, order, ptrSize, cie, off+4, recEnd)
			if err == nil && unslidPC >= fde.pcBegin && unslidPC < fde.pcBegin+fde.pcRange {
				return recStart, cie, fde, nil
			}
		}

		off = recEnd
	}
	return 0, nil, nil, fmt.Errorf("dwarfcfi: no FDE covers pc %#x: %w", unslidPC, crashkind.ErrNotFound)
}

// parseFDEAt parses a single CIE+FDE pair starting at a known FDE record
// offset, used by the compact-unwind DWARF-mode handoff.
func parseFDEAt(eh *mobject.Object, order binary.ByteOrder, ptrSize, fdeOff uintptr) (*cieInfo, *fdeInfo, error) {
	var lenBuf [4]byte
	if err := eh.ReadBytes(fdeOff, lenBuf[:]); err != nil {
		return nil, nil, err
	}
	length := uintptr(order.Uint32(lenBuf[:]))
	recEnd := fdeOff + 4 + length

	var idBuf [4]byte
	if err := eh.ReadBytes(fdeOff+4, idBuf[:]); err != nil {
		return nil, nil, err
	}
	id := order.Uint32(idBuf[:])
	if id == 0 {
		return nil, nil, fmt.Errorf("dwarfcfi: offset %#x is a CIE, not an FDE: %w", fdeOff, crashkind.ErrInvalidArg)
	}
	cieStart := fdeOff + 4 - uintptr(id)
	var cieLenBuf [4]byte
	if err := eh.ReadBytes(cieStart, cieLenBuf[:]); err != nil {
		return nil, nil, err
	}
	cieLen := uintptr(order.Uint32(cieLenBuf[:]))
	cie, err := parseCIE(eh, order, cieStart+4, cieStart+4+cieLen)
	if err != nil {
		return nil, nil, err
	}
	fde, err := parseFDEBody(eh, order, ptrSize, cie, fdeOff+8, recEnd)
	if err != nil {
		return nil, nil, err
	}
	return cie, fde, nil
}

func parseCIE(eh *mobject.Object, order binary.ByteOrder, start, end uintptr) (*cieInfo, error) {
	off := start
	readByte := func() (byte, error) {
		var b [1]byte
		if err := eh.ReadBytes(off, b[:]); err != nil {
			return 0, err
		}
		off++
		return b[0], nil
	}

	version, err := readByte()
	if err != nil {
		return nil, err
	}
	_ = version

	var augBuf []byte
	for {
		b, err := readByte()
		if err != nil {
			return nil, err
		}
		if b == 0 {
			break
		}
		augBuf = append(augBuf, b)
	}

	codeAlign, n, err := readULEBAt(eh, off)
	if err != nil {
		return nil, err
	}
	off += n
	dataAlign, n, err := readSLEBAt(eh, off)
	if err != nil {
		return nil, err
	}
	off += n

	retAddrRegU, n, err := readULEBAt(eh, off)
	if err != nil {
		return nil, err
	}
	off += n

	cie := &cieInfo{
		codeAlignment:  codeAlign,
		dataAlignment:  dataAlign,
		retAddrReg:     int(retAddrRegU),
		fdePtrEncoding: 0x00, // absptr default
	}

	hasZ := len(augBuf) > 0 && augBuf[0] == 'z'
	cie.hasAugZ = hasZ
	if hasZ {
		augLen, n, err := readULEBAt(eh, off)
		if err != nil {
			return nil, err
		}
		off += n
		augDataEnd := off + uintptr(augLen)

		cur := off
	augLoop:
		for _, c := range augBuf[1:] {
			switch c {
			case 'R':
				var eb [1]byte
				if err := eh.ReadBytes(cur, eb[:]); err != nil {
					return nil, err
				}
				cie.fdePtrEncoding = eb[0]
				cur++
			case 'P':
				var eb [1]byte
				if err := eh.ReadBytes(cur, eb[:]); err != nil {
					return nil, err
				}
				cur++
				_, sz, err := decodeEncodedPointerSize(eb[0])
				if err != nil {
					// unknown personality encoding size: the remaining
					// augmentation-data offsets (e.g. a following 'R') can
					// no longer be trusted, so stop walking the string
					// entirely rather than just this case — off is set from
					// augDataEnd below regardless.
					break augLoop
				}
				cur += sz
			case 'L':
				cur++ // one encoding byte, value itself lives in the FDE
			}
		}
		off = augDataEnd
	}

	cie.initialInstrs = make([]byte, end-off)
	if err := eh.ReadBytes(off, cie.initialInstrs); err != nil {
		return nil, err
	}
	return cie, nil
}

func parseFDEBody(eh *mobject.Object, order binary.ByteOrder, ptrSize uintptr, cie *cieInfo, start, end uintptr) (*fdeInfo, error) {
	off := start
	encSize, err := encodedFieldSize(cie.fdePtrEncoding, ptrSize)
	if err != nil {
		return nil, err
	}
	pcBegin, err := readEncodedPointer(eh, order, off, cie.fdePtrEncoding, encSize)
	if err != nil {
		return nil, err
	}
	off += encSize
	// pcRange is always an absolute (non-pcrel) value of the same size as
	// the application part of the encoding, per the LSB eh_frame spec.
	pcRange, err := readEncodedPointer(eh, order, off, cie.fdePtrEncoding&0x0F, encSize)
	if err != nil {
		return nil, err
	}
	off += encSize

	if cie.hasAugZ {
		augLen, n, err := readULEBAt(eh, off)
		if err != nil {
			return nil, err
		}
		off += n + uintptr(augLen)
	}

	if off > end {
		return nil, fmt.Errorf("dwarfcfi: FDE augmentation overruns record: %w", crashkind.ErrInvalidData)
	}
	instrBytes := make([]byte, end-off)
	if err := eh.ReadBytes(off, instrBytes); err != nil {
		return nil, err
	}

	return &fdeInfo{
		pcBegin:    pcBegin,
		pcRange:    pcRange,
		instrBytes: instrBytes,
	}, nil
}

func runCFI(in *regstate.State, cie *cieInfo, fde *fdeInfo, unslidPC, slide uintptr) (*regstate.State, error) {
	table := newInitialTable()
	loc := fde.pcBegin

	// The CIE's initial-instructions program establishes the rule table in
	// effect at the start of every FDE sharing it; run it to completion
	// (stopPC far beyond any real location) rather than stopping partway.
	if err := runCFIBytes(cie.initialInstrs, cie, &table, nil, &loc, ^uintptr(0)); err != nil {
		return nil, err
	}
	initial := table // DW_CFA_restore reverts to this snapshot
	loc = fde.pcBegin

	if err := runCFIBytes(fde.instrBytes, cie, &table, &initial, &loc, unslidPC); err != nil {
		return nil, err
	}

	var cfa uintptr
	switch {
	case table.cfa.expr != nil:
		v, err := evalDWARFExpr(table.cfa.expr, in)
		if err != nil {
			return nil, fmt.Errorf("dwarfcfi: CFA expression: %w", err)
		}
		cfa = uintptr(v)
	case table.cfa.register == 0 && table.cfa.offset == 0:
		return nil, fmt.Errorf("dwarfcfi: no CFA rule established: %w", crashkind.ErrBadFrame)
	default:
		cfaReg, ok := regstate.MapFromDWARF(table.cfa.register)
		if !ok {
			return nil, fmt.Errorf("dwarfcfi: CFA register dwarf#%d unmapped: %w", table.cfa.register, crashkind.ErrNotSupported)
		}
		cfaBase, err := in.Get(cfaReg)
		if err != nil {
			return nil, fmt.Errorf("dwarfcfi: CFA base register unavailable: %w", crashkind.ErrBadFrame)
		}
		cfa = uintptr(int64(cfaBase) + table.cfa.offset)
	}

	out := in.Clone()
	out.ClearVolatile()

	ptrSize := uintptr(regstate.PointerSize)
	for dreg := 0; dreg < maxDwarfReg; dreg++ {
		rule := table.rules[dreg]
		reg, ok := regstate.MapFromDWARF(dreg)
		if !ok {
			continue
		}
		switch rule.kind {
		case ruleSameValue:
			if v, err := in.Get(reg); err == nil {
				out.Set(reg, v)
			}
		case ruleOffsetN:
			addr := uintptr(int64(cfa) + rule.offset)
			obj, err := mobject.Init(addr, ptrSize)
			if err != nil {
				continue
			}
			var b [8]byte
			if err := obj.ReadBytes(0, b[:ptrSize]); err == nil {
				if ptrSize == 8 {
					out.Set(reg, binary.LittleEndian.Uint64(b[:8]))
				} else {
					out.Set(reg, uint64(binary.LittleEndian.Uint32(b[:4])))
				}
			}
			obj.Free()
		case ruleValOffsetN:
			out.Set(reg, uint64(int64(cfa)+rule.offset))
		case ruleRegisterR:
			if srcReg, ok := regstate.MapFromDWARF(rule.reg); ok {
				if v, err := in.Get(srcReg); err == nil {
					out.Set(reg, v)
				}
			}
		case ruleExpression:
			addr64, err := evalDWARFExpr(rule.expr, in)
			if err != nil {
				continue
			}
			obj, err := mobject.Init(uintptr(addr64), ptrSize)
			if err != nil {
				continue
			}
			var b [8]byte
			if err := obj.ReadBytes(0, b[:ptrSize]); err == nil {
				if ptrSize == 8 {
					out.Set(reg, binary.LittleEndian.Uint64(b[:8]))
				} else {
					out.Set(reg, uint64(binary.LittleEndian.Uint32(b[:4])))
				}
			}
			obj.Free()
		case ruleValExpression:
			if v, err := evalDWARFExpr(rule.expr, in); err == nil {
				out.Set(reg, v)
			}
		case ruleUndefined:
			// leave unset
		}
	}

	retReg, ok := regstate.MapFromDWARF(cie.retAddrReg)
	if !ok {
		return nil, fmt.Errorf("dwarfcfi: return-address column dwarf#%d unmapped: %w", cie.retAddrReg, crashkind.ErrNotSupported)
	}
	retAddr, err := out.Get(retReg)
	if err != nil {
		return nil, fmt.Errorf("dwarfcfi: return address not restored: %w", crashkind.ErrBadFrame)
	}
	if retAddr == 0 {
		return nil, fmt.Errorf("dwarfcfi: return address is zero: %w", crashkind.ErrEOF)
	}

	out.Set(regstate.SPReg, uint64(cfa))
	out.Set(regstate.PCReg, retAddr+uint64(slide))
	return &out, nil
}

func newInitialTable() cfiTable {
	var t cfiTable
	for i := range t.rules {
		t.rules[i] = cfiRule{kind: ruleUndefined}
	}
	return t
}

// dwarfExprStack is evalDWARFExpr's operand stack: a fixed maxCFIOperands
// array, never a slice append.
type dwarfExprStack struct {
	vals [maxCFIOperands]uint64
	n    int
}

func (s *dwarfExprStack) push(v uint64) error {
	if s.n >= len(s.vals) {
		return fmt.Errorf("dwarfcfi: expression stack overflow: %w", crashkind.ErrInvalidData)
	}
	s.vals[s.n] = v
	s.n++
	return nil
}

func (s *dwarfExprStack) pop() (uint64, error) {
	if s.n == 0 {
		return 0, fmt.Errorf("dwarfcfi: expression stack underflow: %w", crashkind.ErrInvalidData)
	}
	s.n--
	return s.vals[s.n], nil
}

// evalDWARFExpr runs the subset of the DWARF expression language
// spec.md §4.E.3 names: literal pushes (DW_OP_lit0..31), direct and
// offset-biased register reads (DW_OP_reg0..31, DW_OP_breg0..31), a
// single dereference (DW_OP_deref), addition/subtraction
// (DW_OP_plus/DW_OP_minus), and unsigned/signed constants
// (DW_OP_constu/DW_OP_consts). It returns the top of the operand stack
// once expr is exhausted, per DWARF 5 §2.5.1's "result of the evaluation
// is the value on the top of the stack" rule.
func evalDWARFExpr(expr []byte, in *regstate.State) (uint64, error) {
	var stack dwarfExprStack
	ptrSize := uintptr(regstate.PointerSize)

	i := 0
	for i < len(expr) {
		op := expr[i]
		i++

		switch {
		case op >= 0x30 && op <= 0x4F: // DW_OP_lit0..lit31
			if err := stack.push(uint64(op - 0x30)); err != nil {
				return 0, err
			}
		case op >= 0x50 && op <= 0x6F: // DW_OP_reg0..reg31
			dreg := int(op - 0x50)
			reg, ok := regstate.MapFromDWARF(dreg)
			if !ok {
				return 0, fmt.Errorf("dwarfcfi: DW_OP_reg%d unmapped: %w", dreg, crashkind.ErrNotSupported)
			}
			v, err := in.Get(reg)
			if err != nil {
				return 0, fmt.Errorf("dwarfcfi: DW_OP_reg%d unavailable: %w", dreg, crashkind.ErrBadFrame)
			}
			if err := stack.push(v); err != nil {
				return 0, err
			}
		case op >= 0x70 && op <= 0x8F: // DW_OP_breg0..breg31
			off, n := decodeSLEB(expr[i:])
			i += n
			dreg := int(op - 0x70)
			reg, ok := regstate.MapFromDWARF(dreg)
			if !ok {
				return 0, fmt.Errorf("dwarfcfi: DW_OP_breg%d unmapped: %w", dreg, crashkind.ErrNotSupported)
			}
			v, err := in.Get(reg)
			if err != nil {
				return 0, fmt.Errorf("dwarfcfi: DW_OP_breg%d unavailable: %w", dreg, crashkind.ErrBadFrame)
			}
			if err := stack.push(uint64(int64(v) + off)); err != nil {
				return 0, err
			}
		case op == 0x06: // DW_OP_deref
			addr, err := stack.pop()
			if err != nil {
				return 0, err
			}
			obj, err := mobject.Init(uintptr(addr), ptrSize)
			if err != nil {
				return 0, fmt.Errorf("dwarfcfi: DW_OP_deref %#x: %w", addr, err)
			}
			var b [8]byte
			readErr := obj.ReadBytes(0, b[:ptrSize])
			obj.Free()
			if readErr != nil {
				return 0, readErr
			}
			var v uint64
			if ptrSize == 8 {
				v = binary.LittleEndian.Uint64(b[:8])
			} else {
				v = uint64(binary.LittleEndian.Uint32(b[:4]))
			}
			if err := stack.push(v); err != nil {
				return 0, err
			}
		case op == 0x22: // DW_OP_plus
			b, err := stack.pop()
			if err != nil {
				return 0, err
			}
			a, err := stack.pop()
			if err != nil {
				return 0, err
			}
			if err := stack.push(a + b); err != nil {
				return 0, err
			}
		case op == 0x1C: // DW_OP_minus
			b, err := stack.pop()
			if err != nil {
				return 0, err
			}
			a, err := stack.pop()
			if err != nil {
				return 0, err
			}
			if err := stack.push(a - b); err != nil {
				return 0, err
			}
		case op == 0x10: // DW_OP_constu
			v, n := decodeULEB(expr[i:])
			i += n
			if err := stack.push(v); err != nil {
				return 0, err
			}
		case op == 0x11: // DW_OP_consts
			v, n := decodeSLEB(expr[i:])
			i += n
			if err := stack.push(uint64(v)); err != nil {
				return 0, err
			}
		default:
			return 0, fmt.Errorf("dwarfcfi: DWARF expression opcode %#x unsupported: %w", op, crashkind.ErrNotSupported)
		}
	}

	return stack.pop()
}

func readULEBAt(eh *mobject.Object, off uintptr) (uint64, uintptr, error) {
	var result uint64
	var shift uint
	var n uintptr
	for {
		var b [1]byte
		if err := eh.ReadBytes(off+n, b[:]); err != nil {
			return 0, 0, err
		}
		n++
		result |= uint64(b[0]&0x7f) << shift
		if b[0]&0x80 == 0 {
			break
		}
		shift += 7
		if shift > 63 {
			return 0, 0, fmt.Errorf("dwarfcfi: ULEB128 too long: %w", crashkind.ErrInvalidData)
		}
	}
	return result, n, nil
}

func readSLEBAt(eh *mobject.Object, off uintptr) (int64, uintptr, error) {
	var result int64
	var shift uint
	var n uintptr
	var b byte
	for {
		var buf [1]byte
		if err := eh.ReadBytes(off+n, buf[:]); err != nil {
			return 0, 0, err
		}
		b = buf[0]
		n++
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift > 63 {
			return 0, 0, fmt.Errorf("dwarfcfi: SLEB128 too long: %w", crashkind.ErrInvalidData)
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, n, nil
}

// DWARF exception-header pointer-encoding constants (subset supported).
const (
	dwEHPEAbsptr = 0x00
	dwEHPEULEB128 = 0x01
	dwEHPEUdata2 = 0x02
	dwEHPEUdata4 = 0x03
	dwEHPEUdata8 = 0x04
	dwEHPESigned = 0x08
	dwEHPESLEB128 = 0x09
	dwEHPESdata2 = 0x0A
	dwEHPESdata4 = 0x0B
	dwEHPESdata8 = 0x0C
	dwEHPEOmit   = 0xFF

	dwEHPEApplMask = 0x70
	dwEHPEPcrel    = 0x10
)

func encodedFieldSize(encoding byte, ptrSize uintptr) (uintptr, error) {
	switch encoding & 0x0F {
	case dwEHPEAbsptr:
		return ptrSize, nil
	case dwEHPEUdata2, dwEHPESdata2:
		return 2, nil
	case dwEHPEUdata4, dwEHPESdata4:
		return 4, nil
	case dwEHPEUdata8, dwEHPESdata8:
		return 8, nil
	default:
		return 0, fmt.Errorf("dwarfcfi: pointer encoding %#x unsupported: %w", encoding, crashkind.ErrNotSupported)
	}
}

func decodeEncodedPointerSize(encoding byte) (bool, uintptr, error) {
	if encoding == dwEHPEOmit {
		return false, 0, nil
	}
	sz, err := encodedFieldSize(encoding, 8)
	return true, sz, err
}

func readEncodedPointer(eh *mobject.Object, order binary.ByteOrder, off uintptr, encoding byte, size uintptr) (uintptr, error) {
	var buf [8]byte
	if err := eh.ReadBytes(off, buf[:size]); err != nil {
		return 0, err
	}
	var v uint64
	switch size {
	case 2:
		v = uint64(order.Uint16(buf[:2]))
	case 4:
		v = uint64(order.Uint32(buf[:4]))
	case 8:
		v = order.Uint64(buf[:8])
	default:
		return 0, fmt.Errorf("dwarfcfi: unsupported encoded pointer size %d: %w", size, crashkind.ErrNotSupported)
	}
	result := uintptr(v)
	if encoding&dwEHPEApplMask == dwEHPEPcrel {
		result += off
	}
	return result, nil
}

// runCFIBytes executes a CFI byte program, applying advance-location
// opcodes until the running location counter would pass stopPC, at which
// point the table reflects the rules in force at stopPC.
func runCFIBytes(instrs []byte, cie *cieInfo, table *cfiTable, initial *cfiTable, loc *uintptr, stopPC uintptr) error {
	var stateStack [8]cfiTable
	depth := 0

	i := 0
	for i < len(instrs) {
		op := instrs[i]
		i++

		primary := op & 0xC0
		switch primary {
		case 0x40: // DW_CFA_advance_loc
			delta := uint64(op&0x3F) * cie.codeAlignment
			*loc += uintptr(delta)
			if *loc > stopPC {
				return nil
			}
			continue
		case 0x80: // DW_CFA_offset
			reg := int(op & 0x3F)
			off, n := decodeULEB(instrs[i:])
			i += n
			if reg < maxDwarfReg {
				table.rules[reg] = cfiRule{kind: ruleOffsetN, offset: int64(off) * cie.dataAlignment}
			}
			continue
		case 0xC0: // DW_CFA_restore
			reg := int(op & 0x3F)
			if initial != nil && reg < maxDwarfReg {
				table.rules[reg] = initial.rules[reg]
			}
			continue
		}

		switch op {
		case 0x00: // nop
		case 0x01: // set_loc
			// address-sized operand, already-resolved absolute value
			sz := int(regstate.PointerSize)
			if i+sz > len(instrs) {
				return fmt.Errorf("dwarfcfi: truncated set_loc: %w", crashkind.ErrInvalidData)
			}
			var v uint64
			if sz == 8 {
				v = binary.LittleEndian.Uint64(instrs[i : i+8])
			} else {
				v = uint64(binary.LittleEndian.Uint32(instrs[i : i+4]))
			}
			i += sz
			*loc = uintptr(v)
			if *loc > stopPC {
				return nil
			}
		case 0x02: // advance_loc1
			*loc += uintptr(uint64(instrs[i]) * cie.codeAlignment)
			i++
			if *loc > stopPC {
				return nil
			}
		case 0x03: // advance_loc2
			d := binary.LittleEndian.Uint16(instrs[i : i+2])
			i += 2
			*loc += uintptr(uint64(d) * cie.codeAlignment)
			if *loc > stopPC {
				return nil
			}
		case 0x04: // advance_loc4
			d := binary.LittleEndian.Uint32(instrs[i : i+4])
			i += 4
			*loc += uintptr(uint64(d) * cie.codeAlignment)
			if *loc > stopPC {
				return nil
			}
		case 0x05: // offset_extended
			reg, n := decodeULEB(instrs[i:])
			i += n
			off, n2 := decodeULEB(instrs[i:])
			i += n2
			if int(reg) < maxDwarfReg {
				table.rules[reg] = cfiRule{kind: ruleOffsetN, offset: int64(off) * cie.dataAlignment}
			}
		case 0x07: // undefined
			reg, n := decodeULEB(instrs[i:])
			i += n
			if int(reg) < maxDwarfReg {
				table.rules[reg] = cfiRule{kind: ruleUndefined}
			}
		case 0x08: // same_value
			reg, n := decodeULEB(instrs[i:])
			i += n
			if int(reg) < maxDwarfReg {
				table.rules[reg] = cfiRule{kind: ruleSameValue}
			}
		case 0x09: // register
			reg, n := decodeULEB(instrs[i:])
			i += n
			other, n2 := decodeULEB(instrs[i:])
			i += n2
			if int(reg) < maxDwarfReg {
				table.rules[reg] = cfiRule{kind: ruleRegisterR, reg: int(other)}
			}
		case 0x0A: // remember_state
			if depth < len(stateStack) {
				stateStack[depth] = *table
				depth++
			}
		case 0x0B: // restore_state
			if depth > 0 {
				depth--
				*table = stateStack[depth]
			}
		case 0x0C: // def_cfa
			reg, n := decodeULEB(instrs[i:])
			i += n
			off, n2 := decodeULEB(instrs[i:])
			i += n2
			table.cfa = cfaRule{register: int(reg), offset: int64(off)}
		case 0x0D: // def_cfa_register
			reg, n := decodeULEB(instrs[i:])
			i += n
			table.cfa.register = int(reg)
		case 0x0E: // def_cfa_offset
			off, n := decodeULEB(instrs[i:])
			i += n
			table.cfa.offset = int64(off)
		case 0x0F: // def_cfa_expression
			length, n := decodeULEB(instrs[i:])
			i += n
			if i+int(length) > len(instrs) {
				return fmt.Errorf("dwarfcfi: truncated def_cfa_expression: %w", crashkind.ErrInvalidData)
			}
			table.cfa = cfaRule{expr: instrs[i : i+int(length)]}
			i += int(length)
		case 0x10: // expression
			reg, n := decodeULEB(instrs[i:])
			i += n
			length, n2 := decodeULEB(instrs[i:])
			i += n2
			if i+int(length) > len(instrs) {
				return fmt.Errorf("dwarfcfi: truncated expression: %w", crashkind.ErrInvalidData)
			}
			if int(reg) < maxDwarfReg {
				table.rules[reg] = cfiRule{kind: ruleExpression, expr: instrs[i : i+int(length)]}
			}
			i += int(length)
		case 0x16: // val_expression
			reg, n := decodeULEB(instrs[i:])
			i += n
			length, n2 := decodeULEB(instrs[i:])
			i += n2
			if i+int(length) > len(instrs) {
				return fmt.Errorf("dwarfcfi: truncated val_expression: %w", crashkind.ErrInvalidData)
			}
			if int(reg) < maxDwarfReg {
				table.rules[reg] = cfiRule{kind: ruleValExpression, expr: instrs[i : i+int(length)]}
			}
			i += int(length)
		case 0x11: // offset_extended_sf
			reg, n := decodeULEB(instrs[i:])
			i += n
			off, n2 := decodeSLEB(instrs[i:])
			i += n2
			if int(reg) < maxDwarfReg {
				table.rules[reg] = cfiRule{kind: ruleOffsetN, offset: off * cie.dataAlignment}
			}
		case 0x12: // def_cfa_sf
			reg, n := decodeULEB(instrs[i:])
			i += n
			off, n2 := decodeSLEB(instrs[i:])
			i += n2
			table.cfa = cfaRule{register: int(reg), offset: off * cie.dataAlignment}
		case 0x13: // def_cfa_offset_sf
			off, n := decodeSLEB(instrs[i:])
			i += n
			table.cfa.offset = off * cie.dataAlignment
		case 0x14: // val_offset
			reg, n := decodeULEB(instrs[i:])
			i += n
			off, n2 := decodeULEB(instrs[i:])
			i += n2
			if int(reg) < maxDwarfReg {
				table.rules[reg] = cfiRule{kind: ruleValOffsetN, offset: int64(off) * cie.dataAlignment}
			}
		case 0x15: // val_offset_sf
			reg, n := decodeULEB(instrs[i:])
			i += n
			off, n2 := decodeSLEB(instrs[i:])
			i += n2
			if int(reg) < maxDwarfReg {
				table.rules[reg] = cfiRule{kind: ruleValOffsetN, offset: off * cie.dataAlignment}
			}
		case 0x2E: // GNU_args_size
			_, n := decodeULEB(instrs[i:])
			i += n
		default:
			return fmt.Errorf("dwarfcfi: unknown CFI opcode %#x: %w", op, crashkind.ErrNotSupported)
		}
	}
	return nil
}

func decodeULEB(b []byte) (uint64, int) {
	var result uint64
	var shift uint
	var n int
	for n < len(b) {
		result |= uint64(b[n]&0x7f) << shift
		hasMore := b[n]&0x80 != 0
		n++
		if !hasMore {
			break
		}
		shift += 7
	}
	return result, n
}

func decodeSLEB(b []byte) (int64, int) {
	var result int64
	var shift uint
	var n int
	var cur byte
	for n < len(b) {
		cur = b[n]
		result |= int64(cur&0x7f) << shift
		n++
		shift += 7
		if cur&0x80 == 0 {
			break
		}
	}
	if shift < 64 && cur&0x40 != 0 {
		result |= -1 << shift
	}
	return result, n
}

func imageReader(img *imagelist.Image) (*macho.Reader, error) {
	if cached, ok := img.Sections(); ok {
		if r, ok := cached.(*macho.Reader); ok {
			return r, nil
		}
	}
	r, err := macho.NewReader(img.Base, img.Slide)
	if err != nil {
		return nil, err
	}
	img.SetSections(r)
	return r, nil
}
