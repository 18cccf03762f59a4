// Package macho is an async-safe Mach-O load-command reader: it maps the
// header of a loaded image out of the live process (via mobject), walks
// its load commands, and locates named sections without ever following a
// pointer that lands outside data the header itself vouches for.
//
// Load-command struct layouts (field order and size) are grounded on
// blacktop/go-macho's types/commands.go and the minimal from-scratch
// reader in xyproto/flapc's macho.go, both retrieved as reference material
// for this spec; no third-party Mach-O library appears anywhere in this
// example pack's go.mod files, so — per this module's "hand-roll over
// stdlib only when the pack shows no library for it" rule — this is a
// from-scratch `encoding/binary` reader rather than an adopted dependency.
package macho

import (
	"encoding/binary"
	"fmt"

	"github.com/tripwire/crashcore/internal/crashkind"
	"github.com/tripwire/crashcore/internal/mobject"
)

// Mach-O magic numbers. Swapped variants indicate the image's byte order
// differs from the reader's.
const (
	magic32        uint32 = 0xFEEDFACE
	magic32Swapped uint32 = 0xCEFAEDFE
	magic64        uint32 = 0xFEEDFACF
	magic64Swapped uint32 = 0xCFFAEDFE
)

// Load command constants actually used by this reader.
const (
	lcSegment   uint32 = 0x1
	lcSegment64 uint32 = 0x19
)

const (
	header32Size = 28
	header64Size = 32

	segmentCmd32HeaderSize = 56
	segmentCmd64HeaderSize = 72

	section32Size = 68
	section64Size = 80

	segnameLen = 16
	sectnameLen = 16
)

// Section identifies one Mach-O section's address and size, already
// adjusted for the image's slide.
type Section struct {
	Addr uintptr
	Size uintptr
}

type segSect struct {
	segment, section string
}

// Reader parses the load commands of one loaded Mach-O image and answers
// section lookups. Construct with NewReader.
type Reader struct {
	byteOrder binary.ByteOrder
	pointer64 bool
	base      uintptr
	slide     uintptr
	header    *mobject.Object

	sections map[segSect]Section
}

// ByteOrder returns the image's byte order.
func (r *Reader) ByteOrder() binary.ByteOrder { return r.byteOrder }

// Pointer64 reports whether the image uses 64-bit pointers.
func (r *Reader) Pointer64() bool { return r.pointer64 }

// NewReader maps and parses the Mach-O header at headerAddr (the image's
// load address plus slide) and walks its load commands to build a section
// index. It fails with crashkind.ErrInvalidImage if the magic is wrong or
// load commands would overrun the mapped header.
func NewReader(headerAddr, slide uintptr) (*Reader, error) {
	// First map just enough to read the magic and ncmds/sizeofcmds fields;
	// mobject.Init is itself the bounds/permission check (see mobject doc).
	probe, err := mobject.Init(headerAddr, header64Size)
	if err != nil {
		return nil, fmt.Errorf("macho: map header at %#x: %w", headerAddr, err)
	}
	defer probe.Free()

	var magicBuf [4]byte
	if err := probe.ReadBytes(0, magicBuf[:]); err != nil {
		return nil, fmt.Errorf("macho: read magic: %w", err)
	}
	magicBE := binary.BigEndian.Uint32(magicBuf[:])
	magicLE := binary.LittleEndian.Uint32(magicBuf[:])

	var order binary.ByteOrder
	var pointer64 bool
	switch {
	case magicLE == magic32:
		order, pointer64 = binary.LittleEndian, false
	case magicBE == magic32:
		order, pointer64 = binary.BigEndian, false
	case magicLE == magic64:
		order, pointer64 = binary.LittleEndian, true
	case magicBE == magic64:
		order, pointer64 = binary.BigEndian, true
	case magicLE == magic32Swapped, magicLE == magic64Swapped:
		return nil, fmt.Errorf("macho: swapped-endian header unsupported: %w", crashkind.ErrInvalidImage)
	default:
		return nil, fmt.Errorf("macho: bad magic %#x at %#x: %w", magicLE, headerAddr, crashkind.ErrInvalidImage)
	}

	hdrSize := header32Size
	if pointer64 {
		hdrSize = header64Size
	}

	var ncmds, sizeofcmds uint32
	var ncmdsBuf [4]byte
	if err := probe.ReadBytes(16, ncmdsBuf[:]); err != nil {
		return nil, fmt.Errorf("macho: read ncmds: %w", err)
	}
	ncmds = order.Uint32(ncmdsBuf[:])
	var sizeBuf [4]byte
	if err := probe.ReadBytes(20, sizeBuf[:]); err != nil {
		return nil, fmt.Errorf("macho: read sizeofcmds: %w", err)
	}
	sizeofcmds = order.Uint32(sizeBuf[:])

	if sizeofcmds > 16<<20 { // sanity bound: refuse to map a pathological size
		return nil, fmt.Errorf("macho: sizeofcmds %d implausible: %w", sizeofcmds, crashkind.ErrInvalidImage)
	}

	full, err := mobject.Init(headerAddr, uintptr(hdrSize)+uintptr(sizeofcmds))
	if err != nil {
		return nil, fmt.Errorf("macho: map load commands: %w", err)
	}

	r := &Reader{
		byteOrder: order,
		pointer64: pointer64,
		base:      headerAddr,
		slide:     slide,
		header:    full,
		sections:  make(map[segSect]Section),
	}

	if err := r.parseLoadCommands(uintptr(hdrSize), ncmds, sizeofcmds); err != nil {
		full.Free()
		return nil, err
	}

	return r, nil
}

func (r *Reader) parseLoadCommands(start uintptr, ncmds, sizeofcmds uint32) error {
	off := start
	end := start + uintptr(sizeofcmds)

	for i := uint32(0); i < ncmds; i++ {
		if off+8 > end {
			return fmt.Errorf("macho: load command %d overruns header: %w", i, crashkind.ErrInvalidImage)
		}
		var cmdBuf [8]byte
		if err := r.header.ReadBytes(off, cmdBuf[:]); err != nil {
			return fmt.Errorf("macho: read load command %d: %w", i, err)
		}
		cmd := r.byteOrder.Uint32(cmdBuf[0:4])
		cmdsize := r.byteOrder.Uint32(cmdBuf[4:8])
		if cmdsize < 8 || off+uintptr(cmdsize) > end {
			return fmt.Errorf("macho: load command %d has bad size %d: %w", i, cmdsize, crashkind.ErrInvalidImage)
		}

		switch cmd {
		case lcSegment:
			if err := r.parseSegment32(off); err != nil {
				return err
			}
		case lcSegment64:
			if err := r.parseSegment64(off); err != nil {
				return err
			}
		}

		off += uintptr(cmdsize)
	}
	return nil
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (r *Reader) parseSegment32(off uintptr) error {
	if off+segmentCmd32HeaderSize > r.header.Length() {
		return fmt.Errorf("macho: segment command overruns header: %w", crashkind.ErrInvalidImage)
	}
	var buf [segmentCmd32HeaderSize]byte
	if err := r.header.ReadBytes(off, buf[:]); err != nil {
		return err
	}
	segname := cstring(buf[8 : 8+segnameLen])
	nsects := r.byteOrder.Uint32(buf[48:52])

	sectOff := off + segmentCmd32HeaderSize
	for s := uint32(0); s < nsects; s++ {
		var sb [section32Size]byte
		if err := r.header.ReadBytes(sectOff, sb[:]); err != nil {
			return err
		}
		sectname := cstring(sb[0:sectnameLen])
		addr := uintptr(r.byteOrder.Uint32(sb[32:36]))
		size := uintptr(r.byteOrder.Uint32(sb[36:40]))
		r.sections[segSect{segname, sectname}] = Section{Addr: addr + r.slide, Size: size}
		sectOff += section32Size
	}
	return nil
}

func (r *Reader) parseSegment64(off uintptr) error {
	if off+segmentCmd64HeaderSize > r.header.Length() {
		return fmt.Errorf("macho: segment command overruns header: %w", crashkind.ErrInvalidImage)
	}
	var buf [segmentCmd64HeaderSize]byte
	if err := r.header.ReadBytes(off, buf[:]); err != nil {
		return err
	}
	segname := cstring(buf[8 : 8+segnameLen])
	nsects := r.byteOrder.Uint32(buf[64:68])

	sectOff := off + segmentCmd64HeaderSize
	for s := uint32(0); s < nsects; s++ {
		var sb [section64Size]byte
		if err := r.header.ReadBytes(sectOff, sb[:]); err != nil {
			return err
		}
		sectname := cstring(sb[0:sectnameLen])
		addr := uintptr(r.byteOrder.Uint64(sb[32:40]))
		size := uintptr(r.byteOrder.Uint64(sb[40:48]))
		r.sections[segSect{segname, sectname}] = Section{Addr: addr + r.slide, Size: size}
		sectOff += section64Size
	}
	return nil
}

// MapSection maps the named section read-only and returns a mobject.Object
// over it, or crashkind.ErrNotFound if no such section exists in this
// image.
func (r *Reader) MapSection(segment, section string) (*mobject.Object, error) {
	sec, ok := r.sections[segSect{segment, section}]
	if !ok {
		return nil, fmt.Errorf("macho: section %s/%s: %w", segment, section, crashkind.ErrNotFound)
	}
	if sec.Size == 0 {
		return nil, fmt.Errorf("macho: section %s/%s is empty: %w", segment, section, crashkind.ErrNotFound)
	}
	return mobject.Init(sec.Addr, sec.Size)
}

// Section returns the (already slide-adjusted) address and size of a named
// section without mapping it, or false if it doesn't exist.
func (r *Reader) Section(segment, section string) (Section, bool) {
	sec, ok := r.sections[segSect{segment, section}]
	return sec, ok
}

// Close releases the mapped header.
func (r *Reader) Close() {
	if r.header != nil {
		r.header.Free()
		r.header = nil
	}
}
