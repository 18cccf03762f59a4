// Package report implements the crash log writer: a tag-length-value wire
// format "equivalent to protocol-buffer encoding" (spec.md §4.H) — every
// field is a varint tag, a varint length, then that many payload bytes —
// and the fixed record schema written in that format.
//
// This is deliberately not an import of google.golang.org/protobuf: the
// schema calls itself protobuf-*like*, not protobuf-wire-compatible, and
// this module has no .proto definitions or generated code to pair it with
// (see DESIGN.md). The encoder below is a minimal varint+length-prefix
// writer in the same spirit as `encoding/binary`, hand-rolled because no
// dependency in this pack's go.mod files targets this exact wire shape.
package report

import "github.com/tripwire/crashcore/internal/crashkind"

// Tag identifies one field within a TLV message. Tags are stable across
// format revisions — this module never reuses a retired tag number.
type Tag uint32

// putUvarint appends x to buf in the same encoding as encoding/binary's
// Uvarint and returns the extended slice. It
// exists here rather than as an import of encoding/binary's Uvarint writer
// because that function requires a pre-sized []byte; this module always
// writes into a caller-owned fixed buffer instead.
func putUvarint(buf []byte, x uint64) []byte {
	for x >= 0x80 {
		buf = append(buf, byte(x)|0x80)
		x >>= 7
	}
	return append(buf, byte(x))
}

// TLVWriter encodes tag/length/value triples into a caller-provided
// destination buffer (normally the Writer's linear buffer, see writer.go).
// It never allocates: every append below grows into dst's existing
// capacity or, on overflow, returns crashkind.ErrNoMemory rather than
// letting the slice reallocate.
type TLVWriter struct {
	buf []byte
	cap int
}

// NewTLVWriter wraps dst (len 0, capacity == the caller's fixed buffer
// size) for TLV encoding.
func NewTLVWriter(dst []byte) *TLVWriter {
	return &TLVWriter{buf: dst, cap: cap(dst)}
}

// Bytes returns the encoded bytes written so far.
func (w *TLVWriter) Bytes() []byte { return w.buf }

func (w *TLVWriter) ensure(extra int) error {
	if len(w.buf)+extra > w.cap {
		return crashkind.ErrNoMemory
	}
	return nil
}

func (w *TLVWriter) writeTagLen(tag Tag, length int) error {
	if err := w.ensure(10 + 10); err != nil { // worst-case varint width for tag+length
		return err
	}
	w.buf = putUvarint(w.buf, uint64(tag))
	w.buf = putUvarint(w.buf, uint64(length))
	return nil
}

// WriteUint64 writes tag, a varint length, then value encoded as a varint.
func (w *TLVWriter) WriteUint64(tag Tag, value uint64) error {
	var tmp [10]byte
	n := 0
	v := value
	for v >= 0x80 {
		tmp[n] = byte(v) | 0x80
		v >>= 7
		n++
	}
	tmp[n] = byte(v)
	n++

	if err := w.writeTagLen(tag, n); err != nil {
		return err
	}
	if err := w.ensure(n); err != nil {
		return err
	}
	w.buf = append(w.buf, tmp[:n]...)
	return nil
}

// WriteString writes tag, a varint length, then s's bytes verbatim.
func (w *TLVWriter) WriteString(tag Tag, s string) error {
	return w.WriteBytes(tag, []byte(s))
}

// WriteBytes writes tag, a varint length, then value verbatim.
func (w *TLVWriter) WriteBytes(tag Tag, value []byte) error {
	if err := w.writeTagLen(tag, len(value)); err != nil {
		return err
	}
	if err := w.ensure(len(value)); err != nil {
		return err
	}
	w.buf = append(w.buf, value...)
	return nil
}

// BeginMessage reserves space for a nested message's tag and a fixed-width
// 4-byte length placeholder (rather than a varint, so EndMessage can patch
// it in place once the message body's length is known), and returns a
// token EndMessage needs to close it.
func (w *TLVWriter) BeginMessage(tag Tag) (int, error) {
	if err := w.ensure(10 + 4); err != nil {
		return 0, err
	}
	w.buf = putUvarint(w.buf, uint64(tag))
	lenOff := len(w.buf)
	w.buf = append(w.buf, 0, 0, 0, 0)
	return lenOff, nil
}

// EndMessage patches the 4-byte length placeholder BeginMessage reserved
// at lenOff with the number of bytes written since.
func (w *TLVWriter) EndMessage(lenOff int) {
	n := uint32(len(w.buf) - lenOff - 4)
	w.buf[lenOff+0] = byte(n)
	w.buf[lenOff+1] = byte(n >> 8)
	w.buf[lenOff+2] = byte(n >> 16)
	w.buf[lenOff+3] = byte(n >> 24)
}
