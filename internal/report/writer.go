package report

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/tripwire/crashcore/internal/crashkind"
)

// DefaultCapacity is the writer's linear buffer size absent an explicit
// override: 64 KiB, per spec.md §4.H.
const DefaultCapacity = 64 << 10

// Writer wraps a pre-opened file descriptor with a fixed-capacity linear
// buffer. Every Record is built up entirely in that buffer before Flush
// hands it to unix.Write — no allocation, no retry after a write error
// (the call repeats only to finish a short write), and no partial-record
// corruption of the underlying file: a record that doesn't
// fit is rejected with crashkind.ErrNoMemory before any byte of it reaches
// the fd.
//
// Grounded on the fixed-capacity-fd-buffer discipline used by
// hanwen-go-fuse's request/response buffers and billziss-gh-cgofuse's fuse
// host transport (one pre-sized buffer, one syscall per flush, reused
// across calls rather than reallocated), and on the teacher's
// internal/audit/audit_logger.go doc-comment convention of documenting the
// exact wire format in the package doc comment (see tlv.go).
type Writer struct {
	f        *os.File
	buf      []byte
	capacity int
	w        *TLVWriter
}

// NewWriter constructs a Writer over f with the given capacity. capacity
// <= 0 selects DefaultCapacity.
func NewWriter(f *os.File, capacity int) *Writer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	buf := make([]byte, 0, capacity)
	return &Writer{f: f, buf: buf, capacity: capacity, w: NewTLVWriter(buf)}
}

// tlv returns this writer's TLVWriter, reset to empty. Record.WriteTo calls
// this once per report.
func (w *Writer) tlv() *TLVWriter {
	w.w.buf = w.buf[:0]
	return w.w
}

// Flush writes every byte accumulated in the TLVWriter to the underlying
// fd via unix.Write, calling it again only to finish a short write and
// returning on the first error, per spec.md §4.H ("writes go through a
// buffered file-descriptor wrapper"). Safe to call even if the last
// WriteXxx call returned an error: Flush only ever sends the bytes that
// were actually appended before the failure.
func (w *Writer) Flush() error {
	data := w.w.Bytes()
	for len(data) > 0 {
		n, err := unix.Write(int(w.f.Fd()), data)
		if err != nil {
			return fmt.Errorf("report: write: %w", crashkind.ErrInternal)
		}
		if n == 0 {
			return fmt.Errorf("report: write returned 0: %w", crashkind.ErrInternal)
		}
		data = data[n:]
	}
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	return w.f.Close()
}
