// Package imagelist tracks every loaded binary image visible to the crash
// reporter, keyed by load address, with a lookup-by-contained-address
// operation the unwinder and symbolicator both depend on.
//
// Concurrency discipline (spec.md §5): the list is an append-only log with
// tombstoned removals, not a conventional mutex-guarded slice. Writers
// (loader upcalls, see the loader package) are already serialized by the
// OS loader's own lock, so Append only ever needs a single release-store of
// a new head; Remove sets a tombstone flag rather than unlinking. Readers
// (the unwinder and symbolicator, running on the signal path) walk the list
// via its immutable next pointers and never block on a writer. Reclaiming a
// tombstoned node is deferred via a minimal epoch counter: Append detaches
// the run of tombstoned nodes at the front of the list, and only while no
// Each/Iterate walk is in flight, resolving the Open Question spec.md §9
// raises about the original design's ad-hoc loop detection. A tombstoned
// node behind a live node stays linked; readers keep skipping it.
package imagelist

import (
	"sync"
	"sync/atomic"
)

// Image represents one loaded binary image. Per spec.md §3, once appended
// its base address and pointer width are immutable; its path is stable for
// its lifetime.
type Image struct {
	Base          uintptr
	Slide         uintptr
	Path          string
	LittleEndian  bool
	Pointer64     bool
	size          uintptr // 0 means "unknown", FindByAddress treats it as a single-address match

	// sections is populated lazily by the macho package the first time a
	// section of this image is requested; imagelist itself never parses
	// Mach-O data.
	sectionsMu sync.Mutex
	sections   any
}

// SetSize records the image's mapped length once known. A zero size (the
// default, for images whose extent hasn't been determined yet) makes
// FindByAddress treat the image as covering only its exact Base address.
func (img *Image) SetSize(size uintptr) { img.size = size }

// Size returns the image's mapped length, or 0 if unknown.
func (img *Image) Size() uintptr { return img.size }

// Sections returns the lazily-attached section index, and whether one has
// been attached yet. The macho package uses this to cache its parsed
// section table on the Image it was asked about.
func (img *Image) Sections() (any, bool) {
	img.sectionsMu.Lock()
	defer img.sectionsMu.Unlock()
	return img.sections, img.sections != nil
}

// SetSections attaches a parsed section index to the image. Safe to call
// more than once; the first call wins, matching the cache discipline used
// elsewhere in this module (first-writer-wins, no lock contention on the
// common case of a cache hit).
func (img *Image) SetSections(v any) {
	img.sectionsMu.Lock()
	defer img.sectionsMu.Unlock()
	if img.sections == nil {
		img.sections = v
	}
}

type node struct {
	img        *Image
	tombstoned atomic.Bool
	next       *node
}

// List is an ordered, append-only set of loaded images. The zero value is
// ready to use.
type List struct {
	head  atomic.Pointer[node]
	epoch atomic.Int64 // incremented on Iterate entry and exit

	// writeMu serializes Append/Remove, standing in for the OS loader lock
	// spec.md §5 says these are already serialized by.
	writeMu sync.Mutex
}

// Append adds a newly-loaded image to the list. Must only be called from a
// loader-notification callback (see the loader package); concurrent calls
// are serialized by writeMu.
func (l *List) Append(base, slide uintptr, path string) *Image {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	img := &Image{Base: base, Slide: slide, Path: path}
	n := &node{img: img, next: l.reclaimTombstoned(l.head.Load())}
	l.head.Store(n)
	return img
}

// Remove marks the image at base as logically removed. The node is not
// unlinked immediately: readers concurrently walking the list (see §5) may
// still hold a reference to it. If it is at the front of the list, the next
// Append that observes no walk in flight detaches it; otherwise it stays
// linked and readers skip it.
func (l *List) Remove(base uintptr) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	for n := l.head.Load(); n != nil; n = n.next {
		if n.img.Base == base {
			n.tombstoned.Store(true)
			return
		}
	}
}

// reclaimTombstoned returns the first live node reachable from `from`,
// skipping the tombstoned prefix of the list, so that Append can link its
// new head past those nodes and leave them unreachable (and GC-eligible).
// No existing node is mutated. While the epoch counter is odd (a reader
// entered Each and hasn't exited yet) it returns `from` unchanged and the
// reclaim waits for a later Append. Must be called with writeMu held.
func (l *List) reclaimTombstoned(from *node) *node {
	if l.epoch.Load()%2 != 0 {
		return from // a reader is mid-walk; defer reclaim to the next Append
	}
	n := from
	for n != nil && n.tombstoned.Load() {
		n = n.next
	}
	return n
}

// FindByAddress returns the image containing addr, or (nil, false) if no
// image does. Per spec.md §3, at most one image may contain any address;
// the first match found (most-recently-appended first) is returned.
func (l *List) FindByAddress(addr uintptr) (*Image, bool) {
	var found *Image
	l.Each(func(img *Image) bool {
		if img.size == 0 {
			if addr == img.Base {
				found = img
				return false
			}
			return true
		}
		if addr >= img.Base && addr < img.Base+img.size {
			found = img
			return false
		}
		return true
	})
	return found, found != nil
}

// Snapshot is a stable, already-materialized view of the list's live
// images at the moment Iterate was called.
type Snapshot []*Image

// Iterate returns a stable snapshot of the currently-live (non-tombstoned)
// images. The returned slice is safe to range over even if Append or Remove
// run concurrently: it is a copy, not a live view. Iterate allocates one
// slice; call sites on the crash path that must not allocate should use
// Each instead.
func (l *List) Iterate() Snapshot {
	var out Snapshot
	l.Each(func(img *Image) bool {
		out = append(out, img)
		return true
	})
	return out
}

// Each walks the currently-live images in most-recently-appended-first
// order, calling fn for each until fn returns false or the list is
// exhausted. Each never allocates, making it the form the log writer (§4.H)
// uses while dumping images during crash reporting.
func (l *List) Each(fn func(*Image) bool) {
	l.epoch.Add(1)
	defer l.epoch.Add(1)

	for n := l.head.Load(); n != nil; n = n.next {
		if n.tombstoned.Load() {
			continue
		}
		if !fn(n.img) {
			return
		}
	}
}
