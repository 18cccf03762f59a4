package imagelist_test

import (
	"testing"

	"github.com/tripwire/crashcore/internal/imagelist"
)

func TestFindByAddress(t *testing.T) {
	var l imagelist.List

	a := l.Append(0x1000, 0, "/bin/a")
	a.SetSize(0x100)
	b := l.Append(0x2000, 0, "/bin/b")
	b.SetSize(0x200)

	got, ok := l.FindByAddress(0x1050)
	if !ok || got != a {
		t.Fatalf("FindByAddress(0x1050) = %v,%v want a,true", got, ok)
	}

	got, ok = l.FindByAddress(0x2150)
	if !ok || got != b {
		t.Fatalf("FindByAddress(0x2150) = %v,%v want b,true", got, ok)
	}

	if _, ok := l.FindByAddress(0x3000); ok {
		t.Fatalf("FindByAddress(0x3000) found an image, want none")
	}

	// Boundary: address equal to base+size is NOT contained.
	if _, ok := l.FindByAddress(0x1100); ok {
		t.Fatalf("FindByAddress(base+size) should not match")
	}
}

func TestRemoveTombstonesNotDeletes(t *testing.T) {
	var l imagelist.List
	a := l.Append(0x1000, 0, "/bin/a")
	a.SetSize(0x10)

	l.Remove(0x1000)

	if _, ok := l.FindByAddress(0x1000); ok {
		t.Fatalf("tombstoned image still found")
	}
}

func TestIterateIsStableSnapshot(t *testing.T) {
	var l imagelist.List
	l.Append(0x1000, 0, "/bin/a")
	l.Append(0x2000, 0, "/bin/b")

	snap := l.Iterate()
	if len(snap) != 2 {
		t.Fatalf("len(snap) = %d, want 2", len(snap))
	}

	// Mutating the list after taking a snapshot must not affect it.
	l.Append(0x3000, 0, "/bin/c")
	l.Remove(0x1000)

	if len(snap) != 2 {
		t.Fatalf("snapshot mutated: len = %d, want 2", len(snap))
	}

	live := l.Iterate()
	if len(live) != 2 {
		t.Fatalf("len(live) = %d, want 2 (b, c)", len(live))
	}
}

func TestEachStopsEarly(t *testing.T) {
	var l imagelist.List
	l.Append(0x1000, 0, "/bin/a")
	l.Append(0x2000, 0, "/bin/b")

	count := 0
	l.Each(func(img *imagelist.Image) bool {
		count++
		return false
	})
	if count != 1 {
		t.Fatalf("Each visited %d images, want 1 (stopped early)", count)
	}
}
