// Package loader feeds the image list (internal/imagelist) from the
// running process's actual set of mapped images. On a real Mach-O/dyld
// platform this would be a pair of dyld registration callbacks; since this
// module targets Linux, loader_linux.go's ScanLoadedImages parses
// /proc/self/maps once at startup instead — the practical stand-in for
// dyld's image-add notification, grounded on the teacher's own raw
// /proc-adjacent parsing style (see internal/watcher/process_watcher_linux.go).
package loader

import "github.com/tripwire/crashcore/internal/imagelist"

// OnImageAdd records a newly-loaded image. On a Mach-O/dyld platform this
// is the function a dyld image-added callback would call directly;
// ScanLoadedImages calls it once per distinct file-backed mapping found.
func OnImageAdd(list *imagelist.List, base, slide uintptr, path string) *imagelist.Image {
	return list.Append(base, slide, path)
}

// OnImageRemove records an image's removal.
func OnImageRemove(list *imagelist.List, base uintptr) {
	list.Remove(base)
}
