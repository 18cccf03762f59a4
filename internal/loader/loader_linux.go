//go:build linux

package loader

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tripwire/crashcore/internal/imagelist"
)

// ScanLoadedImages parses /proc/self/maps and appends one Image per
// distinct file-backed mapping to list, seeding it with every image
// already loaded at startup — the Linux stand-in for dyld's
// image-registration callback, since Linux has no Mach-O loader to call
// into. Anonymous mappings (heap, stack, anonymous mmaps) and pseudo-paths
// ("[vdso]", "[heap]", and the like) are skipped; they carry no Mach-O
// metadata for the rest of this module to parse.
//
// Each image's Base is the lowest mapped address seen for its path; Size
// spans from that address to the highest mapped address seen for the same
// path. Slide is always reported as 0: /proc/self/maps gives no ELF
// preferred-load-address to diff against, and this module's unwind/objc
// readers only ever need Base+Slide as one absolute load address, which
// Base alone already supplies here.
func ScanLoadedImages(list *imagelist.List) error {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return fmt.Errorf("loader: open /proc/self/maps: %w", err)
	}
	defer f.Close()

	type span struct {
		base, end uintptr
	}
	order := make([]string, 0, 64)
	spans := make(map[string]*span, 64)

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		path, start, end, ok := parseMapsLine(line)
		if !ok {
			continue
		}
		s, seen := spans[path]
		if !seen {
			order = append(order, path)
			spans[path] = &span{base: start, end: end}
			continue
		}
		if start < s.base {
			s.base = start
		}
		if end > s.end {
			s.end = end
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("loader: scan /proc/self/maps: %w", err)
	}

	for _, path := range order {
		s := spans[path]
		img := OnImageAdd(list, s.base, 0, path)
		img.SetSize(s.end - s.base)
	}
	return nil
}

// parseMapsLine extracts the path and address range from one
// /proc/self/maps line, and reports false for mappings that aren't a
// real, named, file-backed image.
func parseMapsLine(line string) (path string, start, end uintptr, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return "", 0, 0, false
	}
	path = fields[5]
	if path == "" || strings.HasPrefix(path, "[") {
		return "", 0, 0, false
	}

	addrRange := fields[0]
	dash := strings.IndexByte(addrRange, '-')
	if dash < 0 {
		return "", 0, 0, false
	}
	startVal, err := strconv.ParseUint(addrRange[:dash], 16, 64)
	if err != nil {
		return "", 0, 0, false
	}
	endVal, err := strconv.ParseUint(addrRange[dash+1:], 16, 64)
	if err != nil {
		return "", 0, 0, false
	}
	return path, uintptr(startVal), uintptr(endVal), true
}
