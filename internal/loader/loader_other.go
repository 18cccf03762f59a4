//go:build !linux

package loader

import (
	"fmt"

	"github.com/tripwire/crashcore/internal/crashkind"
	"github.com/tripwire/crashcore/internal/imagelist"
)

// ScanLoadedImages is unsupported on this platform: it relies on
// /proc/self/maps, which only Linux exposes.
func ScanLoadedImages(list *imagelist.List) error {
	return fmt.Errorf("loader: ScanLoadedImages: %w", crashkind.ErrNotSupported)
}
