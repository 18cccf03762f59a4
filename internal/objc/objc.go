// Package objc walks an image's Objective-C runtime metadata to resolve a
// return address to a class and method name, without ever invoking the
// Objective-C runtime itself (it may be the thing that crashed).
//
// Two metadata formats exist in the wild: the legacy "ObjC1" module_info
// layout (32-bit only, pre-modern-runtime) and the current "ObjC2"
// class-list layout. Parse tries ObjC1 first and falls back to ObjC2 on
// crashkind.ErrNotFound, matching PLCrashReporter's own probing order; a
// per-Session memo (objc2Hit) skips the ObjC1 probe on every call after the
// first one that resolved via ObjC2, since an image's format never changes
// between calls.
//
// Grounded on blacktop/go-macho's types/objc package for struct field
// layout and on calvinalkan-agent-task's slotcache.go for the fixed-
// capacity, single-probe cache discipline (see cache.go).
package objc

import (
	"fmt"

	"github.com/tripwire/crashcore/internal/crashkind"
	"github.com/tripwire/crashcore/internal/imagelist"
	"github.com/tripwire/crashcore/internal/macho"
)

// MethodCallback is invoked once per method discovered while walking an
// image's metadata. imp is the method's slid implementation address.
type MethodCallback func(isClassMethod bool, class, method string, imp uintptr)

// Session holds the state that should persist across repeated Parse calls
// against the same set of images during one crash report: the class-RO
// cache and the ObjC1-vs-ObjC2 memo. The zero value is ready to use.
type Session struct {
	cache    *Cache
	objc2Hit bool
}

// NewSession constructs a Session with a class-RO cache of the given
// capacity (see cache.go). A capacity of 0 selects a reasonable default.
func NewSession(cacheCapacity int) *Session {
	return &Session{cache: NewCache(cacheCapacity)}
}

// Parse walks img's Objective-C metadata, invoking cb for every method
// found. It returns crashkind.ErrNotFound if img carries neither ObjC1 nor
// ObjC2 metadata.
func (s *Session) Parse(img *imagelist.Image, cb MethodCallback) error {
	r, err := imageReader(img)
	if err != nil {
		return err
	}

	if !s.objc2Hit {
		err := parseObjC1(r, img.Slide, cb)
		if err == nil {
			return nil
		}
		if !crashkind.IsNotFound(err) {
			return err
		}
	}

	if err := s.parseObjC2(r, img.Slide, cb); err != nil {
		return err
	}
	s.objc2Hit = true
	return nil
}

// imageReader returns the cached *macho.Reader for img, building and
// caching one if this is the first request against it. Mirrors the same
// cache discipline the unwind package uses against imagelist.Image's
// Sections/SetSections hook.
func imageReader(img *imagelist.Image) (*macho.Reader, error) {
	if v, ok := img.Sections(); ok {
		if r, ok := v.(*macho.Reader); ok {
			return r, nil
		}
	}
	r, err := macho.NewReader(img.Base, img.Slide)
	if err != nil {
		return nil, fmt.Errorf("objc: build macho reader for %s: %w", img.Path, err)
	}
	img.SetSections(r)
	return r, nil
}
