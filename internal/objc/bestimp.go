package objc

import (
	"fmt"

	"github.com/tripwire/crashcore/internal/crashkind"
	"github.com/tripwire/crashcore/internal/imagelist"
)

// Method identifies the best Objective-C method implementation found to
// cover a given return address.
type Method struct {
	IsClassMethod bool
	Class         string
	Selector      string
	Imp           uintptr
}

// FindMethod searches img's Objective-C metadata for the method whose
// implementation address is the closest one at or below targetIP — the
// same "nearest preceding symbol" rule the rest of this module's
// symbolication uses. It runs two passes over the metadata: the first
// records the best candidate's address without capturing its name, the
// second re-walks and keeps the first method whose implementation address
// equals that best address, so no per-candidate name needs to be held
// across the whole scan.
func (s *Session) FindMethod(img *imagelist.Image, targetIP uintptr) (Method, bool, error) {
	var bestImp uintptr
	found := false

	pass1 := func(isClassMethod bool, class, method string, imp uintptr) {
		if imp <= targetIP && (!found || imp > bestImp) {
			bestImp = imp
			found = true
		}
	}
	if err := s.Parse(img, pass1); err != nil {
		if crashkind.IsNotFound(err) {
			return Method{}, false, nil
		}
		return Method{}, false, fmt.Errorf("objc: FindMethod pass 1: %w", err)
	}
	if !found {
		return Method{}, false, nil
	}

	var result Method
	pass2 := func(isClassMethod bool, class, method string, imp uintptr) {
		if imp == bestImp && result.Imp == 0 {
			result = Method{IsClassMethod: isClassMethod, Class: class, Selector: method, Imp: imp}
		}
	}
	if err := s.Parse(img, pass2); err != nil {
		return Method{}, false, fmt.Errorf("objc: FindMethod pass 2: %w", err)
	}
	return result, result.Imp != 0, nil
}
