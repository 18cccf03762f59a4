package testharness_test

import (
	"testing"

	"github.com/tripwire/crashcore/internal/testharness"
)

func TestDefaultScenarios(t *testing.T) {
	testharness.Run(t, testharness.DefaultScenarios())
}
