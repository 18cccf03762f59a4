// Command unwindharness drives internal/testharness's default frame-walk
// scenarios outside `go test`, printing a pass/fail line per scenario. It
// exists for manual debugging of the unwind reader chain on a target
// platform where running the full test suite isn't convenient.
package main

import (
	"fmt"
	"os"

	"github.com/tripwire/crashcore/internal/testharness"
)

// consoleT adapts stdout/stderr printing to testharness.TestingT: Errorf
// records a failure and keeps going (mirroring *testing.T's semantics),
// Fatalf additionally exits.
type consoleT struct {
	failed bool
}

func (c *consoleT) Helper() {}

func (c *consoleT) Errorf(format string, args ...any) {
	c.failed = true
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
}

func (c *consoleT) Fatalf(format string, args ...any) {
	c.Errorf(format, args...)
	os.Exit(1)
}

func main() {
	c := &consoleT{}
	scenarios := testharness.DefaultScenarios()
	testharness.Run(c, scenarios)

	if c.failed {
		fmt.Fprintln(os.Stderr, "unwindharness: one or more scenarios failed")
		os.Exit(1)
	}
	fmt.Printf("unwindharness: %d scenarios passed\n", len(scenarios))
}
