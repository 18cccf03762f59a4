//go:build linux || darwin

package signaldriver

import (
	"os"
	"syscall"
)

// monitoredSignals is the fixed set of synchronous fault signals this
// driver reports on, per spec.md §4.H: SIGSEGV, SIGBUS, SIGILL, SIGFPE,
// SIGABRT.
var monitoredSignals = []os.Signal{
	syscall.SIGSEGV,
	syscall.SIGBUS,
	syscall.SIGILL,
	syscall.SIGFPE,
	syscall.SIGABRT,
}
