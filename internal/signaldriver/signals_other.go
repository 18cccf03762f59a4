//go:build !linux && !darwin

package signaldriver

import "os"

// monitoredSignals is empty on platforms with no comparable synchronous
// fault-signal set; Enable still succeeds, it just never starts the
// signal-servicing goroutine's Notify registration against anything.
var monitoredSignals = []os.Signal{}
