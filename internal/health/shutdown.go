package health

import "sync/atomic"

var ready atomic.Bool

func init() {
	ready.Store(true)
}

// SetReady flips the global readiness gate. Entrypoints set it to false at
// the start of graceful shutdown so load balancers drain traffic before the
// listener closes.
func SetReady(value bool) {
	ready.Store(value)
}

// Ready reports the current readiness gate state.
func Ready() bool {
	return ready.Load()
}
