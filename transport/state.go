// Package transport implements the client-side Transport Manager (§5):
// a reconnecting WebSocket connection to a relay, with exponential backoff
// and a liveness watchdog. It owns exactly one socket at a time and never
// interprets the bytes it carries — framing and protocol dispatch live in
// wire, yproto, authproto and awareness.
package transport

import "sync/atomic"

// State is the connection lifecycle state (§5 "Connection state machine").
// Modeled as an atomic.Int32-backed enum so State() can be read from any
// goroutine without locking, the same pattern the circuit breaker challenge
// uses for its breaker state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

type atomicState struct {
	v atomic.Int32
}

func (a *atomicState) Load() State {
	return State(a.v.Load())
}

func (a *atomicState) Store(s State) {
	a.v.Store(int32(s))
}

// swapIfDifferent stores s and reports whether the value actually changed.
func (a *atomicState) swapIfDifferent(s State) bool {
	old := a.v.Swap(int32(s))
	return State(old) != s
}
