// Package session tracks the per-tenant connection lifecycle: a Registry
// owns one Instance per tenant, and every Instance mutates its state through
// the single Transition function.
package session

import (
	"errors"
	"fmt"

	"github.com/zulandar/heraldo/internal/transport"
)

// State is a tenant's connection state.
type State string

const (
	Idle           State = "idle"
	Connecting     State = "connecting"
	AwaitingScan   State = "awaiting_scan"
	Authenticating State = "authenticating"
	Ready          State = "ready"
	Disconnected   State = "disconnected"
	AuthFailed     State = "auth_failed"
)

// Local commands share the event variant with provider events so all
// mutation flows through Transition.
const (
	EventConnect          transport.EventKind = "connect"
	EventManualDisconnect transport.EventKind = "manual_disconnect"
)

// ErrInvalidTransition is returned for an event that has no edge from the
// current state. Instances ignore such events.
var ErrInvalidTransition = errors.New("session: invalid transition")

// Active reports whether s holds (or is acquiring) a transport client.
func (s State) Active() bool {
	switch s {
	case Connecting, AwaitingScan, Authenticating, Ready:
		return true
	}
	return false
}

// Transition returns the state reached by applying kind in from.
//
// Ready is only reachable from Connecting or Authenticating, and those are
// only reachable through Connecting, so every path to Ready passes through
// Connecting.
func Transition(from State, kind transport.EventKind) (State, error) {
	switch kind {
	case EventConnect:
		switch from {
		case Idle, Disconnected, AuthFailed:
			return Connecting, nil
		}
	case transport.EventQRIssued:
		switch from {
		case Connecting, AwaitingScan:
			return AwaitingScan, nil
		}
	case transport.EventQRConsumed:
		if from == AwaitingScan {
			return Authenticating, nil
		}
	case transport.EventReady:
		switch from {
		case Connecting, Authenticating:
			return Ready, nil
		}
	case transport.EventDisconnected:
		if from != Idle {
			return Disconnected, nil
		}
	case transport.EventAuthFailed:
		if from != Idle {
			return AuthFailed, nil
		}
	case EventManualDisconnect:
		return Idle, nil
	}
	return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, kind, from)
}
