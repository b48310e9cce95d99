// Package transport defines the boundary to the messaging provider that owns
// the physical connection for each tenant. The wire protocol, handshake and
// credential encoding live behind this interface.
package transport

import (
	"context"
	"errors"
	"strings"
)

// Provider opens per-tenant connections. Exactly one Provider is resolved at
// startup and shared by all tenants.
type Provider interface {
	// Open starts a new connection for tenantID. The returned Client begins
	// emitting lifecycle events on Events() immediately.
	Open(ctx context.Context, tenantID string) (Client, error)

	// PurgeCredentials deletes any stored pairing credentials for tenantID so
	// the next Open requires a fresh QR handshake.
	PurgeCredentials(ctx context.Context, tenantID string) error
}

// Client is one live connection. A Client is owned by exactly one session
// instance and must not be shared.
type Client interface {
	// Events returns the lifecycle event stream. It is closed when the
	// connection is closed.
	Events() <-chan Event

	// ProbeRegistered reports whether address exists on the network.
	ProbeRegistered(ctx context.Context, address string) (bool, error)

	// Send delivers one message.
	Send(ctx context.Context, address string, p Payload) error

	// State returns the provider's live view of the connection.
	State(ctx context.Context) (ConnState, error)

	// Logout unlinks the device on the provider side.
	Logout(ctx context.Context) error

	// Close releases the connection. Safe to call more than once.
	Close() error
}

// Payload is an outbound message body. When Image is set Text is sent as the
// caption.
type Payload struct {
	Text     string
	Image    []byte
	MimeType string
}

// ConnState is the provider-reported connection state.
type ConnState string

const (
	StateConnected    ConnState = "CONNECTED"
	StateConnecting   ConnState = "CONNECTING"
	StateDisconnected ConnState = "DISCONNECTED"
	StateUnknown      ConnState = "UNKNOWN"
)

// EventKind tags an Event.
type EventKind string

const (
	EventQRIssued     EventKind = "qr_issued"
	EventQRConsumed   EventKind = "qr_consumed"
	EventReady        EventKind = "ready"
	EventDisconnected EventKind = "disconnected"
	EventAuthFailed   EventKind = "auth_failed"
)

// Event is a lifecycle notification from the provider. Token is set on
// EventQRIssued; Reason and Code on EventDisconnected and EventAuthFailed.
type Event struct {
	Kind   EventKind
	Token  string
	Reason string
	Code   int
}

// Disconnect codes after which stored credentials are no longer usable.
const (
	CodeUnauthorized       = 401
	CodeConnectionReplaced = 428
	CodeBadSession         = 500
)

// BadSession reports whether a disconnect code invalidates stored credentials.
func BadSession(code int) bool {
	switch code {
	case CodeUnauthorized, CodeConnectionReplaced, CodeBadSession:
		return true
	}
	return false
}

var (
	// ErrNoTransport is returned when a send is attempted on a session whose
	// client has already been released.
	ErrNoTransport = errors.New("transport: no active connection")

	// ErrConnectionClosed is returned when the underlying connection dropped.
	ErrConnectionClosed = errors.New("transport: connection closed")
)

// IsFatal reports whether err means the connection is gone, so further sends
// on the same client cannot succeed.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoTransport) || errors.Is(err, ErrConnectionClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection closed") || strings.Contains(msg, "disconnected")
}
