// Package transport abstracts the raw channel to the watch. The phone never
// talks BLE directly; a bridge adapter (MQTT in production, fakes in tests)
// implements this interface.
package transport

import (
	"context"
	"errors"
)

// ErrClosed the transport is not open
var ErrClosed = errors.New("transport closed")

// ErrSendFailed the link accepted the payload but delivery failed
var ErrSendFailed = errors.New("transport send failed")

// MessageHandler receives raw inbound payloads from the watch.
type MessageHandler func(payload []byte)

// Transport byte-level channel to the watch. Send has a distinct
// sent/failed outcome, never fire-and-forget. Implementations must be safe
// for concurrent use.
type Transport interface {
	// Open establishes the channel. The handler receives every inbound
	// payload until Close.
	Open(ctx context.Context, handler MessageHandler) error

	// Send delivers one payload; returns nil only when the link confirmed
	// the send.
	Send(ctx context.Context, payload []byte) error

	// Alive reports raw link liveness, used by connection health probes.
	Alive() bool

	// Close tears the channel down.
	Close() error
}
