// ABOUTME: Transport abstraction the session handler runs over, plus close codes
// ABOUTME: A live session wraps its transport in a registry.Handle bound to the identity

package session

import (
	"context"
	"errors"
)

// Close codes sent to clients.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	CloseInternalError   = 1011
	CloseSessionReplaced = 4001
	CloseAuthFailed      = 4401
)

var (
	// ErrPeerClosed is returned by Read when the client closed the connection normally.
	ErrPeerClosed = errors.New("peer closed connection")

	// ErrClosed is returned by Read and Send after the server closed the transport.
	ErrClosed = errors.New("transport closed")
)

// Transport is one duplex, message-framed client connection.
type Transport interface {
	// ID is unique per physical connection.
	ID() string
	// Read blocks until the next inbound frame arrives.
	Read() ([]byte, error)
	// Send queues a frame for writing, waiting at most until ctx is done.
	Send(ctx context.Context, frame []byte) error
	// Close terminates the connection. Safe to call more than once.
	Close(code int, reason string) error
}

// liveHandle binds an authenticated identity to its transport.
type liveHandle struct {
	identity  string
	transport Transport
}

func (h *liveHandle) Identity() string { return h.identity }
func (h *liveHandle) ID() string       { return h.transport.ID() }

func (h *liveHandle) Send(ctx context.Context, frame []byte) error {
	return h.transport.Send(ctx, frame)
}

func (h *liveHandle) Close(code int, reason string) error {
	return h.transport.Close(code, reason)
}
