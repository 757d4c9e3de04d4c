// Package transport provides the reliable, ordered byte stream the sender
// engine drives: whole-buffer sends, exact-length receives, and idle timeouts
// that are re-armed whenever a partial read or write makes progress.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Transport moves opaque bytes between the sender and the receiver.
type Transport interface {
	// Send writes all of p or returns an error.
	Send(ctx context.Context, p []byte) error
	// ReceiveExact blocks until exactly n bytes have been read.
	ReceiveExact(ctx context.Context, n int) ([]byte, error)
	// Alive reports whether the transport can still be used.
	Alive() bool
	// Close releases the underlying connection.
	Close() error
}

var (
	// ErrClosed is the cause when the stream was closed locally or by the peer.
	ErrClosed = errors.New("transport closed")

	// ErrTimeout is the cause when no progress was made within the idle timeout.
	ErrTimeout = errors.New("transport timeout")
)

// Error reports a failed transport operation. It is distinct from any
// in-band protocol result.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransportError reports whether err came from a transport operation.
func IsTransportError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}
