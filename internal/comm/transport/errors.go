package transport

import "errors"

// Domain errors for the transport package.
var (
	// ErrNotConnected is returned by Receive when no connection is open.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrConnectionFailed is returned when dialling or the handshake fails.
	ErrConnectionFailed = errors.New("transport: connection failed")

	// ErrBackoff is returned while waiting out the reconnect backoff.
	ErrBackoff = errors.New("transport: reconnect backoff in effect")

	// ErrProtocolDesync is returned when the byte stream cannot be framed.
	// The connection is dropped.
	ErrProtocolDesync = errors.New("transport: protocol desync")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport: session closed")
)
