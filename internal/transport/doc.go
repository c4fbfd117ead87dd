// Package transport holds the link bindings a session.Sender writes
// through.
//
// Ownership boundary:
// - memlink: in-process loopback, completes writes synchronously
// - streamlink: byte streams (TCP radio API, serial adapters); optional framing
// - httplink: gateway HTTP API, one POST per chunk
// - wslink: gateway websocket, one JSON message per chunk
//
// Every binding reports completions, disconnects, and capacity through
// session.LinkEvent values on its Events channel.
package transport

import "errors"

var (
	ErrClosed = errors.New("transport: link closed")
	ErrBusy   = errors.New("transport: write already queued")
)
